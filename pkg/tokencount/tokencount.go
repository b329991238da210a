// Package tokencount counts tokens for text, tool schemas, and full chat
// histories, matching the accounting the context manager relies on to decide
// whether a request fits a model's context window.
package tokencount

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// Tokenizer turns text into a token count. It is the seam that lets a caller
// inject an in-memory tokenizer instead of the tiktoken-backed default, so
// the core keeps working with nothing more than an encoding table in memory.
type Tokenizer interface {
	Encode(text string) int
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenTokenizer) Encode(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

var (
	encodingCache sync.Map // encoding name -> *tiktoken.Tiktoken
)

// fallbackEncodingFor maps a model name prefix to a tiktoken encoding name.
// Models not recognized fall back to cl100k_base, the same default the rest
// of the corpus uses when a model-specific encoding can't be resolved.
func fallbackEncodingFor(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}

// NewTokenizer returns a tiktoken-backed Tokenizer for the given model or
// encoding name. It first tries to resolve model as an OpenAI model name; if
// that fails (as it always will for a Claude or Gemini model name) it falls
// back to a prefix-matched encoding, and finally to cl100k_base.
func NewTokenizer(model string) (Tokenizer, error) {
	if cached, ok := encodingCache.Load(model); ok {
		return tiktokenTokenizer{enc: cached.(*tiktoken.Tiktoken)}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(fallbackEncodingFor(model))
		if err != nil {
			return nil, fmt.Errorf("tokencount: resolve encoding for %q: %w", model, err)
		}
	}

	encodingCache.Store(model, enc)
	return tiktokenTokenizer{enc: enc}, nil
}

// Counter counts tokens for text, tool schemas, and chat histories against a
// single Tokenizer.
type Counter struct {
	tok Tokenizer
}

// NewCounter builds a Counter backed by a tiktoken encoding resolved from
// model.
func NewCounter(model string) (*Counter, error) {
	tok, err := NewTokenizer(model)
	if err != nil {
		return nil, err
	}
	return &Counter{tok: tok}, nil
}

// NewCounterWithTokenizer builds a Counter around a caller-supplied
// Tokenizer, letting a caller with no network access to tiktoken's ranks
// files still get correct chat-token accounting from an in-memory table.
func NewCounterWithTokenizer(tok Tokenizer) *Counter {
	return &Counter{tok: tok}
}

// CountTokens returns the token length of text under the counter's encoding.
func (c *Counter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return c.tok.Encode(text)
}

// Token cost constants for a tool's JSON-schema encoding, carried over
// verbatim from the function-calling token-cost table the OpenAI cookbook
// publishes and the original token counter implements.
const (
	toolFuncInit = 7
	toolPropInit = 3
	toolPropKey  = 3
	toolEnumInit = -3
	toolEnumItem = 3
	toolFuncEnd  = 12
)

// CountToolTokens returns the token cost of describing tools to a model,
// following the per-tool overhead, per-property overhead, and per-enum-item
// overhead scheme the original token counter used. Returns 0 for an empty
// tool list — no function-calling preamble is added when no tools are
// offered.
func (c *Counter) CountToolTokens(tools []tool.Tool) int {
	if len(tools) == 0 {
		return 0
	}

	count := 0
	for _, t := range tools {
		count += toolFuncInit
		desc := strings.TrimRight(t.Description, ".")
		count += c.CountTokens(t.Name + ":" + desc)

		props, ok := schemaProperties(t.InputSchema)
		if !ok || len(props) == 0 {
			continue
		}

		count += toolPropInit
		for name, def := range props {
			count += toolPropKey
			pType, _ := def["type"].(string)
			pDesc, _ := def["description"].(string)
			pDesc = strings.TrimRight(pDesc, ".")
			count += c.CountTokens(name + ":" + pType + ":" + pDesc)

			enumValues, ok := def["enum"].([]any)
			if !ok || len(enumValues) == 0 {
				continue
			}
			count += toolEnumInit
			for _, v := range enumValues {
				s, ok := v.(string)
				if !ok {
					continue
				}
				count += toolEnumItem
				count += c.CountTokens(s)
			}
		}
	}
	count += toolFuncEnd
	return count
}

func schemaProperties(raw json.RawMessage) (map[string]map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var schema struct {
		Properties map[string]map[string]any `json:"properties"`
	}
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, false
	}
	return schema.Properties, schema.Properties != nil
}

// tokensPerMessage is the fixed overhead attributed to every message in a
// chat, independent of its content, matching spec §4.4's per-message
// accounting.
const tokensPerMessage = 4

// assistantPriming is the fixed cost of the reply preamble every provider
// implicitly reserves for its own response framing.
const assistantPriming = 3

// CountChatTokens sums the system prompt, every message's content, the tool
// schema cost, and a fixed assistant-priming cost, matching spec §4.4:
// per-message overhead (4 tokens/message) + content tokens + tool schema
// tokens + a fixed 3-token assistant-priming cost.
func (c *Counter) CountChatTokens(systemPrompt string, messages []*message.Message, tools []tool.Tool) int {
	count := 0

	if systemPrompt != "" {
		count += c.CountTokens(systemPrompt) + tokensPerMessage
	}

	for _, m := range messages {
		count += tokensPerMessage
		for _, content := range m.Content {
			count += c.countContentTokens(content)
		}
	}

	count += c.CountToolTokens(tools)
	count += assistantPriming

	return count
}

// CountMessageTokens returns a single message's token cost under the same
// accounting CountChatTokens applies in its per-message loop: the fixed
// per-message overhead plus every content block's token cost. The context
// window manager uses this to price one message at a time while deciding
// what to truncate.
func (c *Counter) CountMessageTokens(m *message.Message) int {
	if m == nil {
		return 0
	}
	count := tokensPerMessage
	for _, content := range m.Content {
		count += c.countContentTokens(content)
	}
	return count
}

func (c *Counter) countContentTokens(content message.Content) int {
	switch v := content.(type) {
	case message.Text:
		return c.CountTokens(v.Text)
	case message.ToolRequest:
		if v.Result.Call == nil {
			return c.CountTokens(v.ID)
		}
		text := fmt.Sprintf("%s:%s:%s", v.ID, v.Result.Call.Name, string(v.Result.Call.Arguments))
		return c.CountTokens(text)
	case message.ToolResponse:
		text := toolResponseText(v)
		if text == "" {
			return 0
		}
		return c.CountTokens(text)
	default:
		// Images and other non-text content carry no provider-billed text
		// token cost under this accounting scheme.
		return 0
	}
}

func toolResponseText(resp message.ToolResponse) string {
	if resp.Result.Err != nil {
		return ""
	}
	var texts []string
	for _, c := range resp.Result.Content {
		if t, ok := c.(message.Text); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// CountEverything adds resource text (e.g. extension-provided resource
// bodies injected into the system prompt) on top of CountChatTokens, for
// callers that fold resources into the context budget separately from the
// system prompt string.
func (c *Counter) CountEverything(systemPrompt string, messages []*message.Message, tools []tool.Tool, resources []string) int {
	count := c.CountChatTokens(systemPrompt, messages, tools)
	for _, r := range resources {
		count += c.CountTokens(r)
	}
	return count
}
