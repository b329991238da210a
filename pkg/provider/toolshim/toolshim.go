// Package toolshim lets a model with no native tool-calling support still
// participate in the agent loop: the adapter strips tools from the outgoing
// request, documents them in the system prompt instead, then hands the
// model's free-text reply to a second "interpreter" model call that emits
// structured tool calls, which are reattached to the original message.
package toolshim

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// interpreterSchema is the JSON Schema the interpreter model's structured
// output must conform to: a single "tool_calls" array of {name, arguments}.
const interpreterSchema = `{
	"type": "object",
	"properties": {
		"tool_calls": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"arguments": {"type": "object"}
				},
				"required": ["name", "arguments"]
			}
		}
	},
	"required": ["tool_calls"]
}`

const interpreterSystemPrompt = `Rewrite JSON-formatted tool requests into valid JSON tool calls in the following format.

Always respond with the following tool_calls array format:
{"tool_calls": [{"name": "tool_name", "arguments": {"param1": "value1"}}]}

Return an empty tool_calls array if no tools are explicitly referenced:
{"tool_calls": []}`

// Shim wraps a Provider so a model with no native tool-calling support can
// still take part in the agent loop. Per spec §4.1, whenever a request
// carries tools it strips them from the outgoing request and documents them
// in the system prompt instead, completes against Inner, then hands the
// free-text reply to Interpreter to extract structured ToolRequest content,
// reattaching it to the returned message. A tool-less request passes
// through untouched.
type Shim struct {
	Inner       provider.Provider
	Interpreter Interpreter
}

// Wrap returns a Provider performing the toolshim transformation around
// inner, using interpreter to recover structured tool calls from inner's
// free-text replies.
func Wrap(inner provider.Provider, interpreter Interpreter) provider.Provider {
	return &Shim{Inner: inner, Interpreter: interpreter}
}

// Name implements provider.Provider.
func (s *Shim) Name() string { return s.Inner.Name() }

// SupportsTools implements provider.Provider. It reports true even when
// Inner cannot natively accept tools: the shim is what makes tool use
// possible for such a model.
func (s *Shim) SupportsTools() bool { return true }

// Complete implements provider.Provider.
func (s *Shim) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	if len(req.Tools) == 0 {
		return s.Inner.Complete(ctx, req)
	}

	shimmed := req
	shimmed.SystemPrompt = ModifySystemPromptForToolJSON(req.SystemPrompt, req.Tools)
	shimmed.Tools = nil

	msg, usage, err := s.Inner.Complete(ctx, shimmed)
	if err != nil {
		return nil, usage, err
	}

	msg, err = AugmentMessageWithToolCalls(ctx, s.Interpreter, msg, req.Tools)
	if err != nil {
		return nil, usage, fmt.Errorf("toolshim: %w", err)
	}
	return msg, usage, nil
}

// Interpreter extracts structured tool calls from free-text model output.
// The only implementation in this module is ProviderInterpreter, but the
// seam exists so a caller can plug in something other than a second model
// call (e.g. a regex-based extractor for a narrowly scoped model).
type Interpreter interface {
	InterpretToolCalls(ctx context.Context, content string, tools []tool.Tool) ([]tool.Call, error)
}

// ProviderInterpreter interprets tool calls by issuing a second Complete
// call against a Provider (typically a small/cheap model named by
// ModelConfig.ToolshimModel) with a structured-output system prompt.
type ProviderInterpreter struct {
	Provider provider.Provider
	Model    provider.ModelConfig
}

// InterpretToolCalls implements Interpreter.
func (p *ProviderInterpreter) InterpretToolCalls(ctx context.Context, content string, tools []tool.Tool) ([]tool.Call, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	prompt := content + "\n\nWrite valid json if there is detectable json or an attempt at json describing a tool_calls array."
	req := provider.CompletionRequest{
		SystemPrompt: interpreterSystemPrompt + "\n\nRespond only with JSON matching this schema:\n" + interpreterSchema,
		Messages:     []*message.Message{message.NewUserMessage().WithText(prompt)},
		Config:       p.Model,
	}

	resp, _, err := p.Provider.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("toolshim: interpreter call failed: %w", err)
	}

	return parseInterpreterResponse(resp.ConcatText())
}

func parseInterpreterResponse(text string) ([]tool.Call, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var decoded struct {
		ToolCalls []struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		} `json:"tool_calls"`
	}
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		// The interpreter model did not produce valid JSON; treat as "no
		// tool calls detected" rather than a fatal error, matching the
		// original's best-effort extraction behavior.
		return nil, nil
	}

	calls := make([]tool.Call, 0, len(decoded.ToolCalls))
	for _, tc := range decoded.ToolCalls {
		if tc.Name == "" {
			continue
		}
		calls = append(calls, tool.Call{ID: uuid.NewString(), Name: tc.Name, Arguments: tc.Arguments})
	}
	return calls, nil
}

// FormatToolInfo renders a human-readable description of each tool's name,
// schema, and description, suitable for embedding in a system prompt.
func FormatToolInfo(tools []tool.Tool) string {
	var b strings.Builder
	for _, t := range tools {
		schema, err := json.MarshalIndent(jsonRawOrEmptyObject(t.InputSchema), "", "  ")
		if err != nil {
			schema = []byte("{}")
		}
		fmt.Fprintf(&b, "Tool Name: %s\nSchema: %s\nDescription: %s\n\n", t.Name, schema, t.Description)
	}
	return b.String()
}

func jsonRawOrEmptyObject(raw json.RawMessage) any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{}
	}
	return v
}

// ModifySystemPromptForToolJSON appends tool documentation and JSON-call
// instructions to systemPrompt, for use when the outgoing request to the
// model itself omits a native tools field.
func ModifySystemPromptForToolJSON(systemPrompt string, tools []tool.Tool) string {
	return fmt.Sprintf(
		"%s\n\n%s\n\nBreak down your task into smaller steps and do one step and tool call at a time. "+
			"Do not try to use multiple tools at once. If you want to use a tool, tell the user what tool to use "+
			`by specifying the tool in this JSON format`+"\n"+
			`{"name": "tool_name", "arguments": {"parameter1": "value1"}}`+"\n"+
			"After you get the tool result back, consider the result and then proceed to the next step.",
		systemPrompt, FormatToolInfo(tools),
	)
}

// AugmentMessageWithToolCalls inspects msg's text content and, if present
// and not already carrying a ToolRequest, asks interpreter to extract tool
// calls from it and appends them as ToolRequest content items. A message
// with no text, or that already carries a ToolRequest, is returned
// unchanged.
func AugmentMessageWithToolCalls(ctx context.Context, interpreter Interpreter, msg *message.Message, tools []tool.Tool) (*message.Message, error) {
	if len(tools) == 0 || msg.HasToolRequest() {
		return msg, nil
	}

	text := msg.ConcatText()
	if text == "" {
		return msg, nil
	}

	calls, err := interpreter.InterpretToolCalls(ctx, text, tools)
	if err != nil {
		return nil, err
	}
	if len(calls) == 0 {
		return msg, nil
	}

	for _, call := range calls {
		msg.WithToolRequest(call.ID, message.OK(message.ToolCall{Name: call.Name, Arguments: call.Arguments}))
	}
	return msg, nil
}
