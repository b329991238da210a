package tokencount

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// wordTokenizer is a deterministic in-memory Tokenizer used in tests in
// place of the network-backed tiktoken ranks files: one token per
// whitespace-delimited word, which is all these tests need to exercise the
// accounting logic itself.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func newTestCounter() *Counter {
	return NewCounterWithTokenizer(wordTokenizer{})
}

func TestCountTokens(t *testing.T) {
	c := newTestCounter()
	assert.Equal(t, 0, c.CountTokens(""))
	assert.Equal(t, 4, c.CountTokens("the quick brown fox"))
}

func TestCountToolTokensEmpty(t *testing.T) {
	c := newTestCounter()
	assert.Equal(t, 0, c.CountToolTokens(nil))
}

func TestCountToolTokensWithSchema(t *testing.T) {
	c := newTestCounter()

	weather := tool.Tool{
		Name:        "get_current_weather",
		Description: "Get the current weather in a given location.",
		InputSchema: json.RawMessage(`{
			"properties": {
				"location": {"type": "string", "description": "The city and state"},
				"unit": {"type": "string", "description": "The unit", "enum": ["celsius", "fahrenheit"]}
			},
			"required": ["location"]
		}`),
	}

	count := c.CountToolTokens([]tool.Tool{weather})
	require.Greater(t, count, toolFuncInit+toolFuncEnd)
}

func TestCountChatTokensIncludesOverheadAndPriming(t *testing.T) {
	c := newTestCounter()

	messages := []*message.Message{
		message.NewUserMessage().WithText("what is the weather"),
		message.NewAssistantMessage().WithText("sixty degrees"),
	}

	withoutSystem := c.CountChatTokens("", messages, nil)
	withSystem := c.CountChatTokens("you are a helpful assistant", messages, nil)

	assert.Greater(t, withSystem, withoutSystem)

	// Overhead: 2 messages * 4 + priming 3, plus content word counts (4 + 2).
	assert.Equal(t, 2*tokensPerMessage+4+2+assistantPriming, withoutSystem)
}

func TestCountChatTokensWithToolRequestAndResponse(t *testing.T) {
	c := newTestCounter()

	messages := []*message.Message{
		message.NewUserMessage().WithText("what is the weather in SF"),
		message.NewAssistantMessage().WithToolRequest("call-1", message.OK(message.ToolCall{
			Name:      "get_weather",
			Arguments: json.RawMessage(`{"location":"SF"}`),
		})),
		message.NewUserMessage().WithToolResponse("call-1", message.ToolOK(message.Text{Text: "60 degrees"})),
	}

	count := c.CountChatTokens("", messages, nil)
	assert.Greater(t, count, 3*tokensPerMessage+assistantPriming)
}

func TestCountChatTokensSkipsErroredToolResponse(t *testing.T) {
	c := newTestCounter()

	errored := message.NewUserMessage().WithToolResponse("call-1", message.ToolErr("boom"))
	ok := message.NewUserMessage().WithToolResponse("call-1", message.ToolOK(message.Text{Text: "boom detail here"}))

	erroredCount := c.CountChatTokens("", []*message.Message{errored}, nil)
	okCount := c.CountChatTokens("", []*message.Message{ok}, nil)

	assert.Less(t, erroredCount, okCount)
}

func TestCountEverythingAddsResourceText(t *testing.T) {
	c := newTestCounter()

	base := c.CountChatTokens("", nil, nil)
	withResources := c.CountEverything("", nil, nil, []string{"readme contents go here"})

	assert.Equal(t, base+4, withResources)
}

func TestNewTokenizerFallsBackToCl100kBase(t *testing.T) {
	tok, err := NewTokenizer("claude-3-5-sonnet")
	require.NoError(t, err)
	require.NotNil(t, tok)
}
