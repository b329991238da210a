package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageBuilders(t *testing.T) {
	t.Run("user text message", func(t *testing.T) {
		m := NewUserMessage().WithText("hello")
		require.Equal(t, RoleUser, m.Role)
		assert.Equal(t, "hello", m.ConcatText())
		assert.True(t, m.HasOnlyText())
	})

	t.Run("tool request and response round trip", func(t *testing.T) {
		req := NewAssistantMessage().WithToolRequest("call-1", OK(ToolCall{Name: "get_weather"}))
		assert.True(t, req.HasToolRequest())
		assert.Equal(t, []string{"call-1"}, req.ToolRequestIDs())

		resp := NewUserMessage().WithToolResponse("call-1", ToolOK(Text{Text: "50F"}))
		assert.True(t, resp.HasToolResponse())
		assert.Equal(t, []string{"call-1"}, resp.ToolResponseIDs())
		assert.False(t, resp.HasOnlyText())
	})
}

func TestEndsValid(t *testing.T) {
	t.Run("empty history is invalid", func(t *testing.T) {
		assert.False(t, EndsValid(nil))
	})

	t.Run("pure user text ends valid", func(t *testing.T) {
		history := []*Message{NewUserMessage().WithText("hi")}
		assert.True(t, EndsValid(history))
	})

	t.Run("assistant-last ends invalid", func(t *testing.T) {
		history := []*Message{NewAssistantMessage().WithText("hi")}
		assert.False(t, EndsValid(history))
	})

	t.Run("complete tool response pair ends valid", func(t *testing.T) {
		history := []*Message{
			NewUserMessage().WithText("what's the weather?"),
			NewAssistantMessage().WithToolRequest("a", OK(ToolCall{Name: "get_weather"})),
			NewUserMessage().WithToolResponse("a", ToolOK(Text{Text: "50F"})),
		}
		assert.True(t, EndsValid(history))
	})

	t.Run("orphaned tool response ends invalid", func(t *testing.T) {
		history := []*Message{
			NewUserMessage().WithToolResponse("missing", ToolOK(Text{Text: "50F"})),
		}
		assert.False(t, EndsValid(history))
	})
}

func TestNoOrphanResponses(t *testing.T) {
	t.Run("matched pair has no orphans", func(t *testing.T) {
		history := []*Message{
			NewAssistantMessage().WithToolRequest("a", OK(ToolCall{Name: "x"})),
			NewUserMessage().WithToolResponse("a", ToolOK(Text{Text: "done"})),
		}
		assert.True(t, NoOrphanResponses(history))
	})

	t.Run("response before request is an orphan", func(t *testing.T) {
		history := []*Message{
			NewUserMessage().WithToolResponse("a", ToolOK(Text{Text: "done"})),
			NewAssistantMessage().WithToolRequest("a", OK(ToolCall{Name: "x"})),
		}
		assert.False(t, NoOrphanResponses(history))
	})
}
