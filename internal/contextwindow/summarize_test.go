package contextwindow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
)

// fakeSummarizerProvider returns a canned condensation response,
// recording how many times it was called so tests can assert on chunking
// behavior.
type fakeSummarizerProvider struct {
	calls int
}

func (f *fakeSummarizerProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	f.calls++
	return message.NewAssistantMessage().WithText("condensed"), provider.Usage{}, nil
}

func (f *fakeSummarizerProvider) Name() string       { return "fake" }
func (f *fakeSummarizerProvider) SupportsTools() bool { return false }

func TestSummarizeEmptyHistory(t *testing.T) {
	p := &fakeSummarizerProvider{}
	s := NewSummarizer(p, newTestManager())

	summary, trailing, err := s.Summarize(context.Background(), "", nil, 1000)
	require.NoError(t, err)
	assert.Equal(t, "No prior history.", summary)
	assert.Empty(t, trailing)
	assert.Equal(t, 0, p.calls)
}

func TestSummarizeCondensesBody(t *testing.T) {
	p := &fakeSummarizerProvider{}
	s := NewSummarizer(p, newTestManager())

	messages := []*message.Message{
		message.NewUserMessage().WithText("first turn"),
		message.NewAssistantMessage().WithText("second turn"),
	}

	summary, trailing, err := s.Summarize(context.Background(), "", messages, 1000)
	require.NoError(t, err)
	assert.Equal(t, "condensed", summary)
	assert.Empty(t, trailing)
	assert.Equal(t, 1, p.calls)
}

func TestSummarizeReintegratesTrailingPair(t *testing.T) {
	p := &fakeSummarizerProvider{}
	s := NewSummarizer(p, newTestManager())

	messages := []*message.Message{
		message.NewUserMessage().WithText("earlier turn"),
		requestMsg("A"),
		responseMsg("A"),
	}

	_, trailing, err := s.Summarize(context.Background(), "", messages, 1000)
	require.NoError(t, err)
	require.Len(t, trailing, 2)
	assert.True(t, trailing[0].HasToolRequest())
	assert.True(t, trailing[1].HasToolResponse())
}

func TestSplitTrailingPairLeavesPlainHistoryUntouched(t *testing.T) {
	messages := []*message.Message{
		message.NewUserMessage().WithText("a"),
		message.NewAssistantMessage().WithText("b"),
	}
	body, trailing := splitTrailingPair(messages)
	assert.Len(t, body, 2)
	assert.Empty(t, trailing)
}
