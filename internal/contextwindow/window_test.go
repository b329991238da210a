package contextwindow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tokencount"
)

// wordTokenizer mirrors pkg/tokencount's own test fake: one token per
// whitespace-delimited word, keeping these tests independent of the
// network-backed tiktoken ranks files.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Fields(text))
}

func newTestManager() *Manager {
	return NewManagerWithCounter(tokencount.NewCounterWithTokenizer(wordTokenizer{}))
}

func TestEnsureFitsNoTruncationNeeded(t *testing.T) {
	m := newTestManager()
	messages := []*message.Message{
		message.NewUserMessage().WithText("hello there"),
	}

	fit, err := m.EnsureFits("", messages, nil, 1000, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 0, fit.Dropped)
	assert.Len(t, fit.Messages, 1)
}

func TestEnsureFitsTruncatesWhenOverBudget(t *testing.T) {
	m := newTestManager()
	messages := []*message.Message{
		message.NewUserMessage().WithText("one two three four five six seven eight nine ten"),
		message.NewUserMessage().WithText("eleven twelve"),
	}

	fit, err := m.EnsureFits("", messages, nil, 20, 1.0)
	require.NoError(t, err)
	assert.Greater(t, fit.Dropped, 0)
	assert.NotEmpty(t, fit.Messages)
}

func TestEnsureFitsFixedCostOverflow(t *testing.T) {
	m := newTestManager()
	_, err := m.EnsureFits(strings.Repeat("word ", 500), nil, nil, 10, 1.0)
	require.Error(t, err)
	cwErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ContextLimit, cwErr.Kind)
}

func TestDecayEstimateFactor(t *testing.T) {
	f := 1.0
	f = DecayEstimateFactor(f)
	assert.InDelta(t, 0.9, f, 1e-9)
	f = DecayEstimateFactor(f)
	assert.InDelta(t, 0.81, f, 1e-9)
	f = DecayEstimateFactor(f)
	assert.InDelta(t, 0.729, f, 1e-9)
}
