// Package contextwindow keeps a provider request within a model's context
// budget: token accounting, oldest-first truncation preserving the
// tool-request/tool-response pairing invariant, and optional LLM-driven
// chunked summarization, per §4.4 of the runtime specification.
package contextwindow

import (
	"fmt"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tokencount"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// initialEstimateFactor is the fraction of a model's context_limit the
// manager targets on the first attempt at fitting a request.
const initialEstimateFactor = 1.0

// estimateFactorDecay is applied to the estimate factor on each
// ContextLengthExceeded retry: 0.9, 0.81, 0.729, ...
const estimateFactorDecay = 0.9

// maxFitAttempts bounds how many times the reply loop decays the estimate
// factor and retries after a ContextLengthExceeded failure before giving
// up. EnsureFits itself makes a single truncation pass per call.
const maxFitAttempts = 3

// Manager owns a token Counter and applies it to decide whether a request
// fits within a model's context_limit, truncating when it doesn't.
type Manager struct {
	counter *tokencount.Counter
}

// NewManager builds a Manager backed by a tiktoken-resolved Counter for model.
func NewManager(model string) (*Manager, error) {
	counter, err := tokencount.NewCounter(model)
	if err != nil {
		return nil, fmt.Errorf("contextwindow: %w", err)
	}
	return &Manager{counter: counter}, nil
}

// NewManagerWithCounter builds a Manager around a caller-supplied Counter,
// e.g. one built with an in-memory tokenizer table.
func NewManagerWithCounter(counter *tokencount.Counter) *Manager {
	return &Manager{counter: counter}
}

// Counter returns the underlying token counter, for callers (like the
// summarizer) that need to size chunks independently of EnsureFits.
func (m *Manager) Counter() *tokencount.Counter {
	return m.counter
}

// Fit is the result of a successful EnsureFits call: the (possibly
// truncated) message list and the number of messages dropped.
type Fit struct {
	Messages []*message.Message
	Dropped  int
}

// EnsureFits keeps tokens(systemPrompt) + tokens(tools) + sum(tokens(messages))
// at or under estimateFactor*contextLimit, truncating oldest-first when it
// doesn't. estimateFactor starts at 1.0 on the first call of a provider
// round; the caller decays it by estimateFactorDecay on each
// ContextLengthExceeded retry, per §4.3 step 2 of the runtime
// specification.
func (m *Manager) EnsureFits(systemPrompt string, messages []*message.Message, tools []tool.Tool, contextLimit int, estimateFactor float64) (Fit, error) {
	if estimateFactor <= 0 {
		estimateFactor = initialEstimateFactor
	}
	budget := int(float64(contextLimit) * estimateFactor)

	fixedCost := m.counter.CountTokens(systemPrompt) + m.counter.CountToolTokens(tools)
	if systemPrompt != "" {
		fixedCost += 4 // tokensPerMessage overhead for the system prompt, mirrored from CountChatTokens
	}
	fixedCost += 3 // assistant priming

	messageBudget := budget - fixedCost
	if messageBudget < 0 {
		return Fit{}, &Error{Kind: ContextLimit, Cause: fmt.Errorf("system prompt and tools alone exceed budget (%d > %d)", fixedCost, budget)}
	}

	counts := make([]int, len(messages))
	total := 0
	for i, msg := range messages {
		counts[i] = m.counter.CountMessageTokens(msg)
		total += counts[i]
	}

	if total <= messageBudget {
		return Fit{Messages: messages}, nil
	}

	truncated, counts, err := OldestFirst(messages, counts, messageBudget)
	if err != nil {
		return Fit{}, err
	}
	return Fit{Messages: truncated, Dropped: len(messages) - len(truncated)}, nil
}

// DecayEstimateFactor applies the decay schedule to factor, for the agent
// loop's ContextLengthExceeded retry path.
func DecayEstimateFactor(factor float64) float64 {
	if factor <= 0 {
		factor = initialEstimateFactor
	}
	return factor * estimateFactorDecay
}

// MaxFitAttempts is the number of ContextLengthExceeded retries the reply
// loop should attempt before giving up and surfacing a terminal error.
const MaxFitAttempts = maxFitAttempts
