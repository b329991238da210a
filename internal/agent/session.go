package agent

import (
	"sync"

	"github.com/riverrun-ai/agentrt/pkg/provider"
)

// SessionMetadata accumulates token usage and message counts across a
// Core's lifetime, updated after every provider call per §4.3 step 4 of
// the runtime specification ("If a session callback is installed, update
// session metadata"). Embedding it in Config is how a caller opts in;
// leaving it nil skips the accounting entirely.
type SessionMetadata struct {
	mu           sync.Mutex
	messageCount int
	totalTokens  int
	inputTokens  int
	outputTokens int
	lastUsage    provider.Usage
}

// NewSessionMetadata returns a zeroed accumulator ready to pass to Config.
func NewSessionMetadata() *SessionMetadata {
	return &SessionMetadata{}
}

// Record folds one completion call's usage into the running totals.
// A TotalTokens-less Usage is reconstructed from input+output when both are
// present, matching the best-effort contract in §4.1.
func (s *SessionMetadata) Record(u provider.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messageCount++
	s.lastUsage = u

	if u.InputTokens != nil {
		s.inputTokens += *u.InputTokens
	}
	if u.OutputTokens != nil {
		s.outputTokens += *u.OutputTokens
	}
	switch {
	case u.TotalTokens != nil:
		s.totalTokens += *u.TotalTokens
	case u.InputTokens != nil && u.OutputTokens != nil:
		s.totalTokens += *u.InputTokens + *u.OutputTokens
	}
}

// UsageSnapshot is a point-in-time, mutex-free copy of SessionMetadata.
type UsageSnapshot struct {
	MessageCount int
	TotalTokens  int
	InputTokens  int
	OutputTokens int
	LastUsage    provider.Usage
}

// Snapshot returns the current totals.
func (s *SessionMetadata) Snapshot() UsageSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UsageSnapshot{
		MessageCount: s.messageCount,
		TotalTokens:  s.totalTokens,
		InputTokens:  s.inputTokens,
		OutputTokens: s.outputTokens,
		LastUsage:    s.lastUsage,
	}
}
