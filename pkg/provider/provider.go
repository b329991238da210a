// Package provider defines the normalized completion contract the agent
// reply loop drives, plus the failure taxonomy every adapter must surface
// through. Concrete adapters (anthropic, openai) live in their own
// subpackages and translate to/from native wire formats.
package provider

import (
	"context"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// Usage carries best-effort token accounting for a single completion call.
// Any field may be nil when the provider's response did not include it.
type Usage struct {
	ModelString  string `json:"model_string"`
	InputTokens  *int   `json:"input_tokens,omitempty"`
	OutputTokens *int   `json:"output_tokens,omitempty"`
	TotalTokens  *int   `json:"total_tokens,omitempty"`
}

// Add accumulates another Usage's counters into a running total, treating a
// nil field on either side as zero and leaving the result nil only when
// both sides are nil.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		ModelString:  u.ModelString,
		InputTokens:  addOptional(u.InputTokens, other.InputTokens),
		OutputTokens: addOptional(u.OutputTokens, other.OutputTokens),
		TotalTokens:  addOptional(u.TotalTokens, other.TotalTokens),
	}
}

func addOptional(a, b *int) *int {
	if a == nil && b == nil {
		return nil
	}
	sum := 0
	if a != nil {
		sum += *a
	}
	if b != nil {
		sum += *b
	}
	return &sum
}

// CompletionRequest is the normalized input to Provider.Complete. Messages
// must be non-empty and end in a user-role message, per the contract in
// §4.1 of the runtime specification.
type CompletionRequest struct {
	SystemPrompt string
	Messages     []*message.Message
	Tools        []tool.Tool
	Config       ModelConfig
}

// Provider presents a single asynchronous completion operation, hiding wire
// protocol, authentication, and per-vendor semantic differences from the
// agent loop.
type Provider interface {
	// Complete sends system_prompt/messages/tools to the backend and
	// returns the resulting assistant message plus best-effort usage. Any
	// failure is returned as a *Error so the caller can branch on Kind.
	Complete(ctx context.Context, req CompletionRequest) (*message.Message, Usage, error)

	// Name identifies the provider for error attribution and factory lookup.
	Name() string

	// SupportsTools reports whether this provider can accept a non-empty
	// Tools list; providers without tool support ignore req.Tools entirely
	// when this is false.
	SupportsTools() bool
}
