package agent

import (
	"fmt"

	"github.com/riverrun-ai/agentrt/pkg/provider"
)

// Kind is the exhaustive taxonomy of ways the reply loop can fail, per §4.3
// and §8 of the runtime specification. It extends provider.FailureKind with
// the failure modes that only exist at the agent layer: extensions that
// never came up, tool names nobody recognizes, transport loss talking to an
// extension, an unrecoverable context overflow, and caller cancellation.
type Kind string

const (
	KindAuthentication          Kind = "authentication"
	KindRateLimitExceeded       Kind = "rate_limit_exceeded"
	KindServerError             Kind = "server_error"
	KindRequestFailed           Kind = "request_failed"
	KindUsageError              Kind = "usage_error"
	KindExecutionError          Kind = "execution_error"
	KindExtensionInitialization Kind = "extension_initialization"
	KindToolNotFound            Kind = "tool_not_found"
	KindTransport               Kind = "transport"
	KindContextLimit            Kind = "context_limit"
	KindInterrupted             Kind = "interrupted"
)

// Error is a structured agent-layer failure; Cause, when present, is the
// underlying provider, extension, or context-window error.
type Error struct {
	Kind  Kind
	Tool  string
	Cause error
}

func (e *Error) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("agent: [%s] %s: %v", e.Kind, e.Tool, e.Cause)
	}
	return fmt.Sprintf("agent: [%s] %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// fromProviderKind maps a provider.FailureKind onto the agent's own Kind
// taxonomy, which is a superset.
func fromProviderKind(k provider.FailureKind) Kind {
	switch k {
	case provider.Authentication:
		return KindAuthentication
	case provider.RateLimitExceeded:
		return KindRateLimitExceeded
	case provider.ServerError:
		return KindServerError
	case provider.RequestFailed:
		return KindRequestFailed
	case provider.UsageError:
		return KindUsageError
	default:
		return KindExecutionError
	}
}
