package extension

import "fmt"

// Kind classifies why an extension operation failed, mirroring the
// provider package's FailureKind so callers can branch on failure class
// without string matching.
type Kind int

const (
	// KindExecutionError means the extension's tools/call itself reported
	// an error (ToolCallResult.IsError), not a transport problem.
	KindExecutionError Kind = iota
	// KindTransport means the JSON-RPC round trip failed: process crash,
	// closed pipe, HTTP failure, timeout.
	KindTransport
	// KindNotFound means the requested tool, resource, or prompt isn't
	// advertised by any connected extension.
	KindNotFound
	// KindDuplicateKey means a second extension registered under a key
	// already in use.
	KindDuplicateKey
	// KindValidation means the caller-supplied arguments failed the
	// extension-declared JSON Schema.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindExecutionError:
		return "execution_error"
	case KindTransport:
		return "transport"
	case KindNotFound:
		return "not_found"
	case KindDuplicateKey:
		return "duplicate_key"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by Manager and Client
// operations, carrying enough detail for the agent reply loop to render a
// ToolResponse without re-inspecting the underlying cause.
type Error struct {
	Kind      Kind
	Extension string
	Tool      string
	Cause     error
}

func (e *Error) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("extension %s: tool %s: %s: %v", e.Extension, e.Tool, e.Kind, e.Cause)
	}
	return fmt.Sprintf("extension %s: %s: %v", e.Extension, e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func newError(kind Kind, extension, toolName string, cause error) *Error {
	return &Error{Kind: kind, Extension: extension, Tool: toolName, Cause: cause}
}
