package agent

import "github.com/riverrun-ai/agentrt/pkg/message"

// ChunkKind discriminates the payload carried by a ResponseChunk.
type ChunkKind string

const (
	// ChunkAssistantMessage is the filtered assistant turn yielded at
	// §4.3 step 6, with frontend tool requests stripped (they arrive
	// separately as ChunkFrontendToolRequest).
	ChunkAssistantMessage ChunkKind = "assistant_message"
	// ChunkFrontendToolRequest asks the caller to execute a tool itself
	// and report the result back through Core.HandleToolResult.
	ChunkFrontendToolRequest ChunkKind = "frontend_tool_request"
	// ChunkToolConfirmationRequest asks the caller to allow or deny an
	// extension tool call, resolved through Core.HandleConfirmation.
	ChunkToolConfirmationRequest ChunkKind = "tool_confirmation_request"
	// ChunkUserMessage is the aggregated ToolResponse message built at
	// §4.3 step 8.
	ChunkUserMessage ChunkKind = "user_message"
	// ChunkDone is the last chunk of every turn: it follows the final
	// assistant message, a ChunkError, or an interruption acknowledgment.
	ChunkDone ChunkKind = "done"
	// ChunkError marks a terminal, unrecoverable failure.
	ChunkError ChunkKind = "error"
)

// ResponseChunk is one unit of the reply loop's streamed output. At most
// one of Message, FrontendRequest, ConfirmationRequest, or Err is set,
// matching Kind; a ChunkDone chunk carries none of them.
type ResponseChunk struct {
	Kind                ChunkKind
	Message             *message.Message
	FrontendRequest     *message.FrontendToolRequest
	ConfirmationRequest *message.ToolConfirmationRequest
	Err                 error
}

// ConfirmationDecision is the caller's answer to a ChunkToolConfirmationRequest.
type ConfirmationDecision struct {
	Allowed     bool
	AlwaysAllow bool
}

type requestCategory string

const (
	categoryFrontend   requestCategory = "frontend"
	categoryPlatform   requestCategory = "platform"
	categoryExtension  requestCategory = "extension"
	categoryParseError requestCategory = "parse_error"
)

// reqEntry is one ToolRequest content item from an assistant message,
// classified per §4.3 step 5, carried through dispatch in the original
// response order so the aggregated ToolResponse message can be rebuilt in
// the same order.
type reqEntry struct {
	ID       string
	Call     message.ToolCall
	Category requestCategory
}
