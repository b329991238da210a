// Package message defines the canonical in-memory representation of a
// conversation turn shared between the agent loop, the provider adapters,
// and the extension manager.
package message

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a Message. Providers only ever see User and
// Assistant roles; tool results are carried as User-role ToolResponse
// content, matching the contract in the provider interface.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is an ordered sequence of content items tagged with a role and a
// creation timestamp.
type Message struct {
	Role      Role      `json:"role"`
	Content   []Content `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserMessage creates an empty user message stamped with the current time.
func NewUserMessage() *Message {
	return &Message{Role: RoleUser, CreatedAt: time.Now()}
}

// NewAssistantMessage creates an empty assistant message stamped with the
// current time.
func NewAssistantMessage() *Message {
	return &Message{Role: RoleAssistant, CreatedAt: time.Now()}
}

// WithContent appends a content item and returns the message for chaining.
func (m *Message) WithContent(c Content) *Message {
	m.Content = append(m.Content, c)
	return m
}

// WithText appends a Text content item.
func (m *Message) WithText(text string) *Message {
	return m.WithContent(Text{Text: text})
}

// WithImage appends an Image content item.
func (m *Message) WithImage(data, mimeType string) *Message {
	return m.WithContent(Image{Data: data, MimeType: mimeType})
}

// WithToolRequest appends a ToolRequest content item.
func (m *Message) WithToolRequest(id string, result ToolCallResult) *Message {
	return m.WithContent(ToolRequest{ID: id, Result: result})
}

// WithToolResponse appends a ToolResponse content item.
func (m *Message) WithToolResponse(id string, result ToolResponseResult) *Message {
	return m.WithContent(ToolResponse{ID: id, Result: result})
}

// ConcatText returns the text of every Text content item, newline-joined.
func (m *Message) ConcatText() string {
	var out []string
	for _, c := range m.Content {
		if t, ok := c.(Text); ok {
			out = append(out, t.Text)
		}
	}
	return joinLines(out)
}

// HasToolRequest reports whether the message carries at least one ToolRequest.
func (m *Message) HasToolRequest() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolRequest); ok {
			return true
		}
	}
	return false
}

// HasToolResponse reports whether the message carries at least one ToolResponse.
func (m *Message) HasToolResponse() bool {
	for _, c := range m.Content {
		if _, ok := c.(ToolResponse); ok {
			return true
		}
	}
	return false
}

// HasOnlyText reports whether every content item is Text. The reply loop
// uses this to decide whether a pure-text user message may be discarded on
// cancellation (see §4.3 of the runtime specification).
func (m *Message) HasOnlyText() bool {
	for _, c := range m.Content {
		if _, ok := c.(Text); !ok {
			return false
		}
	}
	return true
}

// ToolRequestIDs returns the ids of every ToolRequest content item, in order.
func (m *Message) ToolRequestIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if tr, ok := c.(ToolRequest); ok {
			ids = append(ids, tr.ID)
		}
	}
	return ids
}

// ToolResponseIDs returns the ids of every ToolResponse content item, in order.
func (m *Message) ToolResponseIDs() []string {
	var ids []string
	for _, c := range m.Content {
		if tr, ok := c.(ToolResponse); ok {
			ids = append(ids, tr.ID)
		}
	}
	return ids
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

// Content is the sum type of items a Message may carry. Concrete types are
// Text, Image, ToolRequest, ToolResponse, ToolConfirmationRequest, and
// FrontendToolRequest.
type Content interface {
	isContent()
}

// Text is a UTF-8 string content item.
type Text struct {
	Text string `json:"text"`
}

func (Text) isContent() {}

// Image is base64-encoded image bytes plus a MIME type.
type Image struct {
	Data     string `json:"data"`
	MimeType string `json:"mime_type"`
}

func (Image) isContent() {}

// ToolCall is a parsed tool invocation requested by the model.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallParseError describes a malformed tool call the provider adapter
// could not parse into a ToolCall.
type ToolCallParseError struct {
	Message string `json:"message"`
}

func (e *ToolCallParseError) Error() string { return e.Message }

// ToolCallResult is either a successfully parsed ToolCall or a structured
// parse error, per the Message invariants in §3 of the specification.
type ToolCallResult struct {
	Call *ToolCall
	Err  *ToolCallParseError
}

// OK builds a successful ToolCallResult.
func OK(call ToolCall) ToolCallResult { return ToolCallResult{Call: &call} }

// ParseErr builds a failed ToolCallResult.
func ParseErr(msg string) ToolCallResult {
	return ToolCallResult{Err: &ToolCallParseError{Message: msg}}
}

// ToolRequest is an assistant-role content item representing the model's
// request to invoke a tool. Its id is unique within the conversation.
type ToolRequest struct {
	ID     string         `json:"id"`
	Result ToolCallResult `json:"result"`
}

func (ToolRequest) isContent() {}

// ToolExecutionError describes a failed tool execution fed back to the model.
type ToolExecutionError struct {
	Message string `json:"message"`
}

func (e *ToolExecutionError) Error() string { return e.Message }

// ToolResponseResult is either an ordered list of result content items or a
// structured tool error.
type ToolResponseResult struct {
	Content []Content
	Err     *ToolExecutionError
}

// ToolOK builds a successful ToolResponseResult.
func ToolOK(content ...Content) ToolResponseResult {
	return ToolResponseResult{Content: content}
}

// ToolErr builds a failed ToolResponseResult.
func ToolErr(msg string) ToolResponseResult {
	return ToolResponseResult{Err: &ToolExecutionError{Message: msg}}
}

// ToolResponse is a user-role content item carrying the outcome of a prior
// ToolRequest. Its id must match a ToolRequest earlier in the same history.
type ToolResponse struct {
	ID     string             `json:"id"`
	Result ToolResponseResult `json:"result"`
}

func (ToolResponse) isContent() {}

// ToolConfirmationRequest is an out-of-band prompt the agent emits to the
// caller to solicit approval before dispatching an extension tool call. It
// is never sent to a provider.
type ToolConfirmationRequest struct {
	ID        string          `json:"id"`
	ToolName  string          `json:"tool_name"`
	Arguments json.RawMessage `json:"arguments"`
	Prompt    string          `json:"prompt,omitempty"`
}

func (ToolConfirmationRequest) isContent() {}

// FrontendToolRequest is a ToolRequest variant the agent yields to the
// caller for external execution. Its response arrives via the agent's
// frontend-tool-result callback channel, keyed by ID.
type FrontendToolRequest struct {
	ID   string   `json:"id"`
	Call ToolCall `json:"call"`
}

func (FrontendToolRequest) isContent() {}
