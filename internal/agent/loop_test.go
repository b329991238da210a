package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/riverrun-ai/agentrt/internal/contextwindow"
	"github.com/riverrun-ai/agentrt/internal/extension"
	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
	"github.com/riverrun-ai/agentrt/pkg/tokencount"
)

func init() {
	extension.RegisterBuiltin("echo", func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
		switch method {
		case "initialize":
			return json.Marshal(extension.InitializeResult{
				ProtocolVersion: "2024-11-05",
				ServerInfo:      extension.ServerInfo{Name: "echo", Version: "0.1.0"},
			})
		case "notifications/initialized":
			return json.RawMessage(`{}`), nil
		case "tools/list":
			return json.Marshal(struct {
				Tools []*extension.RemoteTool `json:"tools"`
			}{Tools: []*extension.RemoteTool{
				{
					Name:        "say",
					Description: "echo the given text",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
					Annotations: &extension.RemoteToolHints{ReadOnlyHint: true},
				},
				{
					Name:        "write",
					Description: "a non-read-only sink tool",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`),
				},
			}})
		case "resources/list":
			return json.RawMessage(`{"resources":[]}`), nil
		case "prompts/list":
			return json.RawMessage(`{"prompts":[]}`), nil
		case "tools/call":
			var call struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			}
			if err := json.Unmarshal(params, &call); err != nil {
				return nil, err
			}
			var args struct {
				Text string `json:"text"`
			}
			json.Unmarshal(call.Arguments, &args)
			return json.Marshal(extension.ToolCallResult{Content: []extension.Content{{Type: "text", Text: "echo: " + args.Text}}})
		default:
			return json.RawMessage(`null`), nil
		}
	})
}

// wordTokenizer mirrors the pattern used by pkg/tokencount's and
// internal/contextwindow's own tests: one token per whitespace-delimited
// word, keeping these tests independent of the network-backed tiktoken
// ranks files.
type wordTokenizer struct{}

func (wordTokenizer) Encode(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			inWord = false
			continue
		}
		if !inWord {
			n++
			inWord = true
		}
	}
	return n
}

func testWindow() *contextwindow.Manager {
	return contextwindow.NewManagerWithCounter(tokencount.NewCounterWithTokenizer(wordTokenizer{}))
}

// scriptedProvider replays a fixed sequence of completion responses,
// recording the requests it was called with for assertions.
type scriptedProvider struct {
	responses []scriptedResponse
	calls     []provider.CompletionRequest
	idx       int
}

type scriptedResponse struct {
	msg   *message.Message
	usage provider.Usage
	err   error
}

func (p *scriptedProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	p.calls = append(p.calls, req)
	if p.idx >= len(p.responses) {
		return message.NewAssistantMessage().WithText("done"), provider.Usage{}, nil
	}
	r := p.responses[p.idx]
	p.idx++
	if r.err != nil {
		return nil, provider.Usage{}, r.err
	}
	return r.msg, r.usage, nil
}

func (p *scriptedProvider) Name() string       { return "scripted" }
func (p *scriptedProvider) SupportsTools() bool { return true }

func newTestCore(t *testing.T, p provider.Provider, cfg Config) *Core {
	t.Helper()
	if cfg.Model.ModelName == "" {
		cfg.Model.ModelName = "test-model"
	}
	if cfg.Model.ContextLimit == nil {
		limit := 1000
		cfg.Model.ContextLimit = &limit
	}
	cfg.Provider = p

	core, err := NewCore(cfg)
	if err != nil {
		t.Fatalf("NewCore: %v", err)
	}
	core.window = testWindow()
	return core
}

func newEchoManager(t *testing.T) *extension.Manager {
	t.Helper()
	mgr := extension.NewManager()
	if err := mgr.AddExtension(context.Background(), extension.Config{Kind: extension.TransportBuiltin, Name: "echo"}); err != nil {
		t.Fatalf("AddExtension: %v", err)
	}
	return mgr
}

func drain(t *testing.T, ch <-chan *ResponseChunk, timeout time.Duration) []*ResponseChunk {
	t.Helper()
	var out []*ResponseChunk
	deadline := time.After(timeout)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-deadline:
			t.Fatal("timed out waiting for reply loop to finish")
			return out
		}
	}
}

func TestReplyTerminatesWhenNoToolRequests(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{
		{msg: message.NewAssistantMessage().WithText("hello there")},
	}}
	core := newTestCore(t, p, Config{SystemPrompt: "you are a test agent"})

	chunks := drain(t, core.Reply(context.Background(), message.NewUserMessage().WithText("hi")), time.Second)

	var sawAssistant, sawDone bool
	for _, c := range chunks {
		switch c.Kind {
		case ChunkAssistantMessage:
			sawAssistant = true
			if c.Message.ConcatText() != "hello there" {
				t.Errorf("unexpected assistant text %q", c.Message.ConcatText())
			}
		case ChunkDone:
			sawDone = true
		}
	}
	if !sawAssistant || !sawDone {
		t.Fatalf("expected an assistant message and a done chunk, got %+v", chunks)
	}
	if len(p.calls) != 1 {
		t.Fatalf("expected exactly one provider call, got %d", len(p.calls))
	}
}

func TestReplyDispatchesExtensionToolAndLoops(t *testing.T) {
	toolCall := message.NewAssistantMessage().WithToolRequest("call-1", message.OK(message.ToolCall{
		Name:      "echo__say",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}))
	p := &scriptedProvider{responses: []scriptedResponse{
		{msg: toolCall},
		{msg: message.NewAssistantMessage().WithText("got it")},
	}}
	mgr := newEchoManager(t)
	core := newTestCore(t, p, Config{Extensions: mgr})

	chunks := drain(t, core.Reply(context.Background(), message.NewUserMessage().WithText("say hi")), time.Second)

	var sawUserMsg bool
	for _, c := range chunks {
		if c.Kind == ChunkUserMessage {
			sawUserMsg = true
			if !c.Message.HasToolResponse() {
				t.Errorf("expected aggregated user message to carry a tool response")
			}
		}
	}
	if !sawUserMsg {
		t.Fatalf("expected a user message chunk carrying the tool response, got %+v", chunks)
	}
	if len(p.calls) != 2 {
		t.Fatalf("expected two provider calls (initial + after tool dispatch), got %d", len(p.calls))
	}
}

func TestReplyFrontendToolRequestWaitsForResult(t *testing.T) {
	toolCall := message.NewAssistantMessage().WithToolRequest("call-1", message.OK(message.ToolCall{
		Name:      "show_ui",
		Arguments: json.RawMessage(`{}`),
	}))
	p := &scriptedProvider{responses: []scriptedResponse{
		{msg: toolCall},
		{msg: message.NewAssistantMessage().WithText("thanks")},
	}}
	core := newTestCore(t, p, Config{FrontendTools: []string{"show_ui"}})

	ch := core.Reply(context.Background(), message.NewUserMessage().WithText("go"))

	var gotFrontendID string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range ch {
			if chunk.Kind == ChunkFrontendToolRequest {
				gotFrontendID = chunk.FrontendRequest.ID
				core.HandleToolResult(gotFrontendID, message.ToolOK(message.Text{Text: "handled"}))
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reply loop to finish")
	}
	if gotFrontendID != "call-1" {
		t.Fatalf("expected a frontend tool request for call-1, got %q", gotFrontendID)
	}
}

func TestHandleIdleCancellationDiscardsPureTextMessage(t *testing.T) {
	p := &scriptedProvider{}
	core := newTestCore(t, p, Config{})
	core.history = []*message.Message{message.NewUserMessage().WithText("discard me")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := drain(t, core.Reply(ctx, nil), time.Second)
	if len(chunks) != 1 || chunks[0].Kind != ChunkDone {
		t.Fatalf("expected a single done chunk, got %+v", chunks)
	}
	if len(core.History()) != 0 {
		t.Fatalf("expected the pure-text message to be discarded, got %+v", core.History())
	}
}

func TestHandleIdleCancellationKeepsToolResponseMessage(t *testing.T) {
	p := &scriptedProvider{}
	core := newTestCore(t, p, Config{})
	core.history = []*message.Message{
		message.NewUserMessage().WithToolResponse("x", message.ToolOK(message.Text{Text: "ok"})),
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	drain(t, core.Reply(ctx, nil), time.Second)
	if len(core.History()) != 1 {
		t.Fatalf("expected the tool-response message to survive cancellation, got %+v", core.History())
	}
}

func TestContextLengthExceededRetriesThenSucceeds(t *testing.T) {
	cleErr := &provider.Error{Kind: provider.ContextLengthExceeded, Cause: &simpleError{"too many tokens"}}
	p := &scriptedProvider{responses: []scriptedResponse{
		{err: cleErr},
		{msg: message.NewAssistantMessage().WithText("fit that time")},
	}}
	core := newTestCore(t, p, Config{})
	for i := 0; i < 20; i++ {
		core.history = append(core.history, message.NewUserMessage().WithText("padding message number filler words here"))
	}

	chunks := drain(t, core.Reply(context.Background(), message.NewUserMessage().WithText("go")), time.Second)

	var sawAssistant bool
	for _, c := range chunks {
		if c.Kind == ChunkAssistantMessage && c.Message.ConcatText() == "fit that time" {
			sawAssistant = true
		}
	}
	if !sawAssistant {
		t.Fatalf("expected the retry to eventually succeed, got %+v", chunks)
	}
	if len(p.calls) != 2 {
		t.Fatalf("expected exactly 2 provider calls (1 failure + 1 success), got %d", len(p.calls))
	}
}

type simpleError struct{ s string }

func (e *simpleError) Error() string { return e.s }

// cancellingProvider replays scripted responses like scriptedProvider and
// cancels the reply's context as it returns each one.
type cancellingProvider struct {
	scriptedProvider
	cancel context.CancelFunc
}

func (p *cancellingProvider) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	defer p.cancel()
	return p.scriptedProvider.Complete(ctx, req)
}

func TestReplyInterruptedMidDispatchEmitsAssistantAcknowledgment(t *testing.T) {
	toolCall := message.NewAssistantMessage().WithToolRequest("call-1", message.OK(message.ToolCall{
		Name:      "echo__say",
		Arguments: json.RawMessage(`{"text":"hi"}`),
	}))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// The provider cancels ctx as it returns the tool call, so the loop
	// reaches dispatch with a cancelled context and interrupts there.
	p := &cancellingProvider{scriptedProvider: scriptedProvider{responses: []scriptedResponse{{msg: toolCall}}}, cancel: cancel}
	mgr := newEchoManager(t)
	core := newTestCore(t, p, Config{Extensions: mgr})

	chunks := drain(t, core.Reply(ctx, message.NewUserMessage().WithText("say hi")), time.Second)

	var ackText string
	var sawUserMsg, sawDone bool
	for i, c := range chunks {
		switch c.Kind {
		case ChunkUserMessage:
			sawUserMsg = true
		case ChunkAssistantMessage:
			if i > 0 && chunks[i-1].Kind == ChunkUserMessage {
				ackText = c.Message.ConcatText()
			}
		case ChunkDone:
			sawDone = true
		}
	}
	if !sawUserMsg || !sawDone {
		t.Fatalf("expected a user message and a done chunk, got %+v", chunks)
	}
	if ackText == "" {
		t.Fatalf("expected an assistant acknowledgment chunk after the interrupted user message, got %+v", chunks)
	}
	if ackText != interruptionAcknowledgment {
		t.Fatalf("unexpected acknowledgment text %q", ackText)
	}

	history := core.History()
	last := history[len(history)-1]
	if last.Role != message.RoleAssistant || last.ConcatText() != interruptionAcknowledgment {
		t.Fatalf("expected the acknowledgment to be recorded as the final history entry, got %+v", last)
	}
}

func TestTerminalErrorTextCoversEveryFatalKind(t *testing.T) {
	cases := []Kind{
		KindContextLimit,
		KindAuthentication,
		KindRateLimitExceeded,
		KindServerError,
		KindRequestFailed,
		KindUsageError,
		KindExecutionError,
	}
	for _, kind := range cases {
		err := &Error{Kind: kind, Cause: &simpleError{"boom"}}
		text := terminalErrorText(err)
		if text == "" {
			t.Errorf("kind %q: expected non-empty assistant text", kind)
		}
	}
}

func TestEmitTerminalErrorYieldsAssistantTextForNonContextFailures(t *testing.T) {
	p := &scriptedProvider{responses: []scriptedResponse{
		{err: &provider.Error{Kind: provider.Authentication, Cause: &simpleError{"bad key"}}},
	}}
	core := newTestCore(t, p, Config{})

	chunks := drain(t, core.Reply(context.Background(), message.NewUserMessage().WithText("hi")), time.Second)

	var sawAssistant, sawErr, sawDone bool
	for _, c := range chunks {
		switch c.Kind {
		case ChunkAssistantMessage:
			sawAssistant = true
			if c.Message.ConcatText() == "" {
				t.Error("expected non-empty assistant text on the fatal-authentication path")
			}
		case ChunkError:
			sawErr = true
		case ChunkDone:
			sawDone = true
		}
	}
	if !sawAssistant || !sawErr || !sawDone {
		t.Fatalf("expected assistant text, an error chunk, and a done chunk, got %+v", chunks)
	}
}
