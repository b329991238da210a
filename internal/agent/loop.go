// Package agent implements the reply loop described in §4.3 of the
// runtime specification: it drives a Provider through repeated
// completions, fits each request to the model's context window, classifies
// and dispatches the tool calls a completion asks for, and streams
// assistant turns and tool exchanges back to the caller over a channel.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/riverrun-ai/agentrt/internal/contextwindow"
	"github.com/riverrun-ai/agentrt/internal/extension"
	"github.com/riverrun-ai/agentrt/internal/permission"
	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

const suggestDisablingUnusedHint = "If any loaded extension's tools have gone unused for several turns, consider suggesting the user disable it to reduce tool-selection noise."

// interruptionAcknowledgment is the assistant-role text appended after a
// mid-dispatch cancellation's synthetic Interrupted ToolResponses, per
// §4.3's cancellation contract: the loop ends the turn with an assistant
// message acknowledging the interruption rather than stopping silently
// after the tool responses.
const interruptionAcknowledgment = "Interrupted: stopped before finishing the remaining tool calls for this turn."

// Config configures a new Core.
type Config struct {
	Provider   provider.Provider
	Extensions *extension.Manager

	// Permissions gates extension tool calls through stored decisions and
	// caller confirmation. Nil disables gating entirely: every extension
	// call dispatches immediately.
	Permissions *permission.Store
	// Catalog backs search_available_extensions/manage_extensions' "add"
	// action. Nil leaves the catalog empty.
	Catalog *Catalog

	Model provider.ModelConfig

	SystemPrompt         string
	FrontendInstructions string
	// FrontendTools names tools the caller executes itself; requests for
	// them are yielded as ChunkFrontendToolRequest instead of dispatched.
	FrontendTools          []string
	SuggestDisablingUnused bool

	// Session, if non-nil, accumulates usage across every completion call.
	Session *SessionMetadata
}

// Core is the stateful driver of one conversation's reply loop. It is safe
// for concurrent use by a single Reply goroutine plus callers resolving
// frontend results and confirmations from other goroutines.
type Core struct {
	provider    provider.Provider
	extensions  *extension.Manager
	permissions *permission.Store
	catalog     *Catalog
	window      *contextwindow.Manager
	model       provider.ModelConfig
	session     *SessionMetadata

	mu                   sync.RWMutex
	systemPrompt         string
	frontendInstructions string
	extraSystemPrompt    string
	suggestDisabling     bool
	frontendTools        map[string]bool
	history              []*message.Message
	cachedTools          []tool.Tool

	frontendResults *resultChannels[message.ToolResponseResult]
	confirmations   *resultChannels[ConfirmationDecision]
}

// NewCore builds a Core from cfg. It fails only if the model's tokenizer
// cannot be resolved (contextwindow.NewManager's only error path).
func NewCore(cfg Config) (*Core, error) {
	window, err := contextwindow.NewManager(cfg.Model.EffectiveTokenizerName())
	if err != nil {
		return nil, fmt.Errorf("agent: %w", err)
	}

	frontendTools := make(map[string]bool, len(cfg.FrontendTools))
	for _, name := range cfg.FrontendTools {
		frontendTools[name] = true
	}

	return &Core{
		provider:             cfg.Provider,
		extensions:           cfg.Extensions,
		permissions:          cfg.Permissions,
		catalog:              cfg.Catalog,
		window:               window,
		model:                cfg.Model,
		session:              cfg.Session,
		systemPrompt:         cfg.SystemPrompt,
		frontendInstructions: cfg.FrontendInstructions,
		suggestDisabling:     cfg.SuggestDisablingUnused,
		frontendTools:        frontendTools,
		frontendResults:      newResultChannels[message.ToolResponseResult](),
		confirmations:        newResultChannels[ConfirmationDecision](),
	}, nil
}

// ExtendSystemPrompt appends extra to the system prompt used by every
// subsequent completion call, e.g. a caller-supplied steering instruction.
func (c *Core) ExtendSystemPrompt(extra string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return
	}
	if c.extraSystemPrompt == "" {
		c.extraSystemPrompt = extra
		return
	}
	c.extraSystemPrompt = c.extraSystemPrompt + "\n" + extra
}

// OverrideSystemPrompt replaces the base system prompt outright.
func (c *Core) OverrideSystemPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.systemPrompt = prompt
}

// Session returns the usage accumulator configured for this Core, or nil.
func (c *Core) Session() *SessionMetadata {
	return c.session
}

// History returns a copy of the current message history.
func (c *Core) History() []*message.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*message.Message(nil), c.history...)
}

// HandleToolResult resolves a pending frontend tool request by id. It
// reports false if no such request is outstanding (already resolved,
// abandoned on cancellation, or never issued).
func (c *Core) HandleToolResult(id string, result message.ToolResponseResult) bool {
	return c.frontendResults.Resolve(id, result)
}

// HandleConfirmation resolves a pending tool-confirmation request by id.
func (c *Core) HandleConfirmation(id string, decision ConfirmationDecision) bool {
	return c.confirmations.Resolve(id, decision)
}

// Reply appends userMsg (if non-nil, e.g. nil to resume after a frontend
// tool result without new user input) to the history and runs the reply
// loop until it terminates, cancels, or fails, streaming chunks to the
// returned channel. The channel is closed when the turn ends.
func (c *Core) Reply(ctx context.Context, userMsg *message.Message) <-chan *ResponseChunk {
	out := make(chan *ResponseChunk, 8)
	go func() {
		defer close(out)
		c.run(ctx, userMsg, out)
	}()
	return out
}

func (c *Core) run(ctx context.Context, userMsg *message.Message, out chan<- *ResponseChunk) {
	if userMsg != nil {
		c.mu.Lock()
		c.history = append(c.history, userMsg)
		c.mu.Unlock()
	}

	for {
		select {
		case <-ctx.Done():
			c.handleIdleCancellation(out)
			return
		default:
		}

		assistantMsg, usage, err := c.step(ctx)
		if err != nil {
			c.emitTerminalError(out, err)
			return
		}
		if c.session != nil {
			c.session.Record(usage)
		}

		entries, display := c.classify(assistantMsg)

		c.mu.Lock()
		c.history = append(c.history, assistantMsg)
		c.mu.Unlock()

		out <- &ResponseChunk{Kind: ChunkAssistantMessage, Message: display}

		if len(entries) == 0 {
			out <- &ResponseChunk{Kind: ChunkDone}
			return
		}

		contents, interrupted := c.dispatch(ctx, out, entries)

		userResp := message.NewUserMessage()
		for _, content := range contents {
			userResp.WithContent(content)
		}
		c.mu.Lock()
		c.history = append(c.history, userResp)
		c.mu.Unlock()
		out <- &ResponseChunk{Kind: ChunkUserMessage, Message: userResp}

		if interrupted {
			ack := message.NewAssistantMessage().WithText(interruptionAcknowledgment)
			c.mu.Lock()
			c.history = append(c.history, ack)
			c.mu.Unlock()
			out <- &ResponseChunk{Kind: ChunkAssistantMessage, Message: ack}
			out <- &ResponseChunk{Kind: ChunkDone}
			return
		}
	}
}

// step implements §4.3 steps 1-4: assemble the request, fit it to the
// context window, call the provider, retrying a ContextLengthExceeded
// failure with a decaying estimate factor up to contextwindow.MaxFitAttempts
// times, and reporting usage back to the caller.
func (c *Core) step(ctx context.Context) (*message.Message, provider.Usage, error) {
	tools := c.assembleTools()
	systemPrompt := c.assembleSystemPrompt()
	contextLimit := c.model.EffectiveContextLimit()

	factor := 0.0 // 0 tells EnsureFits to use its own initial factor
	var lastErr error

	for attempt := 0; attempt <= contextwindow.MaxFitAttempts; attempt++ {
		c.mu.RLock()
		history := append([]*message.Message(nil), c.history...)
		c.mu.RUnlock()

		fit, err := c.window.EnsureFits(systemPrompt, history, tools, contextLimit, factor)
		if err != nil {
			return nil, provider.Usage{}, &Error{Kind: KindContextLimit, Cause: err}
		}

		c.mu.Lock()
		c.history = fit.Messages
		c.mu.Unlock()

		msg, usage, err := c.provider.Complete(ctx, provider.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     fit.Messages,
			Tools:        tools,
			Config:       c.model,
		})
		if err == nil {
			return msg, usage, nil
		}

		lastErr = err
		if provider.KindOf(err) != provider.ContextLengthExceeded {
			return nil, provider.Usage{}, &Error{Kind: fromProviderKind(provider.KindOf(err)), Cause: err}
		}
		factor = contextwindow.DecayEstimateFactor(factor)
	}

	return nil, provider.Usage{}, &Error{Kind: KindContextLimit, Cause: fmt.Errorf("still exceeded after %d context-fit retries: %w", contextwindow.MaxFitAttempts, lastErr)}
}

// classify partitions an assistant message's ToolRequest content items per
// §4.3 step 5 and builds the display copy for step 6 with frontend
// requests stripped (they are represented to the caller separately, as
// ChunkFrontendToolRequest, during dispatch).
func (c *Core) classify(msg *message.Message) ([]reqEntry, *message.Message) {
	display := &message.Message{Role: msg.Role, CreatedAt: msg.CreatedAt}
	var entries []reqEntry

	for _, content := range msg.Content {
		tr, ok := content.(message.ToolRequest)
		if !ok {
			display.Content = append(display.Content, content)
			continue
		}

		if tr.Result.Err != nil {
			entries = append(entries, reqEntry{ID: tr.ID, Category: categoryParseError})
			display.Content = append(display.Content, content)
			continue
		}

		call := *tr.Result.Call
		category := c.categorize(call.Name)
		entries = append(entries, reqEntry{ID: tr.ID, Call: call, Category: category})
		if category != categoryFrontend {
			display.Content = append(display.Content, content)
		}
	}

	return entries, display
}

func (c *Core) categorize(name string) requestCategory {
	c.mu.RLock()
	isFrontend := c.frontendTools[name]
	c.mu.RUnlock()

	if isFrontend {
		return categoryFrontend
	}
	if strings.HasPrefix(name, "platform"+tool.Separator) {
		return categoryPlatform
	}
	return categoryExtension
}

func (c *Core) assembleTools() []tool.Tool {
	var tools []tool.Tool
	if c.extensions != nil {
		tools = append(tools, c.extensions.ListTools()...)
	}
	tools = append(tools, platformManagementTools()...)

	c.mu.Lock()
	c.cachedTools = tools
	c.mu.Unlock()
	return tools
}

func (c *Core) assembleSystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var parts []string
	if c.systemPrompt != "" {
		parts = append(parts, c.systemPrompt)
	}
	if names := c.readyExtensionNames(); len(names) > 0 {
		parts = append(parts, "Loaded extensions: "+strings.Join(names, ", "))
	}
	if c.frontendInstructions != "" {
		parts = append(parts, c.frontendInstructions)
	}
	if c.extraSystemPrompt != "" {
		parts = append(parts, c.extraSystemPrompt)
	}
	if c.suggestDisabling {
		parts = append(parts, suggestDisablingUnusedHint)
	}
	return strings.Join(parts, "\n\n")
}

func (c *Core) readyExtensionNames() []string {
	if c.extensions == nil {
		return nil
	}
	clients := c.extensions.ListExtensions()
	names := make([]string, 0, len(clients))
	for key, client := range clients {
		if client.State() == extension.StateReady {
			names = append(names, key)
		}
	}
	return names
}

func (c *Core) isReadOnly(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.cachedTools {
		if t.Name == name {
			return t.IsReadOnly()
		}
	}
	return false
}

// handleIdleCancellation implements the out-of-tool-call half of §4.3's
// cancellation contract: a pure-text last user message is discarded so the
// caller can retry it; a tool-response message is kept.
func (c *Core) handleIdleCancellation(out chan<- *ResponseChunk) {
	c.mu.Lock()
	if n := len(c.history); n > 0 {
		if last := c.history[n-1]; last.Role == message.RoleUser && last.HasOnlyText() {
			c.history = c.history[:n-1]
		}
	}
	c.mu.Unlock()
	out <- &ResponseChunk{Kind: ChunkDone}
}

// emitTerminalError ends the turn on an unrecoverable failure. Per §7, the
// final message on any fatal path is always assistant-role text describing
// what happened, for every Kind — not just context-limit exhaustion — so
// the caller always has something human-readable to show even if it
// ignores ChunkError entirely.
func (c *Core) emitTerminalError(out chan<- *ResponseChunk, err error) {
	ack := message.NewAssistantMessage().WithText(terminalErrorText(err))
	c.mu.Lock()
	c.history = append(c.history, ack)
	c.mu.Unlock()

	out <- &ResponseChunk{Kind: ChunkAssistantMessage, Message: ack}
	out <- &ResponseChunk{Kind: ChunkError, Err: err}
	out <- &ResponseChunk{Kind: ChunkDone}
}

func terminalErrorText(err error) string {
	var agentErr *Error
	if !errors.As(err, &agentErr) {
		return fmt.Sprintf("Something went wrong and I can't continue this turn: %v", err)
	}

	switch agentErr.Kind {
	case KindContextLimit:
		return fmt.Sprintf("I can't fit this conversation into the model's context window even after truncating: %v", err)
	case KindAuthentication:
		return "I can't reach the model provider: authentication failed. Check the configured API credentials."
	case KindRateLimitExceeded:
		return "The model provider's rate limit was exceeded and retries were exhausted. Please try again in a moment."
	case KindServerError:
		return fmt.Sprintf("The model provider returned a server error and retries were exhausted: %v", agentErr.Cause)
	case KindRequestFailed:
		return fmt.Sprintf("The request to the model provider failed: %v", agentErr.Cause)
	case KindUsageError:
		return fmt.Sprintf("The model provider's response couldn't be parsed: %v", agentErr.Cause)
	default:
		return fmt.Sprintf("Something went wrong and I can't continue this turn: %v", err)
	}
}
