package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// State is a Client's position in the per-extension state machine described
// in the runtime specification: Starting -> Ready, or Starting -> Degraded
// on a failed handshake. Only Start moves a client to Degraded: a failed
// call on a Ready client is returned to the caller and leaves the state
// unchanged. Stop always moves to Stopped regardless of prior state.
type State int

const (
	StateStarting State = iota
	StateReady
	StateDegraded
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const protocolVersion = "2024-11-05"

// Client owns one extension's transport and its cached capabilities: tools,
// resources, and prompts. It is built with the extension key Manager
// resolved for it, and ToolsSnapshot applies the <key>__ name prefix.
type Client struct {
	key    string
	cfg    Config
	tr     Transport
	logger *slog.Logger

	mu         sync.RWMutex
	state      State
	serverInfo ServerInfo
	tools      []*RemoteTool
	resources  []*Resource
	prompts    []*Prompt
	lastErr    error
}

// NewClient builds a Client for cfg, keyed by key. key is normally
// cfg.Key() but is taken as an explicit parameter so Manager can resolve
// collisions before construction.
func NewClient(key string, cfg Config) *Client {
	return &Client{
		key:    key,
		cfg:    cfg,
		tr:     NewTransport(cfg),
		logger: slog.Default().With("component", "extension", "extension", key),
		state:  StateStarting,
	}
}

// Key returns the extension key this client is registered under.
func (c *Client) Key() string { return c.key }

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// LastError returns the error that most recently moved the client to
// Degraded, or nil if none has occurred.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Start connects the transport, performs the initialize/initialized
// handshake, and populates the tool/resource/prompt caches. On any failure
// the client moves to Degraded and the error is returned; the caller
// decides whether a Degraded extension should be retried or dropped.
func (c *Client) Start(ctx context.Context) error {
	if err := c.tr.Connect(ctx); err != nil {
		c.fail(fmt.Errorf("connect: %w", err))
		return err
	}

	result, err := c.tr.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "agentrt", "version": "1.0.0"},
	})
	if err != nil {
		c.tr.Close()
		c.fail(fmt.Errorf("initialize: %w", err))
		return err
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.tr.Close()
		c.fail(fmt.Errorf("parse initialize result: %w", err))
		return err
	}

	if err := c.tr.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}

	c.mu.Lock()
	c.serverInfo = initResult.ServerInfo
	c.mu.Unlock()

	if err := c.refresh(ctx); err != nil {
		c.logger.Warn("initial capability refresh incomplete", "error", err)
	}

	c.mu.Lock()
	c.state = StateReady
	c.lastErr = nil
	c.mu.Unlock()

	c.logger.Info("extension ready",
		"name", initResult.ServerInfo.Name,
		"version", initResult.ServerInfo.Version,
		"tools", len(c.ToolsSnapshot()))
	return nil
}

// Stop closes the transport and moves the client to Stopped unconditionally.
func (c *Client) Stop() error {
	err := c.tr.Close()
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
	return err
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.state = StateDegraded
	c.lastErr = err
	c.mu.Unlock()
	c.logger.Warn("extension degraded", "error", err)
}

// refresh repopulates the tool/resource/prompt caches. Resources and
// prompts are optional MCP capabilities; a server that doesn't implement
// them simply errors on the call and the corresponding cache stays empty.
func (c *Client) refresh(ctx context.Context) error {
	var firstErr error

	if raw, err := c.tr.Call(ctx, "tools/list", nil); err == nil {
		var resp listToolsResult
		if jerr := json.Unmarshal(raw, &resp); jerr == nil {
			c.mu.Lock()
			c.tools = resp.Tools
			c.mu.Unlock()
		}
	} else if firstErr == nil {
		firstErr = err
	}

	if raw, err := c.tr.Call(ctx, "resources/list", nil); err == nil {
		var resp listResourcesResult
		if json.Unmarshal(raw, &resp) == nil {
			c.mu.Lock()
			c.resources = resp.Resources
			c.mu.Unlock()
		}
	}

	if raw, err := c.tr.Call(ctx, "prompts/list", nil); err == nil {
		var resp listPromptsResult
		if json.Unmarshal(raw, &resp) == nil {
			c.mu.Lock()
			c.prompts = resp.Prompts
			c.mu.Unlock()
		}
	}

	return firstErr
}

// ToolsSnapshot returns the extension's tools with the <key>__ prefix
// already applied, ready to merge into the model-visible tool list.
func (c *Client) ToolsSnapshot() []tool.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]tool.Tool, 0, len(c.tools))
	for _, rt := range c.tools {
		var annotations *tool.Annotations
		if rt.Annotations != nil {
			annotations = &tool.Annotations{
				Title:           rt.Annotations.Title,
				ReadOnlyHint:    rt.Annotations.ReadOnlyHint,
				DestructiveHint: rt.Annotations.DestructiveHint,
				IdempotentHint:  rt.Annotations.IdempotentHint,
				OpenWorldHint:   rt.Annotations.OpenWorldHint,
			}
		}
		out = append(out, tool.Tool{
			Name:        tool.Prefixed(c.key, rt.Name),
			Description: rt.Description,
			InputSchema: rt.InputSchema,
			Annotations: annotations,
		})
	}
	return out
}

// RawSchema returns the extension-declared input schema for its tool named
// localName (unprefixed), used by the gojsonschema-based validator in
// validate.go before the call is dispatched over the wire.
func (c *Client) RawSchema(localName string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, rt := range c.tools {
		if rt.Name == localName {
			return rt.InputSchema, true
		}
	}
	return nil, false
}

// ResourcesSnapshot returns the cached resources.
func (c *Client) ResourcesSnapshot() []*Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Resource, len(c.resources))
	copy(out, c.resources)
	return out
}

// PromptsSnapshot returns the cached prompts.
func (c *Client) PromptsSnapshot() []*Prompt {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Prompt, len(c.prompts))
	copy(out, c.prompts)
	return out
}

// ServerInfo returns the identity the extension reported during handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.serverInfo
}

// CallTool invokes localName (unprefixed) with the given already-validated
// arguments and returns the parsed tools/call result, with its MCP content
// blocks as the extension sent them.
func (c *Client) CallTool(ctx context.Context, localName string, args json.RawMessage) (*ToolCallResult, error) {
	params := callToolParams{Name: localName, Arguments: args}
	raw, err := c.tr.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}
	var result ToolCallResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("extension: parse tool result: %w", err)
	}
	return &result, nil
}

// ReadResource reads a resource by URI.
func (c *Client) ReadResource(ctx context.Context, uri string) ([]*ResourceContent, error) {
	raw, err := c.tr.Call(ctx, "resources/read", map[string]any{"uri": uri})
	if err != nil {
		return nil, err
	}
	var result readResourceResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("extension: parse resource result: %w", err)
	}
	return result.Contents, nil
}

// GetPrompt resolves a named prompt template with the given arguments.
func (c *Client) GetPrompt(ctx context.Context, name string, arguments map[string]string) (*getPromptResult, error) {
	raw, err := c.tr.Call(ctx, "prompts/get", map[string]any{"name": name, "arguments": arguments})
	if err != nil {
		return nil, err
	}
	var result getPromptResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("extension: parse prompt result: %w", err)
	}
	return &result, nil
}

// Events delivers the extension's asynchronous notifications, e.g.
// tools/list_changed, to the caller; Manager's watch loop consumes these to
// refresh caches without tearing the client down.
func (c *Client) Events() <-chan *RPCNotification { return c.tr.Events() }

// Watch refreshes the client's capability caches whenever the transport
// reports a list-changed notification, until ctx is cancelled or the
// transport's event channel closes.
func (c *Client) Watch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case notif, ok := <-c.Events():
			if !ok {
				return
			}
			switch notif.Method {
			case "notifications/tools/list_changed",
				"notifications/resources/list_changed",
				"notifications/prompts/list_changed":
				refreshCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := c.refresh(refreshCtx); err != nil {
					c.logger.Warn("capability refresh on notification failed", "error", err)
				}
				cancel()
			}
		}
	}
}
