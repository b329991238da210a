package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/riverrun-ai/agentrt/pkg/tool"
)

const (
	platformReadResource  = "platform__read_resource"
	platformListResources = "platform__list_resources"
)

// Manager hosts and multiplexes every configured extension's tools behind
// the <key>__<tool> namespace, per §4.2 of the runtime specification. It is
// the only component that knows how a prefixed tool name maps back to a
// Client.
type Manager struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	watches map[string]context.CancelFunc
}

// NewManager builds an empty Manager; extensions are added with
// AddExtension.
func NewManager() *Manager {
	return &Manager{
		logger:  slog.Default().With("component", "extension_manager"),
		clients: make(map[string]*Client),
		watches: make(map[string]context.CancelFunc),
	}
}

// AddExtension starts a new Client for cfg and registers it under cfg.Key().
// A duplicate key is rejected rather than silently shadowing the existing
// extension.
func (m *Manager) AddExtension(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return newError(KindValidation, cfg.Name, "", err)
	}
	key := cfg.Key()

	m.mu.Lock()
	if _, exists := m.clients[key]; exists {
		m.mu.Unlock()
		return newError(KindDuplicateKey, key, "", fmt.Errorf("extension key %q already registered", key))
	}
	client := NewClient(key, cfg)
	m.clients[key] = client
	m.mu.Unlock()

	if err := client.Start(ctx); err != nil {
		m.logger.Warn("extension failed to start, keeping it registered as degraded", "extension", key, "error", err)
		return newError(KindTransport, key, "", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.watches[key] = cancel
	m.mu.Unlock()
	go client.Watch(watchCtx)
	return nil
}

// RemoveExtension stops and unregisters the extension named key. It is not
// an error to remove a key that was never registered.
func (m *Manager) RemoveExtension(key string) error {
	m.mu.Lock()
	client, exists := m.clients[key]
	if exists {
		delete(m.clients, key)
	}
	if cancel, ok := m.watches[key]; ok {
		cancel()
		delete(m.watches, key)
	}
	m.mu.Unlock()

	if !exists {
		return nil
	}
	return client.Stop()
}

// ListExtensions returns every registered client, keyed by extension key.
func (m *Manager) ListExtensions() map[string]*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Client, len(m.clients))
	for k, c := range m.clients {
		out[k] = c
	}
	return out
}

// ListTools returns every extension's tools with the <key>__ prefix
// applied, plus the synthetic platform__ resource tools when at least one
// Ready extension advertises a resource.
func (m *Manager) ListTools() []tool.Tool {
	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	var out []tool.Tool
	hasResources := false
	for _, c := range clients {
		if c.State() != StateReady {
			continue
		}
		out = append(out, c.ToolsSnapshot()...)
		if len(c.ResourcesSnapshot()) > 0 {
			hasResources = true
		}
	}

	if hasResources {
		out = append(out, platformResourceTools()...)
	}
	return out
}

func platformResourceTools() []tool.Tool {
	return []tool.Tool{
		{
			Name:        platformListResources,
			Description: "List resources exposed by connected extensions.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`),
			Annotations: &tool.Annotations{ReadOnlyHint: true},
		},
		{
			Name:        platformReadResource,
			Description: "Read a resource by URI from the extension that owns it.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"uri":{"type":"string"}},"required":["uri"],"additionalProperties":false}`),
			Annotations: &tool.Annotations{ReadOnlyHint: true},
		},
	}
}

// IsPlatformTool reports whether name is one of the synthetic platform__
// resource tools this Manager may have added to ListTools.
func IsPlatformTool(name string) bool {
	return name == platformReadResource || name == platformListResources
}

// CallTool dispatches a prefixed tool name to its owning client, validating
// arguments against the extension-declared schema first. It also serves the
// synthetic platform__ resource tools directly.
func (m *Manager) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	switch name {
	case platformListResources:
		return m.callListResources(ctx)
	case platformReadResource:
		return m.callReadResource(ctx, arguments)
	}

	extKey, localName, ok := tool.SplitPrefixed(name)
	if !ok {
		return nil, newError(KindNotFound, "", name, fmt.Errorf("tool name %q carries no extension prefix", name))
	}

	client, ok := m.client(extKey)
	if !ok {
		return nil, newError(KindNotFound, extKey, localName, fmt.Errorf("extension %q not registered", extKey))
	}
	if client.State() != StateReady {
		return nil, newError(KindTransport, extKey, localName, fmt.Errorf("extension %q is %s", extKey, client.State()))
	}

	if schema, ok := client.RawSchema(localName); ok {
		if err := validateAgainstRemoteSchema(localName, schema, arguments); err != nil {
			return nil, newError(KindValidation, extKey, localName, err)
		}
	}

	result, err := client.CallTool(ctx, localName, arguments)
	if err != nil {
		return nil, newError(KindTransport, extKey, localName, err)
	}
	if result.IsError {
		return result, newError(KindExecutionError, extKey, localName, fmt.Errorf("tool reported an error result"))
	}
	return result, nil
}

func (m *Manager) client(key string) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[key]
	return c, ok
}

func (m *Manager) callListResources(ctx context.Context) (*ToolCallResult, error) {
	type entry struct {
		Extension string `json:"extension"`
		URI       string `json:"uri"`
		Name      string `json:"name"`
		MimeType  string `json:"mime_type,omitempty"`
	}
	var entries []entry

	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if c.State() != StateReady {
			continue
		}
		for _, r := range c.ResourcesSnapshot() {
			entries = append(entries, entry{Extension: c.Key(), URI: r.URI, Name: r.Name, MimeType: r.MimeType})
		}
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, newError(KindExecutionError, "", platformListResources, err)
	}
	return &ToolCallResult{Content: []Content{{Type: "text", Text: string(encoded)}}}, nil
}

func (m *Manager) callReadResource(ctx context.Context, arguments json.RawMessage) (*ToolCallResult, error) {
	var params struct {
		URI string `json:"uri"`
	}
	if err := json.Unmarshal(arguments, &params); err != nil || params.URI == "" {
		return nil, newError(KindValidation, "", platformReadResource, fmt.Errorf("uri is required"))
	}

	m.mu.RLock()
	clients := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	for _, c := range clients {
		if c.State() != StateReady {
			continue
		}
		for _, r := range c.ResourcesSnapshot() {
			if r.URI != params.URI {
				continue
			}
			contents, err := c.ReadResource(ctx, params.URI)
			if err != nil {
				return nil, newError(KindTransport, c.Key(), platformReadResource, err)
			}
			var blocks []Content
			for _, rc := range contents {
				blocks = append(blocks, Content{Type: "resource", Resource: rc})
			}
			return &ToolCallResult{Content: blocks}, nil
		}
	}
	return nil, newError(KindNotFound, "", platformReadResource, fmt.Errorf("no extension owns resource %q", params.URI))
}

// Shutdown stops every registered client.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	clients := make([]*Client, 0, len(m.clients))
	for k, c := range m.clients {
		clients = append(clients, c)
		delete(m.clients, k)
	}
	for k, cancel := range m.watches {
		cancel()
		delete(m.watches, k)
	}
	m.mu.Unlock()

	for _, c := range clients {
		if err := c.Stop(); err != nil {
			m.logger.Warn("error stopping extension", "extension", c.Key(), "error", err)
		}
	}
}
