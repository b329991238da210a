package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// BuiltinHandler serves JSON-RPC style calls entirely in-process, given the
// method name and raw params, and returns a raw JSON result. It must
// implement at minimum "initialize", "tools/list", and "tools/call"; the
// other MCP methods (resources/prompts) are optional.
type BuiltinHandler func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

var builtinRegistry = struct {
	mu       sync.RWMutex
	handlers map[string]BuiltinHandler
}{handlers: make(map[string]BuiltinHandler)}

// RegisterBuiltin registers the handler invoked for a builtin extension
// named name. Call this once, typically from an init() in whatever package
// supplies a concrete in-process tool implementation.
func RegisterBuiltin(name string, handler BuiltinHandler) {
	builtinRegistry.mu.Lock()
	defer builtinRegistry.mu.Unlock()
	builtinRegistry.handlers[name] = handler
}

func lookupBuiltin(name string) (BuiltinHandler, bool) {
	builtinRegistry.mu.RLock()
	defer builtinRegistry.mu.RUnlock()
	h, ok := builtinRegistry.handlers[name]
	return h, ok
}

// BuiltinTransport dispatches calls to a BuiltinHandler registered under
// the extension's name. No subprocess or network connection is ever
// involved.
type BuiltinTransport struct {
	cfg     Config
	handler BuiltinHandler
	events  chan *RPCNotification
	live    bool
}

// NewBuiltinTransport builds a BuiltinTransport for cfg. Connect fails if no
// handler was registered for cfg.Name via RegisterBuiltin.
func NewBuiltinTransport(cfg Config) *BuiltinTransport {
	return &BuiltinTransport{cfg: cfg, events: make(chan *RPCNotification)}
}

func (t *BuiltinTransport) Connect(ctx context.Context) error {
	handler, ok := lookupBuiltin(t.cfg.Name)
	if !ok {
		return fmt.Errorf("extension: no builtin handler registered for %q", t.cfg.Name)
	}
	t.handler = handler
	t.live = true
	return nil
}

func (t *BuiltinTransport) Close() error {
	t.live = false
	return nil
}

func (t *BuiltinTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.live {
		return nil, fmt.Errorf("extension: builtin transport not connected")
	}
	var raw json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("extension: marshal params: %w", err)
		}
		raw = encoded
	}
	return t.handler(ctx, method, raw)
}

func (t *BuiltinTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.live {
		return fmt.Errorf("extension: builtin transport not connected")
	}
	_, err := t.Call(ctx, method, params)
	return err
}

func (t *BuiltinTransport) Events() <-chan *RPCNotification { return t.events }

func (t *BuiltinTransport) Connected() bool { return t.live }
