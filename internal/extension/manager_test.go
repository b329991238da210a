package extension

import (
	"context"
	"encoding/json"
	"testing"
)

func init() {
	RegisterBuiltin("calc", func(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
		switch method {
		case "initialize":
			return json.Marshal(InitializeResult{
				ProtocolVersion: protocolVersion,
				ServerInfo:      ServerInfo{Name: "calc", Version: "0.1.0"},
			})
		case "notifications/initialized":
			return json.RawMessage(`{}`), nil
		case "tools/list":
			return json.Marshal(listToolsResult{Tools: []*RemoteTool{{
				Name:        "add",
				Description: "add two numbers",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"},"b":{"type":"number"}},"required":["a","b"]}`),
				Annotations: &RemoteToolHints{ReadOnlyHint: true},
			}}})
		case "resources/list":
			return json.Marshal(listResourcesResult{})
		case "prompts/list":
			return json.Marshal(listPromptsResult{})
		case "tools/call":
			var call callToolParams
			if err := json.Unmarshal(params, &call); err != nil {
				return nil, err
			}
			var args struct{ A, B float64 }
			json.Unmarshal(call.Arguments, &args)
			return json.Marshal(ToolCallResult{Content: []Content{{Type: "text", Text: "sum"}}})
		default:
			return json.RawMessage(`null`), nil
		}
	})
}

func TestManagerAddExtensionAndListTools(t *testing.T) {
	mgr := NewManager()
	cfg := Config{Kind: TransportBuiltin, Name: "calc"}

	if err := mgr.AddExtension(context.Background(), cfg); err != nil {
		t.Fatalf("AddExtension: %v", err)
	}

	tools := mgr.ListTools()
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(tools))
	}
	if got, want := tools[0].Name, "calc__add"; got != want {
		t.Errorf("tool name = %q, want %q", got, want)
	}
	if !tools[0].IsReadOnly() {
		t.Errorf("expected tool to be read-only")
	}
}

func TestManagerAddExtensionDuplicateKeyRejected(t *testing.T) {
	mgr := NewManager()
	cfg := Config{Kind: TransportBuiltin, Name: "calc"}

	if err := mgr.AddExtension(context.Background(), cfg); err != nil {
		t.Fatalf("AddExtension: %v", err)
	}
	err := mgr.AddExtension(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error on duplicate extension key")
	}
	extErr, ok := err.(*Error)
	if !ok || extErr.Kind != KindDuplicateKey {
		t.Errorf("expected KindDuplicateKey, got %v", err)
	}
}

func TestManagerCallTool(t *testing.T) {
	mgr := NewManager()
	cfg := Config{Kind: TransportBuiltin, Name: "calc"}
	if err := mgr.AddExtension(context.Background(), cfg); err != nil {
		t.Fatalf("AddExtension: %v", err)
	}

	result, err := mgr.CallTool(context.Background(), "calc__add", json.RawMessage(`{"a":1,"b":2}`))
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "sum" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestManagerCallToolValidationRejectsMissingRequired(t *testing.T) {
	mgr := NewManager()
	cfg := Config{Kind: TransportBuiltin, Name: "calc"}
	if err := mgr.AddExtension(context.Background(), cfg); err != nil {
		t.Fatalf("AddExtension: %v", err)
	}

	_, err := mgr.CallTool(context.Background(), "calc__add", json.RawMessage(`{"a":1}`))
	if err == nil {
		t.Fatal("expected validation error for missing required field b")
	}
	extErr, ok := err.(*Error)
	if !ok || extErr.Kind != KindValidation {
		t.Errorf("expected KindValidation, got %v", err)
	}
}

func TestManagerCallToolUnknownExtension(t *testing.T) {
	mgr := NewManager()
	_, err := mgr.CallTool(context.Background(), "ghost__spook", json.RawMessage(`{}`))
	if err == nil {
		t.Fatal("expected error for unknown extension")
	}
}

func TestManagerRemoveExtensionNotRegisteredIsNoop(t *testing.T) {
	mgr := NewManager()
	if err := mgr.RemoveExtension("nope"); err != nil {
		t.Errorf("RemoveExtension on unknown key should be a no-op, got %v", err)
	}
}
