package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/riverrun-ai/agentrt/internal/extension"
)

func TestCatalogSearchMatchesNameOrDescription(t *testing.T) {
	c := NewCatalog()
	c.Register(AvailableExtension{Key: "weather", Name: "Weather", Description: "current conditions and forecasts"})
	c.Register(AvailableExtension{Key: "notes", Name: "Notes", Description: "a scratchpad extension"})

	got := c.Search("forecast")
	if len(got) != 1 || got[0].Key != "weather" {
		t.Fatalf("expected only the weather entry to match, got %+v", got)
	}

	all := c.Search("")
	if len(all) != 2 {
		t.Fatalf("expected an empty query to return every entry, got %d", len(all))
	}
	if all[0].Key != "notes" || all[1].Key != "weather" {
		t.Fatalf("expected results sorted by key, got %+v", all)
	}
}

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog()
	c.Register(AvailableExtension{Key: "weather", Name: "Weather"})

	if _, ok := c.Lookup("missing"); ok {
		t.Fatal("expected Lookup to report false for an unregistered key")
	}
	e, ok := c.Lookup("weather")
	if !ok || e.Name != "Weather" {
		t.Fatalf("unexpected lookup result %+v", e)
	}
}

func TestHandleSearchAvailableExtensionsEncodesMatches(t *testing.T) {
	catalog := NewCatalog()
	catalog.Register(AvailableExtension{Key: "weather", Name: "Weather", Description: "forecasts"})
	core := newTestCore(t, &scriptedProvider{}, Config{Catalog: catalog})

	result := core.handleSearchAvailableExtensions(json.RawMessage(`{"query":"weather"}`))
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	encoded, err := json.Marshal(result.Content[0])
	if err != nil {
		t.Fatalf("marshal content: %v", err)
	}
	if !strings.Contains(string(encoded), "weather") {
		t.Fatalf("expected the encoded result to mention the weather entry, got %s", encoded)
	}
}

func TestHandleManageExtensionsAddUnknownKey(t *testing.T) {
	catalog := NewCatalog()
	mgr := extension.NewManager()
	core := newTestCore(t, &scriptedProvider{}, Config{Catalog: catalog, Extensions: mgr})

	result := core.handleManageExtensions(context.Background(), json.RawMessage(`{"action":"add","key":"missing"}`))
	if result.Err == nil {
		t.Fatal("expected an error for an unknown catalog key")
	}
}

func TestHandleManageExtensionsUnknownAction(t *testing.T) {
	core := newTestCore(t, &scriptedProvider{}, Config{Catalog: NewCatalog()})

	result := core.handleManageExtensions(context.Background(), json.RawMessage(`{"action":"frobnicate","key":"x"}`))
	if result.Err == nil {
		t.Fatal("expected an error for an unrecognized action")
	}
}

func TestExtensionContentToMessageContentConvertsTextAndImage(t *testing.T) {
	blocks := []extension.Content{
		{Type: "text", Text: "hello"},
		{Type: "image", Data: "base64data", MimeType: "image/png"},
	}
	out := extensionContentToMessageContent(blocks)
	if len(out) != 2 {
		t.Fatalf("expected 2 content items, got %d", len(out))
	}
}
