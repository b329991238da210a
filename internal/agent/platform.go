package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/riverrun-ai/agentrt/internal/extension"
	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

// Platform tool names. read_resource and list_resources are synthesized
// and served directly by extension.Manager (see internal/extension's own
// platform__ constants); Core only needs to add the two tools that manage
// the extension set itself, per §4.3 step 7 and the GLOSSARY's platform
// tool list.
const (
	ToolSearchAvailableExtensions = "platform" + tool.Separator + "search_available_extensions"
	ToolManageExtensions          = "platform" + tool.Separator + "manage_extensions"
)

// AvailableExtension describes an extension Core knows how to start but has
// not necessarily loaded into the live extension.Manager yet.
type AvailableExtension struct {
	Key         string
	Name        string
	Description string
	Config      extension.Config
}

// Catalog is the set of extensions discoverable via
// search_available_extensions, independent of whether they are currently
// running. manage_extensions' "add" action resolves a key against this
// catalog before starting it.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]AvailableExtension
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]AvailableExtension)}
}

// Register adds or replaces a catalog entry.
func (c *Catalog) Register(e AvailableExtension) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e
}

// Search returns every entry whose name or description contains query,
// case-insensitively; an empty query returns the whole catalog. Results
// are sorted by key for deterministic output.
func (c *Catalog) Search(query string) []AvailableExtension {
	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	var out []AvailableExtension
	for _, e := range c.entries {
		if q == "" || strings.Contains(strings.ToLower(e.Name), q) || strings.Contains(strings.ToLower(e.Description), q) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Lookup returns the catalog entry registered under key.
func (c *Catalog) Lookup(key string) (AvailableExtension, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func platformManagementTools() []tool.Tool {
	return []tool.Tool{
		{
			Name:        ToolSearchAvailableExtensions,
			Description: "Search the catalog of extensions that can be loaded, by name or description.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"query":{"type":"string"}},"additionalProperties":false}`),
			Annotations: &tool.Annotations{ReadOnlyHint: true},
		},
		{
			Name:        ToolManageExtensions,
			Description: "Load or unload an extension by its catalog key.",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"action":{"type":"string","enum":["add","remove"]},"key":{"type":"string"}},"required":["action","key"],"additionalProperties":false}`),
		},
	}
}

func (c *Core) handleSearchAvailableExtensions(arguments json.RawMessage) message.ToolResponseResult {
	if c.catalog == nil {
		return message.ToolOK(message.Text{Text: "[]"})
	}

	var params struct {
		Query string `json:"query"`
	}
	if len(arguments) > 0 {
		if err := json.Unmarshal(arguments, &params); err != nil {
			return message.ToolErr(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	type entry struct {
		Key         string `json:"key"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	matches := c.catalog.Search(params.Query)
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		entries = append(entries, entry{Key: m.Key, Name: m.Name, Description: m.Description})
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return message.ToolErr(fmt.Sprintf("marshal results: %v", err))
	}
	return message.ToolOK(message.Text{Text: string(encoded)})
}

func (c *Core) handleManageExtensions(ctx context.Context, arguments json.RawMessage) message.ToolResponseResult {
	var params struct {
		Action string `json:"action"`
		Key    string `json:"key"`
	}
	if err := json.Unmarshal(arguments, &params); err != nil {
		return message.ToolErr(fmt.Sprintf("invalid arguments: %v", err))
	}

	switch params.Action {
	case "add":
		if c.catalog == nil {
			return message.ToolErr("no extension catalog is configured")
		}
		entry, ok := c.catalog.Lookup(params.Key)
		if !ok {
			return message.ToolErr(fmt.Sprintf("no catalog entry for key %q", params.Key))
		}
		if err := c.extensions.AddExtension(ctx, entry.Config); err != nil {
			return message.ToolErr(fmt.Sprintf("failed to load extension %q: %v", params.Key, err))
		}
		return message.ToolOK(message.Text{Text: fmt.Sprintf("loaded extension %q", params.Key)})
	case "remove":
		if err := c.extensions.RemoveExtension(params.Key); err != nil {
			return message.ToolErr(fmt.Sprintf("failed to remove extension %q: %v", params.Key, err))
		}
		return message.ToolOK(message.Text{Text: fmt.Sprintf("removed extension %q", params.Key)})
	default:
		return message.ToolErr(fmt.Sprintf("unknown action %q, expected add or remove", params.Action))
	}
}

func extensionContentToMessageContent(blocks []extension.Content) []message.Content {
	out := make([]message.Content, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "image":
			out = append(out, message.Image{Data: b.Data, MimeType: b.MimeType})
		case "resource":
			if b.Resource != nil {
				out = append(out, message.Text{Text: b.Resource.Text})
			}
		default:
			out = append(out, message.Text{Text: b.Text})
		}
	}
	return out
}
