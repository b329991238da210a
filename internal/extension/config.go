// Package extension hosts the set of live tool servers the agent loop may
// call into. Each extension speaks JSON-RPC over one of three transports
// (subprocess stdio, HTTP+SSE, or an in-process function) and contributes
// tools, resources, and prompts the Manager aggregates and disambiguates.
package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportKind tags which of the three transports a Config selects.
type TransportKind string

const (
	TransportStdio   TransportKind = "stdio"
	TransportSSE     TransportKind = "sse"
	TransportBuiltin TransportKind = "builtin"
)

// Config is the tagged variant describing one extension to host, matching
// §3 of the runtime specification's Extension Config. Only the fields for
// the selected Kind are meaningful.
type Config struct {
	Kind TransportKind `yaml:"kind" json:"kind"`
	Name string        `yaml:"name" json:"name"`

	// Stdio
	Cmd string            `yaml:"cmd,omitempty" json:"cmd,omitempty"`
	Args []string         `yaml:"args,omitempty" json:"args,omitempty"`
	Env map[string]string `yaml:"env_map,omitempty" json:"env_map,omitempty"`

	// SSE
	URI string `yaml:"uri,omitempty" json:"uri,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Key is the extension's stable identity: its Name lowercased with all
// whitespace removed. Tool names hosted by this extension are disambiguated
// by prefixing with Key and tool.Separator.
func (c Config) Key() string {
	return strings.Join(strings.Fields(strings.ToLower(c.Name)), "")
}

// Validate checks the configuration for the path-traversal and
// shell-metacharacter hazards a stdio extension could otherwise smuggle
// into a spawned process, before anything is ever launched.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("extension: name is required")
	}
	if c.Key() == "" {
		return fmt.Errorf("extension: name %q has no usable key", c.Name)
	}

	switch c.Kind {
	case TransportStdio:
		if c.Cmd == "" {
			return fmt.Errorf("extension %s: cmd is required for stdio transport", c.Name)
		}
		if err := validatePath(c.Cmd); err != nil {
			return fmt.Errorf("extension %s: %w", c.Name, err)
		}
		for i, arg := range c.Args {
			if containsShellMetachars(arg) {
				return fmt.Errorf("extension %s: arg[%d] contains suspicious shell metacharacters: %q", c.Name, i, arg)
			}
		}
	case TransportSSE:
		if c.URI == "" {
			return fmt.Errorf("extension %s: uri is required for sse transport", c.Name)
		}
		if !strings.HasPrefix(c.URI, "http://") && !strings.HasPrefix(c.URI, "https://") {
			return fmt.Errorf("extension %s: uri must start with http:// or https://", c.Name)
		}
	case TransportBuiltin:
		// No transport-specific fields to validate.
	default:
		return fmt.Errorf("extension %s: unknown transport kind %q", c.Name, c.Kind)
	}
	return nil
}

// LoadConfigs parses a YAML document listing extension configs under an
// "extensions" key, expanding ${VAR}/$VAR references against the process
// environment first so a stdio extension's env_map can forward a secret
// without hardcoding it in the file.
func LoadConfigs(data []byte) ([]Config, error) {
	var doc struct {
		Extensions []Config `yaml:"extensions"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &doc); err != nil {
		return nil, fmt.Errorf("extension: parsing config: %w", err)
	}
	for _, c := range doc.Extensions {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Extensions, nil
}

func validatePath(path string) error {
	if path == "" {
		return nil
	}
	if strings.Contains(filepath.Clean(path), "..") {
		return fmt.Errorf("path contains path traversal: %q", path)
	}
	return nil
}

// containsShellMetachars flags the patterns that suggest command chaining
// or substitution; ordinary spaces and quotes are allowed since they are
// common in legitimate arguments.
func containsShellMetachars(s string) bool {
	for _, pattern := range []string{"$(", "${", "`", "&&", "||", ";", "|", ">", "<", "\n", "\r"} {
		if strings.Contains(s, pattern) {
			return true
		}
	}
	return false
}
