package provider

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultContextLimit is used whenever no model-specific entry matches.
const defaultContextLimit = 128_000

// contextLimitTable maps a model-name substring to its known context
// window, checked in the order below (first match wins). Entries are the
// published limits for the model families the pack's adapters target.
var contextLimitTable = []struct {
	substr string
	limit  int
}{
	{"gpt-4o", 128_000},
	{"gpt-4-turbo", 128_000},
	{"o1-mini", 128_000},
	{"o1-preview", 128_000},
	{"o1", 200_000},
	{"o3-mini", 200_000},
	{"gpt-4.1", 1_000_000},
	{"gpt-4-1", 1_000_000},
	{"claude-3", 200_000},
	{"gemini-2.5", 1_000_000},
	{"gemini-2-5", 1_000_000},
	{"llama3.2", 128_000},
	{"llama3.3", 128_000},
}

// ContextLimitForModel returns the known context window for modelName, or
// defaultContextLimit if no table entry matches.
func ContextLimitForModel(modelName string) int {
	for _, entry := range contextLimitTable {
		if strings.Contains(modelName, entry.substr) {
			return entry.limit
		}
	}
	return defaultContextLimit
}

// Default tokenizer names used when ModelConfig.TokenizerName is empty.
const (
	defaultClaudeTokenizer = "Xenova--claude-tokenizer"
	defaultGPT4oTokenizer  = "Xenova--gpt-4o"
)

// ModelConfig describes a model selection and its generation parameters.
// Zero values for the optional fields mean "let the adapter and context
// limit table decide" — a nil ContextLimit is resolved via
// ContextLimitForModel, not treated as zero.
type ModelConfig struct {
	ModelName     string   `yaml:"model_name"`
	TokenizerName string   `yaml:"tokenizer_name,omitempty"`
	ContextLimit  *int     `yaml:"context_limit,omitempty"`
	Temperature   *float64 `yaml:"temperature,omitempty"`
	MaxTokens     *int     `yaml:"max_tokens,omitempty"`
	Toolshim      bool     `yaml:"toolshim,omitempty"`
	ToolshimModel string   `yaml:"toolshim_model,omitempty"`
}

// EffectiveContextLimit returns ContextLimit if set, otherwise the
// model-name-derived default.
func (m ModelConfig) EffectiveContextLimit() int {
	if m.ContextLimit != nil {
		return *m.ContextLimit
	}
	return ContextLimitForModel(m.ModelName)
}

// EffectiveTokenizerName returns TokenizerName if set, otherwise a
// name inferred from whether ModelName looks like a Claude model.
func (m ModelConfig) EffectiveTokenizerName() string {
	if m.TokenizerName != "" {
		return m.TokenizerName
	}
	if strings.Contains(m.ModelName, "claude") {
		return defaultClaudeTokenizer
	}
	return defaultGPT4oTokenizer
}

// LoadModelConfig parses a YAML-encoded ModelConfig, expanding ${VAR}/$VAR
// references against the process environment first so a config file can
// reference an API key or model override without hardcoding it.
func LoadModelConfig(data []byte) (ModelConfig, error) {
	var cfg ModelConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return ModelConfig{}, fmt.Errorf("provider: parsing model config: %w", err)
	}
	return cfg, nil
}
