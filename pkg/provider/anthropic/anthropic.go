// Package anthropic adapts the Anthropic Messages API to the normalized
// provider.Provider contract using anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
	"github.com/riverrun-ai/agentrt/pkg/provider/toolshim"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

func init() {
	provider.Register("anthropic", func(cfg provider.ModelConfig) (provider.Provider, error) {
		return NewProvider(Config{Model: cfg}), nil
	})
}

// Config configures an Adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   provider.ModelConfig
}

const defaultMaxTokens = 4096

// Adapter implements provider.Provider against the Anthropic Messages API.
type Adapter struct {
	client *anthropicsdk.Client
	hasKey bool
	model  provider.ModelConfig
	retry  *provider.RetryPolicy
}

// New builds an Adapter from cfg.
func New(cfg Config) *Adapter {
	var opts []option.RequestOption
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropicsdk.NewClient(opts...)
	return &Adapter{client: &client, hasKey: cfg.APIKey != "", model: cfg.Model, retry: provider.NewRetryPolicy()}
}

// NewProvider builds the provider.Provider for cfg, wrapping the Adapter in
// the toolshim transformation when cfg.Model.Toolshim is set: the model
// receives no native tools field and instead gets its tool schemas
// documented in the system prompt, with a second Complete call (against
// cfg.Model.ToolshimModel, or the same model if unset) interpreting its
// free-text reply back into structured tool calls.
func NewProvider(cfg Config) provider.Provider {
	adapter := New(cfg)
	if !cfg.Model.Toolshim {
		return adapter
	}

	interpreterModel := cfg.Model.ToolshimModel
	if interpreterModel == "" {
		interpreterModel = cfg.Model.ModelName
	}
	interpreterCfg := cfg
	interpreterCfg.Model = provider.ModelConfig{ModelName: interpreterModel}

	interpreter := &toolshim.ProviderInterpreter{
		Provider: New(interpreterCfg),
		Model:    interpreterCfg.Model,
	}
	return toolshim.Wrap(adapter, interpreter)
}

// Name implements provider.Provider.
func (a *Adapter) Name() string { return "anthropic" }

// SupportsTools implements provider.Provider.
func (a *Adapter) SupportsTools() bool { return true }

// Complete implements provider.Provider.
func (a *Adapter) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	if !a.hasKey {
		return nil, provider.Usage{}, &provider.Error{Provider: a.Name(), Model: a.model.ModelName, Kind: provider.Authentication, Message: "anthropic API key not configured"}
	}

	params, err := a.buildParams(req)
	if err != nil {
		return nil, provider.Usage{}, provider.NewError(a.Name(), a.model.ModelName, err)
	}

	resp, err := provider.Do(ctx, a.retry, true, func() (*anthropicsdk.Message, error) {
		msg, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return msg, classifyAnthropicError(a.Name(), a.model.ModelName, err)
		}
		return msg, nil
	})
	if err != nil {
		return nil, provider.Usage{}, err
	}

	assistant := decodeResponse(resp)
	usage := provider.Usage{
		ModelString:  string(resp.Model),
		InputTokens:  intPtr(int(resp.Usage.InputTokens)),
		OutputTokens: intPtr(int(resp.Usage.OutputTokens)),
		TotalTokens:  intPtr(int(resp.Usage.InputTokens + resp.Usage.OutputTokens)),
	}
	return assistant, usage, nil
}

func (a *Adapter) buildParams(req provider.CompletionRequest) (anthropicsdk.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropicsdk.MessageNewParams{}, err
	}

	maxTokens := int64(defaultMaxTokens)
	if a.model.MaxTokens != nil {
		maxTokens = int64(*a.model.MaxTokens)
	}

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(a.model.ModelName),
		Messages:  messages,
		MaxTokens: maxTokens,
	}

	if req.SystemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if a.model.Temperature != nil {
		params.Temperature = anthropicsdk.Float(*a.model.Temperature)
	}
	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	return params, nil
}

func convertMessages(messages []*message.Message) ([]anthropicsdk.MessageParam, error) {
	result := make([]anthropicsdk.MessageParam, 0, len(messages))

	for _, m := range messages {
		var blocks []anthropicsdk.ContentBlockParamUnion

		for _, c := range m.Content {
			switch v := c.(type) {
			case message.Text:
				blocks = append(blocks, anthropicsdk.NewTextBlock(v.Text))
			case message.Image:
				blocks = append(blocks, anthropicsdk.NewImageBlockBase64(v.MimeType, v.Data))
			case message.ToolRequest:
				if v.Result.Call == nil {
					continue
				}
				var input map[string]any
				if len(v.Result.Call.Arguments) > 0 {
					if err := json.Unmarshal(v.Result.Call.Arguments, &input); err != nil {
						return nil, fmt.Errorf("anthropic adapter: invalid tool call arguments for %s: %w", v.Result.Call.Name, err)
					}
				}
				blocks = append(blocks, anthropicsdk.NewToolUseBlock(v.ID, input, v.Result.Call.Name))
			case message.ToolResponse:
				text, isError := toolResponseText(v)
				blocks = append(blocks, anthropicsdk.NewToolResultBlock(v.ID, text, isError))
			case message.ToolConfirmationRequest, message.FrontendToolRequest:
				// never sent to a provider
			}
		}

		if len(blocks) == 0 {
			continue
		}

		if m.Role == message.RoleAssistant {
			result = append(result, anthropicsdk.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropicsdk.NewUserMessage(blocks...))
		}
	}

	return result, nil
}

func toolResponseText(resp message.ToolResponse) (string, bool) {
	if resp.Result.Err != nil {
		return resp.Result.Err.Message, true
	}
	text := ""
	for i, c := range resp.Result.Content {
		t, ok := c.(message.Text)
		if !ok {
			continue
		}
		if i > 0 {
			text += "\n"
		}
		text += t.Text
	}
	return text, false
}

func convertTools(tools []tool.Tool) ([]anthropicsdk.ToolUnionParam, error) {
	result := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropicsdk.ToolInputSchemaParam
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				return nil, fmt.Errorf("anthropic adapter: invalid schema for %s: %w", t.Name, err)
			}
		}

		param := anthropicsdk.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("anthropic adapter: invalid tool definition for %s", t.Name)
		}
		param.OfTool.Description = anthropicsdk.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}

func decodeResponse(resp *anthropicsdk.Message) *message.Message {
	assistant := message.NewAssistantMessage()
	for _, block := range resp.Content {
		switch v := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			assistant.WithText(v.Text)
		case anthropicsdk.ToolUseBlock:
			id := v.ID
			if id == "" {
				id = uuid.NewString()
			}
			assistant.WithToolRequest(id, message.OK(message.ToolCall{
				Name:      v.Name,
				Arguments: json.RawMessage(v.Input),
			}))
		}
	}
	return assistant
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func classifyAnthropicError(providerName, model string, err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return provider.NewError(providerName, model, err).WithStatus(apiErr.StatusCode)
	}
	return provider.NewError(providerName, model, err)
}
