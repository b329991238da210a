// Package openai adapts the OpenAI chat completions API to the normalized
// provider.Provider contract using the sashabaranov/go-openai client.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	openaisdk "github.com/sashabaranov/go-openai"

	"github.com/riverrun-ai/agentrt/pkg/message"
	"github.com/riverrun-ai/agentrt/pkg/provider"
	"github.com/riverrun-ai/agentrt/pkg/provider/toolshim"
	"github.com/riverrun-ai/agentrt/pkg/tool"
)

func init() {
	provider.Register("openai", func(cfg provider.ModelConfig) (provider.Provider, error) {
		return NewProvider(Config{Model: cfg}), nil
	})
}

// Config configures an Adapter.
type Config struct {
	APIKey  string
	BaseURL string
	Model   provider.ModelConfig
}

// Adapter implements provider.Provider against the OpenAI chat completions
// API. A zero-value APIKey produces an Adapter that fails every Complete
// call with an Authentication error rather than panicking on a nil client,
// so a misconfigured provider is visible at call time, not construction
// time.
type Adapter struct {
	client *openaisdk.Client
	model  provider.ModelConfig
	retry  *provider.RetryPolicy
}

// New builds an Adapter from cfg.
func New(cfg Config) *Adapter {
	var client *openaisdk.Client
	if cfg.APIKey != "" {
		sdkCfg := openaisdk.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			sdkCfg.BaseURL = cfg.BaseURL
		}
		client = openaisdk.NewClientWithConfig(sdkCfg)
	}
	return &Adapter{client: client, model: cfg.Model, retry: provider.NewRetryPolicy()}
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
func (a *Adapter) Name() string { return "openai" }

// SupportsTools implements provider.Provider.
func (a *Adapter) SupportsTools() bool { return true }

// Complete implements provider.Provider.
func (a *Adapter) Complete(ctx context.Context, req provider.CompletionRequest) (*message.Message, provider.Usage, error) {
	if a.client == nil {
		return nil, provider.Usage{}, (&provider.Error{Provider: a.Name(), Model: a.model.ModelName, Kind: provider.Authentication, Message: "openai API key not configured"})
	}

	chatReq, err := a.buildRequest(req)
	if err != nil {
		return nil, provider.Usage{}, provider.NewError(a.Name(), a.model.ModelName, err)
	}

	resp, err := provider.Do(ctx, a.retry, true, func() (openaisdk.ChatCompletionResponse, error) {
		r, err := a.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return r, classifyOpenAIError(a.Name(), a.model.ModelName, err)
		}
		return r, nil
	})
	if err != nil {
		return nil, provider.Usage{}, err
	}

	assistant, usageErr := a.decodeResponse(resp)
	usage := provider.Usage{
		ModelString:  resp.Model,
		InputTokens:  intPtr(resp.Usage.PromptTokens),
		OutputTokens: intPtr(resp.Usage.CompletionTokens),
		TotalTokens:  intPtr(resp.Usage.TotalTokens),
	}
	if usageErr != nil {
		return assistant, usage, (&provider.Error{Provider: a.Name(), Model: a.model.ModelName, Kind: provider.UsageError, Cause: usageErr})
	}
	return assistant, usage, nil
}

func (a *Adapter) buildRequest(req provider.CompletionRequest) (openaisdk.ChatCompletionRequest, error) {
	messages := make([]openaisdk.ChatCompletionMessage, 0, len(req.Messages)+1)

	if req.SystemPrompt != "" {
		messages = append(messages, openaisdk.ChatCompletionMessage{
			Role:    openaisdk.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, m := range req.Messages {
		converted, err := convertMessage(m)
		if err != nil {
			return openaisdk.ChatCompletionRequest{}, err
		}
		messages = append(messages, converted...)
	}

	chatReq := openaisdk.ChatCompletionRequest{
		Model:    a.model.ModelName,
		Messages: messages,
	}
	if a.model.MaxTokens != nil {
		chatReq.MaxTokens = *a.model.MaxTokens
	}
	if a.model.Temperature != nil {
		chatReq.Temperature = float32(*a.model.Temperature)
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}

	return chatReq, nil
}

func convertMessage(m *message.Message) ([]openaisdk.ChatCompletionMessage, error) {
	switch m.Role {
	case message.RoleUser:
		return convertUserMessage(m)
	case message.RoleAssistant:
		return convertAssistantMessage(m)
	default:
		return nil, fmt.Errorf("openai adapter: unknown message role %q", m.Role)
	}
}

func convertUserMessage(m *message.Message) ([]openaisdk.ChatCompletionMessage, error) {
	var parts []openaisdk.ChatMessagePart
	var toolResponses []openaisdk.ChatCompletionMessage
	hasImage := false

	for _, c := range m.Content {
		switch v := c.(type) {
		case message.Text:
			parts = append(parts, openaisdk.ChatMessagePart{Type: openaisdk.ChatMessagePartTypeText, Text: v.Text})
		case message.Image:
			hasImage = true
			parts = append(parts, openaisdk.ChatMessagePart{
				Type: openaisdk.ChatMessagePartTypeImageURL,
				ImageURL: &openaisdk.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", v.MimeType, v.Data),
					Detail: openaisdk.ImageURLDetailAuto,
				},
			})
		case message.ToolResponse:
			toolResponses = append(toolResponses, openaisdk.ChatCompletionMessage{
				Role:       openaisdk.ChatMessageRoleTool,
				Content:    toolResponseText(v),
				ToolCallID: v.ID,
			})
		case message.ToolConfirmationRequest, message.FrontendToolRequest:
			// never sent to a provider
		}
	}

	var out []openaisdk.ChatCompletionMessage
	switch {
	case hasImage:
		out = append(out, openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleUser, MultiContent: parts})
	case len(parts) > 0:
		var joined strings.Builder
		for i, p := range parts {
			if i > 0 {
				joined.WriteString("\n")
			}
			joined.WriteString(p.Text)
		}
		out = append(out, openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleUser, Content: joined.String()})
	}
	out = append(out, toolResponses...)

	return out, nil
}

func convertAssistantMessage(m *message.Message) ([]openaisdk.ChatCompletionMessage, error) {
	msg := openaisdk.ChatCompletionMessage{Role: openaisdk.ChatMessageRoleAssistant, Content: m.ConcatText()}

	for _, c := range m.Content {
		tr, ok := c.(message.ToolRequest)
		if !ok || tr.Result.Call == nil {
			continue
		}
		msg.ToolCalls = append(msg.ToolCalls, openaisdk.ToolCall{
			ID:   tr.ID,
			Type: openaisdk.ToolTypeFunction,
			Function: openaisdk.FunctionCall{
				Name:      tr.Result.Call.Name,
				Arguments: string(tr.Result.Call.Arguments),
			},
		})
	}

	return []openaisdk.ChatCompletionMessage{msg}, nil
}

func toolResponseText(resp message.ToolResponse) string {
	if resp.Result.Err != nil {
		return resp.Result.Err.Message
	}
	var texts []string
	for _, c := range resp.Result.Content {
		if t, ok := c.(message.Text); ok {
			texts = append(texts, t.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func convertTools(tools []tool.Tool) []openaisdk.Tool {
	out := make([]openaisdk.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if len(t.InputSchema) > 0 {
			if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
				schema = map[string]any{"type": "object", "properties": map[string]any{}}
			}
		} else {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openaisdk.Tool{
			Type: openaisdk.ToolTypeFunction,
			Function: &openaisdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

func (a *Adapter) decodeResponse(resp openaisdk.ChatCompletionResponse) (*message.Message, error) {
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai adapter: response had no choices")
	}
	choice := resp.Choices[0]

	assistant := message.NewAssistantMessage()
	if choice.Message.Content != "" {
		assistant.WithText(choice.Message.Content)
	}
	for _, tc := range choice.Message.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		if tc.Function.Name == "" {
			assistant.WithToolRequest(id, message.ParseErr("missing function name"))
			continue
		}
		assistant.WithToolRequest(id, message.OK(message.ToolCall{
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		}))
	}
	return assistant, nil
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func classifyOpenAIError(providerName, model string, err error) error {
	var apiErr *openaisdk.APIError
	if errors.As(err, &apiErr) {
		perr := provider.NewError(providerName, model, err).WithStatus(apiErr.HTTPStatusCode).WithCode(fmt.Sprintf("%v", apiErr.Code))
		return perr
	}
	return provider.NewError(providerName, model, err)
}
