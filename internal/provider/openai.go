package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ChatClient is the subset of the openai-go client the provider uses. It is
// satisfied by *openai.ChatCompletionService.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIProvider implements Provider for any OpenAI-compatible chat
// completions endpoint with function calling.
type OpenAIProvider struct {
	id          string
	chat        ChatClient
	model       string
	maxTokens   int
	temperature *float64
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*openAISettings)

type openAISettings struct {
	chat        ChatClient
	reqOpts     []option.RequestOption
	maxTokens   int
	temperature *float64
}

// WithChatClient replaces the SDK client, mainly for tests.
func WithChatClient(c ChatClient) OpenAIOption {
	return func(s *openAISettings) { s.chat = c }
}

// WithRequestOptions appends SDK request options (base URL, retries, HTTP client).
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(s *openAISettings) { s.reqOpts = append(s.reqOpts, opts...) }
}

func WithMaxTokens(n int) OpenAIOption {
	return func(s *openAISettings) { s.maxTokens = n }
}

func WithTemperature(t *float64) OpenAIOption {
	return func(s *openAISettings) { s.temperature = t }
}

// NewOpenAIProvider creates a provider. An empty baseURL targets the public
// OpenAI API.
func NewOpenAIProvider(id, baseURL, apiKey, model string, opts ...OpenAIOption) *OpenAIProvider {
	s := &openAISettings{}
	for _, o := range opts {
		o(s)
	}
	if s.chat == nil {
		reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if baseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
		}
		reqOpts = append(reqOpts, s.reqOpts...)
		client := openai.NewClient(reqOpts...)
		s.chat = &client.Chat.Completions
	}
	return &OpenAIProvider{
		id:          id,
		chat:        s.chat,
		model:       model,
		maxTokens:   s.maxTokens,
		temperature: s.temperature,
	}
}

func (p *OpenAIProvider) ID() string { return p.id }

// Complete sends the conversation and tool specs and returns either the
// model's text or its requested tool calls.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	params, err := p.toParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.chat.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	msg := resp.Choices[0].Message
	out := &CompletionResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: msg.Content,
		Usage: Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) toParams(req *CompletionRequest) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	if model == "" {
		return openai.ChatCompletionNewParams{}, errors.New("openai: model is required")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case RoleUser:
			msgs = append(msgs, openai.UserMessage(m.Content))
		case RoleTool:
			msgs = append(msgs, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{}
			if m.Content != "" {
				asst.Content.OfString = openai.String(m.Content)
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			return openai.ChatCompletionNewParams{}, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp == nil {
		temp = p.temperature
	}
	if temp != nil {
		params.Temperature = openai.Float(*temp)
	}
	return params, nil
}
