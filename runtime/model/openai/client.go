// Package openai adapts github.com/openai/openai-go to the model.Client
// seam. The request/response translation (message role mapping, tool
// encoding, tool-call argument accumulation) follows the same shape as the
// teacher's features/model/openai adapter, restated against the official
// openai-go client instead of the third-party go-openai package the pack
// demonstrates.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/xpert-ai/agentgraph/runtime/model"
)

// ChatClient captures the subset of the openai-go client used by the
// adapter, so tests can substitute a fake.
type ChatClient interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Options configures the OpenAI adapter.
type Options struct {
	DefaultModel string
	MaxTokens    int
}

// Client implements model.Client via OpenAI Chat Completions.
type Client struct {
	chat ChatClient
	opts Options
}

// New builds a Client from an already-configured chat completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.DefaultModel) == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, opts: opts}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP transport.
func NewFromAPIKey(apiKey, defaultModel string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := openai.NewClient(option.WithAPIKey(apiKey))
	return New(c.Chat.Completions, Options{DefaultModel: defaultModel})
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if len(req.Messages) == 0 {
		return model.Response{}, errors.New("openai: messages are required")
	}
	modelID := strings.TrimSpace(req.Model)
	if modelID == "" {
		modelID = c.opts.DefaultModel
	}

	messages, err := encodeMessages(req)
	if err != nil {
		return model.Response{}, err
	}
	tools, err := encodeTools(req.Tools)
	if err != nil {
		return model.Response{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: messages,
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return model.Response{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	return translateResponse(resp), nil
}

func encodeMessages(req model.Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemMessage != "" {
		out = append(out, openai.SystemMessage(req.SystemMessage))
	}
	for _, m := range req.Messages {
		text := textContent(m)
		switch m.Role {
		case model.RoleSystem:
			if text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case model.RoleUser:
			out = append(out, openai.UserMessage(text))
		case model.RoleAssistant:
			msg := openai.AssistantMessage(text)
			if len(m.ToolCalls) > 0 {
				calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
				for i, tc := range m.ToolCalls {
					calls[i] = openai.ChatCompletionMessageToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: string(tc.Args),
						},
					}
				}
				msg.OfAssistant.ToolCalls = calls
			}
			out = append(out, msg)
		case model.RoleTool:
			out = append(out, openai.ToolMessage(text, m.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported role %q", m.Role)
		}
	}
	return out, nil
}

func textContent(m model.Message) string {
	var sb strings.Builder
	for _, p := range m.Content {
		if v, ok := p.(model.TextPart); ok {
			sb.WriteString(v.Text)
		}
		if v, ok := p.(model.ToolResultPart); ok {
			sb.WriteString(v.Content)
		}
	}
	return sb.String()
}

func encodeTools(defs []model.ToolDefinition) ([]openai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var schema map[string]any
		if len(def.Schema) > 0 {
			if err := json.Unmarshal(def.Schema, &schema); err != nil {
				return nil, fmt.Errorf("openai: tool %s schema: %w", def.Name, err)
			}
		}
		out = append(out, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  schema,
			},
		})
	}
	return out, nil
}

func translateResponse(resp *openai.ChatCompletion) model.Response {
	out := model.Message{Role: model.RoleAssistant}
	var stop string
	var usage model.TokenUsage
	if resp != nil {
		usage = model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		}
		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			stop = string(choice.FinishReason)
			if choice.Message.Content != "" {
				out.Content = append(out.Content, model.TextPart{Text: choice.Message.Content})
			}
			for _, tc := range choice.Message.ToolCalls {
				out.ToolCalls = append(out.ToolCalls, model.ToolCall{
					ID:   tc.ID,
					Name: tc.Function.Name,
					Args: json.RawMessage(tc.Function.Arguments),
				})
			}
		}
	}
	return model.Response{Message: out, Usage: usage, StopReason: stop}
}
