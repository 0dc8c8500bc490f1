// Package bedrock adapts the AWS Bedrock Converse API to the model.Client
// seam, grounded on the teacher's features/model/bedrock client: split
// system vs. conversational messages, encode tool schemas into Bedrock's
// ToolConfiguration, translate Converse output (text + tool_use blocks) back
// into this runtime's Message/Response shapes.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/xpert-ai/agentgraph/runtime/model"
)

// RuntimeClient mirrors the subset of *bedrockruntime.Client this adapter
// calls, so tests can substitute a fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Options configures model id resolution and request defaults.
type Options struct {
	Runtime      RuntimeClient
	DefaultModel string
	HighModel    string
	SmallModel   string
	MaxTokens    int
	Temperature  float32
}

// Client implements model.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	opts    Options
}

// New builds a Client from an already-configured Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model identifier is required")
	}
	opts.Runtime = runtime
	return &Client{runtime: runtime, opts: opts}, nil
}

// Complete implements model.Client.
func (c *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	input, nameMap, err := c.prepareInput(req)
	if err != nil {
		return model.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return model.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateOutput(out, nameMap)
}

func (c *Client) resolveModelID(req model.Request) string {
	if req.Model != "" {
		return req.Model
	}
	switch req.ModelClass {
	case model.ModelClassLarge:
		if c.opts.HighModel != "" {
			return c.opts.HighModel
		}
	case model.ModelClassSmall:
		if c.opts.SmallModel != "" {
			return c.opts.SmallModel
		}
	}
	return c.opts.DefaultModel
}

func (c *Client) prepareInput(req model.Request) (*bedrockruntime.ConverseInput, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("bedrock: messages are required")
	}
	modelID := c.resolveModelID(req)

	messages, system, err := encodeMessages(req)
	if err != nil {
		return nil, nil, err
	}

	toolConfig, sanToCanon, canonToSan, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: messages,
		System:   system,
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.opts.MaxTokens
	}
	temperature := c.opts.Temperature
	if req.Temperature != nil {
		temperature = float32(*req.Temperature)
	}
	infConfig := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		infConfig.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if temperature > 0 {
		infConfig.Temperature = aws.Float32(temperature)
	}
	input.InferenceConfig = infConfig

	if req.ToolChoice.Mode == model.ToolChoiceSpecific && toolConfig != nil {
		sanitized, ok := canonToSan[req.ToolChoice.Name]
		if !ok {
			return nil, nil, fmt.Errorf("bedrock: tool choice name %q does not match any tool", req.ToolChoice.Name)
		}
		toolConfig.ToolChoice = &brtypes.ToolChoiceMemberTool{
			Value: brtypes.SpecificToolChoice{Name: aws.String(sanitized)},
		}
	}

	return input, sanToCanon, nil
}

func encodeMessages(req model.Request) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	var system []brtypes.SystemContentBlock
	if req.SystemMessage != "" {
		system = append(system, &brtypes.SystemContentBlockMemberText{Value: req.SystemMessage})
	}

	out := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == model.RoleSystem {
			for _, p := range m.Content {
				if v, ok := p.(model.TextPart); ok && v.Text != "" {
					system = append(system, &brtypes.SystemContentBlockMemberText{Value: v.Text})
				}
			}
			continue
		}

		var blocks []brtypes.ContentBlock
		for _, part := range m.Content {
			switch v := part.(type) {
			case model.TextPart:
				if v.Text != "" {
					blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: v.Text})
				}
			case model.ToolResultPart:
				status := brtypes.ToolResultStatusSuccess
				if v.IsError {
					status = brtypes.ToolResultStatusError
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolResult{
					Value: brtypes.ToolResultBlock{
						ToolUseId: aws.String(v.ToolUseID),
						Status:    status,
						Content: []brtypes.ToolResultContentBlock{
							&brtypes.ToolResultContentBlockMemberText{Value: v.Content},
						},
					},
				})
			}
		}
		for _, tc := range m.ToolCalls {
			var input document.Interface
			if len(tc.Args) > 0 {
				input = document.NewLazyDocument(json.RawMessage(tc.Args))
			}
			blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{
				Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(tc.Name),
					Input:     input,
				},
			})
		}
		if len(blocks) == 0 {
			continue
		}

		var role brtypes.ConversationRole
		switch m.Role {
		case model.RoleUser, model.RoleTool:
			role = brtypes.ConversationRoleUser
		case model.RoleAssistant:
			role = brtypes.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
		out = append(out, brtypes.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	sanToCanon := make(map[string]string, len(defs))
	canonToSan := make(map[string]string, len(defs))
	tools := make([]brtypes.Tool, 0, len(defs))
	for _, def := range defs {
		sanitized := def.Name
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q collides with %q", def.Name, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		var schemaDoc document.Interface
		if len(def.Schema) > 0 {
			schemaDoc = document.NewLazyDocument(json.RawMessage(def.Schema))
		}
		tools = append(tools, &brtypes.ToolMemberToolSpec{
			Value: brtypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(def.Description),
				InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: schemaDoc},
			},
		})
	}
	return &brtypes.ToolConfiguration{Tools: tools}, sanToCanon, canonToSan, nil
}

func translateOutput(out *bedrockruntime.ConverseOutput, sanToCanon map[string]string) (model.Response, error) {
	if out == nil || out.Output == nil {
		return model.Response{}, errors.New("bedrock: converse output is empty")
	}
	member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return model.Response{}, errors.New("bedrock: unexpected converse output shape")
	}

	result := model.Message{Role: model.RoleAssistant}
	for _, block := range member.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			if v.Value != "" {
				result.Content = append(result.Content, model.TextPart{Text: v.Value})
			}
		case *brtypes.ContentBlockMemberToolUse:
			name := aws.ToString(v.Value.Name)
			if canon, ok := sanToCanon[name]; ok {
				name = canon
			}
			var args json.RawMessage
			if v.Value.Input != nil {
				if data, err := v.Value.Input.MarshalSmithyDocument(); err == nil {
					args = data
				}
			}
			result.ToolCalls = append(result.ToolCalls, model.ToolCall{
				ID:   aws.ToString(v.Value.ToolUseId),
				Name: name,
				Args: args,
			})
		}
	}

	resp := model.Response{Message: result, StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
		}
	}
	return resp, nil
}
