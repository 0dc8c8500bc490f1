package anthropic_test

import (
	"context"
	"encoding/json"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/model/anthropic"
)

type fakeMessagesClient struct {
	response *sdk.Message
}

func (f fakeMessagesClient) New(context.Context, sdk.MessageNewParams, ...option.RequestOption) (*sdk.Message, error) {
	return f.response, nil
}

func TestCompleteTranslatesTextAndToolUse(t *testing.T) {
	raw := sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "hello there"},
			{Type: "tool_use", ID: "call_1", Name: "search", Input: json.RawMessage(`{"query":"go"}`)},
		},
		StopReason: "tool_use",
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}
	client, err := anthropic.New(fakeMessagesClient{response: &raw}, anthropic.Options{
		DefaultModel: "claude-3-5-sonnet",
		MaxTokens:    1024,
	})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		Messages: []model.Message{
			{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, resp.Message.Role)
	require.Len(t, resp.Message.ToolCalls, 1)
	require.Equal(t, "call_1", resp.Message.ToolCalls[0].ID)
	require.Equal(t, 10, resp.Usage.InputTokens)
}

func TestNewRejectsMissingDefaultModel(t *testing.T) {
	_, err := anthropic.New(fakeMessagesClient{}, anthropic.Options{})
	require.Error(t, err)
}
