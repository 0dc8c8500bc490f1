package openai_test

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/model/openai"
)

type fakeChatClient struct {
	resp *sdk.ChatCompletion
}

func (f fakeChatClient) New(context.Context, sdk.ChatCompletionNewParams, ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return f.resp, nil
}

func TestCompleteTranslatesAssistantMessage(t *testing.T) {
	resp := &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{
			{
				FinishReason: "stop",
				Message:      sdk.ChatCompletionMessage{Content: "hello"},
			},
		},
		Usage: sdk.CompletionUsage{PromptTokens: 3, CompletionTokens: 2},
	}
	client, err := openai.New(fakeChatClient{resp: resp}, openai.Options{DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	out, err := client.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, out.Message.Role)
	require.Equal(t, 3, out.Usage.InputTokens)
	require.Equal(t, "stop", out.StopReason)
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := openai.New(fakeChatClient{}, openai.Options{})
	require.Error(t, err)
}
