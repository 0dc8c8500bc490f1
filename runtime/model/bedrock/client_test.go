package bedrock_test

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/model/bedrock"
)

type fakeRuntime struct {
	output *bedrockruntime.ConverseOutput
}

func (f fakeRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return f.output, nil
}

func TestCompleteTranslatesTextResponse(t *testing.T) {
	out := &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Role: brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: "hi there"},
				},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
		Usage:      &brtypes.TokenUsage{InputTokens: aws.Int32(4), OutputTokens: aws.Int32(2)},
	}
	client, err := bedrock.New(fakeRuntime{output: out}, bedrock.Options{DefaultModel: "anthropic.claude-3-sonnet"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), model.Request{
		Messages: []model.Message{{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hello"}}}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Message.Content, 1)
	require.Equal(t, 4, resp.Usage.InputTokens)
}

func TestNewRejectsMissingModel(t *testing.T) {
	_, err := bedrock.New(fakeRuntime{}, bedrock.Options{})
	require.Error(t, err)
}
