package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func textMessage(id, role, text string) model.Message {
	return model.Message{ID: id, Role: model.Role(role), Content: []model.Part{model.TextPart{Text: text}}}
}

func TestSummarizationNoOpBelowThreshold(t *testing.T) {
	mw := middleware.NewSummarization(middleware.SummarizationConfig{
		MaxMessages:    10,
		RetainMessages: 2,
		Summarize: func(context.Context, string, []middleware.DroppedMessage) (string, error) {
			t.Fatal("summarize should not be called below MaxMessages")
			return "", nil
		},
	})

	state := channel.AgentState{Messages: []model.Message{textMessage("m1", "user", "hi")}}
	res, err := mw.AfterAgent(context.Background(), middleware.StateInput{State: state})
	require.NoError(t, err)
	require.Nil(t, res.Update.Summary)
}

func TestSummarizationFoldsOldestMessagesAndRetainsRecent(t *testing.T) {
	var gotDropped []middleware.DroppedMessage
	mw := middleware.NewSummarization(middleware.SummarizationConfig{
		MaxMessages:    3,
		RetainMessages: 1,
		Summarize: func(_ context.Context, prior string, dropped []middleware.DroppedMessage) (string, error) {
			gotDropped = dropped
			return "condensed", nil
		},
	})

	state := channel.AgentState{Messages: []model.Message{
		textMessage("m1", "user", "one"),
		textMessage("m2", "assistant", "two"),
		textMessage("", "tool", "three-no-id"),
		textMessage("m4", "user", "four"),
	}}

	res, err := mw.AfterAgent(context.Background(), middleware.StateInput{State: state})
	require.NoError(t, err)
	require.NotNil(t, res.Update.Summary)
	require.Equal(t, "condensed", *res.Update.Summary)
	require.Len(t, gotDropped, 3)

	removals, ok := res.Update.Messages.([]any)
	require.True(t, ok)
	require.Len(t, removals, 2)
	require.Contains(t, removals, channel.RemoveMessage{ID: "m1"})
	require.Contains(t, removals, channel.RemoveMessage{ID: "m2"})
}
