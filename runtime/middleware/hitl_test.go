package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func TestHITLRaisesInterruptForMatchedTool(t *testing.T) {
	mw := middleware.NewHITL(middleware.HITLConfig{
		InterruptOn: map[string]middleware.ReviewConfig{
			"delete_record": {AllowedDecisions: []interrupt.DecisionType{interrupt.DecisionApprove, interrupt.DecisionReject}},
		},
	})

	state := channel.AgentState{
		Messages: []model.Message{
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "delete_record"}}},
		},
	}

	_, err := mw.AfterModel(context.Background(), middleware.StateInput{
		ThreadID: "t1", RunID: "r1", State: state,
	})
	require.Error(t, err)

	in, ok := middleware.AsInterrupt(err)
	require.True(t, ok)
	require.Equal(t, interrupt.KindHITL, in.Payload.Kind)
	require.Equal(t, "t1", in.Payload.ThreadID)
	require.Len(t, in.Payload.ToolCalls, 1)
	require.Equal(t, "delete_record", in.Payload.ToolCalls[0].Name)
}

func TestHITLIgnoresUnmatchedToolCalls(t *testing.T) {
	mw := middleware.NewHITL(middleware.HITLConfig{
		InterruptOn: map[string]middleware.ReviewConfig{"delete_record": {}},
	})

	state := channel.AgentState{
		Messages: []model.Message{
			{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "read_record"}}},
		},
	}

	res, err := mw.AfterModel(context.Background(), middleware.StateInput{State: state})
	require.NoError(t, err)
	require.Empty(t, res.JumpTo)
}

func TestHITLNoOpWithoutAssistantMessage(t *testing.T) {
	mw := middleware.NewHITL(middleware.HITLConfig{
		InterruptOn: map[string]middleware.ReviewConfig{"delete_record": {}},
	})

	_, err := mw.AfterModel(context.Background(), middleware.StateInput{})
	require.NoError(t, err)
}
