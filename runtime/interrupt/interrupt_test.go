package interrupt_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func TestResumeHITLApproveEditReject(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{
		ThreadID: "t1",
		RunID:    "r1",
		Kind:     interrupt.KindHITL,
		ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "search", Args: json.RawMessage(`{"q":"a"}`)},
			{ID: "c2", Name: "dangerous", Args: json.RawMessage(`{"x":1}`)},
			{ID: "c3", Name: "dangerous", Args: json.RawMessage(`{"x":2}`)},
		},
	})

	out, err := m.Resume("t1", "r1", interrupt.Command{
		Type: interrupt.CommandHITL,
		Decisions: []interrupt.Decision{
			{Type: interrupt.DecisionApprove},
			{Type: interrupt.DecisionEdit, Args: json.RawMessage(`{"x":99}`)},
			{Type: interrupt.DecisionReject, Message: "nope"},
		},
	})
	require.NoError(t, err)
	require.Len(t, out.ToolCalls, 2)
	require.Equal(t, "c1", out.ToolCalls[0].ID)
	require.Equal(t, "c2", out.ToolCalls[1].ID)
	require.JSONEq(t, `{"x":99}`, string(out.ToolCalls[1].Args))
	require.Len(t, out.ToolMessages, 1)
	require.Equal(t, model.MessageStatusError, out.ToolMessages[0].Status)
	require.True(t, out.JumpToModel)

	_, ok := m.Pending("t1", "r1")
	require.False(t, ok, "resume must clear the pending interrupt")
}

func TestResumeHITLRejectsDisallowedDecision(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{
		ThreadID:  "t1",
		RunID:     "r1",
		Kind:      interrupt.KindHITL,
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "dangerous"}},
		AllowedDecisions: map[string][]interrupt.DecisionType{
			"c1": {interrupt.DecisionApprove, interrupt.DecisionReject},
		},
	})

	_, err := m.Resume("t1", "r1", interrupt.Command{
		Type:      interrupt.CommandHITL,
		Decisions: []interrupt.Decision{{Type: interrupt.DecisionEdit, Args: json.RawMessage(`{}`)}},
	})
	require.Error(t, err)

	_, ok := m.Pending("t1", "r1")
	require.True(t, ok, "a rejected resume must leave the interrupt pending")
}

func TestResumeHITLRejectsCountMismatch(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{
		ThreadID:  "t1",
		RunID:     "r1",
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "search"}},
	})

	_, err := m.Resume("t1", "r1", interrupt.Command{
		Type:      interrupt.CommandHITL,
		Decisions: []interrupt.Decision{{Type: interrupt.DecisionApprove}, {Type: interrupt.DecisionApprove}},
	})
	require.ErrorIs(t, err, interrupt.ErrCountMismatch)
}

func TestResumeHITLEditValidatesAgainstRecordSchema(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{
		ThreadID:  "t1",
		RunID:     "r1",
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "dangerous", Args: json.RawMessage(`{"x":1}`)}},
		Schema:    json.RawMessage(`{"type":"object","required":["x"],"properties":{"x":{"type":"integer"}}}`),
	})

	_, err := m.Resume("t1", "r1", interrupt.Command{
		Type:      interrupt.CommandHITL,
		Decisions: []interrupt.Decision{{Type: interrupt.DecisionEdit, Args: json.RawMessage(`{"x":"not a number"}`)}},
	})
	require.Error(t, err)
}

func TestResumeClientToolResponseMatchesByID(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{
		ThreadID:  "t1",
		RunID:     "r1",
		Kind:      interrupt.KindClientTool,
		ToolCalls: []model.ToolCall{{ID: "c1", Name: "open_file"}},
	})

	out, err := m.Resume("t1", "r1", interrupt.Command{
		Type:               interrupt.CommandClientToolResponse,
		ClientToolResponse: &interrupt.ClientToolResponse{ID: "c1", Content: json.RawMessage(`"file contents"`)},
	})
	require.NoError(t, err)
	require.Len(t, out.ToolMessages, 1)
	require.Equal(t, "c1", out.ToolMessages[0].ToolCallID)
	require.Equal(t, model.MessageStatusOK, out.ToolMessages[0].Status)
}

func TestResumeClientToolResponseRejectsUnknownID(t *testing.T) {
	m := interrupt.NewManager()
	m.Raise(interrupt.Record{ThreadID: "t1", RunID: "r1", ToolCalls: []model.ToolCall{{ID: "c1"}}})

	_, err := m.Resume("t1", "r1", interrupt.Command{
		Type:               interrupt.CommandClientToolResponse,
		ClientToolResponse: &interrupt.ClientToolResponse{ID: "missing"},
	})
	require.Error(t, err)
}

func TestResumeUnknownThreadRun(t *testing.T) {
	m := interrupt.NewManager()
	_, err := m.Resume("nope", "nope", interrupt.Command{Type: interrupt.CommandRaw})
	require.ErrorIs(t, err, interrupt.ErrUnknownRecord)
}
