package middleware_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type stubTool struct {
	spec tools.ToolSpec
}

func (s stubTool) Spec() tools.ToolSpec { return s.spec }

func (s stubTool) Invoke(context.Context, json.RawMessage, tools.Runtime) (tools.InvokeResult, error) {
	return tools.InvokeResult{Content: "server-side result"}, nil
}

func TestClientToolPassesThroughServerSideTools(t *testing.T) {
	mw := middleware.NewClientTool()
	tool := stubTool{spec: tools.ToolSpec{Name: "search"}}

	called := false
	next := func(ctx context.Context, req middleware.ToolCallRequest) (tools.InvokeResult, error) {
		called = true
		return tool.Invoke(ctx, nil, req.Runtime)
	}

	res, err := mw.WrapToolCall(context.Background(), middleware.ToolCallRequest{
		ToolCall: model.ToolCall{ID: "c1", Name: "search"},
		Tool:     tool,
	}, next)
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "server-side result", res.Content)
}

func TestClientToolRaisesInterruptForClientSideTools(t *testing.T) {
	mw := middleware.NewClientTool()
	tool := stubTool{spec: tools.ToolSpec{Name: "open_file_picker", ClientSide: true}}

	next := func(context.Context, middleware.ToolCallRequest) (tools.InvokeResult, error) {
		t.Fatal("next should not be called for a client-side tool")
		return tools.InvokeResult{}, nil
	}

	_, err := mw.WrapToolCall(context.Background(), middleware.ToolCallRequest{
		ToolCall: model.ToolCall{ID: "c1", Name: "open_file_picker"},
		Tool:     tool,
		Runtime:  tools.Runtime{ThreadID: "t1", RunID: "r1"},
	}, next)
	require.Error(t, err)

	in, ok := middleware.AsInterrupt(err)
	require.True(t, ok)
	require.Equal(t, interrupt.KindClientTool, in.Payload.Kind)
	require.Equal(t, "t1", in.Payload.ThreadID)
	require.Equal(t, "open_file_picker", in.Payload.ToolCalls[0].Name)
}
