package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func recordingTransformer(order *[]string, name string, jump middleware.JumpTo) middleware.StateTransformer {
	return func(_ context.Context, in middleware.StateInput) (middleware.StateResult, error) {
		*order = append(*order, name)
		errStr := name
		return middleware.StateResult{
			Update: channel.AgentStateUpdate{Error: &errStr},
			JumpTo: jump,
		}, nil
	}
}

func TestPipelineRunsBeforeHooksInDeclarationOrder(t *testing.T) {
	var order []string
	p := middleware.New(
		middleware.Middleware{Name: "a", BeforeAgent: recordingTransformer(&order, "a", "")},
		middleware.Middleware{Name: "b", BeforeAgent: recordingTransformer(&order, "b", "")},
	)

	res, err := p.RunBeforeAgent(context.Background(), middleware.StateInput{})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, order)
	require.Equal(t, "b", *res.Update.Error)
}

func TestPipelineBeforeHooksStopAtFirstJumpTo(t *testing.T) {
	var order []string
	p := middleware.New(
		middleware.Middleware{Name: "a", BeforeAgent: recordingTransformer(&order, "a", middleware.JumpToEnd)},
		middleware.Middleware{Name: "b", BeforeAgent: recordingTransformer(&order, "b", "")},
	)

	res, err := p.RunBeforeAgent(context.Background(), middleware.StateInput{})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, order)
	require.Equal(t, middleware.JumpToEnd, res.JumpTo)
}

func TestPipelineRunsAfterHooksInReverseOrder(t *testing.T) {
	var order []string
	p := middleware.New(
		middleware.Middleware{Name: "a", AfterAgent: recordingTransformer(&order, "a", "")},
		middleware.Middleware{Name: "b", AfterAgent: recordingTransformer(&order, "b", "")},
	)

	_, err := p.RunAfterAgent(context.Background(), middleware.StateInput{})
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, order)
}

func TestPipelineWrapModelCallComposesLastDeclaredOutermost(t *testing.T) {
	var order []string
	wrap := func(name string) middleware.ModelCallWrapper {
		return func(ctx context.Context, req middleware.ModelRequest, next middleware.ModelCallNext) (model.Response, error) {
			order = append(order, name+":before")
			resp, err := next(ctx, req)
			order = append(order, name+":after")
			return resp, err
		}
	}
	p := middleware.New(
		middleware.Middleware{Name: "inner", WrapModelCall: wrap("inner")},
		middleware.Middleware{Name: "outer", WrapModelCall: wrap("outer")},
	)

	core := func(context.Context, middleware.ModelRequest) (model.Response, error) {
		order = append(order, "core")
		return model.Response{}, nil
	}

	_, err := p.WrapModelCall(core)(context.Background(), middleware.ModelRequest{})
	require.NoError(t, err)
	require.Equal(t, []string{"outer:before", "inner:before", "core", "inner:after", "outer:after"}, order)
}

func TestPipelineToolsMergesAcrossMiddlewares(t *testing.T) {
	p := middleware.New(
		middleware.Middleware{Name: "a"},
		middleware.Middleware{Name: "b"},
	)
	require.Empty(t, p.Tools())
}
