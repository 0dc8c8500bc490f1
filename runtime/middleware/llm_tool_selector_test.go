package middleware_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func TestLLMToolSelectorSkipsBelowMaxTools(t *testing.T) {
	mw := middleware.NewLLMToolSelector(middleware.LLMToolSelectorConfig{
		MaxTools: 5,
		Select: func(context.Context, []model.ToolDefinition) (middleware.ToolSelection, error) {
			t.Fatal("select should not be called below MaxTools")
			return middleware.ToolSelection{}, nil
		},
	})

	req := middleware.ModelRequest{Request: model.Request{Tools: []model.ToolDefinition{{Name: "a"}, {Name: "b"}}}}
	next := func(_ context.Context, r middleware.ModelRequest) (model.Response, error) {
		require.Len(t, r.Request.Tools, 2)
		return model.Response{}, nil
	}

	_, err := mw.WrapModelCall(context.Background(), req, next)
	require.NoError(t, err)
}

func TestLLMToolSelectorFiltersAndKeepsAlwaysInclude(t *testing.T) {
	mw := middleware.NewLLMToolSelector(middleware.LLMToolSelectorConfig{
		MaxTools:      2,
		AlwaysInclude: []string{"core"},
		Select: func(context.Context, []model.ToolDefinition) (middleware.ToolSelection, error) {
			return middleware.ToolSelection{ToolNames: []string{"b"}}, nil
		},
	})

	req := middleware.ModelRequest{Request: model.Request{
		Tools: []model.ToolDefinition{{Name: "core"}, {Name: "a"}, {Name: "b"}, {Name: "c"}},
	}}

	var gotNames []string
	next := func(_ context.Context, r middleware.ModelRequest) (model.Response, error) {
		for _, td := range r.Request.Tools {
			gotNames = append(gotNames, td.Name)
		}
		return model.Response{}, nil
	}

	_, err := mw.WrapModelCall(context.Background(), req, next)
	require.NoError(t, err)
	require.Equal(t, []string{"core", "b"}, gotNames)
}

func TestLLMToolSelectorCapsSelectionBeforeAddingAlwaysInclude(t *testing.T) {
	mw := middleware.NewLLMToolSelector(middleware.LLMToolSelectorConfig{
		MaxTools:      3,
		AlwaysInclude: []string{"search"},
		Select: func(context.Context, []model.ToolDefinition) (middleware.ToolSelection, error) {
			return middleware.ToolSelection{ToolNames: []string{"a", "b", "c", "d"}}, nil
		},
	})

	var tools []model.ToolDefinition
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "search"} {
		tools = append(tools, model.ToolDefinition{Name: name})
	}
	req := middleware.ModelRequest{Request: model.Request{Tools: tools}}

	var gotNames []string
	next := func(_ context.Context, r middleware.ModelRequest) (model.Response, error) {
		for _, td := range r.Request.Tools {
			gotNames = append(gotNames, td.Name)
		}
		return model.Response{}, nil
	}

	_, err := mw.WrapModelCall(context.Background(), req, next)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c", "search"}, gotNames)
}

func TestLLMToolSelectorErrorsOnUnknownSelection(t *testing.T) {
	mw := middleware.NewLLMToolSelector(middleware.LLMToolSelectorConfig{
		MaxTools: 1,
		Select: func(context.Context, []model.ToolDefinition) (middleware.ToolSelection, error) {
			return middleware.ToolSelection{ToolNames: []string{"nonexistent"}}, nil
		},
	})

	req := middleware.ModelRequest{Request: model.Request{Tools: []model.ToolDefinition{{Name: "a"}, {Name: "b"}}}}
	next := func(context.Context, middleware.ModelRequest) (model.Response, error) {
		t.Fatal("next should not be called when selection is invalid")
		return model.Response{}, nil
	}

	_, err := mw.WrapModelCall(context.Background(), req, next)
	require.Error(t, err)
}
