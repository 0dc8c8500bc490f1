package scheduler_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint/inmem"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/scheduler"
	"github.com/xpert-ai/agentgraph/runtime/toolnode"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type fakeTool struct {
	spec   tools.ToolSpec
	result tools.InvokeResult
}

func (f fakeTool) Spec() tools.ToolSpec { return f.spec }
func (f fakeTool) Invoke(context.Context, json.RawMessage, tools.Runtime) (tools.InvokeResult, error) {
	return f.result, nil
}

type fakeToolset struct {
	id    string
	tools []tools.Tool
}

func (f *fakeToolset) ID() string                  { return f.id }
func (f *fakeToolset) ProviderName() string        { return "fake" }
func (f *fakeToolset) ToolTitle(name string) string { return name }
func (f *fakeToolset) InitTools(context.Context) ([]tools.Tool, error) {
	return f.tools, nil
}
func (f *fakeToolset) Variables() []tools.StateVariable { return nil }
func (f *fakeToolset) Close(context.Context) error      { return nil }

type scriptedClient struct {
	responses []model.Response
	calls     int
}

func (c *scriptedClient) Complete(context.Context, model.Request) (model.Response, error) {
	resp := c.responses[c.calls]
	if c.calls < len(c.responses)-1 {
		c.calls++
	}
	return resp, nil
}

func newRunner(t *testing.T, pipeline *middleware.Pipeline, client model.Client, toolCfg toolnode.Config) (*scheduler.Runner, *interrupt.Manager) {
	t.Helper()
	mgr := interrupt.NewManager()
	r := scheduler.New(scheduler.Config{
		Pipeline:     pipeline,
		ModelClient:  client,
		ToolNode:     toolnode.New(toolCfg),
		Checkpointer: inmem.New(),
		Interrupts:   mgr,
	})
	return r, mgr
}

func userUpdate(text string) channel.AgentStateUpdate {
	return channel.AgentStateUpdate{Messages: model.Message{
		Role:    model.RoleUser,
		Content: []model.Part{model.TextPart{Text: text}},
	}}
}

func TestExecuteRunsToSuccessWithNoToolCalls(t *testing.T) {
	x := graph.Xpert{ID: "x1", Agents: map[string]graph.XpertAgent{"main": {Key: "main"}}}
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	client := &scriptedClient{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "hi"}}}},
	}}
	r, _ := newRunner(t, middleware.New(), client, toolnode.Config{})

	out, err := r.Execute(context.Background(), scheduler.RunInput{
		ThreadID: "t1", RunID: "r1", Graph: g, Initial: userUpdate("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, graph.RunStatusSuccess, out.Status)
	require.Len(t, out.FinalState.Messages, 2)
	require.Equal(t, model.RoleAssistant, out.FinalState.Messages[1].Role)
}

func TestExecuteFansOutToToolAndLoopsBackToModel(t *testing.T) {
	search := fakeTool{
		spec:   tools.ToolSpec{Name: "search"},
		result: tools.InvokeResult{Content: "3 results"},
	}
	reg := compiler.Registry{
		Middleware: middleware.New(),
		Toolsets:   map[string]tools.Toolset{"ts1": &fakeToolset{id: "ts1", tools: []tools.Tool{search}}},
	}
	x := graph.Xpert{ID: "x1", Agents: map[string]graph.XpertAgent{
		"main": {Key: "main", ToolsetIDs: []string{"ts1"}},
	}}
	g, err := compiler.Compile(context.Background(), x, "main", reg)
	require.NoError(t, err)

	callArgs, _ := json.Marshal(map[string]string{"q": "go"})
	client := &scriptedClient{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "search", Args: callArgs},
		}}},
		{Message: model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "done"}}}},
	}}
	r, _ := newRunner(t, middleware.New(), client, toolnode.Config{Tools: g.Tools})

	out, err := r.Execute(context.Background(), scheduler.RunInput{
		ThreadID: "t1", RunID: "r1", Graph: g, Initial: userUpdate("search for go"),
	})
	require.NoError(t, err)
	require.Equal(t, graph.RunStatusSuccess, out.Status)

	var sawToolMessage bool
	for _, m := range out.FinalState.Messages {
		if m.Role == model.RoleTool && m.ToolCallID == "c1" {
			sawToolMessage = true
		}
	}
	require.True(t, sawToolMessage)
	require.Equal(t, 2, client.calls)
}

func TestExecuteReturnsInterruptedWhenAfterModelRaises(t *testing.T) {
	x := graph.Xpert{ID: "x1", Agents: map[string]graph.XpertAgent{"main": {Key: "main"}}}
	halt := middleware.Middleware{
		Name: "halt",
		AfterModel: func(context.Context, middleware.StateInput) (middleware.StateResult, error) {
			return middleware.StateResult{}, &middleware.Interrupt{Payload: interrupt.Record{Kind: "halt_review"}}
		},
	}
	pipeline := middleware.New(halt)
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: pipeline})
	require.NoError(t, err)

	client := &scriptedClient{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "hi"}}}},
	}}
	r, mgr := newRunner(t, pipeline, client, toolnode.Config{})

	out, err := r.Execute(context.Background(), scheduler.RunInput{
		ThreadID: "t1", RunID: "r1", Graph: g, Initial: userUpdate("hello"),
	})
	require.NoError(t, err)
	require.Equal(t, graph.RunStatusInterrupted, out.Status)

	rec, ok := mgr.Pending("t1", "r1")
	require.True(t, ok)
	require.Equal(t, interrupt.Kind("halt_review"), rec.Kind)
}

func TestExecuteExceedingRecursionLimitReturnsTypedError(t *testing.T) {
	x := graph.Xpert{ID: "x1", Agents: map[string]graph.XpertAgent{"main": {Key: "main"}}}
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	client := &scriptedClient{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "hi"}}}},
	}}
	// The fixed pipeline (agent_start, agent_loop_entry, call_model,
	// after_model, after_agent) takes five steps to reach END; a limit of
	// three forces the run to exceed it before completing.
	r := scheduler.New(scheduler.Config{
		Pipeline:       middleware.New(),
		ModelClient:    client,
		ToolNode:       toolnode.New(toolnode.Config{}),
		Checkpointer:   inmem.New(),
		Interrupts:     interrupt.NewManager(),
		RecursionLimit: 3,
	})

	out, err := r.Execute(context.Background(), scheduler.RunInput{
		ThreadID: "t1", RunID: "r1", Graph: g, Initial: userUpdate("hello"),
	})
	require.Error(t, err)
	var limitErr *scheduler.RecursionLimitError
	require.ErrorAs(t, err, &limitErr)
	require.Equal(t, graph.RunStatusError, out.Status)
}

func TestExecuteAbortsWhenContextCancelled(t *testing.T) {
	x := graph.Xpert{ID: "x1", Agents: map[string]graph.XpertAgent{"main": {Key: "main"}}}
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{responses: []model.Response{
		{Message: model.Message{Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "hi"}}}},
	}}
	r, _ := newRunner(t, middleware.New(), client, toolnode.Config{})

	out, err := r.Execute(ctx, scheduler.RunInput{
		ThreadID: "t1", RunID: "r1", Graph: g, Initial: userUpdate("hello"),
	})
	require.Error(t, err)
	require.Equal(t, graph.RunStatusAborted, out.Status)
}
