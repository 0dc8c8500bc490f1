package compiler_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type fakeTool struct {
	spec tools.ToolSpec
}

func (f fakeTool) Spec() tools.ToolSpec { return f.spec }
func (f fakeTool) Invoke(context.Context, json.RawMessage, tools.Runtime) (tools.InvokeResult, error) {
	return tools.InvokeResult{Content: "ok"}, nil
}

type fakeToolset struct {
	id    string
	tools []tools.Tool
}

func (f *fakeToolset) ID() string                 { return f.id }
func (f *fakeToolset) ProviderName() string        { return "fake" }
func (f *fakeToolset) ToolTitle(name string) string { return name }
func (f *fakeToolset) InitTools(context.Context) ([]tools.Tool, error) {
	return f.tools, nil
}
func (f *fakeToolset) Variables() []tools.StateVariable { return nil }
func (f *fakeToolset) Close(context.Context) error      { return nil }

func singleAgentXpert(agent graph.XpertAgent) graph.Xpert {
	return graph.Xpert{
		ID:     "x1",
		Agents: map[string]graph.XpertAgent{agent.Key: agent},
	}
}

func TestCompileBuildsFixedPipelineStageNodes(t *testing.T) {
	x := singleAgentXpert(graph.XpertAgent{Key: "main"})

	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	require.Equal(t, "main:agent_start", g.Entry)
	for _, key := range []string{"main:agent_start", "main:agent_loop_entry", "main:call_model", "main:after_model", "main:after_agent"} {
		require.Contains(t, g.Nodes, key)
	}
	require.Contains(t, g.Nodes, compiler.NodeEnd)
	require.Equal(t, []string{"main:after_model"}, g.Edges["main:call_model"])
	require.Equal(t, []string{"END"}, g.Edges["main:after_agent"])
}

func TestCompileRegistersSensitiveToolIntoInterruptBefore(t *testing.T) {
	sensitive := fakeTool{spec: tools.ToolSpec{Name: "delete_record", Sensitive: true}}
	safe := fakeTool{spec: tools.ToolSpec{Name: "search"}}
	reg := compiler.Registry{
		Middleware: middleware.New(),
		Toolsets: map[string]tools.Toolset{
			"ts1": &fakeToolset{id: "ts1", tools: []tools.Tool{sensitive, safe}},
		},
	}
	x := singleAgentXpert(graph.XpertAgent{Key: "main", ToolsetIDs: []string{"ts1"}})

	g, err := compiler.Compile(context.Background(), x, "main", reg)
	require.NoError(t, err)

	require.True(t, g.InterruptBefore["delete_record"])
	require.False(t, g.InterruptBefore["search"])
	require.Contains(t, g.Nodes, "delete_record")
	require.Contains(t, g.Nodes, "search")
	require.Equal(t, compiler.NodeTool, g.Nodes["search"].Kind)
}

func TestCompileFollowerBecomesSubAgentToolAndNode(t *testing.T) {
	x := graph.Xpert{
		ID: "x1",
		Agents: map[string]graph.XpertAgent{
			"main":     {Key: "main", Followers: []string{"helper"}},
			"helper":   {Key: "helper"},
		},
	}

	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	require.Contains(t, g.Tools, tools.Ident("helper"))
	require.Contains(t, g.Nodes, "helper")
	require.Equal(t, compiler.NodeSubAgent, g.Nodes["helper"].Kind)
	require.Contains(t, g.SubAgents, "helper")
}

func TestCompileRouterRoutesToAfterAgentWithoutToolCalls(t *testing.T) {
	x := singleAgentXpert(graph.XpertAgent{Key: "main"})
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	router := g.Conditional["main:after_model"]
	require.NotNil(t, router)

	targets, err := router.Decide(channel.AgentState{Messages: []model.Message{
		{Role: model.RoleAssistant},
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"main:after_agent"}, targets)
}

func TestCompileRouterFansOutOneSendPerToolCall(t *testing.T) {
	safe := fakeTool{spec: tools.ToolSpec{Name: "search"}}
	reg := compiler.Registry{
		Middleware: middleware.New(),
		Toolsets:   map[string]tools.Toolset{"ts1": &fakeToolset{id: "ts1", tools: []tools.Tool{safe}}},
	}
	x := singleAgentXpert(graph.XpertAgent{Key: "main", ToolsetIDs: []string{"ts1"}})

	g, err := compiler.Compile(context.Background(), x, "main", reg)
	require.NoError(t, err)

	router := g.Conditional["main:after_model"]
	targets, err := router.Decide(channel.AgentState{Messages: []model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "search"}}},
	}})
	require.NoError(t, err)
	require.Equal(t, []string{"search"}, targets)
}

func TestCompileRouterErrorsOnUnknownToolCall(t *testing.T) {
	x := singleAgentXpert(graph.XpertAgent{Key: "main"})
	g, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.NoError(t, err)

	router := g.Conditional["main:after_model"]
	_, err = router.Decide(channel.AgentState{Messages: []model.Message{
		{Role: model.RoleAssistant, ToolCalls: []model.ToolCall{{ID: "c1", Name: "nonexistent"}}},
	}})
	require.Error(t, err)
}

func TestCompileToolNodeReturnsToLoopEntryUnlessEndNode(t *testing.T) {
	safe := fakeTool{spec: tools.ToolSpec{Name: "search"}}
	end := fakeTool{spec: tools.ToolSpec{Name: "finish"}}
	reg := compiler.Registry{
		Middleware: middleware.New(),
		Toolsets:   map[string]tools.Toolset{"ts1": &fakeToolset{id: "ts1", tools: []tools.Tool{safe, end}}},
	}
	x := singleAgentXpert(graph.XpertAgent{Key: "main", ToolsetIDs: []string{"ts1"}, EndNodes: []string{"finish"}, Next: "NEXT_AGENT"})

	g, err := compiler.Compile(context.Background(), x, "main", reg)
	require.NoError(t, err)

	require.Equal(t, []string{"main:agent_loop_entry"}, g.Edges["search"])
	require.Equal(t, []string{"NEXT_AGENT"}, g.Edges["finish"])
}

func TestCompileMarksDeferredJoinForMultiplyTargetedNode(t *testing.T) {
	safe := fakeTool{spec: tools.ToolSpec{Name: "search"}}
	reg := compiler.Registry{
		Middleware: middleware.New(),
		Toolsets:   map[string]tools.Toolset{"ts1": &fakeToolset{id: "ts1", tools: []tools.Tool{safe}}},
	}
	x := singleAgentXpert(graph.XpertAgent{Key: "main", ToolsetIDs: []string{"ts1"}})

	g, err := compiler.Compile(context.Background(), x, "main", reg)
	require.NoError(t, err)

	// main:agent_loop_entry is targeted both by agent_start and by the
	// "search" tool node's return edge -- two static in-edges.
	require.True(t, g.Nodes["main:agent_loop_entry"].Defer)
}

func TestCompileFailsWhenCollaboratorMissingFromRegistry(t *testing.T) {
	x := singleAgentXpert(graph.XpertAgent{Key: "main", Collaborators: []string{"external-xpert"}})

	_, err := compiler.Compile(context.Background(), x, "main", compiler.Registry{Middleware: middleware.New()})
	require.Error(t, err)
}
