// Package compiler implements the Subgraph Compiler (spec §4.D): given an
// Xpert and an entry agent key, it produces a CompiledGraph rooted at an
// executable node plus the collection of reachable nodes, edges, and
// conditional routers the Scheduler/Runner steps through.
//
// The compiler collapses the spec's per-hook linear chains (one node per
// beforeAgent/beforeModel/afterModel/afterAgent hook) into one node per
// pipeline stage, since runtime/middleware.Pipeline already folds every
// middleware's hook for a stage into a single call — see DESIGN.md's note
// on this Open Question.
package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type (
	// NodeKind enumerates the executable node kinds a CompiledGraph contains
	// (spec §4.D step 6).
	NodeKind string

	// Node is one executable unit in a CompiledGraph.
	Node struct {
		Key string
		Kind NodeKind
		// Agent is the owning agent key; empty for graph-wide terminal nodes.
		Agent string
		// Defer marks a node that runs only once every predecessor in the
		// current step has completed (spec §4.F: "Deferred nodes").
		Defer bool
	}

	// Router is the conditional out-edge of a node whose successor depends
	// on runtime state rather than static topology (spec §4.D step 7:
	// "Conditional router").
	Router struct {
		From string
		// Destinations is the path-map validated exhaustive at compile time
		// (spec §4.D step 9).
		Destinations map[string]struct{}
		// Decide inspects the owning agent's channel state and returns the
		// Send targets for the current step's fan-out.
		Decide func(state channel.AgentState) ([]string, error)
	}

	// CompiledGraph is the Subgraph Compiler's output (spec §4.D: "Output").
	CompiledGraph struct {
		Entry           string
		Nodes           map[string]Node
		Edges           map[string][]string
		Conditional     map[string]*Router
		Channels        []channel.Spec
		InterruptBefore map[string]bool
		InterruptAfter  map[string]bool
		// Tools is the resolved registry for every tool/sub-agent node this
		// graph can route to, keyed by the same Ident used in ToolCall.Name.
		Tools map[tools.Ident]tools.Tool
		// SubAgents holds the recursively compiled subgraph for every
		// follower/collaborator, keyed by its sub-agent unique name.
		SubAgents map[string]*CompiledGraph
	}

	// GraphRunner executes a compiled sub-agent graph and is invoked by the
	// tool adapter the compiler builds for followers/collaborators (spec
	// §4.D step 1). The Scheduler/Runner implements this; the compiler only
	// depends on the interface so the two packages don't import each other.
	GraphRunner interface {
		Run(ctx context.Context, g *CompiledGraph, rt tools.Runtime, input channel.AgentStateUpdate) (tools.InvokeResult, error)
	}

	// Registry supplies everything Compile needs beyond the Xpert itself:
	// initialized toolsets, the agent's middleware pipeline, pre-compiled
	// collaborator graphs, and factories for knowledge/workflow tools (spec
	// §4.D steps 2-4).
	Registry struct {
		// Toolsets is keyed by toolset id (graph.XpertAgent.ToolsetIDs
		// entries); InitTools is called once per toolset per compile.
		Toolsets map[string]tools.Toolset
		// Middleware is shared by every agent node in this Xpert; its tools
		// are merged into every agent's tool set (spec §4.E: "Middleware
		// tools are merged into the agent's tool set at compile time").
		Middleware *middleware.Pipeline
		// Collaborators maps an external Xpert id to its already-compiled
		// graph (spec §4.D step 1: "external id" for collaborators).
		Collaborators map[string]*CompiledGraph
		// Runner backs every sub-agent tool adapter this compile produces.
		// May be nil at compile time and wired in later by the caller that
		// owns the Scheduler/Runner.
		Runner GraphRunner
		// KnowledgeTool builds a retriever tool bound to a knowledgebase id
		// (spec §4.D step 3). Nil means no knowledge tools are introduced.
		KnowledgeTool func(kbID string) (tools.Tool, error)
		// WorkflowTools are additional callable tools produced by workflow
		// nodes outside this package (spec §4.D step 4); they are merged
		// into the agent's tool set and given a NodeWorkflow node each.
		WorkflowTools []tools.Tool
	}
)

const (
	NodeAgentStart     NodeKind = "agent_start"
	NodeAgentLoopEntry NodeKind = "agent_loop_entry"
	NodeCallModel      NodeKind = "call_model"
	NodeAfterModel     NodeKind = "after_model"
	NodeAfterAgent     NodeKind = "after_agent"
	NodeTool           NodeKind = "tool"
	NodeSubAgent       NodeKind = "sub_agent"
	NodeWorkflow       NodeKind = "workflow"
	NodeTerminal       NodeKind = "terminal"
)

// Terminal node keys shared across the whole graph (spec §4.D step 6).
const (
	NodeSummarizeConversation = "SUMMARIZE_CONVERSATION"
	NodeTitleConversation     = "TITLE_CONVERSATION"
	NodeEnd                   = "END"
)

// agentNodeKey builds the node key for one of an agent's fixed pipeline
// stage nodes (agentStart, agentLoopEntry, callModel, afterModel, afterAgent).
func agentNodeKey(agentKey string, stage NodeKind) string {
	return agentKey + ":" + string(stage)
}

// Compile builds the CompiledGraph rooted at entryAgentKey (spec §4.D).
func Compile(ctx context.Context, x graph.Xpert, entryAgentKey string, reg Registry) (*CompiledGraph, error) {
	g, err := compileAgent(ctx, x, entryAgentKey, reg, map[string]bool{})
	if err != nil {
		return nil, err
	}
	g.Entry = agentNodeKey(entryAgentKey, NodeAgentStart)
	return g, nil
}

// compileAgent implements spec §4.D steps 1-9 for a single agent, recursing
// into followers/collaborators as sub-agent tools.
func compileAgent(ctx context.Context, x graph.Xpert, agentKey string, reg Registry, visiting map[string]bool) (*CompiledGraph, error) {
	agent, ok := x.Agent(agentKey)
	if !ok {
		return nil, fmt.Errorf("compiler: agent %q not declared on xpert %q", agentKey, x.ID)
	}
	if visiting[agentKey] {
		return nil, fmt.Errorf("compiler: cycle detected compiling agent %q", agentKey)
	}
	visiting[agentKey] = true
	defer delete(visiting, agentKey)

	cg := &CompiledGraph{
		Nodes:           map[string]Node{},
		Edges:           map[string][]string{},
		Conditional:     map[string]*Router{},
		InterruptBefore: map[string]bool{},
		InterruptAfter:  map[string]bool{},
		Tools:           map[tools.Ident]tools.Tool{},
		SubAgents:       map[string]*CompiledGraph{},
	}

	// Step 1: resolve followers/collaborators into sub-agent tools.
	subAgentNames, err := compileSubAgents(ctx, x, agent, reg, visiting, cg)
	if err != nil {
		return nil, err
	}

	// Step 2: collect toolsets, apply allow-list, register sensitive tools.
	toolNames, err := collectToolsetTools(ctx, agent, reg, cg)
	if err != nil {
		return nil, err
	}

	// Step 3: introduce knowledge retriever tools.
	knowledgeNames, err := introduceKnowledgeTools(agent, reg, cg)
	if err != nil {
		return nil, err
	}

	// Step 4: introduce workflow task tools.
	workflowNames := introduceWorkflowTools(reg, cg)

	// Middleware-contributed tools are merged into the agent's tool set too
	// (spec §4.E).
	if reg.Middleware != nil {
		for _, t := range reg.Middleware.Tools() {
			cg.Tools[t.Spec().Name] = t
			toolNames = append(toolNames, string(t.Spec().Name))
		}
	}

	// Step 5: build channels.
	cg.Channels = buildChannels(agentKey, reg)

	// Step 6 + 7: build the node set and its edges.
	routableNodes := append(append(append([]string{}, toolNames...), knowledgeNames...), subAgentNames...)
	routableNodes = append(routableNodes, workflowNames...)
	buildAgentNodes(cg, agent, routableNodes)

	// Step 8: mark deferred joins by in-degree over the static topology.
	markDeferredJoins(cg)

	// Step 9: validate every router's path-map is exhaustive.
	if err := validatePathMaps(cg); err != nil {
		return nil, err
	}

	return cg, nil
}

// compileSubAgents recursively compiles every follower and resolves every
// collaborator, exposing each as a sub-agent tool keyed by a unique name
// (spec §4.D step 1).
func compileSubAgents(ctx context.Context, x graph.Xpert, agent graph.XpertAgent, reg Registry, visiting map[string]bool, cg *CompiledGraph) ([]string, error) {
	var names []string
	for _, followerKey := range agent.Followers {
		sub, err := compileAgent(ctx, x, followerKey, reg, visiting)
		if err != nil {
			return nil, fmt.Errorf("compiler: follower %q: %w", followerKey, err)
		}
		sub.Entry = agentNodeKey(followerKey, NodeAgentStart)
		name := followerKey
		cg.SubAgents[name] = sub
		cg.Tools[tools.Ident(name)] = newSubAgentTool(tools.Ident(name), sub, reg.Runner, false)
		names = append(names, name)
	}
	for _, collabID := range agent.Collaborators {
		sub, ok := reg.Collaborators[collabID]
		if !ok {
			return nil, fmt.Errorf("compiler: collaborator %q has no pre-compiled graph in the registry", collabID)
		}
		cg.SubAgents[collabID] = sub
		cg.Tools[tools.Ident(collabID)] = newSubAgentTool(tools.Ident(collabID), sub, reg.Runner, false)
		names = append(names, collabID)
	}
	return names, nil
}

// collectToolsetTools implements spec §4.D step 2: init every declared
// toolset, filter by the agent's ToolsetIDs allow-list, and register any
// tool flagged Sensitive into InterruptBefore.
func collectToolsetTools(ctx context.Context, agent graph.XpertAgent, reg Registry, cg *CompiledGraph) ([]string, error) {
	var names []string
	for _, id := range agent.ToolsetIDs {
		ts, ok := reg.Toolsets[id]
		if !ok {
			return nil, fmt.Errorf("compiler: toolset %q not found in registry for agent %q", id, agent.Key)
		}
		toolList, err := ts.InitTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("compiler: init toolset %q: %w", id, err)
		}
		for _, t := range toolList {
			spec := t.Spec()
			cg.Tools[spec.Name] = t
			names = append(names, string(spec.Name))
			if spec.Sensitive {
				cg.InterruptBefore[string(spec.Name)] = true
			}
		}
	}
	return names, nil
}

// introduceKnowledgeTools implements spec §4.D step 3: one retriever tool
// per declared knowledgebase id.
func introduceKnowledgeTools(agent graph.XpertAgent, reg Registry, cg *CompiledGraph) ([]string, error) {
	if reg.KnowledgeTool == nil {
		return nil, nil
	}
	var names []string
	for _, kbID := range agent.KnowledgebaseIDs {
		t, err := reg.KnowledgeTool(kbID)
		if err != nil {
			return nil, fmt.Errorf("compiler: knowledge tool for %q: %w", kbID, err)
		}
		cg.Tools[t.Spec().Name] = t
		names = append(names, string(t.Spec().Name))
	}
	return names, nil
}

// introduceWorkflowTools implements spec §4.D step 4: merge pre-built
// workflow task tools supplied by the caller into the agent's tool set.
func introduceWorkflowTools(reg Registry, cg *CompiledGraph) []string {
	var names []string
	for _, t := range reg.WorkflowTools {
		cg.Tools[t.Spec().Name] = t
		names = append(names, string(t.Spec().Name))
	}
	return names
}

// buildChannels implements spec §4.D step 5: the default agent channel plus
// any middleware-declared channel. A channel per reachable workflow node is
// the caller's responsibility (merged by the workflow compiler before the
// graphs are combined); this compiler contributes only the per-agent channel
// and the middleware schema channels it can see directly.
func buildChannels(agentKey string, reg Registry) []channel.Spec {
	specs := []channel.Spec{channel.NewAgentChannelSpec(agentKey + "_channel")}
	if reg.Middleware != nil {
		for _, name := range middlewareStateSchemaChannelNames(reg.Middleware) {
			specs = append(specs, channel.Spec{
				Name:    name,
				Reduce:  lastWriterWins,
				Default: func() any { return nil },
			})
		}
	}
	return specs
}

// middlewareStateSchemaChannelNames is grounded on the same "one channel per
// middleware state-schema contribution" rule the Todo-list/memory middleware
// demonstrates (runtime/middleware/memory.go): its schema lands in the
// agent's own Output map rather than a bespoke channel, so no pipeline
// middleware in this tree currently needs a dedicated channel name. The hook
// stays so a future StateSchema-contributing middleware has somewhere to
// register one.
func middlewareStateSchemaChannelNames(*middleware.Pipeline) []string { return nil }

// lastWriterWins is the reducer for middleware-declared channels (spec
// §4.E: "reducer = last-writer-wins").
func lastWriterWins(_ any, update any) (any, error) { return update, nil }

// buildAgentNodes implements spec §4.D steps 6-7 for one agent: the fixed
// pipeline-stage nodes, one node per routable tool/sub-agent/knowledge/
// workflow name, the shared terminal nodes, and the edges between them.
func buildAgentNodes(cg *CompiledGraph, agent graph.XpertAgent, routableNodes []string) {
	start := agentNodeKey(agent.Key, NodeAgentStart)
	loopEntry := agentNodeKey(agent.Key, NodeAgentLoopEntry)
	callModel := agentNodeKey(agent.Key, NodeCallModel)
	afterModel := agentNodeKey(agent.Key, NodeAfterModel)
	afterAgent := agentNodeKey(agent.Key, NodeAfterAgent)

	cg.Nodes[start] = Node{Key: start, Kind: NodeAgentStart, Agent: agent.Key}
	cg.Nodes[loopEntry] = Node{Key: loopEntry, Kind: NodeAgentLoopEntry, Agent: agent.Key}
	cg.Nodes[callModel] = Node{Key: callModel, Kind: NodeCallModel, Agent: agent.Key}
	cg.Nodes[afterModel] = Node{Key: afterModel, Kind: NodeAfterModel, Agent: agent.Key}
	cg.Nodes[afterAgent] = Node{Key: afterAgent, Kind: NodeAfterAgent, Agent: agent.Key}

	for _, name := range routableNodes {
		kind := NodeTool
		if _, ok := cg.SubAgents[name]; ok {
			kind = NodeSubAgent
		}
		cg.Nodes[name] = Node{Key: name, Kind: kind, Agent: agent.Key}
	}

	for _, key := range []string{NodeSummarizeConversation, NodeTitleConversation, NodeEnd} {
		if _, ok := cg.Nodes[key]; !ok {
			cg.Nodes[key] = Node{Key: key, Kind: NodeTerminal}
		}
	}

	// Linear chain across beforeAgent hooks (collapsed to one node) into
	// agentLoopEntry, then across beforeModel hooks into callModel.
	cg.Edges[start] = []string{loopEntry}
	cg.Edges[loopEntry] = []string{callModel}
	cg.Edges[callModel] = []string{afterModel}

	terminalAfterAgent := agent.Next
	if terminalAfterAgent == "" {
		terminalAfterAgent = NodeEnd
	}
	cg.Edges[afterAgent] = []string{terminalAfterAgent}

	// Conditional router out of afterModel: no tool_calls routes to
	// afterAgent, one Send per tool_call routes to the matching node.
	destinations := map[string]struct{}{afterAgent: {}}
	for _, name := range routableNodes {
		destinations[name] = struct{}{}
	}
	cg.Conditional[afterModel] = &Router{
		From:         afterModel,
		Destinations: destinations,
		Decide:       modelRouter(afterAgent, cg.Nodes),
	}

	// Tool/sub-agent nodes return to agentLoopEntry unless declared an end
	// node for this agent, in which case they route to Next/END (spec §4.D
	// step 7).
	for _, name := range routableNodes {
		if agent.IsEndNode(name) {
			cg.Edges[name] = []string{terminalAfterAgent}
			continue
		}
		cg.Edges[name] = []string{loopEntry}
	}
}

// modelRouter builds the Decide function for the afterModel conditional
// router: it inspects the last assistant message's tool_calls and fans out
// one Send per call, or routes to afterAgent when there are none.
func modelRouter(afterAgent string, nodes map[string]Node) func(channel.AgentState) ([]string, error) {
	return func(state channel.AgentState) ([]string, error) {
		var last *model.Message
		for i := len(state.Messages) - 1; i >= 0; i-- {
			if state.Messages[i].Role == model.RoleAssistant {
				last = &state.Messages[i]
				break
			}
		}
		if last == nil || len(last.ToolCalls) == 0 {
			return []string{afterAgent}, nil
		}
		seen := map[string]bool{}
		var targets []string
		for _, call := range last.ToolCalls {
			if seen[call.Name] {
				continue
			}
			if _, ok := nodes[call.Name]; !ok {
				return nil, fmt.Errorf("compiler: tool_call %q has no matching compiled node", call.Name)
			}
			seen[call.Name] = true
			targets = append(targets, call.Name)
		}
		sort.Strings(targets)
		return targets, nil
	}
}

// markDeferredJoins implements spec §4.F "Deferred nodes": any node with
// more than one static in-edge (counting both plain Edges and every
// router's Destinations) only runs once every predecessor in the current
// step has completed.
func markDeferredJoins(cg *CompiledGraph) {
	inDegree := map[string]int{}
	for _, targets := range cg.Edges {
		for _, t := range targets {
			inDegree[t]++
		}
	}
	for _, r := range cg.Conditional {
		for t := range r.Destinations {
			inDegree[t]++
		}
	}
	for key, n := range inDegree {
		if n > 1 {
			node := cg.Nodes[key]
			node.Defer = true
			cg.Nodes[key] = node
		}
	}
}

// validatePathMaps implements spec §4.D step 9: every router's declared
// Destinations must resolve to a node that actually exists in this graph.
func validatePathMaps(cg *CompiledGraph) error {
	for from, r := range cg.Conditional {
		if len(r.Destinations) == 0 {
			return fmt.Errorf("compiler: router at %q declares an empty path-map", from)
		}
		for dest := range r.Destinations {
			if _, ok := cg.Nodes[dest]; !ok {
				return fmt.Errorf("compiler: router at %q declares unreachable destination %q", from, dest)
			}
		}
	}
	for from, targets := range cg.Edges {
		for _, t := range targets {
			if _, ok := cg.Nodes[t]; !ok {
				return fmt.Errorf("compiler: edge from %q targets undeclared node %q", from, t)
			}
		}
	}
	return nil
}

// newSubAgentTool adapts a compiled sub-agent/collaborator graph into a
// tools.Tool so it can be invoked through the same Tool Node machinery as
// any other tool (spec §4.D step 1).
func newSubAgentTool(name tools.Ident, g *CompiledGraph, runner GraphRunner, sensitive bool) tools.Tool {
	return &subAgentTool{name: name, graph: g, runner: runner, sensitive: sensitive}
}

type subAgentTool struct {
	name      tools.Ident
	graph     *CompiledGraph
	runner    GraphRunner
	sensitive bool
}

func (t *subAgentTool) Spec() tools.ToolSpec {
	return tools.ToolSpec{
		Name:        t.name,
		Toolset:     "subagent",
		Description: "invoke sub-agent " + string(t.name),
		Sensitive:   t.sensitive,
	}
}

func (t *subAgentTool) Invoke(ctx context.Context, args json.RawMessage, rt tools.Runtime) (tools.InvokeResult, error) {
	if t.runner == nil {
		return tools.InvokeResult{}, fmt.Errorf("compiler: sub-agent %q has no GraphRunner wired", t.name)
	}
	update := channel.AgentStateUpdate{
		Messages: model.Message{Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: string(args)}}},
	}
	return t.runner.Run(ctx, t.graph, rt, update)
}
