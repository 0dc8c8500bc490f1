// Package scheduler implements the Scheduler/Runner (spec §4.F): a
// single-threaded cooperative step loop that walks a compiler.CompiledGraph,
// executing ready nodes each step, merging their channel writes with
// deterministic tie-breaking, persisting a checkpoint, and routing to
// successors. It is grounded directly on the teacher's runtime/agent/engine
// abstraction and expressed as an engine.WorkflowFunc so the loop can run
// durably on Temporal in production or an in-process engine.Engine in tests
// without this package depending on either backend.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
	"github.com/xpert-ai/agentgraph/runtime/compiler"
	"github.com/xpert-ai/agentgraph/runtime/engine"
	"github.com/xpert-ai/agentgraph/runtime/errs"
	"github.com/xpert-ai/agentgraph/runtime/ids"
	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/ledger"
	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/toolnode"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

// defaultRecursionLimit is the step ceiling applied when Config.RecursionLimit
// is left at zero (spec §4.F: "hard ceiling on total step count").
const defaultRecursionLimit = 256

type (
	// Config wires a Runner to the collaborators it needs to execute one
	// compiled graph: the middleware pipeline, the model client, the tool
	// node, and the durable/observable seams (checkpointer, interrupt
	// manager, event sink).
	Config struct {
		Pipeline     *middleware.Pipeline
		ModelClient  model.Client
		ToolNode     *toolnode.Node
		Checkpointer checkpoint.Checkpointer
		Interrupts   *interrupt.Manager
		Sink         stream.Sink
		// Ledger, if non-nil, records an Open/Close execution row per node
		// (spec §4.J); nil disables ledger recording entirely.
		Ledger ledger.Store
		// MaxConcurrency caps parallel node execution within one step; zero
		// means unbounded (spec §4.F: "default unbounded within the step").
		MaxConcurrency int
		// RecursionLimit overrides defaultRecursionLimit when positive.
		RecursionLimit int
	}

	// RunInput starts one Run against a compiled graph.
	RunInput struct {
		ThreadID string
		RunID    string
		Graph    *compiler.CompiledGraph
		// Initial seeds the entry agent's channel (typically a user Message
		// appended to Messages).
		Initial channel.AgentStateUpdate
		Env     map[string]string
	}

	// RunOutput is what a completed or paused Run reports back.
	RunOutput struct {
		Status     graph.RunStatus
		FinalState channel.AgentState
		Error      string
	}

	// Runner executes the step loop for one Config against any RunInput
	// whose Graph it is handed.
	Runner struct {
		cfg Config
	}

	// dispatch is one pending node execution: Node is the target, Seq
	// records the order it was enqueued in (Send order / tie-break input),
	// and Override, if non-nil, carries a per-branch state override (spec
	// §4.F: "Send(target, state) enqueues a target with a state override").
	dispatch struct {
		Node     string
		Seq      int
		Override *channel.AgentStateUpdate
	}

	stepResult struct {
		dispatch  dispatch
		updates   map[string]any
		next      []string
		interrupt *middleware.Interrupt
		err       error
		// usage carries the model.Response.Usage a call_model node recorded,
		// zero-valued for every other node kind; surfaced to the Ledger.
		usage model.TokenUsage
	}
)

// RecursionLimitError is raised when a Run exceeds its configured step
// ceiling (spec §4.F: "typed RecursionLimit error").
type RecursionLimitError struct{ Limit int }

func (e *RecursionLimitError) Error() string {
	return fmt.Sprintf("scheduler: exceeded recursion limit of %d steps", e.Limit)
}

// New builds a Runner bound to cfg.
func New(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// AsWorkflowFunc adapts Execute to an engine.WorkflowFunc so callers can
// register the step loop as a durable workflow (spec §4.F; grounded on
// teacher's engine.WorkflowFunc contract).
func (r *Runner) AsWorkflowFunc() engine.WorkflowFunc {
	return func(wctx engine.WorkflowContext, input any) (any, error) {
		in, ok := input.(RunInput)
		if !ok {
			return nil, fmt.Errorf("scheduler: unexpected workflow input type %T", input)
		}
		return r.Execute(wctx.Context(), in)
	}
}

// Execute runs the step loop to completion, interruption, or error (spec
// §4.F: "One step = dequeue frontier -> execute each ready node -> collect
// writes -> apply to channels -> persist checkpoint -> route to
// successors").
func (r *Runner) Execute(ctx context.Context, in RunInput) (RunOutput, error) {
	limit := r.cfg.RecursionLimit
	if limit <= 0 {
		limit = defaultRecursionLimit
	}

	store := channel.New(in.Graph.Channels)
	entryNode, ok := in.Graph.Nodes[in.Graph.Entry]
	if !ok {
		return RunOutput{}, errs.Configuration("scheduler: entry node %q not found in compiled graph", in.Graph.Entry)
	}
	agentChannel := entryNode.Agent + "_channel"

	if in.Initial.System != nil || in.Initial.Messages != nil || in.Initial.Summary != nil || in.Initial.Error != nil || in.Initial.Output != nil {
		if err := store.Apply(map[string]any{agentChannel: in.Initial}); err != nil {
			return RunOutput{}, fmt.Errorf("scheduler: seed initial state: %w", err)
		}
	}

	rt := tools.Runtime{ThreadID: in.ThreadID, RunID: in.RunID, Env: in.Env, Signal: ctxDoneAsSignal(ctx)}

	r.publish(ctx, in, stream.EventRunStart, entryNode.Agent, "")

	frontier := []dispatch{{Node: in.Graph.Entry}}
	step := 0

	for len(frontier) > 0 {
		step++
		if step > limit {
			err := &RecursionLimitError{Limit: limit}
			r.publish(ctx, in, stream.EventRunError, entryNode.Agent, err.Error())
			return RunOutput{Status: graph.RunStatusError, Error: err.Error()}, err
		}

		sort.SliceStable(frontier, func(i, j int) bool {
			if frontier[i].Seq != frontier[j].Seq {
				return frontier[i].Seq < frontier[j].Seq
			}
			return frontier[i].Node < frontier[j].Node
		})

		results := r.runStep(ctx, in, store, agentChannel, rt, frontier)

		for _, res := range results {
			if res.interrupt != nil {
				return r.handleInterrupt(ctx, in, store, res.interrupt), nil
			}
			if res.err != nil {
				r.publish(ctx, in, stream.EventRunError, entryNode.Agent, res.err.Error())
				return RunOutput{Status: graph.RunStatusError, Error: res.err.Error()}, res.err
			}
		}

		var next []dispatch
		seq := 0
		for _, res := range results {
			if len(res.updates) > 0 {
				if err := store.Apply(res.updates); err != nil {
					return RunOutput{Status: graph.RunStatusError, Error: err.Error()}, err
				}
			}
			for _, target := range res.next {
				next = append(next, dispatch{Node: target, Seq: seq})
				seq++
			}
		}

		cp := checkpoint.Checkpoint{
			ThreadID: in.ThreadID,
			NS:       checkpoint.RootNamespace,
			ID:       ids.NewCheckpointID(),
			Values:   store.Snapshot(),
			Created:  time.Now(),
		}
		if err := r.cfg.Checkpointer.Put(ctx, cp); err != nil {
			infraErr := errs.Infrastructure(err)
			return RunOutput{Status: graph.RunStatusAborted, Error: infraErr.Error()}, infraErr
		}
		r.publish(ctx, in, stream.EventCheckpoint, entryNode.Agent, cp.ID)

		select {
		case <-ctx.Done():
			return RunOutput{Status: graph.RunStatusAborted}, ctx.Err()
		default:
		}

		frontier = dedupeFrontier(next)
	}

	final, _ := store.Read(agentChannel)
	finalState, _ := final.(channel.AgentState)
	r.publish(ctx, in, stream.EventRunEnd, entryNode.Agent, "")
	return RunOutput{Status: graph.RunStatusSuccess, FinalState: finalState}, nil
}

// handleInterrupt persists the pre-interrupt checkpoint, raises the Interrupt
// Record, and terminates the Run INTERRUPTED (spec §4.F: "Interrupt
// handling").
func (r *Runner) handleInterrupt(ctx context.Context, in RunInput, store *channel.Store, ir *middleware.Interrupt) RunOutput {
	cp := checkpoint.Checkpoint{
		ThreadID: in.ThreadID,
		NS:       checkpoint.RootNamespace,
		ID:       ids.NewCheckpointID(),
		Values:   store.Snapshot(),
		Created:  time.Now(),
	}
	_ = r.cfg.Checkpointer.Put(ctx, cp)

	rec := ir.Payload
	rec.ThreadID = in.ThreadID
	rec.RunID = in.RunID
	r.cfg.Interrupts.Raise(rec)
	r.publish(ctx, in, stream.EventInterrupt, "", ir.Error())
	return RunOutput{Status: graph.RunStatusInterrupted}
}

// runStep executes every dispatch in frontier, bounded by
// Config.MaxConcurrency, and returns one stepResult per dispatch in the same
// (already tie-broken) order.
func (r *Runner) runStep(ctx context.Context, in RunInput, store *channel.Store, agentChannel string, rt tools.Runtime, frontier []dispatch) []stepResult {
	results := make([]stepResult, len(frontier))

	limit := r.cfg.MaxConcurrency
	if limit <= 0 {
		limit = len(frontier)
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	for i, d := range frontier {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, d dispatch) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = r.runNode(ctx, in, store, agentChannel, rt, d)
		}(i, d)
	}
	wg.Wait()
	return results
}

// runNode executes a single node according to its compiler.NodeKind (spec
// §4.D step 6 node set; §4.E hook semantics; §4.G tool invocation), bracketed
// by a Ledger Open/Close pair when Config.Ledger is configured.
func (r *Runner) runNode(ctx context.Context, in RunInput, store *channel.Store, agentChannel string, rt tools.Runtime, d dispatch) stepResult {
	node, ok := in.Graph.Nodes[d.Node]
	if !ok {
		return stepResult{dispatch: d, err: fmt.Errorf("scheduler: dispatch targets undeclared node %q", d.Node)}
	}

	raw, _ := store.Read(agentChannel)
	state, _ := raw.(channel.AgentState)

	open := r.ledgerOpen(ctx, in, node, state)

	si := middleware.StateInput{AgentKey: node.Agent, State: state, Env: in.Env, ThreadID: in.ThreadID, RunID: in.RunID}

	var res stepResult
	switch node.Kind {
	case compiler.NodeAgentStart:
		res = r.runHook(ctx, in, agentChannel, d, r.cfg.Pipeline.RunBeforeAgent, si, node.Agent)
	case compiler.NodeAgentLoopEntry:
		res = r.runHook(ctx, in, agentChannel, d, r.cfg.Pipeline.RunBeforeModel, si, node.Agent)
	case compiler.NodeCallModel:
		res = r.runCallModel(ctx, in, agentChannel, d, state, rt, node)
	case compiler.NodeAfterModel:
		res = r.runAfterModel(ctx, in, agentChannel, d, si, state, node)
	case compiler.NodeAfterAgent:
		res = r.runHookStatic(ctx, in, agentChannel, d, r.cfg.Pipeline.RunAfterAgent, si, node)
	case compiler.NodeTool, compiler.NodeSubAgent, compiler.NodeWorkflow:
		res = r.runToolNode(ctx, in, agentChannel, d, state, rt, node)
	case compiler.NodeTerminal:
		res = stepResult{dispatch: d}
	default:
		res = stepResult{dispatch: d, err: fmt.Errorf("scheduler: unknown node kind %q", node.Kind)}
	}

	r.ledgerClose(ctx, open, res)
	return res
}

// ledgerOpen appends an Open row for node's execution, or returns nil when no
// Ledger is configured or the node's state cannot be encoded (best-effort:
// ledger recording never blocks a Run).
func (r *Runner) ledgerOpen(ctx context.Context, in RunInput, node compiler.Node, state channel.AgentState) *ledger.Event {
	if r.cfg.Ledger == nil {
		return nil
	}
	inputs, _ := json.Marshal(state)
	e, err := ledger.Open(ctx, r.cfg.Ledger, in.RunID, "", node.Agent, node.Key, inputs, time.Now())
	if err != nil {
		return nil
	}
	return e
}

// ledgerClose appends the matching Close row for an Open event produced by
// ledgerOpen, carrying the node's resulting status, error, and any model
// token usage it recorded onto res via stepResult.usage.
func (r *Runner) ledgerClose(ctx context.Context, open *ledger.Event, res stepResult) {
	if open == nil {
		return
	}
	var status graph.RunStatus
	errMsg := ""
	switch {
	case res.err != nil:
		status, errMsg = graph.RunStatusError, res.err.Error()
	case res.interrupt != nil:
		status = graph.RunStatusInterrupted
	default:
		status = graph.RunStatusSuccess
	}
	outputs, _ := json.Marshal(res.updates)
	_ = ledger.Close(ctx, r.cfg.Ledger, open, status, outputs, errMsg, res.usage, time.Now())
}

// runHook runs a before* transformer (agentStart/agentLoopEntry); absent a
// jumpTo override its successor is the node's static edge to the next fixed
// pipeline stage.
func (r *Runner) runHook(ctx context.Context, in RunInput, agentChannel string, d dispatch, fn func(context.Context, middleware.StateInput) (middleware.StateResult, error), si middleware.StateInput, agentKey string) stepResult {
	res, err := fn(ctx, si)
	if err != nil {
		if ir, ok := middleware.AsInterrupt(err); ok {
			return stepResult{dispatch: d, interrupt: ir}
		}
		return stepResult{dispatch: d, err: err}
	}
	edges := in.Graph.Edges[d.Node]
	next := edges
	if res.JumpTo != "" {
		next = []string{jumpToNode(in.Graph, agentKey, res.JumpTo)}
	}
	return stepResult{dispatch: d, updates: stateUpdates(agentChannel, res), next: next}
}

// runHookStatic runs afterAgent, whose successor is always the agent's
// static edge regardless of jumpTo (there is no later stage to jump back
// into once afterAgent has run).
func (r *Runner) runHookStatic(ctx context.Context, in RunInput, agentChannel string, d dispatch, fn func(context.Context, middleware.StateInput) (middleware.StateResult, error), si middleware.StateInput, node compiler.Node) stepResult {
	res, err := fn(ctx, si)
	if err != nil {
		if ir, ok := middleware.AsInterrupt(err); ok {
			return stepResult{dispatch: d, interrupt: ir}
		}
		return stepResult{dispatch: d, err: err}
	}
	return stepResult{dispatch: d, updates: stateUpdates(agentChannel, res), next: in.Graph.Edges[d.Node]}
}

// runCallModel builds a model.Request from the agent's current channel
// state and the graph's tool registry, runs it through the middleware
// pipeline's WrapModelCall chain, and appends the resulting assistant
// message.
func (r *Runner) runCallModel(ctx context.Context, in RunInput, agentChannel string, d dispatch, state channel.AgentState, rt tools.Runtime, node compiler.Node) stepResult {
	req := model.Request{SystemMessage: state.System, Messages: state.Messages, Tools: toolDefinitions(in.Graph.Tools)}
	core := func(ctx context.Context, req middleware.ModelRequest) (model.Response, error) {
		return r.cfg.ModelClient.Complete(ctx, req.Request)
	}
	call := r.cfg.Pipeline.WrapModelCall(core)
	resp, err := call(ctx, middleware.ModelRequest{Request: req, State: state, Runtime: rt})
	if err != nil {
		if ir, ok := middleware.AsInterrupt(err); ok {
			return stepResult{dispatch: d, interrupt: ir}
		}
		return stepResult{dispatch: d, err: errs.Model(err)}
	}
	update := map[string]any{agentChannel: channel.AgentStateUpdate{Messages: resp.Message}}
	return stepResult{dispatch: d, updates: update, next: in.Graph.Edges[d.Node], usage: resp.Usage}
}

// runAfterModel runs the afterModel hook then the compiled conditional
// router: a jumpTo override wins outright, otherwise the router's Decide
// picks the fan-out targets (spec §4.D step 7, §4.E).
func (r *Runner) runAfterModel(ctx context.Context, in RunInput, agentChannel string, d dispatch, si middleware.StateInput, state channel.AgentState, node compiler.Node) stepResult {
	res, err := r.cfg.Pipeline.RunAfterModel(ctx, si)
	if err != nil {
		if ir, ok := middleware.AsInterrupt(err); ok {
			return stepResult{dispatch: d, interrupt: ir}
		}
		return stepResult{dispatch: d, err: err}
	}
	updates := stateUpdates(agentChannel, res)

	if res.JumpTo != "" {
		return stepResult{dispatch: d, updates: updates, next: []string{jumpToNode(in.Graph, node.Agent, res.JumpTo)}}
	}

	router, ok := in.Graph.Conditional[d.Node]
	if !ok {
		return stepResult{dispatch: d, err: fmt.Errorf("scheduler: node %q has no compiled router", d.Node)}
	}
	merged, rerr := channel.AgentChannelReducer(state, res.Update)
	if rerr != nil {
		return stepResult{dispatch: d, err: rerr}
	}
	next, err := router.Decide(merged.(channel.AgentState))
	if err != nil {
		return stepResult{dispatch: d, err: err}
	}
	return stepResult{dispatch: d, updates: updates, next: next}
}

// runToolNode invokes the one tool_call on the agent's last assistant
// message whose name matches this node, through the shared toolnode.Node
// (spec §4.G).
func (r *Runner) runToolNode(ctx context.Context, in RunInput, agentChannel string, d dispatch, state channel.AgentState, rt tools.Runtime, node compiler.Node) stepResult {
	call, ok := lastMatchingToolCall(state, d.Node)
	if !ok {
		return stepResult{dispatch: d, err: fmt.Errorf("scheduler: no pending tool_call for node %q", d.Node)}
	}
	rt.AgentKey = node.Agent

	results, err := r.cfg.ToolNode.Run(ctx, rt, []model.ToolCall{call})
	if err != nil {
		if ir, ok := middleware.AsInterrupt(err); ok {
			return stepResult{dispatch: d, interrupt: ir}
		}
		return stepResult{dispatch: d, err: errs.Tool(err)}
	}

	updates := map[string]any{}
	goTo := ""
	for _, res := range results {
		if res.Command != nil {
			for ch, val := range res.Command.Updates {
				updates[ch] = val
			}
			if res.Command.GoTo != "" {
				goTo = res.Command.GoTo
			}
			continue
		}
		merge, _ := updates[agentChannel].(channel.AgentStateUpdate)
		merge.Messages = res.Message
		updates[agentChannel] = merge
	}

	next := in.Graph.Edges[d.Node]
	if goTo != "" {
		next = []string{goTo}
	}
	return stepResult{dispatch: d, updates: updates, next: next}
}

// publish forwards a stream.Event through Config.Sink if one was configured.
func (r *Runner) publish(ctx context.Context, in RunInput, t stream.EventType, agentKey, errMsg string) {
	if r.cfg.Sink == nil {
		return
	}
	_ = r.cfg.Sink.Publish(ctx, stream.Event{
		Type:      t,
		ThreadID:  in.ThreadID,
		RunID:     in.RunID,
		AgentKey:  agentKey,
		Timestamp: time.Now(),
		Err:       errMsg,
	})
}

// stateUpdates wraps a StateResult's Update into the channel update map
// runStep expects.
func stateUpdates(agentChannel string, res middleware.StateResult) map[string]any {
	return map[string]any{agentChannel: res.Update}
}

// jumpToNode resolves a middleware.JumpTo override to a concrete node key
// for the owning agent (spec §4.E: "A returned jumpTo overrides the router
// on the very next transition").
func jumpToNode(g *compiler.CompiledGraph, agentKey string, jump middleware.JumpTo) string {
	switch jump {
	case middleware.JumpToModel:
		return agentKey + ":" + string(compiler.NodeCallModel)
	case middleware.JumpToTools:
		return agentKey + ":" + string(compiler.NodeAfterModel)
	case middleware.JumpToEnd:
		return compiler.NodeEnd
	default:
		return agentKey + ":" + string(compiler.NodeAfterAgent)
	}
}

// lastMatchingToolCall returns the last assistant message's tool_call whose
// Name equals nodeKey.
func lastMatchingToolCall(state channel.AgentState, nodeKey string) (model.ToolCall, bool) {
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role != model.RoleAssistant {
			continue
		}
		for _, call := range state.Messages[i].ToolCalls {
			if call.Name == nodeKey {
				return call, true
			}
		}
		return model.ToolCall{}, false
	}
	return model.ToolCall{}, false
}

// toolDefinitions compiles a graph's tool registry into the provider-facing
// vocabulary a model.Request carries.
func toolDefinitions(reg map[tools.Ident]tools.Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, 0, len(reg))
	for _, t := range reg {
		spec := t.Spec()
		defs = append(defs, model.ToolDefinition{Name: string(spec.Name), Description: spec.Description, Schema: spec.Payload.Schema})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// dedupeFrontier collapses the next-step dispatch list so a node reached by
// more than one predecessor in the same step (a deferred join, spec §4.F)
// appears exactly once, keeping its lowest (earliest) Seq.
func dedupeFrontier(next []dispatch) []dispatch {
	byNode := map[string]dispatch{}
	for _, d := range next {
		if existing, ok := byNode[d.Node]; !ok || d.Seq < existing.Seq {
			byNode[d.Node] = d
		}
	}
	out := make([]dispatch, 0, len(byNode))
	for _, d := range byNode {
		out = append(out, d)
	}
	return out
}

// ctxDoneAsSignal adapts a context.Context's cancellation to the
// tools.Runtime.Signal channel shape (spec §5: "Cancellation ... propagates
// through runtime.signal").
func ctxDoneAsSignal(ctx context.Context) <-chan struct{} {
	return ctx.Done()
}
