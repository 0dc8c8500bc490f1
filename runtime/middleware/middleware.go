// Package middleware implements the Middleware Pipeline (spec §4.E): ordered
// before/after state transformers plus composable wrappers around model and
// tool calls. before* hooks run in declaration order and after* hooks in
// reverse declaration order; in the wrapModelCall/wrapToolCall chains the
// last-declared wrapper is the outermost and runs first. This mirrors the teacher's hook bus fan-out
// (runtime/agent/hooks/bus.go) generalized from event delivery to state
// transformation with a jumpTo override.
package middleware

import (
	"context"
	"encoding/json"

	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type (
	// JumpTo overrides the router's normal next-node decision for the
	// current step, set by a before*/after* transformer.
	JumpTo string

	// StateInput is what a before*/after* transformer receives: the calling
	// agent's current channel state plus ambient run context.
	StateInput struct {
		AgentKey string
		State    channel.AgentState
		Env      map[string]string
		ThreadID string
		RunID    string
	}

	// StateResult is a before*/after* transformer's output: a partial state
	// update plus an optional routing override.
	StateResult struct {
		Update channel.AgentStateUpdate
		JumpTo JumpTo
	}

	// StateTransformer is the shape shared by beforeAgent/beforeModel/
	// afterModel/afterAgent hooks.
	StateTransformer func(ctx context.Context, in StateInput) (StateResult, error)

	// ModelRequest is what wrapModelCall's chain operates on.
	ModelRequest struct {
		Request model.Request
		State   channel.AgentState
		Runtime tools.Runtime
	}

	// ModelCallNext invokes the next (inner) wrapper or the core model call.
	ModelCallNext func(ctx context.Context, req ModelRequest) (model.Response, error)

	// ModelCallWrapper wraps a model call; it may alter req before calling
	// next, retry next, or post-process its result.
	ModelCallWrapper func(ctx context.Context, req ModelRequest, next ModelCallNext) (model.Response, error)

	// ToolCallRequest is what wrapToolCall's chain operates on.
	ToolCallRequest struct {
		ToolCall model.ToolCall
		Tool     tools.Tool
		State    channel.AgentState
		Runtime  tools.Runtime
	}

	// ToolCallNext invokes the next (inner) wrapper or the core tool
	// invocation.
	ToolCallNext func(ctx context.Context, req ToolCallRequest) (tools.InvokeResult, error)

	// ToolCallWrapper wraps a tool invocation. A client-side tool's wrapper
	// does not call next at all; it raises an interrupt instead (spec §4.E
	// middleware 2).
	ToolCallWrapper func(ctx context.Context, req ToolCallRequest, next ToolCallNext) (tools.InvokeResult, error)

	// Middleware declares any subset of the pipeline's hook points. A zero
	// value for any field means that hook point is a no-op for this
	// middleware.
	Middleware struct {
		Name          string
		StateSchema   json.RawMessage
		ContextSchema json.RawMessage
		Tools         []tools.Tool

		BeforeAgent StateTransformer
		BeforeModel StateTransformer
		AfterModel  StateTransformer
		AfterAgent  StateTransformer

		WrapModelCall ModelCallWrapper
		WrapToolCall  ToolCallWrapper
	}

	// Pipeline composes an ordered list of Middleware into the hook chains
	// the Scheduler/Runner invokes at each stage.
	Pipeline struct {
		middlewares []Middleware
	}
)

// New builds a Pipeline from an ordered middleware list. Order is
// significant: before* hooks run in this order, after* hooks run reversed,
// and the last wrapper in the list is the outermost of each wrap chain.
func New(mw ...Middleware) *Pipeline {
	return &Pipeline{middlewares: mw}
}

// Tools returns every tool contributed by the pipeline's middlewares,
// merged into the agent's tool set at compile time (spec §4.E: "Middleware
// tools are merged into the agent's tool set at compile time").
func (p *Pipeline) Tools() []tools.Tool {
	var out []tools.Tool
	for _, m := range p.middlewares {
		out = append(out, m.Tools...)
	}
	return out
}

// RunBeforeAgent runs every middleware's BeforeAgent transformer in
// declaration order, folding their state updates and stopping at the first
// transformer that sets JumpTo.
func (p *Pipeline) RunBeforeAgent(ctx context.Context, in StateInput) (StateResult, error) {
	return p.runBefore(ctx, in, func(m Middleware) StateTransformer { return m.BeforeAgent })
}

// RunBeforeModel runs every middleware's BeforeModel transformer in
// declaration order.
func (p *Pipeline) RunBeforeModel(ctx context.Context, in StateInput) (StateResult, error) {
	return p.runBefore(ctx, in, func(m Middleware) StateTransformer { return m.BeforeModel })
}

// RunAfterModel runs every middleware's AfterModel transformer in reverse
// declaration order; the last hook to run (the first declared) produces the
// StateResult the router observes (spec §4.E: "the last after-model hook is
// the one whose output feeds the router").
func (p *Pipeline) RunAfterModel(ctx context.Context, in StateInput) (StateResult, error) {
	return p.runAfter(ctx, in, func(m Middleware) StateTransformer { return m.AfterModel })
}

// RunAfterAgent runs every middleware's AfterAgent transformer in reverse
// declaration order.
func (p *Pipeline) RunAfterAgent(ctx context.Context, in StateInput) (StateResult, error) {
	return p.runAfter(ctx, in, func(m Middleware) StateTransformer { return m.AfterAgent })
}

func (p *Pipeline) runBefore(ctx context.Context, in StateInput, pick func(Middleware) StateTransformer) (StateResult, error) {
	merged := StateResult{}
	for _, m := range p.middlewares {
		fn := pick(m)
		if fn == nil {
			continue
		}
		res, err := fn(ctx, applyUpdate(in, merged.Update))
		if err != nil {
			return StateResult{}, err
		}
		merged = mergeResults(merged, res)
		if merged.JumpTo != "" {
			return merged, nil
		}
	}
	return merged, nil
}

func (p *Pipeline) runAfter(ctx context.Context, in StateInput, pick func(Middleware) StateTransformer) (StateResult, error) {
	merged := StateResult{}
	for i := len(p.middlewares) - 1; i >= 0; i-- {
		fn := pick(p.middlewares[i])
		if fn == nil {
			continue
		}
		res, err := fn(ctx, applyUpdate(in, merged.Update))
		if err != nil {
			return StateResult{}, err
		}
		merged = mergeResults(merged, res)
	}
	return merged, nil
}

// WrapModelCall composes every middleware's WrapModelCall right-to-left:
// the last-declared middleware is outermost (spec §4.E: "middleware N
// wraps middleware N-1 wraps … wraps the core model-call handler").
func (p *Pipeline) WrapModelCall(core ModelCallNext) ModelCallNext {
	next := core
	for i := 0; i < len(p.middlewares); i++ {
		wrap := p.middlewares[i].WrapModelCall
		if wrap == nil {
			continue
		}
		inner := next
		next = func(ctx context.Context, req ModelRequest) (model.Response, error) {
			return wrap(ctx, req, inner)
		}
	}
	return next
}

// WrapToolCall composes every middleware's WrapToolCall identically to
// WrapModelCall.
func (p *Pipeline) WrapToolCall(core ToolCallNext) ToolCallNext {
	next := core
	for i := 0; i < len(p.middlewares); i++ {
		wrap := p.middlewares[i].WrapToolCall
		if wrap == nil {
			continue
		}
		inner := next
		next = func(ctx context.Context, req ToolCallRequest) (tools.InvokeResult, error) {
			return wrap(ctx, req, inner)
		}
	}
	return next
}

func applyUpdate(in StateInput, u channel.AgentStateUpdate) StateInput {
	next, err := channel.AgentChannelReducer(in.State, u)
	if err != nil {
		return in
	}
	in.State = next.(channel.AgentState)
	return in
}

func mergeResults(a, b StateResult) StateResult {
	merged := a
	if b.Update.System != nil {
		merged.Update.System = b.Update.System
	}
	if b.Update.Messages != nil {
		merged.Update.Messages = b.Update.Messages
	}
	if b.Update.Summary != nil {
		merged.Update.Summary = b.Update.Summary
	}
	if b.Update.Error != nil {
		merged.Update.Error = b.Update.Error
	}
	if b.Update.Output != nil {
		if merged.Update.Output == nil {
			merged.Update.Output = make(map[string]any, len(b.Update.Output))
		}
		for k, v := range b.Update.Output {
			merged.Update.Output[k] = v
		}
	}
	if b.JumpTo != "" {
		merged.JumpTo = b.JumpTo
	}
	return merged
}

const (
	JumpToModel JumpTo = "model"
	JumpToTools JumpTo = "tools"
	JumpToEnd   JumpTo = "end"
)
