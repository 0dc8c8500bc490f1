// Package toolnode implements the Tool Node (spec §4.G): it wraps each
// tool_call on the caller's last AI message with the Middleware Pipeline's
// wrapToolCall chain, normalizes whatever the tool returns into a
// ToolMessage or state Command, applies variable assigners, and turns tool
// exceptions into a recoverable error ToolMessage unless configured or
// signaled otherwise.
package toolnode

import (
	"context"
	"errors"
	"fmt"

	"github.com/xpert-ai/agentgraph/runtime/middleware"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/toolerrors"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

type (
	// Config configures a Node's behavior for one agent's tool set.
	Config struct {
		// Tools is keyed by fully-qualified tool name (tools.Ident).
		Tools map[tools.Ident]tools.Tool
		// Wrap is the composed WrapToolCall chain from the Middleware
		// Pipeline (possibly identity if no middleware wraps tool calls).
		Wrap middleware.ToolCallWrapper
		// HandleToolErrors controls step 4 of spec §4.G: false escalates any
		// tool exception to a run-level error instead of recovering it into
		// an error ToolMessage.
		HandleToolErrors bool
		// Sink, if non-nil, receives on_tool_start/on_tool_end/on_tool_error
		// events.
		Sink stream.Sink
	}

	// Node executes every tool_call on a caller's last AI message against
	// Config.Tools.
	Node struct {
		cfg Config
	}

	// Result is what invoking one tool call produces: a ToolMessage to
	// append to the caller's channel, and/or a Command rewriting other
	// channels directly.
	Result struct {
		Message model.Message
		Command *tools.Command
	}
)

// ErrUnknownTool is the error raised when a tool_call names a tool this Node
// was not configured with. It is returned when HandleToolErrors is false and
// recovered into an error ToolMessage when it is true.
var ErrUnknownTool = errors.New("toolnode: unknown tool")

// New builds a Node bound to cfg. If cfg.Wrap is nil, tool calls invoke the
// tool directly with no middleware wrapping.
func New(cfg Config) *Node {
	return &Node{cfg: cfg}
}

// Run executes every call in toolCalls against this Node's tool set, in the
// given order, returning one Result per call. A call whose error recovers
// into an error ToolMessage still produces a Result; only an escalated
// error (HandleToolErrors=false, or the raised error is a middleware
// Interrupt) stops the batch and is returned as err.
func (n *Node) Run(ctx context.Context, rt tools.Runtime, toolCalls []model.ToolCall) ([]Result, error) {
	out := make([]Result, 0, len(toolCalls))
	for _, call := range toolCalls {
		res, err := n.runOne(ctx, rt, call)
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

func (n *Node) runOne(ctx context.Context, rt tools.Runtime, call model.ToolCall) (Result, error) {
	n.publish(ctx, rt, stream.EventToolStart, call, "")

	tool, ok := n.cfg.Tools[tools.Ident(call.Name)]
	if !ok {
		return n.handleException(ctx, rt, call, fmt.Errorf("%w: %q", ErrUnknownTool, call.Name))
	}

	invoke := func(ctx context.Context, req middleware.ToolCallRequest) (tools.InvokeResult, error) {
		return req.Tool.Invoke(ctx, req.ToolCall.Args, rt)
	}
	wrap := n.cfg.Wrap
	if wrap == nil {
		wrap = func(ctx context.Context, req middleware.ToolCallRequest, next middleware.ToolCallNext) (tools.InvokeResult, error) {
			return next(ctx, req)
		}
	}

	invokeResult, err := wrap(ctx, middleware.ToolCallRequest{ToolCall: call, Tool: tool}, invoke)
	if err != nil {
		return n.handleException(ctx, rt, call, err)
	}

	res := normalize(call, invokeResult)
	n.applyVariables(tool.Spec().Variables, invokeResult, &res)
	n.publish(ctx, rt, stream.EventToolEnd, call, "")
	return res, nil
}

// normalize implements spec §4.G step 2: wrap a raw InvokeResult into a
// ToolMessage, or surface a Command verbatim.
func normalize(call model.ToolCall, res tools.InvokeResult) Result {
	if res.Command != nil {
		return Result{Command: res.Command}
	}
	return Result{Message: model.Message{
		Role:       model.RoleTool,
		ToolCallID: call.ID,
		Status:     model.MessageStatusOK,
		Content:    []model.Part{model.TextPart{Text: res.Content}},
	}}
}

// applyVariables implements spec §4.G step 3: write selected parts of the
// result into named channels declared by the tool's VariableAssigner list.
// It keeps the Updates already on res.Command and adds the assigners' values
// on top; an assigner's value overwrites an existing Update for the same
// channel.
func (n *Node) applyVariables(assigners []tools.VariableAssigner, invoke tools.InvokeResult, res *Result) {
	if len(assigners) == 0 {
		return
	}
	updates := make(map[string]any, len(assigners))
	if res.Command != nil {
		for k, v := range res.Command.Updates {
			updates[k] = v
		}
	}
	for _, a := range assigners {
		switch a.Source {
		case tools.AssignerSourceArtifact:
			updates[a.Channel] = invoke.Artifact
		case tools.AssignerSourceContent:
			updates[a.Channel] = invoke.Content
		case tools.AssignerSourceConst:
			updates[a.Channel] = a.Const
		}
	}
	if res.Command == nil {
		res.Command = &tools.Command{}
	}
	res.Command.Updates = updates
}

// handleException implements spec §4.G step 4. The failing error is folded
// into a toolerrors.ToolError chain so its Retryable hint survives onto the
// on_tool_error stream event, even when the tool itself returned a plain
// error. The recovered ToolMessage carries only the error text.
func (n *Node) handleException(ctx context.Context, rt tools.Runtime, call model.ToolCall, err error) (Result, error) {
	if _, ok := middleware.AsInterrupt(err); ok {
		return Result{}, err
	}
	if !n.cfg.HandleToolErrors {
		return Result{}, err
	}

	toolErr := toolerrors.FromError(err)
	n.publishError(ctx, rt, call, toolErr)
	return Result{Message: model.Message{
		Role:       model.RoleTool,
		ToolCallID: call.ID,
		Status:     model.MessageStatusError,
		Content:    []model.Part{model.TextPart{Text: "Error: " + toolErr.Error()}},
	}}, nil
}

func (n *Node) publishError(ctx context.Context, rt tools.Runtime, call model.ToolCall, toolErr *toolerrors.ToolError) {
	if n.cfg.Sink == nil {
		return
	}
	ev := stream.Event{
		Type:     stream.EventToolError,
		ThreadID: rt.ThreadID,
		RunID:    rt.RunID,
		Err:      toolErr.Error(),
		Tool: &stream.ToolEvent{
			ToolCallID: call.ID,
			ToolName:   call.Name,
			Error:      toolErr.Error(),
			Retryable:  toolErr.Retryable,
		},
	}
	_ = n.cfg.Sink.Publish(ctx, ev)
}

func (n *Node) publish(ctx context.Context, rt tools.Runtime, t stream.EventType, call model.ToolCall, errMsg string) {
	if n.cfg.Sink == nil {
		return
	}
	ev := stream.Event{
		Type:     t,
		ThreadID: rt.ThreadID,
		RunID:    rt.RunID,
		Err:      errMsg,
		Tool:     &stream.ToolEvent{ToolCallID: call.ID, ToolName: call.Name, Error: errMsg},
	}
	_ = n.cfg.Sink.Publish(ctx, ev)
}
