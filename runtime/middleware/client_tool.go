package middleware

import (
	"context"

	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/model"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

// NewClientTool builds the Client Tool middleware (spec §4.E middleware 2):
// tools flagged ClientSide execute outside the server. WrapToolCall does not
// invoke next for them; it raises a client-tool Interrupt instead, later
// resolved by a ClientToolResponse delivered through runtime/interrupt.
func NewClientTool() Middleware {
	return Middleware{
		Name: "client_tool",
		WrapToolCall: func(ctx context.Context, req ToolCallRequest, next ToolCallNext) (tools.InvokeResult, error) {
			if !req.Tool.Spec().ClientSide {
				return next(ctx, req)
			}
			return tools.InvokeResult{}, &Interrupt{Payload: interrupt.Record{
				ThreadID:  req.Runtime.ThreadID,
				RunID:     req.Runtime.RunID,
				Kind:      interrupt.KindClientTool,
				ToolCalls: []model.ToolCall{req.ToolCall},
			}}
		},
	}
}
