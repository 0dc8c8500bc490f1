package middleware

import (
	"context"

	"github.com/xpert-ai/agentgraph/runtime/stream"
	"github.com/xpert-ai/agentgraph/runtime/tools"
)

// ClientEffectConfig binds a tool name to the statically configured result
// returned to the model and the event payload published on invocation.
type ClientEffectConfig struct {
	ToolName string
	Result   tools.InvokeResult
	Effect   stream.ClientEffect
}

// NewClientEffect builds the Client Effect middleware (spec §4.E middleware
// 3): fires an on_client_effect event with no interrupt, and short-circuits
// the wrapped tool call with a statically configured result.
func NewClientEffect(sink stream.Sink, cfg ClientEffectConfig) Middleware {
	return Middleware{
		Name: "client_effect",
		WrapToolCall: func(ctx context.Context, req ToolCallRequest, next ToolCallNext) (tools.InvokeResult, error) {
			if req.ToolCall.Name != cfg.ToolName {
				return next(ctx, req)
			}
			if sink != nil {
				_ = sink.Publish(ctx, stream.Event{
					Type:         stream.EventClientEffect,
					ThreadID:     req.Runtime.ThreadID,
					RunID:        req.Runtime.RunID,
					ClientEffect: &cfg.Effect,
				})
			}
			return cfg.Result, nil
		},
	}
}
