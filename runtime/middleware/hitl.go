package middleware

import (
	"context"
	"encoding/json"

	"github.com/xpert-ai/agentgraph/runtime/interrupt"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

// ReviewConfig declares how a tool call matched by HITLConfig.InterruptOn may
// be resolved on resume.
type ReviewConfig struct {
	AllowedDecisions []interrupt.DecisionType
	ArgsSchema       json.RawMessage
}

// HITLConfig maps tool name to the ReviewConfig that applies when the last
// AI message carries a tool call with that name.
type HITLConfig struct {
	InterruptOn map[string]ReviewConfig
}

// NewHITL builds the Human-in-the-loop middleware (spec §4.E middleware 1).
// Its AfterModel hook inspects the last AI message's tool calls; any call
// whose name is in cfg.InterruptOn raises a single HITL Interrupt covering
// every matched call. Resolution of the resume decisions (approve/edit/
// reject) happens in runtime/interrupt.Manager.Resume, not here — this
// middleware only recognizes when to pause and with what payload.
func NewHITL(cfg HITLConfig) Middleware {
	return Middleware{
		Name: "hitl",
		AfterModel: func(_ context.Context, in StateInput) (StateResult, error) {
			last := lastAIMessage(in.State.Messages)
			if last == nil || len(last.ToolCalls) == 0 {
				return StateResult{}, nil
			}

			var (
				matched []model.ToolCall
				schema  json.RawMessage
				allowed = make(map[string][]interrupt.DecisionType)
			)
			for _, call := range last.ToolCalls {
				review, ok := cfg.InterruptOn[call.Name]
				if !ok {
					continue
				}
				matched = append(matched, call)
				if len(review.ArgsSchema) > 0 {
					schema = review.ArgsSchema
				}
				if len(review.AllowedDecisions) > 0 {
					allowed[call.ID] = review.AllowedDecisions
				}
			}
			if len(matched) == 0 {
				return StateResult{}, nil
			}
			if len(matched) > 1 {
				// A schema only applies unambiguously to a single pending
				// call; with several matched calls in one turn, edit-time
				// validation is left to each tool's own Invoke.
				schema = nil
			}

			return StateResult{}, &Interrupt{Payload: interrupt.Record{
				ThreadID:         in.ThreadID,
				RunID:            in.RunID,
				Kind:             interrupt.KindHITL,
				ToolCalls:        matched,
				Schema:           schema,
				AllowedDecisions: allowed,
			}}
		},
	}
}

func lastAIMessage(msgs []model.Message) *model.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleAssistant {
			return &msgs[i]
		}
	}
	return nil
}
