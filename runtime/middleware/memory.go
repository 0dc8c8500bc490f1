package middleware

import (
	"context"
	"encoding/json"

	"github.com/xpert-ai/agentgraph/runtime/channel"
)

// TodoItem is one entry of the todo-list state schema extension (spec §4.E
// middleware 6, "demonstrate state-schema extensions").
type TodoItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// todoListSchema is the JSON schema set as the Todo-list middleware's
// StateSchema field. The compiler adds no channel for it; the todos live in
// the agent channel's Output["todos"].
var todoListSchema = json.RawMessage(`{"type":"array","items":{"type":"object","required":["id","text","done"],"properties":{"id":{"type":"string"},"text":{"type":"string"},"done":{"type":"boolean"}}}}`)

// NewTodoListMemory builds the optional Todo-list / memory middleware. It
// contributes a `todos` output field without altering routing; a concrete
// write_todo/complete_todo tool pair (not part of this middleware, whose
// Tools field is empty; the caller supplies it) mutates Output["todos"] through the normal tool-invocation
// path rather than through a before*/after* hook.
func NewTodoListMemory() Middleware {
	return Middleware{
		Name:        "todo_list_memory",
		StateSchema: todoListSchema,
		BeforeAgent: func(_ context.Context, in StateInput) (StateResult, error) {
			if _, ok := in.State.Output["todos"]; ok {
				return StateResult{}, nil
			}
			return StateResult{Update: channel.AgentStateUpdate{
				Output: map[string]any{"todos": []TodoItem{}},
			}}, nil
		},
	}
}
