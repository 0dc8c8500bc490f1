package channel

import "github.com/xpert-ai/agentgraph/runtime/model"

// AgentState is the canonical per-agent channel value (spec §3:
// "<agent_key>_channel: per-agent structure {system, messages, summary,
// error, output} reduced field-wise"). Each field merges with
// LastWriterWins/MessagesReducer semantics rather than whole-struct
// replacement, so a hook that only wants to set Error does not clobber
// Messages accumulated by prior steps.
type AgentState struct {
	System   string          `json:"system,omitempty"`
	Messages []model.Message `json:"messages,omitempty"`
	Summary  string          `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
	Output   map[string]any  `json:"output,omitempty"`
}

// AgentStateUpdate carries a partial update to an AgentState; nil-valued
// pointer fields are left untouched by AgentChannelReducer, matching the
// spec's field-wise reduction.
type AgentStateUpdate struct {
	System   *string
	Messages any // model.Message, []model.Message, or RemoveMessage
	Summary  *string
	Error    *string
	Output   map[string]any
}

// AgentChannelReducer reduces an AgentState against an AgentStateUpdate,
// applying MessagesReducer to the Messages field and last-writer-wins to
// every scalar field.
func AgentChannelReducer(prev, update any) (any, error) {
	state, _ := prev.(AgentState)

	u, ok := update.(AgentStateUpdate)
	if !ok {
		return nil, errUnsupportedAgentUpdate(update)
	}
	if u.System != nil {
		state.System = *u.System
	}
	if u.Messages != nil {
		merged, err := MessagesReducer(state.Messages, u.Messages)
		if err != nil {
			return nil, err
		}
		state.Messages = merged.([]model.Message)
	}
	if u.Summary != nil {
		state.Summary = *u.Summary
	}
	if u.Error != nil {
		state.Error = *u.Error
	}
	if u.Output != nil {
		if state.Output == nil {
			state.Output = make(map[string]any, len(u.Output))
		}
		for k, v := range u.Output {
			state.Output[k] = v
		}
	}
	return state, nil
}

func errUnsupportedAgentUpdate(update any) error {
	return &unsupportedUpdateError{Channel: "agent", Got: update}
}

type unsupportedUpdateError struct {
	Channel string
	Got     any
}

func (e *unsupportedUpdateError) Error() string {
	return "channel: " + e.Channel + " channel received unsupported update type"
}

// NewAgentChannelSpec builds the Spec for the per-agent channel named
// name+"_channel" (spec §3).
func NewAgentChannelSpec(name string) Spec {
	return Spec{
		Name:    name,
		Reduce:  AgentChannelReducer,
		Default: func() any { return AgentState{} },
	}
}

// MessagesChannelSpec builds the Spec for the top-level "messages" channel.
func MessagesChannelSpec() Spec {
	return Spec{
		Name:    "messages",
		Reduce:  MessagesReducer,
		Default: func() any { return []model.Message(nil) },
	}
}
