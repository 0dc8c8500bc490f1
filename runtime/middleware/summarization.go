package middleware

import (
	"context"

	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

// SummarizationConfig configures the Summarization middleware (spec §4.E
// middleware 5).
type SummarizationConfig struct {
	// MaxMessages triggers summarization once the agent channel's message
	// count exceeds it.
	MaxMessages int
	// RetainMessages is how many of the most recent messages survive
	// summarization; older ones are folded into Summarize's output and
	// dropped from the channel.
	RetainMessages int
	// Summarize produces a new summary string from the messages being
	// dropped, combined with any prior summary.
	Summarize func(ctx context.Context, priorSummary string, dropped []DroppedMessage) (string, error)
}

// DroppedMessage is the minimal view of a message being folded into the
// running summary.
type DroppedMessage struct {
	Role    string
	Content string
}

// NewSummarization builds the Summarization middleware. Its AfterAgent hook
// runs after the agent's step completes so it sees the full message list
// accumulated so far; when the list exceeds MaxMessages it folds the oldest
// entries into Summary and removes them from the messages channel, keeping
// only RetainMessages most recent ones.
//
// Only messages carrying a non-empty ID can be removed (MessagesReducer
// deletes by id); a message with no ID is left in place rather than
// silently dropped.
func NewSummarization(cfg SummarizationConfig) Middleware {
	return Middleware{
		Name: "summarization",
		AfterAgent: func(ctx context.Context, in StateInput) (StateResult, error) {
			msgs := in.State.Messages
			if cfg.MaxMessages <= 0 || len(msgs) <= cfg.MaxMessages {
				return StateResult{}, nil
			}

			retain := cfg.RetainMessages
			if retain < 0 || retain > len(msgs) {
				retain = len(msgs)
			}
			cut := len(msgs) - retain

			dropped := make([]DroppedMessage, 0, cut)
			removals := make([]any, 0, cut)
			for _, m := range msgs[:cut] {
				dropped = append(dropped, DroppedMessage{Role: string(m.Role), Content: textOf(m)})
				if m.ID != "" {
					removals = append(removals, channel.RemoveMessage{ID: m.ID})
				}
			}

			summary, err := cfg.Summarize(ctx, in.State.Summary, dropped)
			if err != nil {
				return StateResult{}, err
			}

			return StateResult{Update: channelAgentStateUpdate(summary, removals)}, nil
		},
	}
}

func channelAgentStateUpdate(summary string, removals []any) channel.AgentStateUpdate {
	return channel.AgentStateUpdate{Summary: &summary, Messages: removals}
}

func textOf(m model.Message) string {
	var out string
	for _, part := range m.Content {
		if tp, ok := part.(model.TextPart); ok {
			out += tp.Text
		}
	}
	return out
}
