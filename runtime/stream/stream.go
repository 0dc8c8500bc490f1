// Package stream implements the Streaming Event Bus (spec §4.I): the fixed
// event taxonomy emitted while a Run executes, delivered to subscribers
// (SSE writers, Pulse publishers, test fixtures) through a Sink.
//
// Stream events are client-facing; they differ from the Agent Execution
// Ledger's rows, which persist a durable audit trail rather than a live
// feed.
package stream

import (
	"context"
	"encoding/json"
	"time"
)

// EventType names one of the spec's fixed event kinds.
type EventType string

const (
	EventRunStart         EventType = "on_run_start"
	EventRunEnd           EventType = "on_run_end"
	EventRunError         EventType = "on_run_error"
	EventAgentStart       EventType = "on_agent_start"
	EventAgentEnd         EventType = "on_agent_end"
	EventChatMessageChunk EventType = "on_chat_message_chunk"
	EventToolStart        EventType = "on_tool_start"
	EventToolEnd          EventType = "on_tool_end"
	EventToolError        EventType = "on_tool_error"
	EventInterrupt        EventType = "on_interrupt"
	EventClientEffect     EventType = "on_client_effect"
	EventCheckpoint       EventType = "on_checkpoint"
)

type (
	// ClientEffect is the payload of an on_client_effect event: a named,
	// statically configured side-effect signal with no interrupt attached
	// (spec §4.E middleware 3).
	ClientEffect struct {
		Name string `json:"name"`
		Data any    `json:"data,omitempty"`
	}

	// ChatMessageChunk is the payload of an on_chat_message_chunk event: one
	// increment of streamed assistant output.
	ChatMessageChunk struct {
		TextDelta     string `json:"textDelta,omitempty"`
		ThinkingDelta string `json:"thinkingDelta,omitempty"`
	}

	// ToolEvent is the payload shared by on_tool_start/end/error.
	ToolEvent struct {
		ToolCallID string `json:"toolCallId"`
		ToolName   string `json:"toolName"`
		Content    string `json:"content,omitempty"`
		Error      string `json:"error,omitempty"`
		// Retryable hints to a client or orchestrator that the failing
		// tool_call might succeed on retry without human intervention.
		Retryable bool `json:"retryable,omitempty"`
	}

	// Event is one entry on the stream. Exactly the field matching Type is
	// meaningfully populated; Payload carries the generic JSON-serializable
	// form a Sink can forward without knowing the concrete shape.
	Event struct {
		Type      EventType       `json:"type"`
		ThreadID  string          `json:"threadId"`
		RunID     string          `json:"runId"`
		AgentKey  string          `json:"agentKey,omitempty"`
		Timestamp time.Time       `json:"timestamp"`
		TagPath   []string        `json:"tagPath,omitempty"`
		Err       string          `json:"error,omitempty"`
		Chunk     *ChatMessageChunk `json:"chunk,omitempty"`
		Tool      *ToolEvent      `json:"tool,omitempty"`
		ClientEffect *ClientEffect `json:"clientEffect,omitempty"`
		Checkpoint   json.RawMessage `json:"checkpoint,omitempty"`
		Payload      any             `json:"payload,omitempty"`
	}

	// Sink delivers streaming events to a transport (SSE, Pulse, test
	// fixtures). Implementations must be safe for concurrent Publish calls.
	Sink interface {
		Publish(ctx context.Context, event Event) error
		Close(ctx context.Context) error
	}
)
