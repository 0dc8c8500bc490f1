// Package ids centralizes identifier generation for threads, runs,
// checkpoints, and tool calls so every component derives ids the same way.
package ids

import "github.com/google/uuid"

// NewThreadID generates a new Thread identifier.
func NewThreadID() string { return "thread_" + uuid.NewString() }

// NewRunID generates a new Run (durable workflow execution) identifier.
func NewRunID() string { return "run_" + uuid.NewString() }

// NewCheckpointID generates a new Checkpoint identifier. Checkpoint ids sort
// lexically by creation order is not guaranteed; callers that need
// newest-first ordering rely on the stored timestamp, not the id shape.
func NewCheckpointID() string { return "ckpt_" + uuid.NewString() }

// NewToolCallID generates a new Tool Call identifier.
func NewToolCallID() string { return "call_" + uuid.NewString() }

// NewMessageID generates a new Message identifier.
func NewMessageID() string { return "msg_" + uuid.NewString() }

// NewTurnID generates a new conversational turn identifier.
func NewTurnID() string { return "turn_" + uuid.NewString() }
