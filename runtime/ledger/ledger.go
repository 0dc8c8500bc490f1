// Package ledger implements the Agent Execution Ledger (spec §4.J): an
// append-only event log recording parent/child execution rows as a Run's
// nodes open and close, mirroring the graph's own parent/child shape. It is
// generalized from the teacher's run log (append event, list by cursor) to
// carry the richer execution-row fields this runtime needs: status, elapsed
// time, inputs/outputs, errors, and model token usage.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

type (
	// EventType distinguishes the two events a single execution row produces:
	// one when the node is entered, one when it finishes.
	EventType string

	// Event is a single immutable ledger row. Store implementations assign ID
	// when persisting; IDs are opaque and monotonically ordered within a run,
	// suitable for cursor-based pagination.
	Event struct {
		// ID is the store-assigned opaque identifier for this event.
		ID string
		// RunID identifies the Run this event belongs to.
		RunID string
		// ParentID is the execution row id of the enclosing node (sub-agent
		// call, collaborator invocation), empty for a top-level agent step.
		ParentID string
		// AgentKey identifies the agent the executing node belongs to.
		AgentKey string
		// NodeKey identifies the specific compiled node that opened/closed.
		NodeKey string
		// Type is Open or Close.
		Type EventType
		// Status is only meaningful on a Close event.
		Status graph.RunStatus
		// Inputs is the canonical JSON-encoded input to the node (Open event).
		Inputs json.RawMessage
		// Outputs is the canonical JSON-encoded output of the node (Close event).
		Outputs json.RawMessage
		// ElapsedMs is wall-clock duration in milliseconds (Close event).
		ElapsedMs int64
		// Error is a human-readable failure message, empty on success.
		Error string
		// Usage is model token accounting attributable to this node, if any.
		Usage model.TokenUsage
		// Timestamp is the event time.
		Timestamp time.Time
		// Emitted reports whether this event has been delivered to the
		// Streaming Event Bus via the transactional outbox (PendingEvents /
		// MarkEventsEmitted); Store-internal bookkeeping, not part of the
		// event's own semantics.
		Emitted bool
	}

	// Page is a forward page of ledger events, oldest first.
	Page struct {
		Events     []*Event
		NextCursor string
	}

	// Store is the append-only event store backing the ledger.
	//
	// Implementations must provide stable ordering within a run. Cursor
	// values are store-owned and opaque to callers.
	Store interface {
		// Append persists e, assigning its ID. Append must be durable:
		// failures are surfaced so callers can fail the Run fast rather than
		// lose execution history silently.
		Append(ctx context.Context, e *Event) error

		// List returns the next forward page of events for runID. cursor is
		// an opaque value from a previous List call, or empty to start from
		// the beginning. limit must be greater than zero.
		List(ctx context.Context, runID, cursor string, limit int) (Page, error)

		// PendingEvents returns up to limit events not yet marked emitted,
		// ordered oldest first, implementing the transactional-outbox
		// pattern for at-least-once delivery to the Streaming Event Bus: the
		// ledger write and the outbox row share one persistence operation,
		// and a separate consumer drains PendingEvents and calls
		// MarkEventsEmitted once delivery succeeds, so a crash between the
		// two never loses or silently skips an event, though it may deliver
		// an event a second time.
		PendingEvents(ctx context.Context, limit int) ([]*Event, error)

		// MarkEventsEmitted records that the given event ids were
		// successfully delivered, so PendingEvents stops returning them.
		MarkEventsEmitted(ctx context.Context, ids []string) error
	}
)

const (
	EventOpen  EventType = "open"
	EventClose EventType = "close"
)

// Open appends an EventOpen row for a node entering execution and returns
// its assigned id, to be passed to Close as ParentID linkage or correlated
// by (RunID, NodeKey) by callers that don't track the id directly.
func Open(ctx context.Context, store Store, runID, parentID, agentKey, nodeKey string, inputs json.RawMessage, now time.Time) (*Event, error) {
	e := &Event{
		RunID:     runID,
		ParentID:  parentID,
		AgentKey:  agentKey,
		NodeKey:   nodeKey,
		Type:      EventOpen,
		Inputs:    inputs,
		Timestamp: now,
	}
	if err := store.Append(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Close appends an EventClose row for a previously Open'd node.
func Close(ctx context.Context, store Store, open *Event, status graph.RunStatus, outputs json.RawMessage, errMsg string, usage model.TokenUsage, now time.Time) error {
	elapsed := now.Sub(open.Timestamp).Milliseconds()
	e := &Event{
		RunID:     open.RunID,
		ParentID:  open.ParentID,
		AgentKey:  open.AgentKey,
		NodeKey:   open.NodeKey,
		Type:      EventClose,
		Status:    status,
		Outputs:   outputs,
		ElapsedMs: elapsed,
		Error:     errMsg,
		Usage:     usage,
		Timestamp: now,
	}
	return store.Append(ctx, e)
}
