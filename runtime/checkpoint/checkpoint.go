// Package checkpoint implements the Checkpointer (spec §4.B): durable
// snapshots of channel state keyed by (threadId, ns, id) with parent/child
// linkage and hierarchical dotted namespaces for sub-agents/collaborators.
package checkpoint

import (
	"context"
	"errors"
	"time"
)

type (
	// Checkpoint is the spec §3 Checkpoint entity.
	Checkpoint struct {
		ThreadID string
		NS       string
		ID       string
		ParentID string
		Values   map[string]any
		Metadata map[string]any
		Created  time.Time
	}

	// PendingWrite is one tentative channel write recorded via PutWrites
	// before the owning step commits (spec §4.B: "records tentative writes
	// for a step before they are merged").
	PendingWrite struct {
		Channel string
		Value   any
		TaskID  string
	}

	// Tuple is the result of GetTuple: the checkpoint plus its parent
	// pointer and any writes recorded for the step that produced it but not
	// yet merged.
	Tuple struct {
		Checkpoint    Checkpoint
		ParentConfig  *Checkpoint
		PendingWrites []PendingWrite
	}

	// Checkpointer is the durable store contract every Scheduler/Runner
	// depends on. Implementations must provide single-writer-per-(thread,
	// ns, id) semantics (spec §5: "Shared resources").
	Checkpointer interface {
		// GetTuple returns the checkpoint for (threadID, ns, id). If id is
		// empty, it returns the latest checkpoint on that (thread, ns).
		GetTuple(ctx context.Context, threadID, ns, id string) (Tuple, error)

		// Put persists a checkpoint. It is idempotent on the (threadID, ns,
		// id) primary key: re-putting the same id with the same values is a
		// no-op success, supporting resume idempotence (spec §8).
		Put(ctx context.Context, cp Checkpoint) error

		// PutWrites records tentative per-step writes ahead of the step's
		// checkpoint commit, so a crash between tentative-write and commit
		// can be replayed deterministically.
		PutWrites(ctx context.Context, threadID, ns, id string, writes []PendingWrite) error

		// List returns checkpoints for (threadID, ns), newest first, limited
		// to limit entries and optionally only those before the `before` id.
		List(ctx context.Context, threadID, ns string, before string, limit int) ([]Checkpoint, error)
	}
)

// ErrNotFound indicates no checkpoint exists for the requested key.
var ErrNotFound = errors.New("checkpoint: not found")

// ErrParentMissing indicates a checkpoint's declared ParentID does not refer
// to an existing checkpoint (spec §3 invariant).
var ErrParentMissing = errors.New("checkpoint: parent checkpoint does not exist")

// RootNamespace is the default checkpoint namespace used by a top-level Run.
// Sub-agent/collaborator runs use a dotted child namespace, e.g.
// RootNamespace+".agentKey".
const RootNamespace = ""

// ChildNamespace builds the dotted namespace for a sub-agent or collaborator
// invoked from ns under the given sub-agent key (spec §4.B: "hierarchical
// namespaces ... via a dotted ns").
func ChildNamespace(ns, subAgentKey string) string {
	if ns == RootNamespace {
		return subAgentKey
	}
	return ns + "." + subAgentKey
}
