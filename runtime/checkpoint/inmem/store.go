// Package inmem provides an in-memory implementation of checkpoint.Checkpointer.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (see checkpoint/redisstore).
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
)

type key struct{ threadID, ns string }

// Store is an in-memory implementation of checkpoint.Checkpointer. It is
// safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	byKey  map[key][]checkpoint.Checkpoint // ordered oldest -> newest
	byID   map[key]map[string]int         // id -> index into byKey[k]
	writes map[key]map[string][]checkpoint.PendingWrite
	seen   map[string]struct{} // idempotency keys already committed
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byKey:  make(map[key][]checkpoint.Checkpoint),
		byID:   make(map[key]map[string]int),
		writes: make(map[key]map[string][]checkpoint.PendingWrite),
		seen:   make(map[string]struct{}),
	}
}

// GetTuple implements checkpoint.Checkpointer.
func (s *Store) GetTuple(_ context.Context, threadID, ns, id string) (checkpoint.Tuple, error) {
	if threadID == "" {
		return checkpoint.Tuple{}, errors.New("checkpoint: thread id is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key{threadID, ns}
	list := s.byKey[k]
	if len(list) == 0 {
		return checkpoint.Tuple{}, checkpoint.ErrNotFound
	}

	var cp checkpoint.Checkpoint
	if id == "" {
		cp = list[len(list)-1]
	} else {
		idx, ok := s.byID[k][id]
		if !ok {
			return checkpoint.Tuple{}, checkpoint.ErrNotFound
		}
		cp = list[idx]
	}

	var parent *checkpoint.Checkpoint
	if cp.ParentID != "" {
		if idx, ok := s.byID[k][cp.ParentID]; ok {
			p := list[idx]
			parent = &p
		}
	}

	pending := s.writes[k][cp.ID]
	return checkpoint.Tuple{
		Checkpoint:    cloneCheckpoint(cp),
		ParentConfig:  parent,
		PendingWrites: append([]checkpoint.PendingWrite(nil), pending...),
	}, nil
}

// Put implements checkpoint.Checkpointer. It is idempotent on (ThreadID, NS, ID).
func (s *Store) Put(_ context.Context, cp checkpoint.Checkpoint) error {
	if cp.ThreadID == "" || cp.ID == "" {
		return errors.New("checkpoint: thread id and id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key{cp.ThreadID, cp.NS}
	if cp.ParentID != "" {
		if _, ok := s.byID[k][cp.ParentID]; !ok {
			return checkpoint.ErrParentMissing
		}
	}

	if s.byID[k] == nil {
		s.byID[k] = make(map[string]int)
	}
	if idx, ok := s.byID[k][cp.ID]; ok {
		// Idempotent re-put: keep the original Created timestamp, refresh values.
		existing := s.byKey[k][idx]
		cp.Created = existing.Created
		s.byKey[k][idx] = cloneCheckpoint(cp)
		return nil
	}

	if cp.Created.IsZero() {
		cp.Created = time.Now().UTC()
	}
	s.byKey[k] = append(s.byKey[k], cloneCheckpoint(cp))
	s.byID[k][cp.ID] = len(s.byKey[k]) - 1
	return nil
}

// PutWrites implements checkpoint.Checkpointer.
func (s *Store) PutWrites(_ context.Context, threadID, ns, id string, writes []checkpoint.PendingWrite) error {
	if threadID == "" || id == "" {
		return errors.New("checkpoint: thread id and id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key{threadID, ns}
	if s.writes[k] == nil {
		s.writes[k] = make(map[string][]checkpoint.PendingWrite)
	}
	s.writes[k][id] = append([]checkpoint.PendingWrite(nil), writes...)
	return nil
}

// List implements checkpoint.Checkpointer, newest first.
func (s *Store) List(_ context.Context, threadID, ns string, before string, limit int) ([]checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	k := key{threadID, ns}
	list := append([]checkpoint.Checkpoint(nil), s.byKey[k]...)
	sort.Slice(list, func(i, j int) bool { return list[i].Created.After(list[j].Created) })

	if before != "" {
		filtered := list[:0:0]
		passedBefore := false
		for _, cp := range list {
			if passedBefore {
				filtered = append(filtered, cp)
			}
			if cp.ID == before {
				passedBefore = true
			}
		}
		list = filtered
	}
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]checkpoint.Checkpoint, len(list))
	for i, cp := range list {
		out[i] = cloneCheckpoint(cp)
	}
	return out, nil
}

// CheckIdempotency reports whether key was already used to commit a
// checkpoint, and records it if not (spec SPEC_FULL.md "Checkpoint
// idempotency keys"). Callers derive key from (threadID, ns, id) plus a hash
// of the values being committed so retried activity execution under the
// Engine Abstraction cannot double-commit.
func (s *Store) CheckIdempotency(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return true
	}
	s.seen[key] = struct{}{}
	return false
}

func cloneCheckpoint(in checkpoint.Checkpoint) checkpoint.Checkpoint {
	out := in
	if len(in.Values) > 0 {
		out.Values = make(map[string]any, len(in.Values))
		for k, v := range in.Values {
			out.Values[k] = v
		}
	}
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
