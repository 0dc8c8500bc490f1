// Package inmem provides an in-memory implementation of ledger.Store,
// intended for tests and local development; it is not durable.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/xpert-ai/agentgraph/runtime/ledger"
)

// Store implements ledger.Store in memory.
type Store struct {
	mu      sync.Mutex
	nextSeq map[string]int64 // per-run monotonically increasing sequence
	events  map[string][]*ledger.Event
	all     []*ledger.Event // insertion order across all runs, for PendingEvents
}

// New returns an empty in-memory ledger store.
func New() *Store {
	return &Store{
		nextSeq: make(map[string]int64),
		events:  make(map[string][]*ledger.Event),
	}
}

// Append implements ledger.Store.
func (s *Store) Append(_ context.Context, e *ledger.Event) error {
	if e == nil {
		return fmt.Errorf("ledger: event is required")
	}
	if e.RunID == "" {
		return fmt.Errorf("ledger: run id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.nextSeq[e.RunID] + 1
	s.nextSeq[e.RunID] = seq

	e.ID = e.RunID + ":" + strconv.FormatInt(seq, 10)
	ev := *e
	s.events[e.RunID] = append(s.events[e.RunID], &ev)
	s.all = append(s.all, &ev)
	return nil
}

// List implements ledger.Store.
func (s *Store) List(_ context.Context, runID, cursor string, limit int) (ledger.Page, error) {
	if runID == "" {
		return ledger.Page{}, fmt.Errorf("ledger: run id is required")
	}
	if limit <= 0 {
		return ledger.Page{}, fmt.Errorf("ledger: limit must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[runID]
	start := 0
	if cursor != "" {
		for i, e := range all {
			if e.ID == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(all) {
		return ledger.Page{}, nil
	}

	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	events := append([]*ledger.Event(nil), all[start:end]...)
	var next string
	if end < len(all) {
		next = events[len(events)-1].ID
	}
	return ledger.Page{Events: events, NextCursor: next}, nil
}

// PendingEvents implements ledger.Store.
func (s *Store) PendingEvents(_ context.Context, limit int) ([]*ledger.Event, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("ledger: limit must be > 0")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*ledger.Event, 0, limit)
	for _, e := range s.all {
		if e.Emitted {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// MarkEventsEmitted implements ledger.Store.
func (s *Store) MarkEventsEmitted(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for _, e := range s.all {
		if _, ok := want[e.ID]; ok {
			e.Emitted = true
		}
	}
	return nil
}
