package http

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xpert-ai/agentgraph/graph"
)

// ThreadRecord pairs a Thread with the caller-supplied metadata the
// /threads/search endpoint filters on; graph.Thread itself carries no
// metadata field since the Scheduler/Runner never needs to read it.
type ThreadRecord struct {
	graph.Thread
	Metadata map[string]any
}

// AssistantRecord is one registered Xpert plus the agent key a run against
// it enters at (spec §3: "Xpert (Assistant)").
type AssistantRecord struct {
	Xpert      graph.Xpert
	EntryAgent string
}

// ErrExists is returned by ThreadStore.Create when if_exists=raise and the
// thread id is already taken (spec §6: "Idempotent when if_exists=do_nothing").
var ErrExists = fmt.Errorf("transport/http: thread already exists")

// ErrNotFound is returned by any store lookup that finds nothing.
var ErrNotFound = fmt.Errorf("transport/http: not found")

// ThreadStore tracks Thread identity and lifecycle state for the HTTP
// surface; the Checkpointer remains the source of truth for channel values.
type ThreadStore interface {
	Create(ctx context.Context, rec ThreadRecord, ifExists string) (ThreadRecord, error)
	Get(ctx context.Context, id string) (ThreadRecord, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, metadata map[string]any) ([]ThreadRecord, error)
	UpdateState(ctx context.Context, id string, state graph.ThreadState, latestCheckpoint string) error
}

// RunStore tracks Run status for GET /threads/:id/runs/:run_id independent
// of the Agent Execution Ledger, which records per-node executions rather
// than the Run's own lifecycle row.
type RunStore interface {
	Create(ctx context.Context, run graph.Run) error
	Update(ctx context.Context, run graph.Run) error
	Get(ctx context.Context, threadID, runID string) (graph.Run, error)
	ListByThread(ctx context.Context, threadID string) ([]graph.Run, error)
}

// AssistantStore looks up a registered Xpert by id, or filters the set for
// POST /assistants/search.
type AssistantStore interface {
	Get(ctx context.Context, id string) (AssistantRecord, error)
	Search(ctx context.Context, graphID string, metadata map[string]any) ([]AssistantRecord, error)
	Put(ctx context.Context, id string, rec AssistantRecord)
}

// memoryItem is one entry in the namespaced key/value store backing
// POST /store/items.
type memoryItem struct {
	Namespace []string
	Key       string
	Value     map[string]any
	UpdatedAt time.Time
}

// MemoryStore implements the §6 "Memory KV store (namespaces, items,
// search)" surface: a namespaced key/value map with substring search over
// stored values, independent of conversation state.
type MemoryStore interface {
	Put(ctx context.Context, namespace []string, key string, value map[string]any) error
	Get(ctx context.Context, namespace []string, key string) (map[string]any, bool, error)
	Delete(ctx context.Context, namespace []string, key string) error
	Search(ctx context.Context, namespace []string, query string, limit int) ([]memoryItem, error)
}

// inmemThreadStore is the default ThreadStore: safe for concurrent use, not
// durable across process restarts.
type inmemThreadStore struct {
	mu   sync.Mutex
	byID map[string]ThreadRecord
}

// NewThreadStore returns an in-memory ThreadStore.
func NewThreadStore() ThreadStore {
	return &inmemThreadStore{byID: make(map[string]ThreadRecord)}
}

func (s *inmemThreadStore) Create(_ context.Context, rec ThreadRecord, ifExists string) (ThreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byID[rec.ID]; ok {
		if ifExists == "do_nothing" {
			return existing, nil
		}
		return ThreadRecord{}, ErrExists
	}
	s.byID[rec.ID] = rec
	return rec, nil
}

func (s *inmemThreadStore) Get(_ context.Context, id string) (ThreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ThreadRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *inmemThreadStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func (s *inmemThreadStore) Search(_ context.Context, metadata map[string]any) ([]ThreadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ThreadRecord
	for _, rec := range s.byID {
		if matchesMetadata(rec.Metadata, metadata) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *inmemThreadStore) UpdateState(_ context.Context, id string, state graph.ThreadState, latestCheckpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.State = state
	if latestCheckpoint != "" {
		rec.LatestCheckpoint = latestCheckpoint
	}
	rec.UpdatedAt = time.Now().UTC()
	s.byID[id] = rec
	return nil
}

// matchesMetadata reports whether every key/value in want is present and
// equal in got (spec §6: "Server-side AND of conditions").
func matchesMetadata(got, want map[string]any) bool {
	for k, v := range want {
		gv, ok := got[k]
		if !ok || fmt.Sprint(gv) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

type inmemRunStore struct {
	mu   sync.Mutex
	byID map[string]graph.Run
}

// NewRunStore returns an in-memory RunStore.
func NewRunStore() RunStore {
	return &inmemRunStore{byID: make(map[string]graph.Run)}
}

func (s *inmemRunStore) Create(_ context.Context, run graph.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[runKey(run.ThreadID, run.ID)] = run
	return nil
}

func (s *inmemRunStore) Update(_ context.Context, run graph.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[runKey(run.ThreadID, run.ID)]; !ok {
		return ErrNotFound
	}
	s.byID[runKey(run.ThreadID, run.ID)] = run
	return nil
}

func (s *inmemRunStore) Get(_ context.Context, threadID, runID string) (graph.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byID[runKey(threadID, runID)]
	if !ok {
		return graph.Run{}, ErrNotFound
	}
	return run, nil
}

func (s *inmemRunStore) ListByThread(_ context.Context, threadID string) ([]graph.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []graph.Run
	for _, run := range s.byID {
		if run.ThreadID == threadID {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func runKey(threadID, runID string) string { return threadID + "/" + runID }

type inmemAssistantStore struct {
	mu   sync.Mutex
	byID map[string]AssistantRecord
}

// NewAssistantStore returns an in-memory AssistantStore.
func NewAssistantStore() AssistantStore {
	return &inmemAssistantStore{byID: make(map[string]AssistantRecord)}
}

func (s *inmemAssistantStore) Get(_ context.Context, id string) (AssistantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return AssistantRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *inmemAssistantStore) Search(_ context.Context, graphID string, metadata map[string]any) ([]AssistantRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AssistantRecord
	for _, rec := range s.byID {
		if graphID != "" && rec.Xpert.ID != graphID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Xpert.ID < out[j].Xpert.ID })
	return out, nil
}

func (s *inmemAssistantStore) Put(_ context.Context, id string, rec AssistantRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = rec
}

type inmemMemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

// NewMemoryStore returns an in-memory MemoryStore.
func NewMemoryStore() MemoryStore {
	return &inmemMemoryStore{items: make(map[string]memoryItem)}
}

func memoryItemKey(namespace []string, key string) string {
	return strings.Join(namespace, "/") + "::" + key
}

func (s *inmemMemoryStore) Put(_ context.Context, namespace []string, key string, value map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[memoryItemKey(namespace, key)] = memoryItem{
		Namespace: namespace,
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *inmemMemoryStore) Get(_ context.Context, namespace []string, key string) (map[string]any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[memoryItemKey(namespace, key)]
	if !ok {
		return nil, false, nil
	}
	return item.Value, true, nil
}

func (s *inmemMemoryStore) Delete(_ context.Context, namespace []string, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, memoryItemKey(namespace, key))
	return nil
}

func (s *inmemMemoryStore) Search(_ context.Context, namespace []string, query string, limit int) ([]memoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := strings.Join(namespace, "/")
	var out []memoryItem
	for _, item := range s.items {
		if strings.Join(item.Namespace, "/") != prefix {
			continue
		}
		if query != "" && !valueContains(item.Value, query) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func valueContains(value map[string]any, query string) bool {
	query = strings.ToLower(query)
	for _, v := range value {
		if strings.Contains(strings.ToLower(fmt.Sprint(v)), query) {
			return true
		}
	}
	return false
}
