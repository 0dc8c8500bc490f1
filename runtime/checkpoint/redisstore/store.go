// Package redisstore implements checkpoint.Checkpointer backed by Redis, for
// deployments that need a single shared durable store across processes
// (spec §5: "the Checkpointer is the only shared mutable store").
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
)

// Store is a Redis-backed checkpoint.Checkpointer. Each checkpoint is stored
// as a JSON blob under a deterministic key; a per-(thread,ns) sorted set
// indexes checkpoint ids by creation time for List and "latest" lookups.
type Store struct {
	redis  *redis.Client
	prefix string
}

// New constructs a Store using client for all operations. prefix namespaces
// every key this store touches (useful when several services share one
// Redis instance); an empty prefix is valid.
func New(client *redis.Client, prefix string) *Store {
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) dataKey(threadID, ns, id string) string {
	return fmt.Sprintf("%scheckpoint:{%s}:%s:data:%s", s.prefix, threadID, ns, id)
}

func (s *Store) indexKey(threadID, ns string) string {
	return fmt.Sprintf("%scheckpoint:{%s}:%s:index", s.prefix, threadID, ns)
}

func (s *Store) writesKey(threadID, ns, id string) string {
	return fmt.Sprintf("%scheckpoint:{%s}:%s:writes:%s", s.prefix, threadID, ns, id)
}

func (s *Store) idempotencyKey(key string) string {
	return fmt.Sprintf("%scheckpoint:idempotency:%s", s.prefix, key)
}

// GetTuple implements checkpoint.Checkpointer.
func (s *Store) GetTuple(ctx context.Context, threadID, ns, id string) (checkpoint.Tuple, error) {
	if id == "" {
		ids, err := s.redis.ZRevRange(ctx, s.indexKey(threadID, ns), 0, 0).Result()
		if err != nil {
			return checkpoint.Tuple{}, fmt.Errorf("checkpoint: redis: %w", err)
		}
		if len(ids) == 0 {
			return checkpoint.Tuple{}, checkpoint.ErrNotFound
		}
		id = ids[0]
	}

	cp, err := s.load(ctx, threadID, ns, id)
	if err != nil {
		return checkpoint.Tuple{}, err
	}

	tuple := checkpoint.Tuple{Checkpoint: cp}
	if cp.ParentID != "" {
		parent, err := s.load(ctx, threadID, ns, cp.ParentID)
		if err == nil {
			tuple.ParentConfig = &parent
		}
	}

	raw, err := s.redis.Get(ctx, s.writesKey(threadID, ns, id)).Bytes()
	if err == nil {
		var writes []checkpoint.PendingWrite
		if jsonErr := json.Unmarshal(raw, &writes); jsonErr == nil {
			tuple.PendingWrites = writes
		}
	} else if !errors.Is(err, redis.Nil) {
		return checkpoint.Tuple{}, fmt.Errorf("checkpoint: redis: %w", err)
	}
	return tuple, nil
}

func (s *Store) load(ctx context.Context, threadID, ns, id string) (checkpoint.Checkpoint, error) {
	raw, err := s.redis.Get(ctx, s.dataKey(threadID, ns, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint: redis: %w", err)
	}
	var cp checkpoint.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("checkpoint: decode: %w", err)
	}
	return cp, nil
}

// Put implements checkpoint.Checkpointer. It is idempotent on (ThreadID, NS,
// ID): re-putting preserves the original Created timestamp.
func (s *Store) Put(ctx context.Context, cp checkpoint.Checkpoint) error {
	if cp.ThreadID == "" || cp.ID == "" {
		return errors.New("checkpoint: thread id and id are required")
	}
	if cp.ParentID != "" {
		if _, err := s.load(ctx, cp.ThreadID, cp.NS, cp.ParentID); err != nil {
			return checkpoint.ErrParentMissing
		}
	}

	if existing, err := s.load(ctx, cp.ThreadID, cp.NS, cp.ID); err == nil {
		cp.Created = existing.Created
	} else if cp.Created.IsZero() {
		cp.Created = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("checkpoint: encode: %w", err)
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.dataKey(cp.ThreadID, cp.NS, cp.ID), data, 0)
	pipe.ZAdd(ctx, s.indexKey(cp.ThreadID, cp.NS), redis.Z{
		Score:  float64(cp.Created.UnixNano()),
		Member: cp.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("checkpoint: redis: %w", err)
	}
	return nil
}

// PutWrites implements checkpoint.Checkpointer.
func (s *Store) PutWrites(ctx context.Context, threadID, ns, id string, writes []checkpoint.PendingWrite) error {
	data, err := json.Marshal(writes)
	if err != nil {
		return fmt.Errorf("checkpoint: encode writes: %w", err)
	}
	if err := s.redis.Set(ctx, s.writesKey(threadID, ns, id), data, 0).Err(); err != nil {
		return fmt.Errorf("checkpoint: redis: %w", err)
	}
	return nil
}

// List implements checkpoint.Checkpointer, newest first.
func (s *Store) List(ctx context.Context, threadID, ns string, before string, limit int) ([]checkpoint.Checkpoint, error) {
	ids, err := s.redis.ZRevRange(ctx, s.indexKey(threadID, ns), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("checkpoint: redis: %w", err)
	}
	if before != "" {
		for i, id := range ids {
			if id == before {
				ids = ids[i+1:]
				break
			}
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]checkpoint.Checkpoint, 0, len(ids))
	for _, id := range ids {
		cp, err := s.load(ctx, threadID, ns, id)
		if err != nil {
			continue
		}
		out = append(out, cp)
	}
	return out, nil
}

// CheckIdempotency reports whether key has already been used to commit a
// checkpoint in this store, atomically recording it on first use (spec
// SPEC_FULL.md "Checkpoint idempotency keys", grounded on
// dshills-langgraph-go's CheckIdempotency).
func (s *Store) CheckIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.idempotencyKey(key), 1, 24*time.Hour).Result()
	if err != nil {
		return false, fmt.Errorf("checkpoint: redis: %w", err)
	}
	// SetNX returns true when the key was newly set, i.e. NOT previously used.
	return !ok, nil
}
