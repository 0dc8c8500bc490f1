package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
)

type (
	// Bus fans an Event out to every registered Sink, stopping at the first
	// Sink that errors. Sinks are held in a map, so the order in which they
	// receive an Event is not defined. Generalized from the teacher's
	// hooks.Bus (runtime/agent/hooks/bus.go) from internal-observability
	// event delivery to client-facing stream events.
	Bus struct {
		mu    sync.RWMutex
		sinks map[*subscription]Sink
		muted []string
	}

	subscription struct {
		bus    *Bus
		closed sync.Once
	}
)

// NewBus constructs an empty Bus.
func NewBus() *Bus {
	return &Bus{sinks: make(map[*subscription]Sink)}
}

// Register adds a Sink to the bus and returns a handle to unregister it.
func (b *Bus) Register(sink Sink) (*subscription, error) {
	if sink == nil {
		return nil, errors.New("stream: sink is required")
	}
	sub := &subscription{bus: b}
	b.mu.Lock()
	b.sinks[sub] = sink
	b.mu.Unlock()
	return sub, nil
}

// Mute adds tag-path prefixes to the bus's mute set; events whose TagPath
// starts with a muted prefix are dropped before reaching any Sink (spec
// §4.I: "mute/unmute tag-path prefix filtering").
func (b *Bus) Mute(prefix ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.muted = append(b.muted, prefix...)
}

// Unmute removes a previously muted prefix.
func (b *Bus) Unmute(prefix string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.muted[:0]
	for _, p := range b.muted {
		if p != prefix {
			kept = append(kept, p)
		}
	}
	b.muted = kept
}

// Publish delivers event to every registered Sink unless its TagPath matches
// a muted prefix, stopping at the first Sink error.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	b.mu.RLock()
	if b.isMuted(event.TagPath) {
		b.mu.RUnlock()
		return nil
	}
	sinks := make([]Sink, 0, len(b.sinks))
	for _, s := range b.sinks {
		sinks = append(sinks, s)
	}
	b.mu.RUnlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) isMuted(tagPath []string) bool {
	if len(tagPath) == 0 || len(b.muted) == 0 {
		return false
	}
	joined := strings.Join(tagPath, "/")
	for _, prefix := range b.muted {
		if strings.HasPrefix(joined, prefix) {
			return true
		}
	}
	return false
}

// Close unregisters the subscription; idempotent.
func (s *subscription) Close() error {
	s.closed.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.sinks, s)
		s.bus.mu.Unlock()
	})
	return nil
}
