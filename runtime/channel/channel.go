// Package channel implements the State Channel Store (spec §4.A): a keyed
// map from channel name to (reducer, default, currentValue). Each Apply call
// is atomic — either every update passed to it lands, or none do. The
// Scheduler/Runner calls Apply once per node result, so a step whose later
// Apply fails keeps the writes of its earlier ones.
package channel

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
)

type (
	// Reducer merges an update into the channel's previous value. Reducers
	// must be pure: same (prev, update) in, same next out, no side effects.
	Reducer func(prev, update any) (any, error)

	// Spec declares a single channel: its reducer and its zero value factory.
	Spec struct {
		Name    string
		Reduce  Reducer
		Default func() any
	}

	// Store holds the live values of every declared channel for one Run.
	// Safe for concurrent reads; Apply serializes writes so the updates of
	// one Apply call land atomically.
	Store struct {
		mu     sync.RWMutex
		specs  map[string]Spec
		values map[string]any
	}
)

// ErrUnknownChannel is returned by Apply when an update targets a channel
// that was never declared in the Spec set passed to New.
type ErrUnknownChannel struct{ Name string }

func (e *ErrUnknownChannel) Error() string {
	return fmt.Sprintf("channel: unknown channel %q in update set", e.Name)
}

// New constructs a Store from the given channel declarations and fills every
// channel with its default value (spec §4.A: initialize(spec)).
func New(specs []Spec) *Store {
	s := &Store{
		specs:  make(map[string]Spec, len(specs)),
		values: make(map[string]any, len(specs)),
	}
	for _, spec := range specs {
		s.specs[spec.Name] = spec
		if spec.Default != nil {
			s.values[spec.Name] = spec.Default()
		} else {
			s.values[spec.Name] = nil
		}
	}
	return s
}

// Read returns the current value of the named channel.
func (s *Store) Read(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.specs[name]; !ok {
		return nil, &ErrUnknownChannel{Name: name}
	}
	return s.values[name], nil
}

// Apply merges a batch of updates into the store. It validates every target
// channel exists before reducing any of them, so a single unknown channel
// name rejects the whole batch rather than leaving a partially-applied step.
func (s *Store) Apply(updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range updates {
		if _, ok := s.specs[name]; !ok {
			return &ErrUnknownChannel{Name: name}
		}
	}

	next := make(map[string]any, len(updates))
	for name, update := range updates {
		spec := s.specs[name]
		reduced, err := spec.Reduce(s.values[name], update)
		if err != nil {
			return fmt.Errorf("channel %q: %w", name, err)
		}
		next[name] = reduced
	}
	for name, value := range next {
		s.values[name] = value
	}
	return nil
}

// Snapshot returns a deep-enough clone of every channel's current value,
// suitable for handing to the Checkpointer (spec §4.A: snapshot()).
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = cloneJSON(v)
	}
	return out
}

// ToJSON serializes the current snapshot for checkpoint persistence.
func (s *Store) ToJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// FromJSON replaces every channel's current value from a previously
// persisted snapshot. Channels present in data but not declared in specs are
// rejected; channels declared but absent from data keep their default.
func (s *Store) FromJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("channel: decode snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range raw {
		if _, ok := s.specs[name]; !ok {
			return &ErrUnknownChannel{Name: name}
		}
	}
	for name, rawValue := range raw {
		target := s.newValuePointer(name)
		if err := json.Unmarshal(rawValue, target); err != nil {
			return fmt.Errorf("channel %q: decode value: %w", name, err)
		}
		s.values[name] = reflect.ValueOf(target).Elem().Interface()
	}
	return nil
}

// newValuePointer returns a pointer to a fresh zero value shaped like the
// channel's declared default, so FromJSON decodes into the channel's real Go
// type (e.g. []model.Message) instead of a generic map[string]any/[]any tree
// that would break type assertions in reducers and readers after a restore.
func (s *Store) newValuePointer(name string) any {
	spec := s.specs[name]
	if spec.Default == nil {
		var v any
		return &v
	}
	t := reflect.TypeOf(spec.Default())
	if t == nil {
		var v any
		return &v
	}
	return reflect.New(t).Interface()
}

// cloneJSON deep-clones a value built from map[string]any/[]any/scalars by
// round-tripping through JSON. Channel values are always JSON-shaped (either
// produced by json.Unmarshal during FromJSON, or plain structs the caller
// controls), so this is cheap relative to correctness of true deep clones.
func cloneJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
