// Package pulse implements a stream.Sink that publishes runtime events onto
// goa.design/pulse Redis-backed streams, letting a Run's events fan out to
// subscribers in a different process than the one executing the Run.
// Grounded on the teacher's features/stream/pulse/{sink.go,clients/pulse}.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	"github.com/xpert-ai/agentgraph/runtime/stream"
)

type (
	// Client is the subset of goa.design/pulse/streaming's client surface
	// this sink needs, narrowed for testability.
	Client interface {
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		Close(ctx context.Context) error
	}

	// Stream is the subset of a Pulse stream handle this sink needs.
	Stream interface {
		Add(ctx context.Context, event string, payload []byte) (string, error)
	}

	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client Client
		// StreamID derives the target Pulse stream name from an event.
		// Defaults to "thread/<ThreadID>".
		StreamID func(stream.Event) (string, error)
	}

	// Sink publishes stream.Event values onto Pulse streams, one stream per
	// thread by default so a reconnecting subscriber can replay only its own
	// thread's backlog.
	Sink struct {
		client   Client
		streamID func(stream.Event) (string, error)
		streams  map[string]Stream
	}

	// Envelope wraps a runtime event for transmission over a Pulse stream.
	Envelope struct {
		Type      string          `json:"type"`
		ThreadID  string          `json:"threadId"`
		RunID     string          `json:"runId"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
)

// New constructs a Pulse-backed Sink.
func New(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse sink: client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = func(e stream.Event) (string, error) {
			if e.ThreadID == "" {
				return "", errors.New("pulse sink: event has no ThreadID to derive a stream name from")
			}
			return "thread/" + e.ThreadID, nil
		}
	}
	return &Sink{client: opts.Client, streamID: streamID, streams: make(map[string]Stream)}, nil
}

// Publish marshals event into an Envelope and appends it to the event's
// derived Pulse stream, lazily opening the stream handle on first use.
func (s *Sink) Publish(ctx context.Context, event stream.Event) error {
	name, err := s.streamID(event)
	if err != nil {
		return fmt.Errorf("pulse sink: derive stream name: %w", err)
	}
	st, err := s.streamFor(name)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("pulse sink: marshal event payload: %w", err)
	}
	env := Envelope{Type: string(event.Type), ThreadID: event.ThreadID, RunID: event.RunID, Timestamp: event.Timestamp, Payload: payload}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pulse sink: marshal envelope: %w", err)
	}
	_, err = st.Add(ctx, string(event.Type), data)
	return err
}

// Close releases the Pulse client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *Sink) streamFor(name string) (Stream, error) {
	if st, ok := s.streams[name]; ok {
		return st, nil
	}
	st, err := s.client.Stream(name)
	if err != nil {
		return nil, fmt.Errorf("pulse sink: open stream %q: %w", name, err)
	}
	s.streams[name] = st
	return st, nil
}
