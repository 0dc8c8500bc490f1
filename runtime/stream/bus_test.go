package stream_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/runtime/stream"
)

type recordingSink struct {
	events []stream.Event
}

func (r *recordingSink) Publish(_ context.Context, e stream.Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) Close(context.Context) error { return nil }

func TestBusFansOutToRegisteredSinks(t *testing.T) {
	bus := stream.NewBus()
	a, b := &recordingSink{}, &recordingSink{}
	_, err := bus.Register(a)
	require.NoError(t, err)
	_, err = bus.Register(b)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), stream.Event{Type: stream.EventRunStart, RunID: "r1"}))
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}

func TestBusUnregisterStopsDelivery(t *testing.T) {
	bus := stream.NewBus()
	a := &recordingSink{}
	sub, err := bus.Register(a)
	require.NoError(t, err)
	require.NoError(t, sub.Close())

	require.NoError(t, bus.Publish(context.Background(), stream.Event{Type: stream.EventRunStart}))
	require.Empty(t, a.events)
}

func TestBusMuteDropsMatchingTagPath(t *testing.T) {
	bus := stream.NewBus()
	a := &recordingSink{}
	_, err := bus.Register(a)
	require.NoError(t, err)
	bus.Mute("agent/internal")

	require.NoError(t, bus.Publish(context.Background(), stream.Event{Type: stream.EventAgentStart, TagPath: []string{"agent", "internal", "x"}}))
	require.Empty(t, a.events)

	require.NoError(t, bus.Publish(context.Background(), stream.Event{Type: stream.EventAgentStart, TagPath: []string{"agent", "public"}}))
	require.Len(t, a.events, 1)
}
