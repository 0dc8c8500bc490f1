package channel_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xpert-ai/agentgraph/runtime/channel"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func newTestStore() *channel.Store {
	return channel.New([]channel.Spec{
		channel.MessagesChannelSpec(),
		{Name: "counter", Reduce: channel.LastWriterWins, Default: func() any { return map[string]any{"n": float64(0)} }},
	})
}

func TestApplyIsAtomicAcrossUnknownChannel(t *testing.T) {
	store := newTestStore()

	err := store.Apply(map[string]any{
		"counter": map[string]any{"n": float64(1)},
		"bogus":   "x",
	})
	require.Error(t, err)

	value, err := store.Read("counter")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"n": float64(0)}, value, "partial writes must not land when the batch is rejected")
}

func TestMessagesReducerDeduplicatesByID(t *testing.T) {
	store := newTestStore()

	require.NoError(t, store.Apply(map[string]any{
		"messages": model.Message{ID: "m1", Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hi"}}},
	}))
	require.NoError(t, store.Apply(map[string]any{
		"messages": model.Message{ID: "m2", Role: model.RoleAssistant, Content: []model.Part{model.TextPart{Text: "hello"}}},
	}))
	// Resending m1 with new content replaces in place, not appends.
	require.NoError(t, store.Apply(map[string]any{
		"messages": model.Message{ID: "m1", Role: model.RoleUser, Content: []model.Part{model.TextPart{Text: "hi again"}}},
	}))

	value, err := store.Read("messages")
	require.NoError(t, err)
	msgs := value.([]model.Message)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "hi again", msgs[0].Content[0].(model.TextPart).Text)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestMessagesReducerRemoveByID(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Apply(map[string]any{
		"messages": []model.Message{{ID: "m1"}, {ID: "m2"}},
	}))
	require.NoError(t, store.Apply(map[string]any{
		"messages": channel.RemoveMessage{ID: "m1"},
	}))

	value, err := store.Read("messages")
	require.NoError(t, err)
	msgs := value.([]model.Message)
	require.Len(t, msgs, 1)
	require.Equal(t, "m2", msgs[0].ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStore()
	require.NoError(t, store.Apply(map[string]any{
		"messages": model.Message{ID: "m1", Role: model.RoleUser},
	}))

	data, err := store.ToJSON()
	require.NoError(t, err)

	restored := newTestStore()
	require.NoError(t, restored.FromJSON(data))

	got, err := restored.Read("messages")
	require.NoError(t, err)
	msgs, ok := got.([]model.Message)
	require.True(t, ok, "FromJSON must decode into the channel's declared type, not a generic map/slice tree")
	require.Len(t, msgs, 1)
	require.Equal(t, "m1", msgs[0].ID)
}

func TestReadUnknownChannel(t *testing.T) {
	store := newTestStore()
	_, err := store.Read("nope")
	require.Error(t, err)
	var unk *channel.ErrUnknownChannel
	require.ErrorAs(t, err, &unk)
}
