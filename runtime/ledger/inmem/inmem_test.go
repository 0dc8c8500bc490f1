package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xpert-ai/agentgraph/graph"
	"github.com/xpert-ai/agentgraph/runtime/ledger"
	"github.com/xpert-ai/agentgraph/runtime/model"
)

func TestStoreAppendAndList(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, &ledger.Event{
			RunID:     "run-1",
			AgentKey:  "main",
			NodeKey:   "main:call_model",
			Type:      ledger.EventOpen,
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	page1, err := s.List(ctx, "run-1", "", 2)
	require.NoError(t, err)
	require.Len(t, page1.Events, 2)
	require.NotEmpty(t, page1.NextCursor)

	page2, err := s.List(ctx, "run-1", page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Events, 1)
	require.Empty(t, page2.NextCursor)
}

func TestStoreListValidation(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	_, err := s.List(ctx, "", "", 10)
	require.Error(t, err)

	_, err = s.List(ctx, "run-1", "", 0)
	require.Error(t, err)
}

func TestStorePendingEventsAndMarkEmitted(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := s.Append(ctx, &ledger.Event{
			RunID:     "run-1",
			Type:      ledger.EventOpen,
			Timestamp: time.Unix(int64(i+1), 0).UTC(),
		})
		require.NoError(t, err)
	}

	pending, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	err = s.MarkEventsEmitted(ctx, []string{pending[0].ID, pending[1].ID})
	require.NoError(t, err)

	remaining, err := s.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, pending[2].ID, remaining[0].ID)
}

func TestOpenCloseHelpersLinkEvents(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	open, err := ledger.Open(ctx, s, "run-1", "", "main", "main:call_model", []byte(`{"q":"go"}`), time.Unix(1, 0).UTC())
	require.NoError(t, err)
	require.NotEmpty(t, open.ID)

	err = ledger.Close(ctx, s, open, graph.RunStatusSuccess, []byte(`{"a":1}`), "", model.TokenUsage{}, time.Unix(2, 0).UTC().Add(500*time.Millisecond))
	require.NoError(t, err)

	page, err := s.List(ctx, "run-1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	require.Equal(t, ledger.EventOpen, page.Events[0].Type)
	require.Equal(t, ledger.EventClose, page.Events[1].Type)
	require.EqualValues(t, 1500, page.Events[1].ElapsedMs)
}
