package inmem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint"
	"github.com/xpert-ai/agentgraph/runtime/checkpoint/inmem"
)

func TestPutIsIdempotentOnPrimaryKey(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	cp := checkpoint.Checkpoint{ThreadID: "t1", NS: "", ID: "c1", Values: map[string]any{"messages": "a"}}
	require.NoError(t, store.Put(ctx, cp))
	require.NoError(t, store.Put(ctx, cp))

	list, err := store.List(ctx, "t1", "", "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1, "re-putting the same (thread, ns, id) must not create a duplicate row")
}

func TestGetTupleDefaultsToLatest(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.Put(ctx, checkpoint.Checkpoint{ThreadID: "t1", ID: "c1"}))
	require.NoError(t, store.Put(ctx, checkpoint.Checkpoint{ThreadID: "t1", ID: "c2", ParentID: "c1"}))

	tuple, err := store.GetTuple(ctx, "t1", "", "")
	require.NoError(t, err)
	require.Equal(t, "c2", tuple.Checkpoint.ID)
	require.NotNil(t, tuple.ParentConfig)
	require.Equal(t, "c1", tuple.ParentConfig.ID)
}

func TestPutRejectsMissingParent(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()
	err := store.Put(ctx, checkpoint.Checkpoint{ThreadID: "t1", ID: "c1", ParentID: "ghost"})
	require.ErrorIs(t, err, checkpoint.ErrParentMissing)
}

func TestDottedNamespacesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := inmem.New()

	require.NoError(t, store.Put(ctx, checkpoint.Checkpoint{ThreadID: "t1", NS: "", ID: "root"}))
	require.NoError(t, store.Put(ctx, checkpoint.Checkpoint{ThreadID: "t1", NS: checkpoint.ChildNamespace("", "researcher"), ID: "sub1"}))

	_, err := store.GetTuple(ctx, "t1", checkpoint.ChildNamespace("", "researcher"), "")
	require.NoError(t, err)

	rootTuple, err := store.GetTuple(ctx, "t1", "", "")
	require.NoError(t, err)
	require.Equal(t, "root", rootTuple.Checkpoint.ID)
}
