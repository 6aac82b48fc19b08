package tree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/internal/graph"
	"github.com/grovevc/grove/internal/kernel"
	"github.com/grovevc/grove/internal/objectstore"
	"github.com/grovevc/grove/pkg/model"
)

func newEngine() *graph.Engine {
	mem := kernel.NewMemory(nil)
	return graph.New(
		objectstore.NewNodeStore(mem, 0),
		objectstore.NewCommitStore(mem, 0),
		objectstore.NewContentsStore(mem, 0),
	)
}

func putLeaf(t *testing.T, e *graph.Engine, b []byte) model.Entry {
	t.Helper()
	h, err := e.Contents.Put(context.Background(), b)
	require.NoError(t, err)
	return model.Entry{Kind: model.KindContents, Hash: h}
}

func TestTreeGetChecksStagedBeforeBase(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	leaf := putLeaf(t, e, []byte("v1"))
	require.NoError(t, tr.Set(model.Path{"k"}, leaf))

	got, ok, err := tr.Get(ctx, model.Path{"k"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, leaf.Hash, got.Hash)
	require.True(t, tr.Status())
}

func TestTreeFlushPersistsAndResetsEdits(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	leaf := putLeaf(t, e, []byte("v1"))
	require.NoError(t, tr.Set(model.Path{"a", "b"}, leaf))

	root, err := tr.Flush(ctx)
	require.NoError(t, err)
	require.False(t, tr.Status())
	require.Equal(t, root, tr.Base())

	got, ok, err := e.Find(ctx, root, model.Path{"a", "b"})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, leaf.Hash, got.Hash)
}

func TestTreeFlushNoEditsIsNoop(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Of(e, e.Empty())
	root, err := tr.Flush(ctx)
	require.NoError(t, err)
	require.Equal(t, e.Empty(), root)
}

func TestTreeFlushOrdersDeepestFirstAcrossSiblingEdits(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	require.NoError(t, tr.Set(model.Path{"dir", "deep", "leaf"}, putLeaf(t, e, []byte("deep"))))
	require.NoError(t, tr.Set(model.Path{"dir", "shallow"}, putLeaf(t, e, []byte("shallow"))))

	root, err := tr.Flush(ctx)
	require.NoError(t, err)

	_, ok, err := e.Find(ctx, root, model.Path{"dir", "deep", "leaf"})
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = e.Find(ctx, root, model.Path{"dir", "shallow"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestTreeRemoveStagedThenFlushed(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	require.NoError(t, tr.Set(model.Path{"k"}, putLeaf(t, e, []byte("v"))))
	_, err := tr.Flush(ctx)
	require.NoError(t, err)

	require.NoError(t, tr.Remove(model.Path{"k"}))
	_, ok, err := tr.Get(ctx, model.Path{"k"})
	require.NoError(t, err)
	require.False(t, ok)

	root, err := tr.Flush(ctx)
	require.NoError(t, err)
	_, ok, err = e.Find(ctx, root, model.Path{"k"})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTreeStagedChangesIsLexicallySorted(t *testing.T) {
	e := newEngine()
	tr := Empty(e)
	require.NoError(t, tr.Set(model.Path{"z"}, putLeaf(t, e, []byte("z"))))
	require.NoError(t, tr.Set(model.Path{"a"}, putLeaf(t, e, []byte("a"))))

	changes := tr.StagedChanges()
	require.Len(t, changes, 2)
	require.Equal(t, model.Path{"a"}, changes[0].Path)
	require.Equal(t, model.Path{"z"}, changes[1].Path)
}

func TestTreeToConcreteDoesNotResetStagedEdits(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	require.NoError(t, tr.Set(model.Path{"k"}, putLeaf(t, e, []byte("v"))))

	snapshotHash, err := tr.ToConcrete(ctx)
	require.NoError(t, err)
	require.True(t, tr.Status())
	require.NotEqual(t, tr.Base(), snapshotHash)

	_, ok, err := e.Find(ctx, snapshotHash, model.Path{"k"})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOfConcreteStagesOverPersistedHash(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	tr := Empty(e)
	require.NoError(t, tr.Set(model.Path{"k"}, putLeaf(t, e, []byte("v"))))
	root, err := tr.Flush(ctx)
	require.NoError(t, err)

	tr2 := OfConcrete(e, root)
	got, ok, err := tr2.Get(ctx, model.Path{"k"})
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, tr2.Status())
	_ = got
}
