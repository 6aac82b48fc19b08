package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/pkg/contents/blob"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

func commit(t *testing.T, e *Engine, node hash.Hash, parents ...hash.Hash) hash.Hash {
	t.Helper()
	h, err := e.Commits.Put(context.Background(), model.Commit{NodeHash: node, Parents: parents})
	require.NoError(t, err)
	return h
}

func TestLcasOfIdenticalCommitIsItself(t *testing.T) {
	e := newEngine()
	root := commit(t, e, e.Empty())
	lcas, err := e.Lcas(context.Background(), root, root, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []hash.Hash{root}, lcas)
}

func TestLcasLinearHistory(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	root := commit(t, e, e.Empty())
	c1 := commit(t, e, e.Empty(), root)
	c2 := commit(t, e, e.Empty(), c1)

	lcas, err := e.Lcas(ctx, c2, root, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []hash.Hash{root}, lcas)
}

func TestLcasDivergentBranchesShareSingleAncestor(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	root := commit(t, e, e.Empty())
	a := commit(t, e, e.Empty(), root)
	b := commit(t, e, e.Empty(), root)

	lcas, err := e.Lcas(ctx, a, b, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []hash.Hash{root}, lcas)
}

func TestIsFastForward(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	root := commit(t, e, e.Empty())
	c1 := commit(t, e, e.Empty(), root)

	ok, err := e.IsFastForward(ctx, root, c1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = e.IsFastForward(ctx, c1, root)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	root := commit(t, e, e.Empty())
	c1 := commit(t, e, e.Empty(), root)
	c2 := commit(t, e, e.Empty(), c1)

	full, err := e.History(ctx, c2, 0)
	require.NoError(t, err)
	require.Len(t, full, 3)

	limited, err := e.History(ctx, c2, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestMergeCommitsAttachesTaskVerbatimAndKeepsParentOrder(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	leaf := putLeaf(t, e, []byte("base"))
	baseNode, err := e.Update(ctx, e.Empty(), model.Path{"k"}, leaf)
	require.NoError(t, err)
	root := commit(t, e, baseNode)

	aNode, err := e.Update(ctx, baseNode, model.Path{"a-only"}, putLeaf(t, e, []byte("a")))
	require.NoError(t, err)
	a := commit(t, e, aNode, root)

	bNode, err := e.Update(ctx, baseNode, model.Path{"b-only"}, putLeaf(t, e, []byte("b")))
	require.NoError(t, err)
	b := commit(t, e, bNode, root)

	task := model.Task{Owner: "merger", Messages: []string{"merge"}}
	merged, err := e.MergeCommits(ctx, root, a, b, blob.Codec{}, blob.MetadataCodec{}, task)
	require.NoError(t, err)
	require.Equal(t, task, merged.Task)
	require.Equal(t, []hash.Hash{a, b}, merged.Parents)

	_, ok, err := e.Find(ctx, merged.NodeHash, model.Path{"a-only"})
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = e.Find(ctx, merged.NodeHash, model.Path{"b-only"})
	require.NoError(t, err)
	require.True(t, ok)
}

// TestLcasCrissCrossHasMultipleLowestAncestors builds the classic
// criss-cross history (root -> a1, b1; then a2 merges [a1, b1] and b2
// merges [b1, a1]) where neither a1 nor b1 is an ancestor of the other,
// so a2 and b2 have two incomparable lowest common ancestors.
func TestLcasCrissCrossHasMultipleLowestAncestors(t *testing.T) {
	e := newEngine()
	ctx := context.Background()
	baseNode, err := e.Update(ctx, e.Empty(), model.Path{"k"}, putLeaf(t, e, []byte("base")))
	require.NoError(t, err)
	root := commit(t, e, baseNode)

	aNode, err := e.Update(ctx, baseNode, model.Path{"a-only"}, putLeaf(t, e, []byte("a")))
	require.NoError(t, err)
	a1 := commit(t, e, aNode, root)

	bNode, err := e.Update(ctx, baseNode, model.Path{"b-only"}, putLeaf(t, e, []byte("b")))
	require.NoError(t, err)
	b1 := commit(t, e, bNode, root)

	a2Node, err := e.Update(ctx, aNode, model.Path{"a2-only"}, putLeaf(t, e, []byte("a2")))
	require.NoError(t, err)
	a2 := commit(t, e, a2Node, a1, b1)

	b2Node, err := e.Update(ctx, bNode, model.Path{"b2-only"}, putLeaf(t, e, []byte("b2")))
	require.NoError(t, err)
	b2 := commit(t, e, b2Node, b1, a1)

	lcas, err := e.Lcas(ctx, a2, b2, 0, 0)
	require.NoError(t, err)
	want := []hash.Hash{a1, b1}
	hash.SortHashes(want)
	require.Equal(t, want, lcas)

	reduced, err := e.ReduceLCAs(ctx, lcas, blob.Codec{}, blob.MetadataCodec{})
	require.NoError(t, err)

	reducedCommit, ok, err := e.Commits.Get(ctx, reduced)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = e.Find(ctx, reducedCommit.NodeHash, model.Path{"a-only"})
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = e.Find(ctx, reducedCommit.NodeHash, model.Path{"b-only"})
	require.NoError(t, err)
	require.True(t, ok)
}
