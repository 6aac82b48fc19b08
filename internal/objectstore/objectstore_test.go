package objectstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/internal/kernel"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/lockmgr"
	"github.com/grovevc/grove/pkg/model"
)

func TestContentsStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewContentsStore(kernel.NewMemory(nil), 0)

	h, err := s.Put(ctx, []byte("hello"))
	require.NoError(t, err)

	v, ok, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), v)
}

func TestContentsStoreGetMissingIsNotError(t *testing.T) {
	ctx := context.Background()
	s := NewContentsStore(kernel.NewMemory(nil), 0)

	_, ok, err := s.Get(ctx, hash.Sum([]byte("never put")))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNodeStoreZeroHashIsEmptyNodeWithoutBackendRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore(kernel.NewMemory(nil), 0)

	n, ok, err := s.Get(ctx, hash.Zero)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, n.Entries)
}

func TestNodeStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewNodeStore(kernel.NewMemory(nil), 0)

	n := model.NewNode(map[model.Step]model.Entry{
		"a": {Kind: model.KindContents, Hash: hash.Sum([]byte("a"))},
	})
	h, err := s.Put(ctx, n)
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, n.Entries, got.Entries)
}

func TestCommitStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewCommitStore(kernel.NewMemory(nil), 0)

	c := model.Commit{NodeHash: hash.Sum([]byte("root"))}
	h, err := s.Put(ctx, c)
	require.NoError(t, err)

	got, ok, err := s.Get(ctx, h)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c.NodeHash, got.NodeHash)
}

func newBranchStore() *BranchStore {
	return NewBranchStore(kernel.NewMemory(nil), lockmgr.New(), nil)
}

func TestBranchStoreCreateThenGet(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	h := hash.Sum([]byte("c1"))

	require.NoError(t, s.Create(ctx, "main", h))

	got, ok, err := s.Get(ctx, "main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, h, got)
}

func TestBranchStoreCreateTwiceConflicts(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	require.NoError(t, s.Create(ctx, "main", hash.Sum([]byte("c1"))))

	err := s.Create(ctx, "main", hash.Sum([]byte("c2")))
	require.ErrorIs(t, err, graveerr.ErrConcurrentUpdate)
}

func TestBranchStoreCreateRejectsInvalidName(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	h := hash.Sum([]byte("c1"))

	require.ErrorIs(t, s.Create(ctx, "", h), graveerr.ErrInvalidArgument)
	require.ErrorIs(t, s.Create(ctx, "has spaces", h), graveerr.ErrInvalidArgument)

	_, ok, err := s.Get(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBranchStoreCompareAndSwapRejectsInvalidName(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()

	_, err := s.CompareAndSwap(ctx, "has spaces", hash.Hash{}, hash.Sum([]byte("c1")))
	require.ErrorIs(t, err, graveerr.ErrInvalidArgument)
}

func TestBranchStoreCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	c1 := hash.Sum([]byte("c1"))
	c2 := hash.Sum([]byte("c2"))
	c3 := hash.Sum([]byte("c3"))
	require.NoError(t, s.Create(ctx, "main", c1))

	ok, err := s.CompareAndSwap(ctx, "main", c3, c2)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.CompareAndSwap(ctx, "main", c1, c2)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, err := s.Get(ctx, "main")
	require.NoError(t, err)
	require.Equal(t, c2, got)
}

func TestBranchStoreListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	require.NoError(t, s.Create(ctx, "main", hash.Sum([]byte("c1"))))
	require.NoError(t, s.Create(ctx, "feature", hash.Sum([]byte("c2"))))

	branches, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 2)

	require.NoError(t, s.Delete(ctx, "feature"))
	branches, err = s.List(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.Equal(t, "main", branches[0].Name)
}

func TestBranchStoreWatchHeadDeliversAdvance(t *testing.T) {
	ctx := context.Background()
	s := newBranchStore()
	c1 := hash.Sum([]byte("c1"))
	c2 := hash.Sum([]byte("c2"))

	events := make(chan hash.Hash, 2)
	h := s.WatchHead("main", func(ctx context.Context, old, new hash.Hash, oldOK, newOK bool) {
		events <- new
	})
	defer s.Unwatch(h)

	require.NoError(t, s.Create(ctx, "main", c1))
	require.Equal(t, c1, <-events) // created

	ok, err := s.CompareAndSwap(ctx, "main", c1, c2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c2, <-events) // advanced
}
