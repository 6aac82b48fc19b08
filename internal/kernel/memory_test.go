package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grovevc/grove/internal/watch"
)

func TestMemoryAddIsIdempotent(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	k1, err := m.Add(ctx, []byte("payload"))
	require.NoError(t, err)
	k2, err := m.Add(ctx, []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	v, ok, err := m.Find(ctx, k1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), v)
}

func TestMemorySetRejectsEmptyKey(t *testing.T) {
	m := NewMemory(nil)
	err := m.Set(context.Background(), nil, []byte("v"))
	require.ErrorIs(t, err, ErrEmptyKey)
}

func TestMemoryTestAndSetCreateThenCAS(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	ok, err := m.TestAndSet(ctx, []byte("k"), nil, false, []byte("v1"), true)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.TestAndSet(ctx, []byte("k"), []byte("wrong"), true, []byte("v2"), true)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = m.TestAndSet(ctx, []byte("k"), []byte("v1"), true, []byte("v2"), true)
	require.NoError(t, err)
	require.True(t, ok)

	v, ok, err := m.Find(ctx, []byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), v)
}

func TestMemoryAddLinkRequiresTarget(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()
	err := m.AddLink(ctx, []byte("src"), []byte("missing-dst"))
	require.ErrorIs(t, err, ErrNotFound)

	dst, err := m.Add(ctx, []byte("target"))
	require.NoError(t, err)
	require.NoError(t, m.AddLink(ctx, []byte("src"), dst))

	v, ok, err := m.Find(ctx, []byte("src"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("target"), v)
}

func TestMemoryRemoveIsNoopOnMissingKey(t *testing.T) {
	m := NewMemory(nil)
	require.NoError(t, m.Remove(context.Background(), []byte("never-set")))
}

func TestMemoryWatchKeyDeliversAddedThenUpdated(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	diffs := make(chan watch.Diff, 4)
	h := m.WatchKey([]byte("k"), nil, false, func(ctx context.Context, key string, diff watch.Diff) {
		diffs <- diff
	})
	defer m.Unwatch(h)

	require.NoError(t, m.Set(ctx, []byte("k"), []byte("v1")))
	d := <-diffs
	require.Equal(t, watch.Added, d.Kind)
	require.Equal(t, []byte("v1"), d.New)

	require.NoError(t, m.Set(ctx, []byte("k"), []byte("v2")))
	d = <-diffs
	require.Equal(t, watch.Updated, d.Kind)
	require.Equal(t, []byte("v1"), d.Old)
	require.Equal(t, []byte("v2"), d.New)

	require.NoError(t, m.Remove(ctx, []byte("k")))
	d = <-diffs
	require.Equal(t, watch.Removed, d.Kind)
	require.Equal(t, []byte("v2"), d.Old)
}

func TestMemoryWatchKeyIgnoresOtherKeys(t *testing.T) {
	m := NewMemory(nil)
	ctx := context.Background()

	diffs := make(chan watch.Diff, 4)
	h := m.WatchKey([]byte("k"), nil, false, func(ctx context.Context, key string, diff watch.Diff) {
		diffs <- diff
	})
	defer m.Unwatch(h)

	require.NoError(t, m.Set(ctx, []byte("other"), []byte("v1")))
	select {
	case d := <-diffs:
		t.Fatalf("unexpected diff for unrelated key: %+v", d)
	default:
	}
}
