package watch

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeDiffClassifiesTransitions(t *testing.T) {
	_, deliver := computeDiff(nil, false, nil, false)
	require.False(t, deliver)

	d, deliver := computeDiff(nil, false, []byte("v"), true)
	require.True(t, deliver)
	require.Equal(t, Added, d.Kind)

	d, deliver = computeDiff([]byte("v"), true, []byte("v2"), true)
	require.True(t, deliver)
	require.Equal(t, Updated, d.Kind)

	d, deliver = computeDiff([]byte("v"), true, []byte("v"), true)
	require.False(t, deliver)
	_ = d

	d, deliver = computeDiff([]byte("v"), true, nil, false)
	require.True(t, deliver)
	require.Equal(t, Removed, d.Kind)
}

func TestGlobalWatchInitSuppressesFirstNoopNotify(t *testing.T) {
	r := New(nil)
	diffs := make(chan Diff, 4)
	h := r.Watch(map[string][]byte{"k": []byte("v1")}, func(ctx context.Context, key string, diff Diff) {
		diffs <- diff
	})
	defer r.Unwatch(h)

	r.Notify(context.Background(), "k", []byte("v1"), true, []byte("v1"), true)
	select {
	case d := <-diffs:
		t.Fatalf("expected no delivery for a no-op transition, got %+v", d)
	default:
	}

	r.Notify(context.Background(), "k", []byte("v1"), true, []byte("v2"), true)
	d := <-diffs
	require.Equal(t, Updated, d.Kind)
}

func TestWatchKeyOnlyReceivesItsOwnKey(t *testing.T) {
	r := New(nil)
	diffs := make(chan Diff, 4)
	h := r.WatchKey("k1", nil, false, func(ctx context.Context, key string, diff Diff) {
		require.Equal(t, "k1", key)
		diffs <- diff
	})
	defer r.Unwatch(h)

	r.Notify(context.Background(), "k2", nil, false, []byte("v"), true)
	r.Notify(context.Background(), "k1", nil, false, []byte("v"), true)

	d := <-diffs
	require.Equal(t, Added, d.Kind)
}

func TestHandlerDeliveriesAreSerializedPerSubscriber(t *testing.T) {
	r := New(nil)
	order := make(chan int, 100)
	var inFlight, overlapped int32
	h := r.Watch(nil, func(ctx context.Context, key string, diff Diff) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		atomic.AddInt32(&inFlight, -1)
		order <- len(diff.New)
	})
	defer r.Unwatch(h)

	for i := 1; i <= 10; i++ {
		r.Notify(context.Background(), "k", nil, false, make([]byte, i), true)
		// force the key absent again so the next iteration is another Added
		r.Notify(context.Background(), "k", make([]byte, i), true, nil, false)
	}

	seen := 0
	for i := 0; i < 20; i++ {
		<-order
		seen++
	}
	require.Equal(t, 20, seen)
	require.Zero(t, atomic.LoadInt32(&overlapped))
}

func TestUnwatchBlocksUntilSubscriberDrained(t *testing.T) {
	r := New(nil)
	h := r.Watch(nil, func(ctx context.Context, key string, diff Diff) {})
	r.Notify(context.Background(), "k", nil, false, []byte("v"), true)
	r.Unwatch(h)
	// A second Unwatch on an already-removed handle must be a harmless no-op.
	r.Unwatch(h)
}

func TestPanickingHandlerIsDroppedNotFatal(t *testing.T) {
	r := New(nil)
	calls := 0
	h := r.Watch(nil, func(ctx context.Context, key string, diff Diff) {
		calls++
		panic("boom")
	})
	defer r.Unwatch(h)

	r.Notify(context.Background(), "k", nil, false, []byte("v"), true)
	r.Notify(context.Background(), "k", []byte("v"), true, []byte("v2"), true)

	// give the subscriber goroutine a chance to process both enqueues
	done := make(chan struct{})
	go func() {
		r.Unwatch(h)
		close(done)
	}()
	<-done
	require.LessOrEqual(t, calls, 2)
}
