// Package lockmgr implements the per-key lock manager: layers above the
// backend kernel (branch store writes, commit construction) serialise
// mutations of the same key without blocking unrelated keys. Keys are
// spread over shards by a fast non-cryptographic hash, and each shard
// keeps one mutex per distinct key it has seen, for the Manager's
// lifetime.
package lockmgr

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
)

const shardCount = 256

// Manager serialises access to string-named keys. It creates a mutex
// for a key on first use and never removes it.
type Manager struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a ready-to-use Manager.
func New() *Manager {
	m := &Manager{}
	for i := range m.shards {
		m.shards[i].locks = make(map[string]*sync.Mutex)
	}
	return m
}

func (m *Manager) shardFor(key string) *shard {
	h := xxhash.Sum64String(key)
	return &m.shards[h%uint64(shardCount)]
}

func (m *Manager) lockFor(key string) *sync.Mutex {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Lock acquires the lock for key, blocking until either it is
// acquired or ctx is canceled. On cancellation it returns ctx.Err()
// without having acquired the lock.
func (m *Manager) Lock(ctx context.Context, key string) error {
	l := m.lockFor(key)
	done := make(chan struct{})
	go func() {
		l.Lock()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The lock may still be acquired later by the goroutine above;
		// release it immediately so we never leak a held lock nobody
		// will unlock.
		go func() {
			<-done
			l.Unlock()
		}()
		return ctx.Err()
	}
}

// Unlock releases the lock for key. The caller must hold it.
func (m *Manager) Unlock(key string) {
	m.lockFor(key).Unlock()
}

// WithLock runs fn while holding key's lock, releasing it unconditionally
// afterward. This is the usual call shape; Lock/Unlock exist for callers
// that need to straddle a lock across more than one function call.
func WithLock(ctx context.Context, m *Manager, key string, fn func() error) error {
	if err := m.Lock(ctx, key); err != nil {
		return err
	}
	defer m.Unlock(key)
	return fn()
}
