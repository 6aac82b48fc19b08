// Package objectstore implements the typed object stores: hash-addressed
// Contents/Node/Commit stores over an internal/kernel.AO, each fronted by
// a read-through cache, and a Branch store over an internal/kernel.RW.
// Each store is one struct per entity kind, composed from the same
// underlying backend.
package objectstore

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/sirupsen/logrus"

	"github.com/grovevc/grove/internal/kernel"
	"github.com/grovevc/grove/internal/watch"
	"github.com/grovevc/grove/pkg/codec"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/lockmgr"
	"github.com/grovevc/grove/pkg/model"
)

// defaultCacheBytes is the default read-through cache budget per typed
// store, overridable via config; it only ever affects hit rate, never
// correctness.
const defaultCacheBytes = 32 << 20

func newCache(maxBytes int64) *ristretto.Cache {
	if maxBytes <= 0 {
		maxBytes = defaultCacheBytes
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxBytes / 64 * 10,
		MaxCost:     maxBytes,
		BufferItems: 64,
		// Keys are hash.Hash arrays, which ristretto's default key hasher
		// rejects; their bytes are already a uniform digest, so two
		// slices of them serve as the key hash and the conflict hash.
		KeyToHash: func(key interface{}) (uint64, uint64) {
			h := key.(hash.Hash)
			return binary.LittleEndian.Uint64(h[0:8]), binary.LittleEndian.Uint64(h[8:16])
		},
	})
	if err != nil {
		// ristretto only fails on malformed config; the constants above
		// are always valid, so this can't happen at runtime.
		panic(fmt.Sprintf("objectstore: building cache: %v", err))
	}
	return c
}

// ContentsStore is the hash-addressed store for leaf content bytes.
// Contents have no envelope: their key is the hash of their own bytes.
type ContentsStore struct {
	ao    kernel.AO
	cache *ristretto.Cache
}

// NewContentsStore wraps ao as a ContentsStore with a fresh cache sized
// by cacheBytes (0 selects the default).
func NewContentsStore(ao kernel.AO, cacheBytes int64) *ContentsStore {
	return &ContentsStore{ao: ao, cache: newCache(cacheBytes)}
}

// Put stores raw contents bytes, returning their hash. Idempotent.
func (s *ContentsStore) Put(ctx context.Context, b []byte) (hash.Hash, error) {
	key, err := s.ao.Add(ctx, b)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put contents: %w", err)
	}
	h, err := hash.FromBytes(key)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put contents: %w", err)
	}
	s.cache.Set(h, b, int64(len(b)))
	return h, nil
}

// Get retrieves contents by hash. ok is false if h is not present.
func (s *ContentsStore) Get(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	if v, hit := s.cache.Get(h); hit {
		return v.([]byte), true, nil
	}
	v, ok, err := s.ao.Find(ctx, h.Bytes())
	if err != nil {
		return nil, false, fmt.Errorf("objectstore: get contents: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	s.cache.Set(h, v, int64(len(v)))
	return v, true, nil
}

// NodeStore is the hash-addressed store for Node objects.
type NodeStore struct {
	ao    kernel.AO
	cache *ristretto.Cache
}

// NewNodeStore wraps ao as a NodeStore.
func NewNodeStore(ao kernel.AO, cacheBytes int64) *NodeStore {
	return &NodeStore{ao: ao, cache: newCache(cacheBytes)}
}

// Put canonically encodes and stores n, returning its hash.
func (s *NodeStore) Put(ctx context.Context, n model.Node) (hash.Hash, error) {
	enc := codec.EncodeNode(n)
	key, err := s.ao.Add(ctx, enc)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put node: %w", err)
	}
	h, err := hash.FromBytes(key)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put node: %w", err)
	}
	s.cache.Set(h, n, 1)
	return h, nil
}

// Get retrieves and decodes a Node by hash. The zero hash always
// resolves to the empty node without a backend round trip.
func (s *NodeStore) Get(ctx context.Context, h hash.Hash) (model.Node, bool, error) {
	if h.IsZero() {
		return model.NewNode(nil), true, nil
	}
	if v, hit := s.cache.Get(h); hit {
		return v.(model.Node), true, nil
	}
	raw, ok, err := s.ao.Find(ctx, h.Bytes())
	if err != nil {
		return model.Node{}, false, fmt.Errorf("objectstore: get node: %w", err)
	}
	if !ok {
		return model.Node{}, false, nil
	}
	n, err := codec.DecodeNode(raw)
	if err != nil {
		return model.Node{}, false, fmt.Errorf("objectstore: get node: %w", err)
	}
	s.cache.Set(h, n, 1)
	return n, true, nil
}

// CommitStore is the hash-addressed store for Commit objects.
type CommitStore struct {
	ao    kernel.AO
	cache *ristretto.Cache
}

// NewCommitStore wraps ao as a CommitStore.
func NewCommitStore(ao kernel.AO, cacheBytes int64) *CommitStore {
	return &CommitStore{ao: ao, cache: newCache(cacheBytes)}
}

// Put canonically encodes and stores c, returning its hash.
func (s *CommitStore) Put(ctx context.Context, c model.Commit) (hash.Hash, error) {
	enc := codec.EncodeCommit(c)
	key, err := s.ao.Add(ctx, enc)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put commit: %w", err)
	}
	h, err := hash.FromBytes(key)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("objectstore: put commit: %w", err)
	}
	s.cache.Set(h, c, 1)
	return h, nil
}

// Get retrieves and decodes a Commit by hash.
func (s *CommitStore) Get(ctx context.Context, h hash.Hash) (model.Commit, bool, error) {
	if v, hit := s.cache.Get(h); hit {
		return v.(model.Commit), true, nil
	}
	raw, ok, err := s.ao.Find(ctx, h.Bytes())
	if err != nil {
		return model.Commit{}, false, fmt.Errorf("objectstore: get commit: %w", err)
	}
	if !ok {
		return model.Commit{}, false, nil
	}
	c, err := codec.DecodeCommit(raw)
	if err != nil {
		return model.Commit{}, false, fmt.Errorf("objectstore: get commit: %w", err)
	}
	s.cache.Set(h, c, 1)
	return c, true, nil
}

// BranchStore wraps the kernel RW directly: branch names are the keys
// and each value is the branch's head commit hash. No caching, no
// encoding beyond the hash's own bytes.
type BranchStore struct {
	rw    kernel.RW
	locks *lockmgr.Manager
	log   *logrus.Logger
}

// NewBranchStore wraps rw as a BranchStore guarded by locks.
func NewBranchStore(rw kernel.RW, locks *lockmgr.Manager, log *logrus.Logger) *BranchStore {
	if log == nil {
		log = logrus.New()
	}
	return &BranchStore{rw: rw, locks: locks, log: log}
}

func branchKey(name string) []byte { return []byte("branch/" + name) }

// Get resolves a branch's head commit hash.
func (s *BranchStore) Get(ctx context.Context, name string) (hash.Hash, bool, error) {
	v, ok, err := s.rw.Find(ctx, branchKey(name))
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("objectstore: get branch %q: %w", name, err)
	}
	if !ok {
		return hash.Hash{}, false, nil
	}
	h, err := hash.FromBytes(v)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("objectstore: get branch %q: %w", name, err)
	}
	return h, true, nil
}

// List enumerates all branches.
func (s *BranchStore) List(ctx context.Context) ([]model.Branch, error) {
	keys, err := s.rw.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("objectstore: list branches: %w", err)
	}
	var out []model.Branch
	for _, k := range keys {
		const prefix = "branch/"
		ks := string(k)
		if len(ks) <= len(prefix) || ks[:len(prefix)] != prefix {
			continue
		}
		v, ok, err := s.rw.Find(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("objectstore: list branches: %w", err)
		}
		if !ok {
			continue
		}
		h, err := hash.FromBytes(v)
		if err != nil {
			return nil, fmt.Errorf("objectstore: list branches: %w", err)
		}
		out = append(out, model.Branch{Name: ks[len(prefix):], Head: h})
	}
	return out, nil
}

// Create sets name's head to head, failing with graveerr.ErrConcurrentUpdate
// if the branch already exists. Serialised per branch name via locks.
func (s *BranchStore) Create(ctx context.Context, name string, head hash.Hash) error {
	if !model.ValidBranchName(name) {
		return fmt.Errorf("objectstore: create branch %q: %w", name, graveerr.ErrInvalidArgument)
	}
	return lockmgr.WithLock(ctx, s.locks, name, func() error {
		ok, err := s.rw.TestAndSet(ctx, branchKey(name), nil, false, head.Bytes(), true)
		if err != nil {
			return fmt.Errorf("objectstore: create branch %q: %w", name, err)
		}
		if !ok {
			return fmt.Errorf("objectstore: create branch %q: %w", name, graveerr.ErrConcurrentUpdate)
		}
		return nil
	})
}

// CompareAndSwap atomically moves name's head from old to new,
// returning false (not an error) if name's current head has diverged.
func (s *BranchStore) CompareAndSwap(ctx context.Context, name string, old, new hash.Hash) (bool, error) {
	if !model.ValidBranchName(name) {
		return false, fmt.Errorf("objectstore: advance branch %q: %w", name, graveerr.ErrInvalidArgument)
	}
	var applied bool
	err := lockmgr.WithLock(ctx, s.locks, name, func() error {
		ok, err := s.rw.TestAndSet(ctx, branchKey(name), old.Bytes(), true, new.Bytes(), true)
		if err != nil {
			return fmt.Errorf("objectstore: advance branch %q: %w", name, err)
		}
		applied = ok
		return nil
	})
	return applied, err
}

// Delete removes a branch entirely.
func (s *BranchStore) Delete(ctx context.Context, name string) error {
	return lockmgr.WithLock(ctx, s.locks, name, func() error {
		if err := s.rw.Remove(ctx, branchKey(name)); err != nil {
			return fmt.Errorf("objectstore: delete branch %q: %w", name, err)
		}
		return nil
	})
}

// WatchHead installs a handler for changes to name's head commit hash.
func (s *BranchStore) WatchHead(name string, handler func(ctx context.Context, old, new hash.Hash, oldOK, newOK bool)) watch.Handle {
	return s.rw.WatchKey(branchKey(name), nil, false, func(ctx context.Context, key string, diff watch.Diff) {
		var oldH, newH hash.Hash
		var oldOK, newOK bool
		if diff.Old != nil {
			if h, err := hash.FromBytes(diff.Old); err == nil {
				oldH, oldOK = h, true
			}
		}
		if diff.New != nil {
			if h, err := hash.FromBytes(diff.New); err == nil {
				newH, newOK = h, true
			}
		}
		handler(ctx, oldH, newH, oldOK, newOK)
	})
}

// Unwatch cancels a handle obtained from WatchHead.
func (s *BranchStore) Unwatch(h watch.Handle) {
	s.rw.Unwatch(h)
}
