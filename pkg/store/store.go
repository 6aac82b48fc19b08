// Package store implements the Store handle API: a branch- or
// commit-scoped working view with a staging tree, merge operations and
// watch subscriptions, built on pkg/repo and internal/tree.
package store

import (
	"context"
	"fmt"

	"github.com/grovevc/grove/internal/tree"
	"github.com/grovevc/grove/internal/watch"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
	"github.com/grovevc/grove/pkg/repo"
)

// Store is a working view over one tree, optionally bound to a branch
// (so Set/Remove/MergeInto can advance it) or pinned to a fixed commit
// (read-only history view).
type Store struct {
	repo   *repo.Repo
	branch string // empty if pinned to a commit rather than a branch
	commit hash.Hash
	tree   *tree.Tree
}

// Empty returns a Store over a fresh, empty, unbound tree.
func Empty(r *repo.Repo) *Store {
	return &Store{repo: r, tree: tree.Empty(r.Graph)}
}

// Master returns a Store bound to the repository's default branch.
func Master(ctx context.Context, r *repo.Repo) (*Store, error) {
	return OfBranch(ctx, r, model.DefaultBranch)
}

// OfBranch returns a Store bound to the named branch, staged over its
// current head's tree.
func OfBranch(ctx context.Context, r *repo.Repo, name string) (*Store, error) {
	head, ok, err := r.Branches.Get(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("store: of branch %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("store: of branch %q: %w", name, graveerr.ErrNotFound)
	}
	c, ok, err := r.Commits.Get(ctx, head)
	if err != nil {
		return nil, fmt.Errorf("store: of branch %q: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("store: of branch %q: %w", name, graveerr.ErrNotFound)
	}
	return &Store{repo: r, branch: name, commit: head, tree: tree.Of(r.Graph, c.NodeHash)}, nil
}

// OfCommit returns a read-only Store pinned to h's tree.
func OfCommit(ctx context.Context, r *repo.Repo, h hash.Hash) (*Store, error) {
	c, ok, err := r.Commits.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("store: of commit: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("store: of commit: %w", graveerr.ErrNotFound)
	}
	return &Store{repo: r, commit: h, tree: tree.Of(r.Graph, c.NodeHash)}, nil
}

// Tree exposes the Store's underlying staging tree for callers that
// need direct Diff/Flush access.
func (s *Store) Tree() *tree.Tree { return s.tree }

// Status reports whether the Store has unflushed edits.
func (s *Store) Status() bool { return s.tree.Status() }

// Kind reports the entry kind at path.
func (s *Store) Kind(ctx context.Context, path model.Path) (model.EntryKind, bool, error) {
	e, ok, err := s.tree.Get(ctx, path)
	if err != nil || !ok {
		return 0, ok, err
	}
	return e.Kind, true, nil
}

// List returns the sorted steps of the node at path (the root if path
// is empty).
func (s *Store) List(ctx context.Context, path model.Path) ([]model.Step, error) {
	nodeHash := s.tree.Base()
	if len(path) > 0 {
		e, ok, err := s.tree.Get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("store: list: %w", err)
		}
		if !ok || e.Kind != model.KindNode {
			return nil, fmt.Errorf("store: list: %w", graveerr.ErrNotFound)
		}
		nodeHash = e.Hash
	}
	return s.repo.Graph.List(ctx, nodeHash)
}

// Mem reports whether path resolves to any entry.
func (s *Store) Mem(ctx context.Context, path model.Path) (bool, error) {
	_, ok, err := s.tree.Get(ctx, path)
	return ok, err
}

// Find resolves path to its raw Entry.
func (s *Store) Find(ctx context.Context, path model.Path) (model.Entry, bool, error) {
	return s.tree.Get(ctx, path)
}

// Get resolves path to a contents leaf's bytes.
func (s *Store) Get(ctx context.Context, path model.Path) ([]byte, bool, error) {
	e, ok, err := s.tree.Get(ctx, path)
	if err != nil || !ok {
		return nil, ok, err
	}
	if e.Kind != model.KindContents {
		return nil, false, fmt.Errorf("store: get: %w", graveerr.ErrInvalidArgument)
	}
	b, ok, err := s.repo.Contents.Get(ctx, e.Hash)
	if err != nil {
		return nil, false, fmt.Errorf("store: get: %w", err)
	}
	return b, ok, nil
}

// GetV resolves path to a contents leaf's bytes and its metadata.
func (s *Store) GetV(ctx context.Context, path model.Path) ([]byte, []byte, bool, error) {
	e, ok, err := s.tree.Get(ctx, path)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	if e.Kind != model.KindContents {
		return nil, nil, false, fmt.Errorf("store: getv: %w", graveerr.ErrInvalidArgument)
	}
	b, ok, err := s.repo.Contents.Get(ctx, e.Hash)
	if err != nil {
		return nil, nil, false, fmt.Errorf("store: getv: %w", err)
	}
	return b, e.Metadata, ok, nil
}

// Set stores b as contents at path, with metadata attached (pass nil
// to use the codec's default). It stages the change; call Flush/
// SetTree's commit path to persist it.
func (s *Store) Set(ctx context.Context, path model.Path, b []byte, metadata []byte) error {
	h, err := s.repo.Contents.Put(ctx, b)
	if err != nil {
		return fmt.Errorf("store: set: %w", err)
	}
	return s.tree.Set(path, model.Entry{Kind: model.KindContents, Hash: h, Metadata: metadata})
}

// SetTree commits the Store's staged edits and, if the Store is bound
// to a branch, advances that branch's head with a new commit
// referencing task, failing with graveerr.ErrConcurrentUpdate if the
// branch moved since this Store was opened.
func (s *Store) SetTree(ctx context.Context, task model.Task) (model.Commit, error) {
	newRoot, err := s.tree.Flush(ctx)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: set tree: %w", err)
	}
	var parents []hash.Hash
	if !s.commit.IsZero() {
		parents = []hash.Hash{s.commit}
	}
	commit := model.Commit{NodeHash: newRoot, Parents: parents, Task: task}
	h, err := s.repo.Commits.Put(ctx, commit)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: set tree: %w", err)
	}
	if s.branch != "" {
		ok, err := s.repo.Branches.CompareAndSwap(ctx, s.branch, s.commit, h)
		if err != nil {
			return model.Commit{}, fmt.Errorf("store: set tree: %w", err)
		}
		if !ok {
			return model.Commit{}, fmt.Errorf("store: set tree: %w", graveerr.ErrConcurrentUpdate)
		}
	}
	s.commit = h
	return commit, nil
}

// Remove stages path for deletion.
func (s *Store) Remove(ctx context.Context, path model.Path) error {
	return s.tree.Remove(path)
}

// MergeWithCommit three-way merges the Store's current commit with
// other, using their lowest common ancestor, and advances the Store's
// branch (if bound) to the merge result.
func (s *Store) MergeWithCommit(ctx context.Context, other hash.Hash, codec model.ContentsCodec, metaCodec model.MetadataCodec, task model.Task) (model.Commit, error) {
	if s.tree.Status() {
		return model.Commit{}, fmt.Errorf("store: merge: %w", graveerr.ErrInvalidArgument)
	}
	lcas, err := s.repo.Graph.Lcas(ctx, s.commit, other, 0, 0)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: merge: %w", err)
	}
	lca := hash.Zero
	switch len(lcas) {
	case 0:
	case 1:
		lca = lcas[0]
	default:
		// A criss-cross history can have more than one lowest common
		// ancestor; reduce them to a single virtual ancestor before the
		// real three-way merge below.
		lca, err = s.repo.Graph.ReduceLCAs(ctx, lcas, codec, metaCodec)
		if err != nil {
			return model.Commit{}, fmt.Errorf("store: merge: %w", err)
		}
	}
	merged, err := s.repo.Graph.MergeCommits(ctx, lca, s.commit, other, codec, metaCodec, task)
	if err != nil {
		return model.Commit{}, err
	}
	h, err := s.repo.Commits.Put(ctx, merged)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: merge: %w", err)
	}
	if s.branch != "" {
		ok, err := s.repo.Branches.CompareAndSwap(ctx, s.branch, s.commit, h)
		if err != nil {
			return model.Commit{}, fmt.Errorf("store: merge: %w", err)
		}
		if !ok {
			return model.Commit{}, fmt.Errorf("store: merge: %w", graveerr.ErrConcurrentUpdate)
		}
	}
	s.commit = h
	s.tree = tree.Of(s.repo.Graph, merged.NodeHash)
	return merged, nil
}

// MergeWithBranch merges with the named branch's current head.
func (s *Store) MergeWithBranch(ctx context.Context, name string, codec model.ContentsCodec, metaCodec model.MetadataCodec, task model.Task) (model.Commit, error) {
	head, ok, err := s.repo.Branches.Get(ctx, name)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: merge with branch %q: %w", name, err)
	}
	if !ok {
		return model.Commit{}, fmt.Errorf("store: merge with branch %q: %w", name, graveerr.ErrNotFound)
	}
	return s.MergeWithCommit(ctx, head, codec, metaCodec, task)
}

// MergeInto merges the Store's current commit into the target branch,
// advancing target rather than the Store's own branch binding.
func (s *Store) MergeInto(ctx context.Context, target string, codec model.ContentsCodec, metaCodec model.MetadataCodec, task model.Task) (model.Commit, error) {
	targetStore, err := OfBranch(ctx, s.repo, target)
	if err != nil {
		return model.Commit{}, fmt.Errorf("store: merge into %q: %w", target, err)
	}
	return targetStore.MergeWithCommit(ctx, s.commit, codec, metaCodec, task)
}

// Lcas returns the lowest common ancestors of the Store's current
// commit and other.
func (s *Store) Lcas(ctx context.Context, other hash.Hash, maxDepth, maxLCAs int) ([]hash.Hash, error) {
	return s.repo.Graph.Lcas(ctx, s.commit, other, maxDepth, maxLCAs)
}

// LcasAll is Lcas with no depth or count bound.
func (s *Store) LcasAll(ctx context.Context, other hash.Hash) ([]hash.Hash, error) {
	return s.repo.Graph.Lcas(ctx, s.commit, other, 0, 0)
}

// History returns the Store's current commit and its ancestors,
// bounded by limit (0 for unbounded).
func (s *Store) History(ctx context.Context, limit int) ([]model.Commit, error) {
	return s.repo.Graph.History(ctx, s.commit, limit)
}

// Watch installs a handler on the head of the Store's own branch,
// receiving each change of that head. A Store pinned to a commit has no
// branch, so its handler receives nothing. It is a thin pass-through to
// the backend registry; Store itself carries no subscription state.
func (s *Store) Watch(ctx context.Context, handler watch.Handler) watch.Handle {
	return s.repo.Branches.WatchHead(s.branch, func(ctx context.Context, old, new hash.Hash, oldOK, newOK bool) {
		var diff watch.Diff
		switch {
		case !oldOK && newOK:
			diff = watch.Diff{Kind: watch.Added, New: new.Bytes()}
		case oldOK && !newOK:
			diff = watch.Diff{Kind: watch.Removed, Old: old.Bytes()}
		default:
			diff = watch.Diff{Kind: watch.Updated, Old: old.Bytes(), New: new.Bytes()}
		}
		handler(ctx, s.branch, diff)
	})
}

// WatchKey installs a handler scoped to a single path within the
// Store's tree, delivered by watching the branch head and diffing the
// resolved entry at path across updates.
func (s *Store) WatchKey(ctx context.Context, path model.Path, handler watch.Handler) (watch.Handle, error) {
	key := path.String()
	last, lastOK, err := s.tree.Get(ctx, path)
	var lastBytes []byte
	if err == nil && lastOK {
		lastBytes = last.Hash.Bytes()
	}
	return s.repo.Branches.WatchHead(s.branch, func(ctx context.Context, _, newHead hash.Hash, _, newOK bool) {
		if !newOK {
			return
		}
		c, ok, err := s.repo.Commits.Get(ctx, newHead)
		if err != nil || !ok {
			return
		}
		entry, ok, err := s.repo.Graph.Find(ctx, c.NodeHash, path)
		if err != nil {
			return
		}
		var newBytes []byte
		if ok {
			newBytes = entry.Hash.Bytes()
		}
		diff, deliver := diffBytes(lastBytes, lastOK, newBytes, ok)
		lastBytes, lastOK = newBytes, ok
		if deliver {
			handler(ctx, key, diff)
		}
	}), nil
}

func diffBytes(old []byte, oldOK bool, new []byte, newOK bool) (watch.Diff, bool) {
	switch {
	case !oldOK && newOK:
		return watch.Diff{Kind: watch.Added, New: new}, true
	case oldOK && !newOK:
		return watch.Diff{Kind: watch.Removed, Old: old}, true
	case oldOK && newOK:
		if string(old) == string(new) {
			return watch.Diff{}, false
		}
		return watch.Diff{Kind: watch.Updated, Old: old, New: new}, true
	default:
		return watch.Diff{}, false
	}
}

// Unwatch cancels a handle from Watch or WatchKey.
func (s *Store) Unwatch(h watch.Handle) {
	s.repo.Branches.Unwatch(h)
}

// Clone creates dst as a new, persisted branch pointing at the Store's
// current commit, and returns a Store bound to it — a second,
// independently-advanceable branch, not just a second in-memory
// handle. dst must not already exist.
func (s *Store) Clone(ctx context.Context, dst string) (*Store, error) {
	if err := s.repo.Branches.Create(ctx, dst, s.commit); err != nil {
		return nil, fmt.Errorf("store: clone to %q: %w", dst, err)
	}
	return &Store{
		repo:   s.repo,
		branch: dst,
		commit: s.commit,
		tree:   tree.Of(s.repo.Graph, s.tree.Base()),
	}, nil
}
