// Package repo implements the Repository API: the top-level handle
// applications open once per backend and use to list branches, inspect
// history-independent metadata and bulk export/import objects. Naming
// follows init/commit/branch as the top-level verbs, adapted to grove's
// actual object model; Open/Close and error-wrapping follow the same
// idiom as the rest of the module.
package repo

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/grovevc/grove/internal/graph"
	"github.com/grovevc/grove/internal/kernel"
	"github.com/grovevc/grove/internal/objectstore"
	"github.com/grovevc/grove/pkg/config"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/lockmgr"
	"github.com/grovevc/grove/pkg/model"
)

// Backend is the minimal surface Repo needs from a kernel
// implementation: both the AO/Link role (content-addressed objects)
// and the RW role (branch pointers) over the same underlying store, as
// kernel.Memory and kernel.Badger both provide.
type Backend interface {
	kernel.RO
	kernel.AO
	kernel.Link
	kernel.RW
}

// Repo is an open grove repository: the object stores, the graph
// engine and the branch registry bound to one backend.
type Repo struct {
	backend Backend
	closer  func() error
	log     *logrus.Logger

	Contents *objectstore.ContentsStore
	Nodes    *objectstore.NodeStore
	Commits  *objectstore.CommitStore
	Branches *objectstore.BranchStore
	Graph    *graph.Engine
}

// Open opens a repository over cfg's configured backend. cfg.Paths[0]
// selects an on-disk Badger backend; an empty Paths[0] selects an
// in-memory backend instead, for ephemeral repositories and tests.
func Open(ctx context.Context, cfg config.Config) (*Repo, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	var backend Backend
	var closer func() error

	if len(cfg.Paths) == 0 || cfg.Paths[0] == "" {
		backend = kernel.NewMemory(cfg.Logger)
		closer = func() error { return nil }
	} else {
		b, err := kernel.OpenBadger(kernel.BadgerConfig{
			Path:          cfg.Paths[0],
			MinimumFreeGB: cfg.MinimumFreeGB,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("repo: open: %w", err)
		}
		backend = b
		closer = b.Close
	}

	locks := lockmgr.New()
	contents := objectstore.NewContentsStore(backend, cfg.CacheBytes)
	nodes := objectstore.NewNodeStore(backend, cfg.CacheBytes)
	commits := objectstore.NewCommitStore(backend, cfg.CacheBytes)
	branches := objectstore.NewBranchStore(backend, locks, cfg.Logger)
	engine := graph.New(nodes, commits, contents)

	r := &Repo{
		backend:  backend,
		closer:   closer,
		log:      cfg.Logger,
		Contents: contents,
		Nodes:    nodes,
		Commits:  commits,
		Branches: branches,
		Graph:    engine,
	}

	if _, ok, err := branches.Get(ctx, model.DefaultBranch); err != nil {
		return nil, fmt.Errorf("repo: open: checking default branch: %w", err)
	} else if !ok {
		emptyRoot, err := nodes.Put(ctx, model.NewNode(nil))
		if err != nil {
			return nil, fmt.Errorf("repo: open: seeding default branch: %w", err)
		}
		initCommit := model.Commit{NodeHash: emptyRoot, Task: model.Task{}}
		head, err := commits.Put(ctx, initCommit)
		if err != nil {
			return nil, fmt.Errorf("repo: open: seeding default branch: %w", err)
		}
		if err := branches.Create(ctx, model.DefaultBranch, head); err != nil {
			return nil, fmt.Errorf("repo: open: seeding default branch: %w", err)
		}
	}

	return r, nil
}

// Close releases the backend's resources.
func (r *Repo) Close(ctx context.Context) error {
	return r.closer()
}

// Heads returns the head commit of every branch.
func (r *Repo) Heads(ctx context.Context) ([]model.Commit, error) {
	branches, err := r.Branches.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo: heads: %w", err)
	}
	out := make([]model.Commit, 0, len(branches))
	for _, b := range branches {
		c, ok, err := r.Commits.Get(ctx, b.Head)
		if err != nil {
			return nil, fmt.Errorf("repo: heads: %w", err)
		}
		if ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// BranchesList returns every branch.
func (r *Repo) BranchesList(ctx context.Context) ([]model.Branch, error) {
	bs, err := r.Branches.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("repo: branches: %w", err)
	}
	return bs, nil
}

// ExportOpts scopes an Export call; an empty Roots exports every
// branch head known to the repository (the max side of the range).
// Min is the exclusion frontier: commits already known to the caller
// (e.g. the other side's current heads in an incremental sync), whose
// own ancestry and node subtrees are skipped, though the Min commits
// and their root nodes are still included as range endpoints. Depth
// bounds how many parent generations the commit walk follows past
// Roots (0 means unbounded).
type ExportOpts struct {
	Roots []hash.Hash
	Min   []hash.Hash
	Depth int
}

// Export gathers a model.Slice reachable from opts.Roots (or every
// branch head, if unspecified) down to opts.Min (or genesis, if
// unspecified), bounded to opts.Depth parent generations, suitable for
// ExportBundle. A full export (the default, zero-value opts) walks the
// entire object graph from genesis; passing Min and/or Depth scopes it
// to an incremental slice the caller doesn't already hold.
func (r *Repo) Export(ctx context.Context, opts ExportOpts) (model.Slice, error) {
	roots := opts.Roots
	if len(roots) == 0 {
		branches, err := r.Branches.List(ctx)
		if err != nil {
			return model.Slice{}, fmt.Errorf("repo: export: %w", err)
		}
		for _, b := range branches {
			roots = append(roots, b.Head)
		}
	}

	minCommits := map[hash.Hash]bool{}
	minNodes := map[hash.Hash]bool{}
	for _, mh := range opts.Min {
		minCommits[mh] = true
		if c, ok, err := r.Commits.Get(ctx, mh); err != nil {
			return model.Slice{}, fmt.Errorf("repo: export: %w", err)
		} else if ok {
			minNodes[c.NodeHash] = true
		}
	}

	slice := model.NewSlice()
	visitedCommits := map[hash.Hash]bool{}
	type queued struct {
		h     hash.Hash
		depth int
	}
	queue := make([]queued, 0, len(roots))
	for _, h := range roots {
		queue = append(queue, queued{h: h, depth: 0})
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visitedCommits[cur.h] {
			continue
		}
		visitedCommits[cur.h] = true
		c, ok, err := r.Commits.Get(ctx, cur.h)
		if err != nil {
			return model.Slice{}, fmt.Errorf("repo: export: %w", err)
		}
		if !ok {
			continue
		}
		slice.Commits[cur.h] = c

		if !minCommits[cur.h] && (opts.Depth == 0 || cur.depth < opts.Depth) {
			for _, p := range c.Parents {
				queue = append(queue, queued{h: p, depth: cur.depth + 1})
			}
		}

		if err := r.Graph.Closure(ctx, c.NodeHash, minNodes, func(nh hash.Hash, n model.Node) error {
			slice.Nodes[nh] = n
			for _, e := range n.Entries {
				if e.Kind == model.KindContents {
					if _, already := slice.Contents[e.Hash]; already {
						return nil
					}
					b, ok, err := r.Contents.Get(ctx, e.Hash)
					if err != nil {
						return err
					}
					if ok {
						slice.Contents[e.Hash] = b
					}
				}
			}
			return nil
		}); err != nil {
			return model.Slice{}, fmt.Errorf("repo: export: %w", err)
		}
	}
	return slice, nil
}

// Import merges slice's objects into the repository. Every object is
// content-addressed, so importing an object already present is a
// no-op; branches are not touched by Import (callers advance a branch
// separately once they've decided which imported commit to point it
// at).
func (r *Repo) Import(ctx context.Context, slice model.Slice) error {
	for _, b := range slice.Contents {
		if _, err := r.Contents.Put(ctx, b); err != nil {
			return fmt.Errorf("repo: import: %w", err)
		}
	}
	for _, n := range slice.Nodes {
		if _, err := r.Nodes.Put(ctx, n); err != nil {
			return fmt.Errorf("repo: import: %w", err)
		}
	}
	for _, c := range slice.Commits {
		if _, err := r.Commits.Put(ctx, c); err != nil {
			return fmt.Errorf("repo: import: %w", err)
		}
	}
	return nil
}

// TaskOfCommit returns the Task attached to commit h.
func (r *Repo) TaskOfCommit(ctx context.Context, h hash.Hash) (*model.Task, error) {
	c, ok, err := r.Commits.Get(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("repo: task of commit: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("repo: task of commit: %w", graveerr.ErrNotFound)
	}
	return &c.Task, nil
}
