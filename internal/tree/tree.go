// Package tree implements the staging tree: an in-memory,
// lazily-materialized overlay over a committed Node hash that batches
// edits until Flush writes them through internal/graph and produces a
// new root hash. It is pure in-memory graph manipulation over the
// already-wired L2 stores; no third-party dependency fits here.
package tree

import (
	"context"
	"fmt"
	"sort"

	"github.com/grovevc/grove/internal/graph"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

// edit is one pending mutation at a path: either a Set (Entry present)
// or a Remove (Entry zero, Removed true).
type edit struct {
	entry   model.Entry
	removed bool
}

// Tree is a mutable staging area rooted at a base Node hash. Reads
// check pending edits first, falling back to the base tree; nothing
// touches the object store until Flush.
type Tree struct {
	engine *graph.Engine
	base   hash.Hash
	edits  map[string]edit // keyed by Path.String()
	order  []string        // insertion order; Flush applies equal-depth edits in it
}

// Of returns a Tree staged over base.
func Of(engine *graph.Engine, base hash.Hash) *Tree {
	return &Tree{engine: engine, base: base, edits: make(map[string]edit)}
}

// Empty returns a Tree staged over the empty node.
func Empty(engine *graph.Engine) *Tree {
	return Of(engine, hash.Zero)
}

// Base returns the tree's unstaged root hash.
func (t *Tree) Base() hash.Hash { return t.base }

// Get resolves path, checking staged edits before the base tree.
func (t *Tree) Get(ctx context.Context, path model.Path) (model.Entry, bool, error) {
	key := path.String()
	if e, ok := t.edits[key]; ok {
		if e.removed {
			return model.Entry{}, false, nil
		}
		return e.entry, true, nil
	}
	return t.engine.Find(ctx, t.base, path)
}

// Set stages path to resolve to entry.
func (t *Tree) Set(path model.Path, entry model.Entry) error {
	if len(path) == 0 {
		return fmt.Errorf("tree: set: %w", graveerr.ErrInvalidArgument)
	}
	t.stage(path, edit{entry: entry})
	return nil
}

// Remove stages path for deletion.
func (t *Tree) Remove(path model.Path) error {
	if len(path) == 0 {
		return fmt.Errorf("tree: remove: %w", graveerr.ErrInvalidArgument)
	}
	t.stage(path, edit{removed: true})
	return nil
}

func (t *Tree) stage(path model.Path, e edit) {
	key := path.String()
	if _, exists := t.edits[key]; !exists {
		t.order = append(t.order, key)
	}
	t.edits[key] = e
}

// Status reports whether the tree has unflushed edits.
func (t *Tree) Status() bool {
	return len(t.edits) > 0
}

// stagedPath pairs a staged edit with its path; Flush recovers each
// path from its Path.String() key with parsePathKey.
type stagedPath struct {
	path model.Path
	edit edit
}

func (t *Tree) stagedInOrder(paths map[string]model.Path) []stagedPath {
	out := make([]stagedPath, 0, len(t.order))
	for _, key := range t.order {
		out = append(out, stagedPath{path: paths[key], edit: t.edits[key]})
	}
	return out
}

// Flush writes every staged edit through to the object store bottom-up
// (deepest paths first, so a parent node's entry hash always reflects
// its already-flushed children) and returns the new root hash. The
// Tree is left staged over the new root with no pending edits: flush
// commits and resets the staging area.
func (t *Tree) Flush(ctx context.Context) (hash.Hash, error) {
	if len(t.edits) == 0 {
		return t.base, nil
	}

	paths := make(map[string]model.Path, len(t.edits))
	for key := range t.edits {
		paths[key] = parsePathKey(key)
	}
	staged := t.stagedInOrder(paths)

	// Deepest-first so that Update/Remove on internal/graph, which
	// itself recurses top-down per call, never has to revisit a path
	// whose child was changed by a later edit in this same flush.
	sort.SliceStable(staged, func(i, j int) bool {
		return len(staged[i].path) > len(staged[j].path)
	})

	root := t.base
	for _, s := range staged {
		var err error
		if s.edit.removed {
			root, err = t.engine.Remove(ctx, root, s.path)
		} else {
			root, err = t.engine.Update(ctx, root, s.path, s.edit.entry)
		}
		if err != nil {
			return hash.Hash{}, fmt.Errorf("tree: flush: %w", err)
		}
	}

	t.base = root
	t.edits = make(map[string]edit)
	t.order = nil
	return root, nil
}

func parsePathKey(key string) model.Path {
	if key == "/" || key == "" {
		return nil
	}
	var path model.Path
	step := ""
	for _, r := range key[1:] {
		if r == '/' {
			path = append(path, model.Step(step))
			step = ""
			continue
		}
		step += string(r)
	}
	path = append(path, model.Step(step))
	return path
}

// StagedChange reports one pending edit, relative to the tree's base —
// the new Entry only, with no access to whatever was there before
// (the base tree hasn't been re-read). This is distinct from a
// structural two-tree diff: it is the tree's own unflushed edit log,
// exposed for inspection before committing.
type StagedChange struct {
	Path    model.Path
	Removed bool
	Entry   model.Entry
}

// StagedChanges returns every staged edit in deterministic (lexical
// path) order — the same edits Flush would write.
func (t *Tree) StagedChanges() []StagedChange {
	keys := make([]string, 0, len(t.edits))
	for k := range t.edits {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]StagedChange, 0, len(keys))
	for _, k := range keys {
		e := t.edits[k]
		out = append(out, StagedChange{Path: parsePathKey(k), Removed: e.removed, Entry: e.entry})
	}
	return out
}

// ToConcrete materializes the tree's current staged state into a
// persisted Node hash without resetting staged edits, equivalent to
// spec's to_concrete operation used mid-merge when a combinator needs
// a real hash to recurse on.
func (t *Tree) ToConcrete(ctx context.Context) (hash.Hash, error) {
	if len(t.edits) == 0 {
		return t.base, nil
	}
	snapshot := Of(t.engine, t.base)
	for k, e := range t.edits {
		snapshot.edits[k] = e
		snapshot.order = append(snapshot.order, k)
	}
	return snapshot.Flush(ctx)
}

// OfConcrete returns a fresh Tree staged over an already-persisted
// Node hash, the inverse of ToConcrete.
func OfConcrete(engine *graph.Engine, h hash.Hash) *Tree {
	return Of(engine, h)
}
