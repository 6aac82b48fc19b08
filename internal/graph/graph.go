// Package graph implements node-graph navigation over model.Node trees,
// and the commit-history engine (LCA search, three-way commit merge,
// fast-forward detection, bounded history traversal). It is pure
// algorithm over internal/objectstore: doc comments are heavier at the
// exported Engine methods and terser around the BFS internals.
package graph

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/grovevc/grove/internal/objectstore"
	"github.com/grovevc/grove/pkg/codec"
	"github.com/grovevc/grove/pkg/graveerr"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/grovevc/grove/pkg/model"
)

// Engine bundles the typed object stores a graph operation needs:
// nodes to walk the tree, commits to walk history, contents to
// resolve leaf bytes for the application codec during a value merge.
type Engine struct {
	Nodes    *objectstore.NodeStore
	Commits  *objectstore.CommitStore
	Contents *objectstore.ContentsStore
}

// New returns an Engine over the given stores.
func New(nodes *objectstore.NodeStore, commits *objectstore.CommitStore, contents *objectstore.ContentsStore) *Engine {
	return &Engine{Nodes: nodes, Commits: commits, Contents: contents}
}

// Empty is the hash of the empty node, the canonical "no entries" tree.
func (e *Engine) Empty() hash.Hash {
	return codec.HashNode(model.NewNode(nil))
}

// V looks up the entry at a single step of a node, given the node's
// hash. ok is false if the node has no such entry (or the node itself
// doesn't resolve, which is a backend inconsistency surfaced as an
// error, not absence).
func (e *Engine) V(ctx context.Context, nodeHash hash.Hash, step model.Step) (model.Entry, bool, error) {
	n, ok, err := e.Nodes.Get(ctx, nodeHash)
	if err != nil {
		return model.Entry{}, false, fmt.Errorf("graph: v: %w", err)
	}
	if !ok {
		return model.Entry{}, false, fmt.Errorf("graph: v: %w", graveerr.ErrNotFound)
	}
	entry, ok := n.Entries[step]
	return entry, ok, nil
}

// List returns a node's entries in canonical (sorted-step) order.
func (e *Engine) List(ctx context.Context, nodeHash hash.Hash) ([]model.Step, error) {
	n, ok, err := e.Nodes.Get(ctx, nodeHash)
	if err != nil {
		return nil, fmt.Errorf("graph: list: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("graph: list: %w", graveerr.ErrNotFound)
	}
	return n.SortedSteps(), nil
}

// Find resolves an absolute Path starting from nodeHash, descending
// through KindNode entries. ok is false if any step along the path is
// missing; it is a Conflict-free "not found", never an error, matching
// spec's "absence is a value, not a failure" rule for read paths.
func (e *Engine) Find(ctx context.Context, nodeHash hash.Hash, path model.Path) (model.Entry, bool, error) {
	cur := nodeHash
	for i, step := range path {
		n, ok, err := e.Nodes.Get(ctx, cur)
		if err != nil {
			return model.Entry{}, false, fmt.Errorf("graph: find: %w", err)
		}
		if !ok {
			return model.Entry{}, false, nil
		}
		entry, ok := n.Entries[step]
		if !ok {
			return model.Entry{}, false, nil
		}
		if i == len(path)-1 {
			return entry, true, nil
		}
		if entry.Kind != model.KindNode {
			return model.Entry{}, false, nil
		}
		cur = entry.Hash
	}
	// empty path addresses the root node itself; callers that need this
	// case go through Nodes.Get directly.
	return model.Entry{}, false, graveerr.ErrInvalidArgument
}

// Update returns the hash of a new node tree with path set to entry,
// creating intermediate nodes as needed. It never mutates the stores
// backing nodeHash; every touched node along the path is written fresh
// and the new root hash is returned.
func (e *Engine) Update(ctx context.Context, nodeHash hash.Hash, path model.Path, entry model.Entry) (hash.Hash, error) {
	if len(path) == 0 {
		return hash.Hash{}, fmt.Errorf("graph: update: %w", graveerr.ErrInvalidArgument)
	}
	n, ok, err := e.Nodes.Get(ctx, nodeHash)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("graph: update: %w", err)
	}
	if !ok {
		n = model.NewNode(nil)
	}
	entries := make(map[model.Step]model.Entry, len(n.Entries))
	for k, v := range n.Entries {
		entries[k] = v
	}
	step := path[0]
	if len(path) == 1 {
		entries[step] = entry
	} else {
		childHash := hash.Zero
		if existing, ok := entries[step]; ok && existing.Kind == model.KindNode {
			childHash = existing.Hash
		}
		newChild, err := e.Update(ctx, childHash, path[1:], entry)
		if err != nil {
			return hash.Hash{}, err
		}
		entries[step] = model.Entry{Kind: model.KindNode, Hash: newChild}
	}
	return e.Nodes.Put(ctx, model.NewNode(entries))
}

// Remove returns the hash of a new node tree with path deleted. If
// path does not resolve, nodeHash is returned unchanged (removing
// something absent is a no-op, not an error).
func (e *Engine) Remove(ctx context.Context, nodeHash hash.Hash, path model.Path) (hash.Hash, error) {
	if len(path) == 0 {
		return hash.Hash{}, fmt.Errorf("graph: remove: %w", graveerr.ErrInvalidArgument)
	}
	n, ok, err := e.Nodes.Get(ctx, nodeHash)
	if err != nil {
		return hash.Hash{}, fmt.Errorf("graph: remove: %w", err)
	}
	if !ok {
		return nodeHash, nil
	}
	step := path[0]
	existing, ok := n.Entries[step]
	if !ok {
		return nodeHash, nil
	}
	entries := make(map[model.Step]model.Entry, len(n.Entries))
	for k, v := range n.Entries {
		entries[k] = v
	}
	if len(path) == 1 {
		delete(entries, step)
	} else {
		if existing.Kind != model.KindNode {
			return nodeHash, nil
		}
		newChild, err := e.Remove(ctx, existing.Hash, path[1:])
		if err != nil {
			return hash.Hash{}, err
		}
		entries[step] = model.Entry{Kind: model.KindNode, Hash: newChild}
	}
	return e.Nodes.Put(ctx, model.NewNode(entries))
}

// Closure walks every node reachable from nodeHash (including itself)
// and calls visit once per distinct node hash, in no particular order.
// min is a pruning frontier: a node whose hash is in min is visited but
// not descended into, so its subtree is excluded from the walk (both
// endpoints of the min/max range are still visited). A nil min walks
// the complete reachable set, as a plain reachability query. Used by
// export to gather a self-contained Slice, bounded to only the part the
// caller doesn't already hold when min is non-empty.
func (e *Engine) Closure(ctx context.Context, nodeHash hash.Hash, min map[hash.Hash]bool, visit func(hash.Hash, model.Node) error) error {
	seen := map[hash.Hash]bool{}
	return e.closure(ctx, nodeHash, min, seen, visit)
}

func (e *Engine) closure(ctx context.Context, nodeHash hash.Hash, min, seen map[hash.Hash]bool, visit func(hash.Hash, model.Node) error) error {
	if seen[nodeHash] {
		return nil
	}
	seen[nodeHash] = true
	n, ok, err := e.Nodes.Get(ctx, nodeHash)
	if err != nil {
		return fmt.Errorf("graph: closure: %w", err)
	}
	if !ok {
		return fmt.Errorf("graph: closure: %w", graveerr.ErrNotFound)
	}
	if err := visit(nodeHash, n); err != nil {
		return err
	}
	if min[nodeHash] {
		return nil
	}
	for _, step := range n.SortedSteps() {
		entry := n.Entries[step]
		if entry.Kind == model.KindNode {
			if err := e.closure(ctx, entry.Hash, min, seen, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// MergeNodes computes the three-way merge of node trees a and b given
// their common ancestor old (hash.Zero if none), recursing per-step.
// codecs resolves a leaf Contents merge by entry hash; metaCodec
// resolves the per-entry Metadata merge. Every presence combination of
// old/a/b at a step is handled explicitly; a kind mismatch (e.g. one
// side turned a leaf into a directory) resolves to an immediate
// Conflict rather than guessing which side should win.
func (e *Engine) MergeNodes(ctx context.Context, old, a, b hash.Hash, codec model.ContentsCodec, metaCodec model.MetadataCodec) (hash.Hash, error) {
	if a == b {
		return a, nil
	}
	if a == old {
		return b, nil
	}
	if b == old {
		return a, nil
	}

	oldNode, err := e.nodeOrEmpty(ctx, old)
	if err != nil {
		return hash.Hash{}, err
	}
	aNode, err := e.nodeOrEmpty(ctx, a)
	if err != nil {
		return hash.Hash{}, err
	}
	bNode, err := e.nodeOrEmpty(ctx, b)
	if err != nil {
		return hash.Hash{}, err
	}

	steps := map[model.Step]struct{}{}
	for s := range oldNode.Entries {
		steps[s] = struct{}{}
	}
	for s := range aNode.Entries {
		steps[s] = struct{}{}
	}
	for s := range bNode.Entries {
		steps[s] = struct{}{}
	}

	merged := make(map[model.Step]model.Entry, len(steps))
	for step := range steps {
		oldEntry, oldOK := oldNode.Entries[step]
		aEntry, aOK := aNode.Entries[step]
		bEntry, bOK := bNode.Entries[step]

		mergedEntry, keep, err := e.mergeStep(ctx, oldEntry, oldOK, aEntry, aOK, bEntry, bOK, codec, metaCodec)
		if err != nil {
			return hash.Hash{}, graveerr.AtPath(step, err)
		}
		if keep {
			merged[step] = mergedEntry
		}
	}
	return e.Nodes.Put(ctx, model.NewNode(merged))
}

func (e *Engine) nodeOrEmpty(ctx context.Context, h hash.Hash) (model.Node, error) {
	n, ok, err := e.Nodes.Get(ctx, h)
	if err != nil {
		return model.Node{}, fmt.Errorf("graph: merge: %w", err)
	}
	if !ok {
		return model.NewNode(nil), nil
	}
	return n, nil
}

// mergeStep resolves one step's entry across old/a/b presence. keep is
// false when the resolved outcome is "entry absent" (both sides
// deleted, or one side deleted and the other left the ancestor
// untouched).
func (e *Engine) mergeStep(
	ctx context.Context,
	oldEntry model.Entry, oldOK bool,
	aEntry model.Entry, aOK bool,
	bEntry model.Entry, bOK bool,
	codec model.ContentsCodec, metaCodec model.MetadataCodec,
) (model.Entry, bool, error) {
	switch {
	case !aOK && !bOK:
		// removed (or never present) on both sides.
		return model.Entry{}, false, nil

	case aOK && !bOK:
		if !oldOK {
			// added on a's side only: kept.
			return aEntry, true, nil
		}
		if aEntry.Hash == oldEntry.Hash && aEntry.Kind == oldEntry.Kind {
			// b deleted it and a left the ancestor's entry untouched:
			// deletion wins.
			return model.Entry{}, false, nil
		}
		// a modified it, b deleted it: a modify/delete conflict.
		return model.Entry{}, false, graveerr.NewConflict(nil, "modify/delete conflict")

	case !aOK && bOK:
		if !oldOK {
			return bEntry, true, nil
		}
		if bEntry.Hash == oldEntry.Hash && bEntry.Kind == oldEntry.Kind {
			return model.Entry{}, false, nil
		}
		return model.Entry{}, false, graveerr.NewConflict(nil, "modify/delete conflict")

	default:
		// present on both sides.
		if aEntry.Hash == bEntry.Hash && aEntry.Kind == bEntry.Kind {
			mergedMeta, err := e.mergeMetadata(ctx, oldEntry, oldOK, aEntry, bEntry, metaCodec)
			if err != nil {
				return model.Entry{}, false, err
			}
			return model.Entry{Kind: aEntry.Kind, Hash: aEntry.Hash, Metadata: mergedMeta}, true, nil
		}
		if oldOK && aEntry.Hash == oldEntry.Hash && aEntry.Kind == oldEntry.Kind {
			return bEntry, true, nil
		}
		if oldOK && bEntry.Hash == oldEntry.Hash && bEntry.Kind == oldEntry.Kind {
			return aEntry, true, nil
		}
		if aEntry.Kind != bEntry.Kind {
			// kind mismatch (one side made it a node, the other a
			// contents leaf): always conflicts, never guessed at.
			return model.Entry{}, false, graveerr.NewConflict(nil, "entry kind mismatch")
		}
		if aEntry.Kind == model.KindNode {
			oldChild := hash.Zero
			if oldOK && oldEntry.Kind == model.KindNode {
				oldChild = oldEntry.Hash
			}
			mergedChild, err := e.MergeNodes(ctx, oldChild, aEntry.Hash, bEntry.Hash, codec, metaCodec)
			if err != nil {
				return model.Entry{}, false, err
			}
			return model.Entry{Kind: model.KindNode, Hash: mergedChild}, true, nil
		}
		// both sides changed a contents leaf differently with a real
		// common ancestor value: delegate to the application codec.
		merged, present, err := e.mergeContents(ctx, oldEntry, oldOK, aEntry, bEntry, codec)
		if err != nil {
			return model.Entry{}, false, err
		}
		if !present {
			return model.Entry{}, false, nil
		}
		mergedMeta, err := e.mergeMetadata(ctx, oldEntry, oldOK, aEntry, bEntry, metaCodec)
		if err != nil {
			return model.Entry{}, false, err
		}
		return model.Entry{Kind: model.KindContents, Hash: merged, Metadata: mergedMeta}, true, nil
	}
}

// mergeContents resolves both sides' contents bytes eagerly (they must
// already exist, the entries came from a real node) and the ancestor's
// bytes lazily, then delegates to the application's ContentsCodec. The
// ancestor Ancestor is only resolved (fetched from the store) if the
// codec's Merge actually reads it, matching model.Ancestor's "at most
// once, on demand" contract.
func (e *Engine) mergeContents(ctx context.Context, oldEntry model.Entry, oldOK bool, aEntry, bEntry model.Entry, codec model.ContentsCodec) (hash.Hash, bool, error) {
	aBytes, ok, err := e.Contents.Get(ctx, aEntry.Hash)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("graph: merge contents: %w", err)
	}
	if !ok {
		return hash.Hash{}, false, fmt.Errorf("graph: merge contents: %w", graveerr.ErrNotFound)
	}
	bBytes, ok, err := e.Contents.Get(ctx, bEntry.Hash)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("graph: merge contents: %w", err)
	}
	if !ok {
		return hash.Hash{}, false, fmt.Errorf("graph: merge contents: %w", graveerr.ErrNotFound)
	}

	old := model.NewAncestor(func(ctx context.Context) ([]byte, bool, error) {
		if !oldOK {
			return nil, false, nil
		}
		v, ok, err := e.Contents.Get(ctx, oldEntry.Hash)
		if err != nil {
			return nil, false, fmt.Errorf("graph: merge contents: resolving ancestor: %w", err)
		}
		if !ok {
			return nil, false, fmt.Errorf("graph: merge contents: %w", graveerr.ErrNotFound)
		}
		return v, true, nil
	})

	result, err := codec.Merge(ctx, old, model.Some(aBytes), model.Some(bBytes))
	if err != nil {
		return hash.Hash{}, false, err
	}
	if !result.Present {
		return hash.Hash{}, false, nil
	}
	h, err := e.Contents.Put(ctx, result.Value)
	if err != nil {
		return hash.Hash{}, false, fmt.Errorf("graph: merge contents: %w", err)
	}
	return h, true, nil
}

func (e *Engine) mergeMetadata(ctx context.Context, oldEntry model.Entry, oldOK bool, aEntry, bEntry model.Entry, metaCodec model.MetadataCodec) ([]byte, error) {
	old := model.ResolvedAncestor(oldEntry.Metadata, oldOK)
	return metaCodec.Merge(ctx, old, aEntry.Metadata, bEntry.Metadata)
}

// ChangeKind discriminates a Diff result: whether a leaf is new,
// gone, or present on both sides with a different value or metadata.
type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Updated
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "updated"
	}
}

// Change is one contents leaf's difference between two node trees, as
// returned by Diff: Added/Removed carry only the side that has the
// leaf, Updated carries both sides' value and metadata.
type Change struct {
	Path        model.Path
	Kind        ChangeKind
	OldValue    []byte
	OldMetadata []byte
	NewValue    []byte
	NewMetadata []byte
}

// Diff structurally compares the node trees rooted at a and b,
// returning every contents-leaf difference between them in
// deterministic (lexical path) order. A step whose entry hash and kind
// match on both sides is identical and short-circuits the walk without
// descending further; a step present on only one side is walked in
// full and reported leaf by leaf as Added or Removed; a step whose
// kind differs between sides (one turned a leaf into a subtree, or
// vice versa) is reported as the old side fully Removed and the new
// side fully Added, since there is no single leaf to call Updated.
func (e *Engine) Diff(ctx context.Context, a, b hash.Hash) ([]Change, error) {
	var out []Change
	if err := e.diffNodes(ctx, nil, a, b, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path.String() < out[j].Path.String() })
	return out, nil
}

func (e *Engine) diffNodes(ctx context.Context, path model.Path, a, b hash.Hash, out *[]Change) error {
	if a == b {
		return nil
	}
	aNode, err := e.nodeOrEmpty(ctx, a)
	if err != nil {
		return fmt.Errorf("graph: diff: %w", err)
	}
	bNode, err := e.nodeOrEmpty(ctx, b)
	if err != nil {
		return fmt.Errorf("graph: diff: %w", err)
	}

	steps := map[model.Step]struct{}{}
	for s := range aNode.Entries {
		steps[s] = struct{}{}
	}
	for s := range bNode.Entries {
		steps[s] = struct{}{}
	}
	for step := range steps {
		aEntry, aOK := aNode.Entries[step]
		bEntry, bOK := bNode.Entries[step]
		stepPath := append(append(model.Path{}, path...), step)
		if err := e.diffStep(ctx, stepPath, aEntry, aOK, bEntry, bOK, out); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) diffStep(ctx context.Context, path model.Path, aEntry model.Entry, aOK bool, bEntry model.Entry, bOK bool, out *[]Change) error {
	switch {
	case aOK && !bOK:
		return e.emitLeaves(ctx, path, aEntry, Removed, out)
	case !aOK && bOK:
		return e.emitLeaves(ctx, path, bEntry, Added, out)
	case !aOK && !bOK:
		return nil
	}

	if aEntry.Kind != bEntry.Kind {
		if err := e.emitLeaves(ctx, path, aEntry, Removed, out); err != nil {
			return err
		}
		return e.emitLeaves(ctx, path, bEntry, Added, out)
	}

	if aEntry.Kind == model.KindNode {
		if aEntry.Hash == bEntry.Hash {
			return nil
		}
		return e.diffNodes(ctx, path, aEntry.Hash, bEntry.Hash, out)
	}

	if aEntry.Hash == bEntry.Hash && bytes.Equal(aEntry.Metadata, bEntry.Metadata) {
		return nil
	}
	aVal, ok, err := e.Contents.Get(ctx, aEntry.Hash)
	if err != nil {
		return fmt.Errorf("graph: diff: %w", err)
	}
	if !ok {
		return fmt.Errorf("graph: diff: %w", graveerr.ErrNotFound)
	}
	bVal, ok, err := e.Contents.Get(ctx, bEntry.Hash)
	if err != nil {
		return fmt.Errorf("graph: diff: %w", err)
	}
	if !ok {
		return fmt.Errorf("graph: diff: %w", graveerr.ErrNotFound)
	}
	*out = append(*out, Change{
		Path:        append(model.Path{}, path...),
		Kind:        Updated,
		OldValue:    aVal,
		OldMetadata: aEntry.Metadata,
		NewValue:    bVal,
		NewMetadata: bEntry.Metadata,
	})
	return nil
}

// emitLeaves walks entry (recursing through KindNode subtrees) and
// appends one Change per contents leaf found, all of the given kind
// (Added or Removed), with only the side that has the leaf populated.
func (e *Engine) emitLeaves(ctx context.Context, path model.Path, entry model.Entry, kind ChangeKind, out *[]Change) error {
	if entry.Kind == model.KindNode {
		n, ok, err := e.Nodes.Get(ctx, entry.Hash)
		if err != nil {
			return fmt.Errorf("graph: diff: %w", err)
		}
		if !ok {
			return fmt.Errorf("graph: diff: %w", graveerr.ErrNotFound)
		}
		for _, step := range n.SortedSteps() {
			childPath := append(append(model.Path{}, path...), step)
			if err := e.emitLeaves(ctx, childPath, n.Entries[step], kind, out); err != nil {
				return err
			}
		}
		return nil
	}
	v, ok, err := e.Contents.Get(ctx, entry.Hash)
	if err != nil {
		return fmt.Errorf("graph: diff: %w", err)
	}
	if !ok {
		return fmt.Errorf("graph: diff: %w", graveerr.ErrNotFound)
	}
	change := Change{Path: append(model.Path{}, path...), Kind: kind}
	if kind == Removed {
		change.OldValue, change.OldMetadata = v, entry.Metadata
	} else {
		change.NewValue, change.NewMetadata = v, entry.Metadata
	}
	*out = append(*out, change)
	return nil
}
