// Package model defines grove's core data types: the hashable object
// graph (Step, Path, Node, Commit, Branch, Slice) and the capability
// interfaces (ContentsCodec, MetadataCodec, Ancestor) applications
// implement to plug their own content types into the merge engine.
package model

import (
	"context"
	"sort"
	"sync"

	"github.com/grovevc/grove/pkg/hash"
)

// Step is one segment of a Path. Steps are totally ordered by plain
// Go string comparison; that ordering is what makes node hashing
// deterministic (spec's "fixed for hashing" rule).
type Step string

// Path is a finite ordered sequence of Steps. The empty Path denotes
// the root of a tree, not a value.
type Path []Step

// String renders a Path as a diagnostic "/"-joined string, e.g. "/a/b".
func (p Path) String() string {
	if len(p) == 0 {
		return "/"
	}
	s := ""
	for _, step := range p {
		s += "/" + string(step)
	}
	return s
}

// Equal reports whether two Paths address the same location.
func (p Path) Equal(other Path) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// EntryKind discriminates a Node entry's child: another Node, or a
// Contents leaf.
type EntryKind uint8

const (
	KindNode EntryKind = iota
	KindContents
)

func (k EntryKind) String() string {
	if k == KindContents {
		return "contents"
	}
	return "node"
}

// Entry is a Node's mapping target for one Step: either a child node
// (Kind == KindNode) or a contents leaf (Kind == KindContents), in
// which case Metadata carries the per-entry attribute bytes (spec's
// "stored at the parent node entry so renaming preserves it").
type Entry struct {
	Kind     EntryKind
	Hash     hash.Hash
	Metadata []byte
}

// Node is an immutable mapping from Step to Entry. The empty Node
// (no entries) is valid and addresses the hash of an empty mapping.
type Node struct {
	Entries map[Step]Entry
}

// NewNode builds a Node from an entry map, copying it so callers can't
// mutate a Node after construction.
func NewNode(entries map[Step]Entry) Node {
	copied := make(map[Step]Entry, len(entries))
	for k, v := range entries {
		copied[k] = v
	}
	return Node{Entries: copied}
}

// SortedSteps returns the Node's steps in the canonical (byte-lex on
// the step text) order used for hashing and for deterministic
// enumeration elsewhere (list, diff).
func (n Node) SortedSteps() []Step {
	steps := make([]Step, 0, len(n.Entries))
	for s := range n.Entries {
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i] < steps[j] })
	return steps
}

// Task is the provenance record attached to a Commit.
type Task struct {
	Date     int64
	Owner    string
	UID      int64
	Messages []string
	// TraceID correlates a commit with the log lines that produced it.
	// Additive over spec's Task tuple; empty TraceID is a normal task.
	TraceID string
}

// Commit is an immutable tuple of a root Node hash, an ordered
// sequence of parent Commit hashes, and a Task. Parent order is
// preserved; Parents[0] is the "main parent" for traversal purposes.
type Commit struct {
	NodeHash hash.Hash
	Parents  []hash.Hash
	Task     Task
}

// Branch is a named, mutable pointer to a Commit hash.
type Branch struct {
	Name string
	Head hash.Hash
}

// DefaultBranch is the distinguished branch name that always exists.
const DefaultBranch = "master"

// ValidBranchName reports whether name is a legal Branch name:
// non-empty, containing only ASCII alphanumerics plus '-', '_', '.'
// and '/'.
func ValidBranchName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == '/':
		default:
			return false
		}
	}
	return true
}

// Slice is a transferable, self-contained bundle of objects for bulk
// export/import.
type Slice struct {
	Contents map[hash.Hash][]byte
	Nodes    map[hash.Hash]Node
	Commits  map[hash.Hash]Commit
}

// NewSlice returns an empty, ready-to-populate Slice.
func NewSlice() Slice {
	return Slice{
		Contents: make(map[hash.Hash][]byte),
		Nodes:    make(map[hash.Hash]Node),
		Commits:  make(map[hash.Hash]Commit),
	}
}

// Ancestor is the lazy "old" promise passed to every merge combinator:
// a three-way merge's common-ancestor value, fetched at most once and
// memoized, which may itself fail with a conflict.
type Ancestor interface {
	// Get resolves the ancestor value. present is false if the
	// ancestor has no value at this path (absence, not error).
	Get(ctx context.Context) (value []byte, present bool, err error)
}

// ancestorFunc adapts a plain resolver function into a memoized
// Ancestor. NewAncestor is the only constructor applications need;
// the memoization guarantee ("invoked at most once") lives here so
// every caller gets it for free.
type ancestorFunc struct {
	once    sync.Once
	resolve func(ctx context.Context) ([]byte, bool, error)
	value   []byte
	present bool
	err     error
}

// NewAncestor wraps resolve as a memoized Ancestor.
func NewAncestor(resolve func(ctx context.Context) ([]byte, bool, error)) Ancestor {
	return &ancestorFunc{resolve: resolve}
}

func (a *ancestorFunc) Get(ctx context.Context) ([]byte, bool, error) {
	a.once.Do(func() {
		a.value, a.present, a.err = a.resolve(ctx)
	})
	return a.value, a.present, a.err
}

// ResolvedAncestor returns an already-resolved Ancestor, useful for
// tests and for callers like mergeMetadata that already hold the
// ancestor value (an Entry's Metadata needs no store round-trip) and
// don't need Ancestor's lazy-fetch behavior.
func ResolvedAncestor(value []byte, present bool) Ancestor {
	return NewAncestor(func(context.Context) ([]byte, bool, error) {
		return value, present, nil
	})
}

// Option is grove's explicit option<contents>: Present is false for
// "none" (spec's encoding of absence at the value-merge boundary).
type Option struct {
	Present bool
	Value   []byte
}

// Some wraps an existing value as a present Option.
func Some(v []byte) Option { return Option{Present: true, Value: v} }

// None is the absent Option.
var None = Option{}

// ContentsCodec is the capability bundle spec's Contents entity
// requires of an application-defined value type, expressed over the
// value's own byte encoding (grove never needs to know the type, only
// how to diagnose and merge its bytes):
//
//   - Parse/Print: a diagnostic round-trip between bytes and text.
//   - Merge: the three-way combinator `option<contents> → option<contents>
//     → option<contents>`, given the lazy ancestor promise and both
//     sides' current (possibly absent) values.
type ContentsCodec interface {
	Parse(s string) ([]byte, error)
	Print(b []byte) (string, error)
	Merge(ctx context.Context, old Ancestor, a, b Option) (Option, error)
}

// MetadataCodec is the per-entry attribute's capability bundle: a
// default value for entries created without explicit metadata, and a
// three-way merge combinator.
type MetadataCodec interface {
	Default() []byte
	Merge(ctx context.Context, old Ancestor, a, b []byte) ([]byte, error)
}
