// Package merge implements a compositional merge algebra: small, typed
// three-way combinators that application Contents/Metadata codecs can
// build on directly. internal/graph's node merge does not use them; it
// resolves a Node's entries itself.
// Conflicting operations return domain error values rather than
// panicking.
package merge

import (
	"context"
	"sync"

	"github.com/grovevc/grove/pkg/graveerr"
)

// Ancestor is the lazy, memoized "old" promise passed to every
// combinator in this package: a three-way merge's common-ancestor
// value, fetched at most once, which may itself fail. This mirrors
// model.Ancestor's contract but is generic over T instead of fixed to
// raw bytes, since the algebra here also merges typed values (int64
// counters, map[K]T registries) that never touch a byte encoding.
type Ancestor[T any] interface {
	Get(ctx context.Context) (value T, present bool, err error)
}

type ancestorFunc[T any] struct {
	once    sync.Once
	resolve func(ctx context.Context) (T, bool, error)
	value   T
	present bool
	err     error
}

// NewAncestor wraps resolve as a memoized Ancestor.
func NewAncestor[T any](resolve func(ctx context.Context) (T, bool, error)) Ancestor[T] {
	return &ancestorFunc[T]{resolve: resolve}
}

func (a *ancestorFunc[T]) Get(ctx context.Context) (T, bool, error) {
	a.once.Do(func() {
		a.value, a.present, a.err = a.resolve(ctx)
	})
	return a.value, a.present, a.err
}

// Resolved returns an already-resolved Ancestor, useful for tests and
// for callers that already hold the ancestor value and don't need
// Ancestor's lazy-fetch behavior.
func Resolved[T any](value T, present bool) Ancestor[T] {
	return NewAncestor(func(context.Context) (T, bool, error) {
		return value, present, nil
	})
}

// Combinator is a three-way merge over type T: given the lazy common
// ancestor and both sides' current values, it produces the merged
// value or a conflict.
type Combinator[T any] func(ctx context.Context, old Ancestor[T], a, b T) (T, error)

// LastWriterWins merges by conflicting whenever both sides changed the
// value relative to the ancestor and disagree; if only one side
// changed, that side's value wins; if neither changed, either value
// (they're equal) is returned. equal compares two T values.
func LastWriterWins[T any](equal func(a, b T) bool) Combinator[T] {
	return func(ctx context.Context, old Ancestor[T], a, b T) (T, error) {
		var zero T
		oldT, present, err := old.Get(ctx)
		if err != nil {
			return zero, err
		}
		if !present {
			if equal(a, b) {
				return a, nil
			}
			return zero, graveerr.NewConflict(nil, "both sides added divergent values with no common ancestor")
		}
		aChanged := !equal(oldT, a)
		bChanged := !equal(oldT, b)
		switch {
		case !aChanged && !bChanged:
			return oldT, nil
		case aChanged && !bChanged:
			return a, nil
		case !aChanged && bChanged:
			return b, nil
		default:
			if equal(a, b) {
				return a, nil
			}
			return zero, graveerr.NewConflict(nil, "both sides modified the value differently")
		}
	}
}

// Counter is the int64 additive three-way merge: the result is
// old + (a-old) + (b-old), i.e. both sides' deltas from the common
// ancestor are applied together. It never conflicts: concurrent
// increments compose.
func Counter(ctx context.Context, old Ancestor[int64], a, b int64) (int64, error) {
	oldV, present, err := old.Get(ctx)
	if err != nil {
		return 0, err
	}
	if !present {
		oldV = 0
	}
	return oldV + (a - oldV) + (b - oldV), nil
}

// Seq is sequential composition of combinators over the same value:
// each step refines the previous step's result. It is
// conflict-monotonic — if any step conflicts, Seq stops and returns
// that conflict without attempting later steps.
func Seq[T any](steps ...Combinator[T]) Combinator[T] {
	return func(ctx context.Context, old Ancestor[T], a, b T) (T, error) {
		var zero T
		cur := a
		for _, step := range steps {
			merged, err := step(ctx, old, cur, b)
			if err != nil {
				return zero, err
			}
			cur = merged
		}
		return cur, nil
	}
}

// Conflict always conflicts, for situations that must never silently
// pick a side.
func Conflict[T any](reason string) Combinator[T] {
	return func(ctx context.Context, old Ancestor[T], a, b T) (T, error) {
		var zero T
		return zero, graveerr.NewConflict(nil, reason)
	}
}

// Registry lifts a per-value Combinator to operate over a
// map[K]T, merging key by key: a key missing from both sides is left
// out, a key present on only one side and absent from the ancestor map
// is kept as-is, and every other key is merged by calling merge with
// ancestorOf(k) as its ancestor and T's zero value standing in for a
// side that lacks the key. The merged value is stored under the key, so
// a removal on one side never removes the key from the result.
func Registry[K comparable, T any](merge Combinator[T], ancestorOf func(k K) Ancestor[T]) Combinator[map[K]T] {
	return func(ctx context.Context, old Ancestor[map[K]T], a, b map[K]T) (map[K]T, error) {
		oldMap, present, err := old.Get(ctx)
		if err != nil {
			return nil, err
		}
		if !present {
			oldMap = map[K]T{}
		}
		out := make(map[K]T)
		keys := map[K]struct{}{}
		for k := range oldMap {
			keys[k] = struct{}{}
		}
		for k := range a {
			keys[k] = struct{}{}
		}
		for k := range b {
			keys[k] = struct{}{}
		}
		for k := range keys {
			_, oldOK := oldMap[k]
			av, aOK := a[k]
			bv, bOK := b[k]
			switch {
			case !aOK && !bOK:
				// removed on both sides
			case aOK && !bOK && !oldOK:
				out[k] = av
			case !aOK && bOK && !oldOK:
				out[k] = bv
			case aOK && !bOK:
				// removed on b: merged against ancestorOf(k) with bv
				// left at T's zero value.
				merged, err := merge(ctx, ancestorOf(k), av, bv)
				if err != nil {
					return nil, err
				}
				out[k] = merged
			case !aOK && bOK:
				merged, err := merge(ctx, ancestorOf(k), av, bv)
				if err != nil {
					return nil, err
				}
				out[k] = merged
			default:
				merged, err := merge(ctx, ancestorOf(k), av, bv)
				if err != nil {
					return nil, err
				}
				out[k] = merged
			}
		}
		return out, nil
	}
}
