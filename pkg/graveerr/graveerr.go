// Package graveerr defines the error kinds grove's layers return:
// conflicts and traversal-bound hits are ordinary values, not
// exceptions; invalid arguments and not-found (at the get/get_head
// boundary) are sentinel errors wrapped with
// fmt.Errorf("...: %w", ...).
package graveerr

import (
	"errors"
	"fmt"

	"github.com/grovevc/grove/pkg/model"
)

var (
	// ErrInvalidArgument covers programmer errors: empty branch names,
	// empty-path writes, malformed steps.
	ErrInvalidArgument = errors.New("grove: invalid argument")

	// ErrNotFound is returned when an operation needs an object or
	// branch that is absent: a named branch or commit a Store is opened
	// on, or a node or commit that another object refers to. Plain
	// Get/Find lookups return an (ok, false) pair instead.
	ErrNotFound = errors.New("grove: not found")

	// ErrMaxDepthReached is returned by LCA search when exploration
	// exceeds the caller's depth bound before converging.
	ErrMaxDepthReached = errors.New("grove: max depth reached")

	// ErrTooManyLCAs is returned by LCA search when the number of
	// lowest common ancestors exceeds the caller's bound.
	ErrTooManyLCAs = errors.New("grove: too many lowest common ancestors")

	// ErrConcurrentUpdate is returned by a failed CAS (test_and_set);
	// it is an ordinary value, never a panic or a stop-the-world error.
	ErrConcurrentUpdate = errors.New("grove: concurrent update")

	// ErrAborted names an aborted operation. No operation in this module
	// returns it: one that observes a canceled context returns ctx.Err()
	// (context.Canceled or context.DeadlineExceeded) instead.
	ErrAborted = errors.New("grove: aborted")
)

// Conflict is returned by any merge combinator that could not
// reconcile two values. It carries the path at which the conflict was
// detected (possibly the root, "/", for a whole-commit-level conflict)
// and a human-readable reason. Conflicts propagate through the merge
// algebra unchanged — callers are expected to use errors.As to inspect
// one, not to treat it as an opaque backend failure.
type Conflict struct {
	Path   model.Path
	Reason string
}

func (c *Conflict) Error() string {
	return fmt.Sprintf("grove: merge conflict at %s: %s", c.Path.String(), c.Reason)
}

// NewConflict constructs a Conflict at path with the given reason.
func NewConflict(path model.Path, reason string) *Conflict {
	return &Conflict{Path: path, Reason: reason}
}

// AtPath rewraps a Conflict (or wraps a plain error into one) with an
// extra path segment prepended, used while a node merge unwinds
// recursively back up to the root so the final conflict's Path reads
// the full location instead of just the innermost step.
func AtPath(step model.Step, err error) error {
	var c *Conflict
	if errors.As(err, &c) {
		return &Conflict{Path: append(model.Path{step}, c.Path...), Reason: c.Reason}
	}
	return err
}

// IsConflict reports whether err is, or wraps, a *Conflict.
func IsConflict(err error) bool {
	var c *Conflict
	return errors.As(err, &c)
}
