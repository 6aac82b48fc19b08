// Package kernel implements the backend kernel: the four primitive
// store interfaces (RO, AO, Link, RW) minimal enough that many physical
// backends can implement them, plus two concrete backends (Memory and
// Badger). Every key and value here is a raw byte slice; typed hashing
// and domain rules live one layer up in internal/objectstore.
package kernel

import (
	"context"

	"github.com/grovevc/grove/internal/watch"
)

// RO is the read-only primitive store.
type RO interface {
	// Mem reports whether key resolves to a value. Absence is not an
	// error.
	Mem(ctx context.Context, key []byte) (bool, error)
	// Find looks up key, returning ok=false on absence rather than an
	// error.
	Find(ctx context.Context, key []byte) (value []byte, ok bool, err error)
}

// AO is the append-only store: Add computes key = H(serialise(value))
// and is idempotent — adding the same bytes twice returns the same
// key without duplicating storage.
type AO interface {
	RO
	Add(ctx context.Context, value []byte) (key []byte, err error)
}

// Link is a read-only store that additionally lets a caller certify
// that an alternative key resolves to an existing value, without
// storing that value again. Used to certify alternative hashings of
// the same logical object.
type Link interface {
	RO
	AddLink(ctx context.Context, src, dst []byte) error
}

// RW is the mutable keyed store branches are built on. All write
// operations are linearisable against concurrent writers to the same
// key. The empty key is rejected by every write method.
type RW interface {
	RO
	Set(ctx context.Context, key, value []byte) error
	// TestAndSet atomically sets key to value (setOK) or removes it
	// (setOK=false) iff the current value matches test (testOK) or the
	// key is absent (testOK=false, test=="must not exist"). It returns
	// false, not an error, on a failed comparison.
	TestAndSet(ctx context.Context, key []byte, test []byte, testOK bool, value []byte, setOK bool) (bool, error)
	Remove(ctx context.Context, key []byte) error
	List(ctx context.Context) ([][]byte, error)

	Watch(init map[string][]byte, handler watch.Handler) watch.Handle
	WatchKey(key []byte, init []byte, initOK bool, handler watch.Handler) watch.Handle
	Unwatch(h watch.Handle)
}

// ErrEmptyKey is returned by any RW write operation given an empty key.
type emptyKeyError struct{}

func (emptyKeyError) Error() string { return "kernel: empty key" }

// ErrEmptyKey is returned whenever a caller passes an empty key to an
// RW write operation.
var ErrEmptyKey error = emptyKeyError{}
