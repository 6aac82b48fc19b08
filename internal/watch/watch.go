// Package watch implements the notification subsystem: a per-mutable-store
// registry of global and per-key handlers, diff-based delivery, and the
// ordering contract that each handler's deliveries are serialised while
// different handlers may run concurrently. It is deliberately
// backend-agnostic — kernel.Memory and kernel.Badger both embed a
// *Registry and call Notify from their write paths.
package watch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DiffKind classifies one delivered change.
type DiffKind uint8

const (
	Added DiffKind = iota
	Removed
	Updated
)

func (k DiffKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// Diff describes one state transition delivered to a handler.
type Diff struct {
	Kind DiffKind
	Old  []byte // meaningful for Removed/Updated
	New  []byte // meaningful for Added/Updated
}

// Handler receives one diff at a time for a key. The registry never
// starts a handler's next invocation before the current one returns.
type Handler func(ctx context.Context, key string, diff Diff)

// Handle identifies a registered handler so it can be canceled later.
type Handle uint64

// Registry tracks global and per-key handlers over one mutable store
// and dispatches diffs to them serially per handler, with delivery for
// different handlers allowed to overlap. The order in which one Notify
// reaches different handlers is not defined.
type Registry struct {
	log *logrus.Logger

	mu       sync.Mutex
	nextID   Handle
	global   map[Handle]*subscriber
	byKey    map[string]map[Handle]*subscriber
}

type subscriber struct {
	handler  Handler
	queue    chan job
	lastSeen map[string][]byte // last delivered/observed value, by key
	hasSeen  map[string]bool
	done     chan struct{}
	cancel   bool
	mu       sync.Mutex
}

type job struct {
	ctx  context.Context
	key  string
	diff Diff
}

// New returns an empty Registry. A nil logger defaults to a fresh
// logrus.Logger.
func New(log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		log:    log,
		global: make(map[Handle]*subscriber),
		byKey:  make(map[string]map[Handle]*subscriber),
	}
}

func newSubscriber(handler Handler) *subscriber {
	s := &subscriber{
		handler:  handler,
		queue:    make(chan job, 64),
		lastSeen: make(map[string][]byte),
		hasSeen:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriber) run() {
	defer close(s.done)
	for j := range s.queue {
		s.mu.Lock()
		canceled := s.cancel
		s.mu.Unlock()
		if canceled {
			continue
		}
		s.safeInvoke(j)
	}
}

func (s *subscriber) safeInvoke(j job) {
	defer func() {
		if r := recover(); r != nil {
			// A panicking watcher must not stall the queue or the
			// store it's watching; it is simply dropped.
			s.mu.Lock()
			s.cancel = true
			s.mu.Unlock()
		}
	}()
	s.handler(j.ctx, j.key, j.diff)
}

// Watch installs a global handler. If init is non-nil, its bindings
// seed the subscriber's "already seen" snapshot so that only genuine
// changes against init are delivered on first activation.
func (r *Registry) Watch(init map[string][]byte, handler Handler) Handle {
	s := newSubscriber(handler)
	if init != nil {
		for k, v := range init {
			s.lastSeen[k] = v
			s.hasSeen[k] = true
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.global[id] = s
	return id
}

// WatchKey installs a key-scoped handler, which only ever receives
// diffs for key and is dispatched to more cheaply than a global
// handler (no key filtering on the hot path).
func (r *Registry) WatchKey(key string, init []byte, initOK bool, handler Handler) Handle {
	s := newSubscriber(handler)
	if initOK {
		s.lastSeen[key] = init
		s.hasSeen[key] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	if r.byKey[key] == nil {
		r.byKey[key] = make(map[Handle]*subscriber)
	}
	r.byKey[key][id] = s
	return id
}

// Unwatch cancels handle h. Deliveries already enqueued for it may
// still run, but Unwatch blocks until the subscriber's worker has
// drained and acknowledged cancellation, so no delivery outlives the
// call.
func (r *Registry) Unwatch(h Handle) {
	r.mu.Lock()
	var s *subscriber
	if sub, ok := r.global[h]; ok {
		s = sub
		delete(r.global, h)
	} else {
		for key, subs := range r.byKey {
			if sub, ok := subs[h]; ok {
				s = sub
				delete(subs, h)
				if len(subs) == 0 {
					delete(r.byKey, key)
				}
				break
			}
		}
	}
	r.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.cancel = true
	s.mu.Unlock()
	close(s.queue)
	<-s.done
}

// Notify is called by the backend on every state transition of key.
// newValue/newOK describe the new state (absent if newOK is false);
// oldValue/oldOK analogously describe the state just before this
// transition. Each interested subscriber has a diff computed against
// its own last-delivered snapshot (not necessarily oldValue — a slow
// subscriber may have missed intermediate states, which this registry
// permits as coalescing) and enqueued without blocking the writer that
// called Notify.
func (r *Registry) Notify(ctx context.Context, key string, oldValue []byte, oldOK bool, newValue []byte, newOK bool) {
	r.mu.Lock()
	subs := make([]*subscriber, 0, len(r.global)+1)
	for _, s := range r.global {
		subs = append(subs, s)
	}
	if byKey, ok := r.byKey[key]; ok {
		for _, s := range byKey {
			subs = append(subs, s)
		}
	}
	r.mu.Unlock()

	for _, s := range subs {
		r.enqueue(ctx, s, key, newValue, newOK)
	}
}

func (r *Registry) enqueue(ctx context.Context, s *subscriber, key string, newValue []byte, newOK bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel {
		return
	}
	prev, hadPrev := s.lastSeen[key], s.hasSeen[key]
	diff, deliver := computeDiff(prev, hadPrev, newValue, newOK)
	if !deliver {
		return
	}
	select {
	case s.queue <- job{ctx: ctx, key: key, diff: diff}:
		s.lastSeen[key] = newValue
		s.hasSeen[key] = newOK
	default:
		// The subscriber is behind; coalesce by dropping this
		// intermediate delivery. The *next* Notify call recomputes the
		// diff against the same lastSeen snapshot, so the final
		// delivered value still matches the most recent observed state
		// once writes quiesce.
		r.log.WithField("key", key).Warn("watch: subscriber queue full, coalescing")
	}
}

func computeDiff(prev []byte, hadPrev bool, next []byte, hasNext bool) (Diff, bool) {
	switch {
	case !hadPrev && hasNext:
		return Diff{Kind: Added, New: next}, true
	case hadPrev && !hasNext:
		return Diff{Kind: Removed, Old: prev}, true
	case hadPrev && hasNext:
		if bytesEqual(prev, next) {
			return Diff{}, false
		}
		return Diff{Kind: Updated, Old: prev, New: next}, true
	default:
		return Diff{}, false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
