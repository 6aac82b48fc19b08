package kernel

import (
	"context"
	"sync"

	"github.com/grovevc/grove/internal/watch"
	"github.com/grovevc/grove/pkg/hash"
	"github.com/sirupsen/logrus"
)

// Memory is an in-memory RO/AO/Link/RW implementation backed by Go
// maps. It is the default backend for ephemeral repositories and the
// one the rest of the module's tests run against.
type Memory struct {
	mu       sync.RWMutex
	values   map[string][]byte
	links    map[string]string // src key -> dst key, raw key bytes as strings
	registry *watch.Registry
}

// NewMemory returns a ready-to-use Memory backend.
func NewMemory(log *logrus.Logger) *Memory {
	return &Memory{
		values:   make(map[string][]byte),
		links:    make(map[string]string),
		registry: watch.New(log),
	}
}

func keyStr(key []byte) string { return string(key) }

func (m *Memory) Mem(ctx context.Context, key []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if dst, ok := m.links[keyStr(key)]; ok {
		_, ok := m.values[dst]
		return ok, nil
	}
	_, ok := m.values[keyStr(key)]
	return ok, nil
}

func (m *Memory) Find(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	k := keyStr(key)
	if dst, ok := m.links[k]; ok {
		k = dst
	}
	v, ok := m.values[k]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Add(ctx context.Context, value []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := hash.Sum(value)
	m.mu.Lock()
	defer m.mu.Unlock()
	k := keyStr(key[:])
	if _, exists := m.values[k]; !exists {
		m.values[k] = append([]byte(nil), value...)
	}
	return key[:], nil
}

func (m *Memory) AddLink(ctx context.Context, src, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[keyStr(dst)]; !ok {
		return ErrNotFound
	}
	m.links[keyStr(src)] = keyStr(dst)
	return nil
}

// ErrNotFound is returned by AddLink when dst does not already exist;
// every other kernel lookup reports absence via an ok flag instead.
var ErrNotFound error = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "kernel: linked value does not exist" }

func (m *Memory) Set(ctx context.Context, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k := keyStr(key)
	m.mu.Lock()
	old, hadOld := m.values[k]
	m.values[k] = append([]byte(nil), value...)
	m.mu.Unlock()
	m.registry.Notify(ctx, k, old, hadOld, value, true)
	return nil
}

func (m *Memory) TestAndSet(ctx context.Context, key []byte, test []byte, testOK bool, value []byte, setOK bool) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := keyStr(key)
	m.mu.Lock()
	cur, curOK := m.values[k]
	matches := (!testOK && !curOK) || (testOK && curOK && bytesEqual(cur, test))
	if !matches {
		m.mu.Unlock()
		return false, nil
	}
	if setOK {
		m.values[k] = append([]byte(nil), value...)
	} else {
		delete(m.values, k)
	}
	m.mu.Unlock()
	m.registry.Notify(ctx, k, cur, curOK, value, setOK)
	return true, nil
}

func (m *Memory) Remove(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	k := keyStr(key)
	m.mu.Lock()
	old, hadOld := m.values[k]
	delete(m.values, k)
	m.mu.Unlock()
	if hadOld {
		m.registry.Notify(ctx, k, old, true, nil, false)
	}
	return nil
}

func (m *Memory) List(ctx context.Context) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([][]byte, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, []byte(k))
	}
	return keys, nil
}

func (m *Memory) Watch(init map[string][]byte, handler watch.Handler) watch.Handle {
	return m.registry.Watch(init, handler)
}

func (m *Memory) WatchKey(key []byte, init []byte, initOK bool, handler watch.Handler) watch.Handle {
	return m.registry.WatchKey(keyStr(key), init, initOK, handler)
}

func (m *Memory) Unwatch(h watch.Handle) {
	m.registry.Unwatch(h)
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

var (
	_ RO   = (*Memory)(nil)
	_ AO   = (*Memory)(nil)
	_ Link = (*Memory)(nil)
	_ RW   = (*Memory)(nil)
)
