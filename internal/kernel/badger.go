package kernel

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/grovevc/grove/internal/watch"
)

// BadgerConfig configures the disk-backed kernel backend: a data
// directory and a minimum-free-space admission threshold, checked once
// at Open.
type BadgerConfig struct {
	// Path is the data directory. It must already exist.
	Path string
	// MinimumFreeGB is the minimum free space, in gigabytes, required
	// on Path's filesystem at Open time.
	MinimumFreeGB uint
	// Logger is an optional structured logger; a nil Logger gets a
	// fresh logrus.Logger.
	Logger *logrus.Logger
}

// Badger is a github.com/dgraph-io/badger/v4-backed RO/AO/Link/RW
// implementation. Values are compressed with zstd before being
// written; this trades a small CPU cost and a one-frame header on
// incompressible data for materially smaller on-disk AO storage, which
// is where grove spends the overwhelming majority of its bytes
// (serialized nodes, commits and contents).
type Badger struct {
	db       *badger.DB
	log      *logrus.Logger
	registry *watch.Registry
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// OpenBadger opens (creating if necessary) a Badger-backed kernel at
// cfg.Path after checking free disk space.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if err := checkFreeSpace(cfg.Path, cfg.MinimumFreeGB, cfg.Logger); err != nil {
		return nil, fmt.Errorf("kernel: checking free space for %q: %w", cfg.Path, err)
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kernel: opening badger at %q: %w", cfg.Path, err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: creating zstd decoder: %w", err)
	}

	return &Badger{
		db:       db,
		log:      cfg.Logger,
		registry: watch.New(cfg.Logger),
		enc:      enc,
		dec:      dec,
	}, nil
}

func checkFreeSpace(path string, minimumFreeGB uint, log *logrus.Logger) error {
	if minimumFreeGB == 0 {
		return nil
	}
	usage, err := disk.Usage(path)
	if err != nil {
		// Free-space checks are advisory; a backend that can't report
		// usage (containers, exotic filesystems) should still be
		// allowed to open.
		log.WithError(err).Warn("kernel: could not determine free disk space")
		return nil
	}
	minimumFreeBytes := uint64(minimumFreeGB) * 1024 * 1024 * 1024
	if usage.Free < minimumFreeBytes {
		return fmt.Errorf("only %s free, need at least %s", humanize.Bytes(usage.Free), humanize.Bytes(minimumFreeBytes))
	}
	log.WithField("free", humanize.Bytes(usage.Free)).Debug("kernel: disk space check passed")
	return nil
}

// Close releases the underlying Badger database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) compress(v []byte) []byte {
	return b.enc.EncodeAll(v, make([]byte, 0, len(v)))
}

func (b *Badger) decompress(v []byte) ([]byte, error) {
	out, err := b.dec.DecodeAll(v, nil)
	if err != nil {
		return nil, fmt.Errorf("kernel: decompressing value: %w", err)
	}
	return out, nil
}

// resolveLink follows key through the link namespace if a link record
// exists for it, returning the key whose value should actually be read
// (key itself, if it isn't linked).
func resolveLink(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(linkKey(key))
	if err == badger.ErrKeyNotFound {
		return key, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *Badger) Mem(ctx context.Context, key []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		resolved, err := resolveLink(txn, key)
		if err != nil {
			return err
		}
		_, err = txn.Get(resolved)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

func (b *Badger) Find(ctx context.Context, key []byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var raw []byte
	found := false
	err := b.db.View(func(txn *badger.Txn) error {
		resolved, err := resolveLink(txn, key)
		if err != nil {
			return err
		}
		item, err := txn.Get(resolved)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		raw = v
		found = true
		return nil
	})
	if err != nil || !found {
		return nil, false, err
	}
	v, err := b.decompress(raw)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *Badger) Add(ctx context.Context, value []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := sumKey(value)
	err := b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return nil // idempotent: already present
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, b.compress(value))
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: add: %w", err)
	}
	return key, nil
}

func (b *Badger) AddLink(ctx context.Context, src, dst []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(dst); err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		// Links are stored as a small redirect record, distinguished
		// from content values by a one-byte prefix so Find/Mem can
		// follow them without a separate namespace.
		return txn.Set(linkKey(src), dst)
	})
}

func (b *Badger) Set(ctx context.Context, key, value []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	old, hadOld, err := b.Find(ctx, key)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, b.compress(value))
	}); err != nil {
		return fmt.Errorf("kernel: set: %w", err)
	}
	b.registry.Notify(ctx, string(key), old, hadOld, value, true)
	return nil
}

func (b *Badger) TestAndSet(ctx context.Context, key []byte, test []byte, testOK bool, value []byte, setOK bool) (bool, error) {
	if len(key) == 0 {
		return false, ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var applied bool
	var cur []byte
	var curOK bool
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			curOK = false
		case err != nil:
			return err
		default:
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			cur, err = b.decompress(raw)
			if err != nil {
				return err
			}
			curOK = true
		}
		matches := (!testOK && !curOK) || (testOK && curOK && bytes.Equal(cur, test))
		if !matches {
			return nil
		}
		applied = true
		if setOK {
			return txn.Set(key, b.compress(value))
		}
		return txn.Delete(key)
	})
	if err != nil {
		return false, fmt.Errorf("kernel: test-and-set: %w", err)
	}
	if applied {
		b.registry.Notify(ctx, string(key), cur, curOK, value, setOK)
	}
	return applied, nil
}

func (b *Badger) Remove(ctx context.Context, key []byte) error {
	if len(key) == 0 {
		return ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	old, hadOld, err := b.Find(ctx, key)
	if err != nil {
		return err
	}
	if err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	}); err != nil {
		return fmt.Errorf("kernel: remove: %w", err)
	}
	if hadOld {
		b.registry.Notify(ctx, string(key), old, true, nil, false)
	}
	return nil
}

func (b *Badger) List(ctx context.Context) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: list: %w", err)
	}
	return keys, nil
}

func (b *Badger) Watch(init map[string][]byte, handler watch.Handler) watch.Handle {
	return b.registry.Watch(init, handler)
}

func (b *Badger) WatchKey(key []byte, init []byte, initOK bool, handler watch.Handler) watch.Handle {
	return b.registry.WatchKey(string(key), init, initOK, handler)
}

func (b *Badger) Unwatch(h watch.Handle) {
	b.registry.Unwatch(h)
}

func sumKey(value []byte) []byte {
	h := sha256Sum(value)
	return h
}

func linkKey(src []byte) []byte {
	out := make([]byte, 0, len(src)+1)
	out = append(out, 0xFF)
	return append(out, src...)
}

// sha256Sum avoids importing pkg/hash here to keep the kernel package
// free of a dependency on the object model; it is the same algorithm,
// duplicated at the byte-slice level on purpose (kernel keys are raw
// digests, not model.Hash values — object stores one layer up do that
// conversion).
func sha256Sum(v []byte) []byte {
	sum := sha256.Sum256(v)
	return sum[:]
}

var (
	_ RO   = (*Badger)(nil)
	_ AO   = (*Badger)(nil)
	_ Link = (*Badger)(nil)
	_ RW   = (*Badger)(nil)
)
