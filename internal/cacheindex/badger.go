package cacheindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"media-vault/internal/cache"
	"media-vault/internal/logging"
)

const keyPrefix = "cache:"

// Badger is a cache.Index stored in an embedded Badger database. Values
// are JSON records under "cache:<key>".
type Badger struct {
	db *badger.DB
}

var _ cache.Index = (*Badger)(nil)

// OpenBadger opens or creates a Badger index in dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger index at %s: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

// OpenBadgerInMemory opens a Badger index without a backing directory.
func OpenBadgerInMemory() (*Badger, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

// Close flushes and closes the database.
func (b *Badger) Close() error { return b.db.Close() }

// RunGC reclaims space from the value log. It is a no-op when nothing can be
// rewritten.
func (b *Badger) RunGC() {
	for {
		if err := b.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				logging.Debug("badger value log GC: %v", err)
			}
			return
		}
	}
}

func itemKey(key cache.Key) []byte {
	return []byte(keyPrefix + key.String())
}

func readItem(item *badger.Item) (*cache.Entry, error) {
	var rec record
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	e, err := rec.entry()
	if err != nil {
		return nil, fmt.Errorf("corrupt cache record %s: %w", item.Key(), err)
	}
	return e, nil
}

func (b *Badger) Get(_ context.Context, key cache.Key) (*cache.Entry, error) {
	var out *cache.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(itemKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out, err = readItem(item)
		return err
	})
	return out, err
}

func (b *Badger) Put(_ context.Context, e *cache.Entry) error {
	buf, err := json.Marshal(toRecord(e))
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(e.Key), buf)
	})
}

func (b *Badger) Remove(_ context.Context, key cache.Key) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(key))
	})
}

func (b *Badger) Touch(_ context.Context, key cache.Key, at time.Time) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(itemKey(key))
		if err != nil {
			return err
		}
		e, err := readItem(item)
		if err != nil {
			return err
		}
		e.LastAccessedAt = at
		buf, err := json.Marshal(toRecord(e))
		if err != nil {
			return err
		}
		return txn.Set(itemKey(key), buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	// Touch races with concurrent Puts; the later writer wins either way.
	if errors.Is(err, badger.ErrConflict) {
		return nil
	}
	return err
}

func (b *Badger) ListAll(_ context.Context) ([]*cache.Entry, error) {
	var out []*cache.Entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			e, err := readItem(it.Item())
			if err != nil {
				logging.Warn("Skipping unreadable cache record: %v", err)
				continue
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (b *Badger) ListExpired(ctx context.Context, now time.Time) ([]*cache.Entry, error) {
	all, err := b.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterExpired(all, now), nil
}

func (b *Badger) ListByLeastRecentlyAccessed(ctx context.Context) ([]*cache.Entry, error) {
	all, err := b.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterLRU(all), nil
}

func (b *Badger) TotalSize(ctx context.Context) (uint64, error) {
	all, err := b.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return sumReady(all), nil
}
