package cacheindex

import (
	"fmt"
	"io"
	"strings"

	"media-vault/internal/cache"
)

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open returns the index for backend. The sqlite backend is provided by the
// caller as primary, since it shares the application database. The
// returned Closer releases backend resources.
func Open(backend, badgerDir string, primary cache.Index) (cache.Index, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if primary == nil {
			return nil, nil, fmt.Errorf("sqlite cache index requested but no database is open")
		}
		return primary, nopCloser{}, nil
	case BackendBadger:
		b, err := OpenBadger(badgerDir)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case BackendMemory:
		return NewMemory(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache index backend %q (supported: sqlite, badger, memory)", backend)
	}
}
