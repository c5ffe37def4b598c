package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"media-vault/internal/cache"
	"media-vault/internal/cacheindex"
	"media-vault/internal/database"
	"media-vault/internal/eviction"
	"media-vault/internal/startup"
)

// defaultTimeout bounds every command.
const defaultTimeout = 5 * time.Minute

// session is the storage a command operates on, resolved from the same
// environment and config file as the server.
type session struct {
	cfg    *startup.Config
	db     *database.Database
	index  cache.Index
	closer io.Closer
}

func openSession(ctx context.Context) (*session, error) {
	cfg, err := startup.Load()
	if err != nil {
		return nil, err
	}
	if cfg.IndexBackend == cacheindex.BackendMemory {
		return nil, fmt.Errorf("the %s cache index only exists inside a running server", cfg.IndexBackend)
	}

	db, err := database.New(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database (DATABASE_DIR=%s): %w", cfg.DatabaseDir, err)
	}
	index, closer, err := cacheindex.Open(cfg.IndexBackend, cfg.BadgerDir, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open %s cache index: %w", cfg.IndexBackend, err)
	}
	return &session{cfg: cfg, db: db, index: index, closer: closer}, nil
}

func (s *session) Close() error {
	err := s.closer.Close()
	if dbErr := s.db.Close(); err == nil {
		err = dbErr
	}
	return err
}

// evictor builds a Manager over the session's cache directory. The CLI
// never owns a running job; in-flight renditions of a live server stay
// Pending and are skipped by cleanup.
func (s *session) evictor() *eviction.Manager {
	return eviction.New(s.index, idle{}, eviction.Config{
		Root:         s.cfg.TranscodeDir,
		MaxSizeBytes: s.cfg.CacheMaxSize,
		JobTimeout:   s.cfg.TranscodeTimeout,
	})
}

type idle struct{}

func (idle) IsActive(cache.Key) bool { return false }
