// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config holds configuration for the snapshot database.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string `yaml:"path"`

	// InMemory keeps everything in RAM. Tests use it.
	InMemory bool `yaml:"in_memory"`

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool `yaml:"sync_writes"`

	// GCInterval is the value log GC period; zero disables GC.
	GCInterval time.Duration `yaml:"gc_interval"`

	// GCDiscardRatio is the garbage ratio that triggers a rewrite.
	GCDiscardRatio float64 `yaml:"gc_discard_ratio" validate:"gte=0,lte=1"`

	// Logger receives badger's own messages. Nil silences them.
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration for an on-disk cache at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration without disk I/O or GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is a badger database with an optional value log GC loop.
type DB struct {
	*badger.DB
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	inMemory bool
}

// Open opens the database described by cfg.
//
// Description:
//
//	Creates the directory when needed and starts the GC loop when
//	GCInterval is positive and the database is on disk.
//
// Outputs:
//
//	*DB - The database. Callers must Close it.
//	error - ErrPathRequired, or a wrapped badger error.
//
// Thread Safety: The returned DB is safe for concurrent use.
func Open(cfg Config) (*DB, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, ErrPathRequired
	default:
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	db := &DB{DB: bdb, inMemory: cfg.InMemory}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio > 1 {
			cfg.GCDiscardRatio = 0.5
		}
		db.stop = make(chan struct{})
		db.done = make(chan struct{})
		go db.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return db, nil
}

func (d *DB) gcLoop(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(d.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite only means there was nothing to collect
			err := d.DB.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("snapshot value log GC failed", slog.String("error", err.Error()))
			}
		}
	}
}

// InMemory reports whether the database lives in RAM only.
func (d *DB) InMemory() bool { return d.inMemory }

// Close stops the GC loop and closes the database. Only the first call
// closes.
func (d *DB) Close() error {
	var err error
	d.once.Do(func() {
		if d.stop != nil {
			close(d.stop)
			<-d.done
		}
		err = d.DB.Close()
	})
	return err
}

// update runs fn in a read-write transaction and commits on success.
func (d *DB) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(true)
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// view runs fn in a read-only transaction.
func (d *DB) view(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	txn := d.DB.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}
