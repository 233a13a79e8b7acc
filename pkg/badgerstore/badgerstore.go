// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package badgerstore persists JSON snapshots in an embedded BadgerDB.
//
// # Description
//
// Proof histories are small JSON documents written on every autosave and
// read back on session restore. BadgerDB gives durable local persistence
// with no external service. Keys are namespaced by a caller-chosen prefix
// so several snapshot families can share one database.
package badgerstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// ErrNotFound is returned by Get when no snapshot exists for a key.
var ErrNotFound = errors.New("badgerstore: key not found")

// Config controls how the underlying database is opened.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory opens a non-persistent database for tests.
	InMemory bool

	// SyncWrites forces an fsync per write. On by default for snapshots;
	// losing an autosave to a crash defeats the point of autosaving.
	SyncWrites bool

	// GCInterval is how often value log garbage collection runs.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum discardable fraction before a GC
	// pass rewrites a value log file.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal log lines. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns durable on-disk settings with periodic GC.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns settings for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a JSON snapshot store over one BadgerDB instance.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens (creating if needed) a snapshot store.
//
// # Inputs
//
//	cfg - Database settings. Path is required unless InMemory is set.
//
// # Outputs
//
//	*Store - The opened store. Caller must Close() it.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.gcLoop(cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}
	return s, nil
}

func (s *Store) gcLoop(interval time.Duration, ratio float64, logger *slog.Logger) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// RunValueLogGC returns ErrNoRewrite when there is not
			// enough garbage; that is the common, quiet case.
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("Badger value log GC failed", "error", err)
			}
		}
	}
}

// Put marshals v and stores it under prefix/key.
func (s *Store) Put(prefix, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal snapshot %s/%s: %w", prefix, key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(prefix, key), raw)
	})
	if err != nil {
		return fmt.Errorf("put snapshot %s/%s: %w", prefix, key, err)
	}
	return nil
}

// Get loads the snapshot under prefix/key into v. Returns ErrNotFound when
// no snapshot exists.
func (s *Store) Get(prefix, key string, v any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(prefix, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("get snapshot %s/%s: %w", prefix, key, err)
	}
	return err
}

// Delete removes the snapshot under prefix/key. Deleting a missing key is
// not an error.
func (s *Store) Delete(prefix, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(prefix, key))
	})
	if err != nil {
		return fmt.Errorf("delete snapshot %s/%s: %w", prefix, key, err)
	}
	return nil
}

// Keys lists every key stored under prefix, in lexical order.
func (s *Store) Keys(prefix string) ([]string, error) {
	var keys []string
	p := storeKey(prefix, "")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = p
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, string(it.Item().Key()[len(p):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots %s: %w", prefix, err)
	}
	return keys, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func storeKey(prefix, key string) []byte {
	return []byte(prefix + "/" + key)
}
