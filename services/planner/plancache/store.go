// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package plancache stores sequenced plans in BadgerDB, keyed by the fact
// set and the goals they were planned for.
//
// Entries carry the nominal action sequence and the search statistics, not
// the policy graph. A hit answers a repeated request without a new search;
// callers that need the contingency graph plan again.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package plancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/facts"
	"github.com/AleutianAI/AleutianHTN/services/planner/htn"
	"github.com/AleutianAI/AleutianHTN/services/planner/policy"
)

// keyPrefix namespaces plan entries inside the database.
const keyPrefix = "plan/"

// Package-level error definitions.
var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("plan cache closed")

	// ErrInvalidConfig indicates an unusable cache configuration.
	ErrInvalidConfig = errors.New("invalid plan cache config")
)

// Config holds configuration for a plan cache.
type Config struct {
	// Dir is the directory for BadgerDB files. Ignored when InMemory is true.
	Dir string

	// InMemory keeps the cache in RAM only.
	InMemory bool

	// TTL expires entries. Zero keeps them until deleted.
	TTL time.Duration

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often value log GC runs. Zero disables it.
	GCInterval time.Duration

	// Logger receives BadgerDB's internal logs. Nil silences them.
	Logger *slog.Logger
}

// DefaultConfig returns an on-disk configuration rooted at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:        dir,
		TTL:        10 * time.Minute,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true, TTL: 10 * time.Minute}
}

// Entry is one cached plan.
type Entry struct {
	ID       string          `json:"id"`
	Found    bool            `json:"found"`
	Tasks    []domain.Task   `json:"tasks"`
	Actions  []policy.Action `json:"actions"`
	Stats    htn.Stats       `json:"stats"`
	CachedAt time.Time       `json:"cached_at"`
}

// FromResult captures the cacheable part of a planning result.
func FromResult(res *htn.Result) Entry {
	return Entry{
		ID:       res.ID,
		Found:    res.Found,
		Tasks:    append([]domain.Task(nil), res.Tasks...),
		Actions:  append([]policy.Action(nil), res.Actions...),
		Stats:    res.Stats,
		CachedAt: time.Now().UTC(),
	}
}

// Key derives the cache key of a request.
//
// Description:
//
//	SHA-256 over the canonical fact set followed by the goal names in the
//	given order. Equal fact sets hash equally regardless of atom order.
func Key(st *facts.State, goals ...string) string {
	h := sha256.New()
	h.Write([]byte(st.Canonical()))
	for _, g := range goals {
		h.Write([]byte{0})
		h.Write([]byte(g))
	}
	return hex.EncodeToString(h.Sum(nil))
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

// Store is a BadgerDB-backed plan cache.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	ttl    time.Duration
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens a plan cache.
//
// Outputs:
//   - *Store: The cache. Caller must call Close.
//   - error: ErrInvalidConfig, or a database open error.
func Open(cfg Config) (*Store, error) {
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("%w: negative ttl", ErrInvalidConfig)
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, fmt.Errorf("%w: dir is required for an on-disk cache", ErrInvalidConfig)
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With(slog.String("component", "plancache"))})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open plan cache: %w", err)
	}
	s := &Store{db: db, ttl: cfg.TTL}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.Logger)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration, logger *slog.Logger) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing was worth collecting.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) && logger != nil {
				logger.Warn("plan cache value log GC error", slog.String("error", err.Error()))
			}
		}
	}
}

// Get returns the entry stored under key.
//
// Outputs:
//   - *Entry: The entry, nil on a miss.
//   - bool: True on a hit.
//   - error: Context, decoding or database errors.
func (s *Store) Get(ctx context.Context, key string) (*Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	var entry Entry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		})
	})
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		missesTotal.Inc()
		return nil, false, nil
	case errors.Is(err, badger.ErrDBClosed):
		return nil, false, ErrClosed
	case err != nil:
		return nil, false, fmt.Errorf("read plan %s: %w", key, err)
	}
	hitsTotal.Inc()
	return &entry, true, nil
}

// Put stores entry under key with the configured TTL.
func (s *Store) Put(ctx context.Context, key string, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), val)
		if s.ttl > 0 {
			e = e.WithTTL(s.ttl)
		}
		return txn.SetEntry(e)
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	if err != nil {
		return fmt.Errorf("write plan %s: %w", key, err)
	}
	writesTotal.Inc()
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + key))
	})
	if errors.Is(err, badger.ErrDBClosed) {
		return ErrClosed
	}
	return err
}

// Len counts the live entries.
func (s *Store) Len() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
		s.stopGC = nil
	}
	return s.db.Close()
}
