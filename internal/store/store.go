// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package store persists the sync core's durable state in BadgerDB, keyed
// per user: the pending operation queue, the completed-days view, the
// locked-days map, the unlocked-overrides set, the active session record,
// and the cached program definition.
//
// Every mutation is a single Badger transaction that reads the latest
// persisted value, applies a mutator function, and writes the result back.
// A crash between steps loses at most the in-flight mutation, never prior
// state. Reconciliation output is written through PublishReconciled so the
// completed view, the locked map, and the program land atomically.
package store

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/models"
)

// Key suffixes under the per-user prefix u:<id>:.
const (
	keyPending   = "pending"
	keyCompleted = "completed"
	keyLocked    = "locked"
	keyUnlocked  = "unlocked"
	keyActive    = "active"
	keyProgram   = "program"
)

// Errors.
var (
	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
	// ErrNoActiveSession is returned by ActiveSession when none is set.
	ErrNoActiveSession = errors.New("no active session")
)

// Config holds store configuration.
type Config struct {
	// Path is the BadgerDB directory.
	Path string
	// SyncWrites forces fsync on every write.
	SyncWrites bool
	// InMemory runs Badger without disk persistence. Tests only.
	InMemory bool
}

// Store is a per-user durable key-value store. closed is atomic: the
// supervisor shuts the store down while facade handlers may still be
// serving reads.
type Store struct {
	db     *badger.DB
	userID string
	closed atomic.Bool
}

// Open opens (or creates) the BadgerDB at cfg.Path, bound to userID.
func Open(cfg Config, userID string) (*Store, error) {
	if userID == "" {
		return nil, fmt.Errorf("store requires a user id")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts.SyncWrites = cfg.SyncWrites
	opts.InMemory = cfg.InMemory
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}

	logging.Info().
		Str("path", cfg.Path).
		Bool("sync_writes", cfg.SyncWrites).
		Msg("store opened")

	return &Store{db: db, userID: userID}, nil
}

// Close shuts down BadgerDB. Further calls on the store fail with
// ErrStoreClosed.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("store closed")
	return nil
}

// RunGC triggers Badger value-log garbage collection until no more space can
// be reclaimed.
func (s *Store) RunGC() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	for {
		err := s.db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("badger GC: %w", err)
		}
	}
}

func (s *Store) key(suffix string) []byte {
	return []byte("u:" + s.userID + ":" + suffix)
}

// getJSON reads and decodes one key inside a View transaction. Missing keys
// leave v untouched and return found=false.
func (s *Store) getJSON(suffix string, v any) (bool, error) {
	if s.closed.Load() {
		return false, ErrStoreClosed
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(suffix))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", suffix, err)
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	return found, err
}

// setJSONTxn encodes and writes one key inside an existing transaction.
func (s *Store) setJSONTxn(txn *badger.Txn, suffix string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", suffix, err)
	}
	if err := txn.Set(s.key(suffix), data); err != nil {
		return fmt.Errorf("set %s: %w", suffix, err)
	}
	return nil
}

// mutateJSON performs a read-modify-write of one key in a single Update
// transaction. The mutator receives the decoded current value (or the zero
// value if absent) and returns the value to persist.
func mutateJSON[T any](s *Store, suffix string, fn func(T) (T, error)) (T, error) {
	var out T
	if s.closed.Load() {
		return out, ErrStoreClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var cur T
		item, err := txn.Get(s.key(suffix))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// keep zero value
		case err != nil:
			return fmt.Errorf("get %s: %w", suffix, err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &cur)
			}); err != nil {
				return fmt.Errorf("unmarshal %s: %w", suffix, err)
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		out = next
		return s.setJSONTxn(txn, suffix, next)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// PendingOps returns the queued pending operations in order.
func (s *Store) PendingOps() ([]models.PendingSyncOp, error) {
	var ops []models.PendingSyncOp
	if _, err := s.getJSON(keyPending, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// MutatePendingOps atomically rewrites the queue through fn.
func (s *Store) MutatePendingOps(fn func([]models.PendingSyncOp) ([]models.PendingSyncOp, error)) ([]models.PendingSyncOp, error) {
	return mutateJSON(s, keyPending, fn)
}

// CompletedDays returns the persisted completed-days view.
func (s *Store) CompletedDays() (models.CompletedDays, error) {
	view := models.CompletedDays{}
	if _, err := s.getJSON(keyCompleted, &view); err != nil {
		return nil, err
	}
	return view, nil
}

// MutateCompletedDays atomically rewrites the completed-days view through
// fn. The mutator receives a decoded copy; returning it persists the result.
func (s *Store) MutateCompletedDays(fn func(models.CompletedDays) (models.CompletedDays, error)) (models.CompletedDays, error) {
	return mutateJSON(s, keyCompleted, func(view models.CompletedDays) (models.CompletedDays, error) {
		if view == nil {
			view = models.CompletedDays{}
		}
		return fn(view)
	})
}

// LockedDays returns the locked-days map.
func (s *Store) LockedDays() (map[int]bool, error) {
	m := map[int]bool{}
	if _, err := s.getJSON(keyLocked, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MutateLockedDays atomically rewrites the locked-days map through fn.
func (s *Store) MutateLockedDays(fn func(map[int]bool) (map[int]bool, error)) (map[int]bool, error) {
	return mutateJSON(s, keyLocked, func(m map[int]bool) (map[int]bool, error) {
		if m == nil {
			m = map[int]bool{}
		}
		return fn(m)
	})
}

// UnlockedOverrides returns the set of days with an unlocked override.
func (s *Store) UnlockedOverrides() (map[int]bool, error) {
	m := map[int]bool{}
	if _, err := s.getJSON(keyUnlocked, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// MutateUnlockedOverrides atomically rewrites the override set through fn.
func (s *Store) MutateUnlockedOverrides(fn func(map[int]bool) (map[int]bool, error)) (map[int]bool, error) {
	return mutateJSON(s, keyUnlocked, func(m map[int]bool) (map[int]bool, error) {
		if m == nil {
			m = map[int]bool{}
		}
		return fn(m)
	})
}

// ActiveSession returns the persisted active session record, or
// ErrNoActiveSession.
func (s *Store) ActiveSession() (*models.ActiveSession, error) {
	var a models.ActiveSession
	found, err := s.getJSON(keyActive, &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoActiveSession
	}
	return &a, nil
}

// SetActiveSession persists the active session record.
func (s *Store) SetActiveSession(a models.ActiveSession) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return s.setJSONTxn(txn, keyActive, a)
	})
}

// ClearActiveSession removes the active session record.
func (s *Store) ClearActiveSession() error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(s.key(keyActive))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

// Program returns the cached program definition.
func (s *Store) Program() (models.Program, error) {
	var p models.Program
	if _, err := s.getJSON(keyProgram, &p); err != nil {
		return models.Program{}, err
	}
	return p, nil
}

// SetProgram persists the program definition.
func (s *Store) SetProgram(p models.Program) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return s.setJSONTxn(txn, keyProgram, p)
	})
}

// PublishReconciled writes the reconciled completed-days view, locked-days
// map, and merged program in one transaction. Either all three land or none
// do; a partial, inconsistent merge is never persisted.
func (s *Store) PublishReconciled(view models.CompletedDays, locked map[int]bool, program models.Program) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	start := time.Now()
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.setJSONTxn(txn, keyCompleted, view); err != nil {
			return err
		}
		if err := s.setJSONTxn(txn, keyLocked, locked); err != nil {
			return err
		}
		return s.setJSONTxn(txn, keyProgram, program)
	})
	if err != nil {
		return err
	}
	logging.Debug().
		Dur("elapsed", time.Since(start)).
		Int("days", len(view)).
		Msg("reconciled state published")
	return nil
}
