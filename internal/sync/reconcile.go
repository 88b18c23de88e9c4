// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/metrics"
	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/store"
)

// ErrQueueNotEmpty is returned when reconciliation is requested while
// pending operations are still queued.
var ErrQueueNotEmpty = errors.New("pending operations still queued")

// Reconciler rebuilds the completed-days view from server session history.
// It runs only when the pending queue is empty, so everything the user did
// locally has either reached the server or been durably kept for retry.
//
// Per-day rules:
//   - A day with an unlocked override keeps its local state untouched;
//     server history for that day is not applied.
//   - A day with an ended server session is locked, unless overridden.
//   - Where both sides hold a record for the same (day, exercise, set)
//     slot, the record with the later end time wins; ties go to the server.
//   - Locally written records with no server counterpart survive only if
//     they belong to the session currently in progress. Older unmatched
//     local records were either synced under a different slot or rejected,
//     and the server view is authoritative for finished history.
//
// The merged view, the locked-days map, and the merged program are
// published in one store transaction.
type Reconciler struct {
	store        *store.Store
	api          API
	person       string
	historyLimit int
}

// NewReconciler creates a Reconciler for the given profile.
func NewReconciler(s *store.Store, api API, person string, historyLimit int) *Reconciler {
	return &Reconciler{store: s, api: api, person: person, historyLimit: historyLimit}
}

// Run performs one reconciliation pass. Any server fetch failure aborts the
// pass before local state is touched.
func (r *Reconciler) Run(ctx context.Context) error {
	pending, err := r.store.PendingOps()
	if err != nil {
		return fmt.Errorf("reconcile: read queue: %w", err)
	}
	if len(pending) > 0 {
		metrics.ReconciliationRuns.WithLabelValues("skipped").Inc()
		logging.Debug().Int("depth", len(pending)).Msg("reconciliation skipped, queue not empty")
		return fmt.Errorf("reconcile: %w", ErrQueueNotEmpty)
	}

	start := time.Now()

	sessions, err := r.api.Sessions(ctx, models.SessionQuery{
		Person:         r.person,
		Limit:          r.historyLimit,
		IncludeTimings: true,
	})
	if err != nil {
		metrics.ReconciliationRuns.WithLabelValues("aborted").Inc()
		return fmt.Errorf("reconcile: fetch sessions: %w", err)
	}
	serverProgram, err := r.api.Program(ctx)
	if err != nil {
		metrics.ReconciliationRuns.WithLabelValues("aborted").Inc()
		return fmt.Errorf("reconcile: fetch program: %w", err)
	}

	localView, err := r.store.CompletedDays()
	if err != nil {
		return fmt.Errorf("reconcile: read completed view: %w", err)
	}
	localLocked, err := r.store.LockedDays()
	if err != nil {
		return fmt.Errorf("reconcile: read locked days: %w", err)
	}
	overrides, err := r.store.UnlockedOverrides()
	if err != nil {
		return fmt.Errorf("reconcile: read overrides: %w", err)
	}
	localProgram, err := r.store.Program()
	if err != nil {
		return fmt.Errorf("reconcile: read program: %w", err)
	}
	active, err := r.store.ActiveSession()
	if err != nil && !errors.Is(err, store.ErrNoActiveSession) {
		return fmt.Errorf("reconcile: read active session: %w", err)
	}

	program := models.MergePrograms(localProgram, serverProgram)
	resolver := newIndexResolver(program, r.person)

	view := models.CompletedDays{}
	locked := map[int]bool{}

	// Server history first. Overridden days are suppressed entirely.
	for _, sess := range sessions {
		if sess.Person != r.person {
			continue
		}
		day := sess.DayNumber
		if overrides[day] {
			continue
		}
		if sess.EndTime != "" {
			locked[day] = true
		}
		for _, t := range sess.SetTimings {
			t.Source = models.SourceServer
			idx := resolver.resolve(day, t.ExerciseName)
			if existing, ok := view.Get(day, idx, t.SetIndex); ok {
				t = models.MergeTimings(existing, t)
			}
			view.Put(day, idx, t.SetIndex, t)
		}
	}

	// Locally held days and records second.
	var activeStart time.Time
	if active != nil {
		activeStart = models.ParseISO(active.StartTime)
	}
	for day, exercises := range localView {
		if overrides[day] {
			// Override: local state for the day is kept verbatim.
			for ex, sets := range exercises {
				for idx, t := range sets {
					view.Put(day, ex, idx, t)
				}
			}
			continue
		}
		for ex, sets := range exercises {
			for idx, t := range sets {
				server, ok := view.Get(day, ex, idx)
				if ok {
					view.Put(day, ex, idx, models.MergeTimings(t, server))
					continue
				}
				if t.Source != models.SourceLocal {
					continue
				}
				if active != nil && day == active.DayNumber && !models.ParseISO(t.EndTime).Before(activeStart) {
					// In-progress work the server has not seen yet.
					view.Put(day, ex, idx, t)
				}
			}
		}
	}

	// Locally locked days stay locked unless overridden.
	for day, isLocked := range localLocked {
		if isLocked && !overrides[day] {
			locked[day] = true
		}
	}

	if err := r.store.PublishReconciled(view, locked, program); err != nil {
		return fmt.Errorf("reconcile: publish: %w", err)
	}

	metrics.ReconciliationRuns.WithLabelValues("ok").Inc()
	logging.Info().
		Int("sessions", len(sessions)).
		Int("days", len(view)).
		Int("locked", len(locked)).
		Dur("elapsed", time.Since(start)).
		Msg("reconciliation complete")
	return nil
}

// indexResolver maps exercise names to stable per-day indexes. Names present
// in the program resolve to their positional index within the person's
// filtered list; unknown names (exercises since removed or renamed on the
// server) are appended after the program's list in order of first
// appearance, so their records still land somewhere stable instead of
// colliding with slot zero.
type indexResolver struct {
	program models.Program
	person  string
	extra   map[int]map[string]int
}

func newIndexResolver(p models.Program, person string) *indexResolver {
	return &indexResolver{program: p, person: person, extra: map[int]map[string]int{}}
}

func (r *indexResolver) resolve(day int, name string) int {
	if idx, ok := r.program.IndexByName(day, r.person, name); ok {
		return idx
	}
	norm := models.NormalizeExerciseName(name)
	dayExtra, ok := r.extra[day]
	if !ok {
		dayExtra = map[string]int{}
		r.extra[day] = dayExtra
	}
	if idx, ok := dayExtra[norm]; ok {
		return idx
	}
	base := 0
	if d, ok := r.program.Day(day); ok {
		base = len(d.ExercisesFor(r.person))
	}
	idx := base + len(dayExtra)
	dayExtra[norm] = idx
	logging.Warn().
		Int("day", day).
		Str("exercise", name).
		Int("index", idx).
		Msg("exercise not in program, assigned overflow index")
	return idx
}
