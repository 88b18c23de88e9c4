// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/metrics"
	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/store"
)

// ErrDrainInProgress is returned when Drain is called while another drain
// pass is still running.
var ErrDrainInProgress = errors.New("drain already in progress")

// Queue is the durable pending-operation queue. Operations are appended in
// user order and replayed in that order when connectivity allows; a drain
// pass never reorders what remains queued.
type Queue struct {
	store *store.Store
	api   API

	mu       sync.Mutex
	draining bool

	// onEmpty fires once after a drain pass that processed at least one
	// operation and left the queue empty.
	onEmpty func()
	// onLocalResolved fires when a replayed startSession resolves a local
	// sentinel to a server-issued session id.
	onLocalResolved func(localID, serverID string)
}

// NewQueue creates a Queue over the given store and API client.
func NewQueue(s *store.Store, api API) *Queue {
	return &Queue{store: s, api: api}
}

// OnEmpty registers the queue-drained callback.
func (q *Queue) OnEmpty(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEmpty = fn
}

// OnLocalResolved registers the sentinel-resolution callback.
func (q *Queue) OnLocalResolved(fn func(localID, serverID string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onLocalResolved = fn
}

// AddPending durably appends one operation. A startSession for a local
// session that already has one queued replaces the earlier entry instead of
// appending, so a session restarted offline is created on the server once.
func (q *Queue) AddPending(op models.PendingSyncOp) error {
	if err := op.Validate(); err != nil {
		return fmt.Errorf("add pending: %w", err)
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Timestamp == "" {
		op.Timestamp = models.NowLocalISO()
	}

	ops, err := q.store.MutatePendingOps(func(ops []models.PendingSyncOp) ([]models.PendingSyncOp, error) {
		if op.Type == models.OpStartSession && op.LocalSessionID != "" {
			for i := range ops {
				if ops[i].Type == models.OpStartSession && ops[i].LocalSessionID == op.LocalSessionID {
					ops[i] = op
					return ops, nil
				}
			}
		}
		return append(ops, op), nil
	})
	if err != nil {
		return err
	}

	metrics.UpdateQueueDepth(len(ops))
	logging.Debug().
		Str("type", string(op.Type)).
		Str("session", op.SessionRef()).
		Int("depth", len(ops)).
		Msg("pending operation queued")
	return nil
}

// Depth returns the number of queued operations.
func (q *Queue) Depth() (int, error) {
	ops, err := q.store.PendingOps()
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

// RemoveSessionOps drops every queued operation bound to sessionID,
// including its startSession. Used when a locally minted session is
// discarded before ever reaching the server.
func (q *Queue) RemoveSessionOps(sessionID string) error {
	ops, err := q.store.MutatePendingOps(func(ops []models.PendingSyncOp) ([]models.PendingSyncOp, error) {
		kept := ops[:0]
		for _, op := range ops {
			if op.SessionRef() == sessionID {
				continue
			}
			if op.Type == models.OpStartSession && op.LocalSessionID == sessionID {
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
	if err != nil {
		return err
	}
	metrics.UpdateQueueDepth(len(ops))
	return nil
}

// StripEndSession drops any queued endSession targeting sessionID. The
// session manager calls this when a session that only ever existed locally
// is ended: there is nothing on the server to end.
func (q *Queue) StripEndSession(sessionID string) error {
	ops, err := q.store.MutatePendingOps(func(ops []models.PendingSyncOp) ([]models.PendingSyncOp, error) {
		kept := ops[:0]
		for _, op := range ops {
			if op.Type == models.OpEndSession && op.SessionRef() == sessionID {
				metrics.RecordOp(string(op.Type), "dropped")
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
	if err != nil {
		return err
	}
	metrics.UpdateQueueDepth(len(ops))
	return nil
}

// CleanupInvalidSyncs prunes queued recordSet operations that the server
// would reject forever (non-positive weight or reps below one). Run once at
// startup so bad entries persisted by earlier builds don't cycle through
// every drain pass.
func (q *Queue) CleanupInvalidSyncs() (int, error) {
	dropped := 0
	ops, err := q.store.MutatePendingOps(func(ops []models.PendingSyncOp) ([]models.PendingSyncOp, error) {
		kept := ops[:0]
		for _, op := range ops {
			if op.Type == models.OpRecordSet && op.RecordSet != nil &&
				(op.RecordSet.Weight <= 0 || op.RecordSet.Reps < 1) {
				dropped++
				metrics.RecordOp(string(op.Type), "discarded")
				continue
			}
			kept = append(kept, op)
		}
		return kept, nil
	})
	if err != nil {
		return 0, err
	}
	metrics.UpdateQueueDepth(len(ops))
	if dropped > 0 {
		logging.Warn().Int("dropped", dropped).Msg("pruned invalid queued sets")
	}
	return dropped, nil
}

// Drain replays the queue against the server in order. One pass walks every
// queued operation exactly once; operations that fail transiently or still
// reference an unresolved local sentinel stay queued for the next pass.
// Drain is not re-entrant: a second caller gets ErrDrainInProgress.
//
// A session-expired rejection aborts the pass immediately with the queue
// persisted as-is, so nothing already replayed runs twice after the user
// re-authenticates.
func (q *Queue) Drain(ctx context.Context) error {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return ErrDrainInProgress
	}
	q.draining = true
	onEmpty := q.onEmpty
	onResolved := q.onLocalResolved
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.draining = false
		q.mu.Unlock()
	}()

	start := time.Now()
	ops, err := q.store.PendingOps()
	if err != nil {
		return fmt.Errorf("drain: read queue: %w", err)
	}
	if len(ops) == 0 {
		return nil
	}

	logging.Info().Int("depth", len(ops)).Msg("draining pending operations")

	var (
		remaining []models.PendingSyncOp
		processed int
		abortErr  error
		resolved  map[string]string
	)

	for i := 0; i < len(ops); i++ {
		op := ops[i]

		if abortErr != nil {
			remaining = append(remaining, op)
			continue
		}
		if err := ctx.Err(); err != nil {
			remaining = append(remaining, op)
			abortErr = err
			continue
		}

		switch op.Type {
		case models.OpStartSession:
			serverID, err := q.api.StartSession(ctx, *op.StartSession)
			switch {
			case err == nil:
				processed++
				metrics.RecordOp(string(op.Type), "synced")
				logging.Info().
					Str("local_id", op.LocalSessionID).
					Str("server_id", serverID).
					Msg("offline session created on server")
				// Translate the sentinel everywhere: ops not yet replayed,
				// ops already kept for the next pass, and live state via
				// the callback.
				for j := i + 1; j < len(ops); j++ {
					ops[j].RewriteSessionRef(op.LocalSessionID, serverID)
				}
				for j := range remaining {
					remaining[j].RewriteSessionRef(op.LocalSessionID, serverID)
				}
				if resolved == nil {
					resolved = make(map[string]string)
				}
				resolved[op.LocalSessionID] = serverID
				if onResolved != nil {
					onResolved(op.LocalSessionID, serverID)
				}
			case errors.Is(err, ErrSessionExpired):
				remaining = append(remaining, op)
				abortErr = err
			default:
				metrics.RecordOp(string(op.Type), "deferred")
				logging.Warn().Err(err).
					Str("local_id", op.LocalSessionID).
					Msg("startSession replay failed, keeping queued")
				remaining = append(remaining, op)
			}

		case models.OpRecordSet:
			data := *op.RecordSet
			if data.Weight <= 0 || data.Reps < 1 {
				// Invalid on the server's terms; replaying it would be
				// rejected forever.
				processed++
				metrics.RecordOp(string(op.Type), "discarded")
				logging.Warn().
					Str("exercise", data.ExerciseName).
					Float64("weight", data.Weight).
					Int("reps", data.Reps).
					Msg("discarding invalid queued set")
				continue
			}
			if models.IsLocalSessionID(data.SessionID) {
				// Owning startSession has not been replayed yet.
				remaining = append(remaining, op)
				continue
			}
			_, err := q.api.RecordSet(ctx, data.SessionID, data)
			switch {
			case err == nil:
				processed++
				metrics.RecordOp(string(op.Type), "synced")
			case errors.Is(err, ErrSessionExpired):
				remaining = append(remaining, op)
				abortErr = err
			case isTerminal(err):
				processed++
				metrics.RecordOp(string(op.Type), "dropped")
				logging.Warn().Err(err).
					Str("session", data.SessionID).
					Str("exercise", data.ExerciseName).
					Msg("server rejected queued set, dropping")
			default:
				metrics.RecordOp(string(op.Type), "deferred")
				remaining = append(remaining, op)
			}

		case models.OpEndSession:
			data := *op.EndSession
			if models.IsLocalSessionID(data.SessionID) {
				remaining = append(remaining, op)
				continue
			}
			err := q.api.EndSession(ctx, data.SessionID, data)
			switch {
			case err == nil:
				processed++
				metrics.RecordOp(string(op.Type), "synced")
			case errors.Is(err, ErrSessionExpired):
				remaining = append(remaining, op)
				abortErr = err
			case isTerminal(err):
				// Already ended or gone on the server; nothing to retry.
				processed++
				metrics.RecordOp(string(op.Type), "dropped")
				logging.Info().Err(err).
					Str("session", data.SessionID).
					Msg("endSession no longer applies, dropping")
			default:
				metrics.RecordOp(string(op.Type), "deferred")
				remaining = append(remaining, op)
			}

		default:
			// Unknown op type, likely from a newer build. Drop rather than
			// wedge the queue.
			metrics.RecordOp(string(op.Type), "dropped")
			logging.Error().Str("type", string(op.Type)).Msg("dropping unknown pending op")
		}
	}

	// Persist by removing exactly the entries this pass replayed. The
	// queue may have grown while the pass performed network I/O; those
	// appends stay, with any sentinel the pass resolved translated.
	snapshot := make(map[string]bool, len(ops))
	for _, op := range ops {
		snapshot[op.ID] = true
	}
	kept := make(map[string]models.PendingSyncOp, len(remaining))
	for _, op := range remaining {
		kept[op.ID] = op
	}
	persisted, err := q.store.MutatePendingOps(func(current []models.PendingSyncOp) ([]models.PendingSyncOp, error) {
		out := current[:0]
		for _, op := range current {
			if !snapshot[op.ID] {
				for local, server := range resolved {
					op.RewriteSessionRef(local, server)
				}
				out = append(out, op)
				continue
			}
			if rewritten, ok := kept[op.ID]; ok {
				out = append(out, rewritten)
			}
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("drain: persist queue: %w", err)
	}
	metrics.UpdateQueueDepth(len(persisted))
	metrics.SyncDrainDuration.Observe(time.Since(start).Seconds())

	logging.Info().
		Int("processed", processed).
		Int("remaining", len(persisted)).
		Dur("elapsed", time.Since(start)).
		Msg("drain pass complete")

	if abortErr != nil {
		return fmt.Errorf("drain aborted: %w", abortErr)
	}
	if processed > 0 && len(persisted) == 0 && onEmpty != nil {
		onEmpty()
	}
	return nil
}
