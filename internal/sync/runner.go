// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/repsync/internal/logging"
)

// Runner is the background drain loop, run under the supervisor tree. It
// drains the pending queue on a fixed interval and whenever kicked (queue
// append, realtime transport regaining connectivity, foreground resume),
// and runs reconciliation after any pass that leaves the queue empty.
type Runner struct {
	queue      *Queue
	reconciler *Reconciler
	interval   time.Duration

	kick chan struct{}
}

// NewRunner creates a Runner. interval is the periodic drain cadence.
func NewRunner(queue *Queue, reconciler *Reconciler, interval time.Duration) *Runner {
	return &Runner{
		queue:      queue,
		reconciler: reconciler,
		interval:   interval,
		kick:       make(chan struct{}, 1),
	}
}

// Kick requests an immediate drain pass. Non-blocking; a pending kick
// coalesces with later ones.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Serve runs the loop until ctx is canceled. Implements suture.Service.
func (r *Runner) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", r.interval).Msg("sync runner started")

	// Initial pass picks up anything queued before the last shutdown.
	r.pass(ctx)

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("sync runner stopping")
			return ctx.Err()
		case <-ticker.C:
			r.pass(ctx)
		case <-r.kick:
			r.pass(ctx)
		}
	}
}

func (r *Runner) pass(ctx context.Context) {
	if err := r.queue.Drain(ctx); err != nil {
		if errors.Is(err, ErrDrainInProgress) || errors.Is(err, context.Canceled) {
			return
		}
		if errors.Is(err, ErrSessionExpired) {
			logging.Warn().Msg("drain halted, authentication expired; waiting for new token")
			return
		}
		logging.Warn().Err(err).Msg("drain pass failed")
		return
	}

	depth, err := r.queue.Depth()
	if err != nil || depth > 0 {
		return
	}
	if err := r.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn().Err(err).Msg("reconciliation failed")
	}
}

// String names the service in supervisor logs.
func (r *Runner) String() string { return "sync-runner" }
