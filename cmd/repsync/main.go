// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package main is the entry point for the RepSync sync core daemon.
//
// RepSync keeps a user's workout data convergent between the device and the
// training server. The UI layer talks to the daemon over a loopback HTTP
// facade; the daemon owns the local BadgerDB store, the pending operation
// queue, the websocket connection, and server reconciliation.
//
// The daemon initializes in this order:
//
//  1. Configuration: Koanf v2 layered sources (defaults, config.yaml,
//     REPSYNC_* environment variables)
//  2. Store: BadgerDB keyed per user
//  3. Sync: REST client, pending queue, reconciler, drain runner
//  4. Realtime: websocket transport with exponential reconnect
//  5. Joint: live-training coordinator fed by the transport
//  6. Facade: loopback chi HTTP server for the UI
//
// Everything runs under a suture supervisor tree and shuts down gracefully
// on SIGINT and SIGTERM.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/repsync/internal/api"
	"github.com/tomtom215/repsync/internal/config"
	"github.com/tomtom215/repsync/internal/joint"
	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/realtime"
	"github.com/tomtom215/repsync/internal/session"
	"github.com/tomtom215/repsync/internal/store"
	"github.com/tomtom215/repsync/internal/supervisor"
	"github.com/tomtom215/repsync/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "repsync: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	logging.Info().
		Str("user", cfg.User.Username).
		Str("person", cfg.User.Person).
		Msg("repsync starting")

	st, err := store.Open(store.Config{
		Path:       cfg.Storage.Path,
		SyncWrites: cfg.Storage.SyncWrites,
	}, cfg.User.ID)
	if err != nil {
		return err
	}
	defer st.Close()

	client := sync.NewClient(cfg.Server, cfg.User.Token)
	queue := sync.NewQueue(st, client)
	if _, err := queue.CleanupInvalidSyncs(); err != nil {
		return err
	}

	advisory := client.Advisory()
	queue.OnEmpty(func() {
		advisory.RefreshAnalytics(context.Background())
	})

	reconciler := sync.NewReconciler(st, client, cfg.User.Person, cfg.Sync.HistoryLimit)
	runner := sync.NewRunner(queue, reconciler, cfg.Sync.DrainInterval)

	manager := session.NewManager(st, client, queue, cfg.User.Person, cfg.Sync.PostEndDrainDelay)
	manager.SetKick(runner.Kick)

	transport := realtime.NewTransport(cfg.Realtime, cfg.User.Token)

	coord := joint.NewCoordinator(cfg.User.ID, cfg.User.Username, transport, client, cfg.Joint.SyncPulseDuration)
	coord.SetSoloActive(func() bool {
		active, err := manager.Active()
		return err == nil && active != nil
	})
	coord.SetExerciseNames(func() []string {
		active, err := manager.Active()
		if err != nil || active == nil {
			return nil
		}
		program, err := st.Program()
		if err != nil {
			return nil
		}
		return program.ExerciseNamesFor(active.DayNumber, cfg.User.Person)
	})
	manager.OnWorkoutEnded(coord.OnSoloSessionEnded)

	facade := api.NewServer(cfg.API, manager, coord, transport, st, client, queue, runner.Kick)
	facade.SetAdvisory(advisory)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddDataService(supervisor.NewStoreGCService(st, cfg.Storage.GCInterval))
	if cfg.Realtime.Enabled {
		tree.AddMessagingService(transport)
		tree.AddMessagingService(supervisor.NewJointPumpService(coord, transport.Messages()))
		tree.AddMessagingService(supervisor.NewEdgeDrainService(transport.ConnectedEdge(), runner.Kick))
	}
	tree.AddMessagingService(runner)
	tree.AddAPIService(facade)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = tree.Serve(ctx)
	if ctx.Err() != nil {
		logging.Info().Msg("repsync stopped")
		return nil
	}
	return err
}
