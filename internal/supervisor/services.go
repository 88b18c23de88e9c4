// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package supervisor

import (
	"context"
	"time"

	"github.com/tomtom215/repsync/internal/joint"
	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/store"
)

// StoreGCService runs periodic Badger value-log garbage collection.
type StoreGCService struct {
	store    *store.Store
	interval time.Duration
}

// NewStoreGCService creates the GC service.
func NewStoreGCService(s *store.Store, interval time.Duration) *StoreGCService {
	return &StoreGCService{store: s, interval: interval}
}

// Serve implements suture.Service.
func (s *StoreGCService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunGC(); err != nil {
				logging.Warn().Err(err).Msg("store GC failed")
			}
		}
	}
}

func (s *StoreGCService) String() string { return "store-gc" }

// JointPumpService feeds realtime messages into the joint coordinator.
type JointPumpService struct {
	coord    *joint.Coordinator
	messages <-chan models.Message
}

// NewJointPumpService creates the pump.
func NewJointPumpService(coord *joint.Coordinator, messages <-chan models.Message) *JointPumpService {
	return &JointPumpService{coord: coord, messages: messages}
}

// Serve implements suture.Service.
func (s *JointPumpService) Serve(ctx context.Context) error {
	return s.coord.Run(ctx, s.messages)
}

func (s *JointPumpService) String() string { return "joint-pump" }

// EdgeDrainService kicks the sync runner whenever the realtime transport
// regains its connection, so queued work syncs the moment connectivity
// returns instead of waiting out the drain interval.
type EdgeDrainService struct {
	edge <-chan struct{}
	kick func()
}

// NewEdgeDrainService creates the edge watcher.
func NewEdgeDrainService(edge <-chan struct{}, kick func()) *EdgeDrainService {
	return &EdgeDrainService{edge: edge, kick: kick}
}

// Serve implements suture.Service.
func (s *EdgeDrainService) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.edge:
			logging.Debug().Msg("realtime connected, kicking drain")
			s.kick()
		}
	}
}

func (s *EdgeDrainService) String() string { return "edge-drain" }
