// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/store"
)

// fakeAPI implements API with overridable function fields.
type fakeAPI struct {
	startSession func(models.StartSessionData) (string, error)
	recordSet    func(string, models.RecordSetData) (*models.SetTiming, error)
	endSession   func(string, models.EndSessionData) error
	sessions     func(models.SessionQuery) ([]models.SessionDetail, error)
	program      func() (models.Program, error)
}

func (f *fakeAPI) StartSession(_ context.Context, d models.StartSessionData) (string, error) {
	if f.startSession == nil {
		return "", errors.New("unexpected StartSession")
	}
	return f.startSession(d)
}

func (f *fakeAPI) RecordSet(_ context.Context, id string, d models.RecordSetData) (*models.SetTiming, error) {
	if f.recordSet == nil {
		return nil, errors.New("unexpected RecordSet")
	}
	return f.recordSet(id, d)
}

func (f *fakeAPI) EndSession(_ context.Context, id string, d models.EndSessionData) error {
	if f.endSession == nil {
		return errors.New("unexpected EndSession")
	}
	return f.endSession(id, d)
}

func (f *fakeAPI) Sessions(_ context.Context, q models.SessionQuery) ([]models.SessionDetail, error) {
	if f.sessions == nil {
		return nil, errors.New("unexpected Sessions")
	}
	return f.sessions(q)
}

func (f *fakeAPI) SessionDetail(_ context.Context, id string) (*models.SessionDetail, error) {
	return nil, errors.New("unexpected SessionDetail")
}

func (f *fakeAPI) Program(_ context.Context) (models.Program, error) {
	if f.program == nil {
		return models.Program{}, errors.New("unexpected Program")
	}
	return f.program()
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Config{InMemory: true}, "user-1")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func startOp(localID string, day int) models.PendingSyncOp {
	return models.PendingSyncOp{
		Type:           models.OpStartSession,
		LocalSessionID: localID,
		StartSession: &models.StartSessionData{
			Person:    "alex",
			DayNumber: day,
			StartTime: "2026-08-29T10:00:00+02:00",
		},
	}
}

func setOp(sessionID string, setIndex int, weight float64, reps int) models.PendingSyncOp {
	return models.PendingSyncOp{
		Type: models.OpRecordSet,
		RecordSet: &models.RecordSetData{
			SessionID:    sessionID,
			DayNumber:    1,
			ExerciseName: "Bench Press",
			SetIndex:     setIndex,
			EndTime:      "2026-08-29T10:05:00+02:00",
			Weight:       weight,
			Reps:         reps,
		},
	}
}

func endOp(sessionID string) models.PendingSyncOp {
	return models.PendingSyncOp{
		Type: models.OpEndSession,
		EndSession: &models.EndSessionData{
			SessionID: sessionID,
			EndTime:   "2026-08-29T11:00:00+02:00",
		},
	}
}

func TestAddPendingReplacesDuplicateStart(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, &fakeAPI{})

	first := startOp("local_1_a", 1)
	second := startOp("local_1_a", 2)
	if err := q.AddPending(first); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(second); err != nil {
		t.Fatal(err)
	}

	ops, err := s.PendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(ops))
	}
	if ops[0].StartSession.DayNumber != 2 {
		t.Errorf("kept day = %d, want the replacement's 2", ops[0].StartSession.DayNumber)
	}
}

func TestAddPendingRejectsMismatchedPayload(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, &fakeAPI{})
	err := q.AddPending(models.PendingSyncOp{Type: models.OpRecordSet})
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDrainTranslatesLocalSessionID(t *testing.T) {
	s := openTestStore(t)

	var recorded []string
	var ended []string
	api := &fakeAPI{
		startSession: func(models.StartSessionData) (string, error) { return "srv-101", nil },
		recordSet: func(id string, d models.RecordSetData) (*models.SetTiming, error) {
			recorded = append(recorded, id)
			return &models.SetTiming{}, nil
		},
		endSession: func(id string, d models.EndSessionData) error {
			ended = append(ended, id)
			return nil
		},
	}
	q := NewQueue(s, api)

	var resolvedLocal, resolvedServer string
	q.OnLocalResolved(func(local, server string) { resolvedLocal, resolvedServer = local, server })
	emptyCalls := 0
	q.OnEmpty(func() { emptyCalls++ })

	for _, op := range []models.PendingSyncOp{
		startOp("local_1_a", 1),
		setOp("local_1_a", 0, 60, 8),
		setOp("local_1_a", 1, 62.5, 6),
		endOp("local_1_a"),
	} {
		if err := q.AddPending(op); err != nil {
			t.Fatal(err)
		}
	}

	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	for i, id := range recorded {
		if id != "srv-101" {
			t.Errorf("recordSet %d sent id %q, want srv-101", i, id)
		}
	}
	if len(recorded) != 2 {
		t.Errorf("recordSet calls = %d, want 2", len(recorded))
	}
	if len(ended) != 1 || ended[0] != "srv-101" {
		t.Errorf("endSession calls = %v, want [srv-101]", ended)
	}
	if resolvedLocal != "local_1_a" || resolvedServer != "srv-101" {
		t.Errorf("resolved %q -> %q", resolvedLocal, resolvedServer)
	}
	if emptyCalls != 1 {
		t.Errorf("onEmpty fired %d times, want 1", emptyCalls)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 0 {
		t.Errorf("queue not empty after drain: %+v", ops)
	}
}

func TestDrainDiscardsInvalidSets(t *testing.T) {
	s := openTestStore(t)
	api := &fakeAPI{
		recordSet: func(id string, d models.RecordSetData) (*models.SetTiming, error) {
			t.Errorf("invalid set reached the server: %+v", d)
			return &models.SetTiming{}, nil
		},
	}
	q := NewQueue(s, api)

	if err := q.AddPending(setOp("srv-101", 0, 0, 8)); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(setOp("srv-101", 1, 60, 0)); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 0 {
		t.Errorf("invalid sets still queued: %+v", ops)
	}
}

func TestDrainDropsTerminalEndSession(t *testing.T) {
	s := openTestStore(t)
	api := &fakeAPI{
		endSession: func(string, models.EndSessionData) error {
			return fmt.Errorf("end: %w", ErrNotFound)
		},
	}
	q := NewQueue(s, api)

	if err := q.AddPending(endOp("srv-101")); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 0 {
		t.Errorf("terminal endSession still queued: %+v", ops)
	}
}

func TestDrainKeepsTransientFailuresInOrder(t *testing.T) {
	s := openTestStore(t)
	api := &fakeAPI{
		recordSet: func(string, models.RecordSetData) (*models.SetTiming, error) {
			return nil, errors.New("connection refused")
		},
		endSession: func(string, models.EndSessionData) error {
			return errors.New("connection refused")
		},
	}
	q := NewQueue(s, api)

	if err := q.AddPending(setOp("srv-101", 0, 60, 8)); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(endOp("srv-101")); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 2 {
		t.Fatalf("queue depth = %d, want 2", len(ops))
	}
	if ops[0].Type != models.OpRecordSet || ops[1].Type != models.OpEndSession {
		t.Errorf("order changed: %v, %v", ops[0].Type, ops[1].Type)
	}
}

func TestDrainKeepsSetsBehindUnresolvedStart(t *testing.T) {
	s := openTestStore(t)
	api := &fakeAPI{
		startSession: func(models.StartSessionData) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	q := NewQueue(s, api)

	if err := q.AddPending(startOp("local_1_a", 1)); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(setOp("local_1_a", 0, 60, 8)); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 2 {
		t.Fatalf("queue depth = %d, want 2", len(ops))
	}
	if ops[1].RecordSet.SessionID != "local_1_a" {
		t.Errorf("set still references %q, want the unresolved sentinel", ops[1].RecordSet.SessionID)
	}
}

func TestDrainAbortsOnSessionExpired(t *testing.T) {
	s := openTestStore(t)
	calls := 0
	api := &fakeAPI{
		recordSet: func(id string, d models.RecordSetData) (*models.SetTiming, error) {
			calls++
			if calls == 1 {
				return &models.SetTiming{}, nil
			}
			return nil, fmt.Errorf("record: %w", ErrSessionExpired)
		},
	}
	q := NewQueue(s, api)

	for i := 0; i < 3; i++ {
		if err := q.AddPending(setOp("srv-101", i, 60, 8)); err != nil {
			t.Fatal(err)
		}
	}

	err := q.Drain(context.Background())
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
	if calls != 2 {
		t.Errorf("server calls = %d, want 2 (abort after the rejection)", calls)
	}

	// First op synced and removed; the rejected one and everything after
	// stay queued untouched.
	ops, _ := s.PendingOps()
	if len(ops) != 2 {
		t.Fatalf("queue depth = %d, want 2", len(ops))
	}
	if ops[0].RecordSet.SetIndex != 1 || ops[1].RecordSet.SetIndex != 2 {
		t.Errorf("wrong ops kept: %+v", ops)
	}
}

func TestDrainIsNotReentrant(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, nil)

	var inner error
	api := &fakeAPI{
		endSession: func(string, models.EndSessionData) error {
			inner = q.Drain(context.Background())
			return nil
		},
	}
	q.api = api

	if err := q.AddPending(endOp("srv-101")); err != nil {
		t.Fatal(err)
	}
	if err := q.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if !errors.Is(inner, ErrDrainInProgress) {
		t.Errorf("nested drain err = %v, want ErrDrainInProgress", inner)
	}
}

func TestStripEndSession(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, &fakeAPI{})

	if err := q.AddPending(setOp("local_1_a", 0, 60, 8)); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(endOp("local_1_a")); err != nil {
		t.Fatal(err)
	}
	if err := q.StripEndSession("local_1_a"); err != nil {
		t.Fatal(err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 1 || ops[0].Type != models.OpRecordSet {
		t.Errorf("queue after strip = %+v, want just the recordSet", ops)
	}
}

func TestRemoveSessionOps(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, &fakeAPI{})

	for _, op := range []models.PendingSyncOp{
		startOp("local_1_a", 1),
		setOp("local_1_a", 0, 60, 8),
		endOp("local_1_a"),
		setOp("srv-200", 0, 40, 10),
	} {
		if err := q.AddPending(op); err != nil {
			t.Fatal(err)
		}
	}
	if err := q.RemoveSessionOps("local_1_a"); err != nil {
		t.Fatal(err)
	}

	ops, _ := s.PendingOps()
	if len(ops) != 1 || ops[0].RecordSet.SessionID != "srv-200" {
		t.Errorf("queue = %+v, want only the srv-200 set", ops)
	}
}

func TestCleanupInvalidSyncs(t *testing.T) {
	s := openTestStore(t)
	q := NewQueue(s, &fakeAPI{})

	for _, op := range []models.PendingSyncOp{
		setOp("srv-1", 0, 80, 5),
		setOp("srv-1", 1, 0, 5),
		setOp("srv-1", 2, 80, 0),
		endOp("srv-1"),
	} {
		if err := q.AddPending(op); err != nil {
			t.Fatalf("AddPending: %v", err)
		}
	}

	dropped, err := q.CleanupInvalidSyncs()
	if err != nil {
		t.Fatalf("CleanupInvalidSyncs: %v", err)
	}
	if dropped != 2 {
		t.Fatalf("dropped = %d, want 2", dropped)
	}

	ops, err := s.PendingOps()
	if err != nil {
		t.Fatalf("PendingOps: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("remaining ops = %d, want 2", len(ops))
	}
	if ops[0].Type != models.OpRecordSet || ops[0].RecordSet.SetIndex != 0 {
		t.Errorf("first remaining op = %+v, want valid set 0", ops[0])
	}
	if ops[1].Type != models.OpEndSession {
		t.Errorf("second remaining op = %+v, want endSession", ops[1])
	}
}

func TestDrainKeepsOpsQueuedMidPass(t *testing.T) {
	s := openTestStore(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{
		startSession: func(models.StartSessionData) (string, error) {
			close(entered)
			<-release
			return "srv-101", nil
		},
		recordSet: func(string, models.RecordSetData) (*models.SetTiming, error) {
			return &models.SetTiming{}, nil
		},
	}
	q := NewQueue(s, api)
	if err := q.AddPending(startOp("local_1_a", 1)); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Drain(context.Background()) }()
	<-entered

	// Sets recorded while the pass is mid-flight must survive it, including
	// one still referencing the sentinel being resolved right now.
	if err := q.AddPending(setOp("srv-200", 0, 80, 5)); err != nil {
		t.Fatal(err)
	}
	if err := q.AddPending(setOp("local_1_a", 1, 80, 5)); err != nil {
		t.Fatal(err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Drain: %v", err)
	}

	ops, err := s.PendingOps()
	if err != nil {
		t.Fatal(err)
	}
	if len(ops) != 2 {
		t.Fatalf("queue depth after drain = %d, want 2: %+v", len(ops), ops)
	}
	if ops[0].RecordSet.SessionID != "srv-200" {
		t.Errorf("first kept op targets %q, want srv-200", ops[0].RecordSet.SessionID)
	}
	if ops[1].RecordSet.SessionID != "srv-101" {
		t.Errorf("sentinel queued mid-pass not translated: %q, want srv-101", ops[1].RecordSet.SessionID)
	}
}
