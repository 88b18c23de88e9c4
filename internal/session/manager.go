// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package session owns the workout lifecycle: starting and ending sessions,
// recording sets, and the day lock/unlock rules. Every mutation lands in
// the local store first; the server is told afterwards, directly when
// reachable and through the pending queue when not. A completed set is
// never lost to a failed network call.
package session

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/metrics"
	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/store"
	"github.com/tomtom215/repsync/internal/sync"
)

// ErrDayLocked is returned when recording into a locked day without an
// unlocked override.
var ErrDayLocked = errors.New("day is locked")

// SetInput is one completed set as the UI reports it. ExerciseIndex is
// positional within the person's exercise list for the day.
type SetInput struct {
	DayNumber     int     `json:"day_number"`
	ExerciseIndex int     `json:"exercise_index"`
	SetIndex      int     `json:"set_index"`
	StartTime     string  `json:"start_time,omitempty"`
	Weight        float64 `json:"weight"`
	Reps          int     `json:"reps"`
	Note          string  `json:"note,omitempty"`
	IsWarmup      bool    `json:"is_warmup"`
}

// Validate rejects values the server would refuse.
func (in SetInput) Validate() error {
	if in.DayNumber < 1 {
		return fmt.Errorf("day number %d out of range", in.DayNumber)
	}
	if in.ExerciseIndex < 0 || in.SetIndex < 0 {
		return fmt.Errorf("negative exercise or set index")
	}
	if in.Weight <= 0 {
		return fmt.Errorf("weight must be positive, got %v", in.Weight)
	}
	if in.Reps < 1 {
		return fmt.Errorf("reps must be at least 1, got %d", in.Reps)
	}
	return nil
}

// Manager coordinates the one in-progress workout for the configured
// profile. Safe for concurrent use.
type Manager struct {
	store  *store.Store
	api    sync.API
	queue  *sync.Queue
	person string

	// kick requests a drain pass; wired to the sync runner.
	kick func()
	// postEndDelay is how long after EndWorkout a drain is scheduled when
	// operations remain queued.
	postEndDelay time.Duration

	mu stdsync.Mutex

	// onEnded fires after a workout ends, with the session id. The joint
	// coordinator uses it to leave a joint session the user walked out of.
	onEnded func(sessionID string)
	// onSetRecorded fires after a set is durably recorded.
	onSetRecorded func(in SetInput, exerciseName string)
}

// NewManager creates a Manager.
func NewManager(s *store.Store, api sync.API, queue *sync.Queue, person string, postEndDelay time.Duration) *Manager {
	m := &Manager{
		store:        s,
		api:          api,
		queue:        queue,
		person:       person,
		postEndDelay: postEndDelay,
		kick:         func() {},
	}
	queue.OnLocalResolved(m.resolveLocalID)
	return m
}

// SetKick wires the drain trigger.
func (m *Manager) SetKick(fn func()) {
	if fn != nil {
		m.kick = fn
	}
}

// OnWorkoutEnded registers the workout-ended callback.
func (m *Manager) OnWorkoutEnded(fn func(sessionID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnded = fn
}

// OnSetRecorded registers the set-recorded callback.
func (m *Manager) OnSetRecorded(fn func(in SetInput, exerciseName string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSetRecorded = fn
}

// StartWorkout starts a session for the given day. Calling it again for the
// same day returns the existing session id. Starting a different day ends
// the in-progress workout first.
//
// When the server cannot be reached the session still starts: a local
// sentinel id is minted and a startSession operation queued, so the workout
// proceeds offline exactly as it would online.
func (m *Manager) StartWorkout(ctx context.Context, day int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveSession()
	if err != nil && !errors.Is(err, store.ErrNoActiveSession) {
		return "", err
	}
	if active != nil {
		if active.DayNumber == day {
			return active.SessionID, nil
		}
		if err := m.endLocked(ctx, active, true); err != nil {
			logging.Warn().Err(err).
				Int("day", active.DayNumber).
				Msg("auto-ending previous workout failed, continuing")
		}
	}

	startTime := models.NowLocalISO()
	data := models.StartSessionData{
		Person:       m.person,
		DayNumber:    day,
		StartTime:    startTime,
		MuscleGroups: m.muscleGroupsFor(day),
	}

	sessionID, err := m.api.StartSession(ctx, data)
	if err != nil {
		sessionID = models.NewLocalSessionID()
		if qerr := m.queue.AddPending(models.PendingSyncOp{
			Type:           models.OpStartSession,
			LocalSessionID: sessionID,
			StartSession:   &data,
		}); qerr != nil {
			return "", fmt.Errorf("queue offline start: %w", qerr)
		}
		metrics.SessionsStarted.WithLabelValues("local").Inc()
		logging.Info().Err(err).
			Int("day", day).
			Str("session", sessionID).
			Msg("server unreachable, started workout offline")
		m.kick()
	} else {
		metrics.SessionsStarted.WithLabelValues("server").Inc()
		logging.Info().Int("day", day).Str("session", sessionID).Msg("workout started")
	}

	if err := m.store.SetActiveSession(models.ActiveSession{
		SessionID: sessionID,
		Person:    m.person,
		DayNumber: day,
		StartTime: startTime,
	}); err != nil {
		return "", fmt.Errorf("persist active session: %w", err)
	}
	return sessionID, nil
}

// SaveSetDetails records one completed set. The session starts implicitly if
// none is active for the day. The local store is written first and is never
// rolled back; the server call happens after, falling back to the queue on
// any failure.
func (m *Manager) SaveSetDetails(ctx context.Context, in SetInput) error {
	if err := in.Validate(); err != nil {
		return err
	}

	locked, err := m.store.LockedDays()
	if err != nil {
		return err
	}
	overrides, err := m.store.UnlockedOverrides()
	if err != nil {
		return err
	}
	if locked[in.DayNumber] && !overrides[in.DayNumber] {
		return ErrDayLocked
	}

	sessionID, err := m.StartWorkout(ctx, in.DayNumber)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	program, err := m.store.Program()
	if err != nil {
		return err
	}
	exerciseName := fmt.Sprintf("Exercise %d", in.ExerciseIndex+1)
	muscleGroup := ""
	if ex, ok := program.ResolveExercise(in.DayNumber, m.person, in.ExerciseIndex); ok {
		exerciseName = ex.Name
		muscleGroup = ex.MuscleGroup
	}

	endTime := models.NowLocalISO()
	t := models.SetTiming{
		ExerciseName: exerciseName,
		SetIndex:     in.SetIndex,
		StartTime:    in.StartTime,
		EndTime:      endTime,
		Weight:       in.Weight,
		Reps:         in.Reps,
		Note:         in.Note,
		IsWarmup:     in.IsWarmup,
		Source:       models.SourceLocal,
	}

	firstForExercise := true
	if _, err := m.store.MutateCompletedDays(func(v models.CompletedDays) (models.CompletedDays, error) {
		firstForExercise = !v.HasExercise(in.DayNumber, in.ExerciseIndex)
		if firstForExercise {
			t.MuscleGroup = muscleGroup
		}
		v.Put(in.DayNumber, in.ExerciseIndex, in.SetIndex, t)
		return v, nil
	}); err != nil {
		return fmt.Errorf("record set locally: %w", err)
	}

	data := models.RecordSetData{
		SessionID:    sessionID,
		DayNumber:    in.DayNumber,
		ExerciseName: exerciseName,
		SetIndex:     in.SetIndex,
		StartTime:    in.StartTime,
		EndTime:      endTime,
		Weight:       in.Weight,
		Reps:         in.Reps,
		Note:         in.Note,
		IsWarmup:     in.IsWarmup,
	}
	if firstForExercise {
		data.MuscleGroup = muscleGroup
	}

	queued := false
	if models.IsLocalSessionID(sessionID) {
		queued = true
	} else if _, err := m.api.RecordSet(ctx, sessionID, data); err != nil {
		logging.Warn().Err(err).
			Str("session", sessionID).
			Str("exercise", exerciseName).
			Msg("set record failed, queueing")
		queued = true
	}
	if queued {
		if err := m.queue.AddPending(models.PendingSyncOp{
			Type:      models.OpRecordSet,
			RecordSet: &data,
		}); err != nil {
			return fmt.Errorf("queue set record: %w", err)
		}
		metrics.SetsRecorded.WithLabelValues("queued").Inc()
		m.kick()
	} else {
		metrics.SetsRecorded.WithLabelValues("direct").Inc()
	}

	if m.onSetRecorded != nil {
		m.onSetRecorded(in, exerciseName)
	}
	return nil
}

// DeleteSetDetails removes a recorded set from the local view. The server
// keeps its record; the next reconciliation pass resolves the difference in
// favor of whichever side recorded later.
func (m *Manager) DeleteSetDetails(day, exerciseIndex, setIndex int) error {
	_, err := m.store.MutateCompletedDays(func(v models.CompletedDays) (models.CompletedDays, error) {
		v.Delete(day, exerciseIndex, setIndex)
		return v, nil
	})
	return err
}

// EndWorkout ends the in-progress workout, if any. Ending when nothing is
// active is a no-op. The day is locked unless it carries an unlocked
// override. Local state is cleared no matter what the server says.
func (m *Manager) EndWorkout(ctx context.Context, autoCompleted bool) error {
	m.mu.Lock()
	active, err := m.store.ActiveSession()
	if errors.Is(err, store.ErrNoActiveSession) {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		m.mu.Unlock()
		return err
	}
	err = m.endLocked(ctx, active, autoCompleted)
	onEnded := m.onEnded
	m.mu.Unlock()

	if onEnded != nil {
		onEnded(active.SessionID)
	}
	return err
}

// endLocked ends the given session. Caller holds m.mu.
func (m *Manager) endLocked(ctx context.Context, active *models.ActiveSession, autoCompleted bool) error {
	day := active.DayNumber
	endTime := models.NowLocalISO()

	view, err := m.store.CompletedDays()
	if err != nil {
		return err
	}

	// A workout that never reached the server and recorded nothing is
	// discarded outright rather than synced as an empty session.
	if models.IsLocalSessionID(active.SessionID) && view.DayIsEmpty(day) {
		if err := m.queue.RemoveSessionOps(active.SessionID); err != nil {
			return err
		}
		if err := m.store.ClearActiveSession(); err != nil {
			return err
		}
		logging.Info().Str("session", active.SessionID).Msg("discarded empty offline workout")
		return nil
	}

	overrides, err := m.store.UnlockedOverrides()
	if err != nil {
		return err
	}
	if !overrides[day] {
		if _, err := m.store.MutateLockedDays(func(l map[int]bool) (map[int]bool, error) {
			l[day] = true
			return l, nil
		}); err != nil {
			return err
		}
	}

	data := models.EndSessionData{
		SessionID:     active.SessionID,
		EndTime:       endTime,
		AutoCompleted: autoCompleted,
	}

	var endErr error
	switch {
	case models.IsLocalSessionID(active.SessionID):
		// The server has never heard of this session; ending it there is
		// meaningless. Drop any endSession already queued for it.
		endErr = m.queue.StripEndSession(active.SessionID)
		if endErr == nil {
			logging.Info().Str("session", active.SessionID).Msg("stripped queued end for local session")
		}
	default:
		err := m.api.EndSession(ctx, active.SessionID, data)
		switch {
		case err == nil:
		case errors.Is(err, sync.ErrNotFound), errors.Is(err, sync.ErrUnauthorized):
			// The server already considers it gone. Ended is ended.
			logging.Info().Err(err).Str("session", active.SessionID).Msg("session already gone on server")
		default:
			logging.Warn().Err(err).Str("session", active.SessionID).Msg("end failed, queueing")
			endErr = m.queue.AddPending(models.PendingSyncOp{
				Type:       models.OpEndSession,
				EndSession: &data,
			})
		}
	}
	if endErr != nil {
		return endErr
	}

	if err := m.store.ClearActiveSession(); err != nil {
		return err
	}
	logging.Info().
		Int("day", day).
		Str("session", active.SessionID).
		Bool("auto_completed", autoCompleted).
		Msg("workout ended")

	if depth, err := m.queue.Depth(); err == nil && depth > 0 {
		time.AfterFunc(m.postEndDelay, m.kick)
	}
	return nil
}

// LockDay marks a day completed, clearing any unlocked override.
func (m *Manager) LockDay(day int) error {
	if _, err := m.store.MutateUnlockedOverrides(func(o map[int]bool) (map[int]bool, error) {
		delete(o, day)
		return o, nil
	}); err != nil {
		return err
	}
	_, err := m.store.MutateLockedDays(func(l map[int]bool) (map[int]bool, error) {
		l[day] = true
		return l, nil
	})
	return err
}

// UnlockDay reopens a completed day for editing. The override suppresses
// server history for the day until it is locked again, and the day's
// recorded sets are cleared so the user restarts it clean.
func (m *Manager) UnlockDay(day int) error {
	if _, err := m.store.MutateLockedDays(func(l map[int]bool) (map[int]bool, error) {
		delete(l, day)
		return l, nil
	}); err != nil {
		return err
	}
	if _, err := m.store.MutateUnlockedOverrides(func(o map[int]bool) (map[int]bool, error) {
		o[day] = true
		return o, nil
	}); err != nil {
		return err
	}
	_, err := m.store.MutateCompletedDays(func(v models.CompletedDays) (models.CompletedDays, error) {
		delete(v, day)
		return v, nil
	})
	if err != nil {
		return err
	}
	logging.Info().Int("day", day).Msg("day unlocked for editing")
	return nil
}

// Active returns the in-progress session, or nil.
func (m *Manager) Active() (*models.ActiveSession, error) {
	a, err := m.store.ActiveSession()
	if errors.Is(err, store.ErrNoActiveSession) {
		return nil, nil
	}
	return a, err
}

// resolveLocalID is the queue's sentinel-resolution callback. It rewrites
// the active session record when its placeholder id gains a server id.
func (m *Manager) resolveLocalID(localID, serverID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveSession()
	if err != nil || active.SessionID != localID {
		return
	}
	active.SessionID = serverID
	if err := m.store.SetActiveSession(*active); err != nil {
		logging.Error().Err(err).Msg("failed to rewrite active session id")
		return
	}
	logging.Info().
		Str("local_id", localID).
		Str("server_id", serverID).
		Msg("active session id resolved")
}

func (m *Manager) muscleGroupsFor(day int) []string {
	program, err := m.store.Program()
	if err != nil {
		return nil
	}
	seen := make(map[string]bool)
	var groups []string
	d, ok := program.Day(day)
	if !ok {
		return nil
	}
	for _, ex := range d.ExercisesFor(m.person) {
		if ex.MuscleGroup == "" || seen[ex.MuscleGroup] {
			continue
		}
		seen[ex.MuscleGroup] = true
		groups = append(groups, ex.MuscleGroup)
	}
	return groups
}
