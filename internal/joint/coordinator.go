// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package joint coordinates live training with another user: the invite
// handshake, progress exchange during a shared workout, and read-only
// watching of a friend's session.
//
// All state lives in memory. A joint session is an ephemeral overlay on top
// of the participants' own workouts; the workouts themselves sync through
// the session manager and survive restarts, the overlay does not.
package joint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/metrics"
	"github.com/tomtom215/repsync/internal/models"
	repsync "github.com/tomtom215/repsync/internal/sync"
)

// State is the invite/session state machine position.
type State string

const (
	// StateIdle means no joint activity.
	StateIdle State = "idle"
	// StateSending means an invite request is in flight to the server.
	StateSending State = "sending"
	// StateWaiting means the invite was delivered and awaits an answer.
	StateWaiting State = "waiting"
	// StateActive means a joint session is running.
	StateActive State = "active"
	// StateDeclined means the last invite was declined.
	StateDeclined State = "declined"
	// StateError means the last invite attempt failed.
	StateError State = "error"
)

var (
	// ErrNoWorkout means joint training was requested without a solo
	// workout in progress.
	ErrNoWorkout = errors.New("no workout in progress")
	// ErrJointActive means a joint session is already running.
	ErrJointActive = errors.New("joint session already active")
)

// Sender delivers messages over the realtime channel. Implemented by the
// realtime transport.
type Sender interface {
	Send(models.Message) error
}

// Coordinator runs the joint-session state machine. Safe for concurrent
// use; the facade reads snapshots while the message pump mutates state.
type Coordinator struct {
	selfUserID   string
	selfUsername string
	pulseFor     time.Duration

	sender Sender
	api    repsync.JointAPI

	// exerciseNames returns this user's exercise list for the current
	// workout; broadcast to the partner alongside progress.
	exerciseNames func() []string

	// soloActive reports whether a solo workout is in progress. Joint
	// training piggybacks on a running workout; without one there is
	// nothing to share.
	soloActive func() bool

	mu sync.Mutex

	state    State
	inviteID string
	lastErr  string
	incoming []models.JointInvitePayload

	session          *models.JointSession
	partnerProgress  *models.PartnerProgress
	partnerCompleted map[models.CompletedSetRef]bool

	syncPulse  bool
	pulseTimer *time.Timer

	// pushedNamesKey dedupes the exercise-list broadcast: the list rides
	// along only when its content changed since the last push.
	pushedNamesKey string

	watch       *models.WatchTarget
	watchLive   *models.LiveSession
	watchStatus string
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(userID, username string, sender Sender, api repsync.JointAPI, pulseFor time.Duration) *Coordinator {
	return &Coordinator{
		selfUserID:       userID,
		selfUsername:     username,
		pulseFor:         pulseFor,
		sender:           sender,
		api:              api,
		exerciseNames:    func() []string { return nil },
		soloActive:       func() bool { return false },
		state:            StateIdle,
		partnerCompleted: map[models.CompletedSetRef]bool{},
	}
}

// SetExerciseNames wires the own-exercise-list provider.
func (c *Coordinator) SetExerciseNames(fn func() []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn != nil {
		c.exerciseNames = fn
	}
}

// SetSoloActive wires the active-workout check.
func (c *Coordinator) SetSoloActive(fn func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn != nil {
		c.soloActive = fn
	}
}

// Run consumes the realtime message stream until ctx is canceled.
// Implements suture.Service via the supervisor wrapper.
func (c *Coordinator) Run(ctx context.Context, messages <-chan models.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			c.HandleMessage(msg)
		}
	}
}

// SendInvite invites a friend to train together. Requires a solo workout
// in progress and no already active joint session.
func (c *Coordinator) SendInvite(ctx context.Context, toUserID string) error {
	c.mu.Lock()
	if c.state == StateActive {
		c.mu.Unlock()
		return ErrJointActive
	}
	if !c.soloActive() {
		c.mu.Unlock()
		return ErrNoWorkout
	}
	c.setStateLocked(StateSending)
	c.mu.Unlock()

	inviteID, err := c.api.SendInvite(ctx, toUserID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.lastErr = err.Error()
		c.setStateLocked(StateError)
		return fmt.Errorf("send invite: %w", err)
	}
	c.inviteID = inviteID
	c.lastErr = ""
	c.setStateLocked(StateWaiting)
	logging.Info().Str("invite", inviteID).Str("to", toUserID).Msg("joint invite sent")
	return nil
}

// CancelInvite abandons a pending outgoing invite locally.
func (c *Coordinator) CancelInvite() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateWaiting || c.state == StateSending || c.state == StateDeclined || c.state == StateError {
		c.inviteID = ""
		c.setStateLocked(StateIdle)
	}
}

// AcceptInvite accepts an incoming invitation and activates the resulting
// joint session. Like sending, accepting requires a solo workout in
// progress to share.
func (c *Coordinator) AcceptInvite(ctx context.Context, inviteID string) error {
	c.mu.Lock()
	active := c.soloActive()
	c.mu.Unlock()
	if !active {
		return ErrNoWorkout
	}

	session, err := c.api.AcceptInvite(ctx, inviteID)
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeIncomingLocked(inviteID)
	c.activateLocked(session)
	logging.Info().Str("invite", inviteID).Str("session", session.ID).Msg("joint invite accepted")
	return nil
}

// DeclineInvite declines an incoming invitation.
func (c *Coordinator) DeclineInvite(ctx context.Context, inviteID string) error {
	if err := c.api.DeclineInvite(ctx, inviteID); err != nil {
		return fmt.Errorf("decline invite: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeIncomingLocked(inviteID)
	return nil
}

// PushProgress broadcasts this user's position to the partner. Delivery
// prefers the realtime channel and falls back to HTTP; a complete delivery
// failure is logged, not escalated, because the next push supersedes it.
func (c *Coordinator) PushProgress(ctx context.Context, exerciseIndex, setIndex int, exerciseName string, readyForNext bool) error {
	c.mu.Lock()
	if c.session == nil {
		c.mu.Unlock()
		return fmt.Errorf("no joint session active")
	}
	payload := models.JointProgressPayload{
		SessionID:     c.session.ID,
		FromUserID:    c.selfUserID,
		ExerciseIndex: exerciseIndex,
		SetIndex:      setIndex,
		ExerciseName:  exerciseName,
		ReadyForNext:  readyForNext,
	}
	names := c.exerciseNames()
	if key := namesKey(names); key != "" && key != c.pushedNamesKey {
		payload.ExerciseNames = names
		c.pushedNamesKey = key
	}
	c.mu.Unlock()

	msg := models.Message{Type: models.MsgJointProgress, JointProgress: &payload}
	if err := c.sender.Send(msg); err == nil {
		return nil
	}
	if err := c.api.PushProgress(ctx, payload); err != nil {
		logging.Warn().Err(err).Msg("joint progress not delivered")
	}
	return nil
}

// LeaveJointSession leaves the active joint session. Both notification
// paths are best effort; local state resets no matter what.
func (c *Coordinator) LeaveJointSession(ctx context.Context) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return
	}

	leave := models.Message{
		Type:       models.MsgJointLeave,
		JointLeave: &models.JointLeavePayload{SessionID: session.ID, UserID: c.selfUserID},
	}
	if err := c.sender.Send(leave); err != nil {
		logging.Debug().Err(err).Msg("leave notice not sent over realtime")
	}
	if err := c.api.LeaveJointSession(ctx, session.ID); err != nil {
		logging.Warn().Err(err).Str("session", session.ID).Msg("leave call failed")
	}

	c.mu.Lock()
	c.resetLocked()
	c.mu.Unlock()
	logging.Info().Str("session", session.ID).Msg("left joint session")
}

// OnSoloSessionEnded is called by the session manager when the user's own
// workout ends. An active joint session cannot outlive the workout.
func (c *Coordinator) OnSoloSessionEnded(sessionID string) {
	c.mu.Lock()
	active := c.session != nil
	c.mu.Unlock()
	if active {
		c.LeaveJointSession(context.Background())
	}
}

// HandleMessage applies one realtime message to coordinator state.
func (c *Coordinator) HandleMessage(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case models.MsgJointInvite:
		c.handleInviteLocked(*msg.JointInvite)
	case models.MsgInviteStatus:
		c.handleInviteStatusLocked(*msg.InviteStatus)
	case models.MsgJointProgress:
		c.handleProgressLocked(*msg.JointProgress)
	case models.MsgJointSessionEnded:
		if c.session != nil && c.session.ID == msg.JointSessionEnded.SessionID {
			logging.Info().Str("session", c.session.ID).Msg("joint session ended")
			c.resetLocked()
		}
	case models.MsgJointLeave:
		if c.session != nil && c.session.ID == msg.JointLeave.SessionID && msg.JointLeave.UserID != c.selfUserID {
			logging.Info().Str("session", c.session.ID).Msg("partner left joint session")
			c.resetLocked()
		}
	case models.MsgLiveSessionUpdate:
		c.handleLiveUpdateLocked(*msg.LiveSessionUpdate)
	case models.MsgFriendSessionEnded:
		if c.watch != nil && c.watch.FriendID == msg.FriendSessionEnded.FriendID {
			c.watchLive = nil
			c.watchStatus = "session_ended"
		}
	}
}

func (c *Coordinator) handleInviteLocked(inv models.JointInvitePayload) {
	for _, existing := range c.incoming {
		if existing.InviteID == inv.InviteID {
			return
		}
	}
	c.incoming = append(c.incoming, inv)
	logging.Info().
		Str("invite", inv.InviteID).
		Str("from", inv.FromUsername).
		Msg("joint invite received")
}

func (c *Coordinator) handleInviteStatusLocked(st models.InviteStatusPayload) {
	if st.InviteID != c.inviteID || c.inviteID == "" {
		return
	}
	switch st.Status {
	case models.InviteAccepted:
		if st.Session == nil {
			c.lastErr = "accepted invite carried no session"
			c.setStateLocked(StateError)
			return
		}
		c.activateLocked(st.Session)
	case models.InviteDeclined:
		c.inviteID = ""
		c.setStateLocked(StateDeclined)
	case models.InviteSessionEnded:
		// The remote side's workout ended before they answered.
		c.inviteID = ""
		c.setStateLocked(StateIdle)
	default:
		logging.Warn().Str("status", st.Status).Msg("unknown invite status")
	}
}

func (c *Coordinator) handleProgressLocked(p models.JointProgressPayload) {
	if c.session == nil || c.session.ID != p.SessionID || p.FromUserID == c.selfUserID {
		return
	}

	// A snapshot identical to the stored progress is a re-broadcast, not
	// an advance: it must not re-arm the pulse or re-append the set.
	prior := c.partnerProgress
	advanced := prior == nil ||
		prior.ExerciseIndex != p.ExerciseIndex ||
		prior.SetIndex != p.SetIndex

	c.partnerProgress = &models.PartnerProgress{
		ExerciseIndex: p.ExerciseIndex,
		SetIndex:      p.SetIndex,
		ExerciseName:  p.ExerciseName,
		ReadyForNext:  p.ReadyForNext,
		LastUpdated:   time.Now(),
	}
	if len(p.ExerciseNames) > 0 {
		c.session.SetParticipantExercises(p.FromUserID, p.ExerciseNames)
	}
	if !advanced {
		return
	}
	if p.ExerciseName != "" {
		ref := models.CompletedSetRef{
			ExerciseName: models.NormalizeExerciseName(p.ExerciseName),
			SetIndex:     p.SetIndex,
		}
		c.partnerCompleted[ref] = true
	}

	if p.ReadyForNext {
		c.syncPulse = true
		if c.pulseTimer != nil {
			c.pulseTimer.Stop()
		}
		c.pulseTimer = time.AfterFunc(c.pulseFor, func() {
			c.mu.Lock()
			c.syncPulse = false
			c.mu.Unlock()
		})
	}
}

func (c *Coordinator) handleLiveUpdateLocked(u models.LiveSessionUpdatePayload) {
	if c.watch == nil || c.watch.FriendID != u.FriendID {
		return
	}
	if u.Session == nil {
		c.watchLive = nil
		c.watchStatus = "session_ended"
		return
	}
	c.watchLive = u.Session
	c.watchStatus = "watching"
}

// StartWatching subscribes read-only to a friend's live session. One fetch
// seeds the snapshot; pushes keep it fresh afterwards.
func (c *Coordinator) StartWatching(ctx context.Context, friendID, friendUsername string) error {
	live, err := c.api.LiveSession(ctx, friendID)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.watch = nil
		c.watchLive = nil
		if errors.Is(err, repsync.ErrNotFound) {
			c.watchStatus = "session_ended"
			return nil
		}
		c.watchStatus = "poll_error"
		return fmt.Errorf("fetch live session: %w", err)
	}

	c.watch = &models.WatchTarget{
		FriendID:       friendID,
		FriendUsername: friendUsername,
		SessionID:      live.SessionID,
	}
	c.watchLive = live
	c.watchStatus = "watching"
	logging.Info().Str("friend", friendID).Str("session", live.SessionID).Msg("watching friend session")
	return nil
}

// StopWatching drops the watch subscription.
func (c *Coordinator) StopWatching() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watch = nil
	c.watchLive = nil
	c.watchStatus = ""
}

// Snapshot is the coordinator state as served to the UI.
type Snapshot struct {
	State           State                       `json:"state"`
	LastError       string                      `json:"last_error,omitempty"`
	IncomingInvites []models.JointInvitePayload `json:"incoming_invites,omitempty"`
	Session         *models.JointSession        `json:"session,omitempty"`
	PartnerProgress *models.PartnerProgress     `json:"partner_progress,omitempty"`
	PartnerSets     []models.CompletedSetRef    `json:"partner_sets,omitempty"`
	SyncPulse       bool                        `json:"sync_pulse"`
	Watch           *models.WatchTarget         `json:"watch,omitempty"`
	WatchSession    *models.LiveSession         `json:"watch_session,omitempty"`
	WatchStatus     string                      `json:"watch_status,omitempty"`
}

// Snapshot returns a copy of the current state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:       c.state,
		LastError:   c.lastErr,
		SyncPulse:   c.syncPulse,
		WatchStatus: c.watchStatus,
	}
	snap.IncomingInvites = append(snap.IncomingInvites, c.incoming...)
	if c.session != nil {
		s := *c.session
		s.Participants = append([]models.Participant(nil), c.session.Participants...)
		snap.Session = &s
	}
	if c.partnerProgress != nil {
		p := *c.partnerProgress
		snap.PartnerProgress = &p
	}
	for ref := range c.partnerCompleted {
		snap.PartnerSets = append(snap.PartnerSets, ref)
	}
	sort.Slice(snap.PartnerSets, func(i, j int) bool {
		a, b := snap.PartnerSets[i], snap.PartnerSets[j]
		if a.ExerciseName != b.ExerciseName {
			return a.ExerciseName < b.ExerciseName
		}
		return a.SetIndex < b.SetIndex
	})
	if c.watch != nil {
		w := *c.watch
		snap.Watch = &w
	}
	if c.watchLive != nil {
		l := *c.watchLive
		snap.WatchSession = &l
	}
	return snap
}

// PartnerExerciseList returns the partner's broadcast exercise names, if a
// session is active and the partner has sent them.
func (c *Coordinator) PartnerExerciseList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	names := []string(nil)
	if partner, ok := c.session.Partner(c.selfUserID); ok {
		names = partner.ExerciseNames
	}
	if len(names) == 0 {
		// Partner never broadcast a list; the program is shared, so the
		// day's full exercise list stands in.
		names = c.exerciseNames()
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		key := models.NormalizeExerciseName(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

func (c *Coordinator) activateLocked(session *models.JointSession) {
	c.session = session
	c.inviteID = ""
	c.lastErr = ""
	c.partnerProgress = nil
	c.partnerCompleted = map[models.CompletedSetRef]bool{}
	c.pushedNamesKey = ""
	c.setStateLocked(StateActive)
}

// resetLocked returns to idle. Every field tied to the session clears;
// nothing from a previous pairing may leak into the next one.
func (c *Coordinator) resetLocked() {
	c.session = nil
	c.inviteID = ""
	c.lastErr = ""
	c.partnerProgress = nil
	c.partnerCompleted = map[models.CompletedSetRef]bool{}
	c.syncPulse = false
	if c.pulseTimer != nil {
		c.pulseTimer.Stop()
		c.pulseTimer = nil
	}
	c.pushedNamesKey = ""
	c.setStateLocked(StateIdle)
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	metrics.RecordJointTransition(string(s))
}

func (c *Coordinator) removeIncomingLocked(inviteID string) {
	kept := c.incoming[:0]
	for _, inv := range c.incoming {
		if inv.InviteID != inviteID {
			kept = append(kept, inv)
		}
	}
	c.incoming = kept
}

// namesKey flattens an exercise list into a comparable dedup key.
func namesKey(names []string) string {
	if len(names) == 0 {
		return ""
	}
	key := ""
	for _, n := range names {
		key += models.NormalizeExerciseName(n) + "|"
	}
	return key
}
