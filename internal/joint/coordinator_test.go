// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package joint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/repsync/internal/models"
	repsync "github.com/tomtom215/repsync/internal/sync"
)

type fakeSender struct {
	send func(models.Message) error
	sent []models.Message
}

func (f *fakeSender) Send(msg models.Message) error {
	if f.send != nil {
		if err := f.send(msg); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeJointAPI struct {
	sendInvite    func(string) (string, error)
	acceptInvite  func(string) (*models.JointSession, error)
	declineInvite func(string) error
	pushProgress  func(models.JointProgressPayload) error
	leave         func(string) error
	liveSession   func(string) (*models.LiveSession, error)
}

func (f *fakeJointAPI) SendInvite(_ context.Context, to string) (string, error) {
	if f.sendInvite == nil {
		return "inv-1", nil
	}
	return f.sendInvite(to)
}

func (f *fakeJointAPI) AcceptInvite(_ context.Context, id string) (*models.JointSession, error) {
	if f.acceptInvite == nil {
		return testSession(), nil
	}
	return f.acceptInvite(id)
}

func (f *fakeJointAPI) DeclineInvite(_ context.Context, id string) error {
	if f.declineInvite == nil {
		return nil
	}
	return f.declineInvite(id)
}

func (f *fakeJointAPI) PushProgress(_ context.Context, p models.JointProgressPayload) error {
	if f.pushProgress == nil {
		return nil
	}
	return f.pushProgress(p)
}

func (f *fakeJointAPI) LeaveJointSession(_ context.Context, id string) error {
	if f.leave == nil {
		return nil
	}
	return f.leave(id)
}

func (f *fakeJointAPI) LiveSession(_ context.Context, friendID string) (*models.LiveSession, error) {
	if f.liveSession == nil {
		return nil, fmt.Errorf("live: %w", repsync.ErrNotFound)
	}
	return f.liveSession(friendID)
}

func testSession() *models.JointSession {
	return &models.JointSession{
		ID: "joint-1",
		Participants: []models.Participant{
			{UserID: "me", Username: "alex"},
			{UserID: "friend", Username: "sam"},
		},
	}
}

func newTestCoordinator(sender *fakeSender, api *fakeJointAPI) *Coordinator {
	if sender == nil {
		sender = &fakeSender{}
	}
	if api == nil {
		api = &fakeJointAPI{}
	}
	c := NewCoordinator("me", "alex", sender, api, 30*time.Millisecond)
	c.SetSoloActive(func() bool { return true })
	return c
}

func progressMsg(sessionID, from, exercise string, setIndex int, ready bool) models.Message {
	return models.Message{
		Type: models.MsgJointProgress,
		JointProgress: &models.JointProgressPayload{
			SessionID:    sessionID,
			FromUserID:   from,
			ExerciseName: exercise,
			SetIndex:     setIndex,
			ReadyForNext: ready,
		},
	}
}

func TestInviteAcceptedFlow(t *testing.T) {
	c := newTestCoordinator(nil, nil)

	if err := c.SendInvite(context.Background(), "friend"); err != nil {
		t.Fatalf("SendInvite: %v", err)
	}
	if got := c.Snapshot().State; got != StateWaiting {
		t.Fatalf("state = %v, want waiting", got)
	}

	c.HandleMessage(models.Message{
		Type: models.MsgInviteStatus,
		InviteStatus: &models.InviteStatusPayload{
			InviteID: "inv-1",
			Status:   models.InviteAccepted,
			Session:  testSession(),
		},
	})

	snap := c.Snapshot()
	if snap.State != StateActive {
		t.Errorf("state = %v, want active", snap.State)
	}
	if snap.Session == nil || snap.Session.ID != "joint-1" {
		t.Errorf("session = %+v", snap.Session)
	}
}

func TestInviteDeclinedAndSessionEnded(t *testing.T) {
	tests := []struct {
		status string
		want   State
	}{
		{models.InviteDeclined, StateDeclined},
		{models.InviteSessionEnded, StateIdle},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			c := newTestCoordinator(nil, nil)
			if err := c.SendInvite(context.Background(), "friend"); err != nil {
				t.Fatal(err)
			}
			c.HandleMessage(models.Message{
				Type:         models.MsgInviteStatus,
				InviteStatus: &models.InviteStatusPayload{InviteID: "inv-1", Status: tt.status},
			})
			if got := c.Snapshot().State; got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInviteStatusForOtherInviteIgnored(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.SendInvite(context.Background(), "friend"); err != nil {
		t.Fatal(err)
	}
	c.HandleMessage(models.Message{
		Type:         models.MsgInviteStatus,
		InviteStatus: &models.InviteStatusPayload{InviteID: "someone-elses", Status: models.InviteDeclined},
	})
	if got := c.Snapshot().State; got != StateWaiting {
		t.Errorf("state = %v, unrelated status must not transition", got)
	}
}

func TestSendInviteFailure(t *testing.T) {
	api := &fakeJointAPI{
		sendInvite: func(string) (string, error) { return "", errors.New("connection refused") },
	}
	c := newTestCoordinator(nil, api)
	if err := c.SendInvite(context.Background(), "friend"); err == nil {
		t.Fatal("expected error")
	}
	snap := c.Snapshot()
	if snap.State != StateError || snap.LastError == "" {
		t.Errorf("snapshot = %+v, want error state with message", snap)
	}

	// Error state is recoverable by inviting again.
	api.sendInvite = nil
	if err := c.SendInvite(context.Background(), "friend"); err != nil {
		t.Fatal(err)
	}
	if got := c.Snapshot().State; got != StateWaiting {
		t.Errorf("state = %v after retry", got)
	}
}

func TestInviteRequiresActiveWorkout(t *testing.T) {
	var sendCalls, acceptCalls int
	api := &fakeJointAPI{
		sendInvite: func(string) (string, error) {
			sendCalls++
			return "inv-1", nil
		},
		acceptInvite: func(string) (*models.JointSession, error) {
			acceptCalls++
			return &models.JointSession{ID: "joint-1"}, nil
		},
	}
	c := newTestCoordinator(nil, api)
	c.SetSoloActive(func() bool { return false })

	if err := c.SendInvite(context.Background(), "friend"); err == nil {
		t.Fatal("SendInvite without a workout must fail")
	}
	if err := c.AcceptInvite(context.Background(), "inv-1"); err == nil {
		t.Fatal("AcceptInvite without a workout must fail")
	}
	if sendCalls != 0 || acceptCalls != 0 {
		t.Errorf("server called without a workout: send=%d accept=%d", sendCalls, acceptCalls)
	}
	if got := c.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestIncomingInviteDedup(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	inv := models.Message{
		Type:        models.MsgJointInvite,
		JointInvite: &models.JointInvitePayload{InviteID: "inv-9", FromUserID: "friend", FromUsername: "sam"},
	}
	c.HandleMessage(inv)
	c.HandleMessage(inv)

	if got := len(c.Snapshot().IncomingInvites); got != 1 {
		t.Errorf("incoming invites = %d, want 1", got)
	}
}

func TestAcceptIncomingInvite(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	c.HandleMessage(models.Message{
		Type:        models.MsgJointInvite,
		JointInvite: &models.JointInvitePayload{InviteID: "inv-9", FromUserID: "friend"},
	})

	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateActive || len(snap.IncomingInvites) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestPartnerProgressAndPulse(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 1, true))

	snap := c.Snapshot()
	if snap.PartnerProgress == nil || snap.PartnerProgress.SetIndex != 1 {
		t.Fatalf("partner progress = %+v", snap.PartnerProgress)
	}
	if !snap.SyncPulse {
		t.Fatal("sync pulse not raised")
	}

	// The pulse clears itself after the configured duration.
	deadline := time.After(time.Second)
	for c.Snapshot().SyncPulse {
		select {
		case <-deadline:
			t.Fatal("sync pulse never cleared")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestRepeatedProgressSnapshotDoesNotReArmPulse(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 1, true))
	if !c.Snapshot().SyncPulse {
		t.Fatal("sync pulse not raised")
	}

	deadline := time.After(time.Second)
	for c.Snapshot().SyncPulse {
		select {
		case <-deadline:
			t.Fatal("sync pulse never cleared")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// The same snapshot again is a re-broadcast, not an advance.
	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 1, true))
	snap := c.Snapshot()
	if snap.SyncPulse {
		t.Error("repeated snapshot re-armed the pulse")
	}
	if got := len(snap.PartnerSets); got != 1 {
		t.Errorf("partner sets = %d, want 1", got)
	}

	// A genuinely new set raises it again.
	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 2, true))
	if !c.Snapshot().SyncPulse {
		t.Error("advanced snapshot did not raise the pulse")
	}
}

func TestPartnerCompletedSetDedup(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 0, false))
	c.HandleMessage(progressMsg("joint-1", "friend", "bench press", 0, false))
	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 1, false))

	if got := len(c.Snapshot().PartnerSets); got != 2 {
		t.Errorf("partner sets = %d, want 2 (same name+index deduped)", got)
	}
}

func TestProgressFromWrongSessionIgnored(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(progressMsg("other-session", "friend", "Squat", 0, true))
	c.HandleMessage(progressMsg("joint-1", "me", "Squat", 0, true))

	snap := c.Snapshot()
	if snap.PartnerProgress != nil || snap.SyncPulse {
		t.Errorf("foreign or own progress applied: %+v", snap)
	}
}

func TestPartnerExerciseListFromProgress(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	c.HandleMessage(models.Message{
		Type: models.MsgJointProgress,
		JointProgress: &models.JointProgressPayload{
			SessionID:     "joint-1",
			FromUserID:    "friend",
			ExerciseNames: []string{"Squat", "Deadlift"},
		},
	})

	got := c.PartnerExerciseList()
	if len(got) != 2 || got[0] != "Squat" {
		t.Errorf("partner exercises = %v", got)
	}
}

func TestPartnerExerciseListDedupAndFallback(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	c.SetExerciseNames(func() []string { return []string{"Bench Press", "Squat"} })
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	// No partner broadcast yet: the shared day's list stands in.
	got := c.PartnerExerciseList()
	if len(got) != 2 || got[0] != "Bench Press" || got[1] != "Squat" {
		t.Fatalf("fallback list = %v, want day's exercises", got)
	}

	// Broadcast with case/space duplicates keeps the first occurrence.
	c.HandleMessage(models.Message{
		Type: models.MsgJointProgress,
		JointProgress: &models.JointProgressPayload{
			SessionID:     "joint-1",
			FromUserID:    "friend",
			ExerciseNames: []string{"Deadlift", "deadlift ", "Row", "ROW"},
		},
	})
	got = c.PartnerExerciseList()
	if len(got) != 2 || got[0] != "Deadlift" || got[1] != "Row" {
		t.Errorf("deduplicated list = %v, want [Deadlift Row]", got)
	}
}

func TestPushProgressRealtimeFirst(t *testing.T) {
	sender := &fakeSender{}
	httpCalled := false
	api := &fakeJointAPI{
		pushProgress: func(models.JointProgressPayload) error {
			httpCalled = true
			return nil
		},
	}
	c := newTestCoordinator(sender, api)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	if err := c.PushProgress(context.Background(), 0, 1, "Bench Press", true); err != nil {
		t.Fatal(err)
	}
	if len(sender.sent) != 1 || httpCalled {
		t.Errorf("sent=%d httpCalled=%v, want realtime only", len(sender.sent), httpCalled)
	}
}

func TestPushProgressHTTPFallback(t *testing.T) {
	sender := &fakeSender{send: func(models.Message) error { return errors.New("not connected") }}
	var delivered *models.JointProgressPayload
	api := &fakeJointAPI{
		pushProgress: func(p models.JointProgressPayload) error {
			delivered = &p
			return nil
		},
	}
	c := newTestCoordinator(sender, api)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	if err := c.PushProgress(context.Background(), 0, 1, "Bench Press", false); err != nil {
		t.Fatal(err)
	}
	if delivered == nil || delivered.SessionID != "joint-1" || delivered.FromUserID != "me" {
		t.Errorf("HTTP fallback payload = %+v", delivered)
	}
}

func TestPushProgressExerciseListDedup(t *testing.T) {
	sender := &fakeSender{}
	c := newTestCoordinator(sender, nil)
	c.SetExerciseNames(func() []string { return []string{"Bench Press", "Squat"} })
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		if err := c.PushProgress(context.Background(), 0, i, "Bench Press", false); err != nil {
			t.Fatal(err)
		}
	}

	first := sender.sent[0].JointProgress
	second := sender.sent[1].JointProgress
	if len(first.ExerciseNames) != 2 {
		t.Errorf("first push names = %v, want the full list", first.ExerciseNames)
	}
	if len(second.ExerciseNames) != 0 {
		t.Errorf("second push names = %v, unchanged list must not repeat", second.ExerciseNames)
	}

	// A changed list rides along again.
	c.SetExerciseNames(func() []string { return []string{"Bench Press", "Squat", "Deadlift"} })
	if err := c.PushProgress(context.Background(), 0, 2, "Bench Press", false); err != nil {
		t.Fatal(err)
	}
	if got := sender.sent[2].JointProgress.ExerciseNames; len(got) != 3 {
		t.Errorf("third push names = %v, want the changed list", got)
	}
}

func TestLeaveResetsEverything(t *testing.T) {
	sender := &fakeSender{}
	leaveCalled := ""
	api := &fakeJointAPI{
		leave: func(id string) error {
			leaveCalled = id
			return errors.New("connection refused")
		},
	}
	c := newTestCoordinator(sender, api)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}
	c.HandleMessage(progressMsg("joint-1", "friend", "Bench Press", 0, true))

	c.LeaveJointSession(context.Background())

	if leaveCalled != "joint-1" {
		t.Errorf("leave called with %q", leaveCalled)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.Session != nil || snap.PartnerProgress != nil ||
		len(snap.PartnerSets) != 0 || snap.SyncPulse {
		t.Errorf("state leaked across leave: %+v", snap)
	}
	if len(sender.sent) == 0 || sender.sent[len(sender.sent)-1].Type != models.MsgJointLeave {
		t.Error("leave notice not sent over realtime")
	}
}

func TestPartnerLeaveAndSessionEndedReset(t *testing.T) {
	msgs := []models.Message{
		{Type: models.MsgJointLeave, JointLeave: &models.JointLeavePayload{SessionID: "joint-1", UserID: "friend"}},
		{Type: models.MsgJointSessionEnded, JointSessionEnded: &models.JointSessionEndedPayload{SessionID: "joint-1"}},
	}
	for _, msg := range msgs {
		t.Run(string(msg.Type), func(t *testing.T) {
			c := newTestCoordinator(nil, nil)
			if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
				t.Fatal(err)
			}
			c.HandleMessage(msg)
			snap := c.Snapshot()
			if snap.State != StateIdle || snap.Session != nil {
				t.Errorf("snapshot after %s = %+v", msg.Type, snap)
			}
		})
	}
}

func TestOnSoloSessionEndedLeavesJointSession(t *testing.T) {
	c := newTestCoordinator(nil, nil)
	if err := c.AcceptInvite(context.Background(), "inv-9"); err != nil {
		t.Fatal(err)
	}
	c.OnSoloSessionEnded("srv-101")
	if got := c.Snapshot().State; got != StateIdle {
		t.Errorf("state = %v, want idle after own workout ended", got)
	}
}

func TestStartWatching(t *testing.T) {
	api := &fakeJointAPI{
		liveSession: func(friendID string) (*models.LiveSession, error) {
			return &models.LiveSession{SessionID: "live-1", Person: "sam", DayNumber: 2}, nil
		},
	}
	c := newTestCoordinator(nil, api)

	if err := c.StartWatching(context.Background(), "friend", "sam"); err != nil {
		t.Fatalf("StartWatching: %v", err)
	}
	snap := c.Snapshot()
	if snap.Watch == nil || snap.Watch.SessionID != "live-1" || snap.WatchStatus != "watching" {
		t.Errorf("snapshot = %+v", snap)
	}

	// A pushed update refreshes the snapshot.
	c.HandleMessage(models.Message{
		Type: models.MsgLiveSessionUpdate,
		LiveSessionUpdate: &models.LiveSessionUpdatePayload{
			FriendID: "friend",
			Session:  &models.LiveSession{SessionID: "live-1", DayNumber: 2, SetTimings: []models.SetTiming{{ExerciseName: "Squat"}}},
		},
	})
	if got := c.Snapshot().WatchSession; got == nil || len(got.SetTimings) != 1 {
		t.Errorf("watch session = %+v", got)
	}

	// The friend finishing ends the watch.
	c.HandleMessage(models.Message{
		Type:               models.MsgFriendSessionEnded,
		FriendSessionEnded: &models.FriendSessionEndedPayload{FriendID: "friend", SessionID: "live-1"},
	})
	snap = c.Snapshot()
	if snap.WatchStatus != "session_ended" || snap.WatchSession != nil {
		t.Errorf("snapshot after end = %+v", snap)
	}
}

func TestStartWatchingNoLiveSession(t *testing.T) {
	c := newTestCoordinator(nil, nil) // default API returns ErrNotFound
	if err := c.StartWatching(context.Background(), "friend", "sam"); err != nil {
		t.Fatalf("not-found must not be an error: %v", err)
	}
	snap := c.Snapshot()
	if snap.WatchStatus != "session_ended" || snap.Watch != nil {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestStartWatchingFetchError(t *testing.T) {
	api := &fakeJointAPI{
		liveSession: func(string) (*models.LiveSession, error) {
			return nil, errors.New("connection refused")
		},
	}
	c := newTestCoordinator(nil, api)
	if err := c.StartWatching(context.Background(), "friend", "sam"); err == nil {
		t.Fatal("expected error")
	}
	if got := c.Snapshot().WatchStatus; got != "poll_error" {
		t.Errorf("watch status = %q, want poll_error", got)
	}
}

func TestStopWatching(t *testing.T) {
	api := &fakeJointAPI{
		liveSession: func(string) (*models.LiveSession, error) {
			return &models.LiveSession{SessionID: "live-1"}, nil
		},
	}
	c := newTestCoordinator(nil, api)
	if err := c.StartWatching(context.Background(), "friend", "sam"); err != nil {
		t.Fatal(err)
	}
	c.StopWatching()
	snap := c.Snapshot()
	if snap.Watch != nil || snap.WatchSession != nil || snap.WatchStatus != "" {
		t.Errorf("snapshot = %+v", snap)
	}
}
