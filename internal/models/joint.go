// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import "time"

// Participant is one member of a joint session. ExerciseNames is the list
// the participant broadcast with their progress; it may be empty until the
// first progress message carrying it arrives.
type Participant struct {
	UserID        string   `json:"user_id"`
	Username      string   `json:"username"`
	ExerciseNames []string `json:"exercise_names,omitempty"`
}

// JointSession is a live two-participant shared workout. Exactly zero or one
// is active per user at a time.
type JointSession struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Partner returns the participant that is not selfUserID.
func (j JointSession) Partner(selfUserID string) (Participant, bool) {
	for _, p := range j.Participants {
		if p.UserID != selfUserID {
			return p, true
		}
	}
	return Participant{}, false
}

// SetParticipantExercises replaces a participant's exercise list wholesale,
// keyed by user id.
func (j *JointSession) SetParticipantExercises(userID string, names []string) {
	for i := range j.Participants {
		if j.Participants[i].UserID == userID {
			j.Participants[i].ExerciseNames = names
			return
		}
	}
}

// PartnerProgress is the latest progress snapshot received from the other
// participant. Last write wins; it is monotonic by local receipt time, not
// reconciled against history.
type PartnerProgress struct {
	ExerciseIndex int       `json:"exercise_index"`
	SetIndex      int       `json:"set_index"`
	ExerciseName  string    `json:"exercise_name,omitempty"`
	ReadyForNext  bool      `json:"ready_for_next"`
	LastUpdated   time.Time `json:"last_updated"`
}

// CompletedSetRef identifies one set the partner finished, deduplicated by
// (normalized exercise name, set index).
type CompletedSetRef struct {
	ExerciseName string `json:"exercise_name"`
	SetIndex     int    `json:"set_index"`
}

// WatchTarget identifies a read-only subscription to a friend's live
// session. At most one is held at a time.
type WatchTarget struct {
	FriendID       string `json:"friend_id"`
	FriendUsername string `json:"friend_username"`
	SessionID      string `json:"session_id"`
}

// LiveSession is a snapshot of a friend's in-progress session as served by
// the live-session endpoint or pushed over the realtime channel.
type LiveSession struct {
	SessionID  string      `json:"session_id"`
	Person     string      `json:"person"`
	DayNumber  int         `json:"day_number"`
	StartTime  string      `json:"start_time"`
	SetTimings []SetTiming `json:"set_timings,omitempty"`
}
