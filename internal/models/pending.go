// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import "fmt"

// OpType discriminates pending sync operations.
type OpType string

const (
	OpStartSession OpType = "startSession"
	OpRecordSet    OpType = "recordSet"
	OpEndSession   OpType = "endSession"
)

// StartSessionData is the payload needed to recreate a session on the server.
type StartSessionData struct {
	Person       string   `json:"person"`
	DayNumber    int      `json:"day_number"`
	StartTime    string   `json:"start_time"`
	MuscleGroups []string `json:"muscle_groups,omitempty"`
}

// RecordSetData is the payload for recording one set. SessionID may be a
// local sentinel until the owning startSession operation has been replayed.
type RecordSetData struct {
	SessionID    string  `json:"session_id"`
	DayNumber    int     `json:"day_number"`
	ExerciseName string  `json:"exercise_name"`
	MuscleGroup  string  `json:"muscle_group,omitempty"`
	SetIndex     int     `json:"set_index"`
	StartTime    string  `json:"start_time,omitempty"`
	EndTime      string  `json:"end_time"`
	Weight       float64 `json:"weight"`
	Reps         int     `json:"reps"`
	Note         string  `json:"note,omitempty"`
	IsWarmup     bool    `json:"is_warmup"`
}

// EndSessionData is the payload for ending a session.
type EndSessionData struct {
	SessionID     string `json:"session_id"`
	EndTime       string `json:"end_time"`
	AutoCompleted bool   `json:"auto_completed"`
}

// PendingSyncOp is one durably queued, not-yet-confirmed server mutation.
// Exactly one payload pointer matching Type is non-nil. Operations are
// appended in order and replayed in order within a drain pass.
type PendingSyncOp struct {
	// ID identifies the queue entry itself, so a drain pass can remove
	// exactly the entries it replayed even if the queue grew underneath it.
	ID             string `json:"id"`
	Type           OpType `json:"type"`
	Timestamp      string `json:"timestamp"`
	LocalSessionID string `json:"local_session_id,omitempty"`

	StartSession *StartSessionData `json:"start_session,omitempty"`
	RecordSet    *RecordSetData    `json:"record_set,omitempty"`
	EndSession   *EndSessionData   `json:"end_session,omitempty"`
}

// Validate checks that the payload matches the declared type.
func (op PendingSyncOp) Validate() error {
	switch op.Type {
	case OpStartSession:
		if op.StartSession == nil {
			return fmt.Errorf("pending op %q missing start_session payload", op.Type)
		}
	case OpRecordSet:
		if op.RecordSet == nil {
			return fmt.Errorf("pending op %q missing record_set payload", op.Type)
		}
	case OpEndSession:
		if op.EndSession == nil {
			return fmt.Errorf("pending op %q missing end_session payload", op.Type)
		}
	default:
		return fmt.Errorf("unknown pending op type %q", op.Type)
	}
	return nil
}

// SessionRef returns the session identifier the operation targets, or ""
// for startSession operations.
func (op PendingSyncOp) SessionRef() string {
	switch op.Type {
	case OpRecordSet:
		if op.RecordSet != nil {
			return op.RecordSet.SessionID
		}
	case OpEndSession:
		if op.EndSession != nil {
			return op.EndSession.SessionID
		}
	}
	return ""
}

// RewriteSessionRef replaces the targeted session identifier in place.
// Used when a startSession replay resolves a local sentinel to a real id.
func (op *PendingSyncOp) RewriteSessionRef(from, to string) bool {
	switch op.Type {
	case OpRecordSet:
		if op.RecordSet != nil && op.RecordSet.SessionID == from {
			op.RecordSet.SessionID = to
			return true
		}
	case OpEndSession:
		if op.EndSession != nil && op.EndSession.SessionID == from {
			op.EndSession.SessionID = to
			return true
		}
	}
	return false
}
