// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

// SessionQuery filters the session-history listing.
type SessionQuery struct {
	Person         string
	DayNumber      int
	Limit          int
	IncludeTimings bool
}

// SessionSummary is one row of the session-history listing.
type SessionSummary struct {
	SessionID    string   `json:"session_id"`
	Person       string   `json:"person"`
	DayNumber    int      `json:"day_number"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time,omitempty"`
	MuscleGroups []string `json:"muscle_groups,omitempty"`
}

// SessionDetail is a full session with its recorded set timings.
type SessionDetail struct {
	SessionSummary
	SetTimings []SetTiming `json:"set_timings"`
}

// StartSessionResponse is the create-session endpoint's response body.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// RecordSetResponse is the record-set endpoint's response body.
type RecordSetResponse struct {
	Timing SetTiming `json:"timing"`
}

// InviteResponse is the send-invite endpoint's response body.
type InviteResponse struct {
	InviteID string `json:"invite_id"`
}
