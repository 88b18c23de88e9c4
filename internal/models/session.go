// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalSessionIDPrefix marks a session identifier that was minted on this
// device because the server could not be reached. An identifier with this
// prefix must never be sent to an endpoint that expects a server-issued id;
// it is translated during pending-queue replay.
const LocalSessionIDPrefix = "local_"

// Session is a single workout occasion. StartTime and EndTime are RFC 3339
// strings in the user's local zone with explicit offset.
type Session struct {
	ID           string   `json:"session_id"`
	Person       string   `json:"person"`
	DayNumber    int      `json:"day_number"`
	StartTime    string   `json:"start_time"`
	EndTime      string   `json:"end_time,omitempty"`
	MuscleGroups []string `json:"muscle_groups,omitempty"`
}

// ActiveSession is the durable record of the one in-progress session for a
// user. At most one exists at a time.
type ActiveSession struct {
	SessionID string `json:"session_id"`
	Person    string `json:"person"`
	DayNumber int    `json:"day_number"`
	StartTime string `json:"start_time"`
}

// NewLocalSessionID mints a placeholder session identifier of the form
// local_<unix-millis>_<random>.
func NewLocalSessionID() string {
	random := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s%d_%s", LocalSessionIDPrefix, time.Now().UnixMilli(), random)
}

// IsLocalSessionID reports whether id is a locally-minted placeholder.
func IsLocalSessionID(id string) bool {
	return strings.HasPrefix(id, LocalSessionIDPrefix)
}

// NowLocalISO returns the current time as RFC 3339 in the local zone,
// preserving the UTC offset.
func NowLocalISO() string {
	return time.Now().Format(time.RFC3339)
}

// ParseISO parses an RFC 3339 timestamp. The zero time is returned for empty
// or malformed input so comparisons degrade to "oldest" rather than failing.
func ParseISO(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
