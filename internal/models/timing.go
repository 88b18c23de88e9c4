// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import "strings"

// SetSource identifies which side produced a set timing record.
type SetSource string

const (
	// SourceServer marks a record derived from server session history.
	SourceServer SetSource = "server"
	// SourceLocal marks a record written by the local session manager.
	SourceLocal SetSource = "local"
)

// SetTiming is one completed set. ExerciseName is the stable identifier; the
// program can be edited concurrently, so positional indexes are never sent to
// the server. MuscleGroup is attached only on the first insert of an exercise
// for a day.
type SetTiming struct {
	ExerciseName string    `json:"exercise_name"`
	MuscleGroup  string    `json:"muscle_group,omitempty"`
	SetIndex     int       `json:"set_index"`
	StartTime    string    `json:"start_time,omitempty"`
	EndTime      string    `json:"end_time"`
	Weight       float64   `json:"weight"`
	Reps         int       `json:"reps"`
	Note         string    `json:"note,omitempty"`
	IsWarmup     bool      `json:"is_warmup"`
	Source       SetSource `json:"source"`
}

// MergeTimings resolves two records for the same (day, exercise, set) slot.
// The record with the later EndTime wins; on a tie the server record wins.
func MergeTimings(local, server SetTiming) SetTiming {
	if ParseISO(server.EndTime).Before(ParseISO(local.EndTime)) {
		return local
	}
	return server
}

// NormalizeExerciseName folds case and removes interior spaces so that
// "Bench Press" and "bench press" compare equal.
func NormalizeExerciseName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "")
}
