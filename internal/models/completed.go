// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

// CompletedDays is the materialized view the UI reads: day number →
// exercise index → set index → timing record. Integer keys are enforced by
// the JSON codec (map[int] keys reject malformed object keys on decode
// rather than silently coercing them).
type CompletedDays map[int]map[int]map[int]SetTiming

// Clone returns a deep copy. Mutations on the copy never leak into the
// published view.
func (c CompletedDays) Clone() CompletedDays {
	out := make(CompletedDays, len(c))
	for day, exercises := range c {
		outEx := make(map[int]map[int]SetTiming, len(exercises))
		for ex, sets := range exercises {
			outSets := make(map[int]SetTiming, len(sets))
			for idx, t := range sets {
				outSets[idx] = t
			}
			outEx[ex] = outSets
		}
		out[day] = outEx
	}
	return out
}

// Get returns the timing at (day, exercise, set) if present.
func (c CompletedDays) Get(day, exercise, set int) (SetTiming, bool) {
	if sets, ok := c[day][exercise]; ok {
		t, ok := sets[set]
		return t, ok
	}
	return SetTiming{}, false
}

// Put inserts or replaces the timing at (day, exercise, set), creating
// intermediate maps as needed.
func (c CompletedDays) Put(day, exercise, set int, t SetTiming) {
	exercises, ok := c[day]
	if !ok {
		exercises = make(map[int]map[int]SetTiming)
		c[day] = exercises
	}
	sets, ok := exercises[exercise]
	if !ok {
		sets = make(map[int]SetTiming)
		exercises[exercise] = sets
	}
	sets[set] = t
}

// Delete removes the timing at (day, exercise, set) and prunes now-empty
// parent keys.
func (c CompletedDays) Delete(day, exercise, set int) {
	sets, ok := c[day][exercise]
	if !ok {
		return
	}
	delete(sets, set)
	if len(sets) == 0 {
		delete(c[day], exercise)
	}
	if len(c[day]) == 0 {
		delete(c, day)
	}
}

// HasExercise reports whether any set is recorded for (day, exercise).
func (c CompletedDays) HasExercise(day, exercise int) bool {
	return len(c[day][exercise]) > 0
}

// DayIsEmpty reports whether no set is recorded for the day.
func (c CompletedDays) DayIsEmpty(day int) bool {
	return len(c[day]) == 0
}
