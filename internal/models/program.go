// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package models

import "sort"

// Exercise is one slot in a program day. Person is the profile the exercise
// is assigned to within a shared program; empty means "everyone".
type Exercise struct {
	Name        string `json:"name"`
	Person      string `json:"person,omitempty"`
	MuscleGroup string `json:"muscle_group,omitempty"`
	Sets        int    `json:"sets"`
}

// ProgramDay is the exercise list for one day number.
type ProgramDay struct {
	Number    int        `json:"number"`
	Exercises []Exercise `json:"exercises"`
}

// Program is the training program definition shared by all profiles.
type Program struct {
	Days []ProgramDay `json:"days"`
}

// Day returns the program day with the given number, if present.
func (p Program) Day(number int) (ProgramDay, bool) {
	for _, d := range p.Days {
		if d.Number == number {
			return d, true
		}
	}
	return ProgramDay{}, false
}

// ExercisesFor returns the day's exercises assigned to person. Untagged
// exercises belong to everyone.
func (d ProgramDay) ExercisesFor(person string) []Exercise {
	out := make([]Exercise, 0, len(d.Exercises))
	for _, e := range d.Exercises {
		if e.Person == "" || e.Person == person {
			out = append(out, e)
		}
	}
	return out
}

// ResolveExercise returns the exercise at index within person's list for the
// day. The index is positional within the filtered list, mirroring what the
// UI displays.
func (p Program) ResolveExercise(day int, person string, index int) (Exercise, bool) {
	d, ok := p.Day(day)
	if !ok {
		return Exercise{}, false
	}
	list := d.ExercisesFor(person)
	if index < 0 || index >= len(list) {
		return Exercise{}, false
	}
	return list[index], true
}

// IndexByName resolves the positional index of an exercise by
// case-insensitive name match within person's list for the day.
func (p Program) IndexByName(day int, person, name string) (int, bool) {
	d, ok := p.Day(day)
	if !ok {
		return 0, false
	}
	want := NormalizeExerciseName(name)
	for i, e := range d.ExercisesFor(person) {
		if NormalizeExerciseName(e.Name) == want {
			return i, true
		}
	}
	return 0, false
}

// ExerciseNamesFor returns the distinct exercise names for person on a day,
// first occurrence wins, compared case/space-insensitively.
func (p Program) ExerciseNamesFor(day int, person string) []string {
	d, ok := p.Day(day)
	if !ok {
		return nil
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range d.ExercisesFor(person) {
		key := NormalizeExerciseName(e.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, e.Name)
	}
	return names
}

// MergePrograms merges a server program into a local one. For each (day,
// person) pair, whichever side carries more exercises for that person wins.
// This favors the more complete definition without a full diff.
func MergePrograms(local, server Program) Program {
	dayNumbers := make(map[int]bool)
	for _, d := range local.Days {
		dayNumbers[d.Number] = true
	}
	for _, d := range server.Days {
		dayNumbers[d.Number] = true
	}

	merged := Program{}
	for _, number := range sortedKeys(dayNumbers) {
		localDay, _ := local.Day(number)
		serverDay, _ := server.Day(number)

		persons := make(map[string]bool)
		for _, e := range localDay.Exercises {
			persons[e.Person] = true
		}
		for _, e := range serverDay.Exercises {
			persons[e.Person] = true
		}

		day := ProgramDay{Number: number}
		for _, person := range sortedStringKeys(persons) {
			localList := personExercises(localDay, person)
			serverList := personExercises(serverDay, person)
			if len(localList) > len(serverList) {
				day.Exercises = append(day.Exercises, localList...)
			} else {
				day.Exercises = append(day.Exercises, serverList...)
			}
		}
		merged.Days = append(merged.Days, day)
	}
	return merged
}

// personExercises returns the exercises tagged exactly with person (unlike
// ExercisesFor, untagged exercises belong only to the "" person here, so the
// per-person count comparison is well defined).
func personExercises(d ProgramDay, person string) []Exercise {
	var out []Exercise
	for _, e := range d.Exercises {
		if e.Person == person {
			out = append(out, e)
		}
	}
	return out
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func sortedStringKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
