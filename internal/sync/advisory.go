// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"context"
	"net/http"

	"github.com/tomtom215/repsync/internal/logging"
)

// Advisory holds the best-effort program-editing calls. These mutate shared
// program state the server fully owns; a failure means the edit did not
// happen, the UI already reflects the local intent, and the next program
// fetch restores truth. None of these methods return an error.
type Advisory struct {
	c *Client
}

// Advisory returns the best-effort call surface.
func (c *Client) Advisory() *Advisory {
	return &Advisory{c: c}
}

// Advise is the notifier surface the session manager and facade use
// without depending on the concrete client.
type Advise interface {
	RenameExercise(ctx context.Context, day int, oldName, newName string)
	AddExercise(ctx context.Context, day int, name, muscleGroup string, sets int)
	PatchSetCount(ctx context.Context, day int, exerciseName string, sets int)
	RefreshAnalytics(ctx context.Context)
}

// RenameExercise tells the server an exercise was renamed so history keeps
// matching by name.
func (a *Advisory) RenameExercise(ctx context.Context, day int, oldName, newName string) {
	body := map[string]any{"day_number": day, "old_name": oldName, "new_name": newName}
	if err := a.c.do(ctx, http.MethodPatch, "/program/exercises/rename", body, nil); err != nil {
		logging.Warn().Err(err).
			Str("old", oldName).
			Str("new", newName).
			Msg("advisory exercise rename not delivered")
	}
}

// AddExercise tells the server an exercise was added to a day.
func (a *Advisory) AddExercise(ctx context.Context, day int, name, muscleGroup string, sets int) {
	body := map[string]any{
		"day_number":   day,
		"name":         name,
		"muscle_group": muscleGroup,
		"sets":         sets,
	}
	if err := a.c.do(ctx, http.MethodPost, "/program/exercises", body, nil); err != nil {
		logging.Warn().Err(err).Str("name", name).Msg("advisory exercise add not delivered")
	}
}

// PatchSetCount tells the server an exercise's planned set count changed.
func (a *Advisory) PatchSetCount(ctx context.Context, day int, exerciseName string, sets int) {
	body := map[string]any{"day_number": day, "name": exerciseName, "sets": sets}
	if err := a.c.do(ctx, http.MethodPatch, "/program/exercises/sets", body, nil); err != nil {
		logging.Warn().Err(err).Str("name", exerciseName).Msg("advisory set-count patch not delivered")
	}
}

// RefreshAnalytics asks the server to recompute cached analytics after a
// session ends.
func (a *Advisory) RefreshAnalytics(ctx context.Context) {
	if err := a.c.do(ctx, http.MethodPost, "/analytics/refresh", nil, nil); err != nil {
		logging.Debug().Err(err).Msg("advisory analytics refresh not delivered")
	}
}

var _ Advise = (*Advisory)(nil)
