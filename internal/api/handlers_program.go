// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/repsync/internal/models"
)

// Program edits apply to the local cached program immediately and are pushed
// to the server as advisory calls: best-effort, never blocking the edit.

type renameExerciseRequest struct {
	Day     int    `json:"day"`
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (s *Server) handleRenameExercise(w http.ResponseWriter, r *http.Request) {
	var req renameExerciseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.OldName = strings.TrimSpace(req.OldName)
	req.NewName = strings.TrimSpace(req.NewName)
	if req.Day < 1 || req.OldName == "" || req.NewName == "" {
		respondError(w, http.StatusBadRequest, errors.New("day, old_name and new_name are required"))
		return
	}

	program, err := s.mutateProgram(req.Day, func(day *models.ProgramDay) error {
		want := models.NormalizeExerciseName(req.OldName)
		found := false
		for i := range day.Exercises {
			if models.NormalizeExerciseName(day.Exercises[i].Name) == want {
				day.Exercises[i].Name = req.NewName
				found = true
			}
		}
		if !found {
			return errors.New("exercise not found")
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	if s.advisory != nil {
		s.advisory.RenameExercise(r.Context(), req.Day, req.OldName, req.NewName)
	}
	respondJSON(w, http.StatusOK, program)
}

type addExerciseRequest struct {
	Day         int    `json:"day"`
	Name        string `json:"name"`
	MuscleGroup string `json:"muscle_group"`
	Person      string `json:"person"`
	Sets        int    `json:"sets"`
}

func (s *Server) handleAddExercise(w http.ResponseWriter, r *http.Request) {
	var req addExerciseRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Day < 1 || req.Name == "" || req.Sets < 1 {
		respondError(w, http.StatusBadRequest, errors.New("day, name and sets are required"))
		return
	}

	program, err := s.mutateProgram(req.Day, func(day *models.ProgramDay) error {
		want := models.NormalizeExerciseName(req.Name)
		for _, e := range day.Exercises {
			if models.NormalizeExerciseName(e.Name) == want && e.Person == req.Person {
				return errors.New("exercise already exists")
			}
		}
		day.Exercises = append(day.Exercises, models.Exercise{
			Name:        req.Name,
			Person:      req.Person,
			MuscleGroup: req.MuscleGroup,
			Sets:        req.Sets,
		})
		return nil
	})
	if err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}

	if s.advisory != nil {
		s.advisory.AddExercise(r.Context(), req.Day, req.Name, req.MuscleGroup, req.Sets)
	}
	respondJSON(w, http.StatusOK, program)
}

type setCountRequest struct {
	Day  int    `json:"day"`
	Name string `json:"name"`
	Sets int    `json:"sets"`
}

func (s *Server) handleSetCount(w http.ResponseWriter, r *http.Request) {
	var req setCountRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Day < 1 || req.Name == "" || req.Sets < 1 {
		respondError(w, http.StatusBadRequest, errors.New("day, name and sets are required"))
		return
	}

	program, err := s.mutateProgram(req.Day, func(day *models.ProgramDay) error {
		want := models.NormalizeExerciseName(req.Name)
		found := false
		for i := range day.Exercises {
			if models.NormalizeExerciseName(day.Exercises[i].Name) == want {
				day.Exercises[i].Sets = req.Sets
				found = true
			}
		}
		if !found {
			return errors.New("exercise not found")
		}
		return nil
	})
	if err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	if s.advisory != nil {
		s.advisory.PatchSetCount(r.Context(), req.Day, req.Name, req.Sets)
	}
	respondJSON(w, http.StatusOK, program)
}

// mutateProgram applies fn to the day's exercise list in the cached program
// and persists the result. A missing day is created for add-style edits that
// never signal not-found.
func (s *Server) mutateProgram(dayNumber int, fn func(*models.ProgramDay) error) (models.Program, error) {
	program, err := s.store.Program()
	if err != nil {
		return models.Program{}, err
	}

	idx := -1
	for i := range program.Days {
		if program.Days[i].Number == dayNumber {
			idx = i
			break
		}
	}
	if idx == -1 {
		program.Days = append(program.Days, models.ProgramDay{Number: dayNumber})
		idx = len(program.Days) - 1
	}

	if err := fn(&program.Days[idx]); err != nil {
		return models.Program{}, err
	}
	if err := s.store.SetProgram(program); err != nil {
		return models.Program{}, err
	}
	return program, nil
}
