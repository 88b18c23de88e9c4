// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/session"
)

type startWorkoutRequest struct {
	DayNumber int `json:"day_number"`
}

type startWorkoutResponse struct {
	SessionID string `json:"session_id"`
	Local     bool   `json:"local"`
}

func (s *Server) handleStartWorkout(w http.ResponseWriter, r *http.Request) {
	var req startWorkoutRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.DayNumber < 1 {
		respondError(w, http.StatusBadRequest, errors.New("day_number must be positive"))
		return
	}

	id, err := s.manager.StartWorkout(r.Context(), req.DayNumber)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, startWorkoutResponse{
		SessionID: id,
		Local:     models.IsLocalSessionID(id),
	})
}

type endWorkoutRequest struct {
	AutoCompleted bool `json:"auto_completed"`
}

func (s *Server) handleEndWorkout(w http.ResponseWriter, r *http.Request) {
	var req endWorkoutRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := s.manager.EndWorkout(r.Context(), req.AutoCompleted); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ended"})
}

func (s *Server) handleSaveSet(w http.ResponseWriter, r *http.Request) {
	var in session.SetInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.SaveSetDetails(r.Context(), in); err != nil {
		switch {
		case errors.Is(err, session.ErrDayLocked):
			respondError(w, http.StatusConflict, err)
		case in.Validate() != nil:
			respondError(w, http.StatusBadRequest, err)
		default:
			respondError(w, http.StatusInternalServerError, err)
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleDeleteSet(w http.ResponseWriter, r *http.Request) {
	day, err1 := strconv.Atoi(r.URL.Query().Get("day"))
	exercise, err2 := strconv.Atoi(r.URL.Query().Get("exercise"))
	set, err3 := strconv.Atoi(r.URL.Query().Get("set"))
	if err1 != nil || err2 != nil || err3 != nil {
		respondError(w, http.StatusBadRequest, errors.New("day, exercise, and set query params required"))
		return
	}
	if err := s.manager.DeleteSetDetails(day, exercise, set); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// daysResponse is the GET /days body: everything the day grid needs.
type daysResponse struct {
	Completed models.CompletedDays `json:"completed"`
	Locked    map[int]bool         `json:"locked"`
	Unlocked  map[int]bool         `json:"unlocked_overrides"`
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	completed, err := s.store.CompletedDays()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	locked, err := s.store.LockedDays()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	unlocked, err := s.store.UnlockedOverrides()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, daysResponse{
		Completed: completed,
		Locked:    locked,
		Unlocked:  unlocked,
	})
}

func dayParam(r *http.Request) (int, error) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 1 {
		return 0, errors.New("invalid day number")
	}
	return day, nil
}

func (s *Server) handleLockDay(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.LockDay(day); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *Server) handleUnlockDay(w http.ResponseWriter, r *http.Request) {
	day, err := dayParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.manager.UnlockDay(day); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *Server) handleProgram(w http.ResponseWriter, r *http.Request) {
	program, err := s.store.Program()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, program)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := models.SessionQuery{Person: r.URL.Query().Get("person")}
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil {
			q.Limit = limit
		}
	}
	q.IncludeTimings = r.URL.Query().Get("include_timings") == "true"

	sessions, err := s.client.Sessions(r.Context(), q)
	if err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, sessions)
}
