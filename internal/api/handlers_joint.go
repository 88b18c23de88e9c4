// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/repsync/internal/joint"
)

// jointErrorStatus maps coordinator preconditions to 409; everything else
// is an upstream failure.
func jointErrorStatus(err error) int {
	if errors.Is(err, joint.ErrNoWorkout) || errors.Is(err, joint.ErrJointActive) {
		return http.StatusConflict
	}
	return http.StatusBadGateway
}

func (s *Server) handleJointState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

type sendInviteRequest struct {
	ToUserID string `json:"to_user_id"`
}

func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var req sendInviteRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.ToUserID == "" {
		respondError(w, http.StatusBadRequest, errors.New("to_user_id required"))
		return
	}
	if err := s.coord.SendInvite(r.Context(), req.ToUserID); err != nil {
		respondError(w, jointErrorStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleCancelInvite(w http.ResponseWriter, r *http.Request) {
	s.coord.CancelInvite()
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.AcceptInvite(r.Context(), id); err != nil {
		respondError(w, jointErrorStatus(err), err)
		return
	}
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleDeclineInvite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.coord.DeclineInvite(r.Context(), id); err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

type pushProgressRequest struct {
	ExerciseIndex int    `json:"exercise_index"`
	SetIndex      int    `json:"set_index"`
	ExerciseName  string `json:"exercise_name"`
	ReadyForNext  bool   `json:"ready_for_next"`
}

func (s *Server) handlePushProgress(w http.ResponseWriter, r *http.Request) {
	var req pushProgressRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.coord.PushProgress(r.Context(), req.ExerciseIndex, req.SetIndex, req.ExerciseName, req.ReadyForNext); err != nil {
		respondError(w, http.StatusConflict, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	s.coord.LeaveJointSession(r.Context())
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

type watchRequest struct {
	FriendID       string `json:"friend_id"`
	FriendUsername string `json:"friend_username"`
}

func (s *Server) handleStartWatching(w http.ResponseWriter, r *http.Request) {
	var req watchRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.FriendID == "" {
		respondError(w, http.StatusBadRequest, errors.New("friend_id required"))
		return
	}
	if err := s.coord.StartWatching(r.Context(), req.FriendID, req.FriendUsername); err != nil {
		respondError(w, http.StatusBadGateway, err)
		return
	}
	respondJSON(w, http.StatusOK, s.coord.Snapshot())
}

func (s *Server) handleStopWatching(w http.ResponseWriter, r *http.Request) {
	s.coord.StopWatching()
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}
