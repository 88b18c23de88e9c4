// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package api exposes the sync core to the UI layer over a loopback HTTP
// facade. The UI never talks to the training server; it reads and writes
// through these endpoints and the core handles connectivity, queuing, and
// reconciliation behind them.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/repsync/internal/config"
	"github.com/tomtom215/repsync/internal/joint"
	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/models"
	"github.com/tomtom215/repsync/internal/realtime"
	"github.com/tomtom215/repsync/internal/session"
	"github.com/tomtom215/repsync/internal/store"
	repsync "github.com/tomtom215/repsync/internal/sync"
)

// Server is the loopback facade.
type Server struct {
	cfg       config.APIConfig
	manager   *session.Manager
	coord     *joint.Coordinator
	transport *realtime.Transport
	store     *store.Store
	client    repsync.API
	queue     *repsync.Queue
	kick      func()
	advisory  repsync.Advise

	httpServer *http.Server
}

// NewServer wires the facade. kick triggers a drain pass.
func NewServer(
	cfg config.APIConfig,
	manager *session.Manager,
	coord *joint.Coordinator,
	transport *realtime.Transport,
	s *store.Store,
	client repsync.API,
	queue *repsync.Queue,
	kick func(),
) *Server {
	srv := &Server{
		cfg:       cfg,
		manager:   manager,
		coord:     coord,
		transport: transport,
		store:     s,
		client:    client,
		queue:     queue,
		kick:      kick,
	}
	srv.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv
}

// SetAdvisory attaches the best-effort server call surface used by program
// edits. Without it, edits apply locally only.
func (s *Server) SetAdvisory(a repsync.Advise) {
	s.advisory = a
}

// Router builds the chi router. Exposed for handler tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger)
	r.Use(prometheusMetrics)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*", "capacitor://localhost"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(httprate.LimitByIP(s.cfg.RequestsPerMinute, time.Minute))

	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/workout", func(r chi.Router) {
		r.Post("/start", s.handleStartWorkout)
		r.Post("/end", s.handleEndWorkout)
		r.Post("/sets", s.handleSaveSet)
		r.Delete("/sets", s.handleDeleteSet)
	})

	r.Get("/days", s.handleDays)
	r.Post("/days/{day}/lock", s.handleLockDay)
	r.Post("/days/{day}/unlock", s.handleUnlockDay)

	r.Route("/program", func(r chi.Router) {
		r.Get("/", s.handleProgram)
		r.Post("/exercises", s.handleAddExercise)
		r.Post("/exercises/rename", s.handleRenameExercise)
		r.Post("/exercises/sets", s.handleSetCount)
	})
	r.Get("/history", s.handleHistory)

	r.Post("/sync", s.handleSync)
	r.Post("/lifecycle", s.handleLifecycle)

	r.Route("/joint", func(r chi.Router) {
		r.Get("/", s.handleJointState)
		r.Post("/invites", s.handleSendInvite)
		r.Delete("/invites", s.handleCancelInvite)
		r.Post("/invites/{id}/accept", s.handleAcceptInvite)
		r.Post("/invites/{id}/decline", s.handleDeclineInvite)
		r.Post("/progress", s.handlePushProgress)
		r.Post("/leave", s.handleLeave)
	})

	r.Route("/watch", func(r chi.Router) {
		r.Post("/", s.handleStartWatching)
		r.Delete("/", s.handleStopWatching)
	})

	return r
}

// Serve runs the HTTP listener until ctx is canceled. Implements
// suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.cfg.ListenAddr).Msg("facade listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// String names the service in supervisor logs.
func (s *Server) String() string { return "api-facade" }

// requestLogger logs each request at debug with method, path, and duration.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error().Err(err).Msg("encode response")
	}
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// statusResponse is the GET /status body.
type statusResponse struct {
	RealtimeConnected bool                  `json:"realtime_connected"`
	QueueDepth        int                   `json:"queue_depth"`
	ActiveSession     *models.ActiveSession `json:"active_session,omitempty"`
	JointState        joint.State           `json:"joint_state"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.queue.Depth()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	active, err := s.manager.Active()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{
		RealtimeConnected: s.transport.Connected(),
		QueueDepth:        depth,
		ActiveSession:     active,
		JointState:        s.coord.Snapshot().State,
	})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.kick()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "drain scheduled"})
}

type lifecycleRequest struct {
	State string `json:"state"`
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var req lifecycleRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	switch req.State {
	case "background":
		s.transport.AppBackground()
	case "foreground":
		s.transport.AppForeground()
		s.kick()
	default:
		respondError(w, http.StatusBadRequest, errors.New("state must be background or foreground"))
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"state": req.State})
}
