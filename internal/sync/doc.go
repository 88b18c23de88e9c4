// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package sync talks to the training server and keeps local state
// convergent with it.
//
// Three pieces live here:
//
//   - Client: the REST client for session, program, and joint-session
//     endpoints, wrapped in a circuit breaker and a request rate limiter.
//     Advisory program-patch calls are a structurally separate method set
//     whose failures are logged and never escalated.
//
//   - Queue: the durable pending operation queue. Operations that failed to
//     reach the server are replayed in order by Drain, with local session
//     identifiers translated to server identifiers the moment the owning
//     startSession replay succeeds. A drain in progress is never started
//     twice.
//
//   - Reconciler: the on-demand pass that re-derives the completed-days
//     view from server session history, honoring unlocked-day overrides and
//     the latest-endTime-wins merge rule, and publishes the result
//     atomically. Any network failure aborts the pass without touching
//     persisted state.
package sync
