// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package models defines the shared data types for the sync core: workout
// sessions and set timings, the pending operation queue entries, the
// materialized completed-days view, the training program definition, joint
// session state, and the realtime message envelope.
//
// Timestamps are carried as ISO-8601 strings with an explicit UTC offset
// (RFC 3339), never as raw UTC. The user's wall-clock day boundary drives the
// day-locking logic, so the offset is load-bearing and must survive
// round-trips through the store and the server.
//
// Realtime messages are modeled as a tagged union: an envelope with a type
// discriminator and exactly one non-nil payload pointer. DecodeMessage is the
// single entry point for turning wire bytes into a Message; unknown types are
// an error so the transport can log and drop them without crashing.
package models
