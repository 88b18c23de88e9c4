// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import "errors"

var (
	// ErrNotFound is an authoritative rejection: the server does not know
	// the resource. Retrying cannot succeed, so callers drop the operation.
	ErrNotFound = errors.New("resource not found on server")

	// ErrUnauthorized is an authoritative rejection on grounds of
	// ownership or permission. Treated like ErrNotFound for retry purposes.
	ErrUnauthorized = errors.New("server rejected request as unauthorized")

	// ErrSessionExpired means the auth token is no longer valid. This is
	// the one error the core propagates up to force a logout instead of
	// swallowing.
	ErrSessionExpired = errors.New("auth session expired")
)

// isTerminal reports whether err is an authoritative rejection that makes
// retrying pointless.
func isTerminal(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnauthorized)
}
