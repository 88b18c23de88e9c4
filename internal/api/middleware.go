// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tomtom215/repsync/internal/metrics"
)

// prometheusMetrics records request counts and durations labelled by the
// chi route pattern, so path parameters don't explode label cardinality.
func prometheusMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordFacadeRequest(
			r.Method,
			route,
			strconv.Itoa(ww.Status()),
			time.Since(start).Seconds(),
		)
	})
}
