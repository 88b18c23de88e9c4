// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/tomtom215/repsync/internal/config"
	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/models"
)

// maxErrorBodySize limits how much of an error response body is read for
// diagnostics.
const maxErrorBodySize = 64 * 1024

// API is the server surface the queue, session manager, and reconciler
// depend on. Implemented by Client; tests substitute fakes.
type API interface {
	StartSession(ctx context.Context, data models.StartSessionData) (string, error)
	RecordSet(ctx context.Context, sessionID string, data models.RecordSetData) (*models.SetTiming, error)
	EndSession(ctx context.Context, sessionID string, data models.EndSessionData) error
	Sessions(ctx context.Context, q models.SessionQuery) ([]models.SessionDetail, error)
	SessionDetail(ctx context.Context, sessionID string) (*models.SessionDetail, error)
	Program(ctx context.Context) (models.Program, error)
}

// JointAPI is the server surface the joint coordinator depends on.
type JointAPI interface {
	SendInvite(ctx context.Context, toUserID string) (string, error)
	AcceptInvite(ctx context.Context, inviteID string) (*models.JointSession, error)
	DeclineInvite(ctx context.Context, inviteID string) error
	PushProgress(ctx context.Context, p models.JointProgressPayload) error
	LeaveJointSession(ctx context.Context, sessionID string) error
	LiveSession(ctx context.Context, friendID string) (*models.LiveSession, error)
}

// Client is the training server REST client. All requests pass through a
// rate limiter and a circuit breaker; authoritative rejections (not found,
// unauthorized, session expired) do not count as breaker failures since
// they are server decisions, not outages.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[[]byte]
}

// NewClient creates a Client from server configuration and the user's auth
// token.
func NewClient(cfg config.ServerConfig, token string) *Client {
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "training-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isTerminal(err) || errors.Is(err, ErrSessionExpired)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cb:      cb,
	}
}

// do performs one JSON request through the limiter and breaker, decoding a
// 2xx response body into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, c.statusError(method, path, resp)
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// statusError maps a non-2xx response to the error taxonomy.
func (c *Client) statusError(method, path string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if strings.Contains(string(body), "token_expired") {
			return fmt.Errorf("%s %s: %w", method, path, ErrSessionExpired)
		}
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	case http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, ErrNotFound)
	default:
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, body)
	}
}

// StartSession creates a session on the server and returns its identifier.
func (c *Client) StartSession(ctx context.Context, data models.StartSessionData) (string, error) {
	var resp models.StartSessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/start", data, &resp); err != nil {
		return "", err
	}
	if resp.SessionID == "" {
		return "", fmt.Errorf("create session: server returned empty session id")
	}
	return resp.SessionID, nil
}

// RecordSet records one completed set against a server session. The session
// identifier must be server-issued; local sentinels are translated before
// this call is made.
func (c *Client) RecordSet(ctx context.Context, sessionID string, data models.RecordSetData) (*models.SetTiming, error) {
	if models.IsLocalSessionID(sessionID) {
		return nil, fmt.Errorf("record set: refusing to send local session id %q to server", sessionID)
	}
	var resp models.RecordSetResponse
	if err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/set", data, &resp); err != nil {
		return nil, err
	}
	return &resp.Timing, nil
}

// EndSession marks a server session ended.
func (c *Client) EndSession(ctx context.Context, sessionID string, data models.EndSessionData) error {
	if models.IsLocalSessionID(sessionID) {
		return fmt.Errorf("end session: refusing to send local session id %q to server", sessionID)
	}
	return c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(sessionID)+"/end", data, nil)
}

// Sessions lists recent sessions, newest first. With q.IncludeTimings the
// server inlines each session's set timings; otherwise SetTimings decodes
// empty.
func (c *Client) Sessions(ctx context.Context, q models.SessionQuery) ([]models.SessionDetail, error) {
	params := url.Values{}
	if q.Person != "" {
		params.Set("person", q.Person)
	}
	if q.DayNumber > 0 {
		params.Set("day_number", strconv.Itoa(q.DayNumber))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.IncludeTimings {
		params.Set("include_timings", "true")
	}
	path := "/sessions"
	if encoded := params.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var out []models.SessionDetail
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SessionDetail fetches a full session including set timings.
func (c *Client) SessionDetail(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	var out models.SessionDetail
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Program fetches the current program definition.
func (c *Client) Program(ctx context.Context) (models.Program, error) {
	var out models.Program
	if err := c.do(ctx, http.MethodGet, "/program", nil, &out); err != nil {
		return models.Program{}, err
	}
	return out, nil
}

// SendInvite asks the server to deliver a joint-session invitation.
func (c *Client) SendInvite(ctx context.Context, toUserID string) (string, error) {
	var resp models.InviteResponse
	body := map[string]string{"to_user_id": toUserID}
	if err := c.do(ctx, http.MethodPost, "/joint/invites", body, &resp); err != nil {
		return "", err
	}
	return resp.InviteID, nil
}

// AcceptInvite accepts a pending invitation and returns the created joint
// session.
func (c *Client) AcceptInvite(ctx context.Context, inviteID string) (*models.JointSession, error) {
	var out models.JointSession
	if err := c.do(ctx, http.MethodPost, "/joint/invites/"+url.PathEscape(inviteID)+"/accept", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeclineInvite declines a pending invitation.
func (c *Client) DeclineInvite(ctx context.Context, inviteID string) error {
	return c.do(ctx, http.MethodPost, "/joint/invites/"+url.PathEscape(inviteID)+"/decline", nil, nil)
}

// PushProgress delivers a progress update over HTTP. Used when the realtime
// transport is not connected.
func (c *Client) PushProgress(ctx context.Context, p models.JointProgressPayload) error {
	return c.do(ctx, http.MethodPost, "/joint/progress", p, nil)
}

// LeaveJointSession tells the server this user left the joint session.
func (c *Client) LeaveJointSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/joint/sessions/"+url.PathEscape(sessionID)+"/leave", nil, nil)
}

// LiveSession fetches a friend's in-progress session snapshot. ErrNotFound
// means the friend has no active session.
func (c *Client) LiveSession(ctx context.Context, friendID string) (*models.LiveSession, error) {
	var out models.LiveSession
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(friendID)+"/live-session", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
