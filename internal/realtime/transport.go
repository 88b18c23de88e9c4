// RepSync - Offline-First Workout Session Sync and Live Training Coordination
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/repsync

// Package realtime maintains the websocket connection to the training
// server. The connection carries joint-session and watch traffic; losing it
// degrades the app to polling and queued writes, never to data loss.
//
// Reconnects back off exponentially from the configured floor to the
// ceiling and the backoff resets the moment a connection opens. While the
// app is backgrounded the socket is closed deliberately and no reconnects
// are scheduled; foregrounding reconnects immediately.
package realtime

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/repsync/internal/config"
	"github.com/tomtom215/repsync/internal/logging"
	"github.com/tomtom215/repsync/internal/metrics"
	"github.com/tomtom215/repsync/internal/models"
)

// ErrNotConnected is returned by Send while the socket is down. Callers
// fall back to HTTP delivery or queue the intent.
var ErrNotConnected = errors.New("realtime transport not connected")

// messageBuffer is the inbound channel capacity. A full buffer drops the
// newest message; the consumers all tolerate missed updates.
const messageBuffer = 64

// Transport is the websocket client. Safe for concurrent use.
type Transport struct {
	url    string
	token  string
	cfg    config.RealtimeConfig
	dialer *websocket.Dialer

	connMu  sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	// mu guards backoff, reconnectTimer, background, and stopped.
	mu             sync.Mutex
	backoff        time.Duration
	reconnectTimer *time.Timer
	background     bool
	stopped        bool

	connected atomic.Bool

	messages  chan models.Message
	connEdge  chan struct{}
	readerWG  sync.WaitGroup
	stopChan  chan struct{}
	closeOnce sync.Once
}

// NewTransport creates a Transport. Connections are not opened until Serve
// or Connect runs.
func NewTransport(cfg config.RealtimeConfig, token string) *Transport {
	return &Transport{
		url:   cfg.URL,
		token: token,
		cfg:   cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		backoff:  cfg.BackoffFloor,
		messages: make(chan models.Message, messageBuffer),
		connEdge: make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Messages returns the inbound message stream.
func (t *Transport) Messages() <-chan models.Message {
	return t.messages
}

// ConnectedEdge signals each transition into the connected state. The sync
// runner drains the pending queue on this edge.
func (t *Transport) ConnectedEdge() <-chan struct{} {
	return t.connEdge
}

// Connected reports whether the socket is currently open.
func (t *Transport) Connected() bool {
	return t.connected.Load()
}

// Serve connects and keeps the connection alive until ctx is canceled.
// Implements suture.Service.
func (t *Transport) Serve(ctx context.Context) error {
	t.Connect()
	<-ctx.Done()
	t.Stop()
	return ctx.Err()
}

// String names the service in supervisor logs.
func (t *Transport) String() string { return "realtime-transport" }

// Connect attempts a connection now. A failure schedules a reconnect; the
// call itself never blocks on the dial.
func (t *Transport) Connect() {
	go t.connect()
}

// Stop closes the connection and halts reconnects permanently.
func (t *Transport) Stop() {
	t.mu.Lock()
	t.stopped = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.stopChan) })
	t.closeConnection(websocket.CloseNormalClosure)
	t.readerWG.Wait()
}

// AppBackground closes the socket because the app left the foreground. The
// server sees a going-away close, not a timeout, and no reconnect attempts
// run until AppForeground.
func (t *Transport) AppBackground() {
	t.mu.Lock()
	t.background = true
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.mu.Unlock()

	t.closeConnection(websocket.CloseGoingAway)
	logging.Debug().Msg("realtime transport backgrounded")
}

// AppForeground reconnects immediately with a fresh backoff. Any reconnect
// timer still pending from before the background transition is canceled so
// it cannot fire behind the fresh connect.
func (t *Transport) AppForeground() {
	t.mu.Lock()
	t.background = false
	t.backoff = t.cfg.BackoffFloor
	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
		t.reconnectTimer = nil
	}
	t.mu.Unlock()

	logging.Debug().Msg("realtime transport foregrounded")
	t.Connect()
}

// Send writes one message to the socket, or fails fast with
// ErrNotConnected.
func (t *Transport) Send(msg models.Message) error {
	t.connMu.RLock()
	conn := t.conn
	t.connMu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := models.EncodeMessage(msg)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	return nil
}

func (t *Transport) connect() {
	t.mu.Lock()
	if t.stopped || t.background {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	t.connMu.Lock()
	if t.conn != nil {
		t.connMu.Unlock()
		return
	}
	t.connMu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.token)

	conn, resp, err := t.dialer.Dial(t.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		logging.Warn().Err(err).Str("url", t.url).Msg("realtime dial failed")
		t.scheduleReconnect()
		return
	}

	t.connMu.Lock()
	t.conn = conn
	t.connMu.Unlock()

	// A successful open resets the backoff so the next outage starts the
	// ladder from the floor again.
	t.mu.Lock()
	t.backoff = t.cfg.BackoffFloor
	t.mu.Unlock()

	t.connected.Store(true)
	metrics.SetRealtimeConnected(true)
	logging.Info().Str("url", t.url).Msg("realtime connected")

	select {
	case t.connEdge <- struct{}{}:
	default:
	}

	t.readerWG.Add(2)
	go t.readLoop(conn)
	go t.pingLoop(conn)
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	defer t.readerWG.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.onConnectionLost(conn, err)
			return
		}

		msg, err := models.DecodeMessage(data)
		if err != nil {
			metrics.RealtimeDecodeErrors.Inc()
			logging.Warn().Err(err).Msg("dropping undecodable realtime message")
			continue
		}
		metrics.RecordMessage(string(msg.Type))

		select {
		case t.messages <- msg:
		default:
			logging.Warn().Str("type", string(msg.Type)).Msg("realtime buffer full, dropping message")
		}
	}
}

func (t *Transport) pingLoop(conn *websocket.Conn) {
	defer t.readerWG.Done()

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.connMu.RLock()
			current := t.conn
			t.connMu.RUnlock()
			if current != conn {
				return
			}
			t.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			t.writeMu.Unlock()
			if err != nil {
				logging.Debug().Err(err).Msg("realtime ping failed")
				return
			}
		}
	}
}

// onConnectionLost tears down after a read error and schedules a reconnect
// unless the loss was deliberate.
func (t *Transport) onConnectionLost(conn *websocket.Conn, err error) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()
	conn.Close()

	wasConnected := t.connected.Swap(false)
	if wasConnected {
		metrics.SetRealtimeConnected(false)
	}

	t.mu.Lock()
	deliberate := t.stopped || t.background
	t.mu.Unlock()
	if deliberate {
		return
	}

	logging.Warn().Err(err).Msg("realtime connection lost")
	t.scheduleReconnect()
}

// scheduleReconnect arms the reconnect timer with the current backoff and
// doubles it for next time, capped at the ceiling. A timer already armed is
// replaced.
func (t *Transport) scheduleReconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped || t.background {
		return
	}

	delay := t.backoff
	t.backoff = nextBackoff(t.backoff, t.cfg.BackoffCeiling)

	if t.reconnectTimer != nil {
		t.reconnectTimer.Stop()
	}
	t.reconnectTimer = time.AfterFunc(delay, t.connect)
	metrics.RealtimeReconnects.Inc()
	logging.Debug().Dur("delay", delay).Msg("realtime reconnect scheduled")
}

// nextBackoff doubles cur up to ceiling.
func nextBackoff(cur, ceiling time.Duration) time.Duration {
	next := cur * 2
	if next > ceiling {
		return ceiling
	}
	return next
}

// closeConnection sends a close frame with the given code and drops the
// connection.
func (t *Transport) closeConnection(code int) {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()
	if conn == nil {
		return
	}

	t.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	t.writeMu.Unlock()
	conn.Close()

	if t.connected.Swap(false) {
		metrics.SetRealtimeConnected(false)
	}
}
