// Firetap - Firehose-to-MongoDB Ingestion Load Tool
// Copyright 2026 Firetap contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/firetap-io/firetap

package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/firetap-io/firetap/internal/config"
	"github.com/firetap-io/firetap/internal/logging"
)

const handshakeTimeout = 10 * time.Second

// WebSocketSource streams firehose events over a websocket connection.
//
// The read loop applies the configured read deadline to every receive;
// a connection with no traffic inside the window is reported dead
// through OnException. Ping keepalives run at half the read timeout.
type WebSocketSource struct {
	cfg     config.StreamConfig
	handler Handler

	connMu  sync.Mutex
	conn    *websocket.Conn
	running atomic.Bool

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWebSocketSource creates a source delivering events to handler.
// Call Connect to start streaming.
func NewWebSocketSource(cfg config.StreamConfig, handler Handler) *WebSocketSource {
	return &WebSocketSource{
		cfg:      cfg,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// Connect dials the firehose endpoint with the given filter terms. An
// upgrade rejected with an HTTP status is surfaced through OnError
// before the error returns, so the listener sees rate-limit and
// authorization codes the same way it would mid-stream.
func (s *WebSocketSource) Connect(ctx context.Context, filters []string) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		return nil
	}

	wsURL, err := s.buildURL(filters)
	if err != nil {
		return fmt.Errorf("build stream url: %w", err)
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	header.Set("X-Consumer-Key", s.cfg.ConsumerKey)

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			s.handler.OnError(resp.StatusCode)
			return fmt.Errorf("stream dial rejected (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("stream dial: %w", err)
	}

	s.conn = conn
	s.running.Store(true)
	logging.Info().Str("url", s.cfg.URL).Strs("filters", filters).Msg("Stream connected")

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()
	return nil
}

func (s *WebSocketSource) buildURL(filters []string) (string, error) {
	parsed, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	q := parsed.Query()
	q.Set("track", strings.Join(filters, ","))
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}

// readLoop receives events until the connection dies or Disconnect is
// called. It never reconnects; a dead session is reported and left to
// the supervisor.
func (s *WebSocketSource) readLoop() {
	defer s.wg.Done()
	defer s.running.Store(false)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			logging.Warn().Err(err).Msg("Stream read deadline not set")
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.stopChan:
				// Deliberate disconnect, not a transport failure.
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Info().Msg("Stream closed by remote")
			}
			s.closeConn()
			s.handler.OnException(err)
			return
		}

		s.handler.OnData(message)
	}
}

// pingLoop keeps the connection alive between events.
func (s *WebSocketSource) pingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ReadTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(handshakeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logging.Debug().Err(err).Msg("Stream ping failed")
				return
			}
		}
	}
}

// Disconnect closes the stream and waits for the read loop to exit.
// Idempotent; a pending receive unblocks within the read-timeout
// window.
func (s *WebSocketSource) Disconnect() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.closeConn()
		s.wg.Wait()
		s.running.Store(false)
		logging.Info().Msg("Stream disconnected")
	})
}

// Running reports whether the read loop is still delivering events.
func (s *WebSocketSource) Running() bool {
	return s.running.Load()
}

func (s *WebSocketSource) closeConn() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline,
	)
	if err := s.conn.Close(); err != nil {
		logging.Debug().Err(err).Msg("Stream connection close failed")
	}
	s.conn = nil
}
