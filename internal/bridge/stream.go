package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wallet-sync/internal/logging"
)

// StreamConfig configures the backend notification stream
type StreamConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

// DefaultStreamConfig returns default stream settings for url
func DefaultStreamConfig(url string) StreamConfig {
	return StreamConfig{
		URL:               url,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// notification is a JSON-RPC notification frame
type notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// Stream reads backend notifications over a websocket and ingests them in
// arrival order. It reconnects with exponential backoff until its context ends.
type Stream struct {
	cfg    StreamConfig
	bridge *Bridge
	logger *logging.Logger
	dialer websocket.Dialer

	// OnConnect runs after every successful (re)connect, before the first
	// frame is read. Notifications missed while disconnected are recovered
	// by resyncing here.
	OnConnect func(ctx context.Context)

	connected atomic.Bool
}

// NewStream creates a stream feeding b
func NewStream(cfg StreamConfig, b *Bridge, logger *logging.Logger) *Stream {
	return &Stream{
		cfg:    cfg,
		bridge: b,
		logger: logger.WithComponent("stream").WithField("url", cfg.URL),
		dialer: websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Connected reports whether a connection is currently open
func (s *Stream) Connected() bool {
	return s.connected.Load()
}

// Run blocks until ctx is done
func (s *Stream) Run(ctx context.Context) error {
	delay := s.cfg.ReconnectDelay
	for {
		received, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if received {
			delay = s.cfg.ReconnectDelay
		}
		s.logger.WithError(err).WithField("retryIn", delay.String()).Warn("notification stream disconnected")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// session runs one connection until it fails. It reports whether any
// frame was received.
func (s *Stream) session(ctx context.Context) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	s.connected.Store(true)
	defer s.connected.Store(false)
	s.logger.Info("notification stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			conn.Close()
		case <-done:
		}
	}()
	if s.cfg.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}

	if s.OnConnect != nil {
		s.OnConnect(ctx)
	}

	if s.cfg.ReadTimeout > 0 {
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	received := false
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return received, err
		}
		received = true
		s.handleFrame(ctx, message)
	}
}

func (s *Stream) handleFrame(ctx context.Context, message []byte) {
	var n notification
	if err := json.Unmarshal(message, &n); err != nil || n.Method == "" {
		s.bridge.malformed.Add(1)
		s.logger.WithError(err).Warn("ignoring frame that is not a notification")
		return
	}

	var payload interface{}
	if len(n.Params) > 0 {
		if err := json.Unmarshal(n.Params, &payload); err != nil {
			s.bridge.malformed.Add(1)
			s.logger.WithField("kind", n.Method).WithError(err).Warn("dropping malformed event")
			return
		}
	}
	// errors are logged by the bridge; the stream keeps going
	_, _ = s.bridge.HandleNotification(ctx, n.Method, payload)
}

func (s *Stream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.logger.WithError(err).Debug("ping failed")
			}
		}
	}
}
