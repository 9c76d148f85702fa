package connection

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Socket is a server-side WebSocket connection to a single client.
type Socket struct {
	id     string
	cfg    SocketConfig
	conn   *websocket.Conn
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	// State
	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewSocket wraps an upgraded WebSocket and starts its keepalive loop.
func NewSocket(conn *websocket.Conn, cfg SocketConfig, logger *slog.Logger) *Socket {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Socket{
		id:   uuid.NewString(),
		cfg:  cfg,
		conn: conn,
		done: make(chan struct{}),
	}
	s.logger = logger.With("conn", s.id)

	if cfg.ReadLimit > 0 {
		conn.SetReadLimit(cfg.ReadLimit)
	}

	if cfg.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		})
	}

	if cfg.PingInterval > 0 {
		go s.heartbeatLoop()
	}

	return s
}

// ID returns the connection's unique identity.
func (s *Socket) ID() string {
	return s.id
}

// Send writes a text frame, failing if it does not complete within WriteTimeout.
func (s *Socket) Send(data []byte) error {
	if s.isClosed() {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.cfg.WriteTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// ReadMessage blocks until the next data frame arrives.
func (s *Socket) ReadMessage() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		if s.isClosed() {
			return nil, ErrAlreadyClosed
		}
		return nil, err
	}

	if s.cfg.PongTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	}
	return data, nil
}

// Close sends a normal close frame and closes the connection.
func (s *Socket) Close() error {
	return s.CloseWithReason(websocket.CloseNormalClosure, "")
}

// CloseWithReason sends a close frame with the given code and reason, then
// closes the connection. Subsequent calls are no-ops.
func (s *Socket) CloseWithReason(code int, reason string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)

	s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// heartbeatLoop pings the client until the socket closes.
func (s *Socket) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(time.Second)
			if s.cfg.WriteTimeout > 0 {
				deadline = time.Now().Add(s.cfg.WriteTimeout)
			}
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}
