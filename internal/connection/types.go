package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected        = errors.New("not connected")
	ErrAlreadyClosed       = errors.New("already closed")
	ErrDuplicateConnection = errors.New("connection already registered")
)

// Control frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Outbound frame types.
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeError        = "error"
)

// MsgInvalidFormat is the error message sent for unparseable frames.
const MsgInvalidFormat = "Invalid JSON format"

// Conn is a client connection the manager can deliver frames to.
type Conn interface {
	// ID returns an identity unique for the lifetime of the process.
	ID() string

	// Send writes one text frame. It must not block past the
	// implementation's write timeout.
	Send(data []byte) error

	// Close closes the underlying transport. Safe to call more than once.
	Close() error
}

// Transport is a Conn that can also receive frames.
type Transport interface {
	Conn

	// ReadMessage blocks until the next inbound frame arrives.
	ReadMessage() ([]byte, error)
}

// State is the lifecycle state of a connection.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ControlFrame is an inbound client message.
type ControlFrame struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// AckFrame acknowledges a subscribe or unsubscribe.
type AckFrame struct {
	Type    string   `json:"type"` // "subscribed" or "unsubscribed"
	Symbols []string `json:"symbols"`
}

// ErrorFrame reports a rejected control frame.
type ErrorFrame struct {
	Type    string `json:"type"` // always "error"
	Message string `json:"message"`
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	BroadcastConcurrency int // Max sends in flight during one broadcast
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BroadcastConcurrency: 32,
	}
}

// SocketConfig configures a server-side WebSocket.
type SocketConfig struct {
	WriteTimeout time.Duration // Write deadline per frame; exceeding it fails the send
	PingInterval time.Duration // Interval between keepalive pings (0 = disabled)
	PongTimeout  time.Duration // Max silence before the read side gives up (0 = no deadline)
	ReadLimit    int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultSocketConfig returns sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		ReadLimit:    64 * 1024,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
	Symbols       int `json:"symbols"`
}
