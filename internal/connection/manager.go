package connection

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// connState holds the registry entry for a single connection.
type connState struct {
	conn     Conn
	state    State
	subs     map[string]struct{}
	openedAt time.Time
}

// Manager tracks live connections and their subscriptions.
//
// A single RWMutex guards the registry and every subscription set, so a
// broadcast snapshot never observes a partially applied subscribe.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[string]*connState
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BroadcastConcurrency < 1 {
		cfg.BroadcastConcurrency = 1
	}

	return &Manager{
		cfg:    cfg,
		logger: logger,
		conns:  make(map[string]*connState),
	}
}

// Register opens conn with an empty subscription set.
// Registering an identity twice returns ErrDuplicateConnection and leaves
// the existing entry untouched.
func (m *Manager) Register(conn Conn) error {
	id := conn.ID()

	m.mu.Lock()
	if _, exists := m.conns[id]; exists {
		m.mu.Unlock()
		m.logger.Error("duplicate connection registration", "conn", id)
		return fmt.Errorf("register %s: %w", id, ErrDuplicateConnection)
	}
	m.conns[id] = &connState{
		conn:     conn,
		state:    StateOpen,
		subs:     make(map[string]struct{}),
		openedAt: time.Now(),
	}
	total := len(m.conns)
	m.mu.Unlock()

	m.logger.Info("websocket connected", "conn", id, "total", total)
	return nil
}

// Unregister removes conn and its subscriptions. No-op if not registered.
func (m *Manager) Unregister(conn Conn) {
	id := conn.ID()

	m.mu.Lock()
	st, ok := m.conns[id]
	if ok {
		st.state = StateClosed
		delete(m.conns, id)
	}
	total := len(m.conns)
	m.mu.Unlock()

	if ok {
		m.logger.Info("websocket disconnected", "conn", id, "total", total)
	}
}

// HandleInbound processes one control frame from conn and sends the reply.
// The returned error is only ever a failure to send that reply.
func (m *Manager) HandleInbound(conn Conn, raw []byte) error {
	reply := m.dispatch(conn, raw)

	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	return conn.Send(data)
}

// dispatch applies a control frame and builds the reply frame. Any panic
// while handling is reported to the client instead of escaping.
func (m *Manager) dispatch(conn Conn, raw []byte) (reply any) {
	var id string
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("error handling websocket message", "conn", id, "panic", r)
			reply = ErrorFrame{Type: TypeError, Message: fmt.Sprint(r)}
		}
	}()
	id = conn.ID()

	var frame ControlFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		m.logger.Debug("invalid control frame", "conn", id, "error", err)
		return ErrorFrame{Type: TypeError, Message: MsgInvalidFormat}
	}

	symbols := frame.Symbols
	if symbols == nil {
		symbols = []string{}
	}

	switch frame.Action {
	case ActionSubscribe:
		m.subscribe(id, symbols)
		return AckFrame{Type: TypeSubscribed, Symbols: symbols}

	case ActionUnsubscribe:
		m.unsubscribe(id, symbols)
		return AckFrame{Type: TypeUnsubscribed, Symbols: symbols}

	default:
		return ErrorFrame{Type: TypeError, Message: fmt.Sprintf("unknown action: %q", frame.Action)}
	}
}

// subscribe adds symbols to the connection's set in one critical section.
func (m *Manager) subscribe(id string, symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.conns[id]
	if !ok {
		return
	}
	for _, s := range symbols {
		st.subs[s] = struct{}{}
	}
}

// unsubscribe removes symbols from the connection's set in one critical section.
func (m *Manager) unsubscribe(id string, symbols []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.conns[id]
	if !ok {
		return
	}
	for _, s := range symbols {
		delete(st.subs, s)
	}
}

// Broadcast delivers message to every registered connection and returns the
// number of successful deliveries. Connections whose send fails are closed
// and unregistered once every send has finished. Failures are logged only.
//
// message is JSON-encoded once; []byte and json.RawMessage are sent as-is.
func (m *Manager) Broadcast(message any) int {
	data, ok := m.encode(message)
	if !ok {
		return 0
	}
	return m.deliver(m.snapshot(""), data)
}

// BroadcastSymbol is Broadcast restricted to connections subscribed to symbol.
func (m *Manager) BroadcastSymbol(symbol string, message any) int {
	data, ok := m.encode(message)
	if !ok {
		return 0
	}
	return m.deliver(m.snapshot(symbol), data)
}

func (m *Manager) encode(message any) ([]byte, bool) {
	switch v := message.(type) {
	case []byte:
		return v, true
	case json.RawMessage:
		return v, true
	}

	data, err := json.Marshal(message)
	if err != nil {
		m.logger.Error("failed to encode broadcast message", "error", err)
		return nil, false
	}
	return data, true
}

// snapshot returns the open connections at this instant, optionally only
// those subscribed to symbol.
func (m *Manager) snapshot(symbol string) []*connState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	targets := make([]*connState, 0, len(m.conns))
	for _, st := range m.conns {
		if st.state != StateOpen {
			continue
		}
		if symbol != "" {
			if _, ok := st.subs[symbol]; !ok {
				continue
			}
		}
		targets = append(targets, st)
	}
	return targets
}

// deliver sends data to every target, then drops the ones that failed.
func (m *Manager) deliver(targets []*connState, data []byte) int {
	if len(targets) == 0 {
		return 0
	}

	var (
		mu     sync.Mutex
		failed []*connState
	)

	var g errgroup.Group
	g.SetLimit(m.cfg.BroadcastConcurrency)

	for _, st := range targets {
		g.Go(func() error {
			if err := st.conn.Send(data); err != nil {
				m.logger.Warn("error broadcasting to connection",
					"conn", st.conn.ID(),
					"error", err,
				)
				mu.Lock()
				failed = append(failed, st)
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	for _, st := range failed {
		m.drop(st)
	}

	return len(targets) - len(failed)
}

// drop unregisters and closes st if it is still the registered entry. An
// entry already removed by Unregister belongs to its owner and is left alone.
func (m *Manager) drop(st *connState) {
	id := st.conn.ID()

	m.mu.Lock()
	cur, ok := m.conns[id]
	removed := ok && cur == st
	if removed {
		delete(m.conns, id)
		st.state = StateClosed
	}
	total := len(m.conns)
	m.mu.Unlock()

	if !removed {
		return
	}

	if err := st.conn.Close(); err != nil {
		m.logger.Debug("close after failed send", "conn", id, "error", err)
	}
	m.logger.Info("websocket dropped after failed send", "conn", id, "total", total)
}

// Subscriptions returns the sorted symbols conn id is subscribed to.
func (m *Manager) Subscriptions(id string) ([]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.conns[id]
	if !ok {
		return nil, false
	}

	symbols := make([]string, 0, len(st.subs))
	for s := range st.subs {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols, true
}

// Count returns the number of registered connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Stats returns current connection and subscription statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := ManagerStats{Connections: len(m.conns)}
	distinct := make(map[string]struct{})
	for _, st := range m.conns {
		stats.Subscriptions += len(st.subs)
		for s := range st.subs {
			distinct[s] = struct{}{}
		}
	}
	stats.Symbols = len(distinct)
	return stats
}

// CloseAll unregisters and closes every connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.conns))
	for id, st := range m.conns {
		st.state = StateClosed
		conns = append(conns, st.conn)
		delete(m.conns, id)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	m.logger.Info("closed all websocket connections", "count", len(conns))
}
