package connection

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/gorilla/websocket"
)

// Serve runs the receive loop for t until the client disconnects, a reply
// cannot be sent, or ctx is cancelled. Frames are handled one at a time in
// arrival order. t is registered on entry and unregistered and closed on exit.
func (m *Manager) Serve(ctx context.Context, t Transport) error {
	if err := m.Register(t); err != nil {
		t.Close()
		return err
	}
	defer func() {
		m.Unregister(t)
		t.Close()
	}()

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { t.Close() })
	defer stop()

	for {
		data, err := t.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isExpectedClose(err) {
				return nil
			}
			m.logger.Warn("websocket read error", "conn", t.ID(), "error", err)
			return nil
		}

		if err := m.HandleInbound(t, data); err != nil {
			m.logger.Warn("failed to send reply", "conn", t.ID(), "error", err)
			return fmt.Errorf("reply to %s: %w", t.ID(), err)
		}
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, ErrAlreadyClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
