// wsprobe connects to a market data server's WebSocket and prints frames.
// Usage: go run ./cmd/wsprobe --url ws://localhost:8000/ws --symbols BTC/USDT,ETH/USDT
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/crypto-market-server/internal/connection"
	"github.com/rickgao/crypto-market-server/internal/feed"
	"github.com/rickgao/crypto-market-server/internal/logging"
)

func main() {
	url := flag.String("url", "ws://localhost:8000/ws", "server WebSocket URL")
	symbols := flag.String("symbols", "BTC/USDT", "comma-separated symbols to subscribe to")
	origin := flag.String("origin", "", "Origin header to send")
	verbose := flag.Bool("verbose", false, "print full message JSON")
	flag.Parse()

	logger := logging.New("debug", "text")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	header := http.Header{}
	if *origin != "" {
		header.Set("Origin", *origin)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, *url, header)
	if err != nil {
		logger.Error("failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	logger.Info("connected", "url", *url)

	sub := connection.ControlFrame{
		Action:  connection.ActionSubscribe,
		Symbols: splitSymbols(*symbols),
	}
	if err := conn.WriteJSON(sub); err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}

	// Unblock the reader on shutdown
	go func() {
		<-ctx.Done()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	var frames int
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				logger.Info("server closed connection", "code", closeErr.Code, "reason", closeErr.Text)
			} else if ctx.Err() == nil {
				logger.Error("read failed", "error", err)
			}
			break
		}
		frames++
		printFrame(data, *verbose, logger)
	}

	logger.Info("shutdown complete", "frames", frames)
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printFrame(data []byte, verbose bool, logger *slog.Logger) {
	if verbose {
		fmt.Printf("[FRAME] %s\n", data)
		return
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		logger.Warn("undecodable frame", "error", err, "raw", string(data))
		return
	}

	switch head.Type {
	case feed.MessageType:
		var msg feed.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("undecodable ticker", "error", err)
			return
		}
		fmt.Printf("[TICKER] exchange=%s symbol=%s last=%s bid=%s ask=%s vol=%s\n",
			msg.Exchange, msg.Symbol,
			decimalString(msg.Data.Last.Valid, msg.Data.Last.Decimal.String()),
			decimalString(msg.Data.Bid.Valid, msg.Data.Bid.Decimal.String()),
			decimalString(msg.Data.Ask.Valid, msg.Data.Ask.Decimal.String()),
			decimalString(msg.Data.Volume.Valid, msg.Data.Volume.Decimal.String()),
		)

	case connection.TypeSubscribed, connection.TypeUnsubscribed:
		var ack connection.AckFrame
		json.Unmarshal(data, &ack)
		fmt.Printf("[%s] symbols=%s\n", strings.ToUpper(ack.Type), strings.Join(ack.Symbols, ","))

	case connection.TypeError:
		var e connection.ErrorFrame
		json.Unmarshal(data, &e)
		fmt.Printf("[ERROR] %s\n", e.Message)

	default:
		fmt.Printf("[%s] %s\n", strings.ToUpper(head.Type), data)
	}
}

func decimalString(valid bool, s string) string {
	if !valid {
		return "-"
	}
	return s
}
