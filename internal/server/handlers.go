package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rickgao/crypto-market-server/internal/model"
	"github.com/rickgao/crypto-market-server/internal/version"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Timestamp  time.Time      `json:"timestamp"`
		Service    string         `json:"service"`
		Version    string         `json:"version"`
		Uptime     string         `json:"uptime"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Timestamp:  s.now().UTC(),
		Service:    ServiceName,
		Version:    version.Version,
		Uptime:     s.now().Sub(s.started).Round(time.Second).String(),
		Components: make(map[string]any),
	}

	// Check exchanges
	exchanges := s.svc.Exchanges(ctx)
	health.Components["exchanges"] = map[string]any{
		"loaded": len(exchanges),
	}
	if len(exchanges) == 0 {
		health.Status = "degraded"
	}

	health.Components["cache"] = s.cache.Stats()
	health.Components["websocket"] = map[string]any{
		"enabled": s.cfg.WebSocketEnabled,
		"stats":   s.hub.Stats(),
	}

	// Check optional dependencies
	for _, c := range s.checks {
		if err := c.pinger.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components[c.name] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
			continue
		}
		health.Components[c.name] = "connected"
	}

	for _, st := range s.stats {
		health.Components[st.name] = st.fn()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	endpoints := map[string]string{
		"health":     "/health",
		"exchanges":  "/api/exchanges",
		"ticker":     "/api/ticker/{exchange}/{symbol}",
		"historical": "/api/historical",
		"markets":    "/api/markets/{exchange}",
		"cache":      "/api/cache",
		"websocket":  "/ws",
	}
	if s.latest != nil {
		endpoints["latest"] = "/api/latest/{exchange}/{symbol}"
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":      "Cryptocurrency Market Data Server",
		"version":   version.Version,
		"build":     version.Get(),
		"endpoints": endpoints,
	})
}

func (s *Server) handleExchanges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"exchanges": s.svc.Exchanges(r.Context()),
	})
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	exchangeID, symbol := r.PathValue("exchange"), r.PathValue("symbol")

	t, err := s.svc.Ticker(r.Context(), exchangeID, symbol)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleHistorical(w http.ResponseWriter, r *http.Request) {
	var req model.HistoricalRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", model.ErrInvalidRequest, err))
		return
	}

	data, err := s.svc.Historical(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, data)
}

func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := s.svc.Markets(r.Context(), r.PathValue("exchange"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, markets)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	t, err := s.latest.Get(r.Context(), r.PathValue("exchange"), r.PathValue("symbol"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	before := s.cache.Stats().Size
	s.cache.Clear()
	s.logger.Info("response cache cleared", "entries", before)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"cleared": before,
	})
}
