package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/crypto-market-server/internal/cache"
	"github.com/rickgao/crypto-market-server/internal/connection"
	"github.com/rickgao/crypto-market-server/internal/model"
)

// ServiceName identifies this server in health and info responses.
const ServiceName = "crypto-market-server"

// healthTimeout bounds all component checks for one /health request.
const healthTimeout = 5 * time.Second

// MarketService answers market data queries.
type MarketService interface {
	Exchanges(ctx context.Context) []model.ExchangeInfo
	Ticker(ctx context.Context, exchangeID, symbol string) (model.Ticker, error)
	Historical(ctx context.Context, req model.HistoricalRequest) (model.HistoricalData, error)
	Markets(ctx context.Context, exchangeID string) (model.MarketList, error)
}

// CacheAdmin exposes response cache maintenance.
type CacheAdmin interface {
	Stats() cache.Stats
	Clear()
}

// Hub serves WebSocket sessions.
type Hub interface {
	Serve(ctx context.Context, t connection.Transport) error
	Stats() connection.ManagerStats
}

// LatestStore returns the most recent feed ticker.
type LatestStore interface {
	Get(ctx context.Context, exchangeID, symbol string) (model.Ticker, error)
}

// Pinger is a health-checked dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc is a function adapter for Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Config holds HTTP surface settings.
type Config struct {
	AllowedOrigins   []string
	WebSocketEnabled bool
	Socket           connection.SocketConfig
}

// Option configures a Server.
type Option func(*Server)

// WithLatest enables /api/latest backed by store.
func WithLatest(store LatestStore) Option {
	return func(s *Server) {
		s.latest = store
	}
}

// WithHealthCheck adds a named component to /health.
func WithHealthCheck(name string, p Pinger) Option {
	return func(s *Server) {
		s.checks = append(s.checks, healthCheck{name: name, pinger: p})
	}
}

// WithStats adds a named stats source to /health.
func WithStats(name string, stats func() any) Option {
	return func(s *Server) {
		s.stats = append(s.stats, statsSource{name: name, fn: stats})
	}
}

type healthCheck struct {
	name   string
	pinger Pinger
}

type statsSource struct {
	name string
	fn   func() any
}

// Server is the HTTP surface of the market data service.
type Server struct {
	cfg     Config
	svc     MarketService
	cache   CacheAdmin
	hub     Hub
	latest  LatestStore
	checks  []healthCheck
	stats   []statsSource
	origins originSet
	logger  *slog.Logger

	upgrader websocket.Upgrader
	started  time.Time
	now      func() time.Time
}

// New creates a Server.
func New(cfg Config, svc MarketService, c CacheAdmin, hub Hub, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		svc:     svc,
		cache:   c,
		hub:     hub,
		origins: newOriginSet(cfg.AllowedOrigins),
		logger:  logger,
		now:     time.Now,
	}
	s.started = s.now()
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /api/exchanges", s.handleExchanges)
	mux.HandleFunc("GET /api/ticker/{exchange}/{symbol...}", s.handleTicker)
	mux.HandleFunc("POST /api/historical", s.handleHistorical)
	mux.HandleFunc("GET /api/markets/{exchange}", s.handleMarkets)
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("DELETE /api/cache", s.handleCacheClear)
	mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.latest != nil {
		mux.HandleFunc("GET /api/latest/{exchange}/{symbol...}", s.handleLatest)
	}

	return s.logRequests(s.cors(mux))
}
