package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultInstanceID           = "crypto-market-server"
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 8000
	DefaultReadTimeout          = 15 * time.Second
	DefaultWriteTimeout         = 30 * time.Second
	DefaultIdleTimeout          = 60 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultWSWriteTimeout       = 5 * time.Second
	DefaultWSPingInterval       = 30 * time.Second
	DefaultWSPongTimeout        = 60 * time.Second
	DefaultWSReadLimit          = 64 * 1024
	DefaultBroadcastConcurrency = 32
	DefaultCacheTTL             = 60 * time.Second
	DefaultCacheMaxSize         = 1000
	DefaultExchangeTimeout      = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultReloadInterval       = time.Hour
	DefaultLoadTimeout          = 30 * time.Second
	DefaultFeedInterval         = 10 * time.Second
	DefaultFeedConcurrency      = 8
	DefaultFeedTimeout          = 10 * time.Second
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultBufferSize           = 10000
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisTTL             = 5 * time.Minute
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

// DefaultAllowedOrigins are the CORS origins used when none are configured.
var DefaultAllowedOrigins = []string{
	"https://crypto-dashboard.vercel.app",
	"http://localhost:3000",
	"http://localhost:5173",
}

// DefaultExchanges are enabled when the exchanges list is empty.
var DefaultExchanges = []string{"binance", "coinbase", "kraken"}

func (c *Config) applyDefaults() {
	if c.Instance.ID == "" {
		c.Instance.ID = DefaultInstanceID
	}

	// Server defaults
	if c.Server.Host == "" {
		c.Server.Host = DefaultHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = append([]string(nil), DefaultAllowedOrigins...)
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = DefaultReadTimeout
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = DefaultWriteTimeout
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = DefaultIdleTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// WebSocket defaults
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = DefaultWSWriteTimeout
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = DefaultWSPingInterval
	}
	if c.WebSocket.PongTimeout == 0 {
		c.WebSocket.PongTimeout = DefaultWSPongTimeout
	}
	if c.WebSocket.ReadLimit == 0 {
		c.WebSocket.ReadLimit = DefaultWSReadLimit
	}
	if c.WebSocket.BroadcastConcurrency == 0 {
		c.WebSocket.BroadcastConcurrency = DefaultBroadcastConcurrency
	}

	// Cache defaults
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = DefaultCacheMaxSize
	}

	// Exchange defaults
	if len(c.Exchanges) == 0 {
		for _, id := range DefaultExchanges {
			c.Exchanges = append(c.Exchanges, ExchangeConfig{ID: id})
		}
	}
	for i := range c.Exchanges {
		if c.Exchanges[i].Timeout == 0 {
			c.Exchanges[i].Timeout = DefaultExchangeTimeout
		}
		if c.Exchanges[i].MaxRetries == 0 {
			c.Exchanges[i].MaxRetries = DefaultMaxRetries
		}
	}
	if c.Markets.ReloadInterval == 0 {
		c.Markets.ReloadInterval = DefaultReloadInterval
	}
	if c.Markets.LoadTimeout == 0 {
		c.Markets.LoadTimeout = DefaultLoadTimeout
	}

	// Feed defaults
	if c.Feed.Interval == 0 {
		c.Feed.Interval = DefaultFeedInterval
	}
	if c.Feed.Concurrency == 0 {
		c.Feed.Concurrency = DefaultFeedConcurrency
	}
	if c.Feed.Timeout == 0 {
		c.Feed.Timeout = DefaultFeedTimeout
	}

	// Database defaults
	applyDBDefaults(&c.Database.Postgres)

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = DefaultRedisTTL
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
