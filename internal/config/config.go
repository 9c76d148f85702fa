package config

import "time"

// Config is the root configuration for a market data server.
type Config struct {
	Instance  InstanceConfig   `yaml:"instance"`
	Server    ServerConfig     `yaml:"server"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
	Cache     CacheConfig      `yaml:"cache"`
	Exchanges []ExchangeConfig `yaml:"exchanges"`
	Markets   MarketsConfig    `yaml:"markets"`
	Feed      FeedConfig       `yaml:"feed"`
	Database  DatabaseConfig   `yaml:"database"`
	Writer    WriterConfig     `yaml:"writer"`
	Redis     RedisConfig      `yaml:"redis"`
	Log       LogConfig        `yaml:"log"`
}

// InstanceConfig identifies this server.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebSocketConfig holds /ws endpoint settings.
type WebSocketConfig struct {
	Enabled              *bool         `yaml:"enabled"` // nil = enabled
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	ReadLimit            int64         `yaml:"read_limit"`
	BroadcastConcurrency int           `yaml:"broadcast_concurrency"`
}

// IsEnabled reports whether the WebSocket endpoint accepts clients.
func (w WebSocketConfig) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxSize       int           `yaml:"max_size"`
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 = lazy expiry only
}

// ExchangeConfig configures one exchange adapter.
type ExchangeConfig struct {
	ID         string        `yaml:"id"`
	RestURL    string        `yaml:"rest_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// MarketsConfig holds market list loading settings.
type MarketsConfig struct {
	ReloadInterval time.Duration `yaml:"reload_interval"`
	LoadTimeout    time.Duration `yaml:"load_timeout"`
}

// FeedConfig holds live ticker feed settings.
type FeedConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Interval             time.Duration `yaml:"interval"`
	Concurrency          int           `yaml:"concurrency"`
	Timeout              time.Duration `yaml:"timeout"`
	FilterBySubscription bool          `yaml:"filter_by_subscription"`
	Symbols              []FeedSymbol  `yaml:"symbols"`
}

// FeedSymbol is one (exchange, symbol) pair the feed polls.
type FeedSymbol struct {
	Exchange string `yaml:"exchange"`
	Symbol   string `yaml:"symbol"`
}

// DatabaseConfig holds the Postgres connection for ticker history.
type DatabaseConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// RedisConfig holds the latest-ticker store settings.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
