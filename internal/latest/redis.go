package latest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// ErrNotFound is returned when no ticker is stored for the key.
var ErrNotFound = errors.New("latest ticker not found")

// Config holds connection settings for the store.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// client is the subset of *redis.Client used by the store.
type client interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Ping(ctx context.Context) *redis.StatusCmd
	Close() error
}

// RedisStore stores the latest ticker per exchange and symbol.
type RedisStore struct {
	rdb    client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies it with a ping.
func NewRedisStore(ctx context.Context, cfg Config, logger *slog.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return newStore(rdb, cfg.TTL, logger), nil
}

func newStore(rdb client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{rdb: rdb, ttl: ttl, logger: logger}
}

// Key returns the Redis key for an exchange and symbol.
func Key(exchange, symbol string) string {
	return fmt.Sprintf("latest:%s:%s", exchange, symbol)
}

// HandleTicker stores t as the latest ticker for its exchange and symbol.
func (s *RedisStore) HandleTicker(ctx context.Context, t model.Ticker) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode ticker: %w", err)
	}

	key := Key(t.Exchange, t.Symbol)
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get returns the latest stored ticker.
func (s *RedisStore) Get(ctx context.Context, exchange, symbol string) (model.Ticker, error) {
	key := Key(exchange, symbol)
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Ticker{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return model.Ticker{}, fmt.Errorf("redis get %s: %w", key, err)
	}

	var t model.Ticker
	if err := json.Unmarshal(b, &t); err != nil {
		s.logger.Warn("discarding undecodable ticker", "key", key, "error", err)
		return model.Ticker{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return t, nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
