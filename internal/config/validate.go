package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must be >= 0")
	}
	if c.Cache.MaxSize < 1 {
		return errors.New("cache.max_size must be >= 1")
	}

	if c.WebSocket.BroadcastConcurrency < 1 {
		return errors.New("websocket.broadcast_concurrency must be >= 1")
	}

	seen := make(map[string]bool, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if ex.ID == "" {
			return fmt.Errorf("exchanges[%d].id is required", i)
		}
		id := strings.ToLower(ex.ID)
		if seen[id] {
			return fmt.Errorf("exchanges[%d].id %q is duplicated", i, ex.ID)
		}
		seen[id] = true
	}

	if c.Feed.Enabled {
		if c.Feed.Concurrency < 1 {
			return errors.New("feed.concurrency must be >= 1")
		}
		if len(c.Feed.Symbols) == 0 {
			return errors.New("feed.symbols is required when the feed is enabled")
		}
		for i, s := range c.Feed.Symbols {
			if s.Exchange == "" || s.Symbol == "" {
				return fmt.Errorf("feed.symbols[%d] needs exchange and symbol", i)
			}
		}
	}

	if c.Database.Enabled {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
		if c.Writer.BatchSize < 1 {
			return errors.New("writer.batch_size must be >= 1")
		}
		if c.Writer.BufferSize < 1 {
			return errors.New("writer.buffer_size must be >= 1")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	if !slices.Contains(validLogLevels, c.Log.Level) {
		return fmt.Errorf("log.level must be one of %v, got %q", validLogLevels, c.Log.Level)
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		return fmt.Errorf("log.format must be one of %v, got %q", validLogFormats, c.Log.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
