package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// applyEnv overrides file settings with the service's environment variables.
// CACHE_TTL is in seconds.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("HOST"); ok && v != "" {
		c.Server.Host = v
	}
	if v, ok := lookup("ALLOWED_ORIGINS"); ok && v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CACHE_TTL: %w", err)
		}
		c.Cache.TTL = time.Duration(secs) * time.Second
	}
	if v, ok := lookup("CACHE_MAX_SIZE"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CACHE_MAX_SIZE: %w", err)
		}
		c.Cache.MaxSize = n
	}
	if v, ok := lookup("WS_ENABLED"); ok && v != "" {
		enabled := strings.EqualFold(v, "true")
		c.WebSocket.Enabled = &enabled
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
