// Package latest keeps the most recent ticker per (exchange, symbol) in Redis.
//
// The feed writes every polled ticker through HandleTicker; the HTTP layer
// reads it back with Get. Entries expire after the configured TTL so a
// stalled feed surfaces as not found rather than stale prices.
package latest
