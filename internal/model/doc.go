// Package model defines shared data types used across the market data server.
//
// Conventions:
//   - Symbols: unified "BASE/QUOTE" form (e.g. "BTC/USDT")
//   - Prices and volumes: shopspring decimals, never floats
//   - Timestamps: time.Time in UTC; Datetime strings are ISO 8601 with milliseconds
package model
