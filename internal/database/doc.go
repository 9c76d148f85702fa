// Package database manages the PostgreSQL connection used for ticker history.
//
// The server keeps no relational state of its own; Postgres only receives
// the append-only ticker_history table written by the batch writer.
package database
