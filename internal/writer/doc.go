// Package writer records ticker history to PostgreSQL.
//
// Tickers arrive through a bounded queue; when the queue is full new tickers
// are dropped and counted so the feed never blocks on the database. Rows are
// flushed with pgx.Batch when the batch fills or the flush interval elapses,
// using append-only INSERT ... ON CONFLICT DO NOTHING semantics.
package writer
