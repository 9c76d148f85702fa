package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize is the capacity of the intake queue.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Received  int64 `json:"received"`
	Dropped   int64 `json:"dropped"`
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
	Flushes   int64 `json:"flushes"`
}

// BatchSender sends a queued batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// tickerRow represents a row for the ticker_history table.
type tickerRow struct {
	Exchange   string
	Symbol     string
	Ts         time.Time
	Last       decimal.NullDecimal
	Bid        decimal.NullDecimal
	Ask        decimal.NullDecimal
	High       decimal.NullDecimal
	Low        decimal.NullDecimal
	Volume     decimal.NullDecimal
	ReceivedAt time.Time
}
