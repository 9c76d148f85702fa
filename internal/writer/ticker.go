package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// flushTimeout bounds a single batch insert.
const flushTimeout = 10 * time.Second

const insertTicker = `
	INSERT INTO ticker_history (exchange, symbol, ts, last, bid, ask, high, low, volume, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (exchange, symbol, ts) DO NOTHING`

// TickerWriter batches tickers into the ticker_history table.
type TickerWriter struct {
	cfg    WriterConfig
	logger *slog.Logger
	now    func() time.Time

	// Intake
	input chan model.Ticker

	// Database
	db BatchSender

	// Batching
	batch   []tickerRow
	batchMu sync.Mutex

	// Lifecycle
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewTickerWriter creates a new TickerWriter.
func NewTickerWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *TickerWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 1
	}
	return &TickerWriter{
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		input:  make(chan model.Ticker, cfg.BufferSize),
		db:     db,
		batch:  make([]tickerRow, 0, cfg.BatchSize),
	}
}

// HandleTicker queues t for writing without blocking. A full queue drops t.
func (w *TickerWriter) HandleTicker(ctx context.Context, t model.Ticker) error {
	select {
	case w.input <- t:
		w.count(func(m *WriterMetrics) { m.Received++ })
	default:
		w.count(func(m *WriterMetrics) { m.Dropped++ })
		w.logger.Debug("ticker queue full, dropping", "exchange", t.Exchange, "symbol", t.Symbol)
	}
	return nil
}

// Start begins consuming tickers and writing to the database.
func (w *TickerWriter) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop(ctx)
	go w.flushLoop(ctx)

	w.logger.Info("ticker writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop drains queued tickers and performs a final flush.
func (w *TickerWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping ticker writer")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("ticker writer stop timed out")
		return ctx.Err()
	}

	// Drain whatever was queued before the loops exited.
drain:
	for {
		select {
		case t := <-w.input:
			w.add(t)
		default:
			break drain
		}
	}
	w.flush()

	w.logger.Info("ticker writer stopped", "inserts", w.Stats().Inserts)
	return nil
}

// Stats returns current metrics.
func (w *TickerWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *TickerWriter) count(f func(*WriterMetrics)) {
	w.batchMu.Lock()
	f(&w.metrics)
	w.batchMu.Unlock()
}

// consumeLoop moves tickers from the queue into the batch.
func (w *TickerWriter) consumeLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-w.input:
			if w.add(t) {
				w.flush()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *TickerWriter) flushLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// add appends t to the batch and reports whether the batch is full.
func (w *TickerWriter) add(t model.Ticker) bool {
	row := w.transform(t)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a ticker to a row.
func (w *TickerWriter) transform(t model.Ticker) tickerRow {
	received := w.now().UTC()
	ts := t.Timestamp.UTC()
	if ts.IsZero() {
		ts = received
	}
	return tickerRow{
		Exchange:   t.Exchange,
		Symbol:     t.Symbol,
		Ts:         ts,
		Last:       t.Last,
		Bid:        t.Bid,
		Ask:        t.Ask,
		High:       t.High,
		Low:        t.Low,
		Volume:     t.Volume,
		ReceivedAt: received,
	}
}

// flush writes the current batch to the database.
func (w *TickerWriter) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]tickerRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.count(func(m *WriterMetrics) { m.Errors++ })
		return
	}

	w.count(func(m *WriterMetrics) {
		m.Inserts += int64(len(batch) - conflicts)
		m.Conflicts += int64(conflicts)
		m.Flushes++
	})

	w.logger.Debug("flushed tickers",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *TickerWriter) batchInsert(ctx context.Context, rows []tickerRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertTicker,
			r.Exchange, r.Symbol, r.Ts,
			r.Last, r.Bid, r.Ask, r.High, r.Low, r.Volume,
			r.ReceivedAt,
		)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
