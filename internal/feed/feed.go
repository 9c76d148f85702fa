package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// MessageType is the type field of published ticker messages.
const MessageType = "ticker"

// TickerSource fetches fresh tickers, bypassing cached values.
type TickerSource interface {
	RefreshTicker(ctx context.Context, exchangeID, symbol string) (model.Ticker, error)
}

// Publisher delivers messages to connected clients.
type Publisher interface {
	Broadcast(message any) int
	BroadcastSymbol(symbol string, message any) int
}

// TickerSink receives every polled ticker.
type TickerSink interface {
	HandleTicker(ctx context.Context, t model.Ticker) error
}

// TickerSinkFunc is a function adapter for TickerSink.
type TickerSinkFunc func(context.Context, model.Ticker) error

func (f TickerSinkFunc) HandleTicker(ctx context.Context, t model.Ticker) error {
	return f(ctx, t)
}

// Target is one (exchange, symbol) pair to poll.
type Target struct {
	Exchange string
	Symbol   string
}

// Message is the frame published for each polled ticker.
type Message struct {
	Type     string       `json:"type"`
	Exchange string       `json:"exchange"`
	Symbol   string       `json:"symbol"`
	Data     model.Ticker `json:"data"`
}

// Config holds feed configuration.
type Config struct {
	Interval             time.Duration // Poll interval (default: 10s)
	Concurrency          int           // Max concurrent fetches (default: 8)
	Timeout              time.Duration // Per-fetch timeout (default: 10s)
	FilterBySubscription bool          // Deliver only to subscribed connections
	Targets              []Target
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    10 * time.Second,
		Concurrency: 8,
		Timeout:     10 * time.Second,
	}
}

// Stats holds feed counters.
type Stats struct {
	Cycles    int64     `json:"cycles"`
	Fetched   int64     `json:"fetched"`
	Errors    int64     `json:"errors"`
	Delivered int64     `json:"delivered"`
	LastCycle time.Time `json:"last_cycle"`
}

// Poller publishes tickers on a fixed interval.
type Poller struct {
	cfg       Config
	source    TickerSource
	publisher Publisher
	sinks     []TickerSink
	logger    *slog.Logger

	cycles    atomic.Int64
	fetched   atomic.Int64
	errors    atomic.Int64
	delivered atomic.Int64
	lastCycle atomic.Int64 // unix nanos

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller. Sinks may be empty.
func New(cfg Config, source TickerSource, publisher Publisher, logger *slog.Logger, sinks ...TickerSink) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Poller{
		cfg:       cfg,
		source:    source,
		publisher: publisher,
		sinks:     sinks,
		logger:    logger,
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run(ctx)

	p.logger.Info("ticker feed started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
		"targets", len(p.cfg.Targets),
		"filter_by_subscription", p.cfg.FilterBySubscription,
	)
	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("ticker feed stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns current counters.
func (p *Poller) Stats() Stats {
	s := Stats{
		Cycles:    p.cycles.Load(),
		Fetched:   p.fetched.Load(),
		Errors:    p.errors.Load(),
		Delivered: p.delivered.Load(),
	}
	if ns := p.lastCycle.Load(); ns != 0 {
		s.LastCycle = time.Unix(0, ns).UTC()
	}
	return s
}

// run is the main polling loop.
func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Poll immediately on start.
	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs a single cycle over all targets.
func (p *Poller) PollOnce(ctx context.Context) {
	if len(p.cfg.Targets) == 0 {
		p.logger.Debug("no feed targets to poll")
		return
	}

	start := time.Now()
	var fetched, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, target := range p.cfg.Targets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := p.poll(gctx, target); err != nil {
				p.logger.Warn("failed to poll ticker",
					"exchange", target.Exchange,
					"symbol", target.Symbol,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			fetched.Add(1)
			return nil
		})
	}
	g.Wait()

	p.cycles.Add(1)
	p.fetched.Add(fetched.Load())
	p.errors.Add(failed.Load())
	p.lastCycle.Store(time.Now().UnixNano())

	p.logger.Debug("feed cycle complete",
		"targets", len(p.cfg.Targets),
		"fetched", fetched.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// poll fetches, publishes and sinks a single ticker.
func (p *Poller) poll(ctx context.Context, target Target) error {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	t, err := p.source.RefreshTicker(ctx, target.Exchange, target.Symbol)
	if err != nil {
		return err
	}

	msg := Message{
		Type:     MessageType,
		Exchange: t.Exchange,
		Symbol:   t.Symbol,
		Data:     t,
	}

	var n int
	if p.cfg.FilterBySubscription {
		n = p.publisher.BroadcastSymbol(t.Symbol, msg)
	} else {
		n = p.publisher.Broadcast(msg)
	}
	p.delivered.Add(int64(n))

	for _, sink := range p.sinks {
		if err := sink.HandleTicker(ctx, t); err != nil {
			p.logger.Warn("ticker sink failed",
				"exchange", t.Exchange,
				"symbol", t.Symbol,
				"error", err,
			)
		}
	}
	return nil
}
