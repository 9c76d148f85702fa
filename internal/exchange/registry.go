package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// RegistryConfig holds Registry configuration.
type RegistryConfig struct {
	ReloadInterval time.Duration // 0 disables periodic reloads
	LoadTimeout    time.Duration // Per-exchange market load timeout
}

// DefaultRegistryConfig returns sensible defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ReloadInterval: time.Hour,
		LoadTimeout:    30 * time.Second,
	}
}

// Registry owns the configured adapters and their market lists. Only
// exchanges whose markets loaded successfully are served.
type Registry struct {
	cfg      RegistryConfig
	adapters []Adapter
	logger   *slog.Logger

	mu      sync.RWMutex
	loaded  map[string][]model.Market
	lastRun time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRegistry creates a Registry over adapters, in display order.
func NewRegistry(cfg RegistryConfig, adapters []Adapter, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		cfg:      cfg,
		adapters: adapters,
		logger:   logger,
		loaded:   make(map[string][]model.Market),
	}
}

// Start loads every exchange's markets and begins periodic reloads. Exchanges
// that fail to load are logged and left out; Start itself only fails if ctx
// is cancelled.
func (r *Registry) Start(ctx context.Context) error {
	start := time.Now()
	r.logger.Info("initializing exchanges", "configured", len(r.adapters))

	r.loadAll(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}

	r.logger.Info("exchanges initialized",
		"loaded", len(r.Supported()),
		"configured", len(r.adapters),
		"duration", time.Since(start),
	)

	if r.cfg.ReloadInterval > 0 {
		loopCtx, cancel := context.WithCancel(ctx)
		r.cancel = cancel

		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.reloadLoop(loopCtx)
		}()
	}

	return nil
}

// Stop halts periodic reloads.
func (r *Registry) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("exchange registry stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Adapter returns the adapter for a loaded exchange.
func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	_, ok := r.loaded[id]
	r.mu.RUnlock()

	if ok {
		for _, a := range r.adapters {
			if a.ID() == id {
				return a, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrExchangeNotSupported, id)
}

// Supported describes the loaded exchanges in configured order.
func (r *Registry) Supported() []model.ExchangeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]model.ExchangeInfo, 0, len(r.loaded))
	for _, a := range r.adapters {
		if _, ok := r.loaded[a.ID()]; ok {
			infos = append(infos, a.Info())
		}
	}
	return infos
}

// Markets returns the markets last loaded for exchange id.
func (r *Registry) Markets(id string) ([]model.Market, error) {
	r.mu.RLock()
	markets, ok := r.loaded[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotSupported, id)
	}
	return markets, nil
}

// LastLoad returns when markets were last (re)loaded.
func (r *Registry) LastLoad() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun
}

// loadAll loads markets for every adapter concurrently. A failure keeps
// whatever was loaded for that exchange before.
func (r *Registry) loadAll(ctx context.Context) {
	var g errgroup.Group

	for _, a := range r.adapters {
		g.Go(func() error {
			loadCtx := ctx
			if r.cfg.LoadTimeout > 0 {
				var cancel context.CancelFunc
				loadCtx, cancel = context.WithTimeout(ctx, r.cfg.LoadTimeout)
				defer cancel()
			}

			markets, err := a.LoadMarkets(loadCtx)
			if err != nil {
				r.logger.Warn("failed to load exchange markets",
					"exchange", a.ID(),
					"error", err,
				)
				return nil
			}

			r.mu.Lock()
			_, existed := r.loaded[a.ID()]
			r.loaded[a.ID()] = markets
			r.mu.Unlock()

			if existed {
				r.logger.Debug("reloaded exchange markets", "exchange", a.ID(), "markets", len(markets))
			} else {
				r.logger.Info("initialized exchange", "exchange", a.ID(), "markets", len(markets))
			}
			return nil
		})
	}
	g.Wait()

	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()
}

// reloadLoop periodically refreshes market lists.
func (r *Registry) reloadLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.loadAll(ctx)
		}
	}
}
