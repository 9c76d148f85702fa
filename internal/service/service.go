package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/crypto-market-server/internal/cache"
	"github.com/rickgao/crypto-market-server/internal/exchange"
	"github.com/rickgao/crypto-market-server/internal/model"
)

// fetchTimeout bounds a shared upstream fetch once it is detached from the
// caller that started it.
const fetchTimeout = 30 * time.Second

// Fingerprint kinds.
const (
	KindTicker     = "ticker"
	KindHistorical = "historical"
	KindMarkets    = "markets"
)

// ResponseCache is the subset of the response cache the service needs.
type ResponseCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// Registry resolves exchange ids to adapters.
type Registry interface {
	Adapter(id string) (exchange.Adapter, error)
	Supported() []model.ExchangeInfo
	Markets(id string) ([]model.Market, error)
}

// MarketData serves tickers, candles and market lists.
type MarketData struct {
	cache    ResponseCache
	registry Registry
	logger   *slog.Logger

	flight singleflight.Group
}

// New creates a MarketData service.
func New(c ResponseCache, reg Registry, logger *slog.Logger) *MarketData {
	if logger == nil {
		logger = slog.Default()
	}
	return &MarketData{
		cache:    c,
		registry: reg,
		logger:   logger,
	}
}

// TickerKey is the fingerprint of a ticker query.
func TickerKey(exchangeID, symbol string) string {
	return cache.Fingerprint(KindTicker, exchangeID, symbol)
}

// HistoricalKey is the fingerprint of a historical query. req must have
// defaults applied.
func HistoricalKey(req model.HistoricalRequest) string {
	since := ""
	if req.Since != nil {
		since = strconv.FormatInt(req.Since.UnixMilli(), 10)
	}
	return cache.Fingerprint(KindHistorical,
		req.Exchange, req.Symbol, req.Timeframe, strconv.Itoa(req.Limit), since)
}

// MarketsKey is the fingerprint of a market list query.
func MarketsKey(exchangeID string) string {
	return cache.Fingerprint(KindMarkets, exchangeID)
}

// Exchanges lists the exchanges currently loaded.
func (s *MarketData) Exchanges(ctx context.Context) []model.ExchangeInfo {
	return s.registry.Supported()
}

// Ticker returns the current ticker for symbol on exchangeID.
func (s *MarketData) Ticker(ctx context.Context, exchangeID, symbol string) (model.Ticker, error) {
	return lookup(ctx, s, TickerKey(exchangeID, symbol), func(ctx context.Context) (model.Ticker, error) {
		return s.fetchTicker(ctx, exchangeID, symbol)
	})
}

// RefreshTicker fetches a ticker from the exchange regardless of the cache
// and stores the result.
func (s *MarketData) RefreshTicker(ctx context.Context, exchangeID, symbol string) (model.Ticker, error) {
	key := TickerKey(exchangeID, symbol)

	v, _, err := s.share(ctx, "refresh|"+key, func(ctx context.Context) (any, error) {
		t, err := s.fetchTicker(ctx, exchangeID, symbol)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, t)
		return t, nil
	})
	if err != nil {
		return model.Ticker{}, err
	}
	return v.(model.Ticker), nil
}

// Historical returns OHLCV candles for req. Defaults are applied and the
// request validated before the cache is consulted.
func (s *MarketData) Historical(ctx context.Context, req model.HistoricalRequest) (model.HistoricalData, error) {
	req.ApplyDefaults()
	if err := req.Validate(); err != nil {
		return model.HistoricalData{}, err
	}

	return lookup(ctx, s, HistoricalKey(req), func(ctx context.Context) (model.HistoricalData, error) {
		adapter, err := s.registry.Adapter(req.Exchange)
		if err != nil {
			return model.HistoricalData{}, err
		}

		candles, err := adapter.FetchOHLCV(ctx, req.Symbol, req.Timeframe, req.Since, req.Limit)
		if err != nil {
			return model.HistoricalData{}, err
		}
		if len(candles) == 0 {
			return model.HistoricalData{}, fmt.Errorf("%w: historical data for %s on %s",
				exchange.ErrNotFound, req.Symbol, req.Exchange)
		}

		return model.HistoricalData{
			Exchange:  req.Exchange,
			Symbol:    req.Symbol,
			Timeframe: req.Timeframe,
			Data:      candles,
		}, nil
	})
}

// Markets returns the symbols listed on exchangeID.
func (s *MarketData) Markets(ctx context.Context, exchangeID string) (model.MarketList, error) {
	return lookup(ctx, s, MarketsKey(exchangeID), func(ctx context.Context) (model.MarketList, error) {
		markets, err := s.registry.Markets(exchangeID)
		if err != nil {
			return model.MarketList{}, err
		}
		if len(markets) == 0 {
			return model.MarketList{}, fmt.Errorf("%w: markets for %s", exchange.ErrNotFound, exchangeID)
		}

		symbols := make([]string, len(markets))
		for i, m := range markets {
			symbols[i] = m.Symbol
		}
		return model.MarketList{Exchange: exchangeID, Markets: symbols}, nil
	})
}

func (s *MarketData) fetchTicker(ctx context.Context, exchangeID, symbol string) (model.Ticker, error) {
	adapter, err := s.registry.Adapter(exchangeID)
	if err != nil {
		return model.Ticker{}, err
	}

	t, err := adapter.FetchTicker(ctx, symbol)
	if err != nil {
		return model.Ticker{}, err
	}
	if !t.Last.Valid {
		return model.Ticker{}, fmt.Errorf("%w: ticker for %s on %s", exchange.ErrNotFound, symbol, exchangeID)
	}
	return t, nil
}

// lookup serves key from the cache, or runs fetch once across all concurrent
// callers and caches its result.
func lookup[T any](ctx context.Context, s *MarketData, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if v, ok := s.cache.Get(key); ok {
		if t, ok := v.(T); ok {
			return t, nil
		}
		s.logger.Warn("unexpected cached value type", "key", key, "type", fmt.Sprintf("%T", v))
	}

	v, shared, err := s.share(ctx, key, func(ctx context.Context) (any, error) {
		t, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, t)
		return t, nil
	})
	if err != nil {
		return zero, err
	}

	if shared {
		s.logger.Debug("collapsed concurrent miss", "key", key)
	}
	return v.(T), nil
}

// share runs fn once for all concurrent callers of key. fn gets a context
// that keeps the first caller's values but not its cancellation, bounded by
// fetchTimeout. Each caller stops waiting when its own ctx is done.
func (s *MarketData) share(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, bool, error) {
	ch := s.flight.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return fn(fctx)
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		return r.Val, r.Shared, r.Err
	}
}
