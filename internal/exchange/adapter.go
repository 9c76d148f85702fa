package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// Errors
var (
	ErrNotFound             = errors.New("not found")
	ErrExchangeNotSupported = errors.New("exchange not supported")
	ErrUnsupportedTimeframe = model.ErrUnsupportedTimeframe
)

// Adapter is one exchange's public market data API.
type Adapter interface {
	// ID returns the lowercase exchange identifier (e.g. "binance").
	ID() string

	// Info describes the exchange.
	Info() model.ExchangeInfo

	// LoadMarkets fetches the exchange's tradeable pairs and caches them
	// for symbol resolution.
	LoadMarkets(ctx context.Context) ([]model.Market, error)

	// FetchTicker returns the current ticker for a unified symbol.
	FetchTicker(ctx context.Context, symbol string) (model.Ticker, error)

	// FetchOHLCV returns up to limit candles, oldest first. since is
	// optional; when nil the most recent candles are returned.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]model.Candle, error)
}

// AdapterConfig configures a single exchange adapter.
type AdapterConfig struct {
	ID         string
	RESTURL    string        // Empty uses the exchange's public endpoint
	Timeout    time.Duration // HTTP timeout per request
	MaxRetries int
}

// NewAdapter builds the adapter for cfg.ID.
func NewAdapter(cfg AdapterConfig, logger *slog.Logger) (Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	id := strings.ToLower(cfg.ID)
	baseURL := cfg.RESTURL
	if baseURL == "" {
		baseURL = defaultURLs[id]
	}

	opts := []ClientOption{WithLogger(logger.With("exchange", id))}
	if cfg.Timeout > 0 {
		opts = append(opts, WithTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, WithRetries(cfg.MaxRetries, 500*time.Millisecond))
	}

	switch id {
	case "binance":
		return NewBinance(NewClient(baseURL, opts...)), nil
	case "coinbase":
		return NewCoinbase(NewClient(baseURL, opts...)), nil
	case "kraken":
		return NewKraken(NewClient(baseURL, opts...)), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrExchangeNotSupported, cfg.ID)
	}
}

var defaultURLs = map[string]string{
	"binance":  "https://api.binance.com",
	"coinbase": "https://api.exchange.coinbase.com",
	"kraken":   "https://api.kraken.com",
}

// -----------------------------------------------------------------------------
// Market Set
// -----------------------------------------------------------------------------

// marketSet maps unified symbols to exchange markets.
type marketSet struct {
	mu     sync.RWMutex
	bySym  map[string]model.Market
	loaded bool
}

func (s *marketSet) replace(markets []model.Market) {
	bySym := make(map[string]model.Market, len(markets))
	for _, m := range markets {
		bySym[m.Symbol] = m
	}

	s.mu.Lock()
	s.bySym = bySym
	s.loaded = true
	s.mu.Unlock()
}

// resolve returns the market for symbol. Before the first load every symbol
// resolves to fallback(symbol) so requests still reach the exchange.
func (s *marketSet) resolve(symbol string, fallback func(string) (model.Market, error)) (model.Market, error) {
	s.mu.RLock()
	m, ok := s.bySym[symbol]
	loaded := s.loaded
	s.mu.RUnlock()

	if ok {
		return m, nil
	}
	if loaded {
		return model.Market{}, fmt.Errorf("%w: market %s", ErrNotFound, symbol)
	}
	return fallback(symbol)
}

// sortMarkets orders markets by symbol.
func sortMarkets(markets []model.Market) {
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].Symbol < markets[j].Symbol
	})
}

// -----------------------------------------------------------------------------
// Decoding helpers
// -----------------------------------------------------------------------------

// nullDecimal parses s, treating "" as absent.
func nullDecimal(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// rawDecimal decodes a JSON number or numeric string.
func rawDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// rawInt64 decodes a JSON integer.
func rawInt64(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

// decodeCandleRow decodes one array-shaped OHLCV row. idx gives the positions
// of open, high, low, close and volume in the row.
func decodeCandleRow(row []json.RawMessage, ts time.Time, idx [5]int) (model.Candle, error) {
	var vals [5]decimal.Decimal
	for i, pos := range idx {
		if pos >= len(row) {
			return model.Candle{}, fmt.Errorf("candle row has %d fields", len(row))
		}
		d, err := rawDecimal(row[pos])
		if err != nil {
			return model.Candle{}, fmt.Errorf("candle field %d: %w", pos, err)
		}
		vals[i] = d
	}
	return model.Candle{
		Timestamp: ts.UTC(),
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
	}, nil
}

// lastN returns at most n trailing candles.
func lastN(candles []model.Candle, n int) []model.Candle {
	if n > 0 && len(candles) > n {
		return candles[len(candles)-n:]
	}
	return candles
}
