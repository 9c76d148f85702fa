package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrUnsupportedTimeframe = errors.New("unsupported timeframe")
	ErrInvalidSymbol        = errors.New("invalid symbol")
)

// Historical request limits.
const (
	DefaultTimeframe = "1h"
	DefaultLimit     = 100
	MinLimit         = 1
	MaxLimit         = 1000
)

// DatetimeLayout is the ISO 8601 layout used for Ticker.Datetime.
const DatetimeLayout = "2006-01-02T15:04:05.000Z"

// -----------------------------------------------------------------------------
// Market Data
// -----------------------------------------------------------------------------

// Ticker is a point-in-time price snapshot for one symbol on one exchange.
type Ticker struct {
	Exchange  string              `json:"exchange"`
	Symbol    string              `json:"symbol"`
	Last      decimal.NullDecimal `json:"last"`
	Bid       decimal.NullDecimal `json:"bid"`
	Ask       decimal.NullDecimal `json:"ask"`
	High      decimal.NullDecimal `json:"high"`
	Low       decimal.NullDecimal `json:"low"`
	Volume    decimal.NullDecimal `json:"volume"` // Base-currency volume over 24h
	Timestamp time.Time           `json:"timestamp"`
	Datetime  string              `json:"datetime"`
}

// Candle is one OHLCV bar.
type Candle struct {
	Timestamp time.Time       `json:"timestamp"` // Bar open time
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// HistoricalRequest is the body of a historical data query.
type HistoricalRequest struct {
	Exchange  string     `json:"exchange"`
	Symbol    string     `json:"symbol"`
	Timeframe string     `json:"timeframe"`
	Limit     int        `json:"limit"`
	Since     *time.Time `json:"since,omitempty"`
}

// ApplyDefaults fills in the timeframe and limit when omitted.
func (r *HistoricalRequest) ApplyDefaults() {
	if r.Timeframe == "" {
		r.Timeframe = DefaultTimeframe
	}
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
}

// Validate checks the request after defaults have been applied.
func (r *HistoricalRequest) Validate() error {
	if r.Exchange == "" {
		return fmt.Errorf("%w: exchange is required", ErrInvalidRequest)
	}
	if r.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidRequest)
	}
	if r.Limit < MinLimit || r.Limit > MaxLimit {
		return fmt.Errorf("%w: limit must be between %d and %d, got %d",
			ErrInvalidRequest, MinLimit, MaxLimit, r.Limit)
	}
	if _, err := ParseTimeframe(r.Timeframe); err != nil {
		return err
	}
	return nil
}

// HistoricalData is the response to a HistoricalRequest.
type HistoricalData struct {
	Exchange  string   `json:"exchange"`
	Symbol    string   `json:"symbol"`
	Timeframe string   `json:"timeframe"`
	Data      []Candle `json:"data"`
}

// -----------------------------------------------------------------------------
// Reference Data
// -----------------------------------------------------------------------------

// Market describes one tradeable pair on an exchange.
type Market struct {
	Symbol string `json:"symbol"` // Unified symbol (e.g. "BTC/USDT")
	ID     string `json:"id"`     // Exchange-native identifier (e.g. "BTCUSDT")
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// MarketList is the set of symbols an exchange lists.
type MarketList struct {
	Exchange string   `json:"exchange"`
	Markets  []string `json:"markets"`
}

// ExchangeInfo describes a loaded exchange.
type ExchangeInfo struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Enabled   bool              `json:"enabled"`
	Countries []string          `json:"countries"`
	URLs      map[string]string `json:"urls"`
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseTimeframe returns the bar width for a timeframe such as "1h".
func ParseTimeframe(tf string) (time.Duration, error) {
	d, ok := timeframes[tf]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTimeframe, tf)
	}
	return d, nil
}

// SplitSymbol splits a unified "BASE/QUOTE" symbol.
func SplitSymbol(symbol string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(symbol, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return base, quote, nil
}

// FormatDatetime renders t the way Ticker.Datetime expects.
func FormatDatetime(t time.Time) string {
	return t.UTC().Format(DatetimeLayout)
}
