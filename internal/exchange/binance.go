package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// Binance error code for an unknown symbol.
const binanceInvalidSymbol = -1121

// Binance implements Adapter for the Binance spot API.
type Binance struct {
	rest    *Client
	markets marketSet
}

// NewBinance creates a Binance adapter.
func NewBinance(rest *Client) *Binance {
	rest.useErrorDecoder(decodeBinanceError)
	return &Binance{rest: rest}
}

func (b *Binance) ID() string { return "binance" }

func (b *Binance) Info() model.ExchangeInfo {
	return model.ExchangeInfo{
		ID:        "binance",
		Name:      "Binance",
		Enabled:   true,
		Countries: []string{"JP", "MT"},
		URLs: map[string]string{
			"api": b.rest.BaseURL(),
			"www": "https://www.binance.com",
		},
	}
}

type binanceExchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
	} `json:"symbols"`
}

type binanceTicker struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"lastPrice"`
	BidPrice  string `json:"bidPrice"`
	AskPrice  string `json:"askPrice"`
	HighPrice string `json:"highPrice"`
	LowPrice  string `json:"lowPrice"`
	Volume    string `json:"volume"`
	CloseTime int64  `json:"closeTime"`
}

type binanceError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// decodeBinanceError reads {"code":-1121,"msg":"Invalid symbol."} bodies.
func decodeBinanceError(_ int, body []byte) (string, bool) {
	var be binanceError
	if json.Unmarshal(body, &be) != nil || be.Msg == "" {
		return "", false
	}
	return fmt.Sprintf("%s (code %d)", be.Msg, be.Code), be.Code == binanceInvalidSymbol
}

func (b *Binance) LoadMarkets(ctx context.Context) ([]model.Market, error) {
	var resp binanceExchangeInfo
	if err := b.rest.get(ctx, "/api/v3/exchangeInfo", nil, &resp); err != nil {
		return nil, fmt.Errorf("load binance markets: %w", err)
	}

	markets := make([]model.Market, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		markets = append(markets, model.Market{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			ID:     s.Symbol,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	sortMarkets(markets)

	b.markets.replace(markets)
	return markets, nil
}

func (b *Binance) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	m, err := b.markets.resolve(symbol, binanceFallback)
	if err != nil {
		return model.Ticker{}, err
	}

	var raw binanceTicker
	query := url.Values{"symbol": {m.ID}}
	if err := b.rest.get(ctx, "/api/v3/ticker/24hr", query, &raw); err != nil {
		return model.Ticker{}, fmt.Errorf("binance ticker %s: %w", symbol, err)
	}

	ts := time.UnixMilli(raw.CloseTime).UTC()
	return model.Ticker{
		Exchange:  b.ID(),
		Symbol:    symbol,
		Last:      nullDecimal(raw.LastPrice),
		Bid:       nullDecimal(raw.BidPrice),
		Ask:       nullDecimal(raw.AskPrice),
		High:      nullDecimal(raw.HighPrice),
		Low:       nullDecimal(raw.LowPrice),
		Volume:    nullDecimal(raw.Volume),
		Timestamp: ts,
		Datetime:  model.FormatDatetime(ts),
	}, nil
}

func (b *Binance) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]model.Candle, error) {
	if _, err := model.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	m, err := b.markets.resolve(symbol, binanceFallback)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"symbol":   {m.ID},
		"interval": {timeframe},
	}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if since != nil {
		query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}

	var rows [][]json.RawMessage
	if err := b.rest.get(ctx, "/api/v3/klines", query, &rows); err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}

	// [openTime, open, high, low, close, volume, closeTime, ...]
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("binance kline has %d fields", len(row))
		}
		openTime, err := rawInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("binance kline time: %w", err)
		}
		c, err := decodeCandleRow(row, time.UnixMilli(openTime), [5]int{1, 2, 3, 4, 5})
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// binanceFallback derives the native id ("BTCUSDT") from a unified symbol.
func binanceFallback(symbol string) (model.Market, error) {
	base, quote, err := model.SplitSymbol(symbol)
	if err != nil {
		return model.Market{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return model.Market{Symbol: symbol, ID: base + quote, Base: base, Quote: quote, Active: true}, nil
}
