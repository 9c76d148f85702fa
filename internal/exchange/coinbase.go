package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// Coinbase returns at most this many candles per request.
const coinbaseMaxCandles = 300

// Coinbase candle granularities in seconds.
var coinbaseGranularity = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"6h":  21600,
	"1d":  86400,
}

// Coinbase implements Adapter for the Coinbase Exchange API.
type Coinbase struct {
	rest    *Client
	markets marketSet
}

// NewCoinbase creates a Coinbase adapter.
func NewCoinbase(rest *Client) *Coinbase {
	rest.useErrorDecoder(decodeCoinbaseError)
	return &Coinbase{rest: rest}
}

// decodeCoinbaseError reads {"message":"NotFound"} bodies. Unknown products
// answer 404.
func decodeCoinbaseError(status int, body []byte) (string, bool) {
	var ce struct {
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &ce)
	return ce.Message, status == http.StatusNotFound
}

func (c *Coinbase) ID() string { return "coinbase" }

func (c *Coinbase) Info() model.ExchangeInfo {
	return model.ExchangeInfo{
		ID:        "coinbase",
		Name:      "Coinbase Exchange",
		Enabled:   true,
		Countries: []string{"US"},
		URLs: map[string]string{
			"api": c.rest.BaseURL(),
			"www": "https://www.coinbase.com",
		},
	}
}

type coinbaseProduct struct {
	ID              string `json:"id"`
	BaseCurrency    string `json:"base_currency"`
	QuoteCurrency   string `json:"quote_currency"`
	Status          string `json:"status"`
	TradingDisabled bool   `json:"trading_disabled"`
}

type coinbaseTicker struct {
	Price  string    `json:"price"`
	Bid    string    `json:"bid"`
	Ask    string    `json:"ask"`
	Volume string    `json:"volume"`
	Time   time.Time `json:"time"`
}

type coinbaseStats struct {
	High   string `json:"high"`
	Low    string `json:"low"`
	Volume string `json:"volume"`
}

func (c *Coinbase) LoadMarkets(ctx context.Context) ([]model.Market, error) {
	var products []coinbaseProduct
	if err := c.rest.get(ctx, "/products", nil, &products); err != nil {
		return nil, fmt.Errorf("load coinbase markets: %w", err)
	}

	markets := make([]model.Market, 0, len(products))
	for _, p := range products {
		markets = append(markets, model.Market{
			Symbol: p.BaseCurrency + "/" + p.QuoteCurrency,
			ID:     p.ID,
			Base:   p.BaseCurrency,
			Quote:  p.QuoteCurrency,
			Active: p.Status == "online" && !p.TradingDisabled,
		})
	}
	sortMarkets(markets)

	c.markets.replace(markets)
	return markets, nil
}

// FetchTicker combines the product ticker (last, bid, ask) with the 24h
// stats (high, low), fetched concurrently.
func (c *Coinbase) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	m, err := c.markets.resolve(symbol, coinbaseFallback)
	if err != nil {
		return model.Ticker{}, err
	}

	var (
		tick  coinbaseTicker
		stats coinbaseStats
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.rest.get(gctx, "/products/"+url.PathEscape(m.ID)+"/ticker", nil, &tick)
	})
	g.Go(func() error {
		return c.rest.get(gctx, "/products/"+url.PathEscape(m.ID)+"/stats", nil, &stats)
	})
	if err := g.Wait(); err != nil {
		return model.Ticker{}, fmt.Errorf("coinbase ticker %s: %w", symbol, err)
	}

	ts := tick.Time.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	volume := tick.Volume
	if volume == "" {
		volume = stats.Volume
	}

	return model.Ticker{
		Exchange:  c.ID(),
		Symbol:    symbol,
		Last:      nullDecimal(tick.Price),
		Bid:       nullDecimal(tick.Bid),
		Ask:       nullDecimal(tick.Ask),
		High:      nullDecimal(stats.High),
		Low:       nullDecimal(stats.Low),
		Volume:    nullDecimal(volume),
		Timestamp: ts,
		Datetime:  model.FormatDatetime(ts),
	}, nil
}

func (c *Coinbase) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]model.Candle, error) {
	if _, err := model.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	gran, ok := coinbaseGranularity[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: coinbase does not offer %q", ErrUnsupportedTimeframe, timeframe)
	}
	m, err := c.markets.resolve(symbol, coinbaseFallback)
	if err != nil {
		return nil, err
	}

	if limit <= 0 || limit > coinbaseMaxCandles {
		limit = coinbaseMaxCandles
	}

	query := url.Values{"granularity": {strconv.Itoa(gran)}}
	if since != nil {
		end := since.Add(time.Duration(limit*gran) * time.Second)
		query.Set("start", since.UTC().Format(time.RFC3339))
		query.Set("end", end.UTC().Format(time.RFC3339))
	}

	var rows [][]json.RawMessage
	if err := c.rest.get(ctx, "/products/"+url.PathEscape(m.ID)+"/candles", query, &rows); err != nil {
		return nil, fmt.Errorf("coinbase candles %s: %w", symbol, err)
	}

	// [time, low, high, open, close, volume], newest first
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("coinbase candle has %d fields", len(row))
		}
		sec, err := rawInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("coinbase candle time: %w", err)
		}
		candle, err := decodeCandleRow(row, time.Unix(sec, 0), [5]int{3, 2, 1, 4, 5})
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	slices.Reverse(candles)

	if since != nil && len(candles) > limit {
		return candles[:limit], nil
	}
	return lastN(candles, limit), nil
}

// coinbaseFallback derives the product id ("BTC-USD") from a unified symbol.
func coinbaseFallback(symbol string) (model.Market, error) {
	base, quote, err := model.SplitSymbol(symbol)
	if err != nil {
		return model.Market{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return model.Market{Symbol: symbol, ID: base + "-" + quote, Base: base, Quote: quote, Active: true}, nil
}
