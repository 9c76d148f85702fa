package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// Kraken OHLC intervals in minutes.
var krakenIntervals = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
	"1w":  10080,
}

// Kraken's legacy currency codes.
var krakenCurrencies = map[string]string{
	"XBT": "BTC",
	"XDG": "DOGE",
}

// Kraken implements Adapter for the Kraken public REST API.
type Kraken struct {
	rest    *Client
	markets marketSet
}

// NewKraken creates a Kraken adapter.
func NewKraken(rest *Client) *Kraken {
	rest.useErrorDecoder(decodeKrakenError)
	return &Kraken{rest: rest}
}

func (k *Kraken) ID() string { return "kraken" }

func (k *Kraken) Info() model.ExchangeInfo {
	return model.ExchangeInfo{
		ID:        "kraken",
		Name:      "Kraken",
		Enabled:   true,
		Countries: []string{"US"},
		URLs: map[string]string{
			"api": k.rest.BaseURL(),
			"www": "https://www.kraken.com",
		},
	}
}

// krakenResponse is Kraken's response envelope. Errors are reported in the
// body with HTTP 200.
type krakenResponse[T any] struct {
	Error  []string `json:"error"`
	Result T        `json:"result"`
}

type krakenPair struct {
	Altname string `json:"altname"`
	Wsname  string `json:"wsname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Status  string `json:"status"`
}

type krakenTicker struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	High   []string `json:"h"`
	Low    []string `json:"l"`
}

const krakenUnknownPair = "Unknown asset pair"

func krakenError(errs []string) (msg string, notFound bool) {
	msg = strings.Join(errs, "; ")
	return msg, strings.Contains(msg, krakenUnknownPair)
}

// decodeKrakenError reads the envelope of non-2xx responses.
func decodeKrakenError(_ int, body []byte) (string, bool) {
	var env krakenResponse[json.RawMessage]
	if json.Unmarshal(body, &env) != nil || len(env.Error) == 0 {
		return "", false
	}
	return krakenError(env.Error)
}

// krakenGet performs a GET and unwraps the envelope. Envelope errors arrive
// with HTTP 200 and are reported as an APIError all the same.
func krakenGet[T any](ctx context.Context, rest *Client, path string, query url.Values) (T, error) {
	var resp krakenResponse[T]
	if err := rest.get(ctx, path, query, &resp); err != nil {
		return resp.Result, err
	}
	if len(resp.Error) > 0 {
		msg, notFound := krakenError(resp.Error)
		return resp.Result, &APIError{StatusCode: http.StatusOK, Message: msg, NotFound: notFound}
	}
	return resp.Result, nil
}

func (k *Kraken) LoadMarkets(ctx context.Context) ([]model.Market, error) {
	pairs, err := krakenGet[map[string]krakenPair](ctx, k.rest, "/0/public/AssetPairs", nil)
	if err != nil {
		return nil, fmt.Errorf("load kraken markets: %w", err)
	}

	markets := make([]model.Market, 0, len(pairs))
	for _, p := range pairs {
		base, quote, ok := strings.Cut(p.Wsname, "/")
		if !ok {
			// Dark pool and other non-spot pairs carry no wsname.
			continue
		}
		base, quote = krakenCurrency(base), krakenCurrency(quote)
		markets = append(markets, model.Market{
			Symbol: base + "/" + quote,
			ID:     p.Altname,
			Base:   base,
			Quote:  quote,
			Active: p.Status == "" || p.Status == "online",
		})
	}
	sortMarkets(markets)

	k.markets.replace(markets)
	return markets, nil
}

func (k *Kraken) FetchTicker(ctx context.Context, symbol string) (model.Ticker, error) {
	m, err := k.markets.resolve(symbol, krakenFallback)
	if err != nil {
		return model.Ticker{}, err
	}

	result, err := krakenGet[map[string]krakenTicker](ctx, k.rest, "/0/public/Ticker", url.Values{"pair": {m.ID}})
	if err != nil {
		return model.Ticker{}, fmt.Errorf("kraken ticker %s: %w", symbol, err)
	}

	var raw krakenTicker
	found := false
	for _, t := range result {
		raw, found = t, true
		break
	}
	if !found {
		return model.Ticker{}, fmt.Errorf("%w: kraken pair %s", ErrNotFound, symbol)
	}

	// Kraken tickers carry no timestamp.
	ts := time.Now().UTC()
	return model.Ticker{
		Exchange:  k.ID(),
		Symbol:    symbol,
		Last:      nullDecimal(at(raw.Last, 0)),
		Bid:       nullDecimal(at(raw.Bid, 0)),
		Ask:       nullDecimal(at(raw.Ask, 0)),
		High:      nullDecimal(at(raw.High, 1)),
		Low:       nullDecimal(at(raw.Low, 1)),
		Volume:    nullDecimal(at(raw.Volume, 1)),
		Timestamp: ts,
		Datetime:  model.FormatDatetime(ts),
	}, nil
}

func (k *Kraken) FetchOHLCV(ctx context.Context, symbol, timeframe string, since *time.Time, limit int) ([]model.Candle, error) {
	if _, err := model.ParseTimeframe(timeframe); err != nil {
		return nil, err
	}
	interval, ok := krakenIntervals[timeframe]
	if !ok {
		return nil, fmt.Errorf("%w: kraken does not offer %q", ErrUnsupportedTimeframe, timeframe)
	}
	m, err := k.markets.resolve(symbol, krakenFallback)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"pair":     {m.ID},
		"interval": {strconv.Itoa(interval)},
	}
	if since != nil {
		query.Set("since", strconv.FormatInt(since.Unix(), 10))
	}

	result, err := krakenGet[map[string]json.RawMessage](ctx, k.rest, "/0/public/OHLC", query)
	if err != nil {
		return nil, fmt.Errorf("kraken ohlc %s: %w", symbol, err)
	}

	var rows [][]json.RawMessage
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("kraken ohlc rows: %w", err)
		}
		break
	}

	// [time, open, high, low, close, vwap, volume, count], oldest first
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			return nil, fmt.Errorf("kraken ohlc row has %d fields", len(row))
		}
		sec, err := rawInt64(row[0])
		if err != nil {
			return nil, fmt.Errorf("kraken ohlc time: %w", err)
		}
		c, err := decodeCandleRow(row, time.Unix(sec, 0), [5]int{1, 2, 3, 4, 6})
		if err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}

	if since != nil && limit > 0 && len(candles) > limit {
		return candles[:limit], nil
	}
	return lastN(candles, limit), nil
}

// krakenFallback derives the pair name ("XBTUSD") from a unified symbol.
func krakenFallback(symbol string) (model.Market, error) {
	base, quote, err := model.SplitSymbol(symbol)
	if err != nil {
		return model.Market{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	native := func(code string) string {
		for k, v := range krakenCurrencies {
			if v == code {
				return k
			}
		}
		return code
	}
	return model.Market{Symbol: symbol, ID: native(base) + native(quote), Base: base, Quote: quote, Active: true}, nil
}

func krakenCurrency(code string) string {
	if c, ok := krakenCurrencies[code]; ok {
		return c
	}
	return code
}

// at returns s[i] or "" when out of range.
func at(s []string, i int) string {
	if i < len(s) {
		return s[i]
	}
	return ""
}
