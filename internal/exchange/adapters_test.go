package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(server.URL, WithRetries(0, time.Millisecond), WithLogger(discardLogger()))
}

func wantDecimal(t *testing.T, field string, got decimal.NullDecimal, want string) {
	t.Helper()
	if !got.Valid {
		t.Errorf("%s is null, want %s", field, want)
		return
	}
	if !got.Decimal.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s = %s, want %s", field, got.Decimal, want)
	}
}

func TestBinance(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/exchangeInfo", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[
			{"symbol":"ETHUSDT","status":"TRADING","baseAsset":"ETH","quoteAsset":"USDT"},
			{"symbol":"BTCUSDT","status":"TRADING","baseAsset":"BTC","quoteAsset":"USDT"},
			{"symbol":"LUNAUSDT","status":"BREAK","baseAsset":"LUNA","quoteAsset":"USDT"}
		]}`))
	})
	mux.HandleFunc("GET /api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","lastPrice":"42000.10","bidPrice":"41999.90","askPrice":"42000.20",
			"highPrice":"43000.00","lowPrice":"41000.00","volume":"1234.5","closeTime":1705321845123}`))
	})
	mux.HandleFunc("GET /api/v3/klines", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("interval") != "1h" || q.Get("limit") != "2" || q.Get("startTime") != "1705320000000" {
			t.Errorf("unexpected kline query: %s", r.URL.RawQuery)
		}
		w.Write([]byte(`[
			[1705320000000,"1.0","2.0","0.5","1.5","100.0",1705323599999,"0",1,"0","0","0"],
			[1705323600000,"1.5","2.5","1.0","2.0","200.0",1705327199999,"0",1,"0","0","0"]
		]`))
	})

	b := NewBinance(newTestClient(t, mux))
	ctx := context.Background()

	markets, err := b.LoadMarkets(ctx)
	if err != nil {
		t.Fatalf("LoadMarkets failed: %v", err)
	}
	if len(markets) != 3 || markets[0].Symbol != "BTC/USDT" {
		t.Fatalf("markets = %+v, want 3 sorted by symbol", markets)
	}
	for _, m := range markets {
		if m.Symbol == "LUNA/USDT" && m.Active {
			t.Error("LUNA/USDT should be inactive")
		}
	}

	tk, err := b.FetchTicker(ctx, "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	if tk.Exchange != "binance" || tk.Symbol != "BTC/USDT" {
		t.Errorf("ticker identity = %s %s", tk.Exchange, tk.Symbol)
	}
	wantDecimal(t, "last", tk.Last, "42000.10")
	wantDecimal(t, "bid", tk.Bid, "41999.90")
	wantDecimal(t, "volume", tk.Volume, "1234.5")
	if tk.Datetime != "2024-01-15T12:30:45.123Z" {
		t.Errorf("Datetime = %q", tk.Datetime)
	}

	if _, err := b.FetchTicker(ctx, "DOGE/USDT"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown symbol error = %v, want ErrNotFound", err)
	}

	since := time.UnixMilli(1705320000000)
	candles, err := b.FetchOHLCV(ctx, "BTC/USDT", "1h", &since, 2)
	if err != nil {
		t.Fatalf("FetchOHLCV failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if !candles[1].Close.Equal(decimal.RequireFromString("2.0")) {
		t.Errorf("close = %s, want 2.0", candles[1].Close)
	}
	if !candles[0].Timestamp.Equal(since) {
		t.Errorf("timestamp = %v, want %v", candles[0].Timestamp, since)
	}

	if _, err := b.FetchOHLCV(ctx, "BTC/USDT", "2h", nil, 10); !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("bad timeframe error = %v, want ErrUnsupportedTimeframe", err)
	}
}

func TestBinance_UnknownSymbolBeforeLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	})

	b := NewBinance(newTestClient(t, mux))
	_, err := b.FetchTicker(context.Background(), "FOO/BAR")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError in chain, got %T", err)
	}
	if apiErr.Message != "Invalid symbol. (code -1121)" {
		t.Errorf("Message = %q, want the Binance msg and code", apiErr.Message)
	}
}

func TestBinance_OtherErrorsNotMappedToNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1100,"msg":"Illegal characters found in parameter 'symbol'."}`))
	})

	b := NewBinance(newTestClient(t, mux))
	_, err := b.FetchTicker(context.Background(), "BTC/USDT")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want a non-not-found APIError", err)
	}
	if !strings.Contains(err.Error(), "Illegal characters") {
		t.Errorf("error = %v, want the Binance message", err)
	}
}

func TestKraken_EnvelopeErrors(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /0/public/Ticker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":["EGeneral:Internal error"]}`))
	})
	mux.HandleFunc("GET /0/public/OHLC", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
	})

	k := NewKraken(newTestClient(t, mux))
	ctx := context.Background()

	_, err := k.FetchTicker(ctx, "BTC/USD")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "EGeneral:Internal error" || apiErr.NotFound {
		t.Errorf("apiErr = %+v, want the envelope message and NotFound false", apiErr)
	}

	if _, err := k.FetchOHLCV(ctx, "BTC/USD", "1h", nil, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("404 envelope error = %v, want ErrNotFound", err)
	}
}

func TestCoinbase(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"id":"BTC-USD","base_currency":"BTC","quote_currency":"USD","status":"online","trading_disabled":false},
			{"id":"ETH-USD","base_currency":"ETH","quote_currency":"USD","status":"online","trading_disabled":true}
		]`))
	})
	mux.HandleFunc("GET /products/BTC-USD/ticker", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"price":"42000.5","bid":"42000.0","ask":"42001.0","volume":"900.1","time":"2024-01-15T12:30:45.123Z"}`))
	})
	mux.HandleFunc("GET /products/BTC-USD/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"open":"41000","high":"43000","low":"40500","last":"42000.5","volume":"900.1"}`))
	})
	mux.HandleFunc("GET /products/BTC-USD/candles", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("granularity") != "3600" {
			t.Errorf("granularity = %q, want 3600", r.URL.Query().Get("granularity"))
		}
		// Newest first: [time, low, high, open, close, volume]
		w.Write([]byte(`[
			[1705327200, 3.0, 5.0, 4.0, 4.5, 30.0],
			[1705323600, 2.0, 4.0, 3.0, 3.5, 20.0],
			[1705320000, 1.0, 3.0, 2.0, 2.5, 10.0]
		]`))
	})

	c := NewCoinbase(newTestClient(t, mux))
	ctx := context.Background()

	markets, err := c.LoadMarkets(ctx)
	if err != nil {
		t.Fatalf("LoadMarkets failed: %v", err)
	}
	if len(markets) != 2 || markets[1].Active {
		t.Errorf("markets = %+v", markets)
	}

	tk, err := c.FetchTicker(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	wantDecimal(t, "last", tk.Last, "42000.5")
	wantDecimal(t, "high", tk.High, "43000")
	wantDecimal(t, "low", tk.Low, "40500")

	candles, err := c.FetchOHLCV(ctx, "BTC/USD", "1h", nil, 2)
	if err != nil {
		t.Fatalf("FetchOHLCV failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	// Oldest first, trimmed to the most recent two.
	if candles[0].Timestamp.Unix() != 1705323600 {
		t.Errorf("first candle time = %d, want 1705323600", candles[0].Timestamp.Unix())
	}
	if !candles[0].Open.Equal(decimal.NewFromInt(3)) || !candles[0].Low.Equal(decimal.NewFromInt(2)) {
		t.Errorf("candle = %+v, want open 3 low 2", candles[0])
	}

	if _, err := c.FetchOHLCV(ctx, "BTC/USD", "4h", nil, 2); !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("4h error = %v, want ErrUnsupportedTimeframe", err)
	}
	if _, err := c.FetchTicker(ctx, "SOL/USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unlisted symbol error = %v, want ErrNotFound", err)
	}
}

func TestKraken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /0/public/AssetPairs", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":[],"result":{
			"XXBTZUSD":{"altname":"XBTUSD","wsname":"XBT/USD","base":"XXBT","quote":"ZUSD","status":"online"},
			"XETHZUSD":{"altname":"ETHUSD","wsname":"ETH/USD","base":"XETH","quote":"ZUSD","status":"online"},
			"XBTUSD.d":{"altname":"XBTUSD.d","base":"XXBT","quote":"ZUSD"}
		}}`))
	})
	mux.HandleFunc("GET /0/public/Ticker", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("pair") != "XBTUSD" {
			w.Write([]byte(`{"error":["EQuery:Unknown asset pair"]}`))
			return
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":{
			"a":["42001.0","1","1.000"],"b":["42000.0","2","2.000"],"c":["42000.5","0.1"],
			"v":["100.0","2500.5"],"h":["42500.0","43000.0"],"l":["41500.0","40000.0"]}}}`))
	})
	mux.HandleFunc("GET /0/public/OHLC", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("interval") != "60" {
			t.Errorf("interval = %q, want 60", r.URL.Query().Get("interval"))
		}
		w.Write([]byte(`{"error":[],"result":{"XXBTZUSD":[
			[1705320000,"1.0","2.0","0.5","1.5","1.2","10.0",5],
			[1705323600,"1.5","2.5","1.0","2.0","1.8","20.0",7]
		],"last":1705323600}}`))
	})

	k := NewKraken(newTestClient(t, mux))
	ctx := context.Background()

	markets, err := k.LoadMarkets(ctx)
	if err != nil {
		t.Fatalf("LoadMarkets failed: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("got %d markets, want 2", len(markets))
	}
	if markets[0].Symbol != "BTC/USD" || markets[0].ID != "XBTUSD" {
		t.Errorf("markets[0] = %+v, want BTC/USD mapped to XBTUSD", markets[0])
	}

	tk, err := k.FetchTicker(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker failed: %v", err)
	}
	wantDecimal(t, "last", tk.Last, "42000.5")
	wantDecimal(t, "ask", tk.Ask, "42001.0")
	wantDecimal(t, "high", tk.High, "43000.0")
	wantDecimal(t, "volume", tk.Volume, "2500.5")

	if _, err := k.FetchTicker(ctx, "ETH/USD"); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}

	candles, err := k.FetchOHLCV(ctx, "BTC/USD", "1h", nil, 1)
	if err != nil {
		t.Fatalf("FetchOHLCV failed: %v", err)
	}
	if len(candles) != 1 || candles[0].Timestamp.Unix() != 1705323600 {
		t.Fatalf("candles = %+v, want the latest bar only", candles)
	}
	if !candles[0].Volume.Equal(decimal.NewFromInt(20)) {
		t.Errorf("volume = %s, want 20", candles[0].Volume)
	}

	if _, err := k.FetchOHLCV(ctx, "BTC/USD", "6h", nil, 1); !errors.Is(err, ErrUnsupportedTimeframe) {
		t.Errorf("6h error = %v, want ErrUnsupportedTimeframe", err)
	}
}

func TestNewAdapter(t *testing.T) {
	for _, id := range []string{"binance", "Coinbase", "kraken"} {
		a, err := NewAdapter(AdapterConfig{ID: id, Timeout: time.Second, MaxRetries: 1}, nil)
		if err != nil {
			t.Errorf("NewAdapter(%q) failed: %v", id, err)
			continue
		}
		if a.Info().URLs["api"] == "" {
			t.Errorf("%s has no default api url", id)
		}
	}

	if _, err := NewAdapter(AdapterConfig{ID: "mtgox"}, nil); !errors.Is(err, ErrExchangeNotSupported) {
		t.Errorf("NewAdapter(mtgox) error = %v, want ErrExchangeNotSupported", err)
	}
}

func TestNullDecimal(t *testing.T) {
	if nullDecimal("").Valid {
		t.Error("empty string should be null")
	}
	if nullDecimal("abc").Valid {
		t.Error("garbage should be null")
	}
	if d := nullDecimal("0.00000001"); !d.Valid || d.Decimal.String() != "0.00000001" {
		t.Errorf("nullDecimal(0.00000001) = %v", d)
	}
}

func TestCoinbase_UnknownProductBeforeLoad(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/{id}/{endpoint}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"NotFound"}`))
	})

	c := NewCoinbase(newTestClient(t, mux))
	_, err := c.FetchTicker(context.Background(), "FOO/USD")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if !strings.Contains(err.Error(), "NotFound") {
		t.Errorf("error = %v, want the Coinbase message", err)
	}
}
