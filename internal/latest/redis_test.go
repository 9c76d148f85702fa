package latest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rickgao/crypto-market-server/internal/model"
)

// memClient is an in-memory stand-in for *redis.Client.
type memClient struct {
	data    map[string]string
	ttls    map[string]time.Duration
	failSet error
	pingErr error
	closed  bool
}

func newMemClient() *memClient {
	return &memClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memClient) Set(ctx context.Context, key string, value interface{}, exp time.Duration) *redis.StatusCmd {
	if m.failSet != nil {
		return redis.NewStatusResult("", m.failSet)
	}
	switch v := value.(type) {
	case []byte:
		m.data[key] = string(v)
	case string:
		m.data[key] = v
	}
	m.ttls[key] = exp
	return redis.NewStatusResult("OK", nil)
}

func (m *memClient) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memClient) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", m.pingErr)
}

func (m *memClient) Close() error {
	m.closed = true
	return nil
}

func TestKey(t *testing.T) {
	if got := Key("binance", "BTC/USDT"); got != "latest:binance:BTC/USDT" {
		t.Errorf("Key = %q", got)
	}
}

func TestRedisStore_HandleTickerAndGet(t *testing.T) {
	rdb := newMemClient()
	s := newStore(rdb, 5*time.Minute, nil)
	ctx := context.Background()

	ts := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	in := model.Ticker{
		Exchange:  "binance",
		Symbol:    "BTC/USDT",
		Last:      decimal.NewNullDecimal(decimal.RequireFromString("42000.12")),
		Timestamp: ts,
		Datetime:  model.FormatDatetime(ts),
	}
	if err := s.HandleTicker(ctx, in); err != nil {
		t.Fatalf("HandleTicker: %v", err)
	}

	if ttl := rdb.ttls["latest:binance:BTC/USDT"]; ttl != 5*time.Minute {
		t.Errorf("ttl = %v, want 5m", ttl)
	}

	out, err := s.Get(ctx, "binance", "BTC/USDT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.Last.Valid || !out.Last.Decimal.Equal(in.Last.Decimal) {
		t.Errorf("Last = %v, want %v", out.Last, in.Last)
	}
	if out.Bid.Valid {
		t.Error("Bid should stay null")
	}
	if !out.Timestamp.Equal(ts) {
		t.Errorf("Timestamp = %v, want %v", out.Timestamp, ts)
	}
	if out.Datetime != in.Datetime {
		t.Errorf("Datetime = %q, want %q", out.Datetime, in.Datetime)
	}
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := newStore(newMemClient(), time.Minute, nil)

	_, err := s.Get(context.Background(), "kraken", "ETH/USD")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_GetCorrupt(t *testing.T) {
	rdb := newMemClient()
	rdb.data[Key("kraken", "ETH/USD")] = "{not json"
	s := newStore(rdb, time.Minute, nil)

	_, err := s.Get(context.Background(), "kraken", "ETH/USD")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRedisStore_SetError(t *testing.T) {
	rdb := newMemClient()
	rdb.failSet = errors.New("connection reset")
	s := newStore(rdb, time.Minute, nil)

	err := s.HandleTicker(context.Background(), model.Ticker{Exchange: "binance", Symbol: "BTC/USDT"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, rdb.failSet) {
		t.Errorf("err = %v, want wrapped %v", err, rdb.failSet)
	}
}

func TestRedisStore_PingClose(t *testing.T) {
	rdb := newMemClient()
	s := newStore(rdb, time.Minute, nil)

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
	rdb.pingErr = errors.New("down")
	if err := s.Ping(context.Background()); err == nil {
		t.Error("Ping should fail")
	}

	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if !rdb.closed {
		t.Error("client not closed")
	}
}
