package mexc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mobelieve/mexc-triarb/internal/crypto"
	"github.com/mobelieve/mexc-triarb/internal/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:      srv.URL,
		Credentials:  domain.Credentials{APIKey: "test-key", SecretKey: "test-secret"},
		RecvWindowMs: 5000,
		Timeout:      2 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, srv
}

// verifySignature recomputes the signature over every query parameter except
// the signature itself.
func verifySignature(t *testing.T, r *http.Request, secret string) {
	t.Helper()
	q := r.URL.Query()
	params := make(map[string]string, len(q))
	for k := range q {
		params[k] = q.Get(k)
	}
	require.Contains(t, params, "signature")
	assert.Equal(t, crypto.SignRequest(secret, params), params["signature"])
}

func TestGetPrice(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/price", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Empty(t, r.Header.Get(apiKeyHeader), "price endpoint is unsigned")
		assert.Empty(t, r.URL.Query().Get("signature"))
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"50000.12"}`)
	})

	q, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", q.Symbol)
	assert.True(t, q.Price.Equal(decimal.RequireFromString("50000.12")))
	assert.False(t, q.ObservedAt.IsZero())
}

func TestGetPrice_UnknownSymbol(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	})

	_, err := c.GetPrice(context.Background(), "NOPE")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPrice_BadPayload(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","price":"0"}`)
	})

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetPrice_TimeoutIsNetworkError(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c.timeout = 50 * time.Millisecond

	start := time.Now()
	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetPrice_ServerErrorIsNetworkError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrNetwork)
}

func TestGetAccountInfo(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/v3/account", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(apiKeyHeader))
		assert.Equal(t, "1700000000000", r.URL.Query().Get("timestamp"))
		assert.Equal(t, "5000", r.URL.Query().Get("recvWindow"))
		verifySignature(t, r, "test-secret")
		_, _ = io.WriteString(w, `{"canTrade":true,"accountType":"SPOT","updateTime":1700000000000,
			"balances":[{"asset":"USDT","free":"1500.5","locked":"0"},{"asset":"BTC","free":"0.01","locked":"0.002"}]}`)
	})

	info, err := c.GetAccountInfo(context.Background())
	require.NoError(t, err)
	assert.True(t, info.CanTrade)
	assert.Equal(t, "SPOT", info.AccountType)
	require.Len(t, info.Balances, 2)
	assert.True(t, info.Free("USDT").Equal(decimal.RequireFromString("1500.5")))
	assert.True(t, info.Free("ETH").IsZero())
}

func TestGetAccountInfo_BadSignature(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":700002,"msg":"Signature for this request is not valid."}`)
	})

	_, err := c.GetAccountInfo(context.Background())
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestPlaceLimitOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v3/order", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get(apiKeyHeader))
		q := r.URL.Query()
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "BUY", q.Get("side"))
		assert.Equal(t, "LIMIT", q.Get("type"))
		assert.Equal(t, "0.03", q.Get("quantity"))
		assert.Equal(t, "50000", q.Get("price"))
		assert.Equal(t, "GTC", q.Get("timeInForce"))
		verifySignature(t, r, "test-secret")
		_, _ = io.WriteString(w, `{"symbol":"BTCUSDT","orderId":"C02__123","orderListId":-1,"price":"50000","origQty":"0.03","type":"LIMIT","side":"BUY","transactTime":1700000000001}`)
	})

	res, err := c.PlaceLimitOrder(context.Background(), domain.OrderRequest{
		Symbol:      "BTCUSDT",
		Side:        domain.OrderSideBuy,
		Quantity:    decimal.RequireFromString("0.03"),
		Price:       decimal.RequireFromString("50000"),
		TimeInForce: domain.TimeInForceGTC,
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, "C02__123", res.ExchangeOrderID)
	assert.Equal(t, domain.OrderStatusAccepted, res.Status)
}

func TestPlaceLimitOrder_NumericOrderID(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"symbol":"ETHBTC","orderId":987654321012}`)
	})

	res, err := c.PlaceLimitOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETHBTC", Side: domain.OrderSideBuy,
		Quantity: decimal.RequireFromString("0.6"), Price: decimal.RequireFromString("0.05"),
	})
	require.NoError(t, err)
	assert.Equal(t, "987654321012", res.ExchangeOrderID)
}

func TestPlaceLimitOrder_RejectedIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"code":30004,"msg":"Insufficient position"}`)
	})

	res, err := c.PlaceLimitOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderSideSell,
		Quantity: decimal.RequireFromString("0.6"), Price: decimal.RequireFromString("3000"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOrderRejected)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.OrderStatusRejected, res.Status)
	assert.Contains(t, res.RawResponse, "Insufficient position")
	assert.EqualValues(t, 1, hits.Load())
}

func TestPlaceLimitOrder_ServerErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	res, err := c.PlaceLimitOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderSideSell,
		Quantity: decimal.RequireFromString("0.6"), Price: decimal.RequireFromString("3000"),
	})
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, domain.OrderStatusFailed, res.Status)
	assert.EqualValues(t, 1, hits.Load())
}

func TestPlaceLimitOrder_InvalidRequestNeverSent(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := c.PlaceLimitOrder(context.Background(), domain.OrderRequest{
		Symbol: "ETHUSDT", Side: domain.OrderSideSell, Quantity: decimal.Zero, Price: decimal.NewFromInt(1),
	})
	assert.True(t, errors.Is(err, domain.ErrInvalidOrder))
	assert.EqualValues(t, 0, hits.Load())
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}

func (denyLimiter) Wait(ctx context.Context, _ string, _ int, _ time.Duration) error {
	return errors.New("limit exceeded")
}

func TestRateLimiterBlocksRequest(t *testing.T) {
	var hits atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})
	c.SetRateLimiter(denyLimiter{}, 10, time.Second)

	_, err := c.GetPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrRateLimited)
	assert.EqualValues(t, 0, hits.Load())
}
