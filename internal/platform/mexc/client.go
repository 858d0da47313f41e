// Package mexc is the REST client for the MEXC spot API: account lookup,
// last-trade price and limit order placement.
package mexc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/crypto"
	"github.com/mobelieve/mexc-triarb/internal/domain"
)

const (
	DefaultBaseURL    = "https://api.mexc.com"
	defaultTimeout    = 10 * time.Second
	apiKeyHeader      = "X-MEXC-APIKEY"
	rateLimiterKey    = "mexc:rest"
	maxErrorBodyBytes = 4096
)

// Config holds client construction parameters.
type Config struct {
	BaseURL      string
	Credentials  domain.Credentials
	RecvWindowMs int
	// Timeout bounds every single request, including reading the body.
	Timeout time.Duration
}

// Client is the REST client for the MEXC spot API. It is safe for concurrent
// use; credentials are read-only after construction.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
	recvWindow int
	timeout    time.Duration
	logger     *slog.Logger

	limiter     domain.RateLimiter
	limitPerWin int
	limitWindow time.Duration
	now         func() time.Time
}

// NewClient creates a new MEXC REST client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		auth: &crypto.HMACAuth{
			APIKey:    cfg.Credentials.APIKey,
			SecretKey: cfg.Credentials.SecretKey,
		},
		recvWindow: cfg.RecvWindowMs,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "mexc_client")),
		now:        time.Now,
	}
}

// SetRateLimiter throttles outgoing requests to limit per window using a
// shared limiter. Passing nil disables throttling.
func (c *Client) SetRateLimiter(rl domain.RateLimiter, limit int, window time.Duration) {
	c.limiter = rl
	c.limitPerWin = limit
	c.limitWindow = window
}

// GetAccountInfo fetches the signed account snapshot. It is used to verify
// credentials before a loop starts.
func (c *Client) GetAccountInfo(ctx context.Context) (domain.AccountInfo, error) {
	params := map[string]string{}
	c.addRecvWindow(params)

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", params)
	if err != nil {
		return domain.AccountInfo{}, fmt.Errorf("mexc: get account: %w", err)
	}

	var acct APIAccount
	if err := json.Unmarshal(body, &acct); err != nil {
		return domain.AccountInfo{}, fmt.Errorf("mexc: decode account: %w", err)
	}
	return acct.ToDomainAccountInfo(), nil
}

// GetPrice returns the last-trade price for symbol. The price must parse as
// a positive decimal.
func (c *Client) GetPrice(ctx context.Context, symbol string) (domain.PriceQuote, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	body, err := c.do(ctx, http.MethodGet, "/api/v3/ticker/price?"+q.Encode(), false)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("mexc: get price %s: %w", symbol, err)
	}

	var tp APITickerPrice
	if err := json.Unmarshal(body, &tp); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("mexc: decode price %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(tp.Price))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("mexc: parse price %s %q: %w", symbol, tp.Price, err)
	}
	if !price.IsPositive() {
		return domain.PriceQuote{}, fmt.Errorf("mexc: price %s: %w: non-positive price %s", symbol, domain.ErrNotFound, price)
	}

	return domain.PriceQuote{
		Symbol:     symbol,
		Price:      price,
		ObservedAt: c.now().UTC(),
	}, nil
}

// PlaceLimitOrder submits a signed GTC limit order. It only reports whether
// the exchange accepted the submission; fills are not tracked. The call is
// never retried: a duplicate submission could execute a leg twice.
//
// On rejection the returned OrderResult is populated and the error wraps
// domain.ErrOrderRejected.
func (c *Client) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := req.Validate(); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusRejected, Message: err.Error()},
			fmt.Errorf("mexc: place order %s: %w", req.Symbol, err)
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = domain.TimeInForceGTC
	}

	params := map[string]string{
		"symbol":      req.Symbol,
		"side":        string(req.Side),
		"type":        "LIMIT",
		"quantity":    req.Quantity.String(),
		"price":       req.Price.String(),
		"timeInForce": string(tif),
	}
	c.addRecvWindow(params)

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		res := domain.OrderResult{Status: domain.OrderStatusFailed, Message: err.Error()}
		var apiErr *httpError
		if errors.As(err, &apiErr) {
			res.RawResponse = apiErr.body
			res.Message = apiErr.Error()
			if errors.Is(err, domain.ErrOrderRejected) {
				res.Status = domain.OrderStatusRejected
			}
		}
		return res, fmt.Errorf("mexc: place order %s %s: %w", req.Side, req.Symbol, err)
	}

	var ack APIOrderAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return domain.OrderResult{Status: domain.OrderStatusFailed, RawResponse: string(body)},
			fmt.Errorf("mexc: decode order ack: %w", err)
	}
	if ack.OrderID == "" {
		return domain.OrderResult{Status: domain.OrderStatusRejected, RawResponse: string(body), Message: "no order id in response"},
			fmt.Errorf("mexc: place order %s: %w: no order id", req.Symbol, domain.ErrOrderRejected)
	}

	c.logger.InfoContext(ctx, "order placed",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("quantity", req.Quantity.String()),
		slog.String("price", req.Price.String()),
		slog.String("order_id", string(ack.OrderID)),
	)

	return domain.OrderResult{
		Accepted:        true,
		ExchangeOrderID: string(ack.OrderID),
		Status:          domain.OrderStatusAccepted,
		RawResponse:     string(body),
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) addRecvWindow(params map[string]string) {
	if c.recvWindow > 0 {
		params["recvWindow"] = strconv.Itoa(c.recvWindow)
	}
}

// doSigned stamps, signs and sends a private request. MEXC accepts signed
// parameters in the query string for every method.
func (c *Client) doSigned(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	query := c.auth.SignedQueryAt(params, c.now().UnixMilli())
	return c.do(ctx, method, path+"?"+query, true)
}

// do sends a request bounded by the client timeout and maps failures to
// domain errors. Transport failures and timeouts become ErrNetwork.
func (c *Client) do(ctx context.Context, method, pathAndQuery string, signed bool) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rateLimiterKey, c.limitPerWin, c.limitWindow); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrRateLimited, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathAndQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if signed {
		req.Header.Set(apiKeyHeader, c.auth.APIKey)
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetwork, err)
	}

	if err := checkHTTPStatus(method, resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// httpError carries the exchange's response for non-2xx statuses.
type httpError struct {
	sentinel error
	status   int
	code     int
	msg      string
	body     string
}

func (e *httpError) Error() string {
	if e.code != 0 || e.msg != "" {
		return fmt.Sprintf("%v: HTTP %d code %d: %s", e.sentinel, e.status, e.code, e.msg)
	}
	return fmt.Sprintf("%v: HTTP %d: %s", e.sentinel, e.status, e.body)
}

func (e *httpError) Unwrap() error { return e.sentinel }

// checkHTTPStatus maps non-2xx status codes and MEXC error codes to domain
// errors.
func checkHTTPStatus(method string, statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > maxErrorBodyBytes {
		bodyStr = bodyStr[:maxErrorBodyBytes]
	}
	var apiErr APIError
	_ = json.Unmarshal(body, &apiErr)

	e := &httpError{status: statusCode, code: apiErr.Code, msg: apiErr.Msg, body: bodyStr}

	switch {
	case apiErr.Code == codeInvalidSymbol || apiErr.Code == codeInvalidSymbolAlt:
		e.sentinel = domain.ErrNotFound
	case apiErr.Code == codeBadSignature || apiErr.Code == codeBadAPIKey:
		e.sentinel = domain.ErrUnauthorized
	case statusCode == http.StatusNotFound:
		e.sentinel = domain.ErrNotFound
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		e.sentinel = domain.ErrUnauthorized
	case statusCode == http.StatusTooManyRequests:
		e.sentinel = domain.ErrRateLimited
	case statusCode >= 500:
		e.sentinel = domain.ErrNetwork
	case method == http.MethodPost:
		e.sentinel = domain.ErrOrderRejected
	default:
		e.sentinel = domain.ErrNetwork
	}
	return e
}
