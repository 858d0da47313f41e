package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mobelieve/mexc-triarb/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each symbol's last quote is stored at key "price:{symbol}" with fields
// "price" (decimal string) and "ts" (Unix nanosecond timestamp).
type PriceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache backed by the given Client. Quotes
// expire after ttl; zero keeps them forever.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{rdb: c.Underlying(), ttl: ttl}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetQuote stores the latest quote for its symbol.
func (pc *PriceCache) SetQuote(ctx context.Context, q domain.PriceQuote) error {
	key := priceKey(q.Symbol)
	fields := map[string]interface{}{
		"price": q.Price.String(),
		"ts":    strconv.FormatInt(q.ObservedAt.UnixNano(), 10),
	}
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Symbol, err)
	}
	return nil
}

// GetQuotes retrieves the latest quotes for several symbols using a pipeline.
// Symbols without a cached quote are omitted from the result map.
func (pc *PriceCache) GetQuotes(ctx context.Context, symbols []string) (map[string]domain.PriceQuote, error) {
	if len(symbols) == 0 {
		return map[string]domain.PriceQuote{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(symbols))
	for _, s := range symbols {
		cmds[s] = pipe.HGetAll(ctx, priceKey(s))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.PriceQuote, len(symbols))
	for s, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(s, vals)
		if err != nil {
			continue
		}
		result[s] = q
	}
	return result, nil
}

func parseQuote(symbol string, vals map[string]string) (domain.PriceQuote, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return domain.PriceQuote{}, fmt.Errorf("redis: quote %s: %w", symbol, domain.ErrNotFound)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}
	q := domain.PriceQuote{Symbol: symbol, Price: price}
	if tsStr, ok := vals["ts"]; ok {
		tsNano, err := strconv.ParseInt(tsStr, 10, 64)
		if err != nil {
			return domain.PriceQuote{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
		}
		q.ObservedAt = time.Unix(0, tsNano).UTC()
	}
	return q, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
