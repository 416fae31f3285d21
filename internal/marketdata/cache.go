package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trading-platform/internal/broker"
	"trading-platform/internal/logging"
	"trading-platform/internal/ratelimit"

	"golang.org/x/sync/singleflight"
)

// ErrUnavailable is returned when neither fresh nor stale market data can
// be served. Callers may continue in a degraded "no live price" mode.
var ErrUnavailable = errors.New("market data unavailable")

const (
	priceFreshness = 10 * time.Second
	ohlcFreshness  = 60 * time.Second
)

type priceEntry struct {
	quote     *broker.PriceQuote
	fetchedAt time.Time
}

type ohlcEntry struct {
	candles   []broker.Candle
	fetchedAt time.Time
}

// Cache is a two-level market-data cache over one credential's gateway.
// All upstream calls go through the rate coordinator; cache misses are
// collapsed so one miss per key triggers at most one broker call.
type Cache struct {
	credentialID string
	gateway      broker.Gateway
	resolver     *broker.EpicResolver
	limiter      *ratelimit.Coordinator
	logger       *logging.Logger

	mu     sync.RWMutex
	prices map[string]priceEntry
	ohlc   map[string]ohlcEntry

	flight singleflight.Group

	hits   int64
	misses int64
}

// NewCache creates a market-data cache for one credential
func NewCache(credentialID string, gateway broker.Gateway, resolver *broker.EpicResolver, limiter *ratelimit.Coordinator, logger *logging.Logger) *Cache {
	return &Cache{
		credentialID: credentialID,
		gateway:      gateway,
		resolver:     resolver,
		limiter:      limiter,
		logger:       logger.WithComponent("marketdata"),
		prices:       make(map[string]priceEntry),
		ohlc:         make(map[string]ohlcEntry),
	}
}

// GetPrice returns a live quote for a symbol, served from cache within the
// 10 s freshness window. On upstream failure a stale quote is served when
// one exists; otherwise ErrUnavailable.
func (c *Cache) GetPrice(ctx context.Context, symbol string) (*broker.PriceQuote, error) {
	c.mu.RLock()
	entry, ok := c.prices[symbol]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < priceFreshness {
		c.recordHit()
		return entry.quote, nil
	}
	c.recordMiss()

	v, err, _ := c.flight.Do("price:"+symbol, func() (interface{}, error) {
		return c.fetchPrice(ctx, symbol)
	})
	if err != nil {
		if ok {
			c.logger.WithError(err).Warn("Serving stale price", "symbol", symbol)
			return entry.quote, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.(*broker.PriceQuote), nil
}

func (c *Cache) fetchPrice(ctx context.Context, symbol string) (*broker.PriceQuote, error) {
	res, err := c.resolver.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	lease, err := c.limiter.Acquire(ctx, c.credentialID, "prices", 60)
	if err != nil {
		return nil, err
	}

	quote, err := c.gateway.GetLatestPrice(ctx, res.Epic)
	lease.Release(outcomeFor(err))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.prices[symbol] = priceEntry{quote: quote, fetchedAt: time.Now()}
	c.mu.Unlock()
	return quote, nil
}

// GetOHLC returns candles for (symbol, timeframe, limit), served from
// cache within the 60 s freshness window.
func (c *Cache) GetOHLC(ctx context.Context, symbol, timeframe string, limit int) ([]broker.Candle, error) {
	key := fmt.Sprintf("%s:%s:%d", symbol, timeframe, limit)

	c.mu.RLock()
	entry, ok := c.ohlc[key]
	c.mu.RUnlock()
	if ok && time.Since(entry.fetchedAt) < ohlcFreshness {
		c.recordHit()
		return entry.candles, nil
	}
	c.recordMiss()

	v, err, _ := c.flight.Do("ohlc:"+key, func() (interface{}, error) {
		return c.fetchOHLC(ctx, key, symbol, timeframe, limit)
	})
	if err != nil {
		if ok {
			c.logger.WithError(err).Warn("Serving stale candles", "symbol", symbol, "timeframe", timeframe)
			return entry.candles, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return v.([]broker.Candle), nil
}

func (c *Cache) fetchOHLC(ctx context.Context, key, symbol, timeframe string, limit int) ([]broker.Candle, error) {
	res, err := c.resolver.Resolve(ctx, symbol)
	if err != nil {
		return nil, err
	}

	lease, err := c.limiter.Acquire(ctx, c.credentialID, "prices", 50)
	if err != nil {
		return nil, err
	}

	candles, err := c.gateway.GetOHLC(ctx, broker.OHLCQuery{
		Epic:       res.Epic,
		Resolution: timeframe,
		Max:        limit,
	})
	lease.Release(outcomeFor(err))
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("no candles for %s %s", symbol, timeframe)
	}

	c.mu.Lock()
	c.ohlc[key] = ohlcEntry{candles: candles, fetchedAt: time.Now()}
	c.mu.Unlock()
	return candles, nil
}

// Stats returns cache hit/miss counters
func (c *Cache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return map[string]interface{}{
		"hits":        c.hits,
		"misses":      c.misses,
		"priceKeys":   len(c.prices),
		"ohlcKeys":    len(c.ohlc),
		"credentialId": c.credentialID,
	}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func outcomeFor(err error) ratelimit.Outcome {
	switch {
	case err == nil:
		return ratelimit.OutcomeSuccess
	case errors.Is(err, broker.ErrRateLimited):
		return ratelimit.OutcomeRateLimited
	default:
		return ratelimit.OutcomeError
	}
}
