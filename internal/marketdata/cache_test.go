package marketdata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-platform/internal/broker"
	"trading-platform/internal/logging"
	"trading-platform/internal/ratelimit"
)

// slowGateway serves fixed data and counts upstream calls
type slowGateway struct {
	priceCalls int64
	ohlcCalls  int64
	delay      time.Duration
	fail       atomic.Bool
}

func (g *slowGateway) GetLatestPrice(ctx context.Context, epic string) (*broker.PriceQuote, error) {
	atomic.AddInt64(&g.priceCalls, 1)
	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.fail.Load() {
		return nil, broker.ErrBrokerUnavailable
	}
	return &broker.PriceQuote{Epic: epic, Bid: 99.5, Ask: 100.5, Timestamp: time.Now()}, nil
}

func (g *slowGateway) GetOHLC(ctx context.Context, q broker.OHLCQuery) ([]broker.Candle, error) {
	atomic.AddInt64(&g.ohlcCalls, 1)
	if g.fail.Load() {
		return nil, broker.ErrBrokerUnavailable
	}
	candles := make([]broker.Candle, q.Max)
	for i := range candles {
		candles[i] = broker.Candle{Open: 100, High: 101, Low: 99, Close: 100.5}
	}
	return candles, nil
}

func (g *slowGateway) MarketDetails(ctx context.Context, epic string) (*broker.MarketDetails, error) {
	return &broker.MarketDetails{Epic: epic, Tradeable: true}, nil
}
func (g *slowGateway) OpenPosition(ctx context.Context, req broker.OpenPositionRequest) (*broker.DealConfirmation, error) {
	return nil, broker.ErrNotSupported
}
func (g *slowGateway) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	return "", broker.ErrNotSupported
}
func (g *slowGateway) ListPositions(ctx context.Context) ([]broker.Position, error) { return nil, nil }
func (g *slowGateway) GetBalance(ctx context.Context) (*broker.AccountBalance, error) {
	return &broker.AccountBalance{Balance: 10000}, nil
}

func newTestCache(gw broker.Gateway) *Cache {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	limiter := ratelimit.NewCoordinator(ratelimit.Config{MaxConcurrent: 4, MinGap: time.Millisecond}, logger)
	resolver := broker.NewEpicResolver(gw, nil, logger)
	return NewCache("cred-1", gw, resolver, limiter, logger)
}

func TestPriceServedFromCacheWithinFreshness(t *testing.T) {
	gw := &slowGateway{}
	cache := newTestCache(gw)

	if _, err := cache.GetPrice(context.Background(), "BTCUSD"); err != nil {
		t.Fatal(err)
	}
	calls := atomic.LoadInt64(&gw.priceCalls)

	for i := 0; i < 5; i++ {
		if _, err := cache.GetPrice(context.Background(), "BTCUSD"); err != nil {
			t.Fatal(err)
		}
	}
	if atomic.LoadInt64(&gw.priceCalls) != calls {
		t.Errorf("fresh price should not hit upstream, calls went %d -> %d",
			calls, atomic.LoadInt64(&gw.priceCalls))
	}
}

func TestOHLCKeyedBySymbolTimeframeLimit(t *testing.T) {
	gw := &slowGateway{}
	cache := newTestCache(gw)

	if _, err := cache.GetOHLC(context.Background(), "BTCUSD", "M15", 50); err != nil {
		t.Fatal(err)
	}
	calls := atomic.LoadInt64(&gw.ohlcCalls)

	// Same key: cached
	if _, err := cache.GetOHLC(context.Background(), "BTCUSD", "M15", 50); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&gw.ohlcCalls) != calls {
		t.Error("identical OHLC query should be served from cache")
	}

	// Different limit: separate entry
	if _, err := cache.GetOHLC(context.Background(), "BTCUSD", "M15", 100); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&gw.ohlcCalls) != calls+1 {
		t.Error("different limit should be a cache miss")
	}
}

func TestSingleFlightCollapsesConcurrentMisses(t *testing.T) {
	gw := &slowGateway{delay: 50 * time.Millisecond}
	cache := newTestCache(gw)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.GetPrice(context.Background(), "ETHUSD"); err != nil {
				t.Errorf("GetPrice failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if calls := atomic.LoadInt64(&gw.priceCalls); calls != 1 {
		t.Errorf("concurrent misses should collapse to one upstream call, got %d", calls)
	}
}

func TestUnavailableWhenNoData(t *testing.T) {
	gw := &slowGateway{}
	gw.fail.Store(true)
	cache := newTestCache(gw)

	if _, err := cache.GetPrice(context.Background(), "BTCUSD"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("upstream failure with empty cache should be ErrUnavailable, got %v", err)
	}
}

func TestStaleServedOnUpstreamFailure(t *testing.T) {
	gw := &slowGateway{}
	cache := newTestCache(gw)

	quote, err := cache.GetPrice(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatal(err)
	}

	// Expire the entry and break upstream
	cache.mu.Lock()
	entry := cache.prices["BTCUSD"]
	entry.fetchedAt = time.Now().Add(-time.Minute)
	cache.prices["BTCUSD"] = entry
	cache.mu.Unlock()
	gw.fail.Store(true)

	stale, err := cache.GetPrice(context.Background(), "BTCUSD")
	if err != nil {
		t.Fatalf("stale quote should be served on upstream failure, got %v", err)
	}
	if stale.Bid != quote.Bid {
		t.Error("stale quote should match the last good fetch")
	}
}
