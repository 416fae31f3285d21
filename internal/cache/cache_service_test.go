package cache

import (
	"context"
	"testing"
	"time"

	"trading-platform/config"
	"trading-platform/internal/logging"
)

func TestDisabledConfigReturnsNil(t *testing.T) {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	if s := NewService(config.RedisConfig{Enabled: false}, logger); s != nil {
		t.Error("disabled Redis config should yield a nil service")
	}
}

// A nil service is the documented degraded mode: every read misses and
// every write is a no-op.
func TestNilServiceDegradesGracefully(t *testing.T) {
	var s *Service
	ctx := context.Background()

	if _, ok := s.GetEpic(ctx, "BTCUSD"); ok {
		t.Error("nil service must miss on GetEpic")
	}
	s.SetEpic(ctx, "BTCUSD", "BTCUSD", time.Hour) // must not panic

	if _, ok := s.GetDailyPnL(ctx, "user-1", time.Now()); ok {
		t.Error("nil service must miss on GetDailyPnL")
	}
	if err := s.AddDailyPnL(ctx, "user-1", time.Now(), 10); err == nil {
		t.Error("nil service should report the cache as unavailable")
	}
	if _, ok := s.GetPairList(ctx, "crypto"); ok {
		t.Error("nil service must miss on GetPairList")
	}
	s.SetPairList(ctx, "crypto", []byte("[]"))

	if err := s.Close(); err != nil {
		t.Errorf("closing a nil service should be a no-op, got %v", err)
	}
}
