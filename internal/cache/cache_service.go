// Package cache provides Redis-backed caching with graceful degradation.
// When Redis is unavailable every operation reports a miss or an error
// and callers fall back to the database or the broker.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-platform/config"
	"trading-platform/internal/logging"

	"github.com/redis/go-redis/v9"
)

// Key layouts
const (
	keyEpic     = "broker:epic:%s"      // symbol -> epic
	keyDailyPnL = "user:%s:pnl:%s"      // userID, yyyy-mm-dd -> realized pnl
	keyPairList = "pairs:%s"            // category -> catalogue JSON
)

// TTLs
const (
	EpicTTL     = 24 * time.Hour
	DailyPnLTTL = 48 * time.Hour // survives timezone edges around midnight
	PairListTTL = time.Hour
)

// Service wraps the Redis client with a failure-count circuit breaker.
type Service struct {
	client *redis.Client
	logger *logging.Logger

	mu           sync.RWMutex
	healthy      bool
	failureCount int
	lastCheck    time.Time

	maxFailures   int
	checkInterval time.Duration
}

// NewService connects to Redis. A failed initial connection returns the
// service in degraded mode, not an error; disabled config returns nil.
func NewService(cfg config.RedisConfig, logger *logging.Logger) *Service {
	if !cfg.Enabled {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	s := &Service{
		client:        client,
		logger:        logger.WithComponent("cache"),
		maxFailures:   3,
		checkInterval: 30 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.WithError(err).Warn("Initial Redis connection failed, starting degraded")
		return s
	}

	s.healthy = true
	s.lastCheck = time.Now()
	s.logger.Info("Redis connected", "address", cfg.Address)
	return s
}

// IsHealthy reports whether Redis is currently usable
func (s *Service) IsHealthy() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	healthy := s.healthy
	lastCheck := s.lastCheck
	s.mu.RUnlock()
	if healthy {
		return true
	}

	// Periodic recovery probe
	if time.Since(lastCheck) < s.checkInterval {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.client.Ping(ctx).Err()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = time.Now()
	if err == nil {
		s.logger.Info("Redis recovered")
		s.healthy = true
		s.failureCount = 0
	}
	return s.healthy
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount++
	if s.failureCount >= s.maxFailures && s.healthy {
		s.logger.WithError(err).Warn("Circuit open, Redis marked unhealthy",
			"failures", s.failureCount)
		s.healthy = false
		s.lastCheck = time.Now()
	}
}

func (s *Service) recordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCount = 0
	s.healthy = true
}

// GetEpic implements broker.EpicCache: cached symbol -> epic lookups
func (s *Service) GetEpic(ctx context.Context, symbol string) (string, bool) {
	if s == nil || !s.IsHealthy() {
		return "", false
	}
	val, err := s.client.Get(ctx, fmt.Sprintf(keyEpic, symbol)).Result()
	if err == redis.Nil {
		s.recordSuccess()
		return "", false
	}
	if err != nil {
		s.recordFailure(err)
		return "", false
	}
	s.recordSuccess()
	return val, true
}

// SetEpic implements broker.EpicCache
func (s *Service) SetEpic(ctx context.Context, symbol, epic string, ttl time.Duration) {
	if s == nil || !s.IsHealthy() {
		return
	}
	if ttl <= 0 {
		ttl = EpicTTL
	}
	if err := s.client.Set(ctx, fmt.Sprintf(keyEpic, symbol), epic, ttl).Err(); err != nil {
		s.recordFailure(err)
		return
	}
	s.recordSuccess()
}

// AddDailyPnL accumulates realized PnL for a user's trading day
func (s *Service) AddDailyPnL(ctx context.Context, userID string, day time.Time, pnl float64) error {
	if s == nil || !s.IsHealthy() {
		return fmt.Errorf("cache unavailable")
	}
	key := fmt.Sprintf(keyDailyPnL, userID, day.UTC().Format("2006-01-02"))
	pipe := s.client.Pipeline()
	pipe.IncrByFloat(ctx, key, pnl)
	pipe.Expire(ctx, key, DailyPnLTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.recordFailure(err)
		return fmt.Errorf("failed to accumulate daily pnl: %w", err)
	}
	s.recordSuccess()
	return nil
}

// GetDailyPnL reads the accumulated realized PnL for a user's day.
// A missing key reads as zero with ok=false so callers can fall back to
// the database.
func (s *Service) GetDailyPnL(ctx context.Context, userID string, day time.Time) (float64, bool) {
	if s == nil || !s.IsHealthy() {
		return 0, false
	}
	key := fmt.Sprintf(keyDailyPnL, userID, day.UTC().Format("2006-01-02"))
	val, err := s.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		s.recordSuccess()
		return 0, false
	}
	if err != nil {
		s.recordFailure(err)
		return 0, false
	}
	s.recordSuccess()
	return val, true
}

// SetPairList caches a serialized trading-pair catalogue per category
func (s *Service) SetPairList(ctx context.Context, category string, payload []byte) {
	if s == nil || !s.IsHealthy() {
		return
	}
	if err := s.client.Set(ctx, fmt.Sprintf(keyPairList, category), payload, PairListTTL).Err(); err != nil {
		s.recordFailure(err)
		return
	}
	s.recordSuccess()
}

// GetPairList reads a cached trading-pair catalogue
func (s *Service) GetPairList(ctx context.Context, category string) ([]byte, bool) {
	if s == nil || !s.IsHealthy() {
		return nil, false
	}
	val, err := s.client.Get(ctx, fmt.Sprintf(keyPairList, category)).Bytes()
	if err == redis.Nil {
		s.recordSuccess()
		return nil, false
	}
	if err != nil {
		s.recordFailure(err)
		return nil, false
	}
	s.recordSuccess()
	return val, true
}

// Close releases the Redis connection
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	return s.client.Close()
}
