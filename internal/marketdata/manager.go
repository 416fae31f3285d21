package marketdata

import (
	"context"
	"sync"

	"trading-platform/internal/broker"
	"trading-platform/internal/logging"
	"trading-platform/internal/ratelimit"
)

// Manager hands out one market-data cache per credential
type Manager struct {
	brokers *broker.Manager
	limiter *ratelimit.Coordinator
	logger  *logging.Logger

	mu     sync.RWMutex
	caches map[string]*Cache
}

// NewManager creates a cache manager
func NewManager(brokers *broker.Manager, limiter *ratelimit.Coordinator, logger *logging.Logger) *Manager {
	return &Manager{
		brokers: brokers,
		limiter: limiter,
		logger:  logger,
		caches:  make(map[string]*Cache),
	}
}

// ForCredential returns the cache for a credential, constructing it on
// first use.
func (m *Manager) ForCredential(ctx context.Context, credentialID string) (*Cache, error) {
	m.mu.RLock()
	cache, ok := m.caches[credentialID]
	m.mu.RUnlock()
	if ok {
		return cache, nil
	}

	gateway, err := m.brokers.Gateway(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	resolver, err := m.brokers.Resolver(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	cache = NewCache(credentialID, gateway, resolver, m.limiter, m.logger)

	m.mu.Lock()
	if existing, ok := m.caches[credentialID]; ok {
		cache = existing
	} else {
		m.caches[credentialID] = cache
	}
	m.mu.Unlock()
	return cache, nil
}
