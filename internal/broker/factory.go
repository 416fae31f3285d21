package broker

import (
	"context"
	"fmt"
	"sync"

	"trading-platform/internal/credentials"
	"trading-platform/internal/logging"
)

// Manager builds and caches one gateway and one epic resolver per
// credential. The broker kind is dispatched once at credential load.
type Manager struct {
	creds     *credentials.Service
	epicCache EpicCache
	logger    *logging.Logger

	mu        sync.RWMutex
	gateways  map[string]Gateway
	resolvers map[string]*EpicResolver
}

// NewManager creates a gateway manager. epicCache may be nil.
func NewManager(creds *credentials.Service, epicCache EpicCache, logger *logging.Logger) *Manager {
	return &Manager{
		creds:     creds,
		epicCache: epicCache,
		logger:    logger,
		gateways:  make(map[string]Gateway),
		resolvers: make(map[string]*EpicResolver),
	}
}

// Gateway returns the cached gateway for a credential, constructing it on
// first use.
func (m *Manager) Gateway(ctx context.Context, credentialID string) (Gateway, error) {
	m.mu.RLock()
	gw, ok := m.gateways[credentialID]
	m.mu.RUnlock()
	if ok {
		return gw, nil
	}

	cred, payload, err := m.creds.Load(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}

	gw, err = buildGateway(cred.BrokerKind, payload, cred.IsDemo, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.gateways[credentialID]; ok {
		gw = existing
	} else {
		m.gateways[credentialID] = gw
	}
	m.mu.Unlock()
	return gw, nil
}

// Resolver returns the cached epic resolver for a credential
func (m *Manager) Resolver(ctx context.Context, credentialID string) (*EpicResolver, error) {
	m.mu.RLock()
	res, ok := m.resolvers[credentialID]
	m.mu.RUnlock()
	if ok {
		return res, nil
	}

	gw, err := m.Gateway(ctx, credentialID)
	if err != nil {
		return nil, err
	}

	res = NewEpicResolver(gw, m.epicCache, m.logger)

	m.mu.Lock()
	if existing, ok := m.resolvers[credentialID]; ok {
		res = existing
	} else {
		m.resolvers[credentialID] = res
	}
	m.mu.Unlock()
	return res, nil
}

// Evict removes a credential's cached gateway, forcing a rebuild on next use
func (m *Manager) Evict(credentialID string) {
	m.mu.Lock()
	delete(m.gateways, credentialID)
	delete(m.resolvers, credentialID)
	m.mu.Unlock()
}

func buildGateway(kind string, payload credentials.Payload, isDemo bool, logger *logging.Logger) (Gateway, error) {
	switch kind {
	case credentials.KindCapital:
		return NewCapitalClient(payload["apiKey"], payload["identifier"], payload["password"], isDemo, logger), nil
	case credentials.KindBinance:
		return NewBinanceClient(payload["apiKey"], payload["secretKey"], isDemo, logger), nil
	case credentials.KindCoinbase:
		return NewCoinbaseClient(payload["apiKey"], payload["apiSecret"], payload["passphrase"], logger), nil
	case credentials.KindCustom:
		baseURL := payload["baseUrl"]
		if baseURL == "" {
			return nil, fmt.Errorf("custom broker credential missing baseUrl")
		}
		return NewGenericClient(baseURL, payload["token"], logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", credentials.ErrUnknownBrokerKind, kind)
	}
}
