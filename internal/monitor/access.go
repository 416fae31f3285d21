package monitor

import (
	"context"
	"errors"

	"trading-platform/internal/broker"
	"trading-platform/internal/ledger"
	"trading-platform/internal/marketdata"
)

// brokerAccess adapts the broker and market-data managers to the
// MarketAccess surface.
type brokerAccess struct {
	markets *marketdata.Manager
	brokers *broker.Manager
}

// NewMarketAccess wires live broker access for the monitor
func NewMarketAccess(markets *marketdata.Manager, brokers *broker.Manager) MarketAccess {
	return &brokerAccess{markets: markets, brokers: brokers}
}

func (a *brokerAccess) Price(ctx context.Context, credentialID, symbol string) (float64, error) {
	cache, err := a.markets.ForCredential(ctx, credentialID)
	if err != nil {
		return 0, err
	}
	quote, err := cache.GetPrice(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return quote.Mid(), nil
}

// ClosePosition closes through the broker. Venues without deal-level
// close support (spot exchanges) report ErrNotSupported; the local close
// still proceeds since the platform tracks those trades itself.
func (a *brokerAccess) ClosePosition(ctx context.Context, credentialID, dealID, direction string, size float64) error {
	gateway, err := a.brokers.Gateway(ctx, credentialID)
	if err != nil {
		return err
	}
	if dealID == "" {
		return nil
	}
	if _, err := gateway.ClosePosition(ctx, dealID, direction, size); err != nil {
		if errors.Is(err, broker.ErrNotSupported) {
			return nil
		}
		return err
	}
	return nil
}

// ListPositions returns the broker's open positions with epics mapped
// back to symbols where a cached resolution exists.
func (a *brokerAccess) ListPositions(ctx context.Context, credentialID string) ([]ledger.BrokerPosition, error) {
	gateway, err := a.brokers.Gateway(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	positions, err := gateway.ListPositions(ctx)
	if err != nil {
		if errors.Is(err, broker.ErrNotSupported) {
			return nil, nil
		}
		return nil, err
	}

	resolver, err := a.brokers.Resolver(ctx, credentialID)
	if err != nil {
		resolver = nil
	}

	out := make([]ledger.BrokerPosition, 0, len(positions))
	for _, p := range positions {
		symbol := p.Epic
		if resolver != nil {
			if s, ok := resolver.SymbolForEpic(p.Epic); ok {
				symbol = s
			}
		}
		out = append(out, ledger.BrokerPosition{
			DealID:      p.DealID,
			Symbol:      symbol,
			Direction:   p.Direction,
			Size:        p.Size,
			OpenLevel:   p.OpenLevel,
			CreatedDate: p.CreatedDate,
		})
	}
	return out, nil
}
