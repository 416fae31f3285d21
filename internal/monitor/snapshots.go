package monitor

import (
	"context"
	"time"

	"trading-platform/internal/database"
)

// snapshotInterval paces the per-bot performance snapshot pass. The
// monitor tick drives it, so the effective cadence is the first tick at
// or after the hour boundary.
const snapshotInterval = time.Hour

// closedTradeWindow bounds the history scan per snapshot
const closedTradeWindow = 200

// SnapshotRepository is the extra persistence surface for snapshots
type SnapshotRepository interface {
	GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error)
	GetTradeHistoryByBot(ctx context.Context, botID string, limit, offset int) ([]*database.Trade, error)
	CreatePerformanceSnapshot(ctx context.Context, s *database.PerformanceSnapshot) error
}

// EnableSnapshots turns on the hourly per-bot performance snapshot pass
func (m *Monitor) EnableSnapshots(repo SnapshotRepository) {
	m.mu.Lock()
	m.snapshots = repo
	m.mu.Unlock()
}

func (m *Monitor) maybeSnapshot(ctx context.Context, bots []*database.Bot) {
	m.mu.Lock()
	repo := m.snapshots
	due := repo != nil && time.Since(m.lastSnapshot) >= snapshotInterval
	if due {
		m.lastSnapshot = time.Now()
	}
	m.mu.Unlock()
	if !due {
		return
	}

	for _, bot := range bots {
		if ctx.Err() != nil {
			return
		}
		if err := m.snapshotBot(ctx, repo, bot); err != nil {
			m.logger.WithError(err).Warn("Performance snapshot failed", "botId", bot.ID)
		}
	}
}

func (m *Monitor) snapshotBot(ctx context.Context, repo SnapshotRepository, bot *database.Bot) error {
	open, err := repo.GetOpenTradesByBot(ctx, bot.ID)
	if err != nil {
		return err
	}

	var unrealized float64
	for _, trade := range open {
		price, err := m.market.Price(ctx, trade.CredentialID, trade.Symbol)
		if err != nil {
			continue // a missing quote degrades the snapshot, not the pass
		}
		unrealized += realisedPnL(trade, price, trade.Quantity)
	}

	history, err := repo.GetTradeHistoryByBot(ctx, bot.ID, closedTradeWindow, 0)
	if err != nil {
		return err
	}
	var realized float64
	var closed, wins int
	for _, trade := range history {
		if trade.Status != database.TradeStatusClosed || trade.PnL == nil {
			continue
		}
		realized += *trade.PnL
		closed++
		if *trade.PnL > 0 {
			wins++
		}
	}

	snap := &database.PerformanceSnapshot{
		BotID:         bot.ID,
		RealizedPnL:   realized,
		UnrealizedPnL: unrealized,
		OpenPositions: len(open),
		TotalTrades:   closed + len(open),
		TakenAt:       time.Now().UTC(),
	}
	if closed > 0 {
		rate := float64(wins) / float64(closed) * 100
		snap.WinRate = &rate
	}
	return repo.CreatePerformanceSnapshot(ctx, snap)
}
