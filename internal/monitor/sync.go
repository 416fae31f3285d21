package monitor

import (
	"context"
	"errors"
	"time"

	"trading-platform/internal/database"
	"trading-platform/internal/ledger"
)

// EnableSync turns on the per-tick ownership sync against the broker's
// position list. Without it, positions are only tracked locally.
func (m *Monitor) EnableSync(l *ledger.Ledger) {
	m.ledger = l
}

// syncPositions reconciles the broker's position list with local trades.
// A broker position with no local deal-id record goes through the ledger
// for attribution; an unattributable position is an orphan and is never
// assigned to a bot.
func (m *Monitor) syncPositions(ctx context.Context, credentialID string, trades []*database.Trade) {
	if m.ledger == nil {
		return
	}

	positions, err := m.market.ListPositions(ctx, credentialID)
	if err != nil {
		m.logger.WithError(err).Warn("Position sync skipped", "credentialId", credentialID)
		return
	}
	if len(positions) == 0 {
		return
	}

	known := make(map[string]bool, len(trades))
	for _, t := range trades {
		if t.BrokerDealID != nil {
			known[*t.BrokerDealID] = true
		}
	}

	for _, pos := range positions {
		if pos.DealID == "" || known[pos.DealID] {
			continue
		}
		attribution, err := m.ledger.Attribute(ctx, credentialID, pos)
		if err != nil {
			if errors.Is(err, ledger.ErrOrphanPosition) {
				m.bus.PublishOrphanDetected(credentialID, pos.DealID, pos.Symbol)
				m.recoverOrphan(ctx, credentialID, pos)
				continue
			}
			m.logger.WithError(err).Error("Position attribution failed",
				"credentialId", credentialID, "dealId", pos.DealID)
			continue
		}
		m.logger.Info("Broker position attributed", "dealId", pos.DealID,
			"botId", attribution.BotID, "provenance", attribution.Provenance)
	}
}

// recoverOrphan makes one guarded adoption attempt: only young positions
// qualify, and only when exactly one active bot on the credential trades
// that symbol. The ledger enforces the trade-cap check.
func (m *Monitor) recoverOrphan(ctx context.Context, credentialID string, pos ledger.BrokerPosition) {
	if time.Since(pos.CreatedDate) > 10*time.Minute {
		return
	}

	bots, err := m.repo.GetActiveBots(ctx)
	if err != nil {
		return
	}
	var candidate *database.Bot
	for _, bot := range bots {
		if bot.CredentialID != credentialID || bot.Symbol != pos.Symbol {
			continue
		}
		if candidate != nil {
			// Two bots trade this symbol on this credential; ambiguous.
			return
		}
		candidate = bot
	}
	if candidate == nil {
		return
	}

	attribution, err := m.ledger.Recover(ctx, credentialID, candidate.ID, pos)
	if err != nil {
		m.logger.Debug("Orphan recovery refused", "dealId", pos.DealID, "error", err.Error())
		return
	}

	trade := &database.Trade{
		BotID:        &attribution.BotID,
		UserID:       candidate.UserID,
		CredentialID: credentialID,
		Symbol:       pos.Symbol,
		Direction:    pos.Direction,
		EntryPrice:   pos.OpenLevel,
		Quantity:     pos.Size,
		BrokerDealID: &pos.DealID,
		Status:       database.TradeStatusOpen,
		OpenedAt:     pos.CreatedDate,
	}
	if err := m.repo.CreateTrade(ctx, trade); err != nil {
		m.logger.WithError(err).Error("Failed to record recovered position", "dealId", pos.DealID)
		return
	}
	m.logger.Info("Orphan position recovered", "dealId", pos.DealID, "botId", candidate.ID)
}
