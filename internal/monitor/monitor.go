// Package monitor watches open trades and applies exit rules: stop-loss
// and take-profit crossings, parsed strategy rules, trailing stops, the
// time guard, and the emergency stop.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"trading-platform/config"
	"trading-platform/internal/database"
	"trading-platform/internal/events"
	"trading-platform/internal/ledger"
	"trading-platform/internal/logging"
	"trading-platform/internal/strategy"
)

const emergencyCloseReason = "Emergency stop - excessive loss"

// Repository is the persistence surface the monitor needs
type Repository interface {
	GetActiveBots(ctx context.Context) ([]*database.Bot, error)
	GetOpenTradesByCredential(ctx context.Context, credentialID string) ([]*database.Trade, error)
	GetBotByID(ctx context.Context, id string) (*database.Bot, error)
	GetStrategyByID(ctx context.Context, id string) (*database.Strategy, error)
	CloseTrade(ctx context.Context, id int64, exitPrice, pnl, pnlPercent float64, reason string, closedAt time.Time) error
	UpdateTradeStops(ctx context.Context, id int64, stopLoss, takeProfit *float64) error
	UpdateTradeQuantity(ctx context.Context, id int64, quantity float64) error
	UpdateTradeCurrentPrice(ctx context.Context, id int64, price float64) error
	CreateTrade(ctx context.Context, t *database.Trade) error
}

// MarketAccess is the broker surface the monitor needs
type MarketAccess interface {
	Price(ctx context.Context, credentialID, symbol string) (float64, error)
	ClosePosition(ctx context.Context, credentialID, dealID, direction string, size float64) error
	ListPositions(ctx context.Context, credentialID string) ([]ledger.BrokerPosition, error)
}

// Monitor runs one loop per credential on a fixed tick
type Monitor struct {
	repo    Repository
	market  MarketAccess
	bus     *events.EventBus
	cfg     config.MonitorConfig
	logger  *logging.Logger

	mu        sync.Mutex
	scaledOut map[int64]bool // trades whose SCALE_OUT already fired
	rules     map[string]*strategy.RuleSet

	snapshots    SnapshotRepository
	lastSnapshot time.Time

	ledger *ledger.Ledger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a position monitor
func New(repo Repository, market MarketAccess, bus *events.EventBus, cfg config.MonitorConfig, logger *logging.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxTimeInPosition <= 0 {
		cfg.MaxTimeInPosition = 24 * time.Hour
	}
	if cfg.EmergencyStopPct == 0 {
		cfg.EmergencyStopPct = -10
	}
	return &Monitor{
		repo:      repo,
		market:    market,
		bus:       bus,
		cfg:       cfg,
		logger:    logger.WithComponent("monitor"),
		scaledOut: make(map[int64]bool),
		rules:     make(map[string]*strategy.RuleSet),
	}
}

// Start launches the monitor loop
func (m *Monitor) Start(ctx context.Context) {
	m.stopChan = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.Tick(ctx)
			}
		}
	}()
	m.logger.Info("Position monitor started", "interval", m.cfg.Interval.String())
}

// Stop shuts the loop down and waits for it
func (m *Monitor) Stop() {
	if m.stopChan != nil {
		close(m.stopChan)
	}
	m.wg.Wait()
}

// Tick runs one monitoring pass over every credential with open trades
func (m *Monitor) Tick(ctx context.Context) {
	bots, err := m.repo.GetActiveBots(ctx)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list active bots")
		return
	}
	seen := make(map[string]bool)
	for _, bot := range bots {
		if seen[bot.CredentialID] {
			continue
		}
		seen[bot.CredentialID] = true
		m.tickCredential(ctx, bot.CredentialID)
	}
	m.maybeSnapshot(ctx, bots)
}

func (m *Monitor) tickCredential(ctx context.Context, credentialID string) {
	trades, err := m.repo.GetOpenTradesByCredential(ctx, credentialID)
	if err != nil {
		m.logger.WithError(err).Error("Failed to list open trades", "credentialId", credentialID)
		return
	}
	for _, trade := range trades {
		if ctx.Err() != nil {
			return
		}
		if trade.Status != database.TradeStatusOpen {
			continue
		}
		if err := m.CheckTrade(ctx, trade); err != nil {
			m.logger.WithError(err).Error("Trade check failed", "tradeId", fmt.Sprint(trade.ID))
		}
	}
	m.syncPositions(ctx, credentialID, trades)
}

// CheckTrade applies the full rule stack to one open trade. Checks run in
// a fixed order and the first action taken ends the tick for this trade.
func (m *Monitor) CheckTrade(ctx context.Context, trade *database.Trade) error {
	price, err := m.market.Price(ctx, trade.CredentialID, trade.Symbol)
	if err != nil {
		return fmt.Errorf("no price for %s: %w", trade.Symbol, err)
	}
	pnlPct := unrealisedPnLPercent(trade, price)
	if err := m.repo.UpdateTradeCurrentPrice(ctx, trade.ID, price); err != nil {
		m.logger.WithError(err).Warn("Mark-to-market update failed", "tradeId", fmt.Sprint(trade.ID))
	}
	trade.CurrentPrice = &price

	// 1. Stop-loss / take-profit crossings
	if crossed, reason := stopCrossed(trade, price); crossed {
		return m.closeTrade(ctx, trade, price, reason)
	}

	// 2. Strategy rules, descending priority, first hit wins
	rules := m.rulesFor(ctx, trade)
	for _, rule := range rules.Rules {
		fired, err := m.applyRule(ctx, trade, rule, rules.Timeframe, price, pnlPct)
		if err != nil || fired {
			return err
		}
	}

	// 3. Time guard
	if time.Since(trade.OpenedAt) >= m.cfg.MaxTimeInPosition {
		return m.closeTrade(ctx, trade, price,
			fmt.Sprintf("Maximum time in position reached (%s)", m.cfg.MaxTimeInPosition))
	}

	// 4. Emergency stop
	if pnlPct <= m.cfg.EmergencyStopPct {
		return m.closeTrade(ctx, trade, price, emergencyCloseReason)
	}
	return nil
}

// applyRule evaluates one rule; fired=true means an action ran and no
// lower-priority rule may run this tick.
func (m *Monitor) applyRule(ctx context.Context, trade *database.Trade, rule strategy.ParsedRule, timeframe string, price, pnlPct float64) (bool, error) {
	minutesIn := time.Since(trade.OpenedAt).Minutes()

	switch rule.Type {
	case strategy.RuleExitOnLoss:
		if pnlPct <= rule.Value {
			return true, m.closeTrade(ctx, trade, price,
				fmt.Sprintf("Loss limit hit (%.2f%% <= %.2f%%)", pnlPct, rule.Value))
		}
	case strategy.RuleExitOnProfit:
		if pnlPct >= rule.Value {
			return true, m.closeTrade(ctx, trade, price,
				fmt.Sprintf("Profit target hit (%.2f%% >= %.2f%%)", pnlPct, rule.Value))
		}
	case strategy.RuleExitAfterCandles:
		limit := rule.Value * float64(strategy.TimeframeMinutes(timeframe))
		if minutesIn >= limit {
			return true, m.closeTrade(ctx, trade, price,
				fmt.Sprintf("Closed after %.0f candles (%.0f minutes)", rule.Value, limit))
		}
	case strategy.RuleExitAfterTime:
		if minutesIn >= rule.Value {
			return true, m.closeTrade(ctx, trade, price,
				fmt.Sprintf("Closed after %.0f minutes in position", rule.Value))
		}
	case strategy.RuleScaleOut:
		if pnlPct >= rule.Value && !m.alreadyScaledOut(trade.ID) {
			return true, m.scaleOut(ctx, trade, rule, price, pnlPct)
		}
	case strategy.RuleTrailStop:
		// Adjusting the stop is not a close; lower-priority rules
		// still run this tick.
		if err := m.trailStop(ctx, trade, rule, price, pnlPct); err != nil {
			return false, err
		}
	}
	return false, nil
}

// trailStop ratchets the stop-loss in the favourable direction once the
// position is in profit by at least the activation threshold (rule.Value),
// trailing rule.Distance behind the price. It never widens.
func (m *Monitor) trailStop(ctx context.Context, trade *database.Trade, rule strategy.ParsedRule, price, pnlPct float64) error {
	distance := rule.Distance
	if distance <= 0 {
		distance = rule.Value
	}

	var candidate float64
	if rule.Unit == strategy.UnitPoints {
		point := pointSize(trade.EntryPrice)
		profit := price - trade.EntryPrice
		if trade.Direction != "BUY" {
			profit = trade.EntryPrice - price
		}
		if profit < rule.Value*point {
			return nil
		}
		if trade.Direction == "BUY" {
			candidate = price - distance*point
		} else {
			candidate = price + distance*point
		}
	} else {
		if pnlPct < rule.Value {
			return nil
		}
		if trade.Direction == "BUY" {
			candidate = price * (1 - distance/100)
		} else {
			candidate = price * (1 + distance/100)
		}
	}

	if trade.Direction == "BUY" {
		if trade.StopLoss != nil && candidate <= *trade.StopLoss {
			return nil
		}
	} else if trade.StopLoss != nil && candidate >= *trade.StopLoss {
		return nil
	}

	if err := m.repo.UpdateTradeStops(ctx, trade.ID, &candidate, trade.TakeProfit); err != nil {
		return fmt.Errorf("failed to trail stop: %w", err)
	}
	trade.StopLoss = &candidate
	m.bus.Publish(events.Event{
		Type:   events.EventStopAdjusted,
		UserID: trade.UserID,
		Data: map[string]interface{}{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"stop":     candidate,
		},
	})
	m.logger.Info("Trailing stop adjusted", "tradeId", fmt.Sprint(trade.ID),
		"symbol", trade.Symbol, "stop", fmt.Sprintf("%.5f", candidate))
	return nil
}

// scaleOut closes the rule's fraction of the position: the open trade
// shrinks and a closed row is created for the scaled portion.
func (m *Monitor) scaleOut(ctx context.Context, trade *database.Trade, rule strategy.ParsedRule, price, pnlPct float64) error {
	fraction := rule.Fraction
	if fraction <= 0 || fraction >= 100 {
		fraction = 50
	}
	closedQty := trade.Quantity * fraction / 100
	remaining := trade.Quantity - closedQty

	if err := m.market.ClosePosition(ctx, trade.CredentialID, dealID(trade), trade.Direction, closedQty); err != nil {
		return fmt.Errorf("partial close failed: %w", err)
	}

	pnl := realisedPnL(trade, price, closedQty)
	now := time.Now().UTC()
	rationale := "Partial"
	reason := fmt.Sprintf("Scale out at %.2f%% profit", pnlPct)
	partialDealID := dealID(trade) + "-partial-" + now.Format("150405")
	partial := &database.Trade{
		BotID:        trade.BotID,
		UserID:       trade.UserID,
		CredentialID: trade.CredentialID,
		Symbol:       trade.Symbol,
		Direction:    trade.Direction,
		EntryPrice:   trade.EntryPrice,
		ExitPrice:    &price,
		Quantity:     closedQty,
		PnL:          &pnl,
		PnLPercent:   &pnlPct,
		BrokerDealID: &partialDealID,
		Status:       database.TradeStatusClosed,
		Rationale:    &rationale,
		CloseReason:  &reason,
		OpenedAt:     trade.OpenedAt,
		ClosedAt:     &now,
	}
	if err := m.repo.CreateTrade(ctx, partial); err != nil {
		return fmt.Errorf("failed to record partial close: %w", err)
	}
	if err := m.repo.UpdateTradeQuantity(ctx, trade.ID, remaining); err != nil {
		return fmt.Errorf("failed to shrink position: %w", err)
	}
	trade.Quantity = remaining

	m.mu.Lock()
	m.scaledOut[trade.ID] = true
	m.mu.Unlock()

	m.bus.Publish(events.Event{
		Type:   events.EventTradePartialClose,
		UserID: trade.UserID,
		Data: map[string]interface{}{
			"trade_id":  trade.ID,
			"symbol":    trade.Symbol,
			"closed":    closedQty,
			"remaining": remaining,
			"pnl":       pnl,
		},
	})
	m.logger.Info("Scaled out of position", "tradeId", fmt.Sprint(trade.ID),
		"symbol", trade.Symbol, "closedQty", fmt.Sprintf("%.4f", closedQty))
	return nil
}

func (m *Monitor) closeTrade(ctx context.Context, trade *database.Trade, price float64, reason string) error {
	if err := m.market.ClosePosition(ctx, trade.CredentialID, dealID(trade), trade.Direction, trade.Quantity); err != nil {
		return fmt.Errorf("broker close failed: %w", err)
	}

	pnl := realisedPnL(trade, price, trade.Quantity)
	pnlPct := unrealisedPnLPercent(trade, price)
	now := time.Now().UTC()
	if err := m.repo.CloseTrade(ctx, trade.ID, price, pnl, pnlPct, reason, now); err != nil {
		return fmt.Errorf("failed to persist close: %w", err)
	}
	trade.Status = database.TradeStatusClosed

	m.mu.Lock()
	delete(m.scaledOut, trade.ID)
	m.mu.Unlock()

	botID := ""
	if trade.BotID != nil {
		botID = *trade.BotID
	}
	m.bus.PublishTradeClosed(trade.UserID, botID, trade.Symbol, reason,
		trade.EntryPrice, price, trade.Quantity, pnl)
	m.logger.Info("Trade closed", "tradeId", fmt.Sprint(trade.ID),
		"symbol", trade.Symbol, "reason", reason, "pnl", fmt.Sprintf("%.2f", pnl))
	return nil
}

// rulesFor resolves and caches the parsed rule set for a trade's strategy
func (m *Monitor) rulesFor(ctx context.Context, trade *database.Trade) *strategy.RuleSet {
	empty := &strategy.RuleSet{}
	if trade.BotID == nil {
		return empty
	}

	bot, err := m.repo.GetBotByID(ctx, *trade.BotID)
	if err != nil {
		return empty
	}

	m.mu.Lock()
	cached, ok := m.rules[bot.StrategyID]
	m.mu.Unlock()
	if ok {
		return cached
	}

	strat, err := m.repo.GetStrategyByID(ctx, bot.StrategyID)
	if err != nil || len(strat.ParsedRules) == 0 {
		return empty
	}
	var set strategy.RuleSet
	if err := json.Unmarshal(strat.ParsedRules, &set); err != nil {
		m.logger.WithError(err).Warn("Unparseable rule set", "strategyId", bot.StrategyID)
		return empty
	}
	if set.Timeframe == "" {
		set.Timeframe = bot.Timeframe
	}

	m.mu.Lock()
	m.rules[bot.StrategyID] = &set
	m.mu.Unlock()
	return &set
}

// InvalidateRules drops a cached rule set after a strategy update
func (m *Monitor) InvalidateRules(strategyID string) {
	m.mu.Lock()
	delete(m.rules, strategyID)
	m.mu.Unlock()
}

func (m *Monitor) alreadyScaledOut(tradeID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scaledOut[tradeID]
}

func stopCrossed(trade *database.Trade, price float64) (bool, string) {
	if trade.Direction == "BUY" {
		if trade.StopLoss != nil && price <= *trade.StopLoss {
			return true, fmt.Sprintf("Stop loss hit at %.5f", price)
		}
		if trade.TakeProfit != nil && price >= *trade.TakeProfit {
			return true, fmt.Sprintf("Take profit hit at %.5f", price)
		}
		return false, ""
	}
	if trade.StopLoss != nil && price >= *trade.StopLoss {
		return true, fmt.Sprintf("Stop loss hit at %.5f", price)
	}
	if trade.TakeProfit != nil && price <= *trade.TakeProfit {
		return true, fmt.Sprintf("Take profit hit at %.5f", price)
	}
	return false, ""
}

// pointSize maps a price level to the instrument's point increment:
// 0.0001 below 10 (FX-style quotes), 0.01 up to 1000, 1 beyond.
func pointSize(price float64) float64 {
	switch {
	case price < 10:
		return 0.0001
	case price < 1000:
		return 0.01
	default:
		return 1
	}
}

func unrealisedPnLPercent(trade *database.Trade, price float64) float64 {
	if trade.EntryPrice == 0 {
		return 0
	}
	if trade.Direction == "BUY" {
		return (price - trade.EntryPrice) / trade.EntryPrice * 100
	}
	return (trade.EntryPrice - price) / trade.EntryPrice * 100
}

func realisedPnL(trade *database.Trade, price, quantity float64) float64 {
	if trade.Direction == "BUY" {
		return (price - trade.EntryPrice) * quantity
	}
	return (trade.EntryPrice - price) * quantity
}

func dealID(trade *database.Trade) string {
	if trade.BrokerDealID != nil {
		return *trade.BrokerDealID
	}
	return ""
}
