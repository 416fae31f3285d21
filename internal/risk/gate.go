package risk

import (
	"context"
	"fmt"
	"time"

	"trading-platform/config"
	"trading-platform/internal/database"
	"trading-platform/internal/events"
	"trading-platform/internal/logging"
)

// Repository is the persistence surface the gate reads from
type Repository interface {
	GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error)
	GetOpenTradesByUser(ctx context.Context, userID string) ([]*database.Trade, error)
	GetLastTradeTime(ctx context.Context, botID string) (*time.Time, error)
	GetDailyRealizedPnL(ctx context.Context, userID string, since time.Time) (float64, error)
	GetConsecutiveLosses(ctx context.Context, userID string) (int, error)
}

// Input is one proposed trade to gate
type Input struct {
	Bot      *database.Bot
	Category string // resolved asset category; empty means classify by symbol
	Quantity float64
	Price    float64
	Balance  float64
	StopLoss *float64
}

// Verdict is the gate's answer
type Verdict struct {
	Approved         bool     `json:"approved"`
	AdjustedQuantity *float64 `json:"adjustedQuantity,omitempty"`
	RiskScore        int      `json:"riskScore"` // 1..10
	Reasons          []string `json:"reasons"`
	Abort            bool     `json:"abort"`
}

// Gate runs every pre-trade check: bot preconditions, bot-local limits,
// market hours, and portfolio-level limits.
type Gate struct {
	repo   Repository
	limits config.RiskConfig
	bus    *events.EventBus
	logger *logging.Logger
}

// NewGate creates a risk gate
func NewGate(repo Repository, limits config.RiskConfig, bus *events.EventBus, logger *logging.Logger) *Gate {
	return &Gate{
		repo:   repo,
		limits: limits,
		bus:    bus,
		logger: logger.WithComponent("risk"),
	}
}

// Evaluate gates a proposed trade. A returned Verdict with Abort set has
// already raised a critical alert.
func (g *Gate) Evaluate(ctx context.Context, in Input) (*Verdict, error) {
	v := &Verdict{RiskScore: 1}
	bot := in.Bot

	// Preconditions on the bot itself
	if !bot.IsActive {
		return g.reject(bot, v, "bot is not active"), nil
	}
	if !bot.AIEnabled {
		return g.reject(bot, v, "AI trading is disabled for this bot"), nil
	}
	if bot.Symbol == "" || bot.Timeframe == "" {
		return g.reject(bot, v, "bot has no symbol or timeframe configured"), nil
	}
	if bot.CredentialID == "" {
		return g.reject(bot, v, "bot has no broker credential"), nil
	}

	// Market timing
	category := in.Category
	if category == "" {
		category = Categorise(bot.Symbol)
	}
	if !MarketOpen(category, time.Now()) {
		return g.reject(bot, v, fmt.Sprintf("market closed for %s (%s)", bot.Symbol, category)), nil
	}

	// Bot-local limits
	openTrades, err := g.repo.GetOpenTradesByBot(ctx, bot.ID)
	if err != nil {
		return nil, fmt.Errorf("open trades lookup failed: %w", err)
	}
	if len(openTrades) >= bot.MaxOpenTrades {
		return g.reject(bot, v, fmt.Sprintf("trade cap reached (%d/%d)", len(openTrades), bot.MaxOpenTrades)), nil
	}
	for _, t := range openTrades {
		if t.Symbol == bot.Symbol {
			return g.reject(bot, v, fmt.Sprintf("existing %s trade for %s", t.Status, bot.Symbol)), nil
		}
	}

	if lastAt, err := g.repo.GetLastTradeTime(ctx, bot.ID); err != nil {
		return nil, fmt.Errorf("last trade lookup failed: %w", err)
	} else if lastAt != nil {
		minGap := time.Duration(bot.MinIntervalMinutes) * time.Minute
		if since := time.Since(*lastAt); since < minGap {
			return g.reject(bot, v, fmt.Sprintf("only %s since last trade, minimum interval %s",
				since.Round(time.Second), minGap)), nil
		}
	}

	// Oversized trades are resized to the per-trade risk limit, not
	// rejected outright.
	effectiveQty := g.sizeForRisk(in)
	if effectiveQty < in.Quantity {
		v.AdjustedQuantity = &effectiveQty
		v.Reasons = append(v.Reasons, fmt.Sprintf("quantity reduced %.4f -> %.4f to honour risk per trade", in.Quantity, effectiveQty))
	}

	// Portfolio-level limits
	if abort, err := g.portfolioChecks(ctx, in, effectiveQty, v); err != nil {
		return nil, err
	} else if abort {
		v.Abort = true
		g.bus.PublishCriticalAlert(bot.UserID, "risk-gate",
			fmt.Sprintf("Trading aborted for bot %s: %v", bot.Name, v.Reasons))
		return g.reject(bot, v, ""), nil
	}
	if v.Abort || moreThanAdjustment(v) {
		return g.reject(bot, v, ""), nil
	}

	v.Approved = true
	v.RiskScore = g.score(ctx, in, v)
	return v, nil
}

// moreThanAdjustment reports whether any reason beyond a quantity
// adjustment was recorded.
func moreThanAdjustment(v *Verdict) bool {
	for _, r := range v.Reasons {
		if len(r) < 8 || r[:8] != "quantity" {
			return true
		}
	}
	return false
}

// portfolioChecks appends failed-limit reasons; the returned bool marks
// conditions severe enough to abort trading entirely.
func (g *Gate) portfolioChecks(ctx context.Context, in Input, quantity float64, v *Verdict) (bool, error) {
	bot := in.Bot
	if in.Balance <= 0 {
		v.Reasons = append(v.Reasons, "account balance unavailable")
		return false, nil
	}

	tradeValue := quantity * in.Price

	userTrades, err := g.repo.GetOpenTradesByUser(ctx, bot.UserID)
	if err != nil {
		return false, fmt.Errorf("user trades lookup failed: %w", err)
	}
	if len(userTrades) >= g.limits.MaxOpenPositions {
		v.Reasons = append(v.Reasons, fmt.Sprintf("open positions at limit (%d/%d)",
			len(userTrades), g.limits.MaxOpenPositions))
	}

	exposure := tradeValue
	for _, t := range userTrades {
		exposure += t.Quantity * t.EntryPrice
	}
	if exposurePct := exposure / in.Balance * 100; exposurePct > g.limits.MaxTotalExposure {
		v.Reasons = append(v.Reasons, fmt.Sprintf("total exposure %.2f%% exceeds %.2f%% limit",
			exposurePct, g.limits.MaxTotalExposure))
	}

	abort := false

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	dailyPnL, err := g.repo.GetDailyRealizedPnL(ctx, bot.UserID, dayStart)
	if err != nil {
		return false, fmt.Errorf("daily pnl lookup failed: %w", err)
	}
	dailyLossPct := -dailyPnL / in.Balance * 100
	if dailyLossPct > g.limits.MaxDailyLoss {
		v.Reasons = append(v.Reasons, fmt.Sprintf("daily loss %.2f%% exceeds %.2f%% limit",
			dailyLossPct, g.limits.MaxDailyLoss))
		abort = true
	}

	// Drawdown covers the whole book: realized losses today plus the
	// unrealized side of every open position, marked to the monitor's
	// latest prices.
	drawdownPct := -(dailyPnL + unrealisedPnL(userTrades)) / in.Balance * 100
	if drawdownPct > g.limits.MaxDrawdown {
		v.Reasons = append(v.Reasons, fmt.Sprintf("drawdown %.2f%% exceeds %.2f%% limit",
			drawdownPct, g.limits.MaxDrawdown))
		abort = true
	}

	losses, err := g.repo.GetConsecutiveLosses(ctx, bot.UserID)
	if err != nil {
		return false, fmt.Errorf("consecutive losses lookup failed: %w", err)
	}
	if losses > g.limits.MaxConsecutiveLosses {
		v.Reasons = append(v.Reasons, fmt.Sprintf("%d consecutive losses exceeds limit of %d",
			losses, g.limits.MaxConsecutiveLosses))
		abort = true
	}

	return abort, nil
}

// unrealisedPnL sums mark-to-market PnL over open trades. Trades without
// a current price contribute nothing.
func unrealisedPnL(trades []*database.Trade) float64 {
	var pnl float64
	for _, t := range trades {
		if t.CurrentPrice == nil {
			continue
		}
		if t.Direction == "BUY" {
			pnl += (*t.CurrentPrice - t.EntryPrice) * t.Quantity
		} else {
			pnl += (t.EntryPrice - *t.CurrentPrice) * t.Quantity
		}
	}
	return pnl
}

// sizeForRisk shrinks the quantity so the trade's notional stays within
// the per-trade risk limit.
func (g *Gate) sizeForRisk(in Input) float64 {
	if in.Balance <= 0 || in.Price <= 0 {
		return in.Quantity
	}
	maxValue := in.Balance * g.limits.MaxRiskPerTrade / 100
	if in.Quantity*in.Price <= maxValue {
		return in.Quantity
	}
	return maxValue / in.Price
}

// score maps the trade's context onto 1..10; higher is riskier
func (g *Gate) score(ctx context.Context, in Input, v *Verdict) int {
	score := 2
	if in.StopLoss == nil {
		score += 3
	}
	if v.AdjustedQuantity != nil {
		score += 2
	}
	if losses, err := g.repo.GetConsecutiveLosses(ctx, in.Bot.UserID); err == nil {
		score += losses
	}
	if score > 10 {
		score = 10
	}
	if score < 1 {
		score = 1
	}
	return score
}

func (g *Gate) reject(bot *database.Bot, v *Verdict, reason string) *Verdict {
	if reason != "" {
		v.Reasons = append(v.Reasons, reason)
	}
	v.Approved = false
	v.RiskScore = 10
	g.logger.Info("Trade rejected", "botId", bot.ID, "symbol", bot.Symbol, "reasons", fmt.Sprint(v.Reasons))
	g.bus.Publish(events.Event{
		Type:      events.EventRiskRejected,
		UserID:    bot.UserID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"botId":   bot.ID,
			"symbol":  bot.Symbol,
			"reasons": v.Reasons,
		},
	})
	return v
}
