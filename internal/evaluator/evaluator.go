// Package evaluator runs one bot evaluation end to end: admission, market
// data, chart, analysis, decision, and (when approved) execution.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-platform/internal/analysis"
	"trading-platform/internal/broker"
	"trading-platform/internal/chart"
	"trading-platform/internal/coordinator"
	"trading-platform/internal/database"
	"trading-platform/internal/decision"
	"trading-platform/internal/events"
	"trading-platform/internal/ledger"
	"trading-platform/internal/logging"
	"trading-platform/internal/marketdata"
	"trading-platform/internal/risk"

	"github.com/google/uuid"
)

// Evaluation states. State is transient to one attempt and never
// persisted; a failure from any state transitions to StateReported.
type State string

const (
	StateIdle       State = "IDLE"
	StateAdmitted   State = "ADMITTED"
	StateMarketData State = "MARKET_DATA"
	StateChart      State = "CHART"
	StateAnalysis   State = "ANALYSIS"
	StateHold       State = "HOLD"
	StateExecute    State = "EXECUTE"
	StateReported   State = "REPORTED"
)

// ErrQueued means the coordinator refused admission; the caller retries
// on the next tick.
var ErrQueued = errors.New("bot queued, will retry")

// evaluationBudget is the worst-case sum of stage budgets
const evaluationBudget = 150 * time.Second

// defaultConfidenceThreshold applies when a strategy has none configured
const defaultConfidenceThreshold = 70

// Evaluator drives the evaluation pipeline for one bot at a time
type Evaluator struct {
	repo    *database.Repository
	coord   *coordinator.Coordinator
	markets *marketdata.Manager
	brokers *broker.Manager
	charts  *chart.Pipeline
	htf     *analysis.Analyser
	engine  *decision.Engine
	gate    *risk.Gate
	ledger  *ledger.Ledger
	bus     *events.EventBus
	logger  *logging.Logger
}

// New creates an evaluator
func New(repo *database.Repository, coord *coordinator.Coordinator, markets *marketdata.Manager,
	brokers *broker.Manager, charts *chart.Pipeline, htf *analysis.Analyser,
	engine *decision.Engine, gate *risk.Gate, l *ledger.Ledger,
	bus *events.EventBus, logger *logging.Logger) *Evaluator {
	return &Evaluator{
		repo:    repo,
		coord:   coord,
		markets: markets,
		brokers: brokers,
		charts:  charts,
		htf:     htf,
		engine:  engine,
		gate:    gate,
		ledger:  l,
		bus:     bus,
		logger:  logger.WithComponent("evaluator"),
	}
}

// Result summarises one evaluation attempt
type Result struct {
	EvaluationID string
	State        State
	Decision     string
	Reason       string
	TradeID      *int64
}

// Evaluate runs one evaluation attempt for a bot. Idempotent on failure:
// every outcome persists an Evaluation row, completion is always reported
// to the coordinator once admission was granted.
func (e *Evaluator) Evaluate(ctx context.Context, botID string, priority int) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, evaluationBudget)
	defer cancel()

	// Step 1: load bot + strategy + credential
	bot, err := e.repo.GetBotByID(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("bot %s: %w", botID, err)
	}
	if !bot.IsActive {
		return &Result{State: StateReported, Decision: database.DecisionSkipped, Reason: "bot inactive"}, nil
	}
	strat, err := e.repo.GetStrategyByID(ctx, bot.StrategyID)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", bot.StrategyID, err)
	}

	// Step 2: coordinator admission
	if !e.coord.RequestBotExecution(bot.ID, bot.CredentialID, priority) {
		return nil, ErrQueued
	}

	run := &attempt{
		evaluator: e,
		bot:       bot,
		strategy:  strat,
		eval: &database.Evaluation{
			ID:        uuid.New().String(),
			BotID:     bot.ID,
			UserID:    bot.UserID,
			StartedAt: time.Now().UTC(),
		},
		state: StateAdmitted,
	}
	e.bus.Publish(events.Event{
		Type:   events.EventEvaluationStarted,
		UserID: bot.UserID,
		Data:   map[string]interface{}{"bot_id": bot.ID, "evaluation_id": run.eval.ID},
	})

	result := run.execute(ctx)

	// Step 11: always report completion
	e.coord.CompleteBotExecution(bot.ID, result.Decision != database.DecisionError)
	return result, nil
}

// attempt carries the state of one evaluation through its stages
type attempt struct {
	evaluator *Evaluator
	bot       *database.Bot
	strategy  *database.Strategy
	eval      *database.Evaluation
	state     State

	cache       *marketdata.Cache
	price       *broker.PriceQuote
	recentClose *float64
	chartResult *chart.Result
	balance     float64
	openCount   int
}

func (a *attempt) execute(ctx context.Context) *Result {
	e := a.evaluator
	bot := a.bot
	logger := e.logger.WithTraceID(a.eval.ID)

	// Step 3: market hours
	category := risk.Categorise(bot.Symbol)
	if !risk.MarketOpen(category, time.Now()) {
		return a.report(ctx, database.DecisionSkipped,
			fmt.Sprintf("market closed for %s (%s)", bot.Symbol, category), nil)
	}

	// Step 4: broker session + market data, degraded mode on failure
	a.state = StateMarketData
	cache, err := e.markets.ForCredential(ctx, bot.CredentialID)
	if err != nil {
		return a.report(ctx, database.DecisionError, fmt.Sprintf("credential unusable: %v", err), nil)
	}
	a.cache = cache

	if quote, err := cache.GetPrice(ctx, bot.Symbol); err == nil {
		a.price = quote
	} else {
		logger.WithError(err).Warn("No live price, continuing degraded", "symbol", bot.Symbol)
	}
	if candles, err := cache.GetOHLC(ctx, bot.Symbol, bot.Timeframe, 20); err == nil && len(candles) > 0 {
		closeVal := candles[len(candles)-1].Close
		a.recentClose = &closeVal
	}

	// Step 5: chart pipeline, 45 s budget inside
	a.state = StateChart
	chartResult, chartErr := e.charts.Generate(ctx, cache, bot.UserID, bot.Symbol, bot.Timeframe, nil)
	if chartErr != nil {
		logger.WithError(chartErr).Warn("Chart unavailable, deciding without an image")
	} else {
		a.chartResult = chartResult
		a.eval.ChartURL = &chartResult.URL
	}

	// Step 6: portfolio context
	a.loadPortfolio(ctx)

	// Step 7: higher-timeframe analysis, best effort
	a.state = StateAnalysis
	htfCtx := e.htf.Analyse(ctx, cache, bot.Symbol, bot.Timeframe)

	// Step 8: decision chain
	outcome, err := e.engine.Decide(ctx, a.decisionInput(htfCtx))
	if err != nil {
		return a.report(ctx, database.DecisionError, fmt.Sprintf("decision failed: %v", err), nil)
	}

	// A decision made without a chart never clears the execution bar:
	// confidence is capped below the strategy threshold.
	threshold := a.strategy.ConfidenceThreshold
	if threshold <= 0 {
		threshold = defaultConfidenceThreshold
	}
	if a.chartResult == nil && outcome.Confidence >= threshold {
		outcome.Confidence = threshold - 1
	}
	a.eval.Confidence = &outcome.Confidence

	if outcome.Decision != decision.DecisionExecuteTrade {
		a.state = StateHold
		return a.report(ctx, database.DecisionHold, outcome.Reasoning, nil)
	}
	if outcome.Confidence < threshold {
		a.state = StateHold
		reason := fmt.Sprintf("confidence %d below threshold %d", outcome.Confidence, threshold)
		if chartErr != nil {
			reason = "chart_unavailable: " + reason
		}
		return a.report(ctx, database.DecisionHold, reason, nil)
	}

	// Step 10: risk gate + execution
	a.state = StateExecute
	if !bot.AIEnabled {
		return a.report(ctx, database.DecisionSkipped, "AI trading disabled, decision not executed", nil)
	}
	tradeID, execErr := a.executeTrade(ctx, outcome)
	if execErr != nil {
		return a.report(ctx, database.DecisionError, fmt.Sprintf("execution failed: %v", execErr), nil)
	}
	if tradeID == nil {
		return a.report(ctx, database.DecisionSkipped, "rejected by risk gate", nil)
	}
	return a.report(ctx, database.DecisionExecute, outcome.Reasoning, tradeID)
}

func (a *attempt) loadPortfolio(ctx context.Context) {
	e := a.evaluator
	gateway, err := e.brokers.Gateway(ctx, a.bot.CredentialID)
	if err == nil {
		if bal, err := gateway.GetBalance(ctx); err == nil {
			a.balance = bal.Balance
		}
	}
	if trades, err := e.repo.GetOpenTradesByUser(ctx, a.bot.UserID); err == nil {
		a.openCount = len(trades)
	}
}

func (a *attempt) decisionInput(htfCtx *analysis.Context) decision.Input {
	in := decision.Input{
		Symbol:      a.bot.Symbol,
		RecentClose: a.recentClose,
		Quantity:    a.bot.Quantity,
		MarketConditions: fmt.Sprintf("Timeframe %s. Higher timeframe: %s",
			a.bot.Timeframe, htfCtx.Summary()),
		RiskPanel: fmt.Sprintf("Max open trades for this bot: %d. Open positions account-wide: %d.",
			a.bot.MaxOpenTrades, a.openCount),
		PortfolioPanel: fmt.Sprintf("Account balance: %.2f", a.balance),
	}
	if a.price != nil {
		mid := a.price.Mid()
		in.CurrentPrice = &mid
	}
	if a.strategy != nil {
		in.TechnicalsPanel = fmt.Sprintf("Strategy: %s\n%s", a.strategy.Name, a.strategy.RulesText)
	}
	if a.chartResult != nil {
		in.ChartPNG = a.chartResult.PNG
	}
	if a.eval.MarketPrice == nil && in.CurrentPrice != nil {
		a.eval.MarketPrice = in.CurrentPrice
	}
	return in
}

// executeTrade gates and opens the position. A nil trade id with nil
// error means the risk gate said no.
func (a *attempt) executeTrade(ctx context.Context, outcome *decision.Outcome) (*int64, error) {
	e := a.evaluator
	bot := a.bot
	params := outcome.TradeParams

	price := 0.0
	if a.price != nil {
		price = a.price.Mid()
	} else if outcome.FallbackPrice != nil {
		price = *outcome.FallbackPrice
	}

	verdict, err := e.gate.Evaluate(ctx, risk.Input{
		Bot:      bot,
		Quantity: params.Quantity,
		Price:    price,
		Balance:  a.balance,
		StopLoss: params.StopLoss,
	})
	if err != nil {
		return nil, fmt.Errorf("risk gate: %w", err)
	}
	if !verdict.Approved {
		return nil, nil
	}
	quantity := params.Quantity
	if verdict.AdjustedQuantity != nil {
		quantity = *verdict.AdjustedQuantity
	}

	resolver, err := e.brokers.Resolver(ctx, bot.CredentialID)
	if err != nil {
		return nil, err
	}
	res, err := resolver.Resolve(ctx, bot.Symbol)
	if err != nil {
		return nil, fmt.Errorf("epic resolution: %w", err)
	}
	gateway, err := e.brokers.Gateway(ctx, bot.CredentialID)
	if err != nil {
		return nil, err
	}

	trade := &database.Trade{
		BotID:        &bot.ID,
		UserID:       bot.UserID,
		CredentialID: bot.CredentialID,
		Symbol:       bot.Symbol,
		Direction:    params.Direction,
		EntryPrice:   price,
		Quantity:     quantity,
		StopLoss:     params.StopLoss,
		TakeProfit:   params.TakeProfit,
		Rationale:    &outcome.Reasoning,
		OpenedAt:     time.Now().UTC(),
	}
	if err := placeTrade(ctx, e.repo, gateway, trade, broker.OpenPositionRequest{
		Epic:       res.Epic,
		Direction:  params.Direction,
		Size:       quantity,
		StopLoss:   params.StopLoss,
		TakeProfit: params.TakeProfit,
	}); err != nil {
		return nil, err
	}
	if err := e.ledger.Register(ctx, bot.CredentialID, *trade.BrokerDealID, bot.ID, trade.ID); err != nil {
		e.logger.WithError(err).Error("Ownership registration failed", "dealId", *trade.BrokerDealID)
	}
	if err := e.repo.TouchBotEvaluated(ctx, bot.ID, time.Now().UTC()); err != nil {
		e.logger.WithError(err).Warn("Failed to update bot evaluation time", "botId", bot.ID)
	}

	e.bus.PublishTradeOpened(bot.UserID, bot.ID, bot.Symbol, params.Direction, trade.EntryPrice, quantity)
	return &trade.ID, nil
}

// tradeStore is the persistence slice of the pending-to-open lifecycle
type tradeStore interface {
	CreateTrade(ctx context.Context, t *database.Trade) error
	ConfirmTrade(ctx context.Context, id int64, dealID string, entryPrice float64) error
	CancelTrade(ctx context.Context, id int64, reason string) error
}

// placeTrade persists the PENDING row before the broker call, so a crash
// mid-open leaves a row the ledger can match by time/symbol/size. The row
// is promoted to OPEN on confirmation or marked CANCELLED on a reject.
func placeTrade(ctx context.Context, store tradeStore, gateway broker.Gateway, trade *database.Trade, req broker.OpenPositionRequest) error {
	trade.Status = database.TradeStatusPending
	trade.BrokerDealID = nil
	if err := store.CreateTrade(ctx, trade); err != nil {
		return fmt.Errorf("persist trade: %w", err)
	}

	confirm, err := gateway.OpenPosition(ctx, req)
	if err != nil {
		if cErr := store.CancelTrade(ctx, trade.ID, err.Error()); cErr != nil {
			return fmt.Errorf("open position: %w (cancel failed: %v)", err, cErr)
		}
		trade.Status = database.TradeStatusCancelled
		return fmt.Errorf("open position: %w", err)
	}

	entryPrice := confirm.Level
	if entryPrice == 0 {
		entryPrice = trade.EntryPrice
	}
	if err := store.ConfirmTrade(ctx, trade.ID, confirm.DealID, entryPrice); err != nil {
		return fmt.Errorf("confirm trade: %w", err)
	}
	trade.Status = database.TradeStatusOpen
	trade.BrokerDealID = &confirm.DealID
	trade.EntryPrice = entryPrice
	return nil
}

// report persists the Evaluation row and finishes the attempt. Every
// path through an admitted evaluation ends here.
func (a *attempt) report(ctx context.Context, decision, reason string, tradeID *int64) *Result {
	e := a.evaluator
	now := time.Now().UTC()
	a.eval.Decision = decision
	a.eval.Reason = &reason
	a.eval.CompletedAt = &now
	a.state = StateReported

	// Persist even when the parent context is done
	persistCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		persistCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if decision == database.DecisionHold || decision == database.DecisionError {
			cancelledReason := "cancelled"
			a.eval.Decision = database.DecisionHold
			a.eval.Reason = &cancelledReason
		}
	}
	if err := e.repo.CreateEvaluation(persistCtx, a.eval); err != nil {
		e.logger.WithError(err).Error("Failed to persist evaluation", "botId", a.bot.ID)
	}

	e.bus.PublishEvaluationCompleted(a.bot.UserID, a.bot.ID, a.eval.ID, a.eval.Decision, reason)
	e.logger.Info("Evaluation completed", "botId", a.bot.ID, "decision", a.eval.Decision, "reason", reason)

	return &Result{
		EvaluationID: a.eval.ID,
		State:        a.state,
		Decision:     a.eval.Decision,
		Reason:       reason,
		TradeID:      tradeID,
	}
}
