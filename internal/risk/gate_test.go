package risk

import (
	"context"
	"strings"
	"testing"
	"time"

	"trading-platform/config"
	"trading-platform/internal/database"
	"trading-platform/internal/events"
	"trading-platform/internal/logging"
)

type fakeRepo struct {
	botTrades  []*database.Trade
	userTrades []*database.Trade
	lastTrade  *time.Time
	dailyPnL   float64
	losses     int
}

func (f *fakeRepo) GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error) {
	return f.botTrades, nil
}
func (f *fakeRepo) GetOpenTradesByUser(ctx context.Context, userID string) ([]*database.Trade, error) {
	return f.userTrades, nil
}
func (f *fakeRepo) GetLastTradeTime(ctx context.Context, botID string) (*time.Time, error) {
	return f.lastTrade, nil
}
func (f *fakeRepo) GetDailyRealizedPnL(ctx context.Context, userID string, since time.Time) (float64, error) {
	return f.dailyPnL, nil
}
func (f *fakeRepo) GetConsecutiveLosses(ctx context.Context, userID string) (int, error) {
	return f.losses, nil
}

func defaultLimits() config.RiskConfig {
	return config.RiskConfig{
		MaxRiskPerTrade:      2,
		MaxTotalExposure:     20,
		MaxDrawdown:          15,
		MaxOpenPositions:     5,
		MaxDailyLoss:         5,
		MaxConsecutiveLosses: 3,
	}
}

func testGate(repo Repository) *Gate {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
	return NewGate(repo, defaultLimits(), events.NewEventBus(), logger)
}

func activeBot() *database.Bot {
	return &database.Bot{
		ID: "bot-1", UserID: "user-1", CredentialID: "cred-1",
		Name: "btc-bot", Symbol: "BTCUSD", Timeframe: "M15",
		IsActive: true, AIEnabled: true,
		Quantity: 0.001, MaxOpenTrades: 2, MinIntervalMinutes: 5,
	}
}

func TestGateApprovesCleanTrade(t *testing.T) {
	gate := testGate(&fakeRepo{})
	v, err := gate.Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved {
		t.Fatalf("clean trade should be approved, reasons: %v", v.Reasons)
	}
	if v.RiskScore < 1 || v.RiskScore > 10 {
		t.Errorf("risk score out of range: %d", v.RiskScore)
	}
}

func TestGateRejectsInactiveBot(t *testing.T) {
	bot := activeBot()
	bot.IsActive = false
	v, err := testGate(&fakeRepo{}).Evaluate(context.Background(), Input{
		Bot: bot, Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("inactive bot must be rejected")
	}
}

func TestGateRejectsTradeCap(t *testing.T) {
	repo := &fakeRepo{botTrades: []*database.Trade{
		{Symbol: "ETHUSD", Status: database.TradeStatusOpen},
		{Symbol: "SOLUSD", Status: database.TradeStatusOpen},
	}}
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("bot at its trade cap must be rejected")
	}
}

func TestGateRejectsDuplicateSymbol(t *testing.T) {
	repo := &fakeRepo{botTrades: []*database.Trade{
		{Symbol: "BTCUSD", Status: database.TradeStatusPending},
	}}
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("a pending trade on the same symbol must block a new one")
	}
}

func TestGateMinIntervalBoundary(t *testing.T) {
	// Exactly at the boundary is allowed; one second inside is not
	exact := time.Now().Add(-5 * time.Minute)
	v, err := testGate(&fakeRepo{lastTrade: &exact}).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved {
		t.Errorf("trade exactly at the minimum interval should pass, reasons: %v", v.Reasons)
	}

	tooSoon := time.Now().Add(-4 * time.Minute)
	v, err = testGate(&fakeRepo{lastTrade: &tooSoon}).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("trade inside the minimum interval must be rejected")
	}
}

func TestGateAdjustsOversizedQuantity(t *testing.T) {
	gate := testGate(&fakeRepo{})
	// 1 BTC at 60k on a 10k account is way past 2% risk
	v, err := gate.Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 1, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !v.Approved {
		t.Fatalf("oversized trade should be resized, not rejected: %v", v.Reasons)
	}
	if v.AdjustedQuantity == nil {
		t.Fatal("adjusted quantity missing")
	}
	want := 10000 * 0.02 / 60000
	if *v.AdjustedQuantity != want {
		t.Errorf("adjusted quantity = %v, want %v", *v.AdjustedQuantity, want)
	}
}

func TestGateSizeForRisk(t *testing.T) {
	gate := testGate(&fakeRepo{})
	got := gate.sizeForRisk(Input{Quantity: 1, Price: 60000, Balance: 10000})
	want := 10000 * 0.02 / 60000
	if got != want {
		t.Errorf("sizeForRisk = %v, want %v", got, want)
	}
	// Already inside the limit: unchanged
	if got := gate.sizeForRisk(Input{Quantity: 0.001, Price: 60000, Balance: 100000}); got != 0.001 {
		t.Errorf("in-limit quantity should be unchanged, got %v", got)
	}
}

func TestGateDailyLossAborts(t *testing.T) {
	repo := &fakeRepo{dailyPnL: -600} // 6% of a 10k account
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("breaching the daily loss limit must reject")
	}
	if !v.Abort {
		t.Error("daily loss breach should surface as an abort")
	}
}

func TestGateConsecutiveLossesAbort(t *testing.T) {
	repo := &fakeRepo{losses: 4}
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved || !v.Abort {
		t.Errorf("4 consecutive losses must abort, got %+v", v)
	}
}

func TestGateOpenPositionLimit(t *testing.T) {
	trades := make([]*database.Trade, 5)
	for i := range trades {
		trades[i] = &database.Trade{Symbol: "ETHUSD", Quantity: 0.001, EntryPrice: 3000}
	}
	v, err := testGate(&fakeRepo{userTrades: trades}).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved {
		t.Error("portfolio at max open positions must reject")
	}
}

func TestGateDrawdownIncludesUnrealisedLoss(t *testing.T) {
	// Realized daily loss is 2% (below the 5% daily cap) but one open
	// position is 14% of the account underwater at its current price.
	price := 30.0
	repo := &fakeRepo{
		dailyPnL: -200,
		userTrades: []*database.Trade{
			{Symbol: "ETHUSD", Direction: "BUY", Quantity: 20, EntryPrice: 100, CurrentPrice: &price},
		},
	}
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved || !v.Abort {
		t.Errorf("16%% drawdown must abort, got %+v", v)
	}
	var sawDrawdown, sawDailyLoss bool
	for _, r := range v.Reasons {
		if strings.HasPrefix(r, "drawdown") {
			sawDrawdown = true
		}
		if strings.HasPrefix(r, "daily loss") {
			sawDailyLoss = true
		}
	}
	if !sawDrawdown {
		t.Errorf("expected a drawdown reason, got %v", v.Reasons)
	}
	if sawDailyLoss {
		t.Errorf("2%% realized loss should not trip the daily limit, got %v", v.Reasons)
	}
}

func TestGateDailyLossAndDrawdownBothReported(t *testing.T) {
	// A 16% realized loss breaches both limits; both reasons surface.
	repo := &fakeRepo{dailyPnL: -1600}
	v, err := testGate(repo).Evaluate(context.Background(), Input{
		Bot: activeBot(), Quantity: 0.001, Price: 60000, Balance: 10000,
	})
	if err != nil {
		t.Fatal(err)
	}
	if v.Approved || !v.Abort {
		t.Errorf("16%% realized loss must abort, got %+v", v)
	}
	var sawDrawdown, sawDailyLoss bool
	for _, r := range v.Reasons {
		if strings.HasPrefix(r, "drawdown") {
			sawDrawdown = true
		}
		if strings.HasPrefix(r, "daily loss") {
			sawDailyLoss = true
		}
	}
	if !sawDrawdown || !sawDailyLoss {
		t.Errorf("expected both daily-loss and drawdown reasons, got %v", v.Reasons)
	}
}
