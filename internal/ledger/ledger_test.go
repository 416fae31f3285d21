package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"trading-platform/internal/database"

	"github.com/rs/zerolog"
)

type fakeRepo struct {
	trades    []*database.Trade
	bots      map[string]*database.Bot
	ownership map[string]*database.PositionOwnership
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		bots:      make(map[string]*database.Bot),
		ownership: make(map[string]*database.PositionOwnership),
	}
}

func ownKey(credentialID, dealID string) string { return credentialID + "/" + dealID }

func (f *fakeRepo) GetTradeByDealID(ctx context.Context, credentialID, dealID string) (*database.Trade, error) {
	for _, t := range f.trades {
		if t.CredentialID == credentialID && t.BrokerDealID != nil && *t.BrokerDealID == dealID {
			return t, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *fakeRepo) GetOpenTradesByCredential(ctx context.Context, credentialID string) ([]*database.Trade, error) {
	var out []*database.Trade
	for _, t := range f.trades {
		if t.CredentialID == credentialID && t.Status != database.TradeStatusClosed {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error) {
	var out []*database.Trade
	for _, t := range f.trades {
		if t.BotID != nil && *t.BotID == botID && t.Status != database.TradeStatusClosed {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetBotByID(ctx context.Context, id string) (*database.Bot, error) {
	if b, ok := f.bots[id]; ok {
		return b, nil
	}
	return nil, database.ErrNotFound
}

func (f *fakeRepo) SetTradeDealID(ctx context.Context, id int64, dealID string, status string) error {
	for _, t := range f.trades {
		if t.ID == id {
			t.BrokerDealID = &dealID
			t.Status = status
			return nil
		}
	}
	return database.ErrNotFound
}

func (f *fakeRepo) RecordOwnership(ctx context.Context, o *database.PositionOwnership) error {
	key := ownKey(o.CredentialID, o.BrokerDealID)
	if _, exists := f.ownership[key]; exists {
		return fmt.Errorf("duplicate ownership for %s", key)
	}
	f.ownership[key] = o
	return nil
}

func (f *fakeRepo) GetOwnership(ctx context.Context, credentialID, dealID string) (*database.PositionOwnership, error) {
	if o, ok := f.ownership[ownKey(credentialID, dealID)]; ok {
		return o, nil
	}
	return nil, database.ErrNotFound
}

func testLedger(repo Repository) *Ledger {
	return New(repo, zerolog.New(io.Discard))
}

func strPtr(s string) *string { return &s }

func TestAttributeByDealID(t *testing.T) {
	repo := newFakeRepo()
	repo.trades = append(repo.trades, &database.Trade{
		ID: 1, BotID: strPtr("bot-1"), CredentialID: "cred-1",
		Symbol: "BTCUSD", Direction: "BUY", Quantity: 0.5,
		BrokerDealID: strPtr("deal-1"), Status: database.TradeStatusOpen,
		OpenedAt: time.Now(),
	})

	got, err := testLedger(repo).Attribute(context.Background(), "cred-1", BrokerPosition{
		DealID: "deal-1", Symbol: "BTCUSD", Direction: "BUY", Size: 0.5, CreatedDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.BotID != "bot-1" || got.Provenance != database.ProvenanceDealIDMatch {
		t.Errorf("unexpected attribution: %+v", got)
	}
}

func TestAttributeByTimeSymbolSize(t *testing.T) {
	repo := newFakeRepo()
	repo.trades = append(repo.trades, &database.Trade{
		ID: 2, BotID: strPtr("bot-2"), CredentialID: "cred-1",
		Symbol: "EURUSD", Direction: "SELL", Quantity: 1.0,
		Status: database.TradeStatusPending, OpenedAt: time.Now(),
	})

	got, err := testLedger(repo).Attribute(context.Background(), "cred-1", BrokerPosition{
		DealID: "deal-2", Symbol: "EURUSD", Direction: "SELL", Size: 1.0,
		CreatedDate: time.Now().Add(-2 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.BotID != "bot-2" || got.Provenance != database.ProvenanceTimeSymbolSizeMatch {
		t.Errorf("unexpected attribution: %+v", got)
	}
	if repo.trades[0].BrokerDealID == nil || *repo.trades[0].BrokerDealID != "deal-2" {
		t.Error("matched trade should be bound to the deal id")
	}
}

func TestAttributeWindowExcludesOldTrades(t *testing.T) {
	repo := newFakeRepo()
	repo.trades = append(repo.trades, &database.Trade{
		ID: 3, BotID: strPtr("bot-3"), CredentialID: "cred-1",
		Symbol: "EURUSD", Direction: "SELL", Quantity: 1.0,
		Status: database.TradeStatusPending, OpenedAt: time.Now().Add(-20 * time.Minute),
	})

	_, err := testLedger(repo).Attribute(context.Background(), "cred-1", BrokerPosition{
		DealID: "deal-3", Symbol: "EURUSD", Direction: "SELL", Size: 1.0, CreatedDate: time.Now(),
	})
	if !errors.Is(err, ErrOrphanPosition) {
		t.Errorf("trade outside the 5-minute window must not match, got %v", err)
	}
}

func TestAttributeRefusesMismatchedSize(t *testing.T) {
	repo := newFakeRepo()
	repo.trades = append(repo.trades, &database.Trade{
		ID: 4, BotID: strPtr("bot-4"), CredentialID: "cred-1",
		Symbol: "BTCUSD", Direction: "BUY", Quantity: 0.5,
		Status: database.TradeStatusPending, OpenedAt: time.Now(),
	})

	_, err := testLedger(repo).Attribute(context.Background(), "cred-1", BrokerPosition{
		DealID: "deal-4", Symbol: "BTCUSD", Direction: "BUY", Size: 0.7, CreatedDate: time.Now(),
	})
	if !errors.Is(err, ErrOrphanPosition) {
		t.Errorf("size mismatch must refuse attribution, got %v", err)
	}
}

func TestOwnershipNeverMigrates(t *testing.T) {
	repo := newFakeRepo()
	l := testLedger(repo)

	if err := l.Register(context.Background(), "cred-1", "deal-5", "bot-a", 10); err != nil {
		t.Fatal(err)
	}
	// Same bot re-registering is a no-op
	if err := l.Register(context.Background(), "cred-1", "deal-5", "bot-a", 10); err != nil {
		t.Errorf("idempotent re-register should succeed: %v", err)
	}
	// A different bot may never take over
	if err := l.Register(context.Background(), "cred-1", "deal-5", "bot-b", 11); !errors.Is(err, ErrOwnershipPinned) {
		t.Errorf("ownership migration must be refused, got %v", err)
	}
}

func TestAttributeHonoursPinnedOwnership(t *testing.T) {
	repo := newFakeRepo()
	l := testLedger(repo)

	if err := l.Register(context.Background(), "cred-1", "deal-6", "bot-a", 1); err != nil {
		t.Fatal(err)
	}
	got, err := l.Attribute(context.Background(), "cred-1", BrokerPosition{
		DealID: "deal-6", Symbol: "BTCUSD", Direction: "BUY", Size: 1, CreatedDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.BotID != "bot-a" {
		t.Errorf("pinned owner should win, got %s", got.BotID)
	}
}

func TestRecoverRejectsOldPositions(t *testing.T) {
	repo := newFakeRepo()
	repo.bots["bot-1"] = &database.Bot{ID: "bot-1", MaxOpenTrades: 2}

	_, err := testLedger(repo).Recover(context.Background(), "cred-1", "bot-1", BrokerPosition{
		DealID: "deal-7", CreatedDate: time.Now().Add(-15 * time.Minute),
	})
	if !errors.Is(err, ErrRecoveryTooOld) {
		t.Errorf("positions older than 10 minutes must not be recovered, got %v", err)
	}
}

func TestRecoverRespectsTradeCap(t *testing.T) {
	repo := newFakeRepo()
	repo.bots["bot-1"] = &database.Bot{ID: "bot-1", MaxOpenTrades: 1}
	repo.trades = append(repo.trades, &database.Trade{
		ID: 5, BotID: strPtr("bot-1"), CredentialID: "cred-1",
		Symbol: "BTCUSD", Direction: "BUY", Quantity: 1,
		Status: database.TradeStatusOpen, OpenedAt: time.Now(),
	})

	_, err := testLedger(repo).Recover(context.Background(), "cred-1", "bot-1", BrokerPosition{
		DealID: "deal-8", CreatedDate: time.Now(),
	})
	if !errors.Is(err, ErrRecoveryOverCap) {
		t.Errorf("recovery must not push a bot over its cap, got %v", err)
	}
}

func TestRecoverAdoptsFreshOrphan(t *testing.T) {
	repo := newFakeRepo()
	repo.bots["bot-1"] = &database.Bot{ID: "bot-1", MaxOpenTrades: 2}

	got, err := testLedger(repo).Recover(context.Background(), "cred-1", "bot-1", BrokerPosition{
		DealID: "deal-9", Symbol: "BTCUSD", Direction: "BUY", Size: 1, CreatedDate: time.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.BotID != "bot-1" {
		t.Errorf("unexpected owner %s", got.BotID)
	}
}
