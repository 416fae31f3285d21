package monitor

import (
	"context"
	"testing"
	"time"

	"trading-platform/internal/database"
	"trading-platform/internal/ledger"

	"github.com/rs/zerolog"
)

// The sync fakes extend fakeRepo so one repository backs both the
// monitor and the ledger, the way the real Repository does.

type syncRepo struct {
	*fakeRepo
	ownership map[string]*database.PositionOwnership
	dealIDs   map[int64]string
}

func newSyncRepo() *syncRepo {
	return &syncRepo{
		fakeRepo:  newFakeRepo(),
		ownership: make(map[string]*database.PositionOwnership),
		dealIDs:   make(map[int64]string),
	}
}

func (f *syncRepo) GetTradeByDealID(ctx context.Context, credentialID, dealID string) (*database.Trade, error) {
	for _, t := range f.trades {
		if t.BrokerDealID != nil && *t.BrokerDealID == dealID {
			return t, nil
		}
	}
	return nil, database.ErrNotFound
}

func (f *syncRepo) GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error) {
	var out []*database.Trade
	for _, t := range f.trades {
		if t.BotID != nil && *t.BotID == botID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *syncRepo) SetTradeDealID(ctx context.Context, id int64, dealID string, status string) error {
	f.dealIDs[id] = dealID
	return nil
}

func (f *syncRepo) RecordOwnership(ctx context.Context, o *database.PositionOwnership) error {
	f.ownership[o.BrokerDealID] = o
	return nil
}

func (f *syncRepo) GetOwnership(ctx context.Context, credentialID, dealID string) (*database.PositionOwnership, error) {
	if o, ok := f.ownership[dealID]; ok {
		return o, nil
	}
	return nil, database.ErrNotFound
}

type syncMarket struct {
	fakeMarket
	positions []ledger.BrokerPosition
}

func (f *syncMarket) ListPositions(ctx context.Context, credentialID string) ([]ledger.BrokerPosition, error) {
	return f.positions, nil
}

func syncMonitor(repo *syncRepo, market MarketAccess) *Monitor {
	m := testMonitor(repo, market)
	m.EnableSync(ledger.New(repo, zerolog.Nop()))
	return m
}

func TestSyncIgnoresKnownPositions(t *testing.T) {
	repo := newSyncRepo()
	repo.trades = []*database.Trade{openTrade("BUY", 1.1000, time.Minute)}
	market := &syncMarket{positions: []ledger.BrokerPosition{{
		DealID: "deal-1", Symbol: "EURUSD", Direction: "BUY", Size: 1,
		CreatedDate: time.Now().Add(-time.Minute),
	}}}

	m := syncMonitor(repo, market)
	m.syncPositions(context.Background(), "cred-1", repo.trades)

	if len(repo.ownership) != 0 {
		t.Fatalf("known position should not trigger attribution, got %d records", len(repo.ownership))
	}
}

func TestSyncAttributesPendingTradeByTimeSymbolSize(t *testing.T) {
	repo := newSyncRepo()
	pending := openTrade("BUY", 1.1000, time.Minute)
	pending.BrokerDealID = nil
	pending.Status = database.TradeStatusPending
	repo.trades = []*database.Trade{pending}

	market := &syncMarket{positions: []ledger.BrokerPosition{{
		DealID: "deal-new", Symbol: "EURUSD", Direction: "BUY", Size: 1,
		CreatedDate: time.Now().Add(-time.Minute),
	}}}

	m := syncMonitor(repo, market)
	m.syncPositions(context.Background(), "cred-1", repo.trades)

	o, ok := repo.ownership["deal-new"]
	if !ok {
		t.Fatal("expected ownership record for matched position")
	}
	if o.BotID != "bot-1" {
		t.Fatalf("attributed to %s, want bot-1", o.BotID)
	}
	if o.Provenance != database.ProvenanceTimeSymbolSizeMatch {
		t.Fatalf("provenance = %s", o.Provenance)
	}
	if repo.dealIDs[1] != "deal-new" {
		t.Fatal("pending trade should have been bound to the deal id")
	}
}

func TestSyncOldOrphanNotAttributed(t *testing.T) {
	repo := newSyncRepo()
	repo.bots["bot-2"] = &database.Bot{
		ID: "bot-2", UserID: "user-1", CredentialID: "cred-1",
		Symbol: "GBPUSD", MaxOpenTrades: 2, IsActive: true,
	}

	// Unfamiliar position created 12 minutes ago: the 5-minute match
	// window and the 10-minute recovery window both exclude it.
	market := &syncMarket{positions: []ledger.BrokerPosition{{
		DealID: "deal-orphan", Symbol: "GBPUSD", Direction: "SELL", Size: 2,
		CreatedDate: time.Now().Add(-12 * time.Minute),
	}}}

	m := syncMonitor(repo, market)
	m.syncPositions(context.Background(), "cred-1", nil)

	if len(repo.ownership) != 0 {
		t.Fatal("stale orphan must not be attributed")
	}
	if len(repo.created) != 0 {
		t.Fatal("stale orphan must not create a trade row")
	}
}

func TestSyncRecoversFreshOrphanForSoleCandidate(t *testing.T) {
	repo := newSyncRepo()
	repo.bots["bot-2"] = &database.Bot{
		ID: "bot-2", UserID: "user-1", CredentialID: "cred-1",
		Symbol: "GBPUSD", MaxOpenTrades: 2, IsActive: true,
	}

	market := &syncMarket{positions: []ledger.BrokerPosition{{
		DealID: "deal-fresh", Symbol: "GBPUSD", Direction: "SELL", Size: 2,
		OpenLevel: 1.2650, CreatedDate: time.Now().Add(-2 * time.Minute),
	}}}

	m := syncMonitor(repo, market)
	m.syncPositions(context.Background(), "cred-1", nil)

	o, ok := repo.ownership["deal-fresh"]
	if !ok {
		t.Fatal("fresh orphan with a sole candidate should be recovered")
	}
	if o.BotID != "bot-2" {
		t.Fatalf("recovered for %s, want bot-2", o.BotID)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one recovered trade row, got %d", len(repo.created))
	}
	if repo.created[0].EntryPrice != 1.2650 {
		t.Fatalf("entry price = %v", repo.created[0].EntryPrice)
	}
}

func TestSyncAmbiguousCandidatesRefused(t *testing.T) {
	repo := newSyncRepo()
	repo.bots["bot-2"] = &database.Bot{
		ID: "bot-2", UserID: "user-1", CredentialID: "cred-1",
		Symbol: "GBPUSD", MaxOpenTrades: 2, IsActive: true,
	}
	repo.bots["bot-3"] = &database.Bot{
		ID: "bot-3", UserID: "user-1", CredentialID: "cred-1",
		Symbol: "GBPUSD", MaxOpenTrades: 2, IsActive: true,
	}

	market := &syncMarket{positions: []ledger.BrokerPosition{{
		DealID: "deal-fresh", Symbol: "GBPUSD", Direction: "SELL", Size: 2,
		CreatedDate: time.Now().Add(-2 * time.Minute),
	}}}

	m := syncMonitor(repo, market)
	m.syncPositions(context.Background(), "cred-1", nil)

	if len(repo.ownership) != 0 {
		t.Fatal("two candidate bots means no recovery")
	}
}
