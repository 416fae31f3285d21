package evaluator

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-platform/internal/broker"
	"trading-platform/internal/database"
)

type fakeStore struct {
	created   *database.Trade
	confirmed bool
	dealID    string
	entry     float64
	cancelled bool
	reason    string
}

func (f *fakeStore) CreateTrade(ctx context.Context, t *database.Trade) error {
	t.ID = 7
	copied := *t
	f.created = &copied
	return nil
}
func (f *fakeStore) ConfirmTrade(ctx context.Context, id int64, dealID string, entryPrice float64) error {
	f.confirmed = true
	f.dealID = dealID
	f.entry = entryPrice
	return nil
}
func (f *fakeStore) CancelTrade(ctx context.Context, id int64, reason string) error {
	f.cancelled = true
	f.reason = reason
	return nil
}

// fakeGateway records what the store looked like when the broker call
// arrived, which is the whole point of the pending-first ordering.
type fakeGateway struct {
	store       *fakeStore
	confirm     *broker.DealConfirmation
	openErr     error
	sawPending  bool
	sawNoDealID bool
}

func (f *fakeGateway) OpenPosition(ctx context.Context, req broker.OpenPositionRequest) (*broker.DealConfirmation, error) {
	if f.store.created != nil {
		f.sawPending = f.store.created.Status == database.TradeStatusPending
		f.sawNoDealID = f.store.created.BrokerDealID == nil
	}
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.confirm, nil
}
func (f *fakeGateway) GetLatestPrice(ctx context.Context, epic string) (*broker.PriceQuote, error) {
	return nil, nil
}
func (f *fakeGateway) GetOHLC(ctx context.Context, q broker.OHLCQuery) ([]broker.Candle, error) {
	return nil, nil
}
func (f *fakeGateway) ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error) {
	return "", nil
}
func (f *fakeGateway) ListPositions(ctx context.Context) ([]broker.Position, error) {
	return nil, nil
}
func (f *fakeGateway) MarketDetails(ctx context.Context, epic string) (*broker.MarketDetails, error) {
	return nil, nil
}
func (f *fakeGateway) GetBalance(ctx context.Context) (*broker.AccountBalance, error) {
	return nil, nil
}

func pendingTrade() *database.Trade {
	botID := "bot-1"
	return &database.Trade{
		BotID: &botID, UserID: "user-1", CredentialID: "cred-1",
		Symbol: "EURUSD", Direction: "BUY", EntryPrice: 1.1000,
		Quantity: 1, OpenedAt: time.Now().UTC(),
	}
}

func TestPlaceTradeWritesPendingBeforeBrokerCall(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{store: store, confirm: &broker.DealConfirmation{DealID: "deal-9", Level: 1.1002}}

	if err := placeTrade(context.Background(), store, gw, pendingTrade(), broker.OpenPositionRequest{}); err != nil {
		t.Fatal(err)
	}
	if store.created == nil {
		t.Fatal("trade row must exist before the broker call")
	}
	if !gw.sawPending {
		t.Error("row must be PENDING when OpenPosition runs")
	}
	if !gw.sawNoDealID {
		t.Error("row must carry no deal id before confirmation")
	}
}

func TestPlaceTradePromotesOnConfirm(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{store: store, confirm: &broker.DealConfirmation{DealID: "deal-9", Level: 1.1002}}
	trade := pendingTrade()

	if err := placeTrade(context.Background(), store, gw, trade, broker.OpenPositionRequest{}); err != nil {
		t.Fatal(err)
	}
	if !store.confirmed || store.dealID != "deal-9" || store.entry != 1.1002 {
		t.Errorf("confirm not recorded: %+v", store)
	}
	if trade.Status != database.TradeStatusOpen {
		t.Errorf("trade status = %s, want OPEN", trade.Status)
	}
	if trade.BrokerDealID == nil || *trade.BrokerDealID != "deal-9" {
		t.Error("confirmed deal id not carried on the trade")
	}
	if trade.EntryPrice != 1.1002 {
		t.Errorf("entry price = %v, want the broker's fill level", trade.EntryPrice)
	}
}

func TestPlaceTradeKeepsRequestedPriceWithoutFillLevel(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{store: store, confirm: &broker.DealConfirmation{DealID: "deal-9"}}
	trade := pendingTrade()

	if err := placeTrade(context.Background(), store, gw, trade, broker.OpenPositionRequest{}); err != nil {
		t.Fatal(err)
	}
	if store.entry != 1.1000 {
		t.Errorf("entry price = %v, want the requested 1.1000 when no level is reported", store.entry)
	}
}

func TestPlaceTradeCancelsOnReject(t *testing.T) {
	store := &fakeStore{}
	gw := &fakeGateway{store: store, openErr: errors.New("insufficient margin")}
	trade := pendingTrade()

	err := placeTrade(context.Background(), store, gw, trade, broker.OpenPositionRequest{})
	if err == nil {
		t.Fatal("broker reject must surface as an error")
	}
	if !store.cancelled {
		t.Error("rejected trade must be marked CANCELLED")
	}
	if store.reason != "insufficient margin" {
		t.Errorf("cancel reason = %q", store.reason)
	}
	if trade.Status != database.TradeStatusCancelled {
		t.Errorf("trade status = %s, want CANCELLED", trade.Status)
	}
	if store.confirmed {
		t.Error("rejected trade must not be confirmed")
	}
}
