package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBrokerUnavailable is returned after retries are exhausted on 429/5xx
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrRateLimited marks a 429 response; callers report it to the rate coordinator
	ErrRateLimited = errors.New("broker rate limited")
	// ErrAuthFailed is returned when re-authentication did not recover a 401
	ErrAuthFailed = errors.New("broker authentication failed")
	// ErrEpicNotFound is returned when no resolution candidate verified
	ErrEpicNotFound = errors.New("epic not found")
	// ErrNotSupported is returned for operations a broker kind cannot perform
	ErrNotSupported = errors.New("operation not supported by broker")
)

// Direction of a position or order
const (
	DirectionBuy  = "BUY"
	DirectionSell = "SELL"
)

// Deal statuses reported by the gateway
const (
	DealStatusOpen     = "OPEN"
	DealStatusAccepted = "ACCEPTED"
	DealStatusRejected = "REJECTED"
)

// PriceQuote is a live bid/ask snapshot
type PriceQuote struct {
	Epic      string    `json:"epic"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	Timestamp time.Time `json:"timestamp"`
}

// Mid returns the bid/ask midpoint
func (q *PriceQuote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

// Candle is one OHLC bar
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// OHLCQuery selects a candle range. From/To are optional; Max bounds the count.
type OHLCQuery struct {
	Epic       string
	Resolution string // M1, M5, M15, M30, H1, H4, D1
	From       *time.Time
	To         *time.Time
	Max        int
}

// MarketDetails describes an instrument on the broker side
type MarketDetails struct {
	Epic        string  `json:"epic"`
	Name        string  `json:"name"`
	Tradeable   bool    `json:"tradeable"`
	MinDealSize float64 `json:"minDealSize"`
	Bid         float64 `json:"bid"`
	Ask         float64 `json:"ask"`
}

// OpenPositionRequest describes a position to open
type OpenPositionRequest struct {
	Epic       string   `json:"epic"`
	Direction  string   `json:"direction"`
	Size       float64  `json:"size"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// DealConfirmation is the result of opening a position
type DealConfirmation struct {
	DealID string  `json:"dealId"`
	Status string  `json:"status"`
	Level  float64 `json:"level"` // fill price when reported
}

// Position is an open position as reported by the broker
type Position struct {
	DealID      string    `json:"dealId"`
	Epic        string    `json:"epic"`
	Direction   string    `json:"direction"`
	Size        float64   `json:"size"`
	OpenLevel   float64   `json:"openLevel"`
	CreatedDate time.Time `json:"createdDate"`
}

// AccountBalance is the broker-side account snapshot
type AccountBalance struct {
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
	PnL       float64 `json:"pnl"`
}

// Gateway is the capability set every broker kind provides. A concrete
// gateway is chosen at credential load and cached per credential.
type Gateway interface {
	GetLatestPrice(ctx context.Context, epic string) (*PriceQuote, error)
	GetOHLC(ctx context.Context, q OHLCQuery) ([]Candle, error)
	OpenPosition(ctx context.Context, req OpenPositionRequest) (*DealConfirmation, error)
	ClosePosition(ctx context.Context, dealID, direction string, size float64) (string, error)
	ListPositions(ctx context.Context) ([]Position, error)
	MarketDetails(ctx context.Context, epic string) (*MarketDetails, error)
	GetBalance(ctx context.Context) (*AccountBalance, error)
}

// Request deadlines. Price reads are cheaper and get a tighter budget.
const (
	defaultTimeout = 60 * time.Second
	priceTimeout   = 30 * time.Second
)
