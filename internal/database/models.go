package database

import "time"

// Trade statuses
const (
	TradeStatusOpen      = "OPEN"
	TradeStatusPending   = "PENDING"
	TradeStatusClosed    = "CLOSED"
	TradeStatusCancelled = "CANCELLED"
)

// Evaluation decisions
const (
	DecisionHold    = "HOLD"
	DecisionExecute = "EXECUTE_TRADE"
	DecisionSkipped = "SKIPPED"
	DecisionError   = "ERROR"
)

// Ownership provenance values
const (
	ProvenanceDealIDMatch         = "DEAL_ID_MATCH"
	ProvenanceTimeSymbolSizeMatch = "TIME_SYMBOL_SIZE_MATCH"
)

// User represents a registered platform user
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BrokerCredential holds an encrypted broker credential set.
// EncryptedPayload is either "hex(iv):hex(ciphertext)" or, when no
// encryption key is configured, plaintext JSON.
type BrokerCredential struct {
	ID               string    `json:"id"`
	UserID           string    `json:"userId"`
	Name             string    `json:"name"`
	BrokerKind       string    `json:"brokerKind"`
	EncryptedPayload string    `json:"-"`
	IsDemo           bool      `json:"isDemo"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Strategy holds a user-authored trading strategy with its parsed rules
type Strategy struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"userId"`
	Name                string    `json:"name"`
	RulesText           string    `json:"rulesText"`
	ParsedRules         []byte    `json:"parsedRules,omitempty"`  // JSON, strategy.RuleSet
	ParserVersion       *string   `json:"parserVersion,omitempty"`
	RiskDefaults        []byte    `json:"riskDefaults,omitempty"` // JSON, strategy.RiskDefaults
	ConfidenceThreshold int       `json:"confidenceThreshold"`    // minimum confidence to execute
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// Bot binds a strategy to a credential and a market
type Bot struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"userId"`
	CredentialID       string     `json:"credentialId"`
	StrategyID         string     `json:"strategyId"`
	Name               string     `json:"name"`
	Symbol             string     `json:"symbol"`
	Timeframe          string     `json:"timeframe"`
	IsActive           bool       `json:"isActive"`
	Quantity           float64    `json:"quantity"`
	MaxOpenTrades      int        `json:"maxOpenTrades"`
	MinIntervalMinutes int        `json:"minIntervalMinutes"`
	AIEnabled          bool       `json:"aiEnabled"`
	LastEvaluatedAt    *time.Time `json:"lastEvaluatedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Trade represents a position opened by a bot (or recovered from the broker)
type Trade struct {
	ID           int64      `json:"id"`
	BotID        *string    `json:"botId,omitempty"`
	UserID       string     `json:"userId"`
	CredentialID string     `json:"credentialId"`
	Symbol       string     `json:"symbol"`
	Direction    string     `json:"direction"` // BUY | SELL
	EntryPrice   float64    `json:"entryPrice"`
	ExitPrice    *float64   `json:"exitPrice,omitempty"`
	Quantity     float64    `json:"quantity"`
	StopLoss     *float64   `json:"stopLoss,omitempty"`
	TakeProfit   *float64   `json:"takeProfit,omitempty"`
	CurrentPrice *float64   `json:"currentPrice,omitempty"`
	PnL          *float64   `json:"pnl,omitempty"`
	PnLPercent   *float64   `json:"pnlPercent,omitempty"`
	BrokerDealID *string    `json:"brokerDealId,omitempty"`
	Status       string     `json:"status"`
	Rationale    *string    `json:"rationale,omitempty"`
	CloseReason  *string    `json:"closeReason,omitempty"`
	OpenedAt     time.Time  `json:"openedAt"`
	ClosedAt     *time.Time `json:"closedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Evaluation records one completed bot evaluation run, whatever its outcome
type Evaluation struct {
	ID          string     `json:"id"`
	BotID       string     `json:"botId"`
	UserID      string     `json:"userId"`
	Decision    string     `json:"decision"`
	Reason      *string    `json:"reason,omitempty"`
	Confidence  *int       `json:"confidence,omitempty"`
	MarketPrice *float64   `json:"marketPrice,omitempty"`
	ChartURL    *string    `json:"chartUrl,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// TradingPair is a tradeable instrument in the catalogue
type TradingPair struct {
	Symbol      string `json:"symbol"`
	DisplayName string `json:"displayName"`
	Category    string `json:"category"` // crypto | forex | indices | stocks | commodities
	Popular     bool   `json:"popular"`
}

// PositionOwnership records the permanent broker-deal to bot attribution
type PositionOwnership struct {
	ID           int64     `json:"id"`
	CredentialID string    `json:"credentialId"`
	BrokerDealID string    `json:"brokerDealId"`
	BotID        string    `json:"botId"`
	Provenance   string    `json:"provenance"`
	AttributedAt time.Time `json:"attributedAt"`
}

// PerformanceSnapshot is a periodic per-bot PnL snapshot
type PerformanceSnapshot struct {
	ID            int64     `json:"id"`
	BotID         string    `json:"botId"`
	RealizedPnL   float64   `json:"realizedPnl"`
	UnrealizedPnL float64   `json:"unrealizedPnl"`
	OpenPositions int       `json:"openPositions"`
	TotalTrades   int       `json:"totalTrades"`
	WinRate       *float64  `json:"winRate,omitempty"`
	TakenAt       time.Time `json:"takenAt"`
}
