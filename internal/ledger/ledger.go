// Package ledger attributes broker positions to the bots that own them.
// Several bots can share one credential and the broker reports positions
// without bot identity, so ownership has to be reconstructed and then
// pinned forever.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"trading-platform/internal/database"

	"github.com/rs/zerolog"
)

// Attribution errors
var (
	ErrOrphanPosition   = errors.New("position cannot be attributed to any bot")
	ErrOwnershipPinned  = errors.New("deal already has an owner")
	ErrRecoveryTooOld   = errors.New("position too old for recovery")
	ErrRecoveryOverCap  = errors.New("candidate bot is at its trade cap")
)

const (
	// matchWindow bounds the time/symbol/size fallback match
	matchWindow = 5 * time.Minute
	// recoveryWindow bounds how old a broker position may be for recovery
	recoveryWindow = 10 * time.Minute
	// sizeTolerance allows for broker-side rounding of quantities
	sizeTolerance = 1e-6
)

// Repository is the persistence surface the ledger needs
type Repository interface {
	GetTradeByDealID(ctx context.Context, credentialID, dealID string) (*database.Trade, error)
	GetOpenTradesByCredential(ctx context.Context, credentialID string) ([]*database.Trade, error)
	GetOpenTradesByBot(ctx context.Context, botID string) ([]*database.Trade, error)
	GetBotByID(ctx context.Context, id string) (*database.Bot, error)
	SetTradeDealID(ctx context.Context, id int64, dealID string, status string) error
	RecordOwnership(ctx context.Context, o *database.PositionOwnership) error
	GetOwnership(ctx context.Context, credentialID, dealID string) (*database.PositionOwnership, error)
}

// BrokerPosition is the broker-side view of an open position
type BrokerPosition struct {
	DealID      string
	Symbol      string
	Direction   string
	Size        float64
	OpenLevel   float64
	CreatedDate time.Time
}

// Attribution is a resolved ownership claim
type Attribution struct {
	BotID      string
	TradeID    int64
	Provenance string
}

// Ledger resolves and records position ownership. All writes for one
// credential happen under that credential's exclusive lock.
type Ledger struct {
	repo   Repository
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a position ledger
func New(repo Repository, logger zerolog.Logger) *Ledger {
	return &Ledger{
		repo:   repo,
		logger: logger.With().Str("component", "PositionLedger").Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) credentialLock(credentialID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[credentialID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[credentialID] = lock
	}
	return lock
}

// Register pins ownership of a deal to a bot at open time. The deal id
// must not already be owned; ownership never migrates.
func (l *Ledger) Register(ctx context.Context, credentialID, dealID, botID string, tradeID int64) error {
	lock := l.credentialLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.repo.GetOwnership(ctx, credentialID, dealID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("ownership lookup failed: %w", err)
	}
	if existing != nil {
		if existing.BotID == botID {
			return nil
		}
		return fmt.Errorf("%w: deal %s owned by bot %s", ErrOwnershipPinned, dealID, existing.BotID)
	}

	if err := l.repo.RecordOwnership(ctx, &database.PositionOwnership{
		CredentialID: credentialID,
		BrokerDealID: dealID,
		BotID:        botID,
		Provenance:   database.ProvenanceDealIDMatch,
		AttributedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("failed to record ownership: %w", err)
	}

	l.logger.Info().
		Str("credential_id", credentialID).
		Str("deal_id", dealID).
		Str("bot_id", botID).
		Int64("trade_id", tradeID).
		Msg("Ownership registered")
	return nil
}

// Attribute determines the owning bot for a broker position:
// a direct deal-id match first, then a time/symbol/size match against
// PENDING or recently opened trades, otherwise the position is an orphan.
func (l *Ledger) Attribute(ctx context.Context, credentialID string, pos BrokerPosition) (*Attribution, error) {
	lock := l.credentialLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	// Pinned ownership wins before any heuristics
	if owned, err := l.repo.GetOwnership(ctx, credentialID, pos.DealID); err == nil && owned != nil {
		return &Attribution{BotID: owned.BotID, Provenance: owned.Provenance}, nil
	} else if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("ownership lookup failed: %w", err)
	}

	// Stage 1: direct deal-id match
	trade, err := l.repo.GetTradeByDealID(ctx, credentialID, pos.DealID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("trade lookup failed: %w", err)
	}
	if trade != nil && trade.BotID != nil {
		return l.pin(ctx, credentialID, pos.DealID, *trade.BotID, trade.ID, database.ProvenanceDealIDMatch)
	}

	// Stage 2: time/symbol/size match within the window
	trades, err := l.repo.GetOpenTradesByCredential(ctx, credentialID)
	if err != nil {
		return nil, fmt.Errorf("open trades lookup failed: %w", err)
	}
	for _, t := range trades {
		if t.BotID == nil || t.BrokerDealID != nil {
			continue
		}
		if t.Symbol != pos.Symbol || t.Direction != pos.Direction {
			continue
		}
		if math.Abs(t.Quantity-pos.Size) > sizeTolerance {
			continue
		}
		gap := t.OpenedAt.Sub(pos.CreatedDate)
		if gap < 0 {
			gap = -gap
		}
		if gap > matchWindow {
			continue
		}

		if err := l.repo.SetTradeDealID(ctx, t.ID, pos.DealID, database.TradeStatusOpen); err != nil {
			return nil, fmt.Errorf("failed to bind deal id: %w", err)
		}
		return l.pin(ctx, credentialID, pos.DealID, *t.BotID, t.ID, database.ProvenanceTimeSymbolSizeMatch)
	}

	// Stage 3: refuse. The position stays unowned.
	l.logger.Warn().
		Str("credential_id", credentialID).
		Str("deal_id", pos.DealID).
		Str("symbol", pos.Symbol).
		Float64("size", pos.Size).
		Msg("Orphan position, refusing attribution")
	return nil, ErrOrphanPosition
}

// Recover attempts a guarded adoption of an orphan by a specific bot.
// Only positions at most 10 minutes old qualify, and only when the bot is
// below its trade cap.
func (l *Ledger) Recover(ctx context.Context, credentialID, botID string, pos BrokerPosition) (*Attribution, error) {
	if time.Since(pos.CreatedDate) > recoveryWindow {
		return nil, fmt.Errorf("%w: created %s", ErrRecoveryTooOld, pos.CreatedDate.Format(time.RFC3339))
	}

	bot, err := l.repo.GetBotByID(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("bot lookup failed: %w", err)
	}
	open, err := l.repo.GetOpenTradesByBot(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("open trades lookup failed: %w", err)
	}
	if len(open) >= bot.MaxOpenTrades {
		return nil, fmt.Errorf("%w: %d open of %d", ErrRecoveryOverCap, len(open), bot.MaxOpenTrades)
	}

	lock := l.credentialLock(credentialID)
	lock.Lock()
	defer lock.Unlock()

	if owned, lookupErr := l.repo.GetOwnership(ctx, credentialID, pos.DealID); lookupErr == nil && owned != nil {
		return nil, fmt.Errorf("%w: deal %s owned by bot %s", ErrOwnershipPinned, pos.DealID, owned.BotID)
	} else if lookupErr != nil && !errors.Is(lookupErr, database.ErrNotFound) {
		return nil, fmt.Errorf("ownership lookup failed: %w", lookupErr)
	}

	return l.pin(ctx, credentialID, pos.DealID, botID, 0, database.ProvenanceTimeSymbolSizeMatch)
}

func (l *Ledger) pin(ctx context.Context, credentialID, dealID, botID string, tradeID int64, provenance string) (*Attribution, error) {
	if err := l.repo.RecordOwnership(ctx, &database.PositionOwnership{
		CredentialID: credentialID,
		BrokerDealID: dealID,
		BotID:        botID,
		Provenance:   provenance,
		AttributedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record ownership: %w", err)
	}

	l.logger.Info().
		Str("credential_id", credentialID).
		Str("deal_id", dealID).
		Str("bot_id", botID).
		Str("provenance", provenance).
		Msg("Position attributed")
	return &Attribution{BotID: botID, TradeID: tradeID, Provenance: provenance}, nil
}
