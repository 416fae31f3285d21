package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

const tradeColumns = `id, bot_id, user_id, credential_id, symbol, direction, entry_price,
	exit_price, quantity, stop_loss, take_profit, current_price, pnl, pnl_percent,
	broker_deal_id, status, rationale, close_reason, opened_at, closed_at, created_at, updated_at`

// CreateTrade inserts a new trade
func (r *Repository) CreateTrade(ctx context.Context, t *Trade) error {
	query := `
		INSERT INTO trades (bot_id, user_id, credential_id, symbol, direction, entry_price,
			quantity, stop_loss, take_profit, broker_deal_id, status, rationale, opened_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		t.BotID, t.UserID, t.CredentialID, t.Symbol, t.Direction, t.EntryPrice,
		t.Quantity, t.StopLoss, t.TakeProfit, t.BrokerDealID, t.Status, t.Rationale, t.OpenedAt,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// CloseTrade marks a trade closed with its exit details
func (r *Repository) CloseTrade(ctx context.Context, id int64, exitPrice, pnl, pnlPercent float64, reason string, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET status = $2, exit_price = $3, pnl = $4, pnl_percent = $5, close_reason = $6,
		    closed_at = $7, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, TradeStatusClosed, exitPrice, pnl, pnlPercent, reason, closedAt)
	return err
}

// UpdateTradeStops updates a trade's stop loss and take profit
func (r *Repository) UpdateTradeStops(ctx context.Context, id int64, stopLoss, takeProfit *float64) error {
	query := `
		UPDATE trades SET stop_loss = $2, take_profit = $3, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	_, err := r.db.Pool.Exec(ctx, query, id, stopLoss, takeProfit)
	return err
}

// UpdateTradeCurrentPrice records the latest mark-to-market price
func (r *Repository) UpdateTradeCurrentPrice(ctx context.Context, id int64, price float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE trades SET current_price = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, price)
	return err
}

// UpdateTradeQuantity shrinks a trade's quantity after a partial close
func (r *Repository) UpdateTradeQuantity(ctx context.Context, id int64, quantity float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE trades SET quantity = $2, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, quantity)
	return err
}

// SetTradeDealID records the broker deal reference after order confirmation
func (r *Repository) SetTradeDealID(ctx context.Context, id int64, dealID string, status string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE trades SET broker_deal_id = $2, status = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, dealID, status)
	return err
}

// ConfirmTrade promotes a PENDING trade to OPEN with the broker's deal
// reference and confirmed entry level
func (r *Repository) ConfirmTrade(ctx context.Context, id int64, dealID string, entryPrice float64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE trades SET broker_deal_id = $2, entry_price = $3, status = $4,
		 updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, dealID, entryPrice, TradeStatusOpen)
	return err
}

// CancelTrade marks a PENDING trade CANCELLED after a broker reject
func (r *Repository) CancelTrade(ctx context.Context, id int64, reason string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE trades SET status = $2, close_reason = $3, closed_at = CURRENT_TIMESTAMP,
		 updated_at = CURRENT_TIMESTAMP WHERE id = $1`,
		id, TradeStatusCancelled, reason)
	return err
}

// GetTradeByID retrieves a trade by ID
func (r *Repository) GetTradeByID(ctx context.Context, id int64) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE id = $1`
	return r.scanTrade(r.db.Pool.QueryRow(ctx, query, id))
}

// GetTradeByDealID retrieves a trade by its broker deal reference
func (r *Repository) GetTradeByDealID(ctx context.Context, credentialID, dealID string) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE credential_id = $1 AND broker_deal_id = $2`
	return r.scanTrade(r.db.Pool.QueryRow(ctx, query, credentialID, dealID))
}

// GetOpenTradesByBot retrieves OPEN and PENDING trades for a bot
func (r *Repository) GetOpenTradesByBot(ctx context.Context, botID string) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE bot_id = $1 AND status IN ('OPEN', 'PENDING') ORDER BY opened_at DESC`
	return r.queryTrades(ctx, query, botID)
}

// GetOpenTradesByCredential retrieves OPEN and PENDING trades on a credential
func (r *Repository) GetOpenTradesByCredential(ctx context.Context, credentialID string) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE credential_id = $1 AND status IN ('OPEN', 'PENDING') ORDER BY opened_at DESC`
	return r.queryTrades(ctx, query, credentialID)
}

// GetOpenTradesByUser retrieves OPEN and PENDING trades for a user
func (r *Repository) GetOpenTradesByUser(ctx context.Context, userID string) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE user_id = $1 AND status IN ('OPEN', 'PENDING') ORDER BY opened_at DESC`
	return r.queryTrades(ctx, query, userID)
}

// GetTradeHistoryByBot retrieves closed trades for a bot with pagination
func (r *Repository) GetTradeHistoryByBot(ctx context.Context, botID string, limit, offset int) ([]*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE bot_id = $1 AND status = 'CLOSED' ORDER BY closed_at DESC LIMIT $2 OFFSET $3`
	return r.queryTrades(ctx, query, botID, limit, offset)
}

// GetLastTradeTime returns when the bot most recently opened a trade
func (r *Repository) GetLastTradeTime(ctx context.Context, botID string) (*time.Time, error) {
	var openedAt *time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT MAX(opened_at) FROM trades WHERE bot_id = $1`, botID).Scan(&openedAt)
	if err != nil {
		return nil, err
	}
	return openedAt, nil
}

// GetDailyRealizedPnL sums realized PnL for trades closed since the given time
func (r *Repository) GetDailyRealizedPnL(ctx context.Context, userID string, since time.Time) (float64, error) {
	var pnl float64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(pnl), 0) FROM trades
		 WHERE user_id = $1 AND status = 'CLOSED' AND closed_at >= $2`,
		userID, since).Scan(&pnl)
	return pnl, err
}

// GetConsecutiveLosses counts losing trades since the last winner for a user
func (r *Repository) GetConsecutiveLosses(ctx context.Context, userID string) (int, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT pnl FROM trades
		 WHERE user_id = $1 AND status = 'CLOSED' AND pnl IS NOT NULL
		 ORDER BY closed_at DESC LIMIT 20`, userID)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, err
		}
		if pnl >= 0 {
			break
		}
		count++
	}
	return count, rows.Err()
}

func (r *Repository) queryTrades(ctx context.Context, query string, args ...interface{}) ([]*Trade, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*Trade
	for rows.Next() {
		t := &Trade{}
		if err := rows.Scan(tradeScanDest(t)...); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// tradeScanDest returns the Scan destinations in tradeColumns order.
// Every trade read goes through this list so the two cannot drift apart.
func tradeScanDest(t *Trade) []interface{} {
	return []interface{}{
		&t.ID, &t.BotID, &t.UserID, &t.CredentialID, &t.Symbol, &t.Direction,
		&t.EntryPrice, &t.ExitPrice, &t.Quantity, &t.StopLoss, &t.TakeProfit,
		&t.CurrentPrice, &t.PnL, &t.PnLPercent, &t.BrokerDealID, &t.Status, &t.Rationale,
		&t.CloseReason, &t.OpenedAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt,
	}
}

func (r *Repository) scanTrade(row pgx.Row) (*Trade, error) {
	t := &Trade{}
	err := row.Scan(tradeScanDest(t)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ============================================================================
// POSITION OWNERSHIP
// ============================================================================

// RecordOwnership persists a deal-to-bot attribution. The unique constraint
// on (credential_id, broker_deal_id) enforces one owner forever.
func (r *Repository) RecordOwnership(ctx context.Context, o *PositionOwnership) error {
	query := `
		INSERT INTO position_ownership (credential_id, broker_deal_id, bot_id, provenance)
		VALUES ($1, $2, $3, $4)
		RETURNING id, attributed_at
	`
	return r.db.Pool.QueryRow(
		ctx, query, o.CredentialID, o.BrokerDealID, o.BotID, o.Provenance,
	).Scan(&o.ID, &o.AttributedAt)
}

// GetOwnership looks up the attribution for a broker deal
func (r *Repository) GetOwnership(ctx context.Context, credentialID, dealID string) (*PositionOwnership, error) {
	query := `
		SELECT id, credential_id, broker_deal_id, bot_id, provenance, attributed_at
		FROM position_ownership WHERE credential_id = $1 AND broker_deal_id = $2
	`
	o := &PositionOwnership{}
	err := r.db.Pool.QueryRow(ctx, query, credentialID, dealID).Scan(
		&o.ID, &o.CredentialID, &o.BrokerDealID, &o.BotID, &o.Provenance, &o.AttributedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}
