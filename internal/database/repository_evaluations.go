package database

import (
	"context"
	"time"
)

// ============================================================================
// EVALUATIONS
// ============================================================================

// CreateEvaluation persists a completed evaluation row
func (r *Repository) CreateEvaluation(ctx context.Context, e *Evaluation) error {
	query := `
		INSERT INTO evaluations (id, bot_id, user_id, decision, reason, confidence,
			market_price, chart_url, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		e.ID, e.BotID, e.UserID, e.Decision, e.Reason, e.Confidence,
		e.MarketPrice, e.ChartURL, e.StartedAt, e.CompletedAt,
	).Scan(&e.CreatedAt)
}

// GetEvaluationsByBot retrieves recent evaluations for a bot
func (r *Repository) GetEvaluationsByBot(ctx context.Context, botID string, limit int) ([]*Evaluation, error) {
	query := `
		SELECT id, bot_id, user_id, decision, reason, confidence, market_price,
		       chart_url, started_at, completed_at, created_at
		FROM evaluations WHERE bot_id = $1 ORDER BY started_at DESC LIMIT $2
	`
	rows, err := r.db.Pool.Query(ctx, query, botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evals []*Evaluation
	for rows.Next() {
		e := &Evaluation{}
		if err := rows.Scan(
			&e.ID, &e.BotID, &e.UserID, &e.Decision, &e.Reason, &e.Confidence,
			&e.MarketPrice, &e.ChartURL, &e.StartedAt, &e.CompletedAt, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		evals = append(evals, e)
	}
	return evals, rows.Err()
}

// ============================================================================
// TRADING PAIRS
// ============================================================================

// UpsertTradingPair inserts or refreshes one catalogue entry
func (r *Repository) UpsertTradingPair(ctx context.Context, p *TradingPair) error {
	query := `
		INSERT INTO trading_pairs (symbol, display_name, category, popular)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (symbol) DO UPDATE
		SET display_name = EXCLUDED.display_name, category = EXCLUDED.category,
		    popular = EXCLUDED.popular
	`
	_, err := r.db.Pool.Exec(ctx, query, p.Symbol, p.DisplayName, p.Category, p.Popular)
	return err
}

// GetTradingPairs lists the full catalogue
func (r *Repository) GetTradingPairs(ctx context.Context) ([]*TradingPair, error) {
	return r.queryPairs(ctx,
		`SELECT symbol, display_name, category, popular FROM trading_pairs ORDER BY symbol`)
}

// GetTradingPairsByCategory lists pairs in one category
func (r *Repository) GetTradingPairsByCategory(ctx context.Context, category string) ([]*TradingPair, error) {
	return r.queryPairs(ctx,
		`SELECT symbol, display_name, category, popular FROM trading_pairs
		 WHERE category = $1 ORDER BY symbol`, category)
}

// GetPopularTradingPairs lists pairs flagged popular
func (r *Repository) GetPopularTradingPairs(ctx context.Context) ([]*TradingPair, error) {
	return r.queryPairs(ctx,
		`SELECT symbol, display_name, category, popular FROM trading_pairs
		 WHERE popular = TRUE ORDER BY symbol`)
}

// SearchTradingPairs matches symbol or display name, case insensitive
func (r *Repository) SearchTradingPairs(ctx context.Context, term string) ([]*TradingPair, error) {
	return r.queryPairs(ctx,
		`SELECT symbol, display_name, category, popular FROM trading_pairs
		 WHERE symbol ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%'
		 ORDER BY symbol`, term)
}

func (r *Repository) queryPairs(ctx context.Context, query string, args ...interface{}) ([]*TradingPair, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*TradingPair
	for rows.Next() {
		p := &TradingPair{}
		if err := rows.Scan(&p.Symbol, &p.DisplayName, &p.Category, &p.Popular); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// ============================================================================
// PERFORMANCE SNAPSHOTS
// ============================================================================

// CreatePerformanceSnapshot stores a per-bot PnL snapshot
func (r *Repository) CreatePerformanceSnapshot(ctx context.Context, s *PerformanceSnapshot) error {
	query := `
		INSERT INTO performance_snapshots (bot_id, realized_pnl, unrealized_pnl,
			open_positions, total_trades, win_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, taken_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.BotID, s.RealizedPnL, s.UnrealizedPnL, s.OpenPositions, s.TotalTrades, s.WinRate,
	).Scan(&s.ID, &s.TakenAt)
}

// GetPerformanceSnapshots lists snapshots for a bot since a given time
func (r *Repository) GetPerformanceSnapshots(ctx context.Context, botID string, since time.Time) ([]*PerformanceSnapshot, error) {
	query := `
		SELECT id, bot_id, realized_pnl, unrealized_pnl, open_positions, total_trades, win_rate, taken_at
		FROM performance_snapshots WHERE bot_id = $1 AND taken_at >= $2 ORDER BY taken_at
	`
	rows, err := r.db.Pool.Query(ctx, query, botID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []*PerformanceSnapshot
	for rows.Next() {
		s := &PerformanceSnapshot{}
		if err := rows.Scan(
			&s.ID, &s.BotID, &s.RealizedPnL, &s.UnrealizedPnL,
			&s.OpenPositions, &s.TotalTrades, &s.WinRate, &s.TakenAt,
		); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}
