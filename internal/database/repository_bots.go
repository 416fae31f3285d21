package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// STRATEGIES
// ============================================================================

// CreateStrategy inserts a new strategy
func (r *Repository) CreateStrategy(ctx context.Context, s *Strategy) error {
	if s.ConfidenceThreshold <= 0 {
		s.ConfidenceThreshold = 70
	}
	query := `
		INSERT INTO strategies (id, user_id, name, rules_text, parsed_rules, parser_version, risk_defaults, confidence_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		s.ID, s.UserID, s.Name, s.RulesText, s.ParsedRules, s.ParserVersion, s.RiskDefaults, s.ConfidenceThreshold,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
}

// UpdateStrategy updates a strategy's text and parsed rules
func (r *Repository) UpdateStrategy(ctx context.Context, s *Strategy) error {
	query := `
		UPDATE strategies
		SET name = $3, rules_text = $4, parsed_rules = $5, parser_version = $6,
		    risk_defaults = $7, confidence_threshold = $8, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.UserID, s.Name, s.RulesText, s.ParsedRules, s.ParserVersion, s.RiskDefaults, s.ConfidenceThreshold)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteStrategy removes a strategy owned by the given user
func (r *Repository) DeleteStrategy(ctx context.Context, id, userID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM strategies WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetStrategyByID retrieves a strategy by ID
func (r *Repository) GetStrategyByID(ctx context.Context, id string) (*Strategy, error) {
	query := `
		SELECT id, user_id, name, rules_text, parsed_rules, parser_version, risk_defaults, confidence_threshold, created_at, updated_at
		FROM strategies WHERE id = $1
	`
	return r.scanStrategy(r.db.Pool.QueryRow(ctx, query, id))
}

// GetStrategiesByUser lists a user's strategies
func (r *Repository) GetStrategiesByUser(ctx context.Context, userID string) ([]*Strategy, error) {
	query := `
		SELECT id, user_id, name, rules_text, parsed_rules, parser_version, risk_defaults, confidence_threshold, created_at, updated_at
		FROM strategies WHERE user_id = $1 ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []*Strategy
	for rows.Next() {
		s := &Strategy{}
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, &s.RulesText, &s.ParsedRules,
			&s.ParserVersion, &s.RiskDefaults, &s.ConfidenceThreshold, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}
	return strategies, rows.Err()
}

func (r *Repository) scanStrategy(row pgx.Row) (*Strategy, error) {
	s := &Strategy{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.Name, &s.RulesText, &s.ParsedRules,
		&s.ParserVersion, &s.RiskDefaults, &s.ConfidenceThreshold, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ============================================================================
// BOTS
// ============================================================================

const botColumns = `id, user_id, credential_id, strategy_id, name, symbol, timeframe,
	is_active, quantity, max_open_trades, min_interval_minutes, ai_enabled,
	last_evaluated_at, created_at, updated_at`

// CreateBot inserts a new bot
func (r *Repository) CreateBot(ctx context.Context, b *Bot) error {
	query := `
		INSERT INTO bots (id, user_id, credential_id, strategy_id, name, symbol, timeframe,
			is_active, quantity, max_open_trades, min_interval_minutes, ai_enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		b.ID, b.UserID, b.CredentialID, b.StrategyID, b.Name, b.Symbol, b.Timeframe,
		b.IsActive, b.Quantity, b.MaxOpenTrades, b.MinIntervalMinutes, b.AIEnabled,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
}

// UpdateBot updates a bot's settings
func (r *Repository) UpdateBot(ctx context.Context, b *Bot) error {
	query := `
		UPDATE bots
		SET name = $3, symbol = $4, timeframe = $5, quantity = $6, max_open_trades = $7,
		    min_interval_minutes = $8, ai_enabled = $9, strategy_id = $10,
		    credential_id = $11, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query,
		b.ID, b.UserID, b.Name, b.Symbol, b.Timeframe, b.Quantity, b.MaxOpenTrades,
		b.MinIntervalMinutes, b.AIEnabled, b.StrategyID, b.CredentialID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetBotActive toggles a bot's active flag
func (r *Repository) SetBotActive(ctx context.Context, id, userID string, active bool) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE bots SET is_active = $3, updated_at = CURRENT_TIMESTAMP WHERE id = $1 AND user_id = $2`,
		id, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchBotEvaluated records the time of a bot's latest evaluation
func (r *Repository) TouchBotEvaluated(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE bots SET last_evaluated_at = $2 WHERE id = $1`, id, at)
	return err
}

// DeleteBot removes a bot owned by the given user
func (r *Repository) DeleteBot(ctx context.Context, id, userID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM bots WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBotByID retrieves a bot by ID
func (r *Repository) GetBotByID(ctx context.Context, id string) (*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE id = $1`
	return r.scanBot(r.db.Pool.QueryRow(ctx, query, id))
}

// GetBotsByUser lists a user's bots
func (r *Repository) GetBotsByUser(ctx context.Context, userID string) ([]*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE user_id = $1 ORDER BY created_at`
	return r.queryBots(ctx, query, userID)
}

// GetActiveBots lists every active bot across all users
func (r *Repository) GetActiveBots(ctx context.Context) ([]*Bot, error) {
	query := `SELECT ` + botColumns + ` FROM bots WHERE is_active = TRUE ORDER BY created_at`
	return r.queryBots(ctx, query)
}

// CountActiveBotsByCredential counts active bots bound to one credential
func (r *Repository) CountActiveBotsByCredential(ctx context.Context, credentialID string) (int, error) {
	var count int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM bots WHERE credential_id = $1 AND is_active = TRUE`,
		credentialID).Scan(&count)
	return count, err
}

func (r *Repository) queryBots(ctx context.Context, query string, args ...interface{}) ([]*Bot, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bots []*Bot
	for rows.Next() {
		b := &Bot{}
		if err := rows.Scan(
			&b.ID, &b.UserID, &b.CredentialID, &b.StrategyID, &b.Name, &b.Symbol,
			&b.Timeframe, &b.IsActive, &b.Quantity, &b.MaxOpenTrades,
			&b.MinIntervalMinutes, &b.AIEnabled, &b.LastEvaluatedAt,
			&b.CreatedAt, &b.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bots = append(bots, b)
	}
	return bots, rows.Err()
}

func (r *Repository) scanBot(row pgx.Row) (*Bot, error) {
	b := &Bot{}
	err := row.Scan(
		&b.ID, &b.UserID, &b.CredentialID, &b.StrategyID, &b.Name, &b.Symbol,
		&b.Timeframe, &b.IsActive, &b.Quantity, &b.MaxOpenTrades,
		&b.MinIntervalMinutes, &b.AIEnabled, &b.LastEvaluatedAt,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}
