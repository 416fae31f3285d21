package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB creates a new database connection from a DATABASE_URL style DSN
func NewDB(databaseURL string) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Println("Successfully connected to PostgreSQL database")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS broker_credentials (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			broker_kind VARCHAR(20) NOT NULL,
			encrypted_payload TEXT NOT NULL,
			is_demo BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credentials_user ON broker_credentials(user_id)`,

		`CREATE TABLE IF NOT EXISTS strategies (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name VARCHAR(100) NOT NULL,
			rules_text TEXT NOT NULL DEFAULT '',
			parsed_rules JSONB,
			parser_version VARCHAR(20),
			risk_defaults JSONB,
			confidence_threshold INT NOT NULL DEFAULT 70,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_strategies_user ON strategies(user_id)`,

		`CREATE TABLE IF NOT EXISTS bots (
			id UUID PRIMARY KEY,
			user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			credential_id UUID NOT NULL REFERENCES broker_credentials(id),
			strategy_id UUID NOT NULL REFERENCES strategies(id),
			name VARCHAR(100) NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(5) NOT NULL DEFAULT 'M15',
			is_active BOOLEAN DEFAULT FALSE,
			quantity DECIMAL(20, 8) NOT NULL DEFAULT 1,
			max_open_trades INT NOT NULL DEFAULT 1,
			min_interval_minutes INT NOT NULL DEFAULT 5,
			ai_enabled BOOLEAN DEFAULT TRUE,
			last_evaluated_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_user ON bots(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_credential ON bots(credential_id)`,
		`CREATE INDEX IF NOT EXISTS idx_bots_active ON bots(is_active)`,

		`CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			bot_id UUID REFERENCES bots(id) ON DELETE SET NULL,
			user_id UUID NOT NULL,
			credential_id UUID NOT NULL,
			symbol VARCHAR(20) NOT NULL,
			direction VARCHAR(4) NOT NULL,
			entry_price DECIMAL(20, 8) NOT NULL,
			exit_price DECIMAL(20, 8),
			quantity DECIMAL(20, 8) NOT NULL,
			stop_loss DECIMAL(20, 8),
			take_profit DECIMAL(20, 8),
			current_price DECIMAL(20, 8),
			pnl DECIMAL(20, 8),
			pnl_percent DECIMAL(10, 4),
			broker_deal_id VARCHAR(100),
			status VARCHAR(20) NOT NULL DEFAULT 'OPEN',
			rationale TEXT,
			close_reason TEXT,
			opened_at TIMESTAMP NOT NULL,
			closed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_deal ON trades(broker_deal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_credential ON trades(credential_id)`,

		`CREATE TABLE IF NOT EXISTS evaluations (
			id UUID PRIMARY KEY,
			bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
			user_id UUID NOT NULL,
			decision VARCHAR(20) NOT NULL,
			reason TEXT,
			confidence INT,
			market_price DECIMAL(20, 8),
			chart_url TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_bot ON evaluations(bot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_started ON evaluations(started_at)`,

		`CREATE TABLE IF NOT EXISTS trading_pairs (
			symbol VARCHAR(20) PRIMARY KEY,
			display_name VARCHAR(100) NOT NULL,
			category VARCHAR(20) NOT NULL,
			popular BOOLEAN DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pairs_category ON trading_pairs(category)`,

		`CREATE TABLE IF NOT EXISTS position_ownership (
			id SERIAL PRIMARY KEY,
			credential_id UUID NOT NULL,
			broker_deal_id VARCHAR(100) NOT NULL,
			bot_id UUID NOT NULL,
			provenance VARCHAR(30) NOT NULL,
			attributed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (credential_id, broker_deal_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ownership_bot ON position_ownership(bot_id)`,

		`CREATE TABLE IF NOT EXISTS performance_snapshots (
			id SERIAL PRIMARY KEY,
			bot_id UUID NOT NULL REFERENCES bots(id) ON DELETE CASCADE,
			realized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			unrealized_pnl DECIMAL(20, 8) NOT NULL DEFAULT 0,
			open_positions INT NOT NULL DEFAULT 0,
			total_trades INT NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 2),
			taken_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_bot ON performance_snapshots(bot_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}
