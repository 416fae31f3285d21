package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// USERS
// ============================================================================

// CreateUser inserts a new user
func (r *Repository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (id, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(ctx, query, user.ID, user.Email, user.PasswordHash).
		Scan(&user.CreatedAt, &user.UpdatedAt)
}

// GetUserByEmail retrieves a user by email
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = $1
	`
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID
func (r *Repository) GetUserByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE id = $1
	`
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// ============================================================================
// BROKER CREDENTIALS
// ============================================================================

// CreateCredential inserts a new broker credential
func (r *Repository) CreateCredential(ctx context.Context, cred *BrokerCredential) error {
	query := `
		INSERT INTO broker_credentials (id, user_id, name, broker_kind, encrypted_payload, is_demo)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`
	return r.db.Pool.QueryRow(
		ctx, query,
		cred.ID, cred.UserID, cred.Name, cred.BrokerKind, cred.EncryptedPayload, cred.IsDemo,
	).Scan(&cred.CreatedAt, &cred.UpdatedAt)
}

// UpdateCredential updates a credential's name and payload
func (r *Repository) UpdateCredential(ctx context.Context, cred *BrokerCredential) error {
	query := `
		UPDATE broker_credentials
		SET name = $3, encrypted_payload = $4, is_demo = $5, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1 AND user_id = $2
	`
	tag, err := r.db.Pool.Exec(ctx, query, cred.ID, cred.UserID, cred.Name, cred.EncryptedPayload, cred.IsDemo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential removes a credential owned by the given user
func (r *Repository) DeleteCredential(ctx context.Context, id, userID string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM broker_credentials WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCredentialByID retrieves a credential by ID
func (r *Repository) GetCredentialByID(ctx context.Context, id string) (*BrokerCredential, error) {
	query := `
		SELECT id, user_id, name, broker_kind, encrypted_payload, is_demo, created_at, updated_at
		FROM broker_credentials WHERE id = $1
	`
	cred := &BrokerCredential{}
	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&cred.ID, &cred.UserID, &cred.Name, &cred.BrokerKind,
		&cred.EncryptedPayload, &cred.IsDemo, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// GetCredentialsByUser lists a user's credentials
func (r *Repository) GetCredentialsByUser(ctx context.Context, userID string) ([]*BrokerCredential, error) {
	query := `
		SELECT id, user_id, name, broker_kind, encrypted_payload, is_demo, created_at, updated_at
		FROM broker_credentials WHERE user_id = $1 ORDER BY created_at
	`
	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*BrokerCredential
	for rows.Next() {
		cred := &BrokerCredential{}
		if err := rows.Scan(
			&cred.ID, &cred.UserID, &cred.Name, &cred.BrokerKind,
			&cred.EncryptedPayload, &cred.IsDemo, &cred.CreatedAt, &cred.UpdatedAt,
		); err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}
