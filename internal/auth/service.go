package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"trading-platform/internal/database"
	"trading-platform/internal/logging"

	"github.com/google/uuid"
)

// UserRepository is the persistence surface the auth service needs
type UserRepository interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByEmail(ctx context.Context, email string) (*database.User, error)
	GetUserByID(ctx context.Context, id string) (*database.User, error)
}

// Service implements registration, login and token refresh
type Service struct {
	repo       UserRepository
	jwtManager *JWTManager
	minPwLen   int
	logger     *logging.Logger
}

// NewService creates the auth service
func NewService(repo UserRepository, jwtManager *JWTManager, minPasswordLength int, logger *logging.Logger) *Service {
	return &Service{
		repo:       repo,
		jwtManager: jwtManager,
		minPwLen:   minPasswordLength,
		logger:     logger.WithComponent("auth"),
	}
}

// Register creates a user account and issues an initial token pair
func (s *Service) Register(ctx context.Context, email, password string) (*database.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, nil, AuthError{Code: "INVALID_EMAIL", Message: "a valid email address is required"}
	}
	if err := ValidatePasswordStrength(password, s.minPwLen); err != nil {
		return nil, nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	if _, err := s.repo.GetUserByEmail(ctx, email); err == nil {
		return nil, nil, ErrEmailTaken
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, nil, err
	}
	user := &database.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	pair, err := s.jwtManager.GenerateTokenPair(UserClaims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("User registered", "userId", user.ID)
	return user, pair, nil
}

// Login verifies credentials and issues a token pair
func (s *Service) Login(ctx context.Context, email, password string) (*database.User, *TokenPair, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	user, err := s.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, database.ErrNotFound) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !VerifyPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.jwtManager.GenerateTokenPair(UserClaims{UserID: user.ID, Email: user.Email})
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a fresh token pair. The
// user is re-read so tokens stop rotating for deleted accounts.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return s.jwtManager.GenerateTokenPair(UserClaims{UserID: user.ID, Email: user.Email})
}
