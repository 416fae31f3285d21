package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"trading-platform/internal/database"
	"trading-platform/internal/logging"

	"github.com/google/uuid"
)

// Broker kinds supported by the gateway
const (
	KindCapital  = "capital"
	KindBinance  = "binance"
	KindCoinbase = "coinbase"
	KindCustom   = "custom"
)

var (
	// ErrUnknownBrokerKind is returned for kinds outside the supported set
	ErrUnknownBrokerKind = errors.New("unknown broker kind")
	// ErrMissingFields is returned when a payload lacks required keys
	ErrMissingFields = errors.New("credential payload missing required fields")
)

// requiredFields maps each broker kind to the payload keys it must carry
var requiredFields = map[string][]string{
	KindCapital:  {"apiKey", "identifier", "password"},
	KindBinance:  {"apiKey", "secretKey"},
	KindCoinbase: {"apiKey", "apiSecret", "passphrase"},
}

// Payload is a decrypted credential key set
type Payload map[string]string

// Service stores, validates and decrypts broker credentials. Payloads are
// encrypted at rest with the configured cipher; with no cipher they are
// stored as plaintext JSON and a warning is logged at startup.
type Service struct {
	repo   *database.Repository
	cipher *Cipher
	vault  *VaultStore
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]Payload // credentialID -> decrypted payload
}

// NewService creates a credential service. vault may be nil.
func NewService(repo *database.Repository, cipher *Cipher, vault *VaultStore, logger *logging.Logger) *Service {
	s := &Service{
		repo:   repo,
		cipher: cipher,
		vault:  vault,
		logger: logger.WithComponent("credentials"),
		cache:  make(map[string]Payload),
	}
	if cipher == nil {
		s.logger.Warn("No credentials encryption key configured, storing payloads as plaintext")
	}
	return s
}

// ValidatePayload checks a payload against the broker kind's required keys
func ValidatePayload(kind string, payload Payload) error {
	required, ok := requiredFields[kind]
	if !ok {
		if kind == KindCustom {
			if len(payload) == 0 {
				return fmt.Errorf("%w: custom broker needs at least one key", ErrMissingFields)
			}
			return nil
		}
		return fmt.Errorf("%w: %q", ErrUnknownBrokerKind, kind)
	}
	for _, field := range required {
		if payload[field] == "" {
			return fmt.Errorf("%w: %s requires %s", ErrMissingFields, kind, field)
		}
	}
	return nil
}

// Create validates, encrypts and persists a new credential
func (s *Service) Create(ctx context.Context, userID, name, kind string, payload Payload, isDemo bool) (*database.BrokerCredential, error) {
	if err := ValidatePayload(kind, payload); err != nil {
		return nil, err
	}

	stored, err := s.seal(payload)
	if err != nil {
		return nil, err
	}

	cred := &database.BrokerCredential{
		ID:               uuid.New().String(),
		UserID:           userID,
		Name:             name,
		BrokerKind:       kind,
		EncryptedPayload: stored,
		IsDemo:           isDemo,
	}
	if err := s.repo.CreateCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persisting credential: %w", err)
	}

	if s.vault != nil {
		if err := s.vault.Store(ctx, cred.ID, payload); err != nil {
			s.logger.WithError(err).Warn("Vault mirror write failed", "credential_id", cred.ID)
		}
	}

	s.mu.Lock()
	s.cache[cred.ID] = payload
	s.mu.Unlock()

	return cred, nil
}

// Update replaces a credential's name and payload
func (s *Service) Update(ctx context.Context, cred *database.BrokerCredential, payload Payload) error {
	if payload != nil {
		if err := ValidatePayload(cred.BrokerKind, payload); err != nil {
			return err
		}
		stored, err := s.seal(payload)
		if err != nil {
			return err
		}
		cred.EncryptedPayload = stored
	}
	if err := s.repo.UpdateCredential(ctx, cred); err != nil {
		return err
	}

	s.mu.Lock()
	if payload != nil {
		s.cache[cred.ID] = payload
	} else {
		delete(s.cache, cred.ID)
	}
	s.mu.Unlock()
	return nil
}

// Delete removes a credential and evicts its cache entry
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if err := s.repo.DeleteCredential(ctx, id, userID); err != nil {
		return err
	}
	if s.vault != nil {
		if err := s.vault.Delete(ctx, id); err != nil {
			s.logger.WithError(err).Warn("Vault delete failed", "credential_id", id)
		}
	}
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
	return nil
}

// Load fetches and decrypts a credential's payload, caching the result.
// An unknown broker kind on a stored row is a hard error: the row is
// unusable and the caller must not fall back to another broker.
func (s *Service) Load(ctx context.Context, credentialID string) (*database.BrokerCredential, Payload, error) {
	cred, err := s.repo.GetCredentialByID(ctx, credentialID)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := requiredFields[cred.BrokerKind]; !ok && cred.BrokerKind != KindCustom {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownBrokerKind, cred.BrokerKind)
	}

	s.mu.RLock()
	if payload, ok := s.cache[credentialID]; ok {
		s.mu.RUnlock()
		return cred, payload, nil
	}
	s.mu.RUnlock()

	payload, err := s.open(cred.EncryptedPayload)
	if err != nil {
		return nil, nil, fmt.Errorf("credential %s: %w", credentialID, err)
	}

	s.mu.Lock()
	s.cache[credentialID] = payload
	s.mu.Unlock()

	return cred, payload, nil
}

// Verify performs a shape-only check on a stored credential: it decrypts
// and re-validates the payload against the broker kind.
func (s *Service) Verify(ctx context.Context, credentialID string) error {
	cred, payload, err := s.Load(ctx, credentialID)
	if err != nil {
		return err
	}
	return ValidatePayload(cred.BrokerKind, payload)
}

func (s *Service) seal(payload Payload) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	if s.cipher == nil {
		return string(raw), nil
	}
	return s.cipher.Encrypt(string(raw))
}

func (s *Service) open(stored string) (Payload, error) {
	plaintext := stored
	if s.cipher != nil {
		var err error
		plaintext, err = s.cipher.Decrypt(stored)
		if err != nil {
			return nil, err
		}
	}
	var payload Payload
	if err := json.Unmarshal([]byte(plaintext), &payload); err != nil {
		return nil, fmt.Errorf("decoding payload: %w", err)
	}
	return payload, nil
}

// ClearCache evicts all decrypted payloads
func (s *Service) ClearCache() {
	s.mu.Lock()
	s.cache = make(map[string]Payload)
	s.mu.Unlock()
}
