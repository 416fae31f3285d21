package chart

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"trading-platform/internal/logging"

	"github.com/google/uuid"
)

// Store uploads rendered charts to the object store, falling back to
// local disk when the store is unreachable.
type Store struct {
	storeURL  string
	outputDir string
	client    *http.Client
	logger    *logging.Logger
}

// NewStore creates a chart store
func NewStore(storeURL, outputDir string, logger *logging.Logger) *Store {
	return &Store{
		storeURL:  storeURL,
		outputDir: outputDir,
		client:    &http.Client{Timeout: 15 * time.Second},
		logger:    logger.WithComponent("chart"),
	}
}

// Save persists PNG bytes under {owner}/charts/{uuid}.png and returns the
// URL the chart is reachable at.
func (s *Store) Save(ctx context.Context, owner string, png []byte) (string, error) {
	key := fmt.Sprintf("%s/charts/%s.png", owner, uuid.New().String())

	if s.storeURL != "" {
		url, err := s.upload(ctx, key, png)
		if err == nil {
			return url, nil
		}
		s.logger.WithError(err).Warn("Object store upload failed, falling back to local disk", "key", key)
	}

	return s.saveLocal(key, png)
}

func (s *Store) upload(ctx context.Context, key string, png []byte) (string, error) {
	url := fmt.Sprintf("%s/%s", s.storeURL, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(png))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("object store returned status %d", resp.StatusCode)
	}
	return url, nil
}

func (s *Store) saveLocal(key string, png []byte) (string, error) {
	path := filepath.Join(s.outputDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create chart directory: %w", err)
	}
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write chart: %w", err)
	}
	return "file://" + path, nil
}
