package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"trading-platform/internal/broker"
	"trading-platform/internal/logging"
)

// ErrPlaceholder marks a renderer response that is not a real chart.
// Placeholder images must never reach a trading decision.
var ErrPlaceholder = errors.New("renderer returned a placeholder")

// defaultEndpoints are probed in order when no engine URL is configured
var defaultEndpoints = []string{
	"http://127.0.0.1:5001",
	"http://127.0.0.1:5002",
}

// minChartBytes: anything smaller than this cannot be a rendered candle
// chart and is treated as a placeholder.
const minChartBytes = 2048

// RenderRequest is the payload handed to the chart engine
type RenderRequest struct {
	Symbol     string          `json:"symbol"`
	Timeframe  string          `json:"timeframe"`
	Candles    []broker.Candle `json:"candles"`
	Indicators IndicatorSet    `json:"indicators"`
}

// Renderer talks to the out-of-process chart engine. It probes known
// endpoints, remembers the first healthy one, and can spawn the engine
// itself when nothing is listening.
type Renderer struct {
	engineURL string
	spawnCmd  string
	client    *http.Client
	logger    *logging.Logger

	mu       sync.Mutex
	resolved string
	spawned  *exec.Cmd
}

// NewRenderer creates a renderer client. engineURL overrides endpoint
// probing when set; spawnCmd is the fallback command to start the engine.
func NewRenderer(engineURL, spawnCmd string, logger *logging.Logger) *Renderer {
	return &Renderer{
		engineURL: engineURL,
		spawnCmd:  spawnCmd,
		client:    &http.Client{Timeout: 40 * time.Second},
		logger:    logger.WithComponent("chart"),
	}
}

// Render produces PNG bytes for the request or fails. Placeholder
// responses are rejected with ErrPlaceholder.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) ([]byte, error) {
	endpoint, err := r.resolve(ctx)
	if err != nil {
		return nil, err
	}

	png, err := r.post(ctx, endpoint, req)
	if err != nil {
		// One retry after a spawn attempt: the resolved endpoint may
		// have died since the last render.
		r.mu.Lock()
		r.resolved = ""
		r.mu.Unlock()
		endpoint, rerr := r.resolve(ctx)
		if rerr != nil {
			return nil, err
		}
		png, err = r.post(ctx, endpoint, req)
		if err != nil {
			return nil, err
		}
	}

	if len(png) < minChartBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrPlaceholder, len(png))
	}
	return png, nil
}

func (r *Renderer) post(ctx context.Context, endpoint string, req RenderRequest) ([]byte, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal render request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chart engine unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart engine returned status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Chart-Placeholder") == "true" {
		return nil, ErrPlaceholder
	}

	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}

// resolve finds a live engine endpoint: configured URL first, then the
// default probe list, then a fallback spawn.
func (r *Renderer) resolve(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != "" {
		return r.resolved, nil
	}

	candidates := defaultEndpoints
	if r.engineURL != "" {
		candidates = []string{r.engineURL}
	}
	for _, endpoint := range candidates {
		if r.healthy(ctx, endpoint) {
			r.resolved = endpoint
			return endpoint, nil
		}
	}

	if r.spawnCmd == "" {
		return "", fmt.Errorf("no chart engine reachable on %v", candidates)
	}
	if err := r.spawn(); err != nil {
		return "", fmt.Errorf("chart engine spawn failed: %w", err)
	}

	// Give the spawned engine a moment to bind
	for i := 0; i < 10; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
		for _, endpoint := range candidates {
			if r.healthy(ctx, endpoint) {
				r.resolved = endpoint
				return endpoint, nil
			}
		}
	}
	return "", fmt.Errorf("chart engine did not come up after spawn")
}

func (r *Renderer) healthy(ctx context.Context, endpoint string) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (r *Renderer) spawn() error {
	if r.spawned != nil && r.spawned.ProcessState == nil {
		return nil
	}
	cmd := exec.Command("/bin/sh", "-c", r.spawnCmd)
	if err := cmd.Start(); err != nil {
		return err
	}
	r.logger.Info("Spawned chart engine", "pid", cmd.Process.Pid)
	r.spawned = cmd
	go func() { _ = cmd.Wait() }()
	return nil
}
