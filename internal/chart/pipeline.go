package chart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-platform/internal/logging"
	"trading-platform/internal/marketdata"
)

// ErrChartUnavailable is returned when no real chart could be produced
// inside the pipeline budget. Callers proceed without an image at reduced
// confidence, or abort; they never trade on a placeholder.
var ErrChartUnavailable = errors.New("chart unavailable")

const (
	defaultBudget = 45 * time.Second
	chartCandles  = 100
)

// Pipeline turns a bot's market view into a stored chart image
type Pipeline struct {
	renderer *Renderer
	store    *Store
	budget   time.Duration
	logger   *logging.Logger
}

// NewPipeline creates a chart pipeline. budget <= 0 selects the 45 s
// default.
func NewPipeline(renderer *Renderer, store *Store, budget time.Duration, logger *logging.Logger) *Pipeline {
	if budget <= 0 {
		budget = defaultBudget
	}
	return &Pipeline{
		renderer: renderer,
		store:    store,
		budget:   budget,
		logger:   logger.WithComponent("chart"),
	}
}

// Result is a successfully stored chart
type Result struct {
	URL     string
	PNG     []byte
	Elapsed time.Duration
}

// Generate fetches candles, renders them with the normalised indicator
// set, and stores the PNG under the bot owner's prefix. The whole pipeline
// is bounded by the configured budget; on timeout or a placeholder result
// the chart is unavailable.
func (p *Pipeline) Generate(ctx context.Context, cache *marketdata.Cache, owner, symbol, timeframe string, indicators interface{}) (*Result, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.budget)
	defer cancel()

	candles, err := cache.GetOHLC(ctx, symbol, timeframe, chartCandles)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChartUnavailable, err)
	}

	png, err := p.renderer.Render(ctx, RenderRequest{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Candles:    candles,
		Indicators: NormalizeIndicators(indicators),
	})
	if err != nil {
		if errors.Is(err, ErrPlaceholder) {
			p.logger.Warn("Renderer produced a placeholder, treating chart as unavailable",
				"symbol", symbol, "timeframe", timeframe)
		}
		return nil, fmt.Errorf("%w: %v", ErrChartUnavailable, err)
	}

	url, err := p.store.Save(ctx, owner, png)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChartUnavailable, err)
	}

	elapsed := time.Since(start)
	p.logger.Info("Chart generated", "symbol", symbol, "timeframe", timeframe,
		"url", url, "elapsedMs", elapsed.Milliseconds())
	return &Result{URL: url, PNG: png, Elapsed: elapsed}, nil
}
