package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trading-platform/internal/logging"
)

const epicCacheTTL = 24 * time.Hour

// commonEpicMap holds hard-coded symbol to epic mappings that skip the
// candidate probing entirely.
var commonEpicMap = map[string]string{
	"XAUUSD":  "GOLD",
	"XAGUSD":  "SILVER",
	"SPX500":  "US500",
	"NAS100":  "US100",
	"DJI30":   "US30",
	"GER40":   "DE40",
	"FTSE100": "UK100",
	"WTI":     "OIL_CRUDE",
	"BTC":     "BTCUSD",
	"ETH":     "ETHUSD",
}

// cryptoBases are symbols resolvable in direct BTCUSD form
var cryptoBases = map[string]bool{
	"BTC": true, "ETH": true, "SOL": true, "XRP": true,
	"ADA": true, "DOGE": true, "LTC": true, "DOT": true,
}

// EpicResolution carries the resolved epic. Verified is false when no
// candidate could be confirmed and the most likely one is returned as a
// best guess; callers may still attempt trades but should log the flag.
type EpicResolution struct {
	Epic     string
	Verified bool
}

type epicEntry struct {
	resolution EpicResolution
	expiresAt  time.Time
}

// EpicCache is an optional external cache layered over the in-memory one
type EpicCache interface {
	GetEpic(ctx context.Context, symbol string) (string, bool)
	SetEpic(ctx context.Context, symbol, epic string, ttl time.Duration)
}

// EpicResolver resolves user-facing symbols to broker epics through
// staged candidate probing, caching hits for 24 hours with a reverse map.
type EpicResolver struct {
	gateway  Gateway
	external EpicCache
	logger   *logging.Logger

	mu      sync.RWMutex
	cache   map[string]epicEntry
	reverse map[string]string // epic -> symbol
}

// NewEpicResolver creates a resolver over one credential's gateway.
// external may be nil.
func NewEpicResolver(gateway Gateway, external EpicCache, logger *logging.Logger) *EpicResolver {
	return &EpicResolver{
		gateway:  gateway,
		external: external,
		logger:   logger.WithComponent("epic-resolver"),
		cache:    make(map[string]epicEntry),
		reverse:  make(map[string]string),
	}
}

// Resolve maps a symbol to its epic. Stages: cached hit, hard-coded
// common mapping, direct crypto form, vendor-prefixed candidates. Each
// probe is verified by marketDetails; the first success wins. When every
// probe fails the most likely candidate is returned unverified.
func (r *EpicResolver) Resolve(ctx context.Context, symbol string) (EpicResolution, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return EpicResolution{}, fmt.Errorf("empty symbol")
	}

	if res, ok := r.cached(ctx, symbol); ok {
		return res, nil
	}

	candidates := r.candidates(symbol)

	for _, candidate := range candidates {
		details, err := r.gateway.MarketDetails(ctx, candidate)
		if err != nil {
			continue
		}
		if details != nil {
			res := EpicResolution{Epic: candidate, Verified: true}
			r.store(ctx, symbol, res)
			return res, nil
		}
	}

	// Nothing verified: hand back the most likely candidate flagged
	// unverified so the caller may still attempt the trade.
	fallback := EpicResolution{Epic: candidates[0], Verified: false}
	r.logger.Warn("Epic resolution unverified, using best guess",
		"symbol", symbol, "epic", fallback.Epic)
	return fallback, nil
}

// SymbolForEpic reverses a cached resolution
func (r *EpicResolver) SymbolForEpic(epic string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbol, ok := r.reverse[epic]
	return symbol, ok
}

func (r *EpicResolver) candidates(symbol string) []string {
	var candidates []string

	if epic, ok := commonEpicMap[symbol]; ok {
		candidates = append(candidates, epic)
	}

	// Direct crypto form: BTCUSD style symbols probe as-is first
	if base, found := strings.CutSuffix(symbol, "USD"); found && cryptoBases[base] {
		candidates = append(candidates, symbol)
	} else if base, found := strings.CutSuffix(symbol, "USDT"); found && cryptoBases[base] {
		candidates = append(candidates, base+"USD")
	}

	// The symbol itself, then vendor-prefixed CFD variants
	candidates = append(candidates,
		symbol,
		fmt.Sprintf("CS.D.%s.CFD.IP", symbol),
		fmt.Sprintf("CS.D.%s.MINI.IP", symbol),
	)

	return dedupe(candidates)
}

func (r *EpicResolver) cached(ctx context.Context, symbol string) (EpicResolution, bool) {
	r.mu.RLock()
	entry, ok := r.cache[symbol]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.resolution, true
	}

	if r.external != nil {
		if epic, ok := r.external.GetEpic(ctx, symbol); ok {
			res := EpicResolution{Epic: epic, Verified: true}
			r.mu.Lock()
			r.cache[symbol] = epicEntry{resolution: res, expiresAt: time.Now().Add(epicCacheTTL)}
			r.reverse[epic] = symbol
			r.mu.Unlock()
			return res, true
		}
	}
	return EpicResolution{}, false
}

func (r *EpicResolver) store(ctx context.Context, symbol string, res EpicResolution) {
	r.mu.Lock()
	r.cache[symbol] = epicEntry{resolution: res, expiresAt: time.Now().Add(epicCacheTTL)}
	r.reverse[res.Epic] = symbol
	r.mu.Unlock()

	if r.external != nil {
		r.external.SetEpic(ctx, symbol, res.Epic, epicCacheTTL)
	}
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
