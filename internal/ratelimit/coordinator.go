package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"trading-platform/internal/logging"
)

// ErrAdmissionTimeout is returned when a waiter's deadline expires before
// a grant.
var ErrAdmissionTimeout = errors.New("admission timeout")

// Outcome reported on lease release
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeRateLimited
)

const (
	defaultMaxConcurrent = 1
	defaultMinGap        = 500 * time.Millisecond
	cooldownBase         = 2 * time.Second
	cooldownMax          = 2 * time.Minute
)

// Config tunes the coordinator's per-credential buckets
type Config struct {
	MaxConcurrent int
	MinGap        time.Duration
}

// Lease is a granted admission. Release is mandatory and idempotent.
type Lease struct {
	coordinator  *Coordinator
	credentialID string
	endpoint     string

	once sync.Once
}

// Release returns the token and reports the call outcome
func (l *Lease) Release(outcome Outcome) {
	l.once.Do(func() {
		l.coordinator.release(l.credentialID, l.endpoint, outcome)
	})
}

type waiter struct {
	priority int
	seq      uint64
	ready    chan struct{}
}

type bucket struct {
	mu            sync.Mutex
	inFlight      int
	lastStartedAt time.Time
	cooldownUntil map[string]time.Time
	cooldownStep  map[string]int
	waiters       []*waiter
	nextSeq       uint64
}

// Coordinator funnels all broker traffic through per-credential buckets:
// a token bucket of size maxConcurrent, a minimum inter-call gap, and
// per-endpoint cooldowns extended with jittered exponential backoff when
// the broker rate limits.
type Coordinator struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewCoordinator creates a rate coordinator
func NewCoordinator(cfg Config, logger *logging.Logger) *Coordinator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.MinGap <= 0 {
		cfg.MinGap = defaultMinGap
	}
	return &Coordinator{
		cfg:     cfg,
		logger:  logger.WithComponent("ratelimit"),
		buckets: make(map[string]*bucket),
	}
}

func (c *Coordinator) bucket(credentialID string) *bucket {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[credentialID]
	if !ok {
		b = &bucket{
			cooldownUntil: make(map[string]time.Time),
			cooldownStep:  make(map[string]int),
		}
		c.buckets[credentialID] = b
	}
	return b
}

// Acquire blocks until the credential's bucket admits the call or ctx
// expires. Higher priority wins; within a priority, arrival order. The
// context deadline is the waiter's admission deadline.
func (c *Coordinator) Acquire(ctx context.Context, credentialID, endpoint string, priority int) (*Lease, error) {
	b := c.bucket(credentialID)

	w := &waiter{priority: priority, ready: make(chan struct{}, 1)}

	b.mu.Lock()
	w.seq = b.nextSeq
	b.nextSeq++
	b.waiters = append(b.waiters, w)
	b.mu.Unlock()

	for {
		b.mu.Lock()
		now := time.Now()
		wait, eligible := b.admissible(w, endpoint, now, c.cfg)
		if eligible {
			b.inFlight++
			b.removeWaiter(w)
			b.mu.Unlock()
			return &Lease{coordinator: c, credentialID: credentialID, endpoint: endpoint}, nil
		}
		b.mu.Unlock()

		if wait <= 0 || wait > time.Second {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			b.mu.Lock()
			b.removeWaiter(w)
			b.mu.Unlock()
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrAdmissionTimeout
			}
			return nil, ctx.Err()
		case <-w.ready:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// admissible reports whether w may start now; when not, it returns how
// long until the next state change worth re-checking. Caller holds b.mu.
func (b *bucket) admissible(w *waiter, endpoint string, now time.Time, cfg Config) (time.Duration, bool) {
	if !b.isHead(w) {
		return 0, false
	}
	if b.inFlight >= cfg.MaxConcurrent {
		return 0, false
	}
	if gapEnd := b.lastStartedAt.Add(cfg.MinGap); now.Before(gapEnd) {
		return gapEnd.Sub(now), false
	}
	if until, ok := b.cooldownUntil[endpoint]; ok && now.Before(until) {
		return until.Sub(now), false
	}
	return 0, true
}

// isHead reports whether w is the best waiter: highest priority, then
// earliest arrival. Caller holds b.mu.
func (b *bucket) isHead(w *waiter) bool {
	for _, other := range b.waiters {
		if other == w {
			continue
		}
		if other.priority > w.priority ||
			(other.priority == w.priority && other.seq < w.seq) {
			return false
		}
	}
	return true
}

func (b *bucket) removeWaiter(w *waiter) {
	for i, other := range b.waiters {
		if other == w {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) release(credentialID, endpoint string, outcome Outcome) {
	b := c.bucket(credentialID)

	b.mu.Lock()
	b.inFlight--
	if b.inFlight < 0 {
		b.inFlight = 0
	}
	b.lastStartedAt = time.Now()

	switch outcome {
	case OutcomeRateLimited:
		step := b.cooldownStep[endpoint]
		cooldown := cooldownBase << step
		if cooldown > cooldownMax {
			cooldown = cooldownMax
		}
		jitter := time.Duration(rand.Int63n(int64(cooldown) / 4))
		b.cooldownUntil[endpoint] = time.Now().Add(cooldown + jitter)
		b.cooldownStep[endpoint] = step + 1
		c.logger.Warn("Endpoint cooldown extended",
			"credential_id", credentialID, "endpoint", endpoint,
			"cooldown", (cooldown + jitter).String())
	case OutcomeSuccess:
		delete(b.cooldownStep, endpoint)
		delete(b.cooldownUntil, endpoint)
	}

	// Wake every waiter; eligibility is re-checked under the lock
	for _, w := range b.waiters {
		select {
		case w.ready <- struct{}{}:
		default:
		}
	}
	b.mu.Unlock()
}

// CooldownRemaining reports the current cooldown on an endpoint, for
// status surfaces.
func (c *Coordinator) CooldownRemaining(credentialID, endpoint string) time.Duration {
	b := c.bucket(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.cooldownUntil[endpoint]
	if !ok {
		return 0
	}
	if remaining := time.Until(until); remaining > 0 {
		return remaining
	}
	return 0
}

// InFlight reports the number of in-flight calls on a credential
func (c *Coordinator) InFlight(credentialID string) int {
	b := c.bucket(credentialID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inFlight
}
