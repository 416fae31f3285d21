// Package scheduler fires bot evaluations on timeframe boundaries. It is
// a timer wheel keyed by (botId, timeframe): each active bot becomes due
// once per timeframe period, and due ticks funnel into the coordinator.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"trading-platform/config"
	"trading-platform/internal/coordinator"
	"trading-platform/internal/database"
	"trading-platform/internal/evaluator"
	"trading-platform/internal/logging"
	"trading-platform/internal/strategy"
)

// Repository is the persistence surface the scheduler needs
type Repository interface {
	GetActiveBots(ctx context.Context) ([]*database.Bot, error)
}

// RunFunc executes one bot evaluation; evaluator.ErrQueued means the
// coordinator refused admission and the tick should be retried.
type RunFunc func(ctx context.Context, botID string) error

type wheelEntry struct {
	timeframe string
	nextDue   time.Time
	pending   bool
}

// Scheduler drives evaluation ticks for all active bots
type Scheduler struct {
	repo  Repository
	coord *coordinator.Coordinator
	run   RunFunc
	cfg   config.SchedulerConfig
	logger *logging.Logger

	mu    sync.Mutex
	wheel map[string]*wheelEntry // botID -> slot

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler
func New(repo Repository, coord *coordinator.Coordinator, run RunFunc, cfg config.SchedulerConfig, logger *logging.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = 10 * time.Second
	}
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = 16
	}
	return &Scheduler{
		repo:   repo,
		coord:  coord,
		run:    run,
		cfg:    cfg,
		logger: logger.WithComponent("scheduler"),
		wheel:  make(map[string]*wheelEntry),
	}
}

// Start launches the scheduling loop
func (s *Scheduler) Start(ctx context.Context) {
	s.stopChan = make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.Tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
	s.logger.Info("Scheduler started", "tick", s.cfg.Tick.String())
}

// Stop shuts the loop down and waits for it
func (s *Scheduler) Stop() {
	if s.stopChan != nil {
		close(s.stopChan)
	}
	s.wg.Wait()
}

// Tick advances the wheel once: refresh slots from the bot list, then
// dispatch every due bot that has no tick already pending.
func (s *Scheduler) Tick(ctx context.Context) {
	bots, err := s.repo.GetActiveBots(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list active bots")
		return
	}

	now := time.Now()
	due := s.collectDue(bots, now)
	for _, bot := range due {
		s.dispatch(ctx, bot)
	}
}

func (s *Scheduler) collectDue(bots []*database.Bot, now time.Time) []*database.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]bool, len(bots))
	var due []*database.Bot
	for _, bot := range bots {
		active[bot.ID] = true
		entry, ok := s.wheel[bot.ID]
		if !ok || entry.timeframe != bot.Timeframe {
			// New bot, or its timeframe changed: first tick fires now
			entry = &wheelEntry{timeframe: bot.Timeframe, nextDue: now}
			s.wheel[bot.ID] = entry
		}
		if entry.pending || now.Before(entry.nextDue) {
			continue
		}

		// Backpressure: overdue ticks on a saturated credential are
		// dropped, not coalesced; the slot just advances.
		period := time.Duration(strategy.TimeframeMinutes(bot.Timeframe)) * time.Minute
		if s.coord.Scheduled(bot.CredentialID) >= s.cfg.QueueCap {
			s.logger.Warn("Credential queue full, dropping tick",
				"botId", bot.ID, "credentialId", bot.CredentialID)
			entry.nextDue = now.Add(period)
			continue
		}

		entry.pending = true
		entry.nextDue = now.Add(period)
		due = append(due, bot)
	}

	// Deactivated bots leave the wheel
	for botID := range s.wheel {
		if !active[botID] {
			delete(s.wheel, botID)
		}
	}
	return due
}

func (s *Scheduler) dispatch(ctx context.Context, bot *database.Bot) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.clearPending(bot.ID)

		err := s.run(ctx, bot.ID)
		switch {
		case err == nil:
		case errors.Is(err, evaluator.ErrQueued):
			// Coordinator refusal: pull the slot back so the next
			// wheel tick retries instead of waiting a full period.
			s.rewind(bot.ID)
		default:
			s.logger.WithError(err).Error("Evaluation failed", "botId", bot.ID)
		}
	}()
}

func (s *Scheduler) clearPending(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.wheel[botID]; ok {
		entry.pending = false
	}
}

func (s *Scheduler) rewind(botID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.wheel[botID]; ok {
		entry.nextDue = time.Now()
	}
}

// Pending reports whether a bot has a tick in flight
func (s *Scheduler) Pending(botID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.wheel[botID]
	return ok && entry.pending
}
