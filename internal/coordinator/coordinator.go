// Package coordinator serializes bot executions per broker credential.
// It sits in front of the rate coordinator: admission here is about bot
// scheduling fairness, not raw API pacing.
package coordinator

import (
	"math/rand"
	"sync"
	"time"

	"trading-platform/internal/logging"
)

const (
	// defaultMaxScheduled is the hard cap on bots concurrently
	// scheduled against one credential.
	defaultMaxScheduled = 8
	// warnScheduledPerCredential logs a warning when crossed
	warnScheduledPerCredential = 5
	// defaultBotGap is the minimum spacing between different bots
	// starting on the same credential, jittered to smear load
	defaultBotGap = 30 * time.Second
)

// pendingBot is one queued admission request
type pendingBot struct {
	botID    string
	priority int
}

type credentialState struct {
	executing  map[string]bool // botID -> executing
	pending    []pendingBot    // priority desc, arrival order within a priority
	lastStart  time.Time
	lastBot    string
	currentGap time.Duration
}

// Coordinator tracks which bot runs on which credential and admits
// executions one per bot with per-credential pacing.
type Coordinator struct {
	botGap       time.Duration
	maxScheduled int
	logger       *logging.Logger

	mu          sync.Mutex
	credentials map[string]*credentialState
	botCred     map[string]string // botID -> credentialID, authoritative
}

// New creates a bot coordinator. botGap <= 0 selects the default 30 s.
func New(botGap time.Duration, logger *logging.Logger) *Coordinator {
	if botGap <= 0 {
		botGap = defaultBotGap
	}
	return &Coordinator{
		botGap:       botGap,
		maxScheduled: defaultMaxScheduled,
		logger:       logger.WithComponent("coordinator"),
		credentials:  make(map[string]*credentialState),
		botCred:      make(map[string]string),
	}
}

// SetMaxScheduled overrides the per-credential scheduling cap. Values
// below 1 are ignored.
func (c *Coordinator) SetMaxScheduled(n int) {
	if n < 1 {
		return
	}
	c.mu.Lock()
	c.maxScheduled = n
	c.mu.Unlock()
}

func (c *Coordinator) state(credentialID string) *credentialState {
	cs, ok := c.credentials[credentialID]
	if !ok {
		cs = &credentialState{executing: make(map[string]bool)}
		c.credentials[credentialID] = cs
	}
	return cs
}

// RequestBotExecution asks to run a bot now. It returns false when the
// bot is already executing, the credential is saturated, or the bot must
// wait its turn; refused bots stay queued and keep their position on
// retry.
func (c *Coordinator) RequestBotExecution(botID, credentialID string, priority int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.botCred[botID] = credentialID
	cs := c.state(credentialID)

	// One execution per bot at a time, ever
	if cs.executing[botID] {
		c.logger.Debug("Bot already executing, rejecting", "botId", botID)
		return false
	}

	scheduled := len(cs.executing) + len(cs.pending)
	if !queued(cs.pending, botID) {
		if scheduled >= c.maxScheduled {
			c.logger.Warn("Credential saturated, rejecting bot execution",
				"credentialId", credentialID, "scheduled", scheduled)
			return false
		}
		cs.pending = enqueue(cs.pending, pendingBot{botID: botID, priority: priority})
		if scheduled+1 >= warnScheduledPerCredential {
			c.logger.Warn("High bot load on credential",
				"credentialId", credentialID, "scheduled", scheduled+1)
		}
	}

	// Only the queue head may start: highest priority first, arrival
	// order within a priority.
	if cs.pending[0].botID != botID {
		return false
	}

	// Jittered gap between different bots on the same credential
	if cs.lastBot != "" && cs.lastBot != botID {
		if cs.currentGap == 0 {
			cs.currentGap = c.jitteredGap()
		}
		if time.Since(cs.lastStart) < cs.currentGap {
			return false
		}
	}

	cs.pending = cs.pending[1:]
	cs.executing[botID] = true
	cs.lastStart = time.Now()
	cs.lastBot = botID
	cs.currentGap = 0
	c.logger.Info("Bot execution admitted", "botId", botID, "credentialId", credentialID, "priority", priority)
	return true
}

// CompleteBotExecution releases the bot's slot. Safe to call more than
// once for the same execution.
func (c *Coordinator) CompleteBotExecution(botID string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	credentialID, ok := c.botCred[botID]
	if !ok {
		return
	}
	cs := c.state(credentialID)
	if !cs.executing[botID] {
		return
	}
	delete(cs.executing, botID)
	c.logger.Info("Bot execution completed", "botId", botID, "success", success)
}

// CredentialFor returns the credential a bot is mapped to
func (c *Coordinator) CredentialFor(botID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	credentialID, ok := c.botCred[botID]
	return credentialID, ok
}

// Executing reports whether a bot currently holds an execution slot
func (c *Coordinator) Executing(botID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	credentialID, ok := c.botCred[botID]
	if !ok {
		return false
	}
	return c.state(credentialID).executing[botID]
}

// Scheduled returns how many bots are executing or pending on a credential
func (c *Coordinator) Scheduled(credentialID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	cs := c.state(credentialID)
	return len(cs.executing) + len(cs.pending)
}

// jitteredGap spreads the configured gap by up to +25%
func (c *Coordinator) jitteredGap() time.Duration {
	return c.botGap + time.Duration(rand.Int63n(int64(c.botGap)/4+1))
}

func queued(list []pendingBot, botID string) bool {
	for _, item := range list {
		if item.botID == botID {
			return true
		}
	}
	return false
}

// enqueue inserts behind every entry of equal or higher priority, so a
// high-priority request jumps the queue without reordering its peers.
func enqueue(q []pendingBot, p pendingBot) []pendingBot {
	i := len(q)
	for i > 0 && q[i-1].priority < p.priority {
		i--
	}
	q = append(q, pendingBot{})
	copy(q[i+1:], q[i:])
	q[i] = p
	return q
}
