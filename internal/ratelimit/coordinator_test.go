package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trading-platform/internal/logging"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})
}

func newTestCoordinator(maxConcurrent int, minGap time.Duration) *Coordinator {
	return NewCoordinator(Config{MaxConcurrent: maxConcurrent, MinGap: minGap}, testLogger())
}

func TestAcquireRespectsConcurrencyCap(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	lease1, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, "cred-1", "prices", 50); !errors.Is(err, ErrAdmissionTimeout) {
		t.Errorf("second acquire should time out while token held, got %v", err)
	}

	lease1.Release(OutcomeSuccess)
}

func TestAcquireAfterRelease(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	lease1, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease1.Release(OutcomeSuccess)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease2, err := c.Acquire(ctx, "cred-1", "prices", 50)
	if err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
	lease2.Release(OutcomeSuccess)
}

func TestConcurrentAcquiresNeverExceedCap(t *testing.T) {
	c := newTestCoordinator(2, time.Millisecond)

	var inFlight int32
	var peak int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			lease, err := c.Acquire(ctx, "cred-1", "prices", 50)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			lease.Release(OutcomeSuccess)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("in-flight peak %d exceeded cap 2", peak)
	}
}

func TestRateLimitedExtendsCooldown(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	lease, err := c.Acquire(context.Background(), "cred-1", "positions", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(OutcomeRateLimited)

	remaining := c.CooldownRemaining("cred-1", "positions")
	if remaining < cooldownBase {
		t.Errorf("cooldown after 429 should be at least %v, got %v", cooldownBase, remaining)
	}

	// Other endpoints are unaffected
	if r := c.CooldownRemaining("cred-1", "prices"); r != 0 {
		t.Errorf("unrelated endpoint should have no cooldown, got %v", r)
	}

	// A waiter on the cooled endpoint times out inside the cooldown window
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := c.Acquire(ctx, "cred-1", "positions", 50); !errors.Is(err, ErrAdmissionTimeout) {
		t.Errorf("acquire during cooldown should hit admission timeout, got %v", err)
	}
}

func TestSuccessResetsCooldownStep(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)
	b := c.bucket("cred-1")

	lease, _ := c.Acquire(context.Background(), "cred-1", "positions", 50)
	lease.Release(OutcomeRateLimited)

	b.mu.Lock()
	b.cooldownUntil["positions"] = time.Now() // expire the cooldown
	b.mu.Unlock()

	lease2, err := c.Acquire(context.Background(), "cred-1", "positions", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease2.Release(OutcomeSuccess)

	b.mu.Lock()
	step := b.cooldownStep["positions"]
	b.mu.Unlock()
	if step != 0 {
		t.Errorf("success should reset the cooldown step, got %d", step)
	}
}

func TestPriorityOrdering(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	holder, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	start := make(chan struct{})
	for _, prio := range []int{10, 90} {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			if p == 10 {
				// Guarantee the low-priority waiter registers first
			} else {
				time.Sleep(20 * time.Millisecond)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			lease, err := c.Acquire(ctx, "cred-1", "prices", p)
			if err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			mu.Lock()
			order = append(order, p)
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			lease.Release(OutcomeSuccess)
		}(prio)
	}
	close(start)

	time.Sleep(100 * time.Millisecond) // both waiters queued
	holder.Release(OutcomeSuccess)
	wg.Wait()

	if len(order) != 2 || order[0] != 90 {
		t.Errorf("higher priority should be granted first, got order %v", order)
	}
}

func TestLeaseReleaseIdempotent(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	lease, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(OutcomeSuccess)
	lease.Release(OutcomeSuccess)
	lease.Release(OutcomeError)

	if n := c.InFlight("cred-1"); n != 0 {
		t.Errorf("double release should not drive inFlight below 0, got %d", n)
	}
}

func TestIndependentCredentials(t *testing.T) {
	c := newTestCoordinator(1, time.Millisecond)

	lease1, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}
	defer lease1.Release(OutcomeSuccess)

	// A different credential is not blocked by cred-1's token
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	lease2, err := c.Acquire(ctx, "cred-2", "prices", 50)
	if err != nil {
		t.Fatalf("different credential should admit immediately: %v", err)
	}
	lease2.Release(OutcomeSuccess)
}

func TestMinGapBetweenCalls(t *testing.T) {
	c := newTestCoordinator(1, 150*time.Millisecond)

	lease, err := c.Acquire(context.Background(), "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease.Release(OutcomeSuccess)

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	lease2, err := c.Acquire(ctx, "cred-1", "prices", 50)
	if err != nil {
		t.Fatal(err)
	}
	lease2.Release(OutcomeSuccess)

	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("second call should wait the min gap, waited only %v", elapsed)
	}
}
