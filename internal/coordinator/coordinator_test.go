package coordinator

import (
	"fmt"
	"testing"
	"time"

	"trading-platform/internal/logging"
)

func testCoordinator(gap time.Duration) *Coordinator {
	return New(gap, logging.New(&logging.Config{Level: "ERROR", Output: "stderr"}))
}

func TestOneExecutionPerBot(t *testing.T) {
	c := testCoordinator(time.Millisecond)

	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Fatal("first request should be admitted")
	}
	if c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Error("a bot already executing must be rejected")
	}

	c.CompleteBotExecution("bot-1", true)
	time.Sleep(5 * time.Millisecond)
	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Error("bot should be admitted again after completion")
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	c := testCoordinator(time.Millisecond)
	c.RequestBotExecution("bot-1", "cred-1", 50)

	c.CompleteBotExecution("bot-1", true)
	c.CompleteBotExecution("bot-1", false) // double release is a no-op
	if c.Executing("bot-1") {
		t.Error("bot should not be executing after completion")
	}
}

func TestBotGapBetweenDifferentBots(t *testing.T) {
	c := testCoordinator(time.Hour) // gap never elapses in this test

	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Fatal("first bot should be admitted")
	}
	c.CompleteBotExecution("bot-1", true)

	if c.RequestBotExecution("bot-2", "cred-1", 50) {
		t.Error("a different bot inside the gap must wait")
	}
	if c.Executing("bot-2") {
		t.Error("bot-2 must not be executing")
	}
}

func TestSameBotNotGapped(t *testing.T) {
	c := testCoordinator(time.Hour)

	c.RequestBotExecution("bot-1", "cred-1", 50)
	c.CompleteBotExecution("bot-1", true)
	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Error("the same bot re-running is not subject to the inter-bot gap")
	}
}

func TestCredentialCap(t *testing.T) {
	c := testCoordinator(time.Hour)

	// First bot executes, seven more queue: cap reached
	for i := 0; i < defaultMaxScheduled; i++ {
		c.RequestBotExecution(fmt.Sprintf("bot-%d", i), "cred-1", 50)
	}
	if got := c.Scheduled("cred-1"); got != defaultMaxScheduled {
		t.Fatalf("scheduled = %d, want %d", got, defaultMaxScheduled)
	}
	if c.RequestBotExecution("bot-overflow", "cred-1", 50) {
		t.Error("ninth bot must be rejected outright")
	}
	if got := c.Scheduled("cred-1"); got != defaultMaxScheduled {
		t.Errorf("rejected bot must not join the queue, scheduled = %d", got)
	}
}

func TestFIFOOrdering(t *testing.T) {
	c := testCoordinator(time.Millisecond)

	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Fatal("bot-1 should start")
	}
	// bot-2 then bot-3 queue while bot-1 runs
	c.RequestBotExecution("bot-2", "cred-1", 50)
	c.RequestBotExecution("bot-3", "cred-1", 50)
	c.CompleteBotExecution("bot-1", true)
	time.Sleep(5 * time.Millisecond)

	if c.RequestBotExecution("bot-3", "cred-1", 50) {
		t.Error("bot-3 must not jump the queue ahead of bot-2")
	}
	if !c.RequestBotExecution("bot-2", "cred-1", 50) {
		t.Error("bot-2 is at the head and past the gap, should be admitted")
	}
}

func TestCredentialsAreIndependent(t *testing.T) {
	c := testCoordinator(time.Hour)

	if !c.RequestBotExecution("bot-1", "cred-1", 50) {
		t.Fatal("bot-1 should start on cred-1")
	}
	if !c.RequestBotExecution("bot-2", "cred-2", 50) {
		t.Error("a bot on a different credential is not gapped")
	}
}

func TestCredentialForTracksMapping(t *testing.T) {
	c := testCoordinator(time.Millisecond)
	c.RequestBotExecution("bot-1", "cred-9", 50)

	credentialID, ok := c.CredentialFor("bot-1")
	if !ok || credentialID != "cred-9" {
		t.Errorf("CredentialFor = %q, %v", credentialID, ok)
	}
}

func TestHigherPriorityJumpsQueue(t *testing.T) {
	c := testCoordinator(20 * time.Millisecond)

	if !c.RequestBotExecution("bot-1", "cred-1", 0) {
		t.Fatal("first bot should be admitted")
	}
	c.CompleteBotExecution("bot-1", true)

	// Both queue up inside the gap; the manual run arrives second but
	// carries the higher priority.
	if c.RequestBotExecution("bot-2", "cred-1", 0) {
		t.Fatal("bot-2 should be gapped")
	}
	if c.RequestBotExecution("bot-3", "cred-1", 10) {
		t.Fatal("bot-3 should be gapped")
	}

	time.Sleep(50 * time.Millisecond)
	if c.RequestBotExecution("bot-2", "cred-1", 0) {
		t.Error("bot-2 must wait behind the higher-priority bot-3")
	}
	if !c.RequestBotExecution("bot-3", "cred-1", 10) {
		t.Error("bot-3 should be admitted ahead of bot-2")
	}
}

func TestSamePriorityKeepsArrivalOrder(t *testing.T) {
	q := enqueue(nil, pendingBot{botID: "a", priority: 0})
	q = enqueue(q, pendingBot{botID: "b", priority: 0})
	q = enqueue(q, pendingBot{botID: "c", priority: 10})
	q = enqueue(q, pendingBot{botID: "d", priority: 10})

	want := []string{"c", "d", "a", "b"}
	for i, w := range want {
		if q[i].botID != w {
			t.Fatalf("queue[%d] = %s, want %s (%v)", i, q[i].botID, w, q)
		}
	}
}
