package chart

import (
	"testing"
	"time"

	"trading-platform/internal/logging"
)

func TestNewPipelineBudget(t *testing.T) {
	logger := logging.New(&logging.Config{Level: "ERROR", Output: "stderr"})

	p := NewPipeline(nil, nil, 10*time.Second, logger)
	if p.budget != 10*time.Second {
		t.Errorf("budget = %v, want the configured 10s", p.budget)
	}

	p = NewPipeline(nil, nil, 0, logger)
	if p.budget != defaultBudget {
		t.Errorf("unset budget = %v, want the %v default", p.budget, defaultBudget)
	}
}
