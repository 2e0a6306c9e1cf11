package retry

import (
	"testing"
	"time"

	"github.com/nexusmem/graphrag/engine/domain"
)

func TestNewBudgetManagerAppliesDefaultsForZeroValues(t *testing.T) {
	b := NewBudgetManager(0, 0)
	now := time.Now().UTC()
	budget := b.NewBudget(now)

	if budget.MaxAttempts != DefaultMaxAttempts {
		t.Fatalf("expected default max attempts %d, got %d", DefaultMaxAttempts, budget.MaxAttempts)
	}
	if !budget.Deadline.Equal(now.Add(DefaultDeadlineWindow)) {
		t.Fatalf("expected default deadline window, got deadline %v", budget.Deadline)
	}
}

func TestBudgetManagerExhaustedByAttempts(t *testing.T) {
	b := NewBudgetManager(3, time.Hour)
	now := time.Now().UTC()
	budget := b.NewBudget(now)
	budget.AttemptsSoFar = 3

	if !b.Exhausted(budget, now) {
		t.Fatal("expected budget exhausted once attempts reach the ceiling")
	}
}

func TestBudgetManagerExhaustedByDeadline(t *testing.T) {
	b := NewBudgetManager(10, time.Minute)
	now := time.Now().UTC()
	budget := b.NewBudget(now)

	if b.Exhausted(budget, now) {
		t.Fatal("expected fresh budget to not be exhausted")
	}
	if !b.Exhausted(budget, now.Add(2*time.Minute)) {
		t.Fatal("expected budget exhausted once past the deadline")
	}
}

func TestNextDelayImmediateAndNone(t *testing.T) {
	if d := NextDelay(domain.RetryImmediate, 1); d != 0 {
		t.Fatalf("expected zero delay for immediate strategy, got %v", d)
	}
	if d := NextDelay(domain.RetryNone, 1); d != -1 {
		t.Fatalf("expected sentinel -1 delay for none strategy, got %v", d)
	}
}

func TestNextDelayLinearGrowsWithAttemptAndCaps(t *testing.T) {
	d1 := NextDelay(domain.RetryLinear, 1)
	d2 := NextDelay(domain.RetryLinear, 2)
	if d2 <= d1 {
		t.Fatalf("expected linear delay to grow with attempt, got d1=%v d2=%v", d1, d2)
	}
	capped := NextDelay(domain.RetryLinear, 1000)
	if capped != maxBackoff {
		t.Fatalf("expected linear delay capped at %v, got %v", maxBackoff, capped)
	}
}

func TestNextDelayExponentialGrowsAndCaps(t *testing.T) {
	d1 := NextDelay(domain.RetryExponential, 1)
	if d1 < baseBackoff || d1 > baseBackoff+baseBackoff/4 {
		t.Fatalf("expected first exponential delay near base backoff with jitter, got %v", d1)
	}
	capped := NextDelay(domain.RetryExponential, 1000)
	if capped < maxBackoff || capped > maxBackoff+maxBackoff/4 {
		t.Fatalf("expected exponential delay capped near %v, got %v", maxBackoff, capped)
	}
}
