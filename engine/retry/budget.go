package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/nexusmem/graphrag/engine/domain"
)

// DefaultMaxAttempts and DefaultDeadlineWindow bound a task's retry budget
// when the caller doesn't supply its own policy.
const (
	DefaultMaxAttempts    = 5
	DefaultDeadlineWindow = 15 * time.Minute
)

// baseBackoff and maxBackoff bound the exponential/linear wait computed
// between attempts.
const (
	baseBackoff = 2 * time.Second
	maxBackoff  = 2 * time.Minute
)

// BudgetManager enforces a per-task retry ceiling: a maximum attempt
// count and a wall-clock deadline, whichever is hit first.
type BudgetManager struct {
	maxAttempts int
	window      time.Duration
}

// NewBudgetManager creates a BudgetManager with the given ceiling.
func NewBudgetManager(maxAttempts int, window time.Duration) *BudgetManager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultDeadlineWindow
	}
	return &BudgetManager{maxAttempts: maxAttempts, window: window}
}

// NewBudget opens a fresh budget for a task starting now.
func (b *BudgetManager) NewBudget(now time.Time) domain.RetryBudget {
	return domain.RetryBudget{
		MaxAttempts:   b.maxAttempts,
		Deadline:      now.Add(b.window),
		AttemptsSoFar: 0,
	}
}

// Exhausted reports whether budget has no attempts left, delegating to
// the domain invariant.
func (b *BudgetManager) Exhausted(budget domain.RetryBudget, now time.Time) bool {
	return budget.Exhausted(now)
}

// NextDelay computes the wait before the next attempt for the given
// strategy and attempt number (1-indexed: the delay before attempt N+1).
func NextDelay(strategy domain.RetryStrategy, attempt int) time.Duration {
	switch strategy {
	case domain.RetryImmediate:
		return 0
	case domain.RetryNone:
		return -1 // sentinel: caller must not retry
	case domain.RetryLinear:
		d := time.Duration(attempt) * baseBackoff
		return capBackoff(d)
	case domain.RetryExponential:
		fallthrough
	default:
		// Cap in float64 before converting: a large attempt would overflow
		// time.Duration and slip past capBackoff as a negative value.
		f := float64(baseBackoff) * math.Pow(2, float64(attempt-1))
		d := maxBackoff
		if f < float64(maxBackoff) {
			d = time.Duration(f)
		}
		jitter := time.Duration(rand.Int63n(int64(d/4) + 1))
		return d + jitter
	}
}

func capBackoff(d time.Duration) time.Duration {
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}
