package domain

import "time"

// ErrorClass buckets a failure for the retry analyzer's strategy choice.
type ErrorClass string

const (
	ErrorClassTransient   ErrorClass = "transient"
	ErrorClassRateLimited ErrorClass = "rate_limited"
	ErrorClassPermanent   ErrorClass = "permanent"
	ErrorClassUnknown     ErrorClass = "unknown"
)

// ErrorPattern is a recognized failure signature the Retry Analyzer (C6)
// matches incoming errors against to pick a backoff strategy.
type ErrorPattern struct {
	ID          string     `json:"id"`
	Match       string     `json:"match"`
	Class       ErrorClass `json:"class"`
	Strategy    RetryStrategy `json:"strategy"`
	Occurrences int        `json:"occurrences"`
	LastSeen    time.Time  `json:"lastSeen"`
}

// RetryStrategy names a backoff shape chosen for an error class.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
	RetryImmediate   RetryStrategy = "immediate"
	RetryNone        RetryStrategy = "none"
)

// RetryAttempt records one execution of a retried operation.
type RetryAttempt struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"taskId"`
	Attempt    int        `json:"attempt"`
	Strategy   RetryStrategy `json:"strategy"`
	Error      string     `json:"error,omitempty"`
	Class      ErrorClass `json:"class"`
	AttemptedAt time.Time `json:"attemptedAt"`
	NextAt     *time.Time `json:"nextAt,omitempty"`
}

// RetryBudget is the in-memory ceiling the Budget Manager (C7) enforces
// per task: a maximum attempt count and a wall-clock deadline, whichever
// is exhausted first.
type RetryBudget struct {
	MaxAttempts   int
	Deadline      time.Time
	AttemptsSoFar int
}

// Exhausted reports whether the budget has been used up.
func (b RetryBudget) Exhausted(now time.Time) bool {
	if b.AttemptsSoFar >= b.MaxAttempts {
		return true
	}
	return !b.Deadline.IsZero() && now.After(b.Deadline)
}

// DLQStatus is the lifecycle state of a DeadLetterEntry.
type DLQStatus string

const (
	DLQPending    DLQStatus = "pending"
	DLQProcessing DLQStatus = "processing"
	DLQResolved   DLQStatus = "resolved"
	DLQArchived   DLQStatus = "archived"
)

// DeadLetterEntry is a task that exhausted its retry budget, held for
// operator inspection or replay (C8).
type DeadLetterEntry struct {
	ID          string         `json:"id" db:"id"`
	TaskID      string         `json:"taskId" db:"task_id"`
	Tenant      Tenant         `json:"tenant"`
	Payload     map[string]any `json:"payload" db:"-"`
	LastError   string         `json:"lastError" db:"last_error"`
	Attempts    int            `json:"attempts" db:"attempts"`
	Status      DLQStatus      `json:"status" db:"status"`
	CreatedAt   time.Time      `json:"createdAt" db:"created_at"`
	ResolvedAt  *time.Time     `json:"resolvedAt,omitempty" db:"resolved_at"`
}
