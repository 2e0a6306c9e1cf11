package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nexusmem/graphrag/engine/domain"
)

// Diff lists the fields on which the hot and repository copies of a task
// disagree, per spec.md's reconciliation comparison set.
type Diff struct {
	Status          bool
	Version         bool
	ResultPresence  bool
	ErrorPresence   bool
	CompletedAt     bool
}

func (d Diff) any() bool {
	return d.Status || d.Version || d.ResultPresence || d.ErrorPresence || d.CompletedAt
}

// StateDesynchronizationError is raised when reconciliation itself fails
// (not merely detects a diff), carrying the diff that triggered it.
type StateDesynchronizationError struct {
	TaskID string
	Diff   Diff
	Cause  error
}

func (e *StateDesynchronizationError) Error() string {
	return fmt.Sprintf("tasks: reconcile %s: desynchronized (diff=%+v): %v", e.TaskID, e.Diff, e.Cause)
}

func (e *StateDesynchronizationError) Unwrap() error { return e.Cause }

// Metrics accumulates reconciliation outcomes for observability.
type Metrics struct {
	mu                sync.Mutex
	Total             int64
	Successes         int64
	Failures          int64
	totalDuration     time.Duration
	LastReconciledAt  time.Time
}

func (m *Metrics) record(d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Total++
	m.totalDuration += d
	m.LastReconciledAt = time.Now().UTC()
	if ok {
		m.Successes++
	} else {
		m.Failures++
	}
}

// AverageDuration returns the rolling mean reconciliation duration.
func (m *Metrics) AverageDuration() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Total == 0 {
		return 0
	}
	return m.totalDuration / time.Duration(m.Total)
}

// Reconciler detects and resolves divergence between a Manager's hot copy
// and its durable mirror.
type Reconciler struct {
	mgr      *Manager
	strategy domain.ReconcileStrategy
	metrics  *Metrics
}

// NewReconciler creates a Reconciler using strategy as its default
// authoritative-source policy.
func NewReconciler(mgr *Manager, strategy domain.ReconcileStrategy) *Reconciler {
	if strategy == "" {
		strategy = domain.ReconcileVersionBased
	}
	return &Reconciler{mgr: mgr, strategy: strategy, metrics: &Metrics{}}
}

// Metrics exposes the accumulated reconciliation counters.
func (r *Reconciler) Metrics() *Metrics { return r.metrics }

// diff computes field-level disagreement between the hot and repository
// copies of the same task id.
func diff(hot, repo domain.Task) Diff {
	return Diff{
		Status:         hot.Status != repo.Status,
		Version:        hot.Version != repo.Version,
		ResultPresence: (len(hot.Payload) > 0) != (len(repo.Payload) > 0),
		ErrorPresence:  (hot.Error != "") != (repo.Error != ""),
		CompletedAt:    hot.Status.Terminal() != repo.Status.Terminal(),
	}
}

// Reconcile fetches the repository copy for id, diffs it against the hot
// copy, and if they disagree resolves an authoritative source per the
// Reconciler's strategy, synchronizing the loser to match.
func (r *Reconciler) Reconcile(ctx context.Context, id string) (domain.Task, error) {
	start := time.Now()

	r.mgr.mu.Lock()
	hot, hasHot := r.mgr.hot[id]
	r.mgr.mu.Unlock()

	repoCopy, err := r.mgr.repo.Get(ctx, id)
	if err != nil {
		r.metrics.record(time.Since(start), false)
		return domain.Task{}, fmt.Errorf("tasks: reconcile %s: %w", id, err)
	}
	if !hasHot {
		r.mgr.mu.Lock()
		r.mgr.hot[id] = repoCopy
		r.mgr.mu.Unlock()
		r.metrics.record(time.Since(start), true)
		return repoCopy, nil
	}

	d := diff(hot, repoCopy)
	if !d.any() {
		r.metrics.record(time.Since(start), true)
		return hot, nil
	}

	authoritative, fromRepo := r.resolve(hot, repoCopy, d)
	if fromRepo {
		r.mgr.mu.Lock()
		r.mgr.hot[id] = authoritative
		r.mgr.mu.Unlock()
	} else {
		now := time.Now().UTC()
		if err := r.mgr.repo.CompareAndSwapStatus(ctx, id, repoCopy.Version, authoritative.Status, authoritative.Error, now); err != nil {
			r.metrics.record(time.Since(start), false)
			return domain.Task{}, &StateDesynchronizationError{TaskID: id, Diff: d, Cause: err}
		}
	}

	r.metrics.record(time.Since(start), true)
	return authoritative, nil
}

// resolve picks the authoritative task per strategy, reporting whether the
// repository copy won (so the caller knows which side to synchronize).
func (r *Reconciler) resolve(hot, repo domain.Task, d Diff) (domain.Task, bool) {
	switch r.strategy {
	case domain.ReconcileRepositoryFirst:
		return repo, true
	case domain.ReconcileMemoryFirst:
		return hot, false
	case domain.ReconcileStatusBased:
		hr, rr := statusRank(hot.Status), statusRank(repo.Status)
		if hr != rr {
			if hr > rr {
				return hot, false
			}
			return repo, true
		}
		fallthrough
	case domain.ReconcileVersionBased:
		fallthrough
	default:
		if hot.Version > repo.Version {
			return hot, false
		}
		return repo, true
	}
}

// statusRank orders statuses for status-based reconciliation:
// completed > {failed, dead_lettered} > running > pending.
func statusRank(s domain.TaskStatus) int {
	switch s {
	case domain.TaskSucceeded:
		return 3
	case domain.TaskFailed, domain.TaskDeadLettered:
		return 2
	case domain.TaskRunning:
		return 1
	default:
		return 0
	}
}

// SweepStale finds tasks stuck in status for longer than staleness and
// reconciles each, the periodic background job a cmd wires onto a ticker.
func (r *Reconciler) SweepStale(ctx context.Context, status domain.TaskStatus, staleness time.Duration) ([]domain.Task, error) {
	stale, err := r.mgr.repo.ListByStatus(ctx, status, time.Now().UTC().Add(-staleness))
	if err != nil {
		return nil, fmt.Errorf("tasks: sweep stale: %w", err)
	}
	out := make([]domain.Task, 0, len(stale))
	for _, t := range stale {
		reconciled, err := r.Reconcile(ctx, t.ID)
		if err != nil {
			continue
		}
		out = append(out, reconciled)
	}
	return out, nil
}
