package tasks

import (
	"testing"
	"time"

	"github.com/nexusmem/graphrag/engine/domain"
)

func TestDiffDetectsStatusAndVersionDivergence(t *testing.T) {
	hot := domain.Task{Status: domain.TaskRunning, Version: 2}
	repo := domain.Task{Status: domain.TaskSucceeded, Version: 3}

	d := diff(hot, repo)
	if !d.Status || !d.Version || !d.CompletedAt {
		t.Fatalf("expected status/version/completedAt diffs, got %+v", d)
	}
	if !d.any() {
		t.Fatal("expected Diff.any() true")
	}
}

func TestDiffAgreesWhenIdentical(t *testing.T) {
	task := domain.Task{Status: domain.TaskPending, Version: 1}
	d := diff(task, task)
	if d.any() {
		t.Fatalf("expected no diff for identical tasks, got %+v", d)
	}
}

func TestStatusRankOrdering(t *testing.T) {
	cases := []struct {
		status domain.TaskStatus
		rank   int
	}{
		{domain.TaskPending, 0},
		{domain.TaskRunning, 1},
		{domain.TaskFailed, 2},
		{domain.TaskDeadLettered, 2},
		{domain.TaskSucceeded, 3},
	}
	for _, c := range cases {
		if got := statusRank(c.status); got != c.rank {
			t.Fatalf("statusRank(%s) = %d, want %d", c.status, got, c.rank)
		}
	}
}

func TestResolveVersionBasedPrefersHigherVersion(t *testing.T) {
	r := &Reconciler{strategy: domain.ReconcileVersionBased}
	hot := domain.Task{Version: 5}
	repo := domain.Task{Version: 3}

	winner, fromRepo := r.resolve(hot, repo, Diff{Version: true})
	if fromRepo {
		t.Fatal("expected hot copy to win on higher version")
	}
	if winner.Version != 5 {
		t.Fatalf("expected winner version 5, got %d", winner.Version)
	}
}

func TestResolveVersionBasedTiesGoToRepository(t *testing.T) {
	r := &Reconciler{strategy: domain.ReconcileVersionBased}
	hot := domain.Task{Version: 3, Status: domain.TaskRunning}
	repo := domain.Task{Version: 3, Status: domain.TaskSucceeded}

	winner, fromRepo := r.resolve(hot, repo, Diff{Status: true})
	if !fromRepo {
		t.Fatal("expected repository to win a version tie")
	}
	if winner.Status != domain.TaskSucceeded {
		t.Fatalf("expected repo status to win, got %s", winner.Status)
	}
}

func TestResolveStatusBasedPrefersHigherRank(t *testing.T) {
	r := &Reconciler{strategy: domain.ReconcileStatusBased}
	hot := domain.Task{Status: domain.TaskSucceeded, Version: 1}
	repo := domain.Task{Status: domain.TaskRunning, Version: 2}

	winner, fromRepo := r.resolve(hot, repo, Diff{Status: true})
	if fromRepo {
		t.Fatal("expected hot (succeeded) to win over repo (running) regardless of version")
	}
	if winner.Status != domain.TaskSucceeded {
		t.Fatalf("expected succeeded to win, got %s", winner.Status)
	}
}

func TestResolveRepositoryFirstAlwaysWinsRepo(t *testing.T) {
	r := &Reconciler{strategy: domain.ReconcileRepositoryFirst}
	hot := domain.Task{Version: 99}
	repo := domain.Task{Version: 1}

	_, fromRepo := r.resolve(hot, repo, Diff{Version: true})
	if !fromRepo {
		t.Fatal("expected repository_first strategy to always prefer the repo copy")
	}
}

func TestResolveMemoryFirstAlwaysWinsHot(t *testing.T) {
	r := &Reconciler{strategy: domain.ReconcileMemoryFirst}
	hot := domain.Task{Version: 1}
	repo := domain.Task{Version: 99}

	_, fromRepo := r.resolve(hot, repo, Diff{Version: true})
	if fromRepo {
		t.Fatal("expected memory_first strategy to always prefer the hot copy")
	}
}

func TestMetricsAccumulatesAndAverages(t *testing.T) {
	m := &Metrics{}
	m.record(10*time.Millisecond, true)
	m.record(30*time.Millisecond, false)

	if m.Total != 2 || m.Successes != 1 || m.Failures != 1 {
		t.Fatalf("expected total=2 success=1 failure=1, got %+v", m)
	}
	if avg := m.AverageDuration(); avg != 20*time.Millisecond {
		t.Fatalf("expected average 20ms, got %v", avg)
	}
}

func TestStateDesynchronizationErrorUnwraps(t *testing.T) {
	cause := domain.ErrConflict
	err := &StateDesynchronizationError{TaskID: "t-1", Diff: Diff{Status: true}, Cause: cause}
	if err.Error() == "" {
		t.Fatal("expected non-empty error message")
	}
	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Fatalf("expected Unwrap to return cause, got %v", unwrapped)
	}
}
