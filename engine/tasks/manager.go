// Package tasks implements the Task Manager + State Reconciler (C9): an
// in-memory hot copy of task state backed by the relational store as the
// durable mirror, with a reconciler that resolves divergence between the
// two by a configurable strategy.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/store/relational"
)

// Manager owns the hot in-memory map and serializes mutations per task id.
type Manager struct {
	repo *relational.TaskRepo

	mu   sync.Mutex
	hot  map[string]domain.Task
	locks map[string]*sync.Mutex
}

// New creates a Manager backed by repo.
func New(repo *relational.TaskRepo) *Manager {
	return &Manager{
		repo:  repo,
		hot:   make(map[string]domain.Task),
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Create starts a task: persists it durably, then seeds the hot copy.
func (m *Manager) Create(ctx context.Context, tenant domain.Tenant, kind domain.TaskKind, payload map[string]any) (domain.Task, error) {
	now := time.Now().UTC()
	t := domain.Task{
		ID:        uuid.NewString(),
		Tenant:    tenant,
		Kind:      kind,
		Status:    domain.TaskPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := m.repo.Create(ctx, t)
	if err != nil {
		return domain.Task{}, fmt.Errorf("tasks: create: %w", err)
	}
	m.mu.Lock()
	m.hot[created.ID] = created
	m.mu.Unlock()
	return created, nil
}

// Transition mutates a task's status: updates the repository with a
// version increment, then advances the hot copy to match, the sequence
// spec.md's Task Manager describes. Concurrent calls for the same id
// serialize behind a per-task lock.
func (m *Manager) Transition(ctx context.Context, id string, to domain.TaskStatus, taskErr string) (domain.Task, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	current, known := m.hot[id]
	m.mu.Unlock()
	if !known {
		repoCopy, err := m.repo.Get(ctx, id)
		if err != nil {
			return domain.Task{}, fmt.Errorf("tasks: transition %s: %w", id, err)
		}
		current = repoCopy
	}

	now := time.Now().UTC()
	if err := m.repo.CompareAndSwapStatus(ctx, id, current.Version, to, taskErr, now); err != nil {
		return domain.Task{}, fmt.Errorf("tasks: transition %s: %w", id, err)
	}

	current.Status = to
	current.Version++
	current.Error = taskErr
	current.UpdatedAt = now

	m.mu.Lock()
	m.hot[id] = current
	m.mu.Unlock()
	return current, nil
}

// Get returns the hot copy if known, otherwise falls back to the
// repository (e.g. after a process restart with an empty hot map).
func (m *Manager) Get(ctx context.Context, id string) (domain.Task, error) {
	m.mu.Lock()
	t, ok := m.hot[id]
	m.mu.Unlock()
	if ok {
		return t, nil
	}
	return m.repo.Get(ctx, id)
}

// Evict drops a task from the hot map, e.g. once its owning worker has
// long since confirmed the terminal state durably.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	delete(m.hot, id)
	delete(m.locks, id)
	m.mu.Unlock()
}
