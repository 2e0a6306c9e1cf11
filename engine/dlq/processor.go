// Package dlq is the Dead Letter Queue + Processor (C8): a thin layer over
// the relational DLQ table that supports operator-triggered replay (push
// a dead-lettered task's job back onto the enrichment queue) and the
// periodic retention sweep that archives old resolved entries.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nexusmem/graphrag/engine/domain"
	"github.com/nexusmem/graphrag/engine/enrich"
	"github.com/nexusmem/graphrag/engine/store/relational"
	"github.com/nexusmem/graphrag/pkg/natsutil"
)

// ArchiveAfter is how long a resolved entry sits before the retention
// sweep archives it.
const ArchiveAfter = 30 * 24 * time.Hour

// Processor operates on the dead-letter queue.
type Processor struct {
	repo *relational.DLQRepo
	nc   *nats.Conn
	log  *slog.Logger
}

// New creates a Processor.
func New(repo *relational.DLQRepo, nc *nats.Conn, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{repo: repo, nc: nc, log: log}
}

// Replay re-queues a dead-lettered task's job onto the enrichment subject
// and moves the entry into processing, the operator-triggered "try again"
// action. The entry reaches resolved only once the enrichment worker
// reports the retried task succeeded (Worker.succeed calls
// DLQRepo.ResolveByTaskID); a republish failure here reverts it to
// pending so a later replay attempt isn't blocked by a stuck processing
// entry.
func (p *Processor) Replay(ctx context.Context, id string) error {
	entry, err := p.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("dlq: replay %s: %w", id, err)
	}
	if entry.Status != domain.DLQPending {
		return fmt.Errorf("dlq: replay %s: %w", id, domain.ErrConflict)
	}
	if err := p.repo.UpdateStatus(ctx, id, domain.DLQProcessing); err != nil {
		return fmt.Errorf("dlq: replay %s: %w", id, err)
	}
	if err := natsutil.Publish(ctx, p.nc, enrich.EnrichSubject, enrich.Job{TaskID: entry.TaskID}); err != nil {
		if revertErr := p.repo.UpdateStatus(ctx, id, domain.DLQPending); revertErr != nil {
			p.log.Error("dlq: revert to pending after failed publish also failed", "error", revertErr, "id", id)
		}
		return fmt.Errorf("dlq: replay %s: publish: %w", id, err)
	}
	return nil
}

// Query lists entries per the filter/sort/paginate contract, delegated
// straight to the relational store.
func (p *Processor) Query(ctx context.Context, opts relational.DLQListOpts) ([]domain.DeadLetterEntry, error) {
	return p.repo.Query(ctx, opts)
}

// Stats reports per-status counts for a tenant's dashboard.
func (p *Processor) Stats(ctx context.Context, tenant domain.Tenant) (relational.DLQStats, error) {
	return p.repo.GetStats(ctx, tenant)
}

// Discard permanently deletes an entry (operator decided it's not worth
// replaying).
func (p *Processor) Discard(ctx context.Context, id string) error {
	return p.repo.Delete(ctx, id)
}

// RunRetentionSweep archives resolved entries older than ArchiveAfter;
// intended to run on a ticker from cmd/dlqproc.
func (p *Processor) RunRetentionSweep(ctx context.Context) (int64, error) {
	n, err := p.repo.ArchiveOldEntries(ctx, time.Now().UTC().Add(-ArchiveAfter))
	if err != nil {
		return 0, fmt.Errorf("dlq: retention sweep: %w", err)
	}
	if n > 0 {
		p.log.Info("dlq: archived old entries", "count", n)
	}
	return n, nil
}

// RunSweepLoop ticks RunRetentionSweep at interval until ctx is done.
func (p *Processor) RunSweepLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunRetentionSweep(ctx); err != nil {
				p.log.Error("dlq: sweep failed", "error", err)
			}
		}
	}
}
