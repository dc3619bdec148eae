// Package processor enforces the claim/complete/fail/cleanup protocol
// on top of internal/repository, adding the process-wide instance
// identity and the size/isolation invariants the repository layer
// itself does not police.
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/qflowio/queueworker/internal/dbctx"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/internal/repository"
)

// MaxResultPayloadBytes bounds the JSON size of the result handed to
// mark_completed (the result alone, not the payload it is merged into) so one
// misbehaving flow cannot bloat processing_queue unbounded; see
// DESIGN.md for why 1 MiB was chosen.
const MaxResultPayloadBytes = 1 << 20

// Clock lets tests substitute a fixed time source; production code uses
// realClock (time.Now).
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Processor owns a single WorkerInstance identity and enforces the
// core's invariants on top of the repository's typed, stateless
// operations.
type Processor struct {
	repo     *repository.QueueRepository
	instance model.WorkerInstance
	log      *logger.Logger
	clock    Clock
}

func New(repo *repository.QueueRepository, instance model.WorkerInstance, log *logger.Logger) *Processor {
	return &Processor{
		repo:     repo,
		instance: instance,
		log:      log.With("component", "processor", "instance", instance.ID),
		clock:    realClock{},
	}
}

// Instance returns the WorkerInstance this processor claims under.
func (p *Processor) Instance() model.WorkerInstance { return p.instance }

// ClaimBatch claims up to batchSize pending records for flowName under
// this processor's instance identity.
func (p *Processor) ClaimBatch(ctx context.Context, flowName string, batchSize int) ([]model.QueueRecord, error) {
	now := p.clock.Now()
	records, err := p.repo.ClaimBatch(dbctx.Background(ctx), flowName, batchSize, p.instance.ID, now)
	if err != nil {
		return nil, err
	}
	p.log.Debug("claimed batch", "flow", flowName, "requested", batchSize, "claimed", len(records))
	return records, nil
}

// Complete applies mark_completed with the result-size invariant
// enforced. A result whose own JSON encoding exceeds MaxResultPayloadBytes
// is itself treated as a business-logic failure rather than silently
// truncated, since dropping data from a caller's own result is a worse
// failure mode than surfacing it as mark_failed.
func (p *Processor) Complete(ctx context.Context, rec model.QueueRecord, result model.Payload) error {
	if err := checkResultSize(result); err != nil {
		return p.Fail(ctx, rec, err)
	}
	now := p.clock.Now()
	return p.repo.MarkCompleted(dbctx.Background(ctx), rec.ID, result, now)
}

// Fail applies mark_failed, truncating the error message to 4 KiB as the
// repository layer enforces.
func (p *Processor) Fail(ctx context.Context, rec model.QueueRecord, cause error) error {
	now := p.clock.Now()
	return p.repo.MarkFailed(dbctx.Background(ctx), rec.ID, cause.Error(), now)
}

// RecoverOrphans resets every record stuck in processing longer than
// timeout back to pending.
func (p *Processor) RecoverOrphans(ctx context.Context, timeout time.Duration) (int64, error) {
	now := p.clock.Now()
	before := now.Add(-timeout)
	count, err := p.repo.ResetOrphaned(dbctx.Background(ctx), before, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		p.log.Info("recovered orphaned records", "count", count, "before", before)
	}
	return count, nil
}

// RetryFailed runs reset_failed for flowName, then reads back the
// post-reset status counts in the same transaction via
// repository.RequeueFailed, so the logged snapshot can never be stale
// relative to the rows this call just reset.
func (p *Processor) RetryFailed(ctx context.Context, flowName string, maxRetries int) (int64, error) {
	now := p.clock.Now()
	count, counts, err := p.repo.RequeueFailed(ctx, flowName, maxRetries, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		p.log.Info("requeued failed records", "count", count, "flow", flowName,
			"pending", counts[model.StatusPending], "failed", counts[model.StatusFailed])
	}
	return count, nil
}

// CountsByStatus exposes the repository's queue snapshot for the Health
// Surface.
func (p *Processor) CountsByStatus(ctx context.Context, flowName string) (repository.StatusCounts, error) {
	return p.repo.CountsByStatus(dbctx.Background(ctx), flowName)
}

// CountsByFlow exposes the per-flow breakdown for the Health Surface.
func (p *Processor) CountsByFlow(ctx context.Context) (map[string]model.FlowCounts, error) {
	return p.repo.CountsByFlow(dbctx.Background(ctx))
}

func checkResultSize(result model.Payload) error {
	b, err := result.AsDatatypesJSON()
	if err != nil {
		return err
	}
	if len(b) > MaxResultPayloadBytes {
		return resultTooLargeError{size: len(b)}
	}
	return nil
}

type resultTooLargeError struct{ size int }

func (e resultTooLargeError) Error() string {
	return fmt.Sprintf("result payload of %d bytes exceeds maximum of %d bytes", e.size, MaxResultPayloadBytes)
}
