// Package repository renders the SQL that implements the claim/complete/
// fail/cleanup protocol and executes it through a gateway.Gateway. No
// policy lives here — only typed operations — grounded on
// internal/data/repos/jobs/job_run.go's JobRunRepo, generalized from a
// single-job claim to a batch claim and from job_type to flow_name.
package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/dbctx"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/model"
)

// MaxBatchSize bounds a single claim_batch call to keep the claiming
// transaction short, clamping any larger requested batch size down to
// this default.
const MaxBatchSize = 1000

// QueueRepository is stateless beyond its Gateway reference; every method
// is safe to call concurrently from many goroutines sharing the same
// pool.
type QueueRepository struct {
	gw *gateway.Gateway
}

func New(gw *gateway.Gateway) *QueueRepository {
	return &QueueRepository{gw: gw}
}

// exec runs fn against the transaction dc carries if the caller already
// has one open (dc.Tx != nil), joining it rather than opening a second,
// independent one; otherwise it falls back to a fresh Gateway.Execute
// call with retry/breaker applied, which opens no transaction. This is
// what lets a caller
// like RequeueFailed run two repository operations as one atomic unit.
func (r *QueueRepository) exec(dc dbctx.Context, fn func(tx *gorm.DB) error) error {
	if dc.Tx != nil {
		return fn(dc.Resolve(r.gw.DB()))
	}
	return r.gw.Execute(dc.Ctx, fn)
}

// ClaimBatch selects up to batchSize pending rows for flowName ordered
// by created_at ascending (ties by id), skipping rows already locked by
// a concurrent claimer, and in the same transaction marks them
// processing under instanceID. Returns an empty slice (not an error) if
// no pending rows exist.
func (r *QueueRepository) ClaimBatch(dc dbctx.Context, flowName string, batchSize int, instanceID string, now time.Time) ([]model.QueueRecord, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	if batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	var claimed []model.QueueRecord
	dialect := r.gw.Descriptor().Dialect
	err := r.gw.Transaction(dc.Ctx, func(tx *gorm.DB) error {
		ids, err := selectCandidateIDs(tx, dialect, flowName, batchSize)
		if err != nil {
			return fmt.Errorf("select candidates: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}

		result := tx.Model(&model.QueueRecord{}).
			Where("id IN ? AND status = ?", ids, model.StatusPending).
			Updates(map[string]interface{}{
				"status":           model.StatusProcessing,
				"flow_instance_id": instanceID,
				"claimed_at":       now,
				"updated_at":       now,
			})
		if result.Error != nil {
			return fmt.Errorf("update candidates: %w", result.Error)
		}

		// Edge case: if the update affected fewer rows than
		// selected, the returned list reflects only the rows actually
		// updated. Re-read to pick up the authoritative post-update state
		// rather than mutating candidates in memory.
		var updated []model.QueueRecord
		if err := tx.Where("id IN ? AND status = ? AND flow_instance_id = ?",
			ids, model.StatusProcessing, instanceID).
			Order("created_at ASC, id ASC").
			Find(&updated).Error; err != nil {
			return fmt.Errorf("reread claimed rows: %w", err)
		}
		claimed = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// selectCandidateIDs renders the dialect-specific lock clause from
// gateway.ClaimLockClause. GORM's portable clause.Locking only targets
// engines that share Postgres/MySQL FOR UPDATE syntax; mssql needs a
// table hint instead, so this drops to raw SQL for the SELECT half of
// the claim and lets the ORM handle the dialect-agnostic UPDATE that
// follows in the same transaction.
func selectCandidateIDs(tx *gorm.DB, dialect model.Dialect, flowName string, batchSize int) ([]int64, error) {
	lock := gateway.ClaimLockClause(dialect)

	var sqlText string
	switch dialect {
	case model.DialectMSSQL:
		sqlText = fmt.Sprintf(
			`SELECT TOP (?) id FROM processing_queue %s WHERE flow_name = ? AND status = ? ORDER BY created_at ASC, id ASC`,
			lock)
		var ids []int64
		if err := tx.Raw(sqlText, batchSize, flowName, model.StatusPending).Scan(&ids).Error; err != nil {
			return nil, err
		}
		return ids, nil
	default:
		sqlText = fmt.Sprintf(
			`SELECT id FROM processing_queue WHERE flow_name = ? AND status = ? ORDER BY created_at ASC, id ASC LIMIT ? %s`,
			lock)
		var ids []int64
		if err := tx.Raw(sqlText, flowName, model.StatusPending, batchSize).Scan(&ids).Error; err != nil {
			return nil, err
		}
		return ids, nil
	}
}

// MarkCompleted sets status=completed, completed_at=now,
// payload=merge(payload, {"result": result}), updated_at=now. A
// single-row update under the row's own lock; no batch transaction
// required. Only applies from status=processing — a record already
// completed or failed rejects the transition instead of reapplying it.
func (r *QueueRepository) MarkCompleted(dc dbctx.Context, id int64, result model.Payload, now time.Time) error {
	return r.exec(dc, func(tx *gorm.DB) error {
		var rec model.QueueRecord
		if err := tx.Select("payload", "status").Where("id = ?", id).First(&rec).Error; err != nil {
			return fmt.Errorf("read payload for merge: %w", err)
		}
		merged := rec.Payload.Merge("result", map[string]interface{}(result))

		res := tx.Model(&model.QueueRecord{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":       model.StatusCompleted,
				"completed_at": now,
				"payload":      merged,
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark completed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierr.StoreError("mark_completed",
				fmt.Errorf("record %d is not processing (status=%s); repeat transitions are rejected, not reapplied", id, rec.Status))
		}
		return nil
	})
}

// MarkFailed sets status=failed, completed_at=now,
// error_message=truncate(error, 4 KiB), retry_count=retry_count+1,
// updated_at=now. Like MarkCompleted, only applies from
// status=processing; a repeat call on an already-final record is
// rejected rather than silently incrementing retry_count again.
func (r *QueueRepository) MarkFailed(dc dbctx.Context, id int64, errMsg string, now time.Time) error {
	truncated := model.TruncateErrorMessage(errMsg)
	return r.exec(dc, func(tx *gorm.DB) error {
		var rec model.QueueRecord
		if err := tx.Select("status").Where("id = ?", id).First(&rec).Error; err != nil {
			return fmt.Errorf("read status before mark failed: %w", err)
		}

		res := tx.Model(&model.QueueRecord{}).
			Where("id = ? AND status = ?", id, model.StatusProcessing).
			Updates(map[string]interface{}{
				"status":        model.StatusFailed,
				"completed_at":  now,
				"error_message": truncated,
				"retry_count":   gorm.Expr("retry_count + 1"),
				"updated_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("mark failed: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apierr.StoreError("mark_failed",
				fmt.Errorf("record %d is not processing (status=%s); repeat transitions are rejected, not reapplied", id, rec.Status))
		}
		return nil
	})
}

// ResetOrphaned resets every row in processing with claimed_at older
// than beforeTs back to pending, incrementing retry_count.
// Idempotent: running it twice in succession is identical to running it
// once (modulo timing), since the second run finds no rows matching the
// WHERE clause that the first run already reset.
func (r *QueueRepository) ResetOrphaned(dc dbctx.Context, beforeTs time.Time, now time.Time) (int64, error) {
	var count int64
	err := r.exec(dc, func(tx *gorm.DB) error {
		res := tx.Model(&model.QueueRecord{}).
			Where("status = ? AND claimed_at < ?", model.StatusProcessing, beforeTs).
			Updates(map[string]interface{}{
				"status":           model.StatusPending,
				"flow_instance_id": nil,
				"claimed_at":       nil,
				"retry_count":      gorm.Expr("retry_count + 1"),
				"updated_at":       now,
			})
		if res.Error != nil {
			return fmt.Errorf("reset orphaned: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

// ResetFailed promotes failed records with retry_count < maxRetries
// back to pending, clearing completed_at and error_message. Records at
// or beyond maxRetries remain failed for out-of-band triage.
func (r *QueueRepository) ResetFailed(dc dbctx.Context, flowName string, maxRetries int, now time.Time) (int64, error) {
	var count int64
	err := r.exec(dc, func(tx *gorm.DB) error {
		res := tx.Model(&model.QueueRecord{}).
			Where("flow_name = ? AND status = ? AND retry_count < ?", flowName, model.StatusFailed, maxRetries).
			Updates(map[string]interface{}{
				"status":        model.StatusPending,
				"completed_at":  nil,
				"error_message": nil,
				"updated_at":    now,
			})
		if res.Error != nil {
			return fmt.Errorf("reset failed: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

// RequeueFailed runs ResetFailed and CountsByStatus as one caller-managed
// transaction, so the returned counts reflect exactly the rows this call
// reset rather than a separate round trip that could race with a
// concurrent claim or another requeue. Both inner calls are handed a
// dbctx.Context carrying the same *gorm.DB transaction via dc.Tx, so
// they join it through exec/Resolve instead of each opening their own.
func (r *QueueRepository) RequeueFailed(ctx context.Context, flowName string, maxRetries int, now time.Time) (int64, StatusCounts, error) {
	var requeued int64
	var counts StatusCounts
	err := r.gw.Transaction(ctx, func(tx *gorm.DB) error {
		dc := dbctx.Context{Ctx: ctx, Tx: tx}
		n, err := r.ResetFailed(dc, flowName, maxRetries, now)
		if err != nil {
			return err
		}
		requeued = n
		c, err := r.CountsByStatus(dc, flowName)
		if err != nil {
			return err
		}
		counts = c
		return nil
	})
	return requeued, counts, err
}

// InsertPending inserts new pending records, mostly useful for tests and
// for a seeder that shares this binary's migration/connection config;
// production seeding of the queue is expected to happen externally.
func (r *QueueRepository) InsertPending(dc dbctx.Context, flowName string, payloads []model.Payload, now time.Time) (int64, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	records := make([]model.QueueRecord, len(payloads))
	for i, p := range payloads {
		records[i] = model.QueueRecord{
			FlowName:  flowName,
			Payload:   p,
			Status:    model.StatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	var count int64
	err := r.exec(dc, func(tx *gorm.DB) error {
		res := tx.Create(&records)
		if res.Error != nil {
			return fmt.Errorf("insert pending: %w", res.Error)
		}
		count = res.RowsAffected
		return nil
	})
	return count, err
}

// StatusCounts is the result of CountsByStatus.
type StatusCounts map[model.Status]int64

// CountsByStatus counts records per status, optionally scoped to a
// single flow. An empty flowName counts across all flows.
func (r *QueueRepository) CountsByStatus(dc dbctx.Context, flowName string) (StatusCounts, error) {
	type row struct {
		Status model.Status
		Count  int64
	}
	var rows []row
	err := r.exec(dc, func(tx *gorm.DB) error {
		q := tx.Model(&model.QueueRecord{}).Select("status, count(*) as count").Group("status")
		if flowName != "" {
			q = q.Where("flow_name = ?", flowName)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	counts := StatusCounts{}
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

// CountsByFlow returns per-flow counts for every status, used by the
// Health Surface's "by_flow" breakdown.
func (r *QueueRepository) CountsByFlow(dc dbctx.Context) (map[string]model.FlowCounts, error) {
	type row struct {
		FlowName string
		Status   model.Status
		Count    int64
	}
	var rows []row
	err := r.exec(dc, func(tx *gorm.DB) error {
		return tx.Model(&model.QueueRecord{}).
			Select("flow_name, status, count(*) as count").
			Group("flow_name, status").
			Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}

	out := map[string]model.FlowCounts{}
	for _, r := range rows {
		fc := out[r.FlowName]
		switch r.Status {
		case model.StatusPending:
			fc.Pending = r.Count
		case model.StatusProcessing:
			fc.Processing = r.Count
		case model.StatusFailed:
			fc.Failed = r.Count
		case model.StatusCompleted:
			fc.Completed = r.Count
		}
		out[r.FlowName] = fc
	}
	return out, nil
}
