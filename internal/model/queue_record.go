// Package model holds the plain data types shared across the gateway,
// repository, processor, worker, and health packages: QueueRecord (the
// unit of work), Payload (its JSON document), WorkerInstance (identity),
// and StoreDescriptor (one database connection's static shape).
package model

import (
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// QueueRecord is the processing_queue row. TableName mirrors how
// domain models elsewhere in this codebase (internal/domain/jobs/job_run.go)
// each pin their GORM table name explicitly rather than rely on
// pluralization.
type QueueRecord struct {
	ID             int64      `gorm:"column:id;primaryKey;autoIncrement"`
	FlowName       string     `gorm:"column:flow_name;not null"`
	Payload        Payload    `gorm:"column:payload;type:jsonb;not null"`
	Status         Status     `gorm:"column:status;not null;default:pending"`
	FlowInstanceID *string    `gorm:"column:flow_instance_id"`
	ClaimedAt      *time.Time `gorm:"column:claimed_at"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
	ErrorMessage   *string    `gorm:"column:error_message"`
	RetryCount     int        `gorm:"column:retry_count;not null;default:0"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;not null"`
}

func (QueueRecord) TableName() string { return "processing_queue" }

// IsOrphanable reports whether the record is processing and has been
// claimed longer than timeout ago as of now.
func (r QueueRecord) IsOrphanable(now time.Time, timeout time.Duration) bool {
	if r.Status != StatusProcessing || r.ClaimedAt == nil {
		return false
	}
	return r.ClaimedAt.Before(now.Add(-timeout))
}

// MaxErrorMessageBytes bounds mark_failed's stored error text to 4 KiB.
const MaxErrorMessageBytes = 4 * 1024

// TruncateErrorMessage clamps msg to MaxErrorMessageBytes (byte-oriented,
// not rune-aware — a multi-byte rune straddling the boundary may be cut;
// error_message is treated as free text rather than guaranteed-valid
// UTF-8 after truncation).
func TruncateErrorMessage(msg string) string {
	if len(msg) <= MaxErrorMessageBytes {
		return msg
	}
	return msg[:MaxErrorMessageBytes]
}
