package processor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/internal/repository"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestProcessor(t *testing.T) (*Processor, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	desc := model.StoreDescriptor{Name: "queue", Dialect: model.DialectPostgres, QueryTimeout: 5 * time.Second}
	gw := gateway.NewWithDB(desc, db, sqlDB, logger.NewNop())
	repo := repository.New(gw)
	instance := model.WorkerInstance{ID: "inst-1", Host: "host-1", Flow: "ingest"}

	p := New(repo, instance, logger.NewNop())
	p.clock = fixedClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return p, mock
}

func TestCheckResultSizeWithinBound(t *testing.T) {
	if err := checkResultSize(model.Payload{"ok": true}); err != nil {
		t.Fatalf("expected small payload to pass the size check: %v", err)
	}
}

func TestCheckResultSizeOverBound(t *testing.T) {
	big := strings.Repeat("x", MaxResultPayloadBytes+10)
	err := checkResultSize(model.Payload{"blob": big})
	if err == nil {
		t.Fatalf("expected oversized payload to fail the size check")
	}
	if _, ok := err.(resultTooLargeError); !ok {
		t.Fatalf("expected resultTooLargeError, got %T", err)
	}
}

func TestCompleteOversizedResultRoutesToFail(t *testing.T) {
	p, mock := newTestProcessor(t)

	mock.ExpectQuery("SELECT .*status.* FROM .processing_queue.").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("processing"))
	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	big := strings.Repeat("x", MaxResultPayloadBytes+10)
	rec := model.QueueRecord{ID: 1, FlowName: "ingest"}
	err := p.Complete(context.Background(), rec, model.Payload{"blob": big})
	if err != nil {
		t.Fatalf("Complete should route an oversized result to mark_failed, not return it as an error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecoverOrphansLogsNothingWhenZero(t *testing.T) {
	p, mock := newTestProcessor(t)

	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := p.RecoverOrphans(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("RecoverOrphans: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 recovered, got %d", n)
	}
}
