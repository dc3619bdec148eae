package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"

	"github.com/qflowio/queueworker/internal/dbctx"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

func newTestRepo(t *testing.T, dialect model.Dialect) (*QueueRepository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	var dialector gorm.Dialector
	switch dialect {
	case model.DialectMSSQL:
		dialector = sqlserver.New(sqlserver.Config{Conn: sqlDB})
	default:
		dialector = postgres.New(postgres.Config{Conn: sqlDB})
	}

	db, err := gorm.Open(dialector, &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}

	desc := model.StoreDescriptor{Name: "queue", Dialect: dialect, QueryTimeout: 5 * time.Second}
	gw := gateway.NewWithDB(desc, db, sqlDB, logger.NewNop())
	return New(gw), mock
}

func TestClaimBatchPostgresNoPendingRows(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM processing_queue").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	got, err := repo.ClaimBatch(dbctx.Background(nil), "ingest", 10, "inst-1", time.Now())
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no claimed rows, got %d", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimBatchMSSQLUsesTopAndTableHint(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectMSSQL)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT TOP .* processing_queue .*READPAST").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	got, err := repo.ClaimBatch(dbctx.Background(nil), "ingest", 10, "inst-1", time.Now())
	if err != nil {
		t.Fatalf("ClaimBatch: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no claimed rows, got %d", len(got))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestClaimBatchZeroOrNegativeReturnsEmpty(t *testing.T) {
	repo, _ := newTestRepo(t, model.DialectPostgres)

	got, err := repo.ClaimBatch(dbctx.Background(nil), "ingest", 0, "inst-1", time.Now())
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for batchSize 0, got (%v, %v)", got, err)
	}
}

func TestMarkCompletedMergesPayload(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	rows := sqlmock.NewRows([]string{"payload", "status"}).AddRow(`{"input":"x"}`, "processing")
	mock.ExpectQuery("SELECT .*payload.* FROM .processing_queue.").WillReturnRows(rows)
	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkCompleted(dbctx.Background(nil), 1, model.Payload{"status": "ok"}, time.Now())
	if err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkCompletedRejectsAlreadyFinalRecord(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	rows := sqlmock.NewRows([]string{"payload", "status"}).AddRow(`{"input":"x"}`, "completed")
	mock.ExpectQuery("SELECT .*payload.* FROM .processing_queue.").WillReturnRows(rows)
	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkCompleted(dbctx.Background(nil), 1, model.Payload{"status": "ok"}, time.Now())
	if err == nil {
		t.Fatalf("expected an error for a record already past processing")
	}
}

func TestMarkFailedNotFoundReturnsError(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectQuery("SELECT .*status.* FROM .processing_queue.").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := repo.MarkFailed(dbctx.Background(nil), 999, "boom", time.Now())
	if err == nil {
		t.Fatalf("expected error for a record that does not exist")
	}
}

func TestMarkFailedRejectsAlreadyFinalRecord(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectQuery("SELECT .*status.* FROM .processing_queue.").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("failed"))
	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkFailed(dbctx.Background(nil), 1, "boom again", time.Now())
	if err == nil {
		t.Fatalf("expected an error for a record already past processing")
	}
}

func TestResetOrphanedReturnsAffectedCount(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.ResetOrphaned(dbctx.Background(nil), time.Now().Add(-time.Hour), time.Now())
	if err != nil {
		t.Fatalf("ResetOrphaned: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows reset, got %d", n)
	}
}

func TestResetFailedReturnsAffectedCount(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.ResetFailed(dbctx.Background(nil), "ingest", 5, time.Now())
	if err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows reset, got %d", n)
	}
}

func TestRequeueFailedJoinsSingleTransaction(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE .processing_queue.").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT status, count.*FROM .processing_queue.").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 2).
			AddRow("failed", 1))
	mock.ExpectCommit()

	n, counts, err := repo.RequeueFailed(context.Background(), "ingest", 5, time.Now())
	if err != nil {
		t.Fatalf("RequeueFailed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows requeued, got %d", n)
	}
	if counts[model.StatusPending] != 2 || counts[model.StatusFailed] != 1 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertPendingEmptyIsNoop(t *testing.T) {
	repo, _ := newTestRepo(t, model.DialectPostgres)

	n, err := repo.InsertPending(dbctx.Background(nil), "ingest", nil, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil) for empty payload list, got (%d, %v)", n, err)
	}
}

func TestCountsByStatusAggregatesRows(t *testing.T) {
	repo, mock := newTestRepo(t, model.DialectPostgres)

	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("pending", 4).
		AddRow("processing", 2)
	mock.ExpectQuery("SELECT status, count.*FROM .processing_queue.").WillReturnRows(rows)

	counts, err := repo.CountsByStatus(dbctx.Background(nil), "")
	if err != nil {
		t.Fatalf("CountsByStatus: %v", err)
	}
	if counts[model.StatusPending] != 4 || counts[model.StatusProcessing] != 2 {
		t.Fatalf("unexpected counts: %#v", counts)
	}
}
