package health

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/lifecycle"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

func newTestGateway(t *testing.T, name string) (*gateway.Gateway, func()) {
	t.Helper()
	sqlDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	desc := model.StoreDescriptor{Name: name, Dialect: model.DialectPostgres, QueryTimeout: time.Second}
	return gateway.NewWithDB(desc, db, sqlDB, logger.NewNop()), func() { sqlDB.Close() }
}

func TestAggregateHealthyWhenAllReachableAndFast(t *testing.T) {
	s := &Surface{
		stores: []StoreProbe{{Name: "queue", Required: true}},
		cfg:    config.Config{SlowThreshold: 500 * time.Millisecond, AlertDepth: 1000},
	}
	s.alertDepth = 1000
	stores := map[string]model.StoreStatus{"queue": {Reachable: true, RoundTripMS: 5}}
	if got := s.aggregate(stores, model.QueueCounts{Pending: 10}); got != "healthy" {
		t.Fatalf("expected healthy, got %s", got)
	}
}

func TestAggregateUnhealthyWhenRequiredStoreUnreachable(t *testing.T) {
	s := &Surface{
		stores: []StoreProbe{{Name: "queue", Required: true}},
		cfg:    config.Config{SlowThreshold: 500 * time.Millisecond},
	}
	stores := map[string]model.StoreStatus{"queue": {Reachable: false}}
	if got := s.aggregate(stores, model.QueueCounts{}); got != "unhealthy" {
		t.Fatalf("expected unhealthy, got %s", got)
	}
}

func TestAggregateDegradedWhenOptionalStoreUnreachable(t *testing.T) {
	s := &Surface{
		stores: []StoreProbe{
			{Name: "queue", Required: true},
			{Name: "source", Required: false},
		},
		cfg: config.Config{SlowThreshold: 500 * time.Millisecond},
	}
	stores := map[string]model.StoreStatus{
		"queue":  {Reachable: true, RoundTripMS: 1},
		"source": {Reachable: false},
	}
	if got := s.aggregate(stores, model.QueueCounts{}); got != "degraded" {
		t.Fatalf("expected degraded, got %s", got)
	}
}

func TestAggregateDegradedWhenRequiredStoreSlow(t *testing.T) {
	s := &Surface{
		stores: []StoreProbe{{Name: "queue", Required: true}},
		cfg:    config.Config{SlowThreshold: 10 * time.Millisecond},
	}
	stores := map[string]model.StoreStatus{"queue": {Reachable: true, RoundTripMS: 500}}
	if got := s.aggregate(stores, model.QueueCounts{}); got != "degraded" {
		t.Fatalf("expected degraded, got %s", got)
	}
}

func TestAggregateDegradedWhenQueueDepthOverAlert(t *testing.T) {
	s := &Surface{
		stores:     []StoreProbe{{Name: "queue", Required: true}},
		cfg:        config.Config{SlowThreshold: 500 * time.Millisecond},
		alertDepth: 100,
	}
	stores := map[string]model.StoreStatus{"queue": {Reachable: true, RoundTripMS: 1}}
	if got := s.aggregate(stores, model.QueueCounts{Pending: 101}); got != "degraded" {
		t.Fatalf("expected degraded, got %s", got)
	}
}

func TestLivePredicate(t *testing.T) {
	m := lifecycle.NewMachine()
	s := &Surface{machine: m}

	if s.Live() {
		t.Fatalf("Initializing should not be live")
	}
	m.Transition(lifecycle.StateStarting, "test")
	if !s.Live() {
		t.Fatalf("Starting should be live")
	}
	m.Transition(lifecycle.StateStopped, "test")
	if s.Live() {
		t.Fatalf("Stopped should not be live")
	}
}

func TestReadyRequiresRunningAndRequiredStoresReachable(t *testing.T) {
	m := lifecycle.NewMachine()
	s := &Surface{machine: m, cfg: config.Config{HealthTimeout: time.Second}}

	if s.Ready(context.Background()) {
		t.Fatalf("Initializing should not be ready")
	}

	m.Transition(lifecycle.StateStarting, "test")
	m.Transition(lifecycle.StateRunning, "test")
	if !s.Ready(context.Background()) {
		t.Fatalf("Running with no required stores should be ready")
	}
}

func TestReadyFalseWhenRequiredStoreUnreachable(t *testing.T) {
	gw, closeFn := newTestGateway(t, "queue")
	closeFn() // closed DB makes Ping fail deterministically

	m := lifecycle.NewMachine()
	m.Transition(lifecycle.StateStarting, "test")
	m.Transition(lifecycle.StateRunning, "test")

	s := &Surface{
		machine: m,
		cfg:     config.Config{HealthTimeout: time.Second},
		stores:  []StoreProbe{{Name: "queue", Required: true, Gateway: gw}},
	}
	if s.Ready(context.Background()) {
		t.Fatalf("expected not ready when the required store's ping fails")
	}
}
