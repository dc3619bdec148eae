// Package gateway owns one database connection pool per store: pooled,
// retrying access; a probe; and the migration runner. It is the only
// package that imports a SQL driver directly, grounded on
// internal/db/postgres.go's NewPostgresService/gorm.Open/AutoMigrateAll
// pattern, generalized from a single hardcoded Postgres service to any
// StoreDescriptor the Lifecycle Manager hands it.
package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlserver"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

// Gateway is pooled, retrying, probe-able access to one database (spec
// §4.1). It never interprets business SQL itself — that is the Queue
// Repository's job — but the package renders the dialect-specific claim
// clause (ClaimLockClause) that the repository asks it for.
type Gateway struct {
	descriptor model.StoreDescriptor
	log        *logger.Logger
	db         *gorm.DB
	sqlDB      *sql.DB
	breaker    *gobreaker.CircuitBreaker
	retry      retryConfig
}

// Open builds a pool for descriptor and validates connectivity with a
// single ping. It does not run migrations; call Migrate explicitly.
func Open(desc model.StoreDescriptor, log *logger.Logger) (*Gateway, error) {
	dialector, err := dialectorFor(desc)
	if err != nil {
		return nil, err
	}

	gormLog := gormLogger.New(
		gormWriter{log: log},
		gormLogger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  gormLogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger:                                   gormLog,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: open %s: %w", desc.Name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gateway: underlying sql.DB for %s: %w", desc.Name, err)
	}
	sqlDB.SetMaxOpenConns(desc.PoolSize + desc.MaxOverflow)
	sqlDB.SetMaxIdleConns(desc.PoolSize)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), desc.QueryTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("gateway: ping %s: %w", desc.Name, err)
	}

	return &Gateway{
		descriptor: desc,
		log:        log.With("component", "gateway", "store", desc.Name),
		db:         db,
		sqlDB:      sqlDB,
		breaker:    newBreaker(desc.Name),
		retry:      defaultRetry,
	}, nil
}

func dialectorFor(desc model.StoreDescriptor) (gorm.Dialector, error) {
	switch desc.Dialect {
	case model.DialectPostgres:
		return postgres.Open(desc.DSN), nil
	case model.DialectMSSQL:
		return sqlserver.Open(desc.DSN), nil
	default:
		return nil, fmt.Errorf("gateway: unknown dialect %q for store %s", desc.Dialect, desc.Name)
	}
}

// DB returns the underlying *gorm.DB for packages (repository) that need
// to build dialect-aware queries. Callers must still route every call
// through Execute/Transaction-shaped retry/breaker logic where
// correctness depends on it; DB is for read paths that already carry
// their own context timeout.
func (g *Gateway) DB() *gorm.DB { return g.db }

// Descriptor returns the StoreDescriptor this Gateway was opened with.
func (g *Gateway) Descriptor() model.StoreDescriptor { return g.descriptor }

// Execute runs fn against a context-bound *gorm.DB handle with retry and
// circuit-breaking applied.
func (g *Gateway) Execute(ctx context.Context, fn func(tx *gorm.DB) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, g.descriptor.QueryTimeout)
	defer cancel()
	return withRetry(queryCtx, g.breaker, g.retry, func() error {
		return fn(g.db.WithContext(queryCtx))
	})
}

// Transaction runs fn inside a single database transaction with retry and
// circuit-breaking applied: an ordered list of parameterized statements
// runs atomically, rolling back the entire list on any failure.
func (g *Gateway) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, g.descriptor.QueryTimeout)
	defer cancel()
	return withRetry(queryCtx, g.breaker, g.retry, func() error {
		return g.db.WithContext(queryCtx).Transaction(fn)
	})
}

// ProbeResult is the outcome of Probe.
type ProbeResult struct {
	Reachable     bool
	RoundTripMS   float64
	SchemaVersion string
	Err           error
}

// Probe runs a trivial query under a short timeout and reports
// reachability, duration, and the migration head version if applicable.
// It deliberately bypasses the retry/breaker path: a probe that retried
// would defeat its own purpose as a fast liveness check.
func (g *Gateway) Probe(ctx context.Context, timeout time.Duration) ProbeResult {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := g.sqlDB.PingContext(probeCtx); err != nil {
		return ProbeResult{Reachable: false, Err: err}
	}
	elapsed := time.Since(start)

	schemaVersion, _ := g.currentSchemaVersion(probeCtx)
	return ProbeResult{
		Reachable:     true,
		RoundTripMS:   float64(elapsed.Microseconds()) / 1000.0,
		SchemaVersion: schemaVersion,
	}
}

func (g *Gateway) currentSchemaVersion(ctx context.Context) (string, error) {
	var version sql.NullString
	row := g.sqlDB.QueryRowContext(ctx, `SELECT version FROM schema_version ORDER BY applied_at DESC LIMIT 1`)
	if err := row.Scan(&version); err != nil {
		return "", err
	}
	if !version.Valid {
		return "", nil
	}
	return version.String, nil
}

// Close releases the pool. Called once during Lifecycle Manager
// shutdown.
func (g *Gateway) Close() error {
	return g.sqlDB.Close()
}

// gormWriter adapts *logger.Logger to gorm's logger.Writer interface, the
// same shape as db/postgres.go's gormLogger construction.
type gormWriter struct {
	log *logger.Logger
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.log.Debug(fmt.Sprintf(format, args...))
}
