package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/model"
)

// migrationNamePattern matches V{nnn}__{snake_description}.sql.
var migrationNamePattern = regexp.MustCompile(`^V(\d+)__([a-z0-9_]+)\.sql$`)

type migration struct {
	Version     int
	Description string
	Filename    string
	SQL         string
	Checksum    string
}

// LoadMigrations reads every *.sql file directly under dir in fsys,
// parses its version from the filename, and returns them sorted
// ascending by version. Hand-rolled against database/sql rather than
// goose or golang-migrate: the checksum-mismatch-abort-loudly behavior
// and the cross-dialect session-level advisory lock are bespoke
// protocol logic, same as the Queue Repository's own hand-rendered SQL.
func LoadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("gateway: read migrations dir %s: %w", dir, err)
	}

	var migrations []migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		version, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("gateway: migration %s has unparseable version: %w", entry.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("gateway: read migration %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(raw)
		migrations = append(migrations, migration{
			Version:     version,
			Description: match[2],
			Filename:    entry.Name(),
			SQL:         string(raw),
			Checksum:    hex.EncodeToString(sum[:]),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version == migrations[i-1].Version {
			return nil, fmt.Errorf("gateway: duplicate migration version %d (%s, %s)",
				migrations[i].Version, migrations[i-1].Filename, migrations[i].Filename)
		}
	}
	return migrations, nil
}

// schemaVersionDDL creates the tracking table if absent. Dialects differ
// only in identity-column syntax.
func schemaVersionDDL(dialect model.Dialect) string {
	if dialect == model.DialectMSSQL {
		return `IF NOT EXISTS (SELECT * FROM sysobjects WHERE name='schema_version' AND xtype='U')
CREATE TABLE schema_version (
	version INT NOT NULL PRIMARY KEY,
	description NVARCHAR(200) NOT NULL,
	checksum CHAR(64) NOT NULL,
	applied_at DATETIME2 NOT NULL
)`
	}
	return `CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	description VARCHAR(200) NOT NULL,
	checksum CHAR(64) NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`
}

// Migrate applies any pending versioned migrations under a session-level
// advisory lock, each in its own transaction. A checksum mismatch on an
// already-applied migration aborts startup with a FatalStore error
// (exit code 3).
func (g *Gateway) Migrate(ctx context.Context, fsys fs.FS, dir string) ([]int, error) {
	migrations, err := LoadMigrations(fsys, dir)
	if err != nil {
		return nil, apierr.FatalStore("load migrations", err)
	}

	unlock, err := g.acquireAdvisoryLock(ctx)
	if err != nil {
		return nil, apierr.FatalStore("acquire migration advisory lock", err)
	}
	defer unlock()

	if _, err := g.sqlDB.ExecContext(ctx, schemaVersionDDL(g.descriptor.Dialect)); err != nil {
		return nil, apierr.FatalStore("create schema_version table", err)
	}

	applied, err := g.appliedVersions(ctx)
	if err != nil {
		return nil, apierr.FatalStore("read schema_version", err)
	}

	var appliedNow []int
	for _, m := range migrations {
		if existing, ok := applied[m.Version]; ok {
			if existing.Checksum != m.Checksum {
				return appliedNow, apierr.FatalStore(
					fmt.Sprintf("checksum mismatch for %s: recorded %s, file %s",
						m.Filename, existing.Checksum, m.Checksum), nil)
			}
			continue
		}

		if err := g.applyOne(ctx, m); err != nil {
			return appliedNow, apierr.FatalStore(fmt.Sprintf("apply %s", m.Filename), err)
		}
		appliedNow = append(appliedNow, m.Version)
		g.log.Info("migration applied", "version", m.Version, "description", m.Description)
	}
	return appliedNow, nil
}

type appliedMigration struct {
	Checksum string
}

func (g *Gateway) appliedVersions(ctx context.Context) (map[int]appliedMigration, error) {
	rows, err := g.sqlDB.QueryContext(ctx, `SELECT version, checksum FROM schema_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]appliedMigration{}
	for rows.Next() {
		var version int
		var checksum string
		if err := rows.Scan(&version, &checksum); err != nil {
			return nil, err
		}
		out[version] = appliedMigration{Checksum: checksum}
	}
	return out, rows.Err()
}

func (g *Gateway) applyOne(ctx context.Context, m migration) error {
	tx, err := g.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(m.SQL) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement failed: %w", err)
		}
	}

	recordSQL := fmt.Sprintf(
		`INSERT INTO schema_version (version, description, checksum, applied_at) VALUES (%s, %s, %s, %s)`,
		Placeholder(g.descriptor.Dialect, 1), Placeholder(g.descriptor.Dialect, 2),
		Placeholder(g.descriptor.Dialect, 3), Placeholder(g.descriptor.Dialect, 4))
	if _, err := tx.ExecContext(ctx, recordSQL, m.Version, m.Description, m.Checksum, time.Now().UTC()); err != nil {
		return fmt.Errorf("record schema_version: %w", err)
	}

	return tx.Commit()
}

// splitStatements splits a migration file on semicolon-newline
// boundaries. Migration authors are expected to write one statement per
// line group separated by ";\n", the same convention the codebase's own
// hand-maintained SQL (job_run.go raw clauses) assumes for multi-
// statement scripts.
func splitStatements(script string) []string {
	return strings.Split(script, ";\n")
}

// acquireAdvisoryLock serializes concurrent workers' migration startup
// across the whole fleet: the lock is released at process exit or
// session timeout. Postgres has a native advisory lock primitive; mssql
// uses sp_getapplock scoped to the session.
func (g *Gateway) acquireAdvisoryLock(ctx context.Context) (func(), error) {
	conn, err := g.sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	switch g.descriptor.Dialect {
	case model.DialectMSSQL:
		_, err = conn.ExecContext(ctx,
			`DECLARE @res INT; EXEC @res = sp_getapplock @Resource = 'queueworker_migrate', @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = 120000; IF @res < 0 THROW 50000, 'sp_getapplock failed', 1;`)
	default:
		_, err = conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, AdvisoryLockKey)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	return func() {
		switch g.descriptor.Dialect {
		case model.DialectMSSQL:
			_, _ = conn.ExecContext(context.Background(),
				`EXEC sp_releaseapplock @Resource = 'queueworker_migrate', @LockOwner = 'Session'`)
		default:
			_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, AdvisoryLockKey)
		}
		conn.Close()
	}, nil
}
