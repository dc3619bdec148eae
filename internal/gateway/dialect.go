package gateway

import (
	"fmt"

	"github.com/qflowio/queueworker/internal/model"
)

// ClaimLockClause renders the dialect-specific row-locking clause the
// Queue Repository appends to its claim_batch SELECT. Postgres supports
// SKIP LOCKED natively; mssql's equivalent is the READPAST table hint
// combined with an UPDLOCK to keep the row locked for the subsequent
// UPDATE in the same transaction. Both dialects get a faithful native
// implementation here rather than falling back to an advisory-lock-only
// claim, since go-mssqldb/sqlserver gives us the real table hint.
func ClaimLockClause(dialect model.Dialect) string {
	switch dialect {
	case model.DialectMSSQL:
		return "WITH (UPDLOCK, ROWLOCK, READPAST)"
	default:
		return "FOR UPDATE SKIP LOCKED"
	}
}

// AdvisoryLockKey is a stable hash used for the session-level lock that
// serializes concurrent workers' migration startup. Chosen arbitrarily
// but fixed across the whole fleet so every worker process contends on
// the same key.
const AdvisoryLockKey = 847291

// Placeholder returns the dialect's positional parameter marker for the
// n-th bind variable (1-indexed), since Postgres uses $1 and mssql uses
// @p1. GORM's own query builder rewrites "?" automatically, but the
// migration runner talks to the underlying *sql.DB directly and has to
// render its own placeholders.
func Placeholder(dialect model.Dialect, n int) string {
	switch dialect {
	case model.DialectMSSQL:
		return fmt.Sprintf("@p%d", n)
	default:
		return fmt.Sprintf("$%d", n)
	}
}
