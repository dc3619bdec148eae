package gateway

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	mssql "github.com/microsoft/go-mssqldb"
)

// FaultClass tags a driver-level failure as transient (retry in the
// Gateway) or permanent (fail immediately).
type FaultClass int

const (
	FaultPermanent FaultClass = iota
	FaultTransient
)

// classify splits driver faults into two disjoint sets: connection
// reset, deadlock victim, serialization failure, operational timeout,
// and server-gone errors are transient; syntax errors, constraint
// violations, permission errors, and checksum mismatches are permanent.
// Unknown errors default to permanent — a gateway that silently retries
// an unrecognized fault could loop forever against something that
// should have surfaced immediately.
func classify(err error) FaultClass {
	if err == nil {
		return FaultPermanent
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"57P01", // admin_shutdown
			"57P02", // crash_shutdown
			"57P03", // cannot_connect_now
			"08000", "08003", "08006", "08001", "08004": // connection_exception family
			return FaultTransient
		}
		return FaultPermanent
	}

	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		switch mssqlErr.Number {
		case 1205, // deadlock victim
			-2,    // timeout
			64,    // connection forcibly closed
			10053, // connection aborted
			10054, // connection reset
			10928, 10929: // resource governor, transient
			return FaultTransient
		}
		return FaultPermanent
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "server closed the connection"),
		strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "context deadline exceeded"):
		return FaultTransient
	}
	return FaultPermanent
}

// IsTransient exposes the classifier for callers that need to branch on
// it directly (e.g. health probes deciding whether a failed probe should
// count toward degraded vs unhealthy).
func IsTransient(err error) bool {
	return classify(err) == FaultTransient
}
