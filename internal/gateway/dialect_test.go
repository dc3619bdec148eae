package gateway

import (
	"testing"

	"github.com/qflowio/queueworker/internal/model"
)

func TestClaimLockClause(t *testing.T) {
	if got := ClaimLockClause(model.DialectPostgres); got != "FOR UPDATE SKIP LOCKED" {
		t.Fatalf("postgres lock clause = %q", got)
	}
	if got := ClaimLockClause(model.DialectMSSQL); got != "WITH (UPDLOCK, ROWLOCK, READPAST)" {
		t.Fatalf("mssql lock clause = %q", got)
	}
}

func TestPlaceholder(t *testing.T) {
	cases := []struct {
		dialect model.Dialect
		n       int
		want    string
	}{
		{model.DialectPostgres, 1, "$1"},
		{model.DialectPostgres, 12, "$12"},
		{model.DialectMSSQL, 1, "@p1"},
		{model.DialectMSSQL, 3, "@p3"},
	}
	for _, tc := range cases {
		if got := Placeholder(tc.dialect, tc.n); got != tc.want {
			t.Fatalf("Placeholder(%s, %d) = %q, want %q", tc.dialect, tc.n, got, tc.want)
		}
	}
}
