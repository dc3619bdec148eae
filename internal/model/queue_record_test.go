package model

import (
	"strings"
	"testing"
	"time"
)

func TestIsOrphanable(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	claimedLongAgo := now.Add(-2 * time.Hour)
	claimedRecently := now.Add(-1 * time.Minute)

	cases := []struct {
		name   string
		rec    QueueRecord
		want   bool
	}{
		{"not processing", QueueRecord{Status: StatusPending, ClaimedAt: &claimedLongAgo}, false},
		{"processing, no claimed_at", QueueRecord{Status: StatusProcessing}, false},
		{"processing, claimed long ago", QueueRecord{Status: StatusProcessing, ClaimedAt: &claimedLongAgo}, true},
		{"processing, claimed recently", QueueRecord{Status: StatusProcessing, ClaimedAt: &claimedRecently}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.rec.IsOrphanable(now, time.Hour); got != tc.want {
				t.Fatalf("IsOrphanable() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestTruncateErrorMessage(t *testing.T) {
	short := "boom"
	if got := TruncateErrorMessage(short); got != short {
		t.Fatalf("short message should be unchanged, got %q", got)
	}

	long := strings.Repeat("x", MaxErrorMessageBytes+100)
	truncated := TruncateErrorMessage(long)
	if len(truncated) != MaxErrorMessageBytes {
		t.Fatalf("expected truncation to %d bytes, got %d", MaxErrorMessageBytes, len(truncated))
	}

	exact := strings.Repeat("y", MaxErrorMessageBytes)
	if got := TruncateErrorMessage(exact); got != exact {
		t.Fatalf("exact-length message should be unchanged")
	}
}
