package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
)

func newTestCache(t *testing.T) (*QueueSnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(mr.Addr(), logger.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestNewFailsWhenUnreachable(t *testing.T) {
	if _, err := New("127.0.0.1:1", logger.NewNop()); err == nil {
		t.Fatalf("expected error dialing an unreachable address")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, _ := newTestCache(t)
	if _, ok := c.Get(context.Background(), "ingest"); ok {
		t.Fatalf("expected a miss for an unset key")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	c, _ := newTestCache(t)
	want := model.QueueCounts{Pending: 3, Processing: 1, Failed: 2}

	c.Set(context.Background(), "ingest", want)

	got, ok := c.Get(context.Background(), "ingest")
	if !ok {
		t.Fatalf("expected a hit right after Set")
	}
	if got.Pending != want.Pending || got.Processing != want.Processing || got.Failed != want.Failed {
		t.Fatalf("round trip mismatch: got %#v want %#v", got, want)
	}
}

func TestSnapshotExpiresAfterTTL(t *testing.T) {
	c, mr := newTestCache(t)
	c.ttl = 50 * time.Millisecond
	c.Set(context.Background(), "ingest", model.QueueCounts{Pending: 1})

	mr.FastForward(100 * time.Millisecond)

	if _, ok := c.Get(context.Background(), "ingest"); ok {
		t.Fatalf("expected snapshot to have expired")
	}
}

func TestSnapshotsAreKeyedPerFlow(t *testing.T) {
	c, _ := newTestCache(t)
	c.Set(context.Background(), "ingest", model.QueueCounts{Pending: 1})
	c.Set(context.Background(), "export", model.QueueCounts{Pending: 2})

	a, _ := c.Get(context.Background(), "ingest")
	b, _ := c.Get(context.Background(), "export")
	if a.Pending != 1 || b.Pending != 2 {
		t.Fatalf("expected independent per-flow snapshots, got %#v and %#v", a, b)
	}
}
