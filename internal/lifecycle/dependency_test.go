package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qflowio/queueworker/internal/logger"
)

func TestWaitForDependenciesSucceedsImmediately(t *testing.T) {
	deps := []Dependency{
		{Name: "queue", Required: true, Probe: func(ctx context.Context) error { return nil }},
	}
	if err := WaitForDependencies(context.Background(), deps, time.Second, logger.NewNop()); err != nil {
		t.Fatalf("WaitForDependencies: %v", err)
	}
}

func TestWaitForDependenciesRequiredTimesOut(t *testing.T) {
	deps := []Dependency{
		{Name: "queue", Required: true, Probe: func(ctx context.Context) error {
			return errors.New("unreachable")
		}},
	}
	err := WaitForDependencies(context.Background(), deps, 50*time.Millisecond, logger.NewNop())
	if err == nil {
		t.Fatalf("expected a DependencyTimeout error for a required dependency")
	}
}

func TestWaitForDependenciesOptionalFailureIsIgnored(t *testing.T) {
	deps := []Dependency{
		{Name: "cache", Required: false, Probe: func(ctx context.Context) error {
			return errors.New("unreachable")
		}},
	}
	err := WaitForDependencies(context.Background(), deps, 50*time.Millisecond, logger.NewNop())
	if err != nil {
		t.Fatalf("expected optional dependency failure to be ignored, got %v", err)
	}
}

func TestWaitForDependenciesRetriesUntilSuccess(t *testing.T) {
	attempts := 0
	deps := []Dependency{
		{Name: "queue", Required: true, Probe: func(ctx context.Context) error {
			attempts++
			if attempts < 3 {
				return errors.New("not ready yet")
			}
			return nil
		}},
	}
	if err := WaitForDependencies(context.Background(), deps, 5*time.Second, logger.NewNop()); err != nil {
		t.Fatalf("WaitForDependencies: %v", err)
	}
	if attempts < 3 {
		t.Fatalf("expected at least 3 probe attempts, got %d", attempts)
	}
}

func TestClampBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second
	max := 10 * time.Second

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, max},
		{100, max},
	}
	for _, tc := range cases {
		if got := clampBackoff(base, max, tc.attempt); got != tc.want {
			t.Fatalf("clampBackoff(attempt=%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}
