package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/logger"
)

// Dependency is one probeable collaborator the manager waits for at
// startup: the queue store, any optional source stores, and an optional
// workflow-engine endpoint. While Running, the manager's health loop
// re-probes only the Required ones.
type Dependency struct {
	Name     string
	Required bool
	Probe    func(ctx context.Context) error
}

// WaitForDependencies probes every dependency with exponential back-off
// (1s→10s cap) until it succeeds or the per-dependency timeout elapses.
// Required dependencies must all pass; a required dependency that never
// becomes healthy returns a DependencyTimeout error (exit code 2).
// Non-required failures are logged and otherwise ignored — they degrade
// readiness later, via the Health Surface, not startup.
//
// Grounded on internal/temporalx/client.go's NewClient dial loop:
// deadline = now + maxWait, retry with clampBackoff until the deadline,
// fail loudly past it.
func WaitForDependencies(ctx context.Context, deps []Dependency, timeout time.Duration, log *logger.Logger) error {
	for _, dep := range deps {
		err := waitOne(ctx, dep, timeout, log)
		if err != nil {
			if dep.Required {
				return apierr.DependencyTimeout(fmt.Sprintf("dependency %q not ready after %s", dep.Name, timeout), err)
			}
			log.Warn("optional dependency not ready, continuing degraded", "dependency", dep.Name, "error", err)
		}
	}
	return nil
}

func waitOne(ctx context.Context, dep Dependency, timeout time.Duration, log *logger.Logger) error {
	deadline := time.Now().Add(timeout)
	backoffBase := time.Second
	backoffCap := 10 * time.Second

	var lastErr error
	for attempt := 1; ; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, timeout)
		err := dep.Probe(probeCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info("dependency ready", "dependency", dep.Name, "attempts", attempt)
			}
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return lastErr
		}
		log.Warn("dependency not ready, retrying", "dependency", dep.Name, "attempt", attempt, "error", err)

		select {
		case <-time.After(clampBackoff(backoffBase, backoffCap, attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// clampBackoff doubles base per attempt, capped at max — the same shape
// as internal/temporalx/client.go's clampBackoff.
func clampBackoff(base, max time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
