// Package health implements the Health Surface: it aggregates gateway
// probes, repository queue counts, and lifecycle state into a
// HealthReport, and exposes it over HTTP via gin (grounded on
// internal/http/router.go's gin.Engine wiring and
// internal/http/handlers/health.go's HealthHandler, generalized from a
// bare 200-OK stub into a full three-tier aggregation).
package health

import (
	"context"
	"time"

	"github.com/qflowio/queueworker/internal/cache"
	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/lifecycle"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/internal/processor"
)

// StoreProbe pairs a named gateway with whether it is required, so the
// aggregation rules can distinguish "any required store unreachable ->
// unhealthy" from a non-required source store's failure.
type StoreProbe struct {
	Name     string
	Required bool
	Gateway  *gateway.Gateway
}

// Surface produces HealthReports on demand.
type Surface struct {
	instance     model.WorkerInstance
	stores       []StoreProbe
	proc         *processor.Processor
	machine      *lifecycle.Machine
	cfg          config.Config
	log          *logger.Logger
	snapshotCache *cache.QueueSnapshotCache // nil when APP_CACHE_ADDR unset
	alertDepth   int64
}

func New(instance model.WorkerInstance, stores []StoreProbe, proc *processor.Processor, machine *lifecycle.Machine, cfg config.Config, snapshotCache *cache.QueueSnapshotCache, log *logger.Logger) *Surface {
	return &Surface{
		instance:      instance,
		stores:        stores,
		proc:          proc,
		machine:       machine,
		cfg:           cfg,
		log:           log.With("component", "health"),
		snapshotCache: snapshotCache,
		alertDepth:    int64(cfg.AlertDepth),
	}
}

// Report builds a full HealthReport, bounded by the surface's own
// latency budget (default 2s) so a hanging store can never hang the
// endpoint — each store probe carries its own timeout and the overall
// call is wrapped in one more on top.
func (s *Surface) Report(ctx context.Context) model.HealthReport {
	reportCtx, cancel := context.WithTimeout(ctx, s.reportTimeout())
	defer cancel()

	stores := s.probeStores(reportCtx)
	queue := s.queueSnapshot(reportCtx)
	status := s.aggregate(stores, queue)

	return model.HealthReport{
		Status:   status,
		Instance: model.InstanceStatus{ID: s.instance.ID, Host: s.instance.Host, Flow: s.instance.Flow},
		Stores:   stores,
		Queue:    queue,
		Lifecycle: model.LifecycleStatus{
			State:        string(s.machine.State()),
			UptimeSec:    s.machine.UptimeSec(),
			RestartCount: s.machine.RestartCount(),
		},
		Timestamp: time.Now().UTC(),
	}
}

// reportTimeout is the surface's own budget, independent of the
// per-probe HealthTimeout.
func (s *Surface) reportTimeout() time.Duration {
	return 2 * time.Second
}

func (s *Surface) probeStores(ctx context.Context) map[string]model.StoreStatus {
	out := make(map[string]model.StoreStatus, len(s.stores))
	for _, sp := range s.stores {
		timeout := s.cfg.HealthTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		result := sp.Gateway.Probe(ctx, timeout)
		st := model.StoreStatus{
			Reachable:     result.Reachable,
			RoundTripMS:   result.RoundTripMS,
			SchemaVersion: result.SchemaVersion,
		}
		if result.Err != nil {
			st.Error = result.Err.Error()
		}
		out[sp.Name] = st
	}
	return out
}

// queueSnapshot reads counts_by_status for this worker's flow, preferring
// the cache when configured and falling back to a direct repository
// read on a cache miss or when no cache is wired.
func (s *Surface) queueSnapshot(ctx context.Context) model.QueueCounts {
	if s.snapshotCache != nil {
		if counts, ok := s.snapshotCache.Get(ctx, s.instance.Flow); ok {
			return counts
		}
	}

	counts := model.QueueCounts{}
	byStatus, err := s.proc.CountsByStatus(ctx, s.instance.Flow)
	if err != nil {
		s.log.Warn("queue snapshot counts_by_status failed", "error", err)
		return counts
	}
	counts.Pending = byStatus[model.StatusPending]
	counts.Processing = byStatus[model.StatusProcessing]
	counts.Failed = byStatus[model.StatusFailed]
	counts.CompletedRecent = byStatus[model.StatusCompleted]

	byFlow, err := s.proc.CountsByFlow(ctx)
	if err == nil {
		counts.ByFlow = byFlow
	}

	if s.snapshotCache != nil {
		s.snapshotCache.Set(ctx, s.instance.Flow, counts)
	}
	return counts
}

// aggregate applies the three-tier status rule: any required store
// unreachable -> unhealthy; any required store slow, any non-required
// store unreachable, or queue depth over alert_depth -> degraded;
// otherwise healthy.
func (s *Surface) aggregate(stores map[string]model.StoreStatus, queue model.QueueCounts) string {
	degraded := false
	for _, sp := range s.stores {
		st := stores[sp.Name]
		if !st.Reachable {
			if sp.Required {
				return "unhealthy"
			}
			degraded = true
			continue
		}
		if sp.Required && time.Duration(st.RoundTripMS*float64(time.Millisecond)) > s.slowThreshold() {
			degraded = true
		}
	}
	if s.alertDepth > 0 && queue.Pending > s.alertDepth {
		degraded = true
	}
	if degraded {
		return "degraded"
	}
	return "healthy"
}

func (s *Surface) slowThreshold() time.Duration {
	if s.cfg.SlowThreshold > 0 {
		return s.cfg.SlowThreshold
	}
	return 500 * time.Millisecond
}

// Live reports the liveness predicate: lifecycle state in {Starting,
// Running, Remediating, Stopping}.
func (s *Surface) Live() bool {
	switch s.machine.State() {
	case lifecycle.StateStarting, lifecycle.StateRunning, lifecycle.StateRemediating, lifecycle.StateStopping:
		return true
	default:
		return false
	}
}

// Ready reports the readiness predicate: Running AND all required
// stores healthy.
func (s *Surface) Ready(ctx context.Context) bool {
	if s.machine.State() != lifecycle.StateRunning {
		return false
	}
	for _, sp := range s.stores {
		if !sp.Required {
			continue
		}
		timeout := s.cfg.HealthTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		if !sp.Gateway.Probe(ctx, timeout).Reachable {
			return false
		}
	}
	return true
}
