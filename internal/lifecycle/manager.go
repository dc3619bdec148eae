package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/logger"
)

// RemediationFunc attempts targeted remediation during Remediating:
// reconnect, gc, temp-dir cleanup, backpressure. It returns nil if the
// remediation believes the dependency has recovered.
type RemediationFunc func(ctx context.Context) error

// Manager drives a single process through its state machine. It owns
// the Machine, the configured Dependencies, and the restart policy;
// callers start and stop the actual worker-loop/health-server goroutines
// themselves and report the transitions through Start, Stop and Stopped,
// so the Manager stays agnostic of what it's supervising (mirroring an app.New()/Start(runServer, runWorker) split in
// cmd/main.go, generalized from "http server or worker, pick one" to "one
// worker process, optional health server alongside").
type Manager struct {
	machine *Machine
	cfg     config.Config
	log     *logger.Logger
	deps    []Dependency

	consecutiveHealthFailures int
	maxHealthFailures         int

	// dependencyTimeoutOverride lets tests shrink the startup wait budget
	// below the 120s default; zero means "use dependencyTimeout's default".
	dependencyTimeoutOverride time.Duration
}

func NewManager(cfg config.Config, log *logger.Logger, deps []Dependency) *Manager {
	return &Manager{
		machine:           NewMachine(),
		cfg:               cfg,
		log:               log.With("component", "lifecycle"),
		deps:              deps,
		maxHealthFailures: 3,
	}
}

// Machine exposes the state machine for the Health Surface to read.
func (m *Manager) Machine() *Machine { return m.machine }

// ValidateStartup performs startup validation beyond what config.Load
// already enforces: the flow name is non-empty (config.Load already
// guarantees this, checked again defensively since it gates a state
// transition). That is the only check it makes: working directories are
// not checked or created, and disk-free and OS resource-limit checks are
// intentionally not implemented: this core
// targets containerized deployment where those are the orchestrator's
// responsibility.
func (m *Manager) ValidateStartup() error {
	if m.cfg.FlowName == "" {
		return apierr.Config("flow name is empty at startup validation", nil)
	}
	return nil
}

// Start runs the full Starting sequence: validate, wait for dependencies,
// transition to Running. Returns the terminal error if startup fails
// (Config or DependencyTimeout), after transitioning to Failed.
func (m *Manager) Start(ctx context.Context) error {
	m.machine.Transition(StateStarting, "validate_env")

	if err := m.ValidateStartup(); err != nil {
		m.machine.Transition(StateFailed, "validate_env_failed")
		return err
	}

	if err := WaitForDependencies(ctx, m.deps, m.dependencyTimeout(), m.log); err != nil {
		m.machine.Transition(StateFailed, "dependency_timeout")
		return err
	}

	m.machine.Transition(StateRunning, "all_dependencies_ready")
	return nil
}

// dependencyTimeout is the per-dependency startup wait budget: 120s for
// data stores, 60s for HTTP APIs. Every declared Dependency in this core
// is a data store or the workflow-engine gRPC endpoint, neither of which
// needs the shorter HTTP-API budget.
func (m *Manager) dependencyTimeout() time.Duration {
	if m.dependencyTimeoutOverride > 0 {
		return m.dependencyTimeoutOverride
	}
	return 120 * time.Second
}

// RunHealthLoop probes every dependency every m.cfg.HealthInterval while
// Running, transitioning to Remediating after a failure and to Failed
// after maxHealthFailures consecutive failures. remediate is invoked
// once per Remediating entry; if it returns nil the machine returns to
// Running.
func (m *Manager) RunHealthLoop(ctx context.Context, remediate RemediationFunc) {
	ticker := time.NewTicker(m.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if st := m.machine.State(); st != StateRunning && st != StateRemediating {
				continue
			}
			if err := m.probeAll(ctx); err != nil {
				m.consecutiveHealthFailures++
				entered := m.machine.State() == StateRunning
				if entered {
					m.machine.Transition(StateRemediating, "health_probe_fails")
				}
				m.log.Warn("health probe failed, remediating", "consecutive_failures", m.consecutiveHealthFailures, "error", err)

				if remediate != nil && entered {
					remediateCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
					rerr := remediate(remediateCtx)
					cancel()
					if rerr == nil {
						m.consecutiveHealthFailures = 0
						m.machine.Transition(StateRunning, "recovered")
						continue
					}
				}

				if m.consecutiveHealthFailures >= m.maxHealthFailures {
					m.machine.Transition(StateFailed, "unrecoverable")
					return
				}
			} else {
				m.consecutiveHealthFailures = 0
				if m.machine.State() == StateRemediating {
					m.machine.Transition(StateRunning, "recovered")
				}
			}
		}
	}
}

func (m *Manager) probeAll(ctx context.Context) error {
	for _, dep := range m.deps {
		if !dep.Required {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
		err := dep.Probe(probeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("dependency %q: %w", dep.Name, err)
		}
	}
	return nil
}

// Stop transitions to Stopping. The caller (cmd/queueworker) is
// responsible for actually halting the worker loop and waiting up to
// grace_period before calling Stopped; Manager only tracks state.
func (m *Manager) Stop(trigger string) {
	m.machine.Transition(StateStopping, trigger)
}

// Stopped finalizes the shutdown sequence.
func (m *Manager) Stopped(trigger string) {
	m.machine.Transition(StateStopped, trigger)
}

// ShouldRestart applies the restart policy decision:
// never|on-failure|always|unless-stopped, bounded by MaxRestarts.
func (m *Manager) ShouldRestart(stoppedByOperator bool) bool {
	if m.machine.RestartCount() >= m.cfg.MaxRestarts {
		return false
	}
	switch m.cfg.RestartPolicy {
	case config.RestartNever:
		return false
	case config.RestartAlways:
		return true
	case config.RestartUnlessStopped:
		return !stoppedByOperator
	case config.RestartOnFailure:
		return m.machine.State() == StateFailed
	default:
		return false
	}
}

// RestartBackoff computes the delay before the next restart attempt:
// base_delay × 2^restart_count, capped at max_delay.
func (m *Manager) RestartBackoff() time.Duration {
	count := m.machine.RestartCount()
	d := m.cfg.RestartBaseSec
	for i := 0; i < count; i++ {
		d *= 2
		if d > m.cfg.RestartCapSec {
			return m.cfg.RestartCapSec
		}
	}
	if d > m.cfg.RestartCapSec {
		return m.cfg.RestartCapSec
	}
	return d
}

// Restart transitions Failed -> Restarting -> Starting, or returns an
// apierr.RestartPolicyDenied error if the policy forbids it (exit code
// 4).
func (m *Manager) Restart(stoppedByOperator bool) error {
	if !m.ShouldRestart(stoppedByOperator) {
		m.machine.Transition(StateStopped, "restart_policy_denies")
		return apierr.RestartPolicyDenied(
			fmt.Sprintf("restart policy %q denies further restarts (count=%d, max=%d)",
				m.cfg.RestartPolicy, m.machine.RestartCount(), m.cfg.MaxRestarts), nil)
	}
	m.machine.Transition(StateRestarting, "restart_policy_permits")
	m.machine.Transition(StateStarting, "restart")
	return nil
}
