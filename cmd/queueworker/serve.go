package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/qflowio/queueworker/internal/apierr"
	"github.com/qflowio/queueworker/internal/cache"
	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/gateway"
	"github.com/qflowio/queueworker/internal/health"
	"github.com/qflowio/queueworker/internal/lifecycle"
	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/internal/processor"
	"github.com/qflowio/queueworker/internal/repository"
	"github.com/qflowio/queueworker/internal/signalx"
	"github.com/qflowio/queueworker/internal/worker"
	"github.com/qflowio/queueworker/internal/workflowengine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker loop, health surface, and lifecycle supervision",
	Long: `serve is the long-running process: it validates startup, waits
for every declared dependency, then runs the claim/process/complete-or-
fail batch loop, periodic orphan recovery, periodic health probing, and
an HTTP health surface side by side until a signal asks it to stop.`,
	RunE: runServe,
}

// runServe builds every component in dependency order (Gateway ->
// Repository -> Processor -> Worker -> Lifecycle -> Health) and runs
// them until shutdown, then exits through apierr.ExitCode so the
// process's exit status always matches the documented table. The wiring
// order follows the same construct-then-Start(ctx) shape as a
// cmd/main.go -> app.New() -> app.Start(ctx) chain, generalized from
// "one HTTP server" to "one worker loop plus one health server,
// supervised by a restart-aware state machine".
func runServe(cmd *cobra.Command, args []string) error {
	bootLog, err := logger.New("production")
	if err != nil {
		return err
	}
	defer bootLog.Sync()

	cfg, err := config.Load(bootLog)
	if err != nil {
		os.Exit(apierr.ExitCode(err))
	}

	log, err := logger.New(loggerMode(cfg.LogFormat))
	if err != nil {
		os.Exit(apierr.ExitCode(apierr.Config("building logger", err)))
	}
	log = log.With("flow", cfg.FlowName)

	instance, err := model.NewWorkerInstance(cfg.FlowName, cfg.InstanceID)
	if err != nil {
		os.Exit(apierr.ExitCode(apierr.Config("failed to build worker instance identity", err)))
	}
	log = log.With("instance", instance.ID)
	log.Info("starting", "host", instance.Host)

	queueGW, err := gateway.Open(toStoreDescriptor(cfg.Queue), log)
	if err != nil {
		os.Exit(apierr.ExitCode(apierr.FatalStore("opening queue store", err)))
	}
	defer queueGW.Close()

	sourceGWs := make([]*gateway.Gateway, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		gw, err := gateway.Open(toStoreDescriptor(sc), log)
		if err != nil {
			log.Warn("source store unreachable at startup, continuing degraded", "store", sc.Name, "error", err)
			continue
		}
		defer gw.Close()
		sourceGWs = append(sourceGWs, gw)
	}

	repo := repository.New(queueGW)
	proc := processor.New(repo, instance, log)

	registry := worker.NewRegistry()
	if err := registry.Register(cfg.FlowName, worker.EchoProcessFunc); err != nil {
		os.Exit(apierr.ExitCode(apierr.Config("registering flow handler", err)))
	}

	loop := worker.NewLoop(proc, registry, worker.Config{
		FlowName:       cfg.FlowName,
		BatchSize:      cfg.BatchSize,
		Concurrency:    cfg.WorkerConcurrency,
		IdleBackoffMin: time.Second,
		IdleBackoffMax: 5 * time.Second,
	}, log)

	var snapshotCache *cache.QueueSnapshotCache
	if cfg.CacheAddr != "" {
		snapshotCache, err = cache.New(cfg.CacheAddr, log)
		if err != nil {
			log.Warn("queue-snapshot cache unreachable, continuing without it", "error", err)
			snapshotCache = nil
		} else {
			defer snapshotCache.Close()
		}
	}

	var wfProbe *workflowengine.Probe
	deps := []lifecycle.Dependency{
		{Name: cfg.Queue.Name, Required: true, Probe: func(ctx context.Context) error {
			if !queueGW.Probe(ctx, cfg.HealthTimeout).Reachable {
				return fmt.Errorf("queue store not reachable")
			}
			return nil
		}},
	}
	for i, gw := range sourceGWs {
		gw := gw
		deps = append(deps, lifecycle.Dependency{
			Name: cfg.Sources[i].Name, Required: false, Probe: func(ctx context.Context) error {
				if !gw.Probe(ctx, cfg.HealthTimeout).Reachable {
					return fmt.Errorf("source store not reachable")
				}
				return nil
			},
		})
	}
	if cfg.WorkflowEngineAddr != "" {
		wfProbe, err = workflowengine.Dial(context.Background(), cfg.WorkflowEngineAddr, "default", 10*time.Second, log)
		if err != nil {
			log.Warn("workflow-engine endpoint unreachable at startup, continuing degraded", "error", err)
		} else {
			defer wfProbe.Close()
			deps = append(deps, lifecycle.Dependency{
				Name: "workflow_engine", Required: false, Probe: func(ctx context.Context) error {
					return wfProbe.CheckHealth(ctx, cfg.HealthTimeout)
				},
			})
		}
	}

	manager := lifecycle.NewManager(cfg, log, deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Start(ctx); err != nil {
		os.Exit(apierr.ExitCode(err))
	}

	stores := []health.StoreProbe{{Name: cfg.Queue.Name, Required: true, Gateway: queueGW}}
	for i, gw := range sourceGWs {
		stores = append(stores, health.StoreProbe{Name: cfg.Sources[i].Name, Required: false, Gateway: gw})
	}
	surface := health.New(instance, stores, proc, manager.Machine(), cfg, snapshotCache, log)
	healthServer := health.NewServer(surface, log)

	errCh := make(chan error, 4)

	go func() {
		if err := healthServer.ListenAndServe(ctx, cfg.HealthAddr, cfg.GracePeriod); err != nil {
			errCh <- fmt.Errorf("health server: %w", err)
		}
	}()

	go manager.RunHealthLoop(ctx, nil)

	go func() {
		if err := loop.Run(ctx); err != nil {
			errCh <- fmt.Errorf("worker loop: %w", err)
		}
	}()

	go runOrphanRecovery(ctx, proc, cfg, log)

	sigCh, stopSignals := signalx.Notify()
	defer stopSignals()

	var finalErr error
	var caughtSignal os.Signal
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", "kind", sig.Kind, "signal", sig.Signal)
		caughtSignal = sig.Signal
		manager.Stop("signal")
		cancel()
		if sig.Kind == signalx.ShutdownImmediate {
			manager.Stopped("signal_immediate")
			os.Exit(signalx.ExitCodeForSignal(sig.Signal))
		}
	case finalErr = <-errCh:
		log.Error("component failed, shutting down", "error", finalErr)
		manager.Stop("component_failure")
		cancel()
	case <-ctx.Done():
	}

	waitForGrace(cfg.GracePeriod)
	manager.Stopped("graceful_shutdown_complete")

	if finalErr != nil {
		os.Exit(apierr.ExitCode(finalErr))
	}
	if caughtSignal != nil {
		os.Exit(signalx.ExitCodeForSignal(caughtSignal))
	}
	return nil
}

// loggerMode maps APP_LOG_FORMAT ("json"/"console") onto logger.New's
// "production"/"development" mode switch, since zap's production config
// defaults to JSON encoding and its development config to console
// encoding.
func loggerMode(format string) string {
	if format == "console" {
		return "development"
	}
	return "production"
}

func waitForGrace(d time.Duration) {
	if d <= 0 {
		return
	}
	<-time.After(d)
}

func runOrphanRecovery(ctx context.Context, proc *processor.Processor, cfg config.Config, log *logger.Logger) {
	ticker := time.NewTicker(cfg.OrphanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := proc.RecoverOrphans(ctx, cfg.OrphanTimeout); err != nil {
				log.Warn("orphan recovery failed", "error", err)
			}
			if _, err := proc.RetryFailed(ctx, cfg.FlowName, cfg.MaxRetries); err != nil {
				log.Warn("retry_failed sweep failed", "error", err)
			}
		}
	}
}

