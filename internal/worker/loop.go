package worker

import (
	"context"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/qflowio/queueworker/internal/logger"
	"github.com/qflowio/queueworker/internal/model"
	"github.com/qflowio/queueworker/internal/processor"
)

// Summary is the structured per-batch output the loop emits.
type Summary struct {
	Claimed    int
	Completed  int
	Failed     int
	DurationMS float64
	InstanceID string
}

// Config shapes one Loop's behavior.
type Config struct {
	FlowName        string
	BatchSize       int
	Concurrency     int // in-batch parallelism; default 1 (strict sequential)
	IdleBackoffMin  time.Duration
	IdleBackoffMax  time.Duration
	MaxBatches      int // 0 means unbounded; rolling-restart support
}

// Loop drives the processor: claim a batch, run the registered
// ProcessFunc over each record with per-record isolation, mark each
// completed or failed, and repeat until shutdown or MaxBatches is
// reached. Grounded on internal/jobs/worker/worker.go's runLoop, adapted
// from N independent polling goroutines (one per job_type handler) to a
// single claim loop whose in-batch concurrency is bounded by
// Config.Concurrency, processing records in the batch in parallel up to
// that configured concurrency rather than an "N parallel pollers" shape.
type Loop struct {
	proc     *processor.Processor
	registry *Registry
	cfg      Config
	log      *logger.Logger
	rng      *rand.Rand
	rngMu    sync.Mutex
}

func NewLoop(proc *processor.Processor, registry *Registry, cfg Config, log *logger.Logger) *Loop {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.IdleBackoffMin <= 0 {
		cfg.IdleBackoffMin = time.Second
	}
	if cfg.IdleBackoffMax <= 0 {
		cfg.IdleBackoffMax = 5 * time.Second
	}
	return &Loop{
		proc:     proc,
		registry: registry,
		cfg:      cfg,
		log:      log.With("component", "worker_loop", "flow", cfg.FlowName),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run drives batches until ctx is cancelled or MaxBatches is reached. It
// returns nil on a clean shutdown and the missing-handler error if no
// ProcessFunc is registered for the configured flow — that condition is
// fatal at startup, not retried per batch — per-record isolation only
// covers business-logic failures, not a missing handler.
func (l *Loop) Run(ctx context.Context) error {
	fn, ok := l.registry.Get(l.cfg.FlowName)
	if !ok {
		return missingHandlerError{flow: l.cfg.FlowName}
	}

	batches := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if l.cfg.MaxBatches > 0 && batches >= l.cfg.MaxBatches {
			return nil
		}

		summary, err := l.runBatch(ctx, fn)
		if err != nil {
			l.log.Warn("batch claim failed", "error", err)
			if !l.sleep(ctx, l.cfg.IdleBackoffMax) {
				return nil
			}
			continue
		}
		batches++

		if summary.Claimed == 0 {
			if !l.sleep(ctx, l.idleBackoff()) {
				return nil
			}
			continue
		}

		l.log.Info("batch summary",
			"claimed", summary.Claimed, "completed", summary.Completed,
			"failed", summary.Failed, "duration_ms", summary.DurationMS,
			"instance_id", summary.InstanceID)
	}
}

func (l *Loop) runBatch(ctx context.Context, fn ProcessFunc) (Summary, error) {
	start := time.Now()

	records, err := l.proc.ClaimBatch(ctx, l.cfg.FlowName, l.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Claimed: len(records), InstanceID: l.proc.Instance().ID}
	if len(records) == 0 {
		summary.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
		return summary, nil
	}

	sem := semaphore.NewWeighted(int64(l.cfg.Concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, rec := range records {
		rec := rec
		if err := sem.Acquire(ctx, 1); err != nil {
			// Shutdown mid-batch: records not yet acquired are left in
			// processing for orphan recovery.
			break
		}
		wg.Add(1)
		go func() {
			defer sem.Release(1)
			defer wg.Done()
			completed := l.processOne(ctx, fn, rec)
			mu.Lock()
			if completed {
				summary.Completed++
			} else {
				summary.Failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.DurationMS = float64(time.Since(start).Microseconds()) / 1000.0
	return summary, nil
}

// processOne runs fn against one record with panic recovery, so an
// exception from one record never affects the others. A panic in
// business logic is converted to a mark_failed the same way worker.go
// turns a recovered panic into jc.Fail("panic", ...) elsewhere in this
// codebase.
func (l *Loop) processOne(ctx context.Context, fn ProcessFunc, rec model.QueueRecord) (completed bool) {
	result, err := l.invoke(ctx, fn, rec)
	if err != nil {
		if pe, ok := err.(panicError); ok {
			l.log.Error("recovered panic in ProcessFunc", "record_id", rec.ID, "error", pe.Error(), "stack", string(pe.stack))
		}
		if failErr := l.proc.Fail(ctx, rec, err); failErr != nil {
			l.log.Error("mark_failed itself failed", "record_id", rec.ID, "error", failErr)
		}
		return false
	}
	if err := l.proc.Complete(ctx, rec, result); err != nil {
		l.log.Error("mark_completed failed", "record_id", rec.ID, "error", err)
		return false
	}
	return true
}

func (l *Loop) invoke(ctx context.Context, fn ProcessFunc, rec model.QueueRecord) (result model.Payload, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn(ctx, rec)
}

// idleBackoff returns a jittered duration in [IdleBackoffMin,
// IdleBackoffMax) to sleep for when a batch comes back empty.
func (l *Loop) idleBackoff() time.Duration {
	l.rngMu.Lock()
	defer l.rngMu.Unlock()
	span := l.cfg.IdleBackoffMax - l.cfg.IdleBackoffMin
	if span <= 0 {
		return l.cfg.IdleBackoffMin
	}
	return l.cfg.IdleBackoffMin + time.Duration(l.rng.Int63n(int64(span)))
}

// sleep waits for d or ctx cancellation, returning false if ctx was
// cancelled first so callers can unwind cleanly. The loop voluntarily
// yields between records so signal handling and health probes are never
// starved.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

type missingHandlerError struct{ flow string }

func (e missingHandlerError) Error() string {
	return "worker: no ProcessFunc registered for flow " + e.flow
}

type panicError struct {
	value interface{}
	stack []byte
}

func (e panicError) Error() string {
	return "panic in ProcessFunc: " + toString(e.value)
}

func toString(v interface{}) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "non-error panic value"
}
