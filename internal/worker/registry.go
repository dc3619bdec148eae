// Package worker drives the claim/process/complete-or-fail batch loop,
// directly generalizing internal/jobs/worker/worker.go's runLoop and
// internal/jobs/runtime registry from a job_type-keyed dispatch table to
// a flow_name-keyed one.
package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/qflowio/queueworker/internal/model"
)

// ProcessFunc is the capability interface business logic implements: take
// one claimed record, return the result payload to merge on success, or
// an error to route to mark_failed. Flows register a typed ProcessFunc
// rather than relying on a bare untyped callback with no registration.
type ProcessFunc func(ctx context.Context, rec model.QueueRecord) (model.Payload, error)

// Registry maps flow_name to its ProcessFunc, generalizing
// runtime.Registry (job_type → Handler, internal/jobs/runtime/registry.go)
// the same way: duplicate registration is rejected, lookups are
// concurrency-safe. A queueworker process serves exactly one flow_name,
// so Registry is consulted once at startup to resolve that single
// ProcessFunc; it stays a map rather than a single field so one binary
// can be built to serve more than one flow via APP_FLOW_NAME without a
// code change.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ProcessFunc
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]ProcessFunc)}
}

// Register adds fn under flowName. It returns an error on an empty name,
// a nil fn, or a duplicate registration — the same three rejections
// Registry.Register enforces elsewhere in this codebase.
func (r *Registry) Register(flowName string, fn ProcessFunc) error {
	if flowName == "" {
		return fmt.Errorf("worker: empty flow name")
	}
	if fn == nil {
		return fmt.Errorf("worker: nil ProcessFunc for flow %q", flowName)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[flowName]; exists {
		return fmt.Errorf("worker: flow %q already registered", flowName)
	}
	r.funcs[flowName] = fn
	return nil
}

// Get looks up the ProcessFunc for flowName.
func (r *Registry) Get(flowName string) (ProcessFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[flowName]
	return fn, ok
}
