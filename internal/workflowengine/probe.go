// Package workflowengine implements only the dependency-probe interface
// the Lifecycle Manager needs for the optional workflow-engine endpoint,
// one of the declared dependencies the manager waits on and probes. It
// never touches flow decorators, task mapping, or the workflow engine's
// own UI — that integration surface is out of scope here. Grounded on
// internal/temporalx/client.go's dial-with-backoff shape, reduced to a
// single CheckHealth call since no workflow is ever started here.
package workflowengine

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/workflowservice/v1"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/qflowio/queueworker/internal/logger"
)

// Probe dials a Temporal server once at construction and exposes only a
// health check; it never starts, signals, or queries workflows.
type Probe struct {
	client    temporalsdkclient.Client
	namespace string
	log       *logger.Logger
}

// Dial connects to address/namespace under dialTimeout, the same
// DialContext call NewClient makes elsewhere in this codebase; callers
// that don't configure APP_WORKFLOW_ENGINE_ADDR never construct a Probe
// at all, since this dependency is optional.
func Dial(ctx context.Context, address, namespace string, dialTimeout time.Duration, log *logger.Logger) (*Probe, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	c, err := temporalsdkclient.DialContext(dialCtx, temporalsdkclient.Options{
		HostPort:  address,
		Namespace: namespace,
		Logger:    dialAdapter{log: log},
	})
	if err != nil {
		return nil, fmt.Errorf("workflowengine: dial %s: %w", address, err)
	}
	return &Probe{client: c, namespace: namespace, log: log.With("component", "workflowengine_probe")}, nil
}

// CheckHealth implements the dependency-probe contract the Lifecycle
// Manager calls during its startup dependency wait; as a non-required
// dependency it is not re-probed by the manager's running health loop.
// It issues a lightweight namespace describe rather than starting any
// workflow.
func (p *Probe) CheckHealth(ctx context.Context, timeout time.Duration) error {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := p.client.WorkflowService().DescribeNamespace(checkCtx, &workflowservice.DescribeNamespaceRequest{
		Namespace: p.namespace,
	})
	if err != nil {
		return fmt.Errorf("workflowengine: describe namespace %s: %w", p.namespace, err)
	}
	return nil
}

// Close releases the underlying gRPC connection.
func (p *Probe) Close() {
	p.client.Close()
}

// dialAdapter satisfies temporalsdkclient.Options.Logger (a
// log.Logger-shaped interface of Debug/Info/Warn/Error(msg, kv...))
// using our own *logger.Logger, the same pass-through pattern used
// elsewhere in this codebase, handing a *logger.Logger straight into
// temporalsdkclient.Options.Logger.
type dialAdapter struct {
	log *logger.Logger
}

func (a dialAdapter) Debug(msg string, kv ...interface{}) { a.log.Debug(msg, kv...) }
func (a dialAdapter) Info(msg string, kv ...interface{})  { a.log.Info(msg, kv...) }
func (a dialAdapter) Warn(msg string, kv ...interface{})  { a.log.Warn(msg, kv...) }
func (a dialAdapter) Error(msg string, kv ...interface{}) { a.log.Error(msg, kv...) }
