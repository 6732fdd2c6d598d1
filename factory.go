package toolscope

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives dispatcher lifecycle and execution signals (see ext/dispatchprom).
// Implementations must be safe for concurrent use.
type Observer interface {
	DispatcherCreated()
	DispatcherCreateFailed()
	DispatcherReleased(lifetime time.Duration)
	ToolDispatched(tool string, status Status, dur time.Duration)
}

const defaultHealthBudget = 5 * time.Second

// FactoryOption configures a Factory.
type FactoryOption func(*factoryOptions)

type factoryOptions struct {
	transport      Emitter
	logger         *slog.Logger
	observer       Observer
	dispatcherOpts []DispatcherOption
	healthBudget   time.Duration
}

// WithTransport sets the shared Emitter; every dispatcher gets its own Bridge over it.
func WithTransport(e Emitter) FactoryOption {
	return func(o *factoryOptions) {
		o.transport = e
	}
}

// WithFactoryLogger sets the logger used by the factory and handed to its dispatchers.
func WithFactoryLogger(l *slog.Logger) FactoryOption {
	return func(o *factoryOptions) {
		o.logger = l
	}
}

// WithFactoryObserver reports factory and dispatcher signals to obs.
func WithFactoryObserver(obs Observer) FactoryOption {
	return func(o *factoryOptions) {
		o.observer = obs
	}
}

// WithDispatcherOptions adds options applied to every dispatcher before per-call options.
func WithDispatcherOptions(opts ...DispatcherOption) FactoryOption {
	return func(o *factoryOptions) {
		o.dispatcherOpts = append(o.dispatcherOpts, opts...)
	}
}

// WithHealthBudget sets how long HealthCheck may take before the factory is reported unhealthy.
// Non-positive values keep the default of 5s.
func WithHealthBudget(d time.Duration) FactoryOption {
	return func(o *factoryOptions) {
		o.healthBudget = d
	}
}

// FactoryStats are the factory counters at one point in time.
type FactoryStats struct {
	Created int64 `json:"created"`
	Failed  int64 `json:"failed"`
	Active  int64 `json:"active"`
}

// HealthStatus is the result of Factory.HealthCheck.
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
	Stats   FactoryStats  `json:"stats"`
}

// Factory builds request-scoped dispatchers sharing one ExecutionEngine and one notification transport.
// It is the only process-wide object; dispatchers themselves are never shared.
type Factory struct {
	engine  ExecutionEngine
	opts    factoryOptions
	created atomic.Int64
	failed  atomic.Int64
	active  atomic.Int64
}

// NewFactory creates a Factory over engine.
func NewFactory(engine ExecutionEngine, opts ...FactoryOption) *Factory {
	o := factoryOptions{healthBudget: defaultHealthBudget}
	for _, opt := range opts {
		opt(&o)
	}
	if o.healthBudget <= 0 {
		o.healthBudget = defaultHealthBudget
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return &Factory{engine: engine, opts: o}
}

// Create builds a dispatcher bound to rc. The caller must call Cleanup on it (or use Scoped).
func (f *Factory) Create(ctx context.Context, rc RequestContext, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := ctx.Err(); err != nil {
		f.creationFailed(rc, err)
		return nil, err
	}
	all := make([]DispatcherOption, 0, len(f.opts.dispatcherOpts)+len(opts)+4)
	all = append(all, WithLogger(f.opts.logger))
	if f.opts.transport != nil {
		all = append(all, WithNotifier(NewBridge(f.opts.transport, rc, f.opts.logger)))
	}
	if f.opts.observer != nil {
		all = append(all, WithObserver(f.opts.observer))
	}
	all = append(all, f.opts.dispatcherOpts...)
	all = append(all, opts...)
	all = append(all, withReleaseHook(f.release))

	d, err := NewDispatcher(rc, f.engine, all...)
	if err != nil {
		f.creationFailed(rc, err)
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	f.created.Add(1)
	f.active.Add(1)
	if f.opts.observer != nil {
		f.opts.observer.DispatcherCreated()
	}
	return d, nil
}

// Scoped creates a dispatcher, runs fn and cleans the dispatcher up on every exit path.
func (f *Factory) Scoped(ctx context.Context, rc RequestContext, fn func(d *Dispatcher) error, opts ...DispatcherOption) error {
	d, err := f.Create(ctx, rc, opts...)
	if err != nil {
		return err
	}
	defer d.Cleanup(context.WithoutCancel(ctx))
	return fn(d)
}

// Stats returns the current counters.
func (f *Factory) Stats() FactoryStats {
	return FactoryStats{
		Created: f.created.Load(),
		Failed:  f.failed.Load(),
		Active:  f.active.Load(),
	}
}

// HealthCheck performs one scoped construction with a synthetic request and reports whether it
// finished within the health budget.
func (f *Factory) HealthCheck(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, f.opts.healthBudget)
	defer cancel()
	start := time.Now()

	rc, err := NewRequestContext("health_check", "health_check_thread", "", WithMetadata("purpose", "health_check"))
	if err != nil {
		return HealthStatus{Error: err.Error(), Stats: f.Stats()}
	}
	done := make(chan error, 1)
	go func() {
		done <- f.Scoped(ctx, rc, func(d *Dispatcher) error {
			_, err := d.Metrics()
			return err
		})
	}()

	var status HealthStatus
	select {
	case err = <-done:
		status.Healthy = err == nil
		if err != nil {
			status.Error = err.Error()
		}
	case <-ctx.Done():
		status.Error = fmt.Sprintf("health check exceeded %s: %v", f.opts.healthBudget, ctx.Err())
	}
	status.Latency = time.Since(start)
	status.Stats = f.Stats()
	if !status.Healthy {
		f.opts.logger.Warn("dispatcher factory unhealthy", "error", status.Error, "latency", status.Latency)
	}
	return status
}

func (f *Factory) creationFailed(rc RequestContext, err error) {
	f.failed.Add(1)
	if f.opts.observer != nil {
		f.opts.observer.DispatcherCreateFailed()
	}
	f.opts.logger.Error("dispatcher creation failed", "user_id", rc.UserID(), "run_id", rc.RunID(), "error", err)
}

func (f *Factory) release() {
	f.active.Add(-1)
}
