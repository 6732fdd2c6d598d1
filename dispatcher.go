package toolscope

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const defaultAgentName = "tool_dispatcher"

var errNilEngine = errors.New("execution engine must not be nil")

// Dispatcher is the per-request façade over a private Registry, a shared ExecutionEngine and an
// optional Notifier. Create one per inbound request (NewDispatcher, Factory.Create, WithDispatcher)
// and call Cleanup when the request ends. After Cleanup every method returns ErrDisposed.
type Dispatcher struct {
	rc        RequestContext
	registry  *Registry
	engine    ExecutionEngine
	notifier  Notifier
	logger    *slog.Logger
	agentName string
	opts      dispatcherOptions

	mu        sync.Mutex
	disposed  bool
	executed  int
	succeeded int
	failed    int
	total     time.Duration
	createdAt time.Time
	lastExec  time.Time
}

// NewDispatcher binds a new dispatcher to rc. rc must pass VerifyIsolation.
func NewDispatcher(rc RequestContext, engine ExecutionEngine, opts ...DispatcherOption) (*Dispatcher, error) {
	if err := rc.VerifyIsolation(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errNilEngine
	}
	o := dispatcherOptions{agentName: defaultAgentName}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.agentName == "" {
		o.agentName = defaultAgentName
	}
	reg := NewRegistry()
	if len(o.middlewares) > 0 {
		reg.Use(o.middlewares...)
	}
	d := &Dispatcher{
		rc:        rc,
		registry:  reg,
		engine:    engine,
		notifier:  o.notifier,
		logger:    o.logger.With("user_id", rc.UserID(), "run_id", rc.RunID(), "correlation_id", rc.CorrelationID()),
		agentName: o.agentName,
		opts:      o,
		createdAt: time.Now(),
	}
	d.logger.Debug("dispatcher created", "notifier", d.notifier != nil)
	return d, nil
}

func (d *Dispatcher) checkActive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return ErrDisposed
	}
	return nil
}

// RequestContext returns the identity the dispatcher is bound to.
func (d *Dispatcher) RequestContext() RequestContext { return d.rc }

// IsActive reports whether Cleanup has not run yet.
func (d *Dispatcher) IsActive() bool {
	return d.checkActive() == nil
}

// Notifier returns the attached notifier, or NopNotifier when none is attached. Agents use it for
// agent-level events (agent_started, agent_thinking, ...).
func (d *Dispatcher) Notifier() Notifier {
	if d.notifier == nil {
		return NopNotifier{}
	}
	return d.notifier
}

// RegisterTool registers handler under name. An existing tool with the same name is replaced.
func (d *Dispatcher) RegisterTool(name string, handler Handler, opts ...ToolOption) error {
	if err := d.checkActive(); err != nil {
		return err
	}
	t, err := NewFuncTool(name, handler, opts...)
	if err != nil {
		return err
	}
	return d.registry.Register(t)
}

// Register registers prebuilt tools (NewTool, NewDynamicTool, custom implementations).
func (d *Dispatcher) Register(tools ...Tool) error {
	if err := d.checkActive(); err != nil {
		return err
	}
	return d.registry.RegisterMany(tools...)
}

// HasTool reports whether name is registered with this dispatcher.
func (d *Dispatcher) HasTool(name string) (bool, error) {
	if err := d.checkActive(); err != nil {
		return false, err
	}
	return d.registry.Has(name), nil
}

// Tools returns the sorted names of the registered tools.
func (d *Dispatcher) Tools() ([]string, error) {
	if err := d.checkActive(); err != nil {
		return nil, err
	}
	return d.registry.Names(), nil
}

// Definitions returns the registered tools, e.g. to describe them to an LLM.
func (d *Dispatcher) Definitions() ([]Tool, error) {
	if err := d.checkActive(); err != nil {
		return nil, err
	}
	return d.registry.All(), nil
}

// Dispatch runs the tool registered under name. Unknown tools and tool failures are reported in the
// Result (Status == StatusError); the returned error is non-nil only for ErrDisposed.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args Args) (Result, error) {
	if err := d.checkActive(); err != nil {
		return Result{}, err
	}
	t, ok := d.registry.Get(name)
	if !ok {
		d.logger.Warn("tool not found", "tool", name)
		return errorResult(name, &notFoundError{tool: name, cause: ErrToolNotFound}, d.meta()), nil
	}
	return d.run(ctx, name, args, func(ctx context.Context) Outcome {
		return d.engine.Execute(ctx, t, args)
	}), nil
}

// DispatchTool runs name with a shared State. runID must be the run id the dispatcher is bound to;
// otherwise nothing is executed and a not-found Result wrapping ErrIsolation is returned.
func (d *Dispatcher) DispatchTool(ctx context.Context, name string, params Args, state *State, runID string) (Result, error) {
	if err := d.checkActive(); err != nil {
		return Result{}, err
	}
	if runID != d.rc.RunID() {
		d.logger.Error("run id mismatch, refusing to execute tool", "tool", name, "requested_run_id", runID)
		return errorResult(name, &notFoundError{tool: name, cause: ErrIsolation}, d.meta()), nil
	}
	t, ok := d.registry.Get(name)
	if !ok {
		d.logger.Warn("tool not found", "tool", name)
		return errorResult(name, &notFoundError{tool: name, cause: ErrToolNotFound}, d.meta()), nil
	}
	if state == nil {
		state = NewState(nil)
	}
	return d.run(ctx, name, params, func(ctx context.Context) Outcome {
		return d.engine.ExecuteWithState(ctx, t, params, state, runID)
	}), nil
}

func (d *Dispatcher) run(ctx context.Context, name string, args Args, exec func(context.Context) Outcome) Result {
	ctx = ContextWithRequest(ctx, d.rc)
	runID := d.rc.RunID()
	if d.opts.onBefore != nil {
		d.guard("before-dispatch hook", func() { d.opts.onBefore(ctx, name, args) })
	}
	start := time.Now()
	d.notify(EventToolExecuting, func(n Notifier) bool {
		return n.NotifyToolExecuting(ctx, runID, d.agentName, name, args)
	})

	out := safeExecute(ctx, exec)
	dur := time.Since(start)
	d.record(out.OK(), start, dur)

	meta := d.meta()
	meta["duration_ms"] = durationMillis(dur)
	var res Result
	if v, ok := out.Value(); ok {
		d.notify(EventToolCompleted, func(n Notifier) bool {
			return n.NotifyToolCompleted(ctx, runID, d.agentName, name, v, dur)
		})
		res = successResult(name, v, meta)
	} else {
		err := out.Err()
		d.logger.Warn("tool failed", "tool", name, "duration", dur, "error", err)
		d.notify(EventToolCompleted, func(n Notifier) bool {
			return n.NotifyToolCompleted(ctx, runID, d.agentName, name,
				map[string]any{"status": string(StatusError), "error": err.Error()}, dur)
		})
		res = errorResult(name, err, meta)
	}

	if d.opts.observer != nil {
		d.guard("observer", func() { d.opts.observer.ToolDispatched(name, res.Status, dur) })
	}
	if d.opts.onAfter != nil {
		summary := DispatchSummary{
			ToolName:      name,
			RunID:         runID,
			CorrelationID: d.rc.CorrelationID(),
			Status:        res.Status,
			Error:         res.Err,
			Duration:      dur,
		}
		d.guard("after-dispatch hook", func() { d.opts.onAfter(ctx, summary) })
	}
	return res
}

// safeExecute converts a panicking engine into a failed Outcome.
func safeExecute(ctx context.Context, exec func(context.Context) Outcome) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = Failed(&SystemError{Err: &panicError{p: p}})
		}
	}()
	return exec(ctx)
}

// guard runs a caller-supplied callback; a panic is logged and does not reach the caller of Dispatch.
func (d *Dispatcher) guard(what string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error(what+" panicked", "panic", p)
		}
	}()
	fn()
}

// notify delivers one event best-effort: a false return or a panic is logged and ignored.
func (d *Dispatcher) notify(typ EventType, send func(Notifier) bool) {
	if d.notifier == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("notifier panicked", "event", typ, "panic", p)
		}
	}()
	if !send(d.notifier) {
		d.logger.Debug("notification not delivered", "event", typ)
	}
}

func (d *Dispatcher) record(ok bool, start time.Time, dur time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.executed++
	if ok {
		d.succeeded++
	} else {
		d.failed++
	}
	d.total += dur
	d.lastExec = start
}

func (d *Dispatcher) meta() map[string]any {
	return map[string]any{
		"correlation_id": d.rc.CorrelationID(),
		"run_id":         d.rc.RunID(),
	}
}

// Metrics returns a snapshot of the dispatcher's counters.
func (d *Dispatcher) Metrics() (Metrics, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return Metrics{}, ErrDisposed
	}
	m := Metrics{
		UserID:             d.rc.UserID(),
		ThreadID:           d.rc.ThreadID(),
		RunID:              d.rc.RunID(),
		CorrelationID:      d.rc.CorrelationID(),
		ToolsExecuted:      d.executed,
		Successful:         d.succeeded,
		Failed:             d.failed,
		TotalExecutionTime: d.total,
		CreatedAt:          d.createdAt,
		LastExecution:      d.lastExec,
		RegisteredTools:    d.registry.Len(),
		NotifierAttached:   d.notifier != nil,
	}
	if attempts := d.succeeded + d.failed; attempts > 0 {
		m.SuccessRate = float64(d.succeeded) / float64(attempts)
	}
	if d.executed > 0 {
		m.AvgExecutionTime = d.total / time.Duration(d.executed)
	}
	return m, nil
}

// Cleanup disposes the notifier (when it implements Disposer), clears the registry and marks the
// dispatcher disposed. Safe to call more than once; later calls do nothing. Notifier disposal
// failures are logged, never returned.
func (d *Dispatcher) Cleanup(ctx context.Context) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return
	}
	d.disposed = true
	lifetime := time.Since(d.createdAt)
	d.mu.Unlock()

	if disp, ok := d.notifier.(Disposer); ok {
		d.disposeNotifier(ctx, disp)
	}
	d.registry.Clear()
	if d.opts.onRelease != nil {
		d.opts.onRelease()
	}
	if d.opts.observer != nil {
		d.guard("observer", func() { d.opts.observer.DispatcherReleased(lifetime) })
	}
	d.logger.Debug("dispatcher disposed", "lifetime", lifetime)
}

func (d *Dispatcher) disposeNotifier(ctx context.Context, disp Disposer) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("notifier dispose panicked", "panic", p)
		}
	}()
	if err := disp.Dispose(ctx); err != nil {
		d.logger.Warn("notifier dispose failed", "error", err)
	}
}
