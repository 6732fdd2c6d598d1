package toolscope

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ExecutionEngine runs a resolved tool. Implementations report every failure, including panics,
// through the returned Outcome.
type ExecutionEngine interface {
	Execute(ctx context.Context, tool Tool, args Args) Outcome
	// ExecuteWithState runs tool with a shared State and the caller's run id available to it
	// through StateFromContext and RunIDFromContext.
	ExecuteWithState(ctx context.Context, tool Tool, args Args, state *State, runID string) Outcome
}

// Engine is the default ExecutionEngine: timeout, concurrency limit and optional panic recovery.
// One Engine is normally shared by all dispatchers of a process; it holds no per-request state.
type Engine struct {
	sem     chan struct{}
	opts    engineOptions
	done    chan struct{}
	running sync.WaitGroup
	mu      sync.Mutex
}

// NewEngine creates an Engine with the given options.
func NewEngine(opts ...EngineOption) *Engine {
	o := engineOptions{
		timeout:        30 * time.Second,
		maxConcurrency: 10,
		recoverPanics:  true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	var sem chan struct{}
	if o.maxConcurrency > 0 {
		sem = make(chan struct{}, o.maxConcurrency)
	}
	return &Engine{
		sem:  sem,
		opts: o,
		done: make(chan struct{}),
	}
}

// Execute runs one tool call. The after-execution hook (WithOnAfterExecute) is always invoked
// via defer with the final Outcome.
func (e *Engine) Execute(ctx context.Context, t Tool, args Args) (out Outcome) {
	if t == nil {
		return Failed(ErrToolNotFound)
	}
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return Failed(ErrShutdown)
	default:
	}
	e.running.Add(1)
	e.mu.Unlock()
	defer e.running.Done()

	if err := e.acquireSemaphore(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Failed(ErrTimeout)
		}
		return Failed(err)
	}
	defer e.releaseSemaphore()

	timeout := e.opts.timeout
	if tm, ok := t.(ToolMetadata); ok && tm.Timeout() > 0 {
		timeout = tm.Timeout()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	name := t.Name()
	start := time.Now()
	// Recover defer is registered after onAfter so it runs first on panic and sets out before the hook runs.
	defer func() {
		if e.opts.onAfter != nil {
			e.opts.onAfter(ctx, name, out, time.Since(start))
		}
	}()
	if e.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				out = Failed(&SystemError{Err: &panicError{p: p}})
			}
		}()
	}

	if e.opts.onBefore != nil {
		e.opts.onBefore(ctx, name, args)
	}

	res, err := t.Execute(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Failed(fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, err))
		}
		return Failed(err)
	}
	return Succeeded(res)
}

// ExecuteWithState runs tool with state and runID stored in ctx.
func (e *Engine) ExecuteWithState(ctx context.Context, t Tool, args Args, state *State, runID string) Outcome {
	return e.Execute(contextWithState(ctx, state, runID), t, args)
}

func (e *Engine) acquireSemaphore(ctx context.Context) error {
	if e.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseSemaphore() {
	if e.sem != nil {
		<-e.sem
	}
}

// Shutdown closes the engine for new calls and waits for in-flight executions or ctx to cancel.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	select {
	case <-e.done:
		e.mu.Unlock()
		return nil
	default:
		close(e.done)
	}
	e.mu.Unlock()
	done := make(chan struct{})
	go func() {
		e.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EngineFunc adapts a function to ExecutionEngine; the state variant stores state and run id in ctx
// before calling it. Handy for tests and for wrapping remote executors.
type EngineFunc func(ctx context.Context, tool Tool, args Args) Outcome

func (f EngineFunc) Execute(ctx context.Context, t Tool, args Args) Outcome {
	return f(ctx, t, args)
}

func (f EngineFunc) ExecuteWithState(ctx context.Context, t Tool, args Args, state *State, runID string) Outcome {
	return f(contextWithState(ctx, state, runID), t, args)
}

var (
	_ ExecutionEngine = (*Engine)(nil)
	_ ExecutionEngine = EngineFunc(nil)
)
