package toolscope

import (
	"context"
	"log/slog"
	"time"
)

// Middleware decorates a Tool. Dispatchers apply their middlewares to every registered tool.
type Middleware func(Tool) Tool

// WithLogging logs each call with its duration and error. Calls made through a Dispatcher also
// carry run_id and correlation_id.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Tool) Tool {
		return &loggingTool{ToolBase: ToolBase{Next: next}, logger: logger}
	}
}

// WithRecovery turns a panic inside the tool into a *SystemError.
func WithRecovery() Middleware {
	return func(next Tool) Tool {
		return &recoveryTool{ToolBase{Next: next}}
	}
}

// WithTimeoutMiddleware bounds each call by d. It only shortens the call context and does not
// change the reported ToolMetadata.Timeout, so the engine timeout still applies and the shorter wins.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Tool) Tool {
		return &timeoutTool{ToolBase: ToolBase{Next: next}, timeout: d}
	}
}

// ToolBase delegates Tool metadata and ToolMetadata to the wrapped Tool. Embed it in middleware
// wrappers (including those of other packages) and override Execute.
type ToolBase struct{ Next Tool }

func (b *ToolBase) Name() string               { return b.Next.Name() }
func (b *ToolBase) Description() string        { return b.Next.Description() }
func (b *ToolBase) Parameters() map[string]any { return b.Next.Parameters() }

func (b *ToolBase) Execute(ctx context.Context, args Args) (any, error) {
	return b.Next.Execute(ctx, args)
}

func (b *ToolBase) Timeout() time.Duration { return b.metadata().Timeout() }
func (b *ToolBase) Tags() []string         { return b.metadata().Tags() }
func (b *ToolBase) Version() string        { return b.metadata().Version() }
func (b *ToolBase) IsDangerous() bool      { return b.metadata().IsDangerous() }

func (b *ToolBase) metadata() ToolMetadata {
	if tm, ok := b.Next.(ToolMetadata); ok {
		return tm
	}
	return noMetadata{}
}

// noMetadata stands in for wrapped tools that do not implement ToolMetadata.
type noMetadata struct{}

func (noMetadata) Timeout() time.Duration { return 0 }
func (noMetadata) Tags() []string         { return nil }
func (noMetadata) Version() string        { return "" }
func (noMetadata) IsDangerous() bool      { return false }

type loggingTool struct {
	ToolBase
	logger *slog.Logger
}

func (m *loggingTool) Execute(ctx context.Context, args Args) (any, error) {
	logger := m.logger.With("tool", m.Next.Name())
	if rc, ok := RequestFromContext(ctx); ok {
		logger = logger.With("run_id", rc.RunID(), "correlation_id", rc.CorrelationID())
	}
	logger.Info("tool start")
	start := time.Now()
	res, err := m.Next.Execute(ctx, args)
	dur := time.Since(start)
	if err != nil {
		logger.Error("tool error", "duration", dur, "error", err)
		return nil, err
	}
	logger.Info("tool end", "duration", dur)
	return res, nil
}

type recoveryTool struct{ ToolBase }

func (r *recoveryTool) Execute(ctx context.Context, args Args) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &SystemError{Err: &panicError{p: p}}
		}
	}()
	return r.Next.Execute(ctx, args)
}

type timeoutTool struct {
	ToolBase
	timeout time.Duration
}

func (t *timeoutTool) Execute(ctx context.Context, args Args) (any, error) {
	if t.timeout <= 0 {
		return t.Next.Execute(ctx, args)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Next.Execute(ctx, args)
}

// Use replaces the middleware chain and rewraps every registered tool from its unwrapped form.
// The first middleware is the outermost. Tools registered later are wrapped too.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = middlewares
	for name, raw := range r.rawTools {
		r.tools[name] = r.wrap(raw)
	}
}

var (
	_ Tool         = (*ToolBase)(nil)
	_ ToolMetadata = (*ToolBase)(nil)
	_ ToolMetadata = noMetadata{}
)
