package toolscope

import (
	"context"
	"log/slog"
	"time"
)

// toolOptions hold optional tool settings (timeout, strict, tags, etc.).
type toolOptions struct {
	description string
	strict      bool
	timeout     time.Duration
	tags        []string
	version     string
	dangerous   bool
}

// ToolOption configures a tool (e.g. WithStrict, WithTimeout).
type ToolOption func(*toolOptions)

// WithDescription sets the human/LLM readable description of a tool built by NewFuncTool or RegisterTool.
func WithDescription(desc string) ToolOption {
	return func(o *toolOptions) {
		o.description = desc
	}
}

// WithStrict sets strict mode for schema: additionalProperties: false for all objects,
// and all properties become required. Use for OpenAI Structured Outputs compatibility.
func WithStrict() ToolOption {
	return func(o *toolOptions) {
		o.strict = true
	}
}

// WithTimeout sets a per-tool timeout; Engine prefers it over its default.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		o.timeout = d
	}
}

// WithTags sets tool tags (metadata for discovery/orchestrator).
func WithTags(tags ...string) ToolOption {
	return func(o *toolOptions) {
		o.tags = tags
	}
}

// WithVersion sets the tool version.
func WithVersion(version string) ToolOption {
	return func(o *toolOptions) {
		o.version = version
	}
}

// WithDangerous marks the tool as dangerous (orchestrator may require confirmation).
func WithDangerous() ToolOption {
	return func(o *toolOptions) {
		o.dangerous = true
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	timeout        time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, string, Args)
	onAfter        func(context.Context, string, Outcome, time.Duration)
}

// WithDefaultTimeout sets the default execution timeout for tools. Zero disables it.
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(o *engineOptions) {
		o.timeout = d
	}
}

// WithMaxConcurrency limits concurrent tool executions across all dispatchers sharing the engine.
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) EngineOption {
	return func(o *engineOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery in Execute (returns SystemError).
func WithRecoverPanics(enable bool) EngineOption {
	return func(o *engineOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeExecute sets a hook called before each tool execution.
func WithOnBeforeExecute(fn func(ctx context.Context, tool string, args Args)) EngineOption {
	return func(o *engineOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called after each tool execution.
func WithOnAfterExecute(fn func(ctx context.Context, tool string, out Outcome, dur time.Duration)) EngineOption {
	return func(o *engineOptions) {
		o.onAfter = fn
	}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	notifier    Notifier
	logger      *slog.Logger
	agentName   string
	middlewares []Middleware
	observer    Observer
	onBefore    func(context.Context, string, Args)
	onAfter     func(context.Context, DispatchSummary)
	onRelease   func()
}

// WithNotifier attaches a Notifier that receives lifecycle events. The dispatcher does not own it
// beyond calling Dispose (when implemented) on Cleanup.
func WithNotifier(n Notifier) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.notifier = n
	}
}

// WithLogger sets the structured logger (default slog.Default()).
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.logger = l
	}
}

// WithAgentName sets the agent name reported in notifications (default "tool_dispatcher").
func WithAgentName(name string) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.agentName = name
	}
}

// WithMiddleware applies middlewares to every tool of the dispatcher's registry (see Registry.Use).
func WithMiddleware(mw ...Middleware) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.middlewares = append(o.middlewares, mw...)
	}
}

// WithObserver reports executions to an Observer (e.g. Prometheus).
func WithObserver(obs Observer) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.observer = obs
	}
}

// WithOnBeforeDispatch sets a hook called before a registered tool is executed.
func WithOnBeforeDispatch(fn func(ctx context.Context, tool string, args Args)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterDispatch sets a hook called after every executed tool call.
func WithOnAfterDispatch(fn func(ctx context.Context, summary DispatchSummary)) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onAfter = fn
	}
}

func withReleaseHook(fn func()) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.onRelease = fn
	}
}
