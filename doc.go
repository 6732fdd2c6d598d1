// Package toolscope provides a request-scoped tool dispatcher for multi-agent chat backends.
//
// # Overview
//
// Every inbound request gets its own Dispatcher bound to one immutable RequestContext
// (user, thread, run). The dispatcher owns a private Registry of tools, delegates execution
// to a shared ExecutionEngine and reports lifecycle events (tool_executing, tool_completed, ...)
// to an optional Notifier, typically a Bridge over a WebSocket or NATS Emitter.
//
// Pipeline: RequestContext → Factory.Create (or NewDispatcher) → RegisterTool → Dispatch →
// Registry lookup → notify executing → Engine.Execute → notify completed → Result → Cleanup.
//
// # Key concepts
//
//   - One dispatcher per request: tools and metrics never leak between users or runs.
//   - Results, not panics: unknown tools and failing tools come back as a Result with
//     Status == StatusError. Only ErrDisposed is returned as an error.
//   - Best-effort notifications: a broken notifier never changes the outcome of a tool call.
//
// # Example
//
//	rc, err := toolscope.NewRequestContext("user-1", "thread-1", "")
//	if err != nil { ... }
//	engine := toolscope.NewEngine()
//	err = toolscope.WithDispatcher(ctx, rc, engine, func(d *toolscope.Dispatcher) error {
//	    _ = d.RegisterTool("echo", toolscope.SyncHandler(func(a toolscope.Args) (any, error) {
//	        return "Echo: " + a.String("query"), nil
//	    }))
//	    res, err := d.Dispatch(ctx, "echo", toolscope.Args{"query": "hi"})
//	    ...
//	})
package toolscope
