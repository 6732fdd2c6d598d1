package toolscope

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// EventType names a lifecycle event delivered to the client.
type EventType string

const (
	EventAgentStarted   EventType = "agent_started"
	EventAgentThinking  EventType = "agent_thinking"
	EventToolExecuting  EventType = "tool_executing"
	EventToolCompleted  EventType = "tool_completed"
	EventAgentCompleted EventType = "agent_completed"
	EventAgentError     EventType = "agent_error"
	EventProgressUpdate EventType = "progress_update"
)

// Event is one lifecycle notification as handed to an Emitter.
type Event struct {
	Type          EventType      `json:"type"`
	RunID         string         `json:"run_id"`
	AgentName     string         `json:"agent_name"`
	UserID        string         `json:"user_id"`
	ThreadID      string         `json:"thread_id"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// Emitter is the transport side of notifications (WebSocket hub, NATS publisher, ...).
// Implementations are shared between requests and must be safe for concurrent use.
type Emitter interface {
	Emit(ctx context.Context, ev Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, ev Event) error

func (f EmitterFunc) Emit(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Notifier receives the lifecycle events of one request. Every method reports whether the event
// was delivered; implementations must not panic.
type Notifier interface {
	NotifyAgentStarted(ctx context.Context, runID, agentName string, data map[string]any) bool
	NotifyAgentThinking(ctx context.Context, runID, agentName, thought string, step int) bool
	NotifyToolExecuting(ctx context.Context, runID, agentName, toolName string, params Args) bool
	NotifyToolCompleted(ctx context.Context, runID, agentName, toolName string, result any, dur time.Duration) bool
	NotifyAgentCompleted(ctx context.Context, runID, agentName string, result any, dur time.Duration) bool
	NotifyAgentError(ctx context.Context, runID, agentName, message string, details map[string]any) bool
	NotifyProgressUpdate(ctx context.Context, runID, agentName string, progress float64, message string) bool
	NotifyCustom(ctx context.Context, runID, agentName, eventType string, data map[string]any) bool
}

// Disposer is implemented by notifiers that hold per-request resources. Dispatcher.Cleanup calls it.
type Disposer interface {
	Dispose(ctx context.Context) error
}

// Bridge is the per-request Notifier built on a shared Emitter. It stamps every event with the
// request identity, forwards it and converts failures (errors and panics) into false.
type Bridge struct {
	emitter atomic.Pointer[emitterRef]
	rc      RequestContext
	logger  *slog.Logger
}

type emitterRef struct{ Emitter }

// NewBridge binds emitter to rc. A nil emitter yields a Bridge that reports every event as undelivered.
func NewBridge(emitter Emitter, rc RequestContext, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{rc: rc, logger: logger.With("correlation_id", rc.CorrelationID())}
	if emitter != nil {
		b.emitter.Store(&emitterRef{emitter})
	}
	return b
}

// Attached reports whether the bridge still has an emitter.
func (b *Bridge) Attached() bool { return b.emitter.Load() != nil }

// Dispose detaches the emitter; later notifications return false. The emitter itself is not closed.
func (b *Bridge) Dispose(_ context.Context) error {
	b.emitter.Store(nil)
	return nil
}

func (b *Bridge) emit(ctx context.Context, typ EventType, runID, agentName string, payload map[string]any) (ok bool) {
	ref := b.emitter.Load()
	if ref == nil {
		b.logger.Debug("notification dropped, no emitter", "event", typ, "run_id", runID)
		return false
	}
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("emitter panicked", "event", typ, "run_id", runID, "panic", p)
			ok = false
		}
	}()
	ev := Event{
		Type:          typ,
		RunID:         runID,
		AgentName:     agentName,
		UserID:        b.rc.UserID(),
		ThreadID:      b.rc.ThreadID(),
		CorrelationID: b.rc.CorrelationID(),
		Timestamp:     time.Now().UTC(),
		Payload:       payload,
	}
	if err := ref.Emit(ctx, ev); err != nil {
		b.logger.Warn("notification not delivered", "event", typ, "run_id", runID, "error", err)
		return false
	}
	return true
}

func (b *Bridge) NotifyAgentStarted(ctx context.Context, runID, agentName string, data map[string]any) bool {
	return b.emit(ctx, EventAgentStarted, runID, agentName, data)
}

func (b *Bridge) NotifyAgentThinking(ctx context.Context, runID, agentName, thought string, step int) bool {
	return b.emit(ctx, EventAgentThinking, runID, agentName, map[string]any{
		"thought":     thought,
		"step_number": step,
	})
}

func (b *Bridge) NotifyToolExecuting(ctx context.Context, runID, agentName, toolName string, params Args) bool {
	return b.emit(ctx, EventToolExecuting, runID, agentName, map[string]any{
		"tool_name":  toolName,
		"parameters": map[string]any(params),
	})
}

func (b *Bridge) NotifyToolCompleted(ctx context.Context, runID, agentName, toolName string, result any, dur time.Duration) bool {
	return b.emit(ctx, EventToolCompleted, runID, agentName, map[string]any{
		"tool_name":   toolName,
		"result":      result,
		"duration_ms": durationMillis(dur),
	})
}

func (b *Bridge) NotifyAgentCompleted(ctx context.Context, runID, agentName string, result any, dur time.Duration) bool {
	return b.emit(ctx, EventAgentCompleted, runID, agentName, map[string]any{
		"result":      result,
		"duration_ms": durationMillis(dur),
	})
}

func (b *Bridge) NotifyAgentError(ctx context.Context, runID, agentName, message string, details map[string]any) bool {
	payload := map[string]any{"error": message}
	if len(details) > 0 {
		payload["details"] = details
	}
	return b.emit(ctx, EventAgentError, runID, agentName, payload)
}

func (b *Bridge) NotifyProgressUpdate(ctx context.Context, runID, agentName string, progress float64, message string) bool {
	return b.emit(ctx, EventProgressUpdate, runID, agentName, map[string]any{
		"progress": progress,
		"message":  message,
	})
}

// NotifyCustom sends an event whose type is chosen by the caller.
func (b *Bridge) NotifyCustom(ctx context.Context, runID, agentName, eventType string, data map[string]any) bool {
	return b.emit(ctx, EventType(eventType), runID, agentName, data)
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// NopNotifier accepts and discards every event.
type NopNotifier struct{}

func (NopNotifier) NotifyAgentStarted(context.Context, string, string, map[string]any) bool {
	return true
}
func (NopNotifier) NotifyAgentThinking(context.Context, string, string, string, int) bool {
	return true
}
func (NopNotifier) NotifyToolExecuting(context.Context, string, string, string, Args) bool {
	return true
}
func (NopNotifier) NotifyToolCompleted(context.Context, string, string, string, any, time.Duration) bool {
	return true
}
func (NopNotifier) NotifyAgentCompleted(context.Context, string, string, any, time.Duration) bool {
	return true
}
func (NopNotifier) NotifyAgentError(context.Context, string, string, string, map[string]any) bool {
	return true
}
func (NopNotifier) NotifyProgressUpdate(context.Context, string, string, float64, string) bool {
	return true
}
func (NopNotifier) NotifyCustom(context.Context, string, string, string, map[string]any) bool {
	return true
}

var (
	_ Notifier = (*Bridge)(nil)
	_ Disposer = (*Bridge)(nil)
	_ Notifier = NopNotifier{}
	_ Emitter  = EmitterFunc(nil)
)
