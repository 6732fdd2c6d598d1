package testutil

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/skosovsky/toolscope"
)

// Notification is one call received by RecordingNotifier.
type Notification struct {
	Type      toolscope.EventType
	RunID     string
	AgentName string
	ToolName  string
	Result    any
}

// RecordingNotifier records every notification in order. PanicOn makes the given event type panic
// with the stored value; FailOn makes it return false.
type RecordingNotifier struct {
	PanicOn    map[toolscope.EventType]any
	FailOn     map[toolscope.EventType]bool
	DisposeErr error

	mu       sync.Mutex
	events   []Notification
	disposed int
}

func (r *RecordingNotifier) record(n Notification) bool {
	if p, ok := r.PanicOn[n.Type]; ok {
		panic(p)
	}
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
	return !r.FailOn[n.Type]
}

// Events returns a copy of the recorded notifications.
func (r *RecordingNotifier) Events() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Types returns the recorded event types in order.
func (r *RecordingNotifier) Types() []toolscope.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]toolscope.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Disposed returns how many times Dispose was called.
func (r *RecordingNotifier) Disposed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

func (r *RecordingNotifier) Dispose(context.Context) error {
	r.mu.Lock()
	r.disposed++
	r.mu.Unlock()
	return r.DisposeErr
}

func (r *RecordingNotifier) NotifyAgentStarted(_ context.Context, runID, agent string, _ map[string]any) bool {
	return r.record(Notification{Type: toolscope.EventAgentStarted, RunID: runID, AgentName: agent})
}

func (r *RecordingNotifier) NotifyAgentThinking(_ context.Context, runID, agent, _ string, _ int) bool {
	return r.record(Notification{Type: toolscope.EventAgentThinking, RunID: runID, AgentName: agent})
}

func (r *RecordingNotifier) NotifyToolExecuting(_ context.Context, runID, agent, tool string, _ toolscope.Args) bool {
	return r.record(Notification{Type: toolscope.EventToolExecuting, RunID: runID, AgentName: agent, ToolName: tool})
}

func (r *RecordingNotifier) NotifyToolCompleted(_ context.Context, runID, agent, tool string, result any, _ time.Duration) bool {
	return r.record(Notification{Type: toolscope.EventToolCompleted, RunID: runID, AgentName: agent, ToolName: tool, Result: result})
}

func (r *RecordingNotifier) NotifyAgentCompleted(_ context.Context, runID, agent string, result any, _ time.Duration) bool {
	return r.record(Notification{Type: toolscope.EventAgentCompleted, RunID: runID, AgentName: agent, Result: result})
}

func (r *RecordingNotifier) NotifyAgentError(_ context.Context, runID, agent, msg string, _ map[string]any) bool {
	return r.record(Notification{Type: toolscope.EventAgentError, RunID: runID, AgentName: agent, Result: msg})
}

func (r *RecordingNotifier) NotifyProgressUpdate(_ context.Context, runID, agent string, _ float64, _ string) bool {
	return r.record(Notification{Type: toolscope.EventProgressUpdate, RunID: runID, AgentName: agent})
}

func (r *RecordingNotifier) NotifyCustom(_ context.Context, runID, agent, eventType string, data map[string]any) bool {
	return r.record(Notification{Type: toolscope.EventType(eventType), RunID: runID, AgentName: agent, Result: data})
}

// RecordingEmitter is an Emitter that stores events; Err is returned from every Emit when set.
type RecordingEmitter struct {
	Err error

	mu     sync.Mutex
	events []toolscope.Event
}

func (e *RecordingEmitter) Emit(_ context.Context, ev toolscope.Event) error {
	if e.Err != nil {
		return e.Err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
	return nil
}

// Events returns a copy of the emitted events.
func (e *RecordingEmitter) Events() []toolscope.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

var (
	_ toolscope.Notifier = (*RecordingNotifier)(nil)
	_ toolscope.Disposer = (*RecordingNotifier)(nil)
	_ toolscope.Emitter  = (*RecordingEmitter)(nil)
)
