package toolscope

import (
	"context"
	"fmt"
	"time"
)

// Tool is the contract for an agent-callable instrument.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON Schema as map (compatible with LLM tool definitions).
	Parameters() map[string]any
	// Execute runs the tool with already-decoded arguments and returns its payload.
	Execute(ctx context.Context, args Args) (any, error)
}

// ToolMetadata is implemented by tools created with NewTool, NewFuncTool or NewDynamicTool.
// Engine uses Timeout() to override its default execution timeout when set.
type ToolMetadata interface {
	Timeout() time.Duration
	Tags() []string
	Version() string
	IsDangerous() bool
}

// Args are the keyword arguments of a single tool call.
type Args map[string]any

// String returns args[key] when it is a string, otherwise its fmt representation ("" if absent).
func (a Args) String(key string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Status is the outcome class of a dispatched tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the value every dispatch returns. Payload is meaningful only when Status is
// StatusSuccess, Message only when Status is StatusError.
type Result struct {
	ToolName string         `json:"tool_name"`
	Status   Status         `json:"status"`
	Payload  any            `json:"payload,omitempty"`
	Message  string         `json:"message,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Err is the classified failure (ErrToolNotFound, ErrIsolation, *SystemError, ...) for errors.Is/As.
	Err error `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

func successResult(name string, payload any, meta map[string]any) Result {
	return Result{ToolName: name, Status: StatusSuccess, Payload: payload, Metadata: meta}
}

func errorResult(name string, err error, meta map[string]any) Result {
	return Result{ToolName: name, Status: StatusError, Message: err.Error(), Err: err, Metadata: meta}
}

// Outcome is what an ExecutionEngine hands back: either a value or a failure, never both.
type Outcome struct {
	value any
	err   error
}

// Succeeded wraps a successful tool payload.
func Succeeded(v any) Outcome { return Outcome{value: v} }

// Failed wraps a tool failure. A nil err is replaced by a SystemError so the outcome stays a failure.
func Failed(err error) Outcome {
	if err == nil {
		err = &SystemError{Err: errNilFailure}
	}
	return Outcome{err: err}
}

// OK reports whether the outcome carries a value.
func (o Outcome) OK() bool { return o.err == nil }

// Value returns the payload and true on success.
func (o Outcome) Value() (any, bool) { return o.value, o.err == nil }

// Err returns the failure, or nil on success.
func (o Outcome) Err() error { return o.err }

// Metrics is a point-in-time snapshot of a dispatcher's counters.
type Metrics struct {
	UserID             string        `json:"user_id"`
	ThreadID           string        `json:"thread_id"`
	RunID              string        `json:"run_id"`
	CorrelationID      string        `json:"correlation_id"`
	ToolsExecuted      int           `json:"tools_executed"`
	Successful         int           `json:"successful_executions"`
	Failed             int           `json:"failed_executions"`
	TotalExecutionTime time.Duration `json:"total_execution_time"`
	AvgExecutionTime   time.Duration `json:"avg_execution_time"`
	SuccessRate        float64       `json:"success_rate"`
	CreatedAt          time.Time     `json:"created_at"`
	LastExecution      time.Time     `json:"last_execution,omitzero"`
	RegisteredTools    int           `json:"registered_tools"`
	NotifierAttached   bool          `json:"notifier_attached"`
}

// DispatchSummary is passed to the after-dispatch hook (WithOnAfterDispatch) for every executed call.
type DispatchSummary struct {
	ToolName      string
	RunID         string
	CorrelationID string
	Status        Status
	Error         error
	Duration      time.Duration
}
