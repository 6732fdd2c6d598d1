package toolscope_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skosovsky/toolscope"
	"github.com/skosovsky/toolscope/testutil"
)

func echo(a toolscope.Args) (any, error) {
	return "Echo: " + a.String("query"), nil
}

func newDispatcher(t *testing.T, user string, opts ...toolscope.DispatcherOption) *toolscope.Dispatcher {
	t.Helper()
	d, err := toolscope.NewDispatcher(testutil.NewTestContext(t, user), testutil.NewTestEngine(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { d.Cleanup(context.Background()) })
	return d
}

func TestDispatcher_Dispatch_Success(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))

	res, err := d.Dispatch(context.Background(), "echo", toolscope.Args{"query": "hi"})
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusSuccess, res.Status)
	assert.Equal(t, "echo", res.ToolName)
	assert.Equal(t, "Echo: hi", res.Payload)
	assert.Equal(t, "run_alice", res.Metadata["run_id"])
	assert.Equal(t, d.RequestContext().CorrelationID(), res.Metadata["correlation_id"])
	assert.Contains(t, res.Metadata, "duration_ms")
}

func TestDispatcher_Dispatch_ContextHandlerSeesRequest(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("whoami", toolscope.ContextHandler(func(ctx context.Context, _ toolscope.Args) (any, error) {
		rc, ok := toolscope.RequestFromContext(ctx)
		if !ok {
			return nil, errors.New("no request context")
		}
		return rc.UserID(), nil
	})))
	res, err := d.Dispatch(context.Background(), "whoami", nil)
	require.NoError(t, err)
	assert.Equal(t, "alice", res.Payload)
}

func TestDispatcher_Dispatch_UnknownTool(t *testing.T) {
	d := newDispatcher(t, "alice")
	res, err := d.Dispatch(context.Background(), "missing", nil)
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusError, res.Status)
	assert.Contains(t, res.Message, "not found")
	assert.ErrorIs(t, res.Err, toolscope.ErrToolNotFound)

	m, err := d.Metrics()
	require.NoError(t, err)
	assert.Zero(t, m.ToolsExecuted, "unknown tools are not counted as executions")
}

func TestDispatcher_Dispatch_HandlerError(t *testing.T) {
	rec := &testutil.RecordingNotifier{}
	d := newDispatcher(t, "alice", toolscope.WithNotifier(rec))
	require.NoError(t, d.RegisterTool("fail", toolscope.SyncHandler(func(toolscope.Args) (any, error) {
		return nil, errors.New("quota exceeded")
	})))

	res, err := d.Dispatch(context.Background(), "fail", nil)
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusError, res.Status)
	assert.Equal(t, "quota exceeded", res.Message)

	m, err := d.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1, m.ToolsExecuted)
	assert.Equal(t, 1, m.Failed)
	assert.Zero(t, m.Successful)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, toolscope.EventToolCompleted, events[1].Type)
	assert.Equal(t, map[string]any{"status": "error", "error": "quota exceeded"}, events[1].Result)
}

func TestDispatcher_Dispatch_PanickingHandler(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("boom", toolscope.SyncHandler(func(toolscope.Args) (any, error) {
		panic("nil map")
	})))
	res, err := d.Dispatch(context.Background(), "boom", nil)
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusError, res.Status)
	assert.True(t, toolscope.IsSystemError(res.Err))
}

func TestDispatcher_Dispatch_PanickingEngine(t *testing.T) {
	rc := testutil.NewTestContext(t, "alice")
	engine := toolscope.EngineFunc(func(context.Context, toolscope.Tool, toolscope.Args) toolscope.Outcome {
		panic("engine bug")
	})
	d, err := toolscope.NewDispatcher(rc, engine)
	require.NoError(t, err)
	defer d.Cleanup(context.Background())
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))

	res, err := d.Dispatch(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusError, res.Status)
	assert.True(t, toolscope.IsSystemError(res.Err))
}

func TestDispatcher_NotificationOrder(t *testing.T) {
	rec := &testutil.RecordingNotifier{}
	d := newDispatcher(t, "alice", toolscope.WithNotifier(rec), toolscope.WithAgentName("planner"))
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))

	_, err := d.Dispatch(context.Background(), "echo", toolscope.Args{"query": "hi"})
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, toolscope.EventToolExecuting, events[0].Type)
	assert.Equal(t, toolscope.EventToolCompleted, events[1].Type)
	for _, ev := range events {
		assert.Equal(t, "run_alice", ev.RunID)
		assert.Equal(t, "planner", ev.AgentName)
		assert.Equal(t, "echo", ev.ToolName)
	}
	assert.Equal(t, "Echo: hi", events[1].Result)
}

func TestDispatcher_NotifierFailuresDoNotAffectResult(t *testing.T) {
	tests := []struct {
		name string
		rec  *testutil.RecordingNotifier
	}{
		{"panic on executing", &testutil.RecordingNotifier{PanicOn: map[toolscope.EventType]any{toolscope.EventToolExecuting: "boom"}}},
		{"panic on completed", &testutil.RecordingNotifier{PanicOn: map[toolscope.EventType]any{toolscope.EventToolCompleted: "boom"}}},
		{"undelivered", &testutil.RecordingNotifier{FailOn: map[toolscope.EventType]bool{toolscope.EventToolExecuting: true}}},
		{"dispose error", &testutil.RecordingNotifier{DisposeErr: errors.New("socket closed")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, "alice", toolscope.WithNotifier(tt.rec))
			require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))
			res, err := d.Dispatch(context.Background(), "echo", toolscope.Args{"query": "hi"})
			require.NoError(t, err)
			assert.Equal(t, toolscope.StatusSuccess, res.Status)
			assert.Equal(t, "Echo: hi", res.Payload)
			d.Cleanup(context.Background())
			assert.Equal(t, 1, tt.rec.Disposed())
		})
	}
}

func TestDispatcher_DispatchTool_State(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("remember", toolscope.ContextHandler(func(ctx context.Context, a toolscope.Args) (any, error) {
		toolscope.StateFromContext(ctx).Set("last", a.String("note"))
		return toolscope.RunIDFromContext(ctx), nil
	})))

	state := toolscope.NewState(nil)
	res, err := d.DispatchTool(context.Background(), "remember", toolscope.Args{"note": "buy milk"}, state, "run_alice")
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusSuccess, res.Status)
	assert.Equal(t, "run_alice", res.Payload)
	v, _ := state.Get("last")
	assert.Equal(t, "buy milk", v)

	res, err = d.DispatchTool(context.Background(), "remember", nil, nil, "run_alice")
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusSuccess, res.Status, "nil state is replaced by an empty one")
}

func TestDispatcher_DispatchTool_RunIDMismatch(t *testing.T) {
	rec := &testutil.RecordingNotifier{}
	d := newDispatcher(t, "alice", toolscope.WithNotifier(rec))
	tool := &testutil.MockTool{NameVal: "secret"}
	require.NoError(t, d.Register(tool))

	res, err := d.DispatchTool(context.Background(), "secret", nil, toolscope.NewState(nil), "run_bob")
	require.NoError(t, err)
	assert.Equal(t, toolscope.StatusError, res.Status)
	assert.Contains(t, res.Message, "not found")
	assert.ErrorIs(t, res.Err, toolscope.ErrIsolation)
	assert.NotErrorIs(t, res.Err, toolscope.ErrToolNotFound)
	assert.Zero(t, tool.Calls())
	assert.Empty(t, rec.Events())

	res, err = d.DispatchTool(context.Background(), "missing", nil, nil, "run_alice")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, toolscope.ErrToolNotFound)
}

func TestDispatcher_Isolation(t *testing.T) {
	a := newDispatcher(t, "a")
	b := newDispatcher(t, "b")
	require.NoError(t, a.RegisterTool("secret", toolscope.SyncHandler(func(toolscope.Args) (any, error) { return "A", nil })))
	require.NoError(t, b.RegisterTool("secret", toolscope.SyncHandler(func(toolscope.Args) (any, error) { return "B", nil })))
	require.NoError(t, a.RegisterTool("only_a", toolscope.SyncHandler(echo)))

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, want := a, "A"
			if i%2 == 1 {
				d, want = b, "B"
			}
			res, err := d.Dispatch(context.Background(), "secret", nil)
			if err != nil {
				errs <- err
				return
			}
			if res.Payload != want {
				errs <- fmt.Errorf("got %v, want %s", res.Payload, want)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	for d, user := range map[*toolscope.Dispatcher]string{a: "a", b: "b"} {
		m, err := d.Metrics()
		require.NoError(t, err)
		assert.Equal(t, user, m.UserID)
		assert.Equal(t, "run_"+user, m.RunID)
		assert.Equal(t, 50, m.ToolsExecuted)
		assert.Equal(t, 50, m.Successful)
		assert.Zero(t, m.Failed)
	}

	has, err := b.HasTool("only_a")
	require.NoError(t, err)
	assert.False(t, has)

	a.Cleanup(context.Background())
	assert.False(t, a.IsActive())
	assert.True(t, b.IsActive())
	res, err := b.Dispatch(context.Background(), "secret", nil)
	require.NoError(t, err)
	assert.Equal(t, "B", res.Payload)
}

func TestDispatcher_Cleanup(t *testing.T) {
	rec := &testutil.RecordingNotifier{}
	d := newDispatcher(t, "alice", toolscope.WithNotifier(rec))
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))
	require.True(t, d.IsActive())

	d.Cleanup(context.Background())
	d.Cleanup(context.Background())
	assert.False(t, d.IsActive())
	assert.Equal(t, 1, rec.Disposed())

	_, err := d.Dispatch(context.Background(), "echo", nil)
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
	_, err = d.DispatchTool(context.Background(), "echo", nil, nil, "run_alice")
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
	assert.ErrorIs(t, d.RegisterTool("x", toolscope.SyncHandler(echo)), toolscope.ErrDisposed)
	assert.ErrorIs(t, d.Register(&testutil.MockTool{}), toolscope.ErrDisposed)
	_, err = d.HasTool("echo")
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
	_, err = d.Tools()
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
	_, err = d.Definitions()
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
	_, err = d.Metrics()
	assert.ErrorIs(t, err, toolscope.ErrDisposed)
}

func TestDispatcher_Metrics(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("slow", toolscope.ContextHandler(func(ctx context.Context, _ toolscope.Args) (any, error) {
		select {
		case <-time.After(5 * time.Millisecond):
			return "done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})))
	require.NoError(t, d.RegisterTool("fail", toolscope.SyncHandler(func(toolscope.Args) (any, error) {
		return nil, errors.New("nope")
	})))

	m, err := d.Metrics()
	require.NoError(t, err)
	assert.Zero(t, m.SuccessRate)
	assert.Zero(t, m.AvgExecutionTime)
	assert.True(t, m.LastExecution.IsZero())
	assert.Equal(t, 2, m.RegisteredTools)
	assert.False(t, m.NotifierAttached)

	for range 3 {
		_, err = d.Dispatch(context.Background(), "slow", nil)
		require.NoError(t, err)
	}
	_, err = d.Dispatch(context.Background(), "fail", nil)
	require.NoError(t, err)

	m, err = d.Metrics()
	require.NoError(t, err)
	assert.Equal(t, "alice", m.UserID)
	assert.Equal(t, "thread_alice", m.ThreadID)
	assert.Equal(t, "run_alice", m.RunID)
	assert.Equal(t, 4, m.ToolsExecuted)
	assert.Equal(t, 3, m.Successful)
	assert.Equal(t, 1, m.Failed)
	assert.InDelta(t, 0.75, m.SuccessRate, 1e-9)
	assert.GreaterOrEqual(t, m.TotalExecutionTime, 15*time.Millisecond)
	assert.Equal(t, m.TotalExecutionTime/4, m.AvgExecutionTime)
	assert.False(t, m.LastExecution.IsZero())
}

func TestDispatcher_ToolsAndDefinitions(t *testing.T) {
	d := newDispatcher(t, "alice")
	require.NoError(t, d.RegisterTool("b", toolscope.SyncHandler(echo), toolscope.WithDescription("second")))
	require.NoError(t, d.Register(&testutil.MockTool{NameVal: "a", DescVal: "first"}))

	names, err := d.Tools()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	defs, err := d.Definitions()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "first", defs[0].Description())
	assert.Equal(t, "second", defs[1].Description())

	has, err := d.HasTool("a")
	require.NoError(t, err)
	assert.True(t, has)

	assert.ErrorIs(t, d.RegisterTool("nil", nil), toolscope.ErrNilHandler)
}

func TestDispatcher_Hooks(t *testing.T) {
	var before []string
	var summaries []toolscope.DispatchSummary
	d := newDispatcher(t, "alice",
		toolscope.WithOnBeforeDispatch(func(_ context.Context, tool string, _ toolscope.Args) {
			before = append(before, tool)
		}),
		toolscope.WithOnAfterDispatch(func(_ context.Context, s toolscope.DispatchSummary) {
			summaries = append(summaries, s)
		}),
		toolscope.WithMiddleware(toolscope.WithRecovery()),
	)
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))
	_, err := d.Dispatch(context.Background(), "echo", nil)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), "missing", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"echo"}, before)
	require.Len(t, summaries, 1)
	assert.Equal(t, "echo", summaries[0].ToolName)
	assert.Equal(t, "run_alice", summaries[0].RunID)
	assert.Equal(t, toolscope.StatusSuccess, summaries[0].Status)
	assert.NoError(t, summaries[0].Error)
}

type panickingObserver struct{ countingObserver }

func (*panickingObserver) ToolDispatched(string, toolscope.Status, time.Duration) { panic("observer down") }
func (*panickingObserver) DispatcherReleased(time.Duration)                       { panic("observer down") }

func TestDispatcher_PanickingCallbacks(t *testing.T) {
	d := newDispatcher(t, "alice",
		toolscope.WithOnBeforeDispatch(func(context.Context, string, toolscope.Args) { panic("before") }),
		toolscope.WithOnAfterDispatch(func(context.Context, toolscope.DispatchSummary) { panic("after") }),
		toolscope.WithObserver(&panickingObserver{}),
	)
	require.NoError(t, d.RegisterTool("echo", toolscope.SyncHandler(echo)))

	var res toolscope.Result
	require.NotPanics(t, func() {
		var err error
		res, err = d.Dispatch(context.Background(), "echo", toolscope.Args{"query": "hi"})
		require.NoError(t, err)
	})
	assert.True(t, res.OK())
	assert.Equal(t, "Echo: hi", res.Payload)

	m, err := d.Metrics()
	require.NoError(t, err)
	assert.Equal(t, 1, m.Successful)

	require.NotPanics(t, func() { d.Cleanup(context.Background()) })
	assert.False(t, d.IsActive())
}

func TestNewDispatcher_InvalidInput(t *testing.T) {
	_, err := toolscope.NewDispatcher(toolscope.RequestContext{}, testutil.NewTestEngine())
	require.ErrorIs(t, err, toolscope.ErrIsolation)

	_, err = toolscope.NewDispatcher(testutil.NewTestContext(t, "alice"), nil)
	require.Error(t, err)
}

func TestDispatcher_NotifierAccessor(t *testing.T) {
	d := newDispatcher(t, "alice")
	assert.IsType(t, toolscope.NopNotifier{}, d.Notifier())
	assert.True(t, d.Notifier().NotifyAgentStarted(context.Background(), "run_alice", "agent", nil))

	rec := &testutil.RecordingNotifier{}
	d = newDispatcher(t, "bob", toolscope.WithNotifier(rec))
	d.Notifier().NotifyAgentThinking(context.Background(), "run_bob", "agent", "planning", 1)
	assert.Equal(t, []toolscope.EventType{toolscope.EventAgentThinking}, rec.Types())
}
