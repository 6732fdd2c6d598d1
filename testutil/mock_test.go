package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolscope"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMockTool(t *testing.T) {
	m := &MockTool{
		NameVal:   "test_tool",
		DescVal:   "For tests",
		ParamsVal: map[string]any{"type": "object"},
		ExecuteFn: func(_ context.Context, args toolscope.Args) (any, error) {
			return map[string]any{"done": true, "q": args.String("q")}, nil
		},
	}
	assert.Equal(t, "test_tool", m.Name())
	assert.Equal(t, "For tests", m.Description())
	assert.Equal(t, map[string]any{"type": "object"}, m.Parameters())
	out, err := m.Execute(context.Background(), toolscope.Args{"q": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"done": true, "q": "x"}, out)
	assert.Equal(t, 1, m.Calls())
}

func TestMockTool_Defaults(t *testing.T) {
	m := &MockTool{}
	assert.Equal(t, "mock", m.Name())
	assert.Empty(t, m.Parameters())
	out, err := m.Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestNewTestEngine_WithDispatcher(t *testing.T) {
	m := &MockTool{NameVal: "m", ExecuteFn: func(_ context.Context, _ toolscope.Args) (any, error) {
		return "ok", nil
	}}
	rc := NewTestContext(t, "alice")
	rec := &RecordingNotifier{}
	err := toolscope.WithDispatcher(context.Background(), rc, NewTestEngine(), func(d *toolscope.Dispatcher) error {
		require.NoError(t, d.Register(m))
		res, err := d.Dispatch(context.Background(), "m", nil)
		require.NoError(t, err)
		assert.True(t, res.OK())
		assert.Equal(t, "ok", res.Payload)
		return nil
	}, toolscope.WithNotifier(rec))
	require.NoError(t, err)
	assert.Equal(t, []toolscope.EventType{toolscope.EventToolExecuting, toolscope.EventToolCompleted}, rec.Types())
	assert.Equal(t, 1, rec.Disposed())
}

func TestRecordingEmitter(t *testing.T) {
	e := &RecordingEmitter{}
	require.NoError(t, e.Emit(context.Background(), toolscope.Event{Type: toolscope.EventAgentStarted}))
	require.Len(t, e.Events(), 1)

	e.Err = errors.New("closed")
	require.Error(t, e.Emit(context.Background(), toolscope.Event{}))
	assert.Len(t, e.Events(), 1)
}
