package dispatchotel

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/skosovsky/toolscope"
)

func attrMap(kvs []attribute.KeyValue) map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

func TestMiddleware_WithDispatcher(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	rc, err := toolscope.NewRequestContext("alice", "thread_1", "run_1")
	require.NoError(t, err)
	engine := toolscope.NewEngine()

	err = toolscope.WithDispatcher(context.Background(), rc, engine, func(d *toolscope.Dispatcher) error {
		if err := d.RegisterTool("echo", toolscope.SyncHandler(func(a toolscope.Args) (any, error) {
			return "Echo: " + a.String("query"), nil
		})); err != nil {
			return err
		}
		if err := d.RegisterTool("fail", toolscope.SyncHandler(func(toolscope.Args) (any, error) {
			return nil, errors.New("backend down")
		})); err != nil {
			return err
		}
		res, err := d.Dispatch(context.Background(), "echo", toolscope.Args{"query": "hi"})
		require.NoError(t, err)
		assert.Equal(t, "Echo: hi", res.Payload)
		res, err = d.Dispatch(context.Background(), "fail", nil)
		require.NoError(t, err)
		assert.Equal(t, "backend down", res.Message)
		return nil
	}, toolscope.WithMiddleware(Middleware(WithTracerProvider(tp))))
	require.NoError(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 2)

	ok := spans[0]
	assert.Equal(t, "toolscope.tool", ok.Name())
	assert.Equal(t, codes.Ok, ok.Status().Code)
	attrs := attrMap(ok.Attributes())
	assert.Equal(t, "echo", attrs["tool.name"].AsString())
	assert.Equal(t, int64(1), attrs["tool.args.count"].AsInt64())
	assert.Equal(t, "alice", attrs["user.id"].AsString())
	assert.Equal(t, "run_1", attrs["run.id"].AsString())
	assert.Equal(t, rc.CorrelationID(), attrs["correlation.id"].AsString())

	failed := spans[1]
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.False(t, attrMap(failed.Attributes())["tool.client_error"].AsBool())
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)
}

func TestMiddleware_SpanNameAndMetadata(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	inner, err := toolscope.NewFuncTool("meta", toolscope.SyncHandler(func(toolscope.Args) (any, error) { return nil, nil }),
		toolscope.WithVersion("3"))
	require.NoError(t, err)
	wrapped := Middleware(WithTracerProvider(tp), WithSpanName("agent.tool"))(inner)
	assert.Equal(t, "meta", wrapped.Name())
	assert.Equal(t, "3", wrapped.(toolscope.ToolMetadata).Version())

	_, err = wrapped.Execute(context.Background(), nil)
	require.NoError(t, err)
	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "agent.tool", spans[0].Name())
	_, hasUser := attrMap(spans[0].Attributes())["user.id"]
	assert.False(t, hasUser)
}
