// Package dispatchotel traces tool executions with OpenTelemetry.
package dispatchotel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/skosovsky/toolscope"
)

const instrumentationName = "github.com/skosovsky/toolscope/ext/dispatchotel"

// Option configures the tracing middleware.
type Option func(*options)

type options struct {
	provider trace.TracerProvider
	spanName string
}

// WithTracerProvider sets the provider (default otel.GetTracerProvider()).
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.provider = tp
	}
}

// WithSpanName overrides the span name (default "toolscope.tool").
func WithSpanName(name string) Option {
	return func(o *options) {
		o.spanName = name
	}
}

// Middleware returns a toolscope.Middleware that wraps every Execute in a span. When the call
// carries a RequestContext, its user, thread, run and correlation ids are recorded as attributes.
func Middleware(opts ...Option) toolscope.Middleware {
	o := options{spanName: "toolscope.tool"}
	for _, opt := range opts {
		opt(&o)
	}
	if o.provider == nil {
		o.provider = otel.GetTracerProvider()
	}
	tracer := o.provider.Tracer(instrumentationName)
	return func(next toolscope.Tool) toolscope.Tool {
		return &tracedTool{ToolBase: toolscope.ToolBase{Next: next}, tracer: tracer, spanName: o.spanName}
	}
}

type tracedTool struct {
	toolscope.ToolBase
	tracer   trace.Tracer
	spanName string
}

func (t *tracedTool) Execute(ctx context.Context, args toolscope.Args) (any, error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool.name", t.Next.Name()),
		attribute.Int("tool.args.count", len(args)),
	}
	if rc, ok := toolscope.RequestFromContext(ctx); ok {
		attrs = append(attrs,
			attribute.String("user.id", rc.UserID()),
			attribute.String("thread.id", rc.ThreadID()),
			attribute.String("run.id", rc.RunID()),
			attribute.String("correlation.id", rc.CorrelationID()),
		)
	}
	ctx, span := t.tracer.Start(ctx, t.spanName, trace.WithAttributes(attrs...))
	defer span.End()

	res, err := t.Next.Execute(ctx, args)
	if err != nil {
		span.RecordError(err)
		span.SetAttributes(attribute.Bool("tool.client_error", toolscope.IsClientError(err)))
		span.SetStatus(codes.Error, "tool execution failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "tool execution completed")
	return res, nil
}
