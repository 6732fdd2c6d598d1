package toolscope

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// tool is the internal implementation of Tool built by NewTool, NewFuncTool, or NewDynamicTool.
type tool struct {
	name        string
	description string
	schema      map[string]any
	execute     func(context.Context, Args) (any, error)
	opts        toolOptions
}

// Handler is a plain function that can be registered as a tool: SyncHandler or ContextHandler.
// The variant is resolved once in NewFuncTool, not on every call.
type Handler interface {
	bind() (func(context.Context, Args) (any, error), bool)
}

// SyncHandler is a handler that needs no context (pure, quick computations).
type SyncHandler func(args Args) (any, error)

// ContextHandler is a handler that may block and must honour ctx cancellation.
type ContextHandler func(ctx context.Context, args Args) (any, error)

func (h SyncHandler) bind() (func(context.Context, Args) (any, error), bool) {
	if h == nil {
		return nil, false
	}
	return func(_ context.Context, args Args) (any, error) { return h(args) }, true
}

func (h ContextHandler) bind() (func(context.Context, Args) (any, error), bool) {
	if h == nil {
		return nil, false
	}
	return h, true
}

var permissiveSchema = map[string]any{"type": "object"}

// NewFuncTool builds a Tool from a SyncHandler or ContextHandler. The schema is a permissive
// object; use NewTool for typed, validated arguments.
func NewFuncTool(name string, h Handler, opts ...ToolOption) (Tool, error) {
	if name == "" {
		return nil, errEmptyToolID
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	fn, ok := h.bind()
	if !ok {
		return nil, ErrNilHandler
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &tool{
		name:        name,
		description: o.description,
		schema:      maps.Clone(permissiveSchema),
		execute:     fn,
		opts:        o,
	}, nil
}

// NewTool builds a Tool from a typed function. Schema and validation are delegated to Extractor[T].
// Execute decodes args with Extractor.FromArgs, then calls fn; fn's result is the payload.
// Returns an error if schema generation fails (e.g. unsupported type).
func NewTool[T any, R any](
	name, description string,
	fn func(ctx context.Context, args T) (R, error),
	opts ...ToolOption,
) (Tool, error) {
	if fn == nil {
		return nil, ErrNilHandler
	}
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	ext, err := NewExtractor[T](o.strict)
	if err != nil {
		return nil, err
	}
	execute := func(ctx context.Context, args Args) (any, error) {
		in, err := ext.FromArgs(args)
		if err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
	return &tool{
		name:        name,
		description: description,
		schema:      ext.Schema(),
		execute:     execute,
		opts:        o,
	}, nil
}

// NewDynamicTool creates a Tool from a raw JSON Schema map and a handler that receives validated Args.
// Useful for runtime API integration (e.g. OpenAPI/Swagger). schemaMap and fn must be non-nil.
// The provided schemaMap is not mutated; a deep copy is made before any modifications (e.g. WithStrict).
func NewDynamicTool(
	name, description string,
	schemaMap map[string]any,
	fn func(ctx context.Context, args Args) (any, error),
	opts ...ToolOption,
) (Tool, error) {
	var o toolOptions
	for _, opt := range opts {
		opt(&o)
	}
	if schemaMap == nil {
		return nil, fmt.Errorf("dynamic schema map must not be nil")
	}
	if fn == nil {
		return nil, ErrNilHandler
	}
	schemaCopy, err := toSchemaMap(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to deep copy schema map: %w", err)
	}
	compiled, err := finishSchema(schemaCopy, o.strict)
	if err != nil {
		return nil, fmt.Errorf("failed to compile dynamic schema: %w", err)
	}
	execute := func(ctx context.Context, args Args) (any, error) {
		raw, err := encodeArgs(args)
		if err != nil {
			return nil, err
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, wrapJSONParseError(err)
		}
		if err := checkSchema(compiled, v); err != nil {
			return nil, err
		}
		return fn(ctx, args)
	}
	return &tool{
		name:        name,
		description: description,
		schema:      schemaCopy,
		execute:     execute,
		opts:        o,
	}, nil
}

func (t *tool) Name() string        { return t.name }
func (t *tool) Description() string { return t.description }

// Parameters returns a shallow copy of the JSON Schema (top-level keys only).
// Nested maps (e.g. under "properties") are shared; callers must not mutate them.
func (t *tool) Parameters() map[string]any { return maps.Clone(t.schema) }

func (t *tool) Execute(ctx context.Context, args Args) (any, error) {
	return t.execute(ctx, args)
}

func (t *tool) Timeout() time.Duration { return t.opts.timeout }
func (t *tool) Tags() []string         { return append([]string(nil), t.opts.tags...) }
func (t *tool) Version() string        { return t.opts.version }
func (t *tool) IsDangerous() bool      { return t.opts.dangerous }

// encodeArgs turns Args into the JSON document the schema validator expects. nil Args is "{}".
func encodeArgs(args Args) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, wrapJSONParseError(err)
	}
	return raw, nil
}

var (
	_ Tool         = (*tool)(nil)
	_ ToolMetadata = (*tool)(nil)
	_ Handler      = SyncHandler(nil)
	_ Handler      = ContextHandler(nil)
)
