package toolscope

import "context"

// WithDispatcher creates a dispatcher bound to rc, passes it to fn and always cleans it up,
// whether fn returns normally, returns an error or panics (the panic is re-raised after cleanup).
func WithDispatcher(
	ctx context.Context,
	rc RequestContext,
	engine ExecutionEngine,
	fn func(d *Dispatcher) error,
	opts ...DispatcherOption,
) error {
	d, err := NewDispatcher(rc, engine, opts...)
	if err != nil {
		return err
	}
	defer d.Cleanup(context.WithoutCancel(ctx))
	return fn(d)
}
