package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skosovsky/toolscope"
)

// NewTestEngine returns an Engine with long timeout and panic recovery enabled, suitable for tests.
func NewTestEngine(opts ...toolscope.EngineOption) *toolscope.Engine {
	base := []toolscope.EngineOption{
		toolscope.WithDefaultTimeout(30 * time.Second),
		toolscope.WithRecoverPanics(true),
	}
	return toolscope.NewEngine(append(base, opts...)...)
}

// NewTestContext builds a valid RequestContext for user with derived thread and run ids.
func NewTestContext(t testing.TB, user string) toolscope.RequestContext {
	t.Helper()
	rc, err := toolscope.NewRequestContext(user, "thread_"+user, "run_"+user)
	require.NoError(t, err)
	return rc
}
