// Package testutil provides test helpers for toolscope (MockTool, recording notifiers and emitters).
package testutil

import (
	"context"
	"sync/atomic"

	"github.com/skosovsky/toolscope"
)

// MockTool is a configurable Tool implementation for tests.
type MockTool struct {
	NameVal   string
	DescVal   string
	ParamsVal map[string]any
	ExecuteFn func(ctx context.Context, args toolscope.Args) (any, error)

	calls atomic.Int64
}

// Name returns the tool name.
func (m *MockTool) Name() string {
	if m.NameVal != "" {
		return m.NameVal
	}
	return "mock"
}

// Description returns the tool description.
func (m *MockTool) Description() string {
	return m.DescVal
}

// Parameters returns the parameters schema (or empty map).
func (m *MockTool) Parameters() map[string]any {
	if m.ParamsVal != nil {
		return m.ParamsVal
	}
	return map[string]any{}
}

// Execute runs ExecuteFn if set, otherwise returns (nil, nil).
func (m *MockTool) Execute(ctx context.Context, args toolscope.Args) (any, error) {
	m.calls.Add(1)
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, args)
	}
	return nil, nil
}

// Calls returns how many times Execute ran.
func (m *MockTool) Calls() int {
	return int(m.calls.Load())
}

// Ensure MockTool implements Tool.
var _ toolscope.Tool = (*MockTool)(nil)
