package tools

import (
	"context"
	"fmt"
	"time"
)

const defaultCallTimeout = 30 * time.Second

// Registry dispatches a tool call by name to its Executor, bounding every
// call by the smaller of its own per-call timeout and whatever deadline
// the caller's context already carries (§4.G: "all tool executions are
// bounded by the request's overall deadline; individual tool-call
// timeouts default to 30 s"). context.WithTimeout already resolves to the
// earlier of the two deadlines, so no extra bookkeeping is needed here.
type Registry struct {
	executors   map[string]Executor
	callTimeout time.Duration
}

// NewRegistry returns a Registry with current_date pre-registered, since
// it is always available regardless of what the caller asked for.
func NewRegistry(callTimeout time.Duration) *Registry {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &Registry{
		executors:   map[string]Executor{"current_date": CurrentDate{}},
		callTimeout: callTimeout,
	}
}

// Register adds or replaces the executor for name.
func (r *Registry) Register(name string, executor Executor) {
	r.executors[name] = executor
}

// Has reports whether a tool by this name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.executors[name]
	return ok
}

// Execute runs the named tool with params, enforcing the per-call
// timeout. An unknown tool name is itself an error the agent loop turns
// into a synthetic tool result (§4.E: "otherwise → error tool-call
// 'unknown tool'").
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (string, error) {
	executor, ok := r.executors[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	return executor.Search(callCtx, params)
}
