package adapters

import (
	"context"
	"fmt"
	"time"

	"sapsan-iro/core/store"
)

// ExecResult is what an adapter reports after a successful call. The rollback
// token, when present, is the handle the adapter needs to undo the action.
type ExecResult struct {
	RollbackToken string
	Detail        string
}

// ToolAdapter wraps one external system. Execute is atomic at this boundary:
// either the external call took effect and a result comes back, or it failed
// and nothing needs undoing. Timeout is the adapter's own bound per call; the
// orchestrator enforces it, adapters just declare it.
type ToolAdapter interface {
	Execute(ctx context.Context, action store.Action) (*ExecResult, error)
	Rollback(ctx context.Context, token string) error
	Timeout() time.Duration
}

// Registry maps action types to adapters. The orchestrator resolves through
// it and never branches on system identity.
type Registry struct {
	adapters map[string]ToolAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ToolAdapter)}
}

func (r *Registry) Register(actionType string, adapter ToolAdapter) {
	r.adapters[actionType] = adapter
}

func (r *Registry) Resolve(actionType string) (ToolAdapter, error) {
	adapter, ok := r.adapters[actionType]
	if !ok {
		return nil, fmt.Errorf("no adapter for action type %q", actionType)
	}
	return adapter, nil
}

func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.adapters))
	for t := range r.adapters {
		out = append(out, t)
	}
	return out
}
