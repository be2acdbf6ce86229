package executor

import (
	"context"
	"fmt"

	"github.com/versantlabs/schedcore/internal/domain"
)

// Executor performs the deferred side effect for one target type.
// Implementations must be idempotent: re-executing a job whose effect
// already happened completes without repeating the action.
type Executor interface {
	Execute(ctx context.Context, job domain.ScheduledJob, traceID string) error
}

// Registry maps target types to their executors.
type Registry struct {
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

func (r *Registry) Register(targetType string, e Executor) {
	r.executors[targetType] = e
}

func (r *Registry) Lookup(targetType string) (Executor, error) {
	e, ok := r.executors[targetType]
	if !ok {
		return nil, fmt.Errorf("no executor registered for target type %q", targetType)
	}
	return e, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.executors))
	for n := range r.executors {
		names = append(names, n)
	}
	return names
}
