package contexts

import (
	"context"

	"github.com/google/uuid"
)

// Execution describes who is asking, and on whose behalf, for one logical operation
// (an HTTP request, a scheduled job, or an elevated internal operation).
//
// An Execution is a value: once bound to a context it cannot be changed, only shadowed by
// binding another Execution on a derived context.
type Execution struct {
	// ActorID is the user the operation is attributed to, uuid.Nil when unknown.
	ActorID uuid.UUID
	// TenantID is the tenant the operation runs for, uuid.Nil when none is bound.
	TenantID uuid.UUID
	Role     string
	Source   Source

	// SystemOverride suspends tenant filtering. Only package authz sets it.
	SystemOverride bool
}

func (e Execution) HasActor() bool {
	return e.ActorID != uuid.Nil
}

func (e Execution) HasTenant() bool {
	return e.TenantID != uuid.Nil
}

type executionKey struct{}

// WithExecution returns a child of parent carrying exec as the current execution.
// The binding is visible to everything that receives the returned context, including
// goroutines started with it, and to nothing else.
func WithExecution(parent context.Context, exec Execution) context.Context {
	return context.WithValue(parent, executionKey{}, exec)
}

// Current returns the execution bound by the innermost WithExecution, if any.
func Current(ctx context.Context) (Execution, bool) {
	if ctx == nil {
		return Execution{}, false
	}

	exec, ok := ctx.Value(executionKey{}).(Execution)

	return exec, ok
}

// Run executes fn with exec bound as the current execution for its whole dynamic extent.
func Run[T any](ctx context.Context, exec Execution, fn func(ctx context.Context) (T, error)) (T, error) {
	return fn(WithExecution(ctx, exec))
}

// Do is Run for functions without a result.
func Do(ctx context.Context, exec Execution, fn func(ctx context.Context) error) error {
	return fn(WithExecution(ctx, exec))
}
