package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/looplj/tenantguard/internal/contexts"
)

var ErrSystemRequired = errors.New("authz: operation requires system principal")

// NewSystemContext binds a System execution without tenant and without override.
// Tenant-scoped access from it still fails until RunAsSystem is entered.
func NewSystemContext(ctx context.Context) context.Context {
	return contexts.WithExecution(ctx, contexts.Execution{Source: contexts.SourceSystem})
}

// RunWithTenant executes fn on behalf of actorID inside tenantID.
// It shadows any execution bound to ctx, including an active override.
func RunWithTenant[T any](ctx context.Context, actorID, tenantID uuid.UUID, role string, fn func(ctx context.Context) (T, error)) (T, error) {
	return contexts.Run(ctx, contexts.Execution{
		ActorID:  actorID,
		TenantID: tenantID,
		Role:     role,
		Source:   contexts.GetSourceOrDefault(ctx, contexts.SourceJob),
	}, fn)
}

// RunAsJob executes fn as a scheduled job of tenantID, without an actor.
func RunAsJob[T any](ctx context.Context, tenantID uuid.UUID, fn func(ctx context.Context) (T, error)) (T, error) {
	return contexts.Run(ctx, contexts.Execution{TenantID: tenantID, Source: contexts.SourceJob}, fn)
}

// RequireSystem checks if current principal is System, otherwise returns error.
// Used to protect maintenance entry points.
func RequireSystem(ctx context.Context) error {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return fmt.Errorf("%w: no principal in context", ErrSystemRequired)
	}

	if !p.IsSystem() {
		return fmt.Errorf("%w: got %s", ErrSystemRequired, p.String())
	}

	return nil
}
