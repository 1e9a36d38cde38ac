package authz

import (
	"context"

	"github.com/google/uuid"

	"github.com/looplj/tenantguard/internal/contexts"
)

// NewTestContext creates context with a Test principal acting for tenantID (only for test environment).
func NewTestContext(ctx context.Context, actorID, tenantID uuid.UUID) context.Context {
	return contexts.WithExecution(ctx, contexts.Execution{
		ActorID:  actorID,
		TenantID: tenantID,
		Source:   contexts.SourceTest,
	})
}

// WithTestOverride creates a Test principal context with tenant filtering suspended.
func WithTestOverride(ctx context.Context) context.Context {
	overrideCtx, _ := WithSystemOverride(NewTestContext(ctx, uuid.Nil, uuid.Nil), "test")
	return overrideCtx
}
