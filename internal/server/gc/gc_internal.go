package gc

import (
	"context"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/log"
)

const purgeReason = "soft-delete-purge"

func (w *Worker) runPurgeWithSystemContext(ctx context.Context) {
	_, err := w.RunOnce(authz.NewSystemContext(ctx))
	if err != nil {
		log.Error(ctx, "soft-delete purge failed", log.Cause(err))
	}
}

// RunOnce runs one purge immediately. The caller must be a system execution.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	if err := authz.RequireSystem(ctx); err != nil {
		return nil, err
	}

	return authz.RunAsSystem(ctx, purgeReason, w.runPurge)
}
