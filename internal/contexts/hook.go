package contexts

import (
	"context"

	"github.com/looplj/tenantguard/internal/log"
)

// ExecutionFieldsHook adds the bound execution to log entries so every line is attributable.
func ExecutionFieldsHook(ctx context.Context, msg string, fields ...log.Field) []log.Field {
	exec, ok := Current(ctx)
	if !ok {
		return fields
	}

	if exec.HasTenant() {
		fields = append(fields, log.String("tenant_id", exec.TenantID.String()))
	}

	if exec.HasActor() {
		fields = append(fields, log.String("actor_id", exec.ActorID.String()))
	}

	if exec.Role != "" {
		fields = append(fields, log.String("role", exec.Role))
	}

	if exec.SystemOverride {
		fields = append(fields, log.Bool("system_override", true))
	}

	return fields
}
