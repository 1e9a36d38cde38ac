package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/log"
)

// ErrReasonRequired is returned when a system override is requested without an audit reason.
var ErrReasonRequired = errors.New("authz: system override requires a reason")

// overrideKey is an unexported key type to prevent external forgery.
type overrideKey struct{}

// OverrideInfo stores system override metadata.
type OverrideInfo struct {
	Reason    string
	Timestamp time.Time
	// Principal is the identity that requested the override.
	Principal Principal
	// PreviousTenant is the tenant bound before the override, uuid.Nil when none.
	PreviousTenant uuid.UUID
}

// WithSystemOverride derives a context on which tenant filtering is suspended.
// The actor of the current execution is kept so audit columns still name who acted.
// reason must be a stable audit identifier (e.g., "notification-fanout", "soft-delete-purge").
func WithSystemOverride(ctx context.Context, reason string) (context.Context, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}

	prev, _ := contexts.Current(ctx)

	info := OverrideInfo{
		Reason:         reason,
		Timestamp:      time.Now(),
		Principal:      PrincipalOf(prev),
		PreviousTenant: prev.TenantID,
	}

	// Record audit log
	recordOverrideAudit(ctx, info)

	ctx = context.WithValue(ctx, overrideKey{}, info)

	return contexts.WithExecution(ctx, contexts.Execution{
		ActorID:        prev.ActorID,
		Role:           prev.Role,
		Source:         contexts.SourceSystem,
		SystemOverride: true,
	}), nil
}

// RunAsSystem executes fn with tenant filtering suspended, limiting the override to the closure.
// Recommended over WithSystemOverride to prevent the override context from spreading along the call chain.
//
// Example usage:
//
//	id, err := authz.RunAsSystem(ctx, "notification-fanout", func(ctx context.Context) (uuid.UUID, error) {
//	    return client.Create(ctx, scopes.ModelNotifications, row)
//	})
func RunAsSystem[T any](ctx context.Context, reason string, fn func(ctx context.Context) (T, error)) (T, error) {
	systemCtx, err := WithSystemOverride(ctx, reason)
	if err != nil {
		var zero T
		return zero, err
	}

	return fn(systemCtx)
}

// GetOverrideInfo retrieves current override information.
// Used for audit and debugging. It reports false once a nested RunWithTenant has ended the override.
func GetOverrideInfo(ctx context.Context) (OverrideInfo, bool) {
	if !IsOverrideActive(ctx) {
		return OverrideInfo{}, false
	}

	info, ok := ctx.Value(overrideKey{}).(OverrideInfo)

	return info, ok
}

// IsOverrideActive checks if tenant filtering is suspended for the execution bound to ctx.
// A later RunWithTenant on a derived context ends the override.
func IsOverrideActive(ctx context.Context) bool {
	exec, ok := contexts.Current(ctx)
	return ok && exec.SystemOverride
}

// OverrideAuditRecord represents an override audit record.
type OverrideAuditRecord struct {
	Timestamp      time.Time
	Principal      string
	Reason         string
	ActorID        uuid.UUID
	PreviousTenant uuid.UUID
	Description    string
}

// AuditLogger receives one record for every system override.
type AuditLogger func(ctx context.Context, record OverrideAuditRecord)

var auditLogger atomic.Pointer[AuditLogger]

// SetAuditLogger sets a custom audit logger.
// If not set, or set to nil, a structured log line is written.
func SetAuditLogger(fn AuditLogger) {
	if fn == nil {
		auditLogger.Store(nil)
		return
	}

	auditLogger.Store(&fn)
}

func recordOverrideAudit(ctx context.Context, info OverrideInfo) {
	record := OverrideAuditRecord{
		Timestamp:      info.Timestamp,
		Principal:      info.Principal.String(),
		Reason:         info.Reason,
		ActorID:        info.Principal.ActorID,
		PreviousTenant: info.PreviousTenant,
		Description:    fmt.Sprintf("System override: reason=%s, principal=%s", info.Reason, info.Principal.String()),
	}

	if fn := auditLogger.Load(); fn != nil {
		(*fn)(ctx, record)
		return
	}

	LogOverride(ctx, record)
}

// LogOverride is the default audit logger.
func LogOverride(ctx context.Context, record OverrideAuditRecord) {
	log.Info(ctx, "authz: system override",
		log.String("principal", record.Principal),
		log.String("reason", record.Reason),
		log.String("actor_id", record.ActorID.String()),
		log.String("previous_tenant", record.PreviousTenant.String()),
	)
}
