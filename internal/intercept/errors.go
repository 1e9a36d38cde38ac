package intercept

import (
	"errors"

	"github.com/looplj/tenantguard/internal/scopes"
)

// Programmer errors. They abort the operation and must never be retried or downgraded.
var (
	ErrMissingTenantContext  = errors.New("intercept: missing tenant context")
	ErrUnknownModel          = scopes.ErrUnknownModel
	ErrCrossTenantViolation  = errors.New("intercept: cross-tenant violation attempt")
	ErrProtectedColumn       = errors.New("intercept: protected column in payload")
	ErrHardDeleteNotAllowed  = errors.New("intercept: hard delete requires system override")
	ErrSoftDeleteUnsupported = errors.New("intercept: model does not support soft delete")
	ErrInvalidOperation      = errors.New("intercept: invalid operation")
)

var programmerErrors = []error{
	ErrMissingTenantContext,
	ErrUnknownModel,
	ErrCrossTenantViolation,
	ErrProtectedColumn,
	ErrHardDeleteNotAllowed,
	ErrSoftDeleteUnsupported,
	ErrInvalidOperation,
}

// IsProgrammerError reports whether err comes from a misuse of the data layer rather than from storage.
func IsProgrammerError(err error) bool {
	for _, target := range programmerErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}

// Reason returns a short stable label for a programmer error, used for metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingTenantContext):
		return "missing_tenant_context"
	case errors.Is(err, ErrUnknownModel):
		return "unknown_model"
	case errors.Is(err, ErrCrossTenantViolation):
		return "cross_tenant_violation"
	case errors.Is(err, ErrProtectedColumn):
		return "protected_column"
	case errors.Is(err, ErrHardDeleteNotAllowed):
		return "hard_delete_not_allowed"
	case errors.Is(err, ErrSoftDeleteUnsupported):
		return "soft_delete_unsupported"
	case errors.Is(err, ErrInvalidOperation):
		return "invalid_operation"
	default:
		return "other"
	}
}
