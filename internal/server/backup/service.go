package backup

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

var (
	ErrPermissionDenied = errors.New("only owners and admins can perform backup operations")
	ErrVersionMismatch  = errors.New("backup version mismatch")
	ErrConflict         = errors.New("row already exists")
)

// Roles allowed to export and restore their tenant.
var backupRoles = []string{"owner", "admin"}

type BackupServiceParams struct {
	fx.In

	DB *tenantdb.Client
}

func NewBackupService(params BackupServiceParams) *BackupService {
	return &BackupService{
		db: params.DB,
	}
}

type BackupService struct {
	db *tenantdb.Client
}

func (svc *BackupService) authorize(ctx context.Context) (authz.Principal, error) {
	exec, ok := contexts.Current(ctx)
	if !ok || !exec.HasActor() || !exec.HasTenant() {
		return authz.Principal{}, fmt.Errorf("%w: user not found in context", ErrPermissionDenied)
	}

	if !slices.Contains(backupRoles, exec.Role) {
		return authz.Principal{}, ErrPermissionDenied
	}

	return authz.PrincipalOf(exec), nil
}

// models returns the tenant-scoped models selected by names, all of them when names is empty.
func (svc *BackupService) models(names []string) ([]scopes.Descriptor, error) {
	var out []scopes.Descriptor

	for _, d := range svc.db.Registry().Descriptors() {
		if !d.TenantScoped() {
			continue
		}

		if len(names) == 0 || slices.Contains(names, d.Model) {
			out = append(out, d)
		}
	}

	for _, name := range names {
		if !slices.ContainsFunc(out, func(d scopes.Descriptor) bool { return d.Model == name }) {
			return nil, fmt.Errorf("%w: %q is not a tenant-scoped model", scopes.ErrUnknownModel, name)
		}
	}

	return out, nil
}
