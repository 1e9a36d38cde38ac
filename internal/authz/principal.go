package authz

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/looplj/tenantguard/internal/contexts"
)

// PrincipalType defines authorization principal types.
type PrincipalType int

const (
	// PrincipalTypeUnknown unknown principal type.
	PrincipalTypeUnknown PrincipalType = iota
	// PrincipalTypeSystem system principal (elevated internal operations).
	PrincipalTypeSystem
	// PrincipalTypeUser user principal (requests dispatched for an authenticated user).
	PrincipalTypeUser
	// PrincipalTypeJob job principal (scheduled work acting for a tenant).
	PrincipalTypeJob
	// PrincipalTypeTest test principal (only for test environment).
	PrincipalTypeTest
)

// String returns string representation of PrincipalType.
func (p PrincipalType) String() string {
	switch p {
	case PrincipalTypeUnknown:
		return "unknown"
	case PrincipalTypeSystem:
		return "system"
	case PrincipalTypeUser:
		return "user"
	case PrincipalTypeJob:
		return "job"
	case PrincipalTypeTest:
		return "test"
	default:
		return "unknown"
	}
}

// Principal is the authorization identity derived from the bound execution.
type Principal struct {
	Type     PrincipalType
	ActorID  uuid.UUID
	TenantID uuid.UUID
}

// IsSystem checks if it is a system principal.
func (p Principal) IsSystem() bool {
	return p.Type == PrincipalTypeSystem
}

// IsUser checks if it is a user principal.
func (p Principal) IsUser() bool {
	return p.Type == PrincipalTypeUser
}

func (p Principal) IsJob() bool {
	return p.Type == PrincipalTypeJob
}

// IsTest checks if it is a test principal.
func (p Principal) IsTest() bool {
	return p.Type == PrincipalTypeTest
}

// String returns string representation of Principal (for audit logs).
func (p Principal) String() string {
	var s string

	switch p.Type {
	case PrincipalTypeUser, PrincipalTypeJob:
		if p.ActorID != uuid.Nil {
			s = fmt.Sprintf("%s:%s", p.Type, p.ActorID)
		} else {
			s = p.Type.String() + ":unknown"
		}
	default:
		s = p.Type.String()
	}

	if p.TenantID != uuid.Nil {
		s += "@" + p.TenantID.String()
	}

	return s
}

// PrincipalOf derives the principal of exec.
func PrincipalOf(exec contexts.Execution) Principal {
	p := Principal{ActorID: exec.ActorID, TenantID: exec.TenantID}

	switch {
	case exec.SystemOverride, exec.Source == contexts.SourceSystem:
		p.Type = PrincipalTypeSystem
	case exec.Source == contexts.SourceTest:
		p.Type = PrincipalTypeTest
	case exec.Source == contexts.SourceJob:
		p.Type = PrincipalTypeJob
	case exec.HasActor():
		p.Type = PrincipalTypeUser
	default:
		p.Type = PrincipalTypeUnknown
	}

	return p
}

// GetPrincipal reads the principal of the execution bound to ctx.
func GetPrincipal(ctx context.Context) (Principal, bool) {
	exec, ok := contexts.Current(ctx)
	if !ok {
		return Principal{}, false
	}

	return PrincipalOf(exec), true
}

// RequirePrincipal checks if a principal exists, otherwise returns error.
func RequirePrincipal(ctx context.Context) error {
	_, ok := GetPrincipal(ctx)
	if !ok {
		return fmt.Errorf("authz: no principal in context")
	}

	return nil
}
