package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/objects"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// RoleOwner is granted to the first user of a tenant.
const RoleOwner = "owner"

// RoleAdmin is an operator role that may act across tenants.
const RoleAdmin = "admin"

type RegisterTenantInput struct {
	CompanyName string `json:"company_name" binding:"required"`
	Email       string `json:"email" binding:"required,email"`
	Password    string `json:"password" binding:"required,min=8"`
}

type TenantServiceParams struct {
	fx.In

	DB *tenantdb.Client
}

type TenantService struct {
	*AbstractService
}

func NewTenantService(params TenantServiceParams) *TenantService {
	return &TenantService{
		AbstractService: &AbstractService{db: params.DB},
	}
}

// Register creates a tenant together with its owner account.
// No tenant exists yet, so the whole registration runs under a system override.
func (s *TenantService) Register(ctx context.Context, input RegisterTenantInput) (objects.UserInfo, error) {
	input.CompanyName = strings.TrimSpace(input.CompanyName)
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))

	if input.CompanyName == "" || input.Email == "" || input.Password == "" {
		return objects.UserInfo{}, fmt.Errorf("%w: company name, email and password are required", ErrInvalidInput)
	}

	hash, err := HashPassword(input.Password)
	if err != nil {
		return objects.UserInfo{}, fmt.Errorf("failed to hash password: %w", err)
	}

	return authz.RunAsSystem(ctx, "tenant-registration", func(ctx context.Context) (objects.UserInfo, error) {
		return tenantdb.InTxResult(ctx, s.db, func(ctx context.Context) (objects.UserInfo, error) {
			n, err := s.db.Count(ctx, scopes.ModelUsers, tenantdb.Query{
				Filter: intercept.Where(intercept.EQ("email", input.Email)),
			})
			if err != nil {
				return objects.UserInfo{}, err
			}

			if n > 0 {
				return objects.UserInfo{}, ErrEmailTaken
			}

			tenant, err := s.db.Create(ctx, scopes.ModelTenants, intercept.Values{
				"name": input.CompanyName,
			})
			if err != nil {
				return objects.UserInfo{}, fmt.Errorf("failed to create tenant: %w", err)
			}

			tenantID, err := parseUUID(tenant["id"])
			if err != nil {
				return objects.UserInfo{}, err
			}

			user, err := s.db.Create(ctx, scopes.ModelUsers, intercept.Values{
				"email":                    input.Email,
				"password":                 hash,
				"role":                     RoleOwner,
				scopes.DefaultTenantColumn: tenantID,
			})
			if err != nil {
				return objects.UserInfo{}, fmt.Errorf("failed to create owner: %w", err)
			}

			userID, err := parseUUID(user["id"])
			if err != nil {
				return objects.UserInfo{}, err
			}

			_, err = s.db.Create(ctx, scopes.ModelAuditEvents, intercept.Values{
				scopes.DefaultTenantColumn: tenantID,
				"action":                   "tenant.registered",
				"subject_id":               userID,
			})
			if err != nil {
				return objects.UserInfo{}, fmt.Errorf("failed to record audit event: %w", err)
			}

			log.Info(ctx, "tenant registered",
				log.String("tenant_id", tenantID.String()),
				log.String("owner_id", userID.String()),
			)

			return objects.UserInfo{ID: userID, Email: input.Email, TenantID: tenantID, Role: RoleOwner}, nil
		})
	})
}

// Get returns the tenant record of id.
func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (map[string]any, error) {
	return s.db.Get(ctx, scopes.ModelTenants, id)
}
