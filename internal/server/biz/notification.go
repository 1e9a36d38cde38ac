package biz

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/fx"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/store"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

// Notification is a message addressed to a tenant, optionally to a single user of it.
// A nil RecipientID means every user of the tenant. When RecipientID is set the tenant is
// taken from the recipient's account and TenantID, if given, must agree with it.
type Notification struct {
	TenantID    uuid.UUID  `json:"tenant_id,omitempty"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"`
	Title       string     `json:"title" binding:"required"`
	Body        string     `json:"body"`
}

type NotificationServiceParams struct {
	fx.In

	DB *tenantdb.Client
}

type NotificationService struct {
	*AbstractService
}

func NewNotificationService(params NotificationServiceParams) *NotificationService {
	return &NotificationService{
		AbstractService: &AbstractService{db: params.DB},
	}
}

// Notify stores n in the recipient tenant.
// Callers may only address their own tenant; operators, jobs and system principals may address any tenant,
// in which case the write runs under a system override while the caller stays recorded as creator.
func (s *NotificationService) Notify(ctx context.Context, n Notification) (store.Row, error) {
	if err := authz.RequirePrincipal(ctx); err != nil {
		return nil, err
	}

	if n.Title == "" || (n.TenantID == uuid.Nil && n.RecipientID == nil) {
		return nil, fmt.Errorf("%w: notification needs a title and a tenant or recipient", ErrInvalidInput)
	}

	tenantID, err := s.resolveTenant(ctx, n)
	if err != nil {
		return nil, err
	}

	exec, _ := contexts.Current(ctx)

	crossTenant := exec.SystemOverride || tenantID != exec.TenantID
	if crossTenant && !mayNotifyAnyTenant(exec) {
		log.Warn(ctx, "cross-tenant notification refused",
			log.String("recipient_tenant", tenantID.String()),
		)

		return nil, fmt.Errorf("%w: notification addresses another tenant", ErrForbidden)
	}

	row := intercept.Values{
		scopes.DefaultTenantColumn: tenantID,
		"title":                    n.Title,
		"body":                     n.Body,
		"read":                     false,
		"recipient_id":             nil,
	}
	if n.RecipientID != nil {
		row["recipient_id"] = *n.RecipientID
	}

	var created store.Row
	if crossTenant {
		created, err = authz.RunAsSystem(ctx, "notification-fanout", func(ctx context.Context) (store.Row, error) {
			return s.db.Create(ctx, scopes.ModelNotifications, row)
		})
	} else {
		created, err = s.db.Create(ctx, scopes.ModelNotifications, row)
	}

	if err != nil {
		return nil, err
	}

	log.Debug(ctx, "notification sent", log.String("recipient_tenant", tenantID.String()))

	return created, nil
}

// resolveTenant returns the tenant n is delivered to.
// A recipient is looked up on the users table and its own tenant wins over the requested one.
func (s *NotificationService) resolveTenant(ctx context.Context, n Notification) (uuid.UUID, error) {
	if n.RecipientID == nil {
		if _, err := s.db.Get(ctx, scopes.ModelTenants, n.TenantID); err != nil {
			if errors.Is(err, tenantdb.ErrNotFound) {
				return uuid.Nil, fmt.Errorf("%w: unknown tenant", ErrInvalidInput)
			}

			return uuid.Nil, err
		}

		return n.TenantID, nil
	}

	user, err := authz.RunAsSystem(ctx, "notification-recipient-lookup", func(ctx context.Context) (store.Row, error) {
		return s.db.Get(ctx, scopes.ModelUsers, *n.RecipientID)
	})
	if err != nil {
		if errors.Is(err, tenantdb.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: unknown recipient", ErrInvalidInput)
		}

		return uuid.Nil, err
	}

	tenantID, err := parseUUID(user[scopes.DefaultTenantColumn])
	if err != nil {
		return uuid.Nil, fmt.Errorf("recipient tenant: %w", err)
	}

	if n.TenantID != uuid.Nil && n.TenantID != tenantID {
		return uuid.Nil, fmt.Errorf("%w: recipient does not belong to the tenant", ErrInvalidInput)
	}

	return tenantID, nil
}

func mayNotifyAnyTenant(exec contexts.Execution) bool {
	if exec.Role == RoleAdmin {
		return true
	}

	p := authz.PrincipalOf(exec)

	return p.IsSystem() || p.IsJob()
}

// ListMine returns the notifications of the caller: the ones addressed to it and the tenant-wide ones.
func (s *NotificationService) ListMine(ctx context.Context, unreadOnly bool) ([]store.Row, error) {
	exec, _ := contexts.Current(ctx)

	filter := intercept.Filter{}.Or(
		intercept.EQ("recipient_id", exec.ActorID),
		intercept.IsNull("recipient_id"),
	)
	if unreadOnly {
		filter = filter.And(intercept.EQ("read", false))
	}

	return s.db.Find(ctx, scopes.ModelNotifications, tenantdb.Query{
		Filter: filter,
		Order:  []intercept.Order{intercept.Desc(scopes.DefaultCreatedAtColumn)},
	})
}

// MarkRead flags one notification of the caller's tenant as read.
func (s *NotificationService) MarkRead(ctx context.Context, id uuid.UUID) error {
	return s.db.Update(ctx, scopes.ModelNotifications, id, intercept.Values{"read": true})
}
