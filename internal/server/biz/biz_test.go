package biz

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/looplj/tenantguard/internal/authz"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/store/memstore"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

func newTestDB(t *testing.T) (*tenantdb.Client, *memstore.Store) {
	t.Helper()

	s := memstore.New()
	engine := intercept.NewEngine(scopes.MustNewRegistry(scopes.DefaultConfig()))

	return tenantdb.New(engine, s), s
}

func tenantCtx(tenantID, actorID uuid.UUID) context.Context {
	return authz.NewTestContext(context.Background(), actorID, tenantID)
}
