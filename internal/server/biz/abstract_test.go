package biz

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/tenantdb"
)

func TestAbstractService_RunInTransaction(t *testing.T) {
	newSvc := func(t *testing.T) (*tenantdb.Client, *AbstractService, context.Context) {
		db, _ := newTestDB(t)
		svc := &AbstractService{db: db}
		ctx := tenantCtx(uuid.New(), uuid.New())

		return db, svc, ctx
	}

	t.Run("commit", func(t *testing.T) {
		db, svc, ctx := newSvc(t)

		err := svc.RunInTransaction(ctx, func(txCtx context.Context) error {
			_, err := db.Create(txCtx, scopes.ModelCustomers, intercept.Values{"name": "acme"})
			return err
		})
		require.NoError(t, err)

		n, err := db.Count(ctx, scopes.ModelCustomers, tenantdb.Query{})
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("rollback on error", func(t *testing.T) {
		db, svc, ctx := newSvc(t)

		expectedErr := errors.New("boom")
		err := svc.RunInTransaction(ctx, func(txCtx context.Context) error {
			_, err := db.Create(txCtx, scopes.ModelCustomers, intercept.Values{"name": "acme"})
			require.NoError(t, err)

			return expectedErr
		})
		assert.ErrorIs(t, err, expectedErr)

		n, err := db.Count(ctx, scopes.ModelCustomers, tenantdb.Query{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("nested joins outer transaction", func(t *testing.T) {
		db, svc, ctx := newSvc(t)

		err := svc.RunInTransaction(ctx, func(txCtx context.Context) error {
			if err := svc.RunInTransaction(txCtx, func(inner context.Context) error {
				_, err := db.Create(inner, scopes.ModelCustomers, intercept.Values{"name": "inner"})
				return err
			}); err != nil {
				return err
			}

			return errors.New("outer failed")
		})
		require.Error(t, err)

		n, err := db.Count(ctx, scopes.ModelCustomers, tenantdb.Query{})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
