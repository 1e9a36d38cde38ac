package biz

import (
	"context"

	"github.com/looplj/tenantguard/internal/tenantdb"
)

type AbstractService struct {
	db *tenantdb.Client
}

// RunInTransaction runs fn in one transaction, joining the transaction already bound to ctx if any.
func (a *AbstractService) RunInTransaction(ctx context.Context, fn func(context.Context) error) error {
	return a.db.InTx(ctx, fn)
}
