package tenantdb

import (
	"context"

	"github.com/looplj/tenantguard/internal/store"
)

type txKey struct{}

func (c *Client) executorFor(ctx context.Context) store.Executor {
	if tx, ok := ctx.Value(txKey{}).(store.Executor); ok {
		return tx
	}

	return c.executor
}

// InTx runs fn in one transaction. Client calls made with the context passed to fn use it;
// nested InTx calls join the outer transaction. Executors without transaction support run fn directly.
func (c *Client) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(store.Executor); ok {
		return fn(ctx)
	}

	txer, ok := c.executor.(store.Transactor)
	if !ok {
		return fn(ctx)
	}

	return txer.WithTx(ctx, func(ctx context.Context, tx store.Executor) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// InTxResult is InTx for functions with a result.
func InTxResult[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := c.InTx(ctx, func(ctx context.Context) error {
		var err error

		result, err = fn(ctx)

		return err
	})

	return result, err
}
