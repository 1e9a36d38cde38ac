// Package store defines the storage boundary of the data layer. A storage executes rewritten
// operations verbatim: tenancy, soft delete and audit stamping are decided before it is reached.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplj/tenantguard/internal/intercept"
)

var (
	// ErrDuplicateKey is returned by Insert when a primary key already exists.
	ErrDuplicateKey = errors.New("store: duplicate key")
	// ErrUnsupportedAction is returned when an executor method receives a rewritten operation of another action.
	ErrUnsupportedAction = errors.New("store: unsupported action")
)

// Row is one stored row keyed by column name.
type Row = map[string]any

// Group columns produced by GroupBy next to the grouped columns.
const (
	GroupCountColumn = "count"
	GroupValueColumn = "value"
)

// Executor executes rewritten operations.
type Executor interface {
	Select(ctx context.Context, rw intercept.Rewritten) ([]Row, error)
	Count(ctx context.Context, rw intercept.Rewritten) (int, error)
	// Aggregate returns the aggregate of rw; sum, avg, min and max over no rows return 0.
	Aggregate(ctx context.Context, rw intercept.Rewritten) (float64, error)
	// GroupBy returns one row per group holding the grouped columns, GroupCountColumn and,
	// when rw carries an aggregate, GroupValueColumn.
	GroupBy(ctx context.Context, rw intercept.Rewritten) ([]Row, error)
	Insert(ctx context.Context, rw intercept.Rewritten) (int, error)
	Update(ctx context.Context, rw intercept.Rewritten) (int, error)
	Delete(ctx context.Context, rw intercept.Rewritten) (int, error)
}

// Transactor is implemented by executors able to run a unit of work atomically.
// fn receives an executor bound to the transaction; returning an error or panicking rolls it back.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Executor) error) error
}

// Expect checks that rw performs one of actions.
func Expect(rw intercept.Rewritten, actions ...intercept.Action) error {
	for _, a := range actions {
		if rw.Action == a {
			return nil
		}
	}

	return fmt.Errorf("%w: %s on %s", ErrUnsupportedAction, rw.Action, rw.Table())
}
