// Package tenantdb is the data access entry point for business modules. Every call is rewritten by
// the intercept engine against the execution bound to its context before it reaches storage, so
// callers never add tenant filters, soft-delete conditions or audit columns themselves.
package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/metrics"
	"github.com/looplj/tenantguard/internal/scopes"
	"github.com/looplj/tenantguard/internal/store"
)

// ErrNotFound is returned by single-row operations that matched no visible row.
var ErrNotFound = errors.New("tenantdb: not found")

type Client struct {
	engine   *intercept.Engine
	executor store.Executor
	recorder *metrics.Recorder
}

type Option func(*Client)

func WithRecorder(r *metrics.Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// New creates a client sharing executor across all requests. The client holds no per-request state.
func New(engine *intercept.Engine, executor store.Executor, opts ...Option) *Client {
	c := &Client{
		engine:   engine,
		executor: executor,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Registry returns the scope registry the client rewrites against.
func (c *Client) Registry() *scopes.Registry {
	return c.engine.Registry()
}

// Query holds the optional parts of a read.
type Query struct {
	Filter  intercept.Filter
	Columns []string
	Order   []intercept.Order
	Limit   int
	Offset  int
	Deleted intercept.DeletedMode
}

func (q Query) operation(model string, kind intercept.Kind) intercept.Operation {
	return intercept.Operation{
		Model:   model,
		Kind:    kind,
		Filter:  q.Filter,
		Columns: q.Columns,
		Order:   q.Order,
		Limit:   q.Limit,
		Offset:  q.Offset,
		Deleted: q.Deleted,
	}
}

func (c *Client) Find(ctx context.Context, model string, q Query) ([]store.Row, error) {
	return run(ctx, c, q.operation(model, intercept.KindFind), func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) ([]store.Row, error) {
		return ex.Select(ctx, rw)
	})
}

// First returns the first row of q, or ErrNotFound.
func (c *Client) First(ctx context.Context, model string, q Query) (store.Row, error) {
	q.Limit = 1

	rows, err := c.Find(ctx, model, q)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, model)
	}

	return rows[0], nil
}

// Get returns the visible row of model with primary key id.
func (c *Client) Get(ctx context.Context, model string, id any) (store.Row, error) {
	filter, err := c.byID(model, id)
	if err != nil {
		return nil, err
	}

	return c.First(ctx, model, Query{Filter: filter})
}

func (c *Client) Count(ctx context.Context, model string, q Query) (int, error) {
	return run(ctx, c, q.operation(model, intercept.KindCount), func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (int, error) {
		return ex.Count(ctx, rw)
	})
}

func (c *Client) Aggregate(ctx context.Context, model string, agg intercept.Aggregate, q Query) (float64, error) {
	op := q.operation(model, intercept.KindAggregate)
	op.Aggregate = agg

	return run(ctx, c, op, func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (float64, error) {
		return ex.Aggregate(ctx, rw)
	})
}

// GroupBy counts rows per distinct value of columns; agg is optional.
func (c *Client) GroupBy(ctx context.Context, model string, columns []string, agg intercept.Aggregate, q Query) ([]store.Row, error) {
	op := q.operation(model, intercept.KindGroupBy)
	op.GroupBy = columns
	op.Aggregate = agg

	return run(ctx, c, op, func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) ([]store.Row, error) {
		return ex.GroupBy(ctx, rw)
	})
}

// Create inserts row and returns it as stored, with tenant, primary key and audit columns filled in.
func (c *Client) Create(ctx context.Context, model string, row intercept.Values) (store.Row, error) {
	op := intercept.Operation{Model: model, Kind: intercept.KindCreate, Rows: []intercept.Values{row}}

	return run(ctx, c, op, func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (store.Row, error) {
		if _, err := ex.Insert(ctx, rw); err != nil {
			return nil, err
		}

		return rw.Rows[0], nil
	})
}

func (c *Client) CreateMany(ctx context.Context, model string, rows []intercept.Values) ([]store.Row, error) {
	op := intercept.Operation{Model: model, Kind: intercept.KindCreateMany, Rows: rows}

	return run(ctx, c, op, func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) ([]store.Row, error) {
		if _, err := ex.Insert(ctx, rw); err != nil {
			return nil, err
		}

		out := make([]store.Row, len(rw.Rows))
		for i, r := range rw.Rows {
			out[i] = r
		}

		return out, nil
	})
}

// Update applies set to the visible row with primary key id.
func (c *Client) Update(ctx context.Context, model string, id any, set intercept.Values) error {
	filter, err := c.byID(model, id)
	if err != nil {
		return err
	}

	op := intercept.Operation{Model: model, Kind: intercept.KindUpdate, Filter: filter, Set: set}

	return c.single(ctx, op, func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (int, error) {
		return ex.Update(ctx, rw)
	})
}

func (c *Client) UpdateMany(ctx context.Context, model string, filter intercept.Filter, set intercept.Values) (int, error) {
	op := intercept.Operation{Model: model, Kind: intercept.KindUpdateMany, Filter: filter, Set: set}

	return run(ctx, c, op, apply)
}

// Delete soft-deletes the row with primary key id, or removes it when the model has no soft delete.
func (c *Client) Delete(ctx context.Context, model string, id any) error {
	filter, err := c.byID(model, id)
	if err != nil {
		return err
	}

	return c.single(ctx, intercept.Operation{Model: model, Kind: intercept.KindDelete, Filter: filter}, apply)
}

func (c *Client) DeleteMany(ctx context.Context, model string, filter intercept.Filter) (int, error) {
	return run(ctx, c, intercept.Operation{Model: model, Kind: intercept.KindDeleteMany, Filter: filter}, apply)
}

// Restore brings back the soft-deleted row with primary key id.
func (c *Client) Restore(ctx context.Context, model string, id any) error {
	filter, err := c.byID(model, id)
	if err != nil {
		return err
	}

	return c.single(ctx, intercept.Operation{Model: model, Kind: intercept.KindRestore, Filter: filter}, apply)
}

// HardDelete physically removes rows matching filter. It requires a system override.
// mode OnlyDeleted restricts it to soft-deleted rows; any other mode removes live rows as well.
func (c *Client) HardDelete(ctx context.Context, model string, filter intercept.Filter, mode intercept.DeletedMode) (int, error) {
	op := intercept.Operation{
		Model:      model,
		Kind:       intercept.KindDeleteMany,
		Filter:     filter,
		Deleted:    mode,
		HardDelete: true,
	}

	return run(ctx, c, op, apply)
}

// apply executes a rewritten write with the physical action the engine chose.
func apply(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (int, error) {
	switch rw.Action {
	case intercept.ActionUpdate:
		return ex.Update(ctx, rw)
	case intercept.ActionDelete:
		return ex.Delete(ctx, rw)
	default:
		return 0, fmt.Errorf("%w: %s for %s", store.ErrUnsupportedAction, rw.Action, rw.Kind)
	}
}

func (c *Client) single(ctx context.Context, op intercept.Operation, fn func(context.Context, store.Executor, intercept.Rewritten) (int, error)) error {
	n, err := run(ctx, c, op, fn)
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, op.Model)
	}

	return nil
}

func (c *Client) byID(model string, id any) (intercept.Filter, error) {
	d, err := c.engine.Registry().Describe(model)
	if err != nil {
		return intercept.Filter{}, err
	}

	return intercept.Where(intercept.EQ(d.PrimaryKey, id)), nil
}

// run rewrites op for the execution bound to ctx and hands the result to fn.
// Rewrite failures are programmer errors: they are logged, counted and returned unchanged.
func run[T any](
	ctx context.Context,
	c *Client,
	op intercept.Operation,
	fn func(ctx context.Context, ex store.Executor, rw intercept.Rewritten) (T, error),
) (T, error) {
	var zero T

	start := time.Now()

	rw, err := c.engine.Rewrite(ctx, op)
	if err != nil {
		reason := intercept.Reason(err)
		c.recorder.RecordRejection(ctx, op.Model, reason)
		c.recorder.RecordOperation(ctx, op.Model, op.Kind.String(), "rejected")
		log.Error(ctx, "tenantdb: operation rejected",
			log.String("model", op.Model),
			log.String("kind", op.Kind.String()),
			log.String("reason", reason),
			log.Cause(err),
		)

		return zero, err
	}

	result, err := fn(ctx, c.executorFor(ctx), rw)
	if err != nil {
		c.recorder.RecordOperation(ctx, op.Model, op.Kind.String(), "error")
		return zero, err
	}

	c.recorder.RecordOperation(ctx, op.Model, op.Kind.String(), "ok")

	if log.DebugEnabled(ctx) {
		log.Debug(ctx, "tenantdb: operation",
			log.String("model", op.Model),
			log.String("kind", op.Kind.String()),
			log.String("action", rw.Action.String()),
			log.Bool("system_override", rw.SystemOverride),
			log.Duration("elapsed", time.Since(start)),
		)
	}

	return result, nil
}
