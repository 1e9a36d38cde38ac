// Package sqlstore executes rewritten operations against a SQL database through the ent
// dialect driver. Statements are built with entgo.io/ent/dialect/sql so placeholders and
// quoting follow the configured dialect (postgres, mysql, sqlite).
package sqlstore

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/log"
	"github.com/looplj/tenantguard/internal/store"
)

// TenantSetting is the Postgres run-time parameter carrying the bound tenant inside transactions.
const TenantSetting = "app.current_tenant"

type Store struct {
	conn    dialect.ExecQuerier
	drv     dialect.Driver
	dialect string
	rls     bool
	// setting is the tenant last published inside a transaction, nil outside one.
	setting *tenantSetting
}

type tenantSetting struct {
	mu      sync.Mutex
	applied bool
	tenant  string
}

type Option func(*Store)

// WithRLS makes every transaction publish the bound tenant through TenantSetting,
// so Postgres row level security policies can enforce isolation as well. Ignored on other dialects.
func WithRLS(enabled bool) Option {
	return func(s *Store) { s.rls = enabled }
}

func New(drv dialect.Driver, opts ...Option) *Store {
	s := &Store{
		conn:    drv,
		drv:     drv,
		dialect: drv.Dialect(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

var (
	_ store.Executor   = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func (s *Store) Dialect() string {
	return s.dialect
}

func (s *Store) Select(ctx context.Context, rw intercept.Rewritten) ([]store.Row, error) {
	if err := store.Expect(rw, intercept.ActionSelect); err != nil {
		return nil, err
	}

	sel, err := s.selector(rw, rw.Columns...)
	if err != nil {
		return nil, err
	}

	query, args := sel.Query()

	return s.queryRows(ctx, query, args)
}

func (s *Store) Count(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionCount); err != nil {
		return 0, err
	}

	rw.Order, rw.Limit, rw.Offset = nil, 0, 0

	sel, err := s.selector(rw, entsql.Count("*"))
	if err != nil {
		return 0, err
	}

	query, args := sel.Query()

	v, err := s.queryScalar(ctx, query, args)
	if err != nil {
		return 0, err
	}

	return int(v), nil
}

func (s *Store) Aggregate(ctx context.Context, rw intercept.Rewritten) (float64, error) {
	if err := store.Expect(rw, intercept.ActionAggregate); err != nil {
		return 0, err
	}

	expr, err := aggExpr(rw.Aggregate)
	if err != nil {
		return 0, err
	}

	rw.Order, rw.Limit, rw.Offset = nil, 0, 0

	sel, err := s.selector(rw, expr)
	if err != nil {
		return 0, err
	}

	query, args := sel.Query()

	return s.queryScalar(ctx, query, args)
}

func (s *Store) GroupBy(ctx context.Context, rw intercept.Rewritten) ([]store.Row, error) {
	if err := store.Expect(rw, intercept.ActionGroupBy); err != nil {
		return nil, err
	}

	columns := append([]string{}, rw.GroupBy...)
	columns = append(columns, entsql.As(entsql.Count("*"), store.GroupCountColumn))

	if rw.Aggregate.Func != "" {
		expr, err := aggExpr(rw.Aggregate)
		if err != nil {
			return nil, err
		}

		columns = append(columns, entsql.As(expr, store.GroupValueColumn))
	}

	sel, err := s.selector(rw, columns...)
	if err != nil {
		return nil, err
	}

	sel.GroupBy(rw.GroupBy...)
	query, args := sel.Query()

	return s.queryRows(ctx, query, args)
}

func (s *Store) Insert(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionInsert); err != nil {
		return 0, err
	}

	if len(rw.Rows) == 0 {
		return 0, nil
	}

	query, args := s.insertQuery(rw)

	n, err := s.exec(ctx, query, args)
	if err != nil && isDuplicate(err) {
		return 0, fmt.Errorf("%w: %s: %w", store.ErrDuplicateKey, rw.Table(), err)
	}

	return n, err
}

func (s *Store) Update(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionUpdate); err != nil {
		return 0, err
	}

	query, args, err := s.updateQuery(rw)
	if err != nil {
		return 0, err
	}

	return s.exec(ctx, query, args)
}

func (s *Store) Delete(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionDelete); err != nil {
		return 0, err
	}

	query, args, err := s.deleteQuery(rw)
	if err != nil {
		return 0, err
	}

	return s.exec(ctx, query, args)
}

// WithTx runs fn on a new transaction. Nested calls on a transaction store reuse it.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Executor) error) (err error) {
	if s.drv == nil {
		return fn(ctx, s)
	}

	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return err
	}

	committed := false

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()

			panic(r)
		}

		if !committed {
			if rerr := tx.Rollback(); rerr != nil {
				log.Warn(ctx, "failed to rollback transaction", log.Cause(rerr))
			}
		}
	}()

	txStore := &Store{conn: tx, dialect: s.dialect, rls: s.rls, setting: &tenantSetting{}}

	if err := txStore.syncTenantSetting(ctx); err != nil {
		return err
	}

	if err := fn(ctx, txStore); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	committed = true

	return nil
}

// syncTenantSetting publishes the tenant bound to ctx for the rest of the transaction.
// Under a system override no tenant is bound and the setting is empty. It runs before every
// statement, so a RunAsSystem or RunWithTenant block inside the transaction is seen by the policies too.
func (s *Store) syncTenantSetting(ctx context.Context) error {
	if !s.rls || s.setting == nil || s.dialect != dialect.Postgres {
		return nil
	}

	var tenant string
	if exec, ok := contexts.Current(ctx); ok && !exec.SystemOverride && exec.HasTenant() {
		tenant = exec.TenantID.String()
	}

	s.setting.mu.Lock()
	defer s.setting.mu.Unlock()

	if s.setting.applied && s.setting.tenant == tenant {
		return nil
	}

	var res entsql.Result
	if err := s.conn.Exec(ctx, "SELECT set_config($1, $2, true)", []any{TenantSetting, tenant}, &res); err != nil {
		return fmt.Errorf("apply tenant setting: %w", err)
	}

	s.setting.applied, s.setting.tenant = true, tenant

	return nil
}

func (s *Store) exec(ctx context.Context, query string, args []any) (int, error) {
	log.Debug(ctx, "sqlstore: exec", log.String("query", query))

	if err := s.syncTenantSetting(ctx); err != nil {
		return 0, err
	}

	var res entsql.Result
	if err := s.conn.Exec(ctx, query, args, &res); err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(n), nil
}

func (s *Store) queryRows(ctx context.Context, query string, args []any) ([]store.Row, error) {
	log.Debug(ctx, "sqlstore: query", log.String("query", query))

	if err := s.syncTenantSetting(ctx); err != nil {
		return nil, err
	}

	rows := &entsql.Rows{}
	if err := s.conn.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanRows(rows)
}

func (s *Store) queryScalar(ctx context.Context, query string, args []any) (float64, error) {
	rows, err := s.queryRows(ctx, query, args)
	if err != nil {
		return 0, err
	}

	if len(rows) == 0 {
		return 0, nil
	}

	for _, v := range rows[0] {
		return toFloat(v)
	}

	return 0, nil
}

// arg converts v to a driver argument. uuid.UUID is passed in its canonical string form.
func arg(v any) any {
	if valuer, ok := v.(driver.Valuer); ok {
		dv, err := valuer.Value()
		if err == nil {
			return dv
		}
	}

	return v
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())

	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
