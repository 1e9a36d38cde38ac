// Package intercept rewrites every operation against a registered model so that it stays inside
// the tenant bound to the calling context, honours soft delete and carries audit stamps.
//
// The engine is stateless: all per-request state travels in the context.Context passed to Rewrite,
// so one Engine is shared by every concurrent request.
package intercept

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/looplj/tenantguard/internal/audit"
	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/pkg/xtime"
	"github.com/looplj/tenantguard/internal/scopes"
)

type Engine struct {
	registry *scopes.Registry
	clock    xtime.Clock
	newID    func() uuid.UUID
}

type Option func(*Engine)

// WithClock sets the clock used for audit timestamps and deleted-at values.
func WithClock(c xtime.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the primary key generator for created rows.
func WithIDGenerator(fn func() uuid.UUID) Option {
	return func(e *Engine) { e.newID = fn }
}

func NewEngine(registry *scopes.Registry, opts ...Option) *Engine {
	e := &Engine{
		registry: registry,
		newID:    uuid.New,
	}
	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) Registry() *scopes.Registry {
	return e.registry
}

// scope is the tenancy decision for one operation.
type scope struct {
	exec     contexts.Execution
	override bool
	// tenant is set when rows must be confined to it.
	tenant uuid.UUID
}

func (s scope) confined() bool {
	return s.tenant != uuid.Nil
}

func resolveScope(ctx context.Context, d scopes.Descriptor) (scope, error) {
	exec, bound := contexts.Current(ctx)
	s := scope{exec: exec, override: bound && exec.SystemOverride}

	if !d.TenantScoped() || s.override {
		return s, nil
	}

	if !bound || !exec.HasTenant() {
		return scope{}, fmt.Errorf("%w: model %s", ErrMissingTenantContext, d.Model)
	}

	s.tenant = exec.TenantID

	return s, nil
}

// Rewrite turns op into the operation storage must execute for the execution bound to ctx.
func (e *Engine) Rewrite(ctx context.Context, op Operation) (Rewritten, error) {
	d, err := e.registry.Describe(op.Model)
	if err != nil {
		return Rewritten{}, err
	}

	if err := checkColumns(op); err != nil {
		return Rewritten{}, err
	}

	s, err := resolveScope(ctx, d)
	if err != nil {
		return Rewritten{}, err
	}

	switch op.Kind {
	case KindFind, KindCount, KindAggregate, KindGroupBy:
		return e.rewriteRead(d, s, op)
	case KindCreate, KindCreateMany:
		return e.rewriteCreate(d, s, op)
	case KindUpdate, KindUpdateMany:
		return e.rewriteUpdate(d, s, op)
	case KindDelete, KindDeleteMany:
		return e.rewriteDelete(d, s, op)
	case KindRestore:
		return e.rewriteRestore(d, s, op)
	default:
		return Rewritten{}, fmt.Errorf("%w: unsupported kind %s", ErrInvalidOperation, op.Kind)
	}
}

// Rewrite rewrites op with a default engine over registry.
func Rewrite(ctx context.Context, registry *scopes.Registry, op Operation) (Rewritten, error) {
	return NewEngine(registry).Rewrite(ctx, op)
}

func (e *Engine) base(d scopes.Descriptor, s scope, op Operation, action Action) Rewritten {
	return Rewritten{
		Descriptor:     d,
		Kind:           op.Kind,
		Action:         action,
		Columns:        slices.Clone(op.Columns),
		Order:          slices.Clone(op.Order),
		Limit:          op.Limit,
		Offset:         op.Offset,
		Aggregate:      op.Aggregate,
		GroupBy:        slices.Clone(op.GroupBy),
		SystemOverride: s.override,
	}
}

func (e *Engine) rewriteRead(d scopes.Descriptor, s scope, op Operation) (Rewritten, error) {
	var action Action

	switch op.Kind {
	case KindFind:
		action = ActionSelect
	case KindCount:
		action = ActionCount
	case KindAggregate:
		if op.Aggregate.Func == "" || (op.Aggregate.Func != AggCount && op.Aggregate.Column == "") {
			return Rewritten{}, fmt.Errorf("%w: aggregate on %s needs a function and a column", ErrInvalidOperation, d.Model)
		}

		action = ActionAggregate
	default:
		if len(op.GroupBy) == 0 {
			return Rewritten{}, fmt.Errorf("%w: group by on %s needs columns", ErrInvalidOperation, d.Model)
		}

		action = ActionGroupBy
	}

	filter, err := scopedFilter(d, s, op.Filter, op.Deleted)
	if err != nil {
		return Rewritten{}, err
	}

	rw := e.base(d, s, op, action)
	rw.Filter = filter

	return rw, nil
}

func (e *Engine) rewriteCreate(d scopes.Descriptor, s scope, op Operation) (Rewritten, error) {
	if len(op.Rows) == 0 || (op.Kind == KindCreate && len(op.Rows) != 1) {
		return Rewritten{}, fmt.Errorf("%w: %s on %s with %d rows", ErrInvalidOperation, op.Kind, d.Model, len(op.Rows))
	}

	now := e.clock.Now()
	rows := make([]Values, 0, len(op.Rows))

	for _, in := range op.Rows {
		row := maps.Clone(in)
		if row == nil {
			row = Values{}
		}

		if d.TenantScoped() {
			if err := e.ownRow(d, s, row); err != nil {
				return Rewritten{}, err
			}
		}

		if v, ok := row[d.PrimaryKey]; !ok || v == nil {
			row[d.PrimaryKey] = e.newID()
		}

		rows = append(rows, audit.StampCreate(s.exec, d, row, now))
	}

	rw := e.base(d, s, op, ActionInsert)
	rw.Rows = rows

	return rw, nil
}

// ownRow assigns the row to the bound tenant, or checks that an overriding caller named one.
func (e *Engine) ownRow(d scopes.Descriptor, s scope, row Values) error {
	v, present := row[d.TenantColumn]

	if s.confined() {
		if present && v != nil && !matchesTenant(v, s.tenant) {
			return fmt.Errorf("%w: create on %s names tenant %v", ErrCrossTenantViolation, d.Model, v)
		}

		row[d.TenantColumn] = s.tenant

		return nil
	}

	if !present || v == nil {
		return fmt.Errorf("%w: system create on %s must name the owning tenant", ErrMissingTenantContext, d.Model)
	}

	return nil
}

func (e *Engine) rewriteUpdate(d scopes.Descriptor, s scope, op Operation) (Rewritten, error) {
	set := maps.Clone(op.Set)
	if set == nil {
		set = Values{}
	}

	if col, ok := firstPresent(set, d.ProtectedColumns()...); ok {
		return Rewritten{}, fmt.Errorf("%w: %s.%s cannot be updated", ErrProtectedColumn, d.Model, col)
	}

	if d.TenantScoped() && s.confined() {
		if v, ok := set[d.TenantColumn]; ok {
			if !matchesTenant(v, s.tenant) {
				return Rewritten{}, fmt.Errorf("%w: update on %s moves rows to tenant %v", ErrCrossTenantViolation, d.Model, v)
			}

			delete(set, d.TenantColumn)
		}
	}

	filter, err := scopedFilter(d, s, op.Filter, ExcludeDeleted)
	if err != nil {
		return Rewritten{}, err
	}

	rw := e.base(d, s, op, ActionUpdate)
	rw.Filter = filter
	rw.Set = audit.StampUpdate(s.exec, d, set, e.clock.Now())

	return rw, nil
}

func (e *Engine) rewriteDelete(d scopes.Descriptor, s scope, op Operation) (Rewritten, error) {
	if op.HardDelete {
		if !s.override {
			return Rewritten{}, fmt.Errorf("%w: model %s", ErrHardDeleteNotAllowed, d.Model)
		}

		mode := op.Deleted
		if mode == ExcludeDeleted {
			mode = IncludeDeleted
		}

		filter, err := scopedFilter(d, s, op.Filter, mode)
		if err != nil {
			return Rewritten{}, err
		}

		rw := e.base(d, s, op, ActionDelete)
		rw.Filter = filter

		return rw, nil
	}

	filter, err := scopedFilter(d, s, op.Filter, ExcludeDeleted)
	if err != nil {
		return Rewritten{}, err
	}

	if !d.SoftDelete {
		rw := e.base(d, s, op, ActionDelete)
		rw.Filter = filter

		return rw, nil
	}

	rw := e.base(d, s, op, ActionUpdate)
	rw.Filter = filter
	rw.Set = audit.StampDelete(s.exec, d, e.clock.Now())

	return rw, nil
}

func (e *Engine) rewriteRestore(d scopes.Descriptor, s scope, op Operation) (Rewritten, error) {
	if !d.SoftDelete {
		return Rewritten{}, fmt.Errorf("%w: model %s", ErrSoftDeleteUnsupported, d.Model)
	}

	filter, err := scopedFilter(d, s, op.Filter, OnlyDeleted)
	if err != nil {
		return Rewritten{}, err
	}

	rw := e.base(d, s, op, ActionUpdate)
	rw.Filter = filter
	rw.Set = audit.StampRestore(s.exec, d, e.clock.Now())

	return rw, nil
}

// scopedFilter copies the caller filter and ANDs the tenant and soft-delete conditions.
func scopedFilter(d scopes.Descriptor, s scope, in Filter, mode DeletedMode) (Filter, error) {
	out := in.clone()

	if d.TenantScoped() && s.confined() {
		if err := checkTenantConds(d, s.tenant, out); err != nil {
			return Filter{}, err
		}

		out.All = lo.Reject(out.All, func(c Cond, _ int) bool {
			return c.Column == d.TenantColumn && c.Op == OpEQ
		})
		out.All = append(out.All, EQ(d.TenantColumn, s.tenant))
	}

	if d.SoftDelete {
		switch mode {
		case ExcludeDeleted:
			out.All = append(out.All, IsNull(d.DeletedAtColumn))
		case OnlyDeleted:
			out.All = append(out.All, NotNull(d.DeletedAtColumn))
		case IncludeDeleted:
		}
	}

	return out, nil
}

// checkTenantConds rejects caller conditions naming a tenant other than the bound one.
func checkTenantConds(d scopes.Descriptor, tenant uuid.UUID, f Filter) error {
	for _, c := range slices.Concat(f.All, f.Any) {
		if c.Column != d.TenantColumn {
			continue
		}

		switch c.Op {
		case OpEQ:
			if !matchesTenant(c.Value, tenant) {
				return fmt.Errorf("%w: filter on %s names tenant %v", ErrCrossTenantViolation, d.Model, c.Value)
			}
		case OpIn:
			for _, v := range flatten(c.Value) {
				if !matchesTenant(v, tenant) {
					return fmt.Errorf("%w: filter on %s names tenant %v", ErrCrossTenantViolation, d.Model, v)
				}
			}
		default:
		}
	}

	return nil
}

func matchesTenant(v any, tenant uuid.UUID) bool {
	switch id := v.(type) {
	case uuid.UUID:
		return id == tenant
	case *uuid.UUID:
		return id != nil && *id == tenant
	case string:
		parsed, err := uuid.Parse(id)
		return err == nil && parsed == tenant
	case []byte:
		parsed, err := uuid.ParseBytes(id)
		if err != nil && len(id) == 16 {
			parsed, err = uuid.FromBytes(id)
		}

		return err == nil && parsed == tenant
	case fmt.Stringer:
		return matchesTenant(id.String(), tenant)
	default:
		return false
	}
}

// flatten expands the value of an In condition into its elements.
func flatten(v any) []any {
	switch vs := v.(type) {
	case []any:
		if len(vs) == 1 {
			if inner := reflect.ValueOf(vs[0]); inner.Kind() == reflect.Slice && inner.Type().Elem().Kind() != reflect.Uint8 {
				return flatten(vs[0])
			}
		}

		return vs
	case nil:
		return nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Type().Elem().Kind() == reflect.Uint8 {
		return []any{v}
	}

	return lo.Times(rv.Len(), func(i int) any { return rv.Index(i).Interface() })
}

// Flatten is exported for storage implementations evaluating In conditions.
func Flatten(v any) []any {
	return flatten(v)
}

func firstPresent(m Values, columns ...string) (string, bool) {
	for _, col := range columns {
		if col == "" {
			continue
		}

		if _, ok := m[col]; ok {
			return col, true
		}
	}

	return "", false
}
