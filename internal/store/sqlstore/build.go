package sqlstore

import (
	"fmt"
	"maps"
	"slices"

	"entgo.io/ent/dialect/sql"
	"github.com/samber/lo"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/store"
)

// predicate translates f into an ent predicate, nil when f is empty.
func predicate(f intercept.Filter) (*sql.Predicate, error) {
	all := make([]*sql.Predicate, 0, len(f.All)+1)

	for _, c := range f.All {
		p, err := cond(c)
		if err != nil {
			return nil, err
		}

		all = append(all, p)
	}

	if len(f.Any) > 0 {
		anyOf := make([]*sql.Predicate, 0, len(f.Any))

		for _, c := range f.Any {
			p, err := cond(c)
			if err != nil {
				return nil, err
			}

			anyOf = append(anyOf, p)
		}

		all = append(all, sql.Or(anyOf...))
	}

	switch len(all) {
	case 0:
		return nil, nil
	case 1:
		return all[0], nil
	default:
		return sql.And(all...), nil
	}
}

func cond(c intercept.Cond) (*sql.Predicate, error) {
	switch c.Op {
	case intercept.OpEQ:
		return sql.EQ(c.Column, arg(c.Value)), nil
	case intercept.OpNEQ:
		return sql.NEQ(c.Column, arg(c.Value)), nil
	case intercept.OpGT:
		return sql.GT(c.Column, arg(c.Value)), nil
	case intercept.OpGTE:
		return sql.GTE(c.Column, arg(c.Value)), nil
	case intercept.OpLT:
		return sql.LT(c.Column, arg(c.Value)), nil
	case intercept.OpLTE:
		return sql.LTE(c.Column, arg(c.Value)), nil
	case intercept.OpIn:
		values := lo.Map(intercept.Flatten(c.Value), func(v any, _ int) any { return arg(v) })
		if len(values) == 0 {
			return sql.False(), nil
		}

		return sql.In(c.Column, values...), nil
	case intercept.OpIsNull:
		return sql.IsNull(c.Column), nil
	case intercept.OpNotNull:
		return sql.NotNull(c.Column), nil
	case intercept.OpContains:
		s, ok := c.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: contains on %s needs a string, got %T", store.ErrUnsupportedAction, c.Column, c.Value)
		}

		return sql.Contains(c.Column, s), nil
	default:
		return nil, fmt.Errorf("%w: operator %q", store.ErrUnsupportedAction, c.Op)
	}
}

func aggExpr(agg intercept.Aggregate) (string, error) {
	column := lo.CoalesceOrEmpty(agg.Column, "*")

	switch agg.Func {
	case intercept.AggCount:
		return sql.Count(column), nil
	case intercept.AggSum:
		return sql.Sum(column), nil
	case intercept.AggAvg:
		return sql.Avg(column), nil
	case intercept.AggMin:
		return sql.Min(column), nil
	case intercept.AggMax:
		return sql.Max(column), nil
	default:
		return "", fmt.Errorf("%w: aggregate %q", store.ErrUnsupportedAction, agg.Func)
	}
}

func (s *Store) selector(rw intercept.Rewritten, columns ...string) (*sql.Selector, error) {
	b := sql.Dialect(s.dialect)
	sel := b.Select(columns...).From(b.Table(rw.Table()))

	p, err := predicate(rw.Filter)
	if err != nil {
		return nil, err
	}

	if p != nil {
		sel.Where(p)
	}

	for _, o := range rw.Order {
		if o.Desc {
			sel.OrderBy(sql.Desc(o.Column))
		} else {
			sel.OrderBy(sql.Asc(o.Column))
		}
	}

	if rw.Limit > 0 {
		sel.Limit(rw.Limit)
	}

	if rw.Offset > 0 {
		sel.Offset(rw.Offset)
	}

	return sel, nil
}

func (s *Store) insertQuery(rw intercept.Rewritten) (string, []any) {
	columns := lo.Uniq(lo.FlatMap(rw.Rows, func(r intercept.Values, _ int) []string {
		return slices.Collect(maps.Keys(r))
	}))
	slices.Sort(columns)

	ins := sql.Dialect(s.dialect).Insert(rw.Table()).Columns(columns...)
	for _, r := range rw.Rows {
		ins.Values(lo.Map(columns, func(col string, _ int) any { return arg(r[col]) })...)
	}

	return ins.Query()
}

func (s *Store) updateQuery(rw intercept.Rewritten) (string, []any, error) {
	upd := sql.Dialect(s.dialect).Update(rw.Table())

	columns := slices.Sorted(maps.Keys(rw.Set))
	for _, col := range columns {
		if v := rw.Set[col]; v == nil {
			upd.SetNull(col)
		} else {
			upd.Set(col, arg(v))
		}
	}

	p, err := predicate(rw.Filter)
	if err != nil {
		return "", nil, err
	}

	if p != nil {
		upd.Where(p)
	}

	query, args := upd.Query()

	return query, args, nil
}

func (s *Store) deleteQuery(rw intercept.Rewritten) (string, []any, error) {
	del := sql.Dialect(s.dialect).Delete(rw.Table())

	p, err := predicate(rw.Filter)
	if err != nil {
		return "", nil, err
	}

	if p != nil {
		del.Where(p)
	}

	query, args := del.Query()

	return query, args, nil
}
