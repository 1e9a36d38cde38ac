// Package memstore is an in-memory Executor for tests and local development.
// Rows are kept per table in insertion order; values are normalized to driver values
// so that uuid.UUID and its string form compare equal.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/looplj/tenantguard/internal/intercept"
	"github.com/looplj/tenantguard/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	tables map[string][]store.Row
	delay  time.Duration
}

type Option func(*Store)

// WithDelay makes every operation wait d before touching the data, which lets tests interleave
// concurrent requests deterministically enough to observe leaks.
func WithDelay(d time.Duration) Option {
	return func(s *Store) { s.delay = d }
}

func New(opts ...Option) *Store {
	s := &Store{tables: map[string][]store.Row{}}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

var (
	_ store.Executor   = (*Store)(nil)
	_ store.Transactor = (*Store)(nil)
)

func (s *Store) wait(ctx context.Context) error {
	if s.delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Store) read(ctx context.Context, fn func(t *tables) error) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(&tables{data: s.tables})
}

func (s *Store) write(ctx context.Context, fn func(t *tables) error) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&tables{data: s.tables})
}

func (s *Store) Select(ctx context.Context, rw intercept.Rewritten) (rows []store.Row, err error) {
	err = s.read(ctx, func(t *tables) error {
		rows, err = t.selectRows(rw)
		return err
	})

	return rows, err
}

func (s *Store) Count(ctx context.Context, rw intercept.Rewritten) (n int, err error) {
	err = s.read(ctx, func(t *tables) error {
		n, err = t.count(rw)
		return err
	})

	return n, err
}

func (s *Store) Aggregate(ctx context.Context, rw intercept.Rewritten) (v float64, err error) {
	err = s.read(ctx, func(t *tables) error {
		v, err = t.aggregate(rw)
		return err
	})

	return v, err
}

func (s *Store) GroupBy(ctx context.Context, rw intercept.Rewritten) (rows []store.Row, err error) {
	err = s.read(ctx, func(t *tables) error {
		rows, err = t.groupBy(rw)
		return err
	})

	return rows, err
}

func (s *Store) Insert(ctx context.Context, rw intercept.Rewritten) (n int, err error) {
	err = s.write(ctx, func(t *tables) error {
		n, err = t.insert(rw)
		return err
	})

	return n, err
}

func (s *Store) Update(ctx context.Context, rw intercept.Rewritten) (n int, err error) {
	err = s.write(ctx, func(t *tables) error {
		n, err = t.update(rw)
		return err
	})

	return n, err
}

func (s *Store) Delete(ctx context.Context, rw intercept.Rewritten) (n int, err error) {
	err = s.write(ctx, func(t *tables) error {
		n, err = t.delete(rw)
		return err
	})

	return n, err
}

// WithTx holds the write lock for the whole of fn and restores a snapshot when fn fails.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Executor) error) (err error) {
	if err := s.wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string][]store.Row, len(s.tables))
	for name, rows := range s.tables {
		snapshot[name] = lo.Map(rows, func(r store.Row, _ int) store.Row { return maps.Clone(r) })
	}

	committed := false

	defer func() {
		if r := recover(); r != nil {
			s.tables = snapshot
			panic(r)
		}

		if !committed {
			s.tables = snapshot
		}
	}()

	if err := fn(ctx, &txView{tables: &tables{data: s.tables}, owner: s}); err != nil {
		return err
	}

	committed = true

	return nil
}

// Rows returns a copy of every row stored in table, deleted ones included. Meant for test assertions.
func (s *Store) Rows(table string) []store.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return lo.Map(s.tables[table], func(r store.Row, _ int) store.Row { return maps.Clone(r) })
}

// txView runs operations on tables already locked by WithTx.
type txView struct {
	tables *tables
	owner  *Store
}

func (v *txView) Select(ctx context.Context, rw intercept.Rewritten) ([]store.Row, error) {
	if err := v.owner.wait(ctx); err != nil {
		return nil, err
	}

	return v.tables.selectRows(rw)
}

func (v *txView) Count(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := v.owner.wait(ctx); err != nil {
		return 0, err
	}

	return v.tables.count(rw)
}

func (v *txView) Aggregate(ctx context.Context, rw intercept.Rewritten) (float64, error) {
	if err := v.owner.wait(ctx); err != nil {
		return 0, err
	}

	return v.tables.aggregate(rw)
}

func (v *txView) GroupBy(ctx context.Context, rw intercept.Rewritten) ([]store.Row, error) {
	if err := v.owner.wait(ctx); err != nil {
		return nil, err
	}

	return v.tables.groupBy(rw)
}

func (v *txView) Insert(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := v.owner.wait(ctx); err != nil {
		return 0, err
	}

	return v.tables.insert(rw)
}

func (v *txView) Update(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := v.owner.wait(ctx); err != nil {
		return 0, err
	}

	return v.tables.update(rw)
}

func (v *txView) Delete(ctx context.Context, rw intercept.Rewritten) (int, error) {
	if err := v.owner.wait(ctx); err != nil {
		return 0, err
	}

	return v.tables.delete(rw)
}

// tables implements the operations without locking.
type tables struct {
	data map[string][]store.Row
}

func (t *tables) matching(rw intercept.Rewritten) []store.Row {
	return lo.Filter(t.data[rw.Table()], func(r store.Row, _ int) bool {
		return matches(r, rw.Filter)
	})
}

func (t *tables) selectRows(rw intercept.Rewritten) ([]store.Row, error) {
	if err := store.Expect(rw, intercept.ActionSelect); err != nil {
		return nil, err
	}

	rows := t.matching(rw)
	sortRows(rows, rw.Order)
	rows = page(rows, rw.Offset, rw.Limit)

	return lo.Map(rows, func(r store.Row, _ int) store.Row {
		if len(rw.Columns) == 0 {
			return maps.Clone(r)
		}

		return lo.PickByKeys(r, rw.Columns)
	}), nil
}

func (t *tables) count(rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionCount); err != nil {
		return 0, err
	}

	return len(t.matching(rw)), nil
}

func (t *tables) aggregate(rw intercept.Rewritten) (float64, error) {
	if err := store.Expect(rw, intercept.ActionAggregate); err != nil {
		return 0, err
	}

	return aggregate(t.matching(rw), rw.Aggregate)
}

func (t *tables) groupBy(rw intercept.Rewritten) ([]store.Row, error) {
	if err := store.Expect(rw, intercept.ActionGroupBy); err != nil {
		return nil, err
	}

	groups := map[string][]store.Row{}
	keys := map[string]store.Row{}

	var order []string

	for _, r := range t.matching(rw) {
		key := lo.PickByKeys(r, rw.GroupBy)
		for _, col := range rw.GroupBy {
			if _, ok := key[col]; !ok {
				key[col] = nil
			}
		}

		k := fmt.Sprint(lo.Map(rw.GroupBy, func(col string, _ int) any { return key[col] }))
		if _, ok := groups[k]; !ok {
			order = append(order, k)
			keys[k] = key
		}

		groups[k] = append(groups[k], r)
	}

	out := make([]store.Row, 0, len(order))

	for _, k := range order {
		row := maps.Clone(keys[k])
		row[store.GroupCountColumn] = int64(len(groups[k]))

		if rw.Aggregate.Func != "" {
			v, err := aggregate(groups[k], rw.Aggregate)
			if err != nil {
				return nil, err
			}

			row[store.GroupValueColumn] = v
		}

		out = append(out, row)
	}

	sortRows(out, rw.Order)

	return page(out, rw.Offset, rw.Limit), nil
}

func (t *tables) insert(rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionInsert); err != nil {
		return 0, err
	}

	table := rw.Table()
	pk := rw.Descriptor.PrimaryKey
	existing := t.data[table]

	seen := lo.SliceToMap(existing, func(r store.Row) (any, struct{}) { return r[pk], struct{}{} })
	rows := make([]store.Row, 0, len(rw.Rows))

	for _, in := range rw.Rows {
		row := make(store.Row, len(in))
		for col, v := range in {
			row[col] = normalize(v)
		}

		if _, dup := seen[row[pk]]; dup {
			return 0, fmt.Errorf("%w: %s.%s=%v", store.ErrDuplicateKey, table, pk, row[pk])
		}

		seen[row[pk]] = struct{}{}
		rows = append(rows, row)
	}

	t.data[table] = append(existing, rows...)

	return len(rows), nil
}

func (t *tables) update(rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionUpdate); err != nil {
		return 0, err
	}

	n := 0

	for i, r := range t.data[rw.Table()] {
		if !matches(r, rw.Filter) {
			continue
		}

		updated := maps.Clone(r)
		for col, v := range rw.Set {
			updated[col] = normalize(v)
		}

		t.data[rw.Table()][i] = updated
		n++
	}

	return n, nil
}

func (t *tables) delete(rw intercept.Rewritten) (int, error) {
	if err := store.Expect(rw, intercept.ActionDelete); err != nil {
		return 0, err
	}

	rows := t.data[rw.Table()]
	kept := slices.DeleteFunc(slices.Clone(rows), func(r store.Row) bool {
		return matches(r, rw.Filter)
	})
	t.data[rw.Table()] = kept

	return len(rows) - len(kept), nil
}

func aggregate(rows []store.Row, agg intercept.Aggregate) (float64, error) {
	if agg.Func == intercept.AggCount {
		if agg.Column == "" {
			return float64(len(rows)), nil
		}

		return float64(lo.CountBy(rows, func(r store.Row) bool { return r[agg.Column] != nil })), nil
	}

	values := lo.FilterMap(rows, func(r store.Row, _ int) (float64, bool) {
		return toFloat(r[agg.Column])
	})
	if len(values) == 0 {
		return 0, nil
	}

	switch agg.Func {
	case intercept.AggSum:
		return lo.Sum(values), nil
	case intercept.AggAvg:
		return lo.Sum(values) / float64(len(values)), nil
	case intercept.AggMin:
		return lo.Min(values), nil
	case intercept.AggMax:
		return lo.Max(values), nil
	default:
		return 0, fmt.Errorf("%w: aggregate %q", store.ErrUnsupportedAction, agg.Func)
	}
}

func sortRows(rows []store.Row, order []intercept.Order) {
	if len(order) == 0 {
		return
	}

	sort.SliceStable(rows, func(i, j int) bool {
		for _, o := range order {
			a, b := rows[i][o.Column], rows[j][o.Column]
			if !less(a, b) && !less(b, a) {
				continue
			}

			if o.Desc {
				return less(b, a)
			}

			return less(a, b)
		}

		return false
	})
}

func page(rows []store.Row, offset, limit int) []store.Row {
	if offset > 0 {
		if offset >= len(rows) {
			return nil
		}

		rows = rows[offset:]
	}

	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}

	return rows
}
