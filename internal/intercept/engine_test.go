package intercept

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/looplj/tenantguard/internal/contexts"
	"github.com/looplj/tenantguard/internal/pkg/xtime"
	"github.com/looplj/tenantguard/internal/scopes"
)

var (
	now      = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	tenantA  = uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000001")
	tenantB  = uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000002")
	actor    = uuid.MustParse("cccccccc-0000-0000-0000-000000000003")
	fixedID  = uuid.MustParse("dddddddd-0000-0000-0000-000000000004")
	registry = scopes.MustNewRegistry(scopes.DefaultConfig())
)

func newTestEngine() *Engine {
	return NewEngine(registry,
		WithClock(xtime.Fixed(now)),
		WithIDGenerator(func() uuid.UUID { return fixedID }),
	)
}

func tenantCtx(tenant uuid.UUID) context.Context {
	return contexts.WithExecution(context.Background(), contexts.Execution{
		ActorID:  actor,
		TenantID: tenant,
		Role:     "staff",
		Source:   contexts.SourceTest,
	})
}

func systemCtx() context.Context {
	return contexts.WithExecution(context.Background(), contexts.Execution{
		ActorID:        actor,
		Source:         contexts.SourceSystem,
		SystemOverride: true,
	})
}

func TestRewrite_UnknownModel(t *testing.T) {
	_, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{Model: "ghosts", Kind: KindFind})
	require.ErrorIs(t, err, ErrUnknownModel)
	assert.True(t, IsProgrammerError(err))
	assert.Equal(t, "unknown_model", Reason(err))
}

func TestRewrite_FailsClosedWithoutTenant(t *testing.T) {
	engine := newTestEngine()

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{name: "no execution", ctx: context.Background()},
		{name: "execution without tenant", ctx: contexts.WithExecution(context.Background(), contexts.Execution{ActorID: actor})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, kind := range []Kind{KindFind, KindCount, KindUpdateMany, KindDeleteMany, KindRestore} {
				_, err := engine.Rewrite(tt.ctx, Operation{Model: scopes.ModelCustomers, Kind: kind})
				require.ErrorIs(t, err, ErrMissingTenantContext, kind.String())
			}

			_, err := engine.Rewrite(tt.ctx, Operation{
				Model: scopes.ModelCustomers,
				Kind:  KindCreate,
				Rows:  []Values{{"name": "x"}},
			})
			require.ErrorIs(t, err, ErrMissingTenantContext)
		})
	}
}

func TestRewrite_GlobalModelWithoutContext(t *testing.T) {
	rw, err := newTestEngine().Rewrite(context.Background(), Operation{
		Model:  scopes.ModelUsers,
		Kind:   KindFind,
		Filter: Where(EQ("email", "a@b.c")),
	})
	require.NoError(t, err)
	assert.Equal(t, ActionSelect, rw.Action)
	assert.Equal(t, []Cond{EQ("email", "a@b.c"), IsNull("deleted_at")}, rw.Filter.All)
}

func TestRewrite_FindAddsTenantAndSoftDelete(t *testing.T) {
	op := Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindFind,
		Filter: Where(Contains("name", "acme")),
		Order:  []Order{Desc("created_at")},
		Limit:  10,
	}

	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), op)
	require.NoError(t, err)

	assert.Equal(t, ActionSelect, rw.Action)
	assert.Equal(t, "customers", rw.Table())
	assert.Equal(t, []Cond{
		Contains("name", "acme"),
		EQ("id_doanh_nghiep", tenantA),
		IsNull("deleted_at"),
	}, rw.Filter.All)
	assert.Equal(t, []Order{Desc("created_at")}, rw.Order)
	assert.Equal(t, 10, rw.Limit)
	assert.False(t, rw.SystemOverride)
	assert.Len(t, op.Filter.All, 1, "caller filter must not be modified")
}

func TestRewrite_DeletedModes(t *testing.T) {
	engine := newTestEngine()

	tests := []struct {
		mode DeletedMode
		want []Cond
	}{
		{mode: ExcludeDeleted, want: []Cond{EQ("id_doanh_nghiep", tenantA), IsNull("deleted_at")}},
		{mode: IncludeDeleted, want: []Cond{EQ("id_doanh_nghiep", tenantA)}},
		{mode: OnlyDeleted, want: []Cond{EQ("id_doanh_nghiep", tenantA), NotNull("deleted_at")}},
	}

	for _, tt := range tests {
		rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelInvoices, Kind: KindCount, Deleted: tt.mode})
		require.NoError(t, err)
		assert.Equal(t, ActionCount, rw.Action)
		assert.Equal(t, tt.want, rw.Filter.All)
	}
}

func TestRewrite_NoSoftDeleteModel(t *testing.T) {
	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelAuditEvents, Kind: KindFind})
	require.NoError(t, err)
	assert.Equal(t, []Cond{EQ("id_doanh_nghiep", tenantA)}, rw.Filter.All)
}

func TestRewrite_CrossTenantFilter(t *testing.T) {
	engine := newTestEngine()

	bad := []Filter{
		Where(EQ("id_doanh_nghiep", tenantB)),
		Where(EQ("id_doanh_nghiep", tenantB.String())),
		Where(In("id_doanh_nghiep", tenantA, tenantB)),
		Where(In("id_doanh_nghiep", []uuid.UUID{tenantA, tenantB})),
		Filter{}.Or(EQ("id_doanh_nghiep", tenantB), EQ("name", "x")),
	}

	for _, f := range bad {
		_, err := engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelCustomers, Kind: KindFind, Filter: f})
		require.ErrorIs(t, err, ErrCrossTenantViolation)
	}
}

func TestRewrite_SameTenantFilterAccepted(t *testing.T) {
	engine := newTestEngine()

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindFind,
		Filter: Where(EQ("id_doanh_nghiep", tenantA.String())),
	})
	require.NoError(t, err)
	assert.Equal(t, []Cond{EQ("id_doanh_nghiep", tenantA), IsNull("deleted_at")}, rw.Filter.All)

	rw, err = engine.Rewrite(tenantCtx(tenantA), Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindFind,
		Filter: Where(In("id_doanh_nghiep", tenantA)),
	})
	require.NoError(t, err)
	assert.Len(t, rw.Filter.All, 3)
}

func TestRewrite_SystemOverrideSkipsTenantFilter(t *testing.T) {
	rw, err := newTestEngine().Rewrite(systemCtx(), Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindFind,
		Filter: Where(EQ("id_doanh_nghiep", tenantB)),
	})
	require.NoError(t, err)
	assert.True(t, rw.SystemOverride)
	assert.Equal(t, []Cond{EQ("id_doanh_nghiep", tenantB), IsNull("deleted_at")}, rw.Filter.All)
}

func TestRewrite_AggregateAndGroupBy(t *testing.T) {
	engine := newTestEngine()

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model:     scopes.ModelInvoices,
		Kind:      KindAggregate,
		Aggregate: Aggregate{Func: AggSum, Column: "amount"},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionAggregate, rw.Action)
	assert.Equal(t, Aggregate{Func: AggSum, Column: "amount"}, rw.Aggregate)
	assert.Contains(t, rw.Filter.All, EQ("id_doanh_nghiep", tenantA))

	_, err = engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelInvoices, Kind: KindAggregate})
	require.ErrorIs(t, err, ErrInvalidOperation)

	rw, err = engine.Rewrite(tenantCtx(tenantA), Operation{
		Model:   scopes.ModelInvoices,
		Kind:    KindGroupBy,
		GroupBy: []string{"status"},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionGroupBy, rw.Action)
	assert.Equal(t, []string{"status"}, rw.GroupBy)

	_, err = engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelInvoices, Kind: KindGroupBy})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRewrite_Create(t *testing.T) {
	in := Values{"name": "Acme"}

	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindCreate,
		Rows:  []Values{in},
	})
	require.NoError(t, err)

	assert.Equal(t, ActionInsert, rw.Action)
	require.Len(t, rw.Rows, 1)
	assert.Equal(t, Values{
		"id":              fixedID,
		"name":            "Acme",
		"id_doanh_nghiep": tenantA,
		"creator_id":      actor,
		"updater_id":      actor,
		"created_at":      now,
		"updated_at":      now,
	}, rw.Rows[0])
	assert.Equal(t, Values{"name": "Acme"}, in, "caller row must not be modified")
}

func TestRewrite_CreateKeepsPrimaryKey(t *testing.T) {
	id := uuid.New()

	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindCreate,
		Rows:  []Values{{"id": id}},
	})
	require.NoError(t, err)
	assert.Equal(t, id, rw.Rows[0]["id"])
}

func TestRewrite_CreateForeignTenant(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindCreate,
		Rows:  []Values{{"name": "x", "id_doanh_nghiep": tenantB}},
	})
	require.ErrorIs(t, err, ErrCrossTenantViolation)

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindCreate,
		Rows:  []Values{{"name": "x", "id_doanh_nghiep": tenantA.String()}},
	})
	require.NoError(t, err)
	assert.Equal(t, tenantA, rw.Rows[0]["id_doanh_nghiep"])
}

func TestRewrite_CreateMany(t *testing.T) {
	engine := newTestEngine()

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelRoutes,
		Kind:  KindCreateMany,
		Rows:  []Values{{"name": "r1"}, {"name": "r2"}},
	})
	require.NoError(t, err)
	require.Len(t, rw.Rows, 2)

	for _, row := range rw.Rows {
		assert.Equal(t, tenantA, row["id_doanh_nghiep"])
		assert.Equal(t, actor, row["creator_id"])
	}

	_, err = engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelRoutes, Kind: KindCreateMany})
	require.ErrorIs(t, err, ErrInvalidOperation)

	_, err = engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelRoutes,
		Kind:  KindCreate,
		Rows:  []Values{{}, {}},
	})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRewrite_SystemCreateNeedsOwner(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Rewrite(systemCtx(), Operation{
		Model: scopes.ModelNotifications,
		Kind:  KindCreate,
		Rows:  []Values{{"title": "hi"}},
	})
	require.ErrorIs(t, err, ErrMissingTenantContext)

	rw, err := engine.Rewrite(systemCtx(), Operation{
		Model: scopes.ModelNotifications,
		Kind:  KindCreate,
		Rows:  []Values{{"title": "hi", "id_doanh_nghiep": tenantB}},
	})
	require.NoError(t, err)
	assert.Equal(t, tenantB, rw.Rows[0]["id_doanh_nghiep"])
	assert.Equal(t, actor, rw.Rows[0]["creator_id"])
}

func TestRewrite_CreateWithoutActor(t *testing.T) {
	ctx := contexts.WithExecution(context.Background(), contexts.Execution{TenantID: tenantA})

	rw, err := newTestEngine().Rewrite(ctx, Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindCreate,
		Rows:  []Values{{"name": "x"}},
	})
	require.NoError(t, err)
	assert.Contains(t, rw.Rows[0], "creator_id")
	assert.Nil(t, rw.Rows[0]["creator_id"])
}

func TestRewrite_Update(t *testing.T) {
	id := uuid.New()
	set := Values{"name": "Renamed"}

	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindUpdate,
		Filter: Where(EQ("id", id)),
		Set:    set,
	})
	require.NoError(t, err)

	assert.Equal(t, ActionUpdate, rw.Action)
	assert.Equal(t, Values{"name": "Renamed", "updater_id": actor, "updated_at": now}, rw.Set)
	assert.Equal(t, []Cond{EQ("id", id), EQ("id_doanh_nghiep", tenantA), IsNull("deleted_at")}, rw.Filter.All)
	assert.Equal(t, Values{"name": "Renamed"}, set)
}

func TestRewrite_UpdateProtectedColumns(t *testing.T) {
	engine := newTestEngine()

	for _, col := range []string{"id", "creator_id", "created_at", "deleted_at"} {
		_, err := engine.Rewrite(tenantCtx(tenantA), Operation{
			Model: scopes.ModelCustomers,
			Kind:  KindUpdateMany,
			Set:   Values{col: nil},
		})
		require.ErrorIs(t, err, ErrProtectedColumn, col)
	}
}

func TestRewrite_UpdateTenantColumn(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindUpdateMany,
		Set:   Values{"id_doanh_nghiep": tenantB},
	})
	require.ErrorIs(t, err, ErrCrossTenantViolation)

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{
		Model: scopes.ModelCustomers,
		Kind:  KindUpdateMany,
		Set:   Values{"id_doanh_nghiep": tenantA, "name": "x"},
	})
	require.NoError(t, err)
	assert.NotContains(t, rw.Set, "id_doanh_nghiep")
}

func TestRewrite_SoftDelete(t *testing.T) {
	id := uuid.New()

	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{
		Model:  scopes.ModelCustomers,
		Kind:   KindDelete,
		Filter: Where(EQ("id", id)),
	})
	require.NoError(t, err)

	assert.Equal(t, ActionUpdate, rw.Action)
	assert.Equal(t, Values{"deleted_at": now, "updater_id": actor, "updated_at": now}, rw.Set)
	assert.Equal(t, []Cond{EQ("id", id), EQ("id_doanh_nghiep", tenantA), IsNull("deleted_at")}, rw.Filter.All)
}

func TestRewrite_DeleteWithoutSoftDelete(t *testing.T) {
	rw, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelAuditEvents, Kind: KindDeleteMany})
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, rw.Action)
	assert.Equal(t, []Cond{EQ("id_doanh_nghiep", tenantA)}, rw.Filter.All)
}

func TestRewrite_HardDelete(t *testing.T) {
	engine := newTestEngine()

	_, err := engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelCustomers, Kind: KindDeleteMany, HardDelete: true})
	require.ErrorIs(t, err, ErrHardDeleteNotAllowed)

	rw, err := engine.Rewrite(systemCtx(), Operation{Model: scopes.ModelCustomers, Kind: KindDeleteMany, HardDelete: true})
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, rw.Action)
	assert.Empty(t, rw.Filter.All)

	rw, err = engine.Rewrite(systemCtx(), Operation{
		Model:      scopes.ModelCustomers,
		Kind:       KindDeleteMany,
		HardDelete: true,
		Deleted:    OnlyDeleted,
		Filter:     Where(LT("deleted_at", now)),
	})
	require.NoError(t, err)
	assert.Equal(t, []Cond{LT("deleted_at", now), NotNull("deleted_at")}, rw.Filter.All)
}

func TestRewrite_Restore(t *testing.T) {
	engine := newTestEngine()

	rw, err := engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelAssets, Kind: KindRestore})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, rw.Action)
	assert.Equal(t, Values{"deleted_at": nil, "updater_id": actor, "updated_at": now}, rw.Set)
	assert.Equal(t, []Cond{EQ("id_doanh_nghiep", tenantA), NotNull("deleted_at")}, rw.Filter.All)

	_, err = engine.Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelAuditEvents, Kind: KindRestore})
	require.ErrorIs(t, err, ErrSoftDeleteUnsupported)
}

func TestRewrite_UnknownKind(t *testing.T) {
	_, err := newTestEngine().Rewrite(tenantCtx(tenantA), Operation{Model: scopes.ModelCustomers, Kind: Kind(99)})
	require.ErrorIs(t, err, ErrInvalidOperation)
}

func TestRewrite_RejectsNonIdentifierColumns(t *testing.T) {
	const hostile = "(1=1) OR (1=1)"

	tests := []struct {
		name string
		op   Operation
	}{
		{name: "filter all", op: Operation{Kind: KindFind, Filter: Where(EQ(hostile, "x"))}},
		{name: "filter any", op: Operation{Kind: KindFind, Filter: Filter{}.Or(EQ("name", "a"), EQ(hostile, "x"))}},
		{name: "order", op: Operation{Kind: KindFind, Order: []Order{Desc("name; DROP TABLE customers")}}},
		{name: "columns", op: Operation{Kind: KindFind, Columns: []string{"count(*)"}}},
		{name: "group by", op: Operation{Kind: KindGroupBy, GroupBy: []string{"status, id_doanh_nghiep"}}},
		{name: "aggregate", op: Operation{Kind: KindAggregate, Aggregate: Aggregate{Func: AggSum, Column: "max(amount)"}}},
		{name: "update set", op: Operation{Kind: KindUpdateMany, Set: Values{"name = 'x' --": "y"}}},
		{name: "create row", op: Operation{Kind: KindCreate, Rows: []Values{{"name": "ok", "1name": "x"}}}},
		{name: "empty", op: Operation{Kind: KindFind, Filter: Where(EQ("", "x"))}},
	}

	engine := newTestEngine()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.op.Model = scopes.ModelCustomers

			_, err := engine.Rewrite(tenantCtx(tenantA), tt.op)
			require.ErrorIs(t, err, ErrInvalidOperation)
			assert.Equal(t, "invalid_operation", Reason(err))

			_, err = engine.Rewrite(systemCtx(), tt.op)
			require.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestValidColumn(t *testing.T) {
	for _, name := range []string{"id", "id_doanh_nghiep", "_x", "Amount2"} {
		assert.True(t, ValidColumn(name), name)
	}

	for _, name := range []string{"", "2x", "a.b", "a b", "a-b", `"a"`, "f(x)"} {
		assert.False(t, ValidColumn(name), name)
	}
}

func TestRewrite_NestedSystemOverrideRestoresTenant(t *testing.T) {
	engine := newTestEngine()
	outer := tenantCtx(tenantA)

	_, err := contexts.Run(outer, contexts.Execution{ActorID: actor, SystemOverride: true}, func(ctx context.Context) (Rewritten, error) {
		rw, err := engine.Rewrite(ctx, Operation{Model: scopes.ModelCustomers, Kind: KindFind})
		require.NoError(t, err)
		assert.NotContains(t, rw.Filter.All, EQ("id_doanh_nghiep", tenantA))

		return rw, nil
	})
	require.NoError(t, err)

	rw, err := engine.Rewrite(outer, Operation{Model: scopes.ModelCustomers, Kind: KindFind})
	require.NoError(t, err)
	assert.Contains(t, rw.Filter.All, EQ("id_doanh_nghiep", tenantA))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []any{1, 2}, Flatten([]any{1, 2}))
	assert.Equal(t, []any{"a", "b"}, Flatten([]any{[]string{"a", "b"}}))
	assert.Equal(t, []any{[]byte("x")}, Flatten([]byte("x")))
	assert.Equal(t, []any{3}, Flatten(3))
	assert.Nil(t, Flatten(nil))
}

func TestPackageRewrite(t *testing.T) {
	rw, err := Rewrite(tenantCtx(tenantA), registry, Operation{Model: scopes.ModelCustomers, Kind: KindFind})
	require.NoError(t, err)
	assert.Equal(t, ActionSelect, rw.Action)
}
