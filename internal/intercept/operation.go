package intercept

import "fmt"

// Kind is the logical operation a caller asks for.
type Kind int

const (
	KindFind Kind = iota + 1
	KindCount
	KindAggregate
	KindGroupBy
	KindCreate
	KindCreateMany
	KindUpdate
	KindUpdateMany
	KindDelete
	KindDeleteMany
	KindRestore
)

func (k Kind) String() string {
	switch k {
	case KindFind:
		return "find"
	case KindCount:
		return "count"
	case KindAggregate:
		return "aggregate"
	case KindGroupBy:
		return "group_by"
	case KindCreate:
		return "create"
	case KindCreateMany:
		return "create_many"
	case KindUpdate:
		return "update"
	case KindUpdateMany:
		return "update_many"
	case KindDelete:
		return "delete"
	case KindDeleteMany:
		return "delete_many"
	case KindRestore:
		return "restore"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) IsRead() bool {
	return k >= KindFind && k <= KindGroupBy
}

func (k Kind) IsWrite() bool {
	return k >= KindCreate && k <= KindRestore
}

// Op is a comparison operator of a filter condition.
type Op string

const (
	OpEQ       Op = "="
	OpNEQ      Op = "<>"
	OpGT       Op = ">"
	OpGTE      Op = ">="
	OpLT       Op = "<"
	OpLTE      Op = "<="
	OpIn       Op = "in"
	OpIsNull   Op = "is_null"
	OpNotNull  Op = "not_null"
	OpContains Op = "contains"
)

// Cond is a single column condition.
type Cond struct {
	Column string
	Op     Op
	Value  any
}

func EQ(column string, v any) Cond  { return Cond{Column: column, Op: OpEQ, Value: v} }
func NEQ(column string, v any) Cond { return Cond{Column: column, Op: OpNEQ, Value: v} }
func GT(column string, v any) Cond  { return Cond{Column: column, Op: OpGT, Value: v} }
func GTE(column string, v any) Cond { return Cond{Column: column, Op: OpGTE, Value: v} }
func LT(column string, v any) Cond  { return Cond{Column: column, Op: OpLT, Value: v} }
func LTE(column string, v any) Cond { return Cond{Column: column, Op: OpLTE, Value: v} }
func IsNull(column string) Cond     { return Cond{Column: column, Op: OpIsNull} }
func NotNull(column string) Cond    { return Cond{Column: column, Op: OpNotNull} }

// In matches any of values.
func In(column string, values ...any) Cond { return Cond{Column: column, Op: OpIn, Value: values} }

// Contains matches string columns containing sub.
func Contains(column, sub string) Cond { return Cond{Column: column, Op: OpContains, Value: sub} }

// Filter is a conjunction of All, further restricted to rows matching at least one of Any when Any is not empty.
type Filter struct {
	All []Cond
	Any []Cond
}

// Where builds a filter from ANDed conditions.
func Where(conds ...Cond) Filter {
	return Filter{All: conds}
}

// Or returns a copy of f additionally requiring one of conds.
func (f Filter) Or(conds ...Cond) Filter {
	out := f.clone()
	out.Any = append(out.Any, conds...)

	return out
}

// And returns a copy of f with conds ANDed.
func (f Filter) And(conds ...Cond) Filter {
	out := f.clone()
	out.All = append(out.All, conds...)

	return out
}

func (f Filter) IsEmpty() bool {
	return len(f.All) == 0 && len(f.Any) == 0
}

func (f Filter) clone() Filter {
	return Filter{
		All: append([]Cond(nil), f.All...),
		Any: append([]Cond(nil), f.Any...),
	}
}

// Values maps column names to values of one row or one update payload.
type Values map[string]any

// DeletedMode selects how soft-deleted rows take part in an operation.
type DeletedMode int

const (
	// ExcludeDeleted hides soft-deleted rows, the default.
	ExcludeDeleted DeletedMode = iota
	// IncludeDeleted returns live and soft-deleted rows.
	IncludeDeleted
	// OnlyDeleted returns soft-deleted rows only.
	OnlyDeleted
)

type Order struct {
	Column string
	Desc   bool
}

func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

type AggFunc string

const (
	AggCount AggFunc = "count"
	AggSum   AggFunc = "sum"
	AggMin   AggFunc = "min"
	AggMax   AggFunc = "max"
	AggAvg   AggFunc = "avg"
)

type Aggregate struct {
	Func   AggFunc
	Column string
}

// Operation is a request against one model, before tenant scoping is applied.
type Operation struct {
	Model  string
	Kind   Kind
	Filter Filter

	// Rows holds the payloads of Create and CreateMany.
	Rows []Values
	// Set holds the payload of Update and UpdateMany.
	Set Values

	Columns   []string
	Order     []Order
	Limit     int
	Offset    int
	Aggregate Aggregate
	GroupBy   []string

	Deleted DeletedMode
	// HardDelete asks Delete/DeleteMany to remove rows physically. Requires system override.
	HardDelete bool
}
