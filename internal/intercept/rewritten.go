package intercept

import "github.com/looplj/tenantguard/internal/scopes"

// Action is the physical storage action a rewritten operation performs.
type Action int

const (
	ActionSelect Action = iota + 1
	ActionCount
	ActionAggregate
	ActionGroupBy
	ActionInsert
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionSelect:
		return "select"
	case ActionCount:
		return "count"
	case ActionAggregate:
		return "aggregate"
	case ActionGroupBy:
		return "group_by"
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Rewritten is an operation after tenant scoping, soft-delete handling and audit stamping.
// Storage executes it verbatim.
type Rewritten struct {
	Descriptor scopes.Descriptor
	Kind       Kind
	Action     Action

	Filter Filter
	Set    Values
	Rows   []Values

	Columns   []string
	Order     []Order
	Limit     int
	Offset    int
	Aggregate Aggregate
	GroupBy   []string

	// SystemOverride records that tenant filtering was suspended.
	SystemOverride bool
}

// Table is the storage table of the rewritten operation.
func (r Rewritten) Table() string {
	return r.Descriptor.Table
}
