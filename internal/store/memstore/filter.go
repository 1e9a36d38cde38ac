package memstore

import (
	"strings"

	"github.com/looplj/tenantguard/internal/intercept"
)

func matches(row map[string]any, f intercept.Filter) bool {
	for _, c := range f.All {
		if !eval(row, c) {
			return false
		}
	}

	if len(f.Any) == 0 {
		return true
	}

	for _, c := range f.Any {
		if eval(row, c) {
			return true
		}
	}

	return false
}

// eval follows SQL semantics: comparisons involving NULL are false.
func eval(row map[string]any, c intercept.Cond) bool {
	v := normalize(row[c.Column])

	switch c.Op {
	case intercept.OpIsNull:
		return v == nil
	case intercept.OpNotNull:
		return v != nil
	case intercept.OpIn:
		for _, want := range intercept.Flatten(c.Value) {
			if r, ok := compare(v, want); ok && r == 0 {
				return true
			}
		}

		return false
	case intercept.OpContains:
		s, ok := v.(string)
		sub, subOK := normalize(c.Value).(string)

		return ok && subOK && strings.Contains(s, sub)
	}

	r, ok := compare(v, c.Value)
	if !ok {
		return false
	}

	switch c.Op {
	case intercept.OpEQ:
		return r == 0
	case intercept.OpNEQ:
		return r != 0
	case intercept.OpGT:
		return r > 0
	case intercept.OpGTE:
		return r >= 0
	case intercept.OpLT:
		return r < 0
	case intercept.OpLTE:
		return r <= 0
	default:
		return false
	}
}
