package memstore

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// normalize converts v to the representation rows are stored and compared in.
// Valuers (uuid.UUID among them) are reduced to their driver value.
func normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case driver.Valuer:
		dv, err := x.Value()
		if err != nil {
			return v
		}

		return normalize(dv)
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	case *string:
		if x == nil {
			return nil
		}

		return *x
	case *time.Time:
		if x == nil {
			return nil
		}

		return x.UTC()
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch x := normalize(v).(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// compare orders a and b. ok is false when the values are not comparable, including when either is nil.
func compare(a, b any) (c int, ok bool) {
	a, b = normalize(a), normalize(b)
	if a == nil || b == nil {
		return 0, false
	}

	if fa, okA := toFloat(a); okA {
		fb, okB := toFloat(b)
		if !okB {
			return 0, false
		}

		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}

	switch x := a.(type) {
	case string:
		y, isStr := b.(string)
		if !isStr {
			return 0, false
		}

		return strings.Compare(x, y), true
	case time.Time:
		y, isTime := b.(time.Time)
		if !isTime {
			return 0, false
		}

		return x.Compare(y), true
	case bool:
		y, isBool := b.(bool)
		if !isBool {
			return 0, false
		}

		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	default:
		if fmt.Sprint(a) == fmt.Sprint(b) {
			return 0, true
		}

		return 0, false
	}
}

// less sorts nil values first.
func less(a, b any) bool {
	a, b = normalize(a), normalize(b)

	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}

	c, ok := compare(a, b)
	if !ok {
		return fmt.Sprint(a) < fmt.Sprint(b)
	}

	return c < 0
}
