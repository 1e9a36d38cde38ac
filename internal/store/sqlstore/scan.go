package sqlstore

import (
	"fmt"
	"strconv"
	"time"

	entsql "entgo.io/ent/dialect/sql"

	"github.com/looplj/tenantguard/internal/store"
)

func scanRows(rows *entsql.Rows) ([]store.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []store.Row

	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(store.Row, len(columns))
		for i, col := range columns {
			row[col] = fromDriver(values[i])
		}

		out = append(out, row)
	}

	return out, rows.Err()
}

// fromDriver maps raw driver values to the types rows are exposed with.
func fromDriver(v any) any {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", x[0:4], x[4:6], x[6:8], x[8:10], x[10:16])
	case time.Time:
		return x.UTC()
	default:
		return v
	}
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	default:
		return 0, fmt.Errorf("sqlstore: unexpected aggregate value %T", v)
	}
}
