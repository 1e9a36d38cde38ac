package intercept

import (
	"fmt"
	"regexp"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidColumn reports whether name is a plain column identifier. Storage quotes identifiers but
// passes expressions through, so anything else must never reach it.
func ValidColumn(name string) bool {
	return identPattern.MatchString(name)
}

// checkColumns rejects op when any column it names is not a plain identifier.
func checkColumns(op Operation) error {
	var names []string

	for _, c := range op.Filter.All {
		names = append(names, c.Column)
	}

	for _, c := range op.Filter.Any {
		names = append(names, c.Column)
	}

	for _, o := range op.Order {
		names = append(names, o.Column)
	}

	names = append(names, op.Columns...)
	names = append(names, op.GroupBy...)

	if op.Aggregate.Column != "" {
		names = append(names, op.Aggregate.Column)
	}

	for col := range op.Set {
		names = append(names, col)
	}

	for _, row := range op.Rows {
		for col := range row {
			names = append(names, col)
		}
	}

	for _, name := range names {
		if !ValidColumn(name) {
			return fmt.Errorf("%w: %s: invalid column name %q", ErrInvalidOperation, op.Model, name)
		}
	}

	return nil
}
