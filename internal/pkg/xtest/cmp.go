package xtest

import (
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// UUIDComparer compares uuids with their canonical string, the form stores return them in.
var UUIDComparer = cmp.FilterValues(func(x, y any) bool {
	_, okX := x.(uuid.UUID)
	_, okY := y.(uuid.UUID)

	return okX || okY
}, cmp.Comparer(func(x, y any) bool {
	return fmt.Sprint(x) == fmt.Sprint(y)
}))

// TimeComparer compares instants regardless of location.
var TimeComparer = cmp.Comparer(func(x, y time.Time) bool {
	return x.Equal(y)
})

// Diff returns a human readable diff of rows, ignoring uuid representation and time zones.
func Diff(want, got any, opts ...cmp.Option) string {
	allOpts := append(opts,
		UUIDComparer,
		TimeComparer,
		cmpopts.EquateEmpty(),
	)

	return cmp.Diff(want, got, allOpts...)
}

// Equal reports whether Diff is empty.
func Equal(a, b any, opts ...cmp.Option) bool {
	return Diff(a, b, opts...) == ""
}

// IgnoreColumns drops the given keys from row maps before comparison.
func IgnoreColumns(columns ...string) cmp.Option {
	return cmpopts.IgnoreMapEntries(func(k string, _ any) bool {
		for _, c := range columns {
			if k == c {
				return true
			}
		}

		return false
	})
}
