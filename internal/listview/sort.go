package listview

import (
	"cmp"
	"slices"
	"strings"

	"github.com/pitabwire/caseview/model"
)

// sortRecords sorts records in place by spec. Numeric fields compare by their
// leading integer with unparsable values as 0; every other field compares
// byte-wise with missing values as the empty string. The sort is stable, so
// equal keys keep source order.
func sortRecords(records []model.Record, spec model.SortSpec, numericFields []string) {
	if spec.Field == "" {
		return
	}
	numeric := slices.Contains(numericFields, spec.Field)
	desc := spec.Direction == model.SortDesc

	slices.SortStableFunc(records, func(a, b model.Record) int {
		var c int
		if numeric {
			c = cmp.Compare(a.Int(spec.Field), b.Int(spec.Field))
		} else {
			c = strings.Compare(a.Text(spec.Field), b.Text(spec.Field))
		}
		if desc {
			return -c
		}
		return c
	})
}
