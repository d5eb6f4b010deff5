package listview

import (
	"strings"

	"github.com/pitabwire/caseview/model"
)

// filterRecords returns the records of source matching every predicate of
// criteria, in source order. It always starts from the full source.
func filterRecords(source []model.Record, criteria model.FilterCriteria, keywordFields []string) []model.Record {
	fields := keywordFields
	if criteria.Field != "" {
		fields = []string{criteria.Field}
	}
	keyword := strings.ToLower(criteria.Keyword)

	out := make([]model.Record, 0, len(source))
	for _, r := range source {
		if matches(r, criteria, keyword, fields) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r model.Record, criteria model.FilterCriteria, keyword string, fields []string) bool {
	if keyword != "" && !containsAny(r, fields, keyword) {
		return false
	}
	for field, want := range criteria.Equals {
		if r.Text(field) != want {
			return false
		}
	}
	for field, want := range criteria.Contains {
		if !strings.Contains(strings.ToLower(r.Text(field)), strings.ToLower(want)) {
			return false
		}
	}
	for field, rng := range criteria.Ranges {
		d := r.DatePart(field)
		if rng.From != "" && d < rng.From {
			return false
		}
		if rng.To != "" && d > rng.To {
			return false
		}
	}
	return true
}

// containsAny reports whether the lowercased keyword occurs in any of the
// given fields.
func containsAny(r model.Record, fields []string, keyword string) bool {
	for _, f := range fields {
		if strings.Contains(strings.ToLower(r.Text(f)), keyword) {
			return true
		}
	}
	return false
}
