package services

import "github.com/ekaya-inc/dbhotel/pkg/models"

// MatchesAll reports whether labels satisfy every entry of filter.
// A nil filter value only matches a label that is absent or has no value.
// An empty filter matches everything.
func MatchesAll(labels, filter models.Labels) bool {
	for name, want := range filter {
		got, present := labels[name]
		if want == nil {
			if present && got != nil {
				return false
			}
			continue
		}
		if got == nil || *got != *want {
			return false
		}
	}
	return true
}

// FindAllMatching returns the schemas whose labels satisfy filter, in input order.
func FindAllMatching(schemas []*models.DatabaseSchema, filter models.Labels) []*models.DatabaseSchema {
	if len(filter) == 0 {
		return schemas
	}
	var out []*models.DatabaseSchema
	for _, s := range schemas {
		if MatchesAll(s.Labels, filter) {
			out = append(out, s)
		}
	}
	return out
}
