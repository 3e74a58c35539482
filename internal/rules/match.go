// internal/rules/match.go
package rules

import (
	"strings"

	"github.com/solatis/policykeeper/internal/types"
)

/*
 * Filter matching.
 *
 * A filter entry constrains the row's value at the same position: filter[0]
 * against v0, filter[1] against v1, and so on. Entries are trimmed first; an
 * empty entry leaves its position unconstrained, including at the last
 * position. Rows with fewer present values than the filter has entries never
 * match, whatever those entries are.
 *
 * Rule types without a filter key are excluded: a filtered load materializes
 * only what the filter names.
 */

// Matches reports whether a row passes the filter. A nil filter matches every
// row.
func Matches(row types.Row, filter types.Filter) bool {
	if filter == nil {
		return true
	}
	words, ok := filter[row.PType]
	if !ok {
		return false
	}
	if row.Len() < len(words) {
		return false
	}
	for i, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if strings.TrimSpace(row.V[i].String) != w {
			return false
		}
	}
	return true
}

// FieldMatch is one positional equality constraint used by filtered deletes.
type FieldMatch struct {
	Index int
	Value string
}

// FieldMatches turns (fieldIndex, values...) into positional constraints.
// Empty values are wildcards and produce no constraint. Fails with
// ValidationError if values is empty or the range falls outside v0..v4.
func FieldMatches(fieldIndex int, values ...string) ([]FieldMatch, error) {
	if len(values) == 0 {
		return nil, types.NewValidationError("fieldValues", "at least one value is required")
	}
	if fieldIndex < 0 || fieldIndex >= types.MaxFields {
		return nil, types.NewValidationError("fieldIndex", "%d is outside 0..%d", fieldIndex, types.MaxFields-1)
	}
	if fieldIndex+len(values) > types.MaxFields {
		return nil, types.NewValidationError("fieldValues", "%d values from index %d exceed %d columns", len(values), fieldIndex, types.MaxFields)
	}
	var out []FieldMatch
	for i, v := range values {
		if v == "" {
			continue
		}
		out = append(out, FieldMatch{Index: fieldIndex + i, Value: v})
	}
	return out, nil
}
