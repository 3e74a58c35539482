// internal/rules/codec.go
package rules

import (
	"database/sql"
	"strings"
	"unicode/utf8"

	"github.com/solatis/policykeeper/internal/types"
)

/*
 * Rule <-> row codec.
 *
 * Maps a types.Rule (ptype + ordered values) onto the fixed-width types.Row
 * (ptype + v0..v4) and back. Positions are indexed directly through the
 * Row.V array; absent trailing values become NULL columns.
 *
 * Encode guarantees:
 *   - ptype non-empty and within MaxPTypeLength runes
 *   - 1..MaxFields values, each within MaxFieldLength runes
 *
 * Decode guarantees:
 *   - values are contiguous: a present column after a NULL one is corrupt
 *     data and fails with ValidationError instead of being dropped
 */

// Codec encodes and decodes policy rows under configurable length limits.
// The zero value uses the column widths of the default schema.
type Codec struct {
	MaxPTypeLength int
	MaxFieldLength int
}

// NewCodec returns a codec with the given limits; non-positive limits fall back
// to the schema defaults.
func NewCodec(maxPTypeLength, maxFieldLength int) Codec {
	return Codec{MaxPTypeLength: maxPTypeLength, MaxFieldLength: maxFieldLength}
}

func (c Codec) maxPType() int {
	if c.MaxPTypeLength <= 0 {
		return types.DefaultMaxPTypeLength
	}
	return c.MaxPTypeLength
}

func (c Codec) maxField() int {
	if c.MaxFieldLength <= 0 {
		return types.DefaultMaxFieldLength
	}
	return c.MaxFieldLength
}

// Validate checks a rule against the codec limits without building a row.
func (c Codec) Validate(rule types.Rule) error {
	if rule.PType == "" {
		return types.NewValidationError("ptype", "must not be empty")
	}
	if n := utf8.RuneCountInString(rule.PType); n > c.maxPType() {
		return types.NewValidationError("ptype", "%q is %d characters, limit is %d", rule.PType, n, c.maxPType())
	}
	if len(rule.Values) == 0 {
		return types.NewValidationError("rule", "%s rule has no values", rule.PType)
	}
	if len(rule.Values) > types.MaxFields {
		return types.NewValidationError("rule", "%s rule has %d values, limit is %d", rule.PType, len(rule.Values), types.MaxFields)
	}
	for i, v := range rule.Values {
		if n := utf8.RuneCountInString(v); n > c.maxField() {
			return types.NewValidationError("rule", "v%d is %d characters, limit is %d", i, n, c.maxField())
		}
	}
	return nil
}

// Encode converts a rule into a row. The row ID is left empty; the adapter
// assigns it at insert time.
func (c Codec) Encode(rule types.Rule) (types.Row, error) {
	if err := c.Validate(rule); err != nil {
		return types.Row{}, err
	}
	row := types.Row{PType: rule.PType}
	for i, v := range rule.Values {
		row.V[i] = sql.NullString{String: v, Valid: true}
	}
	return row, nil
}

// Decode reconstructs the rule stored in a row.
func (c Codec) Decode(row types.Row) (types.Rule, error) {
	if row.PType == "" {
		return types.Rule{}, types.NewValidationError("ptype", "row %s has an empty ptype", row.ID)
	}
	n := row.Len()
	for i := n; i < types.MaxFields; i++ {
		if row.V[i].Valid {
			return types.Rule{}, types.NewValidationError("row", "row %s has v%d set after absent v%d", row.ID, i, n)
		}
	}
	values := make([]string, n)
	for i := 0; i < n; i++ {
		values[i] = row.V[i].String
	}
	return types.Rule{PType: row.PType, Values: values}, nil
}

// Key returns the canonical tuple key of a rule. Two rules share a key iff
// they encode to the same row.
func Key(rule types.Rule) string {
	var b strings.Builder
	b.WriteString(rule.PType)
	for _, v := range rule.Values {
		b.WriteByte(0)
		b.WriteString(v)
	}
	return b.String()
}

// RowKey returns the canonical tuple key of a row, matching Key for the rule
// the row decodes to.
func RowKey(row types.Row) string {
	var b strings.Builder
	b.WriteString(row.PType)
	for i := 0; i < row.Len(); i++ {
		b.WriteByte(0)
		b.WriteString(row.V[i].String)
	}
	return b.String()
}
