// Package types provides the rule, row and filter models shared across
// policykeeper components, plus the error taxonomy surfaced to callers.
//
// types.go and errors.go depend only on the standard library so the codec,
// adapter and watcher packages can share them without import cycles.
// ids.go pulls in uuid for surrogate row identifiers.
package types

import (
	"database/sql"
	"strings"
)

// Resource limits for persisted rules. They mirror the column widths of the
// policy table created by the embedded migrations.
const (
	// MaxFields is the number of value columns (v0..v4) in a policy row.
	MaxFields = 5

	// DefaultMaxPTypeLength matches the ptype varchar(10) column.
	DefaultMaxPTypeLength = 10

	// DefaultMaxFieldLength matches the v0..v4 varchar(100) columns.
	DefaultMaxFieldLength = 100
)

// Section returns the model section a rule type belongs to: the first
// character of the type ("p" for p, p2, ...; "g" for g, g2, ...).
func Section(ptype string) string {
	if ptype == "" {
		return ""
	}
	return ptype[:1]
}

// Rule is one access-control entry: a type tag plus up to MaxFields ordered
// values. A position past len(Values) is absent, which is distinct from a
// present empty string.
type Rule struct {
	PType  string
	Values []string
}

// NewRule builds a Rule from a ptype and its values.
func NewRule(ptype string, values ...string) Rule {
	return Rule{PType: ptype, Values: values}
}

// Equal reports whether two rules have the same type and values.
func (r Rule) Equal(o Rule) bool {
	if r.PType != o.PType || len(r.Values) != len(o.Values) {
		return false
	}
	for i := range r.Values {
		if r.Values[i] != o.Values[i] {
			return false
		}
	}
	return true
}

// String renders the rule in the CSV-like form used by policy files.
func (r Rule) String() string {
	return strings.Join(append([]string{r.PType}, r.Values...), ", ")
}

// Row is the persisted form of a Rule. V holds the positional columns
// v0..v4; an invalid NullString is an absent field.
type Row struct {
	ID    string
	PType string
	V     [MaxFields]sql.NullString
}

// Len returns the number of leading present fields.
func (r Row) Len() int {
	n := 0
	for n < MaxFields && r.V[n].Valid {
		n++
	}
	return n
}

// Filter restricts which rows a filtered load materializes. Keys are rule
// types; each list constrains v0, v1, ... positionally. An empty entry leaves
// that position unconstrained. Rule types with no key are not loaded.
type Filter map[string][]string

// KeyPolicy selects how rows are identified for de-duplication and deletion.
type KeyPolicy string

const (
	// NaturalKey identifies a row by its full (ptype, v0..v4) tuple. Adding an
	// existing tuple replaces the row; updating onto an existing tuple is skipped.
	NaturalKey KeyPolicy = "natural"

	// SurrogateKey identifies a row by its generated id. Adding an existing
	// tuple is skipped after an existence check.
	SurrogateKey KeyPolicy = "surrogate"
)

// Valid reports whether p is a known key policy.
func (p KeyPolicy) Valid() bool {
	return p == NaturalKey || p == SurrogateKey
}
