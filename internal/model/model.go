// Package model holds the in-memory policy set an enforcement engine
// evaluates against: sections ("p", "g") of Assertions, each an ordered list
// of rules plus a lookup index from a rule's canonical key to its position.
//
// The index is rebuilt or patched on every mutation so it never references a
// stale position.
package model

import (
	"sort"
	"strconv"
	"strings"
)

// Assertion holds every rule of one rule type.
type Assertion struct {
	Key         string
	Policy      [][]string
	PolicyIndex map[string]int
}

// NewAssertion returns an empty assertion for a rule type.
func NewAssertion(key string) *Assertion {
	return &Assertion{Key: key, PolicyIndex: make(map[string]int)}
}

// Has reports whether the assertion already holds rule.
func (a *Assertion) Has(rule []string) bool {
	_, ok := a.PolicyIndex[RuleKey(rule)]
	return ok
}

// Add appends rule and indexes it. Returns false if it was already present.
func (a *Assertion) Add(rule []string) bool {
	key := RuleKey(rule)
	if _, ok := a.PolicyIndex[key]; ok {
		return false
	}
	a.Policy = append(a.Policy, append([]string(nil), rule...))
	a.PolicyIndex[key] = len(a.Policy) - 1
	return true
}

// Remove deletes rule and shifts the index of every later rule.
func (a *Assertion) Remove(rule []string) bool {
	key := RuleKey(rule)
	pos, ok := a.PolicyIndex[key]
	if !ok {
		return false
	}
	a.Policy = append(a.Policy[:pos], a.Policy[pos+1:]...)
	delete(a.PolicyIndex, key)
	for i := pos; i < len(a.Policy); i++ {
		a.PolicyIndex[RuleKey(a.Policy[i])] = i
	}
	return true
}

// Clear drops every rule.
func (a *Assertion) Clear() {
	a.Policy = nil
	a.PolicyIndex = make(map[string]int)
}

// Model maps section -> rule type -> assertion.
type Model map[string]map[string]*Assertion

// New returns a model with an assertion for every given rule type.
func New(ptypes ...string) Model {
	m := make(Model)
	for _, pt := range ptypes {
		m.AddDef(pt)
	}
	return m
}

// AddDef registers a rule type. Its section is the first character.
func (m Model) AddDef(ptype string) {
	if ptype == "" {
		return
	}
	sec := ptype[:1]
	if m[sec] == nil {
		m[sec] = make(map[string]*Assertion)
	}
	if m[sec][ptype] == nil {
		m[sec][ptype] = NewAssertion(ptype)
	}
}

// Assertion returns the assertion for sec/ptype, or nil if the model does not
// enforce that rule type.
func (m Model) Assertion(sec, ptype string) *Assertion {
	return m[sec][ptype]
}

// AddPolicy adds a rule to a known rule type. Returns false if the rule type
// is unknown or the rule is already present.
func (m Model) AddPolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return false
	}
	return ast.Add(rule)
}

// RemovePolicy removes a rule. Returns false if nothing was removed.
func (m Model) RemovePolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return false
	}
	return ast.Remove(rule)
}

// HasPolicy reports whether the rule is loaded.
func (m Model) HasPolicy(sec, ptype string, rule []string) bool {
	ast := m.Assertion(sec, ptype)
	return ast != nil && ast.Has(rule)
}

// GetPolicy returns the rules of a rule type in load order.
func (m Model) GetPolicy(sec, ptype string) [][]string {
	ast := m.Assertion(sec, ptype)
	if ast == nil {
		return nil
	}
	return ast.Policy
}

// ClearPolicy drops every rule in every assertion, keeping the definitions.
func (m Model) ClearPolicy() {
	for _, sec := range m {
		for _, ast := range sec {
			ast.Clear()
		}
	}
}

// Count returns the number of rules across all assertions.
func (m Model) Count() int {
	n := 0
	for _, sec := range m {
		for _, ast := range sec {
			n += len(ast.Policy)
		}
	}
	return n
}

// PTypes returns every registered rule type, sorted.
func (m Model) PTypes() []string {
	var out []string
	for _, sec := range m {
		for pt := range sec {
			out = append(out, pt)
		}
	}
	sort.Strings(out)
	return out
}

// RuleKey is the canonical index key of a rule. Each value is prefixed with
// its byte length, so no choice of value contents makes two rules collide.
func RuleKey(rule []string) string {
	var b strings.Builder
	for _, v := range rule {
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	return b.String()
}
