// Package predicate parses and evaluates the disclosure predicates a holder
// proves over hidden claims:
//
//	predicate := atom ("AND" atom)*
//	atom      := IDENT OP LITERAL
//	OP        := "==" | ">=" | ">" | "<=" | "<"
//
// Literals are non-negative integers, double-quoted strings, or true/false.
// Ordering operators apply to integer attributes only.
package predicate

import (
	"fmt"
	"sort"
	"strings"

	"veritas/internal/credential/models"
	"veritas/internal/crypto/digest"
	dErrors "veritas/pkg/domain-errors"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "=="
	OpGE Op = ">="
	OpGT Op = ">"
	OpLE Op = "<="
	OpLT Op = "<"
)

// IsRange reports whether the operator needs a range proof.
func (o Op) IsRange() bool {
	return o != OpEq
}

// Atom is a single comparison of an attribute with a literal.
type Atom struct {
	Attribute string
	Op        Op
	Value     models.Value
}

func (a Atom) String() string {
	return a.Attribute + " " + string(a.Op) + " " + a.Value.Literal()
}

// Holds evaluates the atom against a concrete value.
func (a Atom) Holds(v models.Value) bool {
	if v.Type != a.Value.Type {
		return false
	}
	if a.Op == OpEq {
		return v == a.Value
	}
	if v.Type != models.AttributeInteger {
		return false
	}
	switch a.Op {
	case OpGE:
		return v.Int >= a.Value.Int
	case OpGT:
		return v.Int > a.Value.Int
	case OpLE:
		return v.Int <= a.Value.Int
	case OpLT:
		return v.Int < a.Value.Int
	}
	return false
}

// Predicate is a conjunction of atoms in canonical order with duplicates
// removed. Two predicates with the same atoms in any order are equal.
type Predicate struct {
	Atoms []Atom
}

// New canonicalises atoms into a Predicate.
func New(atoms ...Atom) Predicate {
	sorted := make([]Atom, len(atoms))
	copy(sorted, atoms)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	out := make([]Atom, 0, len(sorted))
	for _, a := range sorted {
		if n := len(out); n > 0 && out[n-1] == a {
			continue
		}
		out = append(out, a)
	}
	return Predicate{Atoms: out}
}

// Canonical renders the predicate in its normal form.
func (p Predicate) Canonical() string {
	parts := make([]string, len(p.Atoms))
	for i, a := range p.Atoms {
		parts[i] = a.String()
	}
	return strings.Join(parts, " AND ")
}

// Hash is the base58 blake2b-256 digest of the canonical form. Verifiers
// compare hashes instead of predicate text.
func (p Predicate) Hash() string {
	return digest.Sum([]byte(p.Canonical())).String()
}

// Evaluate reports whether claims satisfy every atom.
func (p Predicate) Evaluate(claims models.Claims) bool {
	for _, a := range p.Atoms {
		v, ok := claims[a.Attribute]
		if !ok || !a.Holds(v) {
			return false
		}
	}
	return true
}

// Equalities returns the attribute values fixed by equality atoms. Two
// different values for one attribute make the predicate unsatisfiable and
// are rejected.
func (p Predicate) Equalities() (map[string]models.Value, error) {
	eq := make(map[string]models.Value)
	for _, a := range p.Atoms {
		if a.Op != OpEq {
			continue
		}
		if prev, ok := eq[a.Attribute]; ok && prev != a.Value {
			return nil, violation("conflicting equalities on %q", a.Attribute)
		}
		eq[a.Attribute] = a.Value
	}
	return eq, nil
}

// Check validates the predicate against a schema: attributes exist, literal
// types match, and ordering operators are used on integers only.
func (p Predicate) Check(s models.Schema) error {
	if len(p.Atoms) == 0 {
		return violation("predicate is empty")
	}
	for _, a := range p.Atoms {
		attr, ok := s.Attribute(a.Attribute)
		if !ok {
			return violation("unknown attribute %q", a.Attribute)
		}
		if attr.Type != a.Value.Type {
			return violation("attribute %q is %s, literal is %s", a.Attribute, attr.Type, a.Value.Type)
		}
		if a.Op.IsRange() && attr.Type != models.AttributeInteger {
			return violation("operator %s needs an integer attribute, %q is %s", a.Op, a.Attribute, attr.Type)
		}
		if attr.Type == models.AttributeInteger && a.Value.Int >= models.MaxInteger {
			return violation("literal for %q is out of range", a.Attribute)
		}
	}
	_, err := p.Equalities()
	return err
}

func violation(format string, args ...any) error {
	return dErrors.Wrap(dErrors.ErrSchemaViolation, dErrors.CodeSchemaViolation, "predicate: "+fmt.Sprintf(format, args...))
}
