// Package zk defines the contract between the proof engines and a concrete
// zero-knowledge proof system. A system proves knowledge of an opening of a
// credential commitment whose claims satisfy a predicate; everything else in
// a presentation (signature, accumulator path) is checked outside the system.
package zk

import (
	"context"

	"veritas/internal/credential/models"
	"veritas/internal/proof/predicate"
)

// Statement is the public side of a proof.
type Statement struct {
	Schema     models.Schema
	Commitment []byte
	Predicate  predicate.Predicate
	// Context is bound into the challenge. Callers put every public input
	// here (issuer, epoch, nonce, credential binding) so a proof cannot be
	// replayed under different ones.
	Context []byte
}

// Opening is the holder's secret: the claims and the blinding factor.
type Opening struct {
	Claims   models.Claims
	Blinding []byte
}

// System is a pluggable proof system.
type System interface {
	Name() string
	// Prove must fail without returning proof material when the opening does
	// not satisfy the statement.
	Prove(ctx context.Context, st Statement, op Opening) ([]byte, error)
	Verify(ctx context.Context, st Statement, proof []byte) error
}

// Registry maps system names to implementations for verifiers that accept
// more than one system.
type Registry struct {
	systems map[string]System
}

func NewRegistry(systems ...System) *Registry {
	r := &Registry{systems: make(map[string]System, len(systems))}
	for _, s := range systems {
		r.systems[s.Name()] = s
	}
	return r
}

// Lookup returns the system registered under name.
func (r *Registry) Lookup(name string) (System, bool) {
	s, ok := r.systems[name]
	return s, ok
}
