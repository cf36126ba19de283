package accumulator

import (
	"sort"
	"sync"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Registry owns the accumulators of all issuers. Accumulators are created on
// first use and share the registry's options.
type Registry struct {
	mu   sync.Mutex
	accs map[id.IssuerID]*Accumulator
	opts []Option
}

func NewRegistry(opts ...Option) *Registry {
	return &Registry{accs: make(map[id.IssuerID]*Accumulator), opts: opts}
}

// For returns the issuer's accumulator, creating it if needed.
func (r *Registry) For(issuer id.IssuerID) *Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.accs[issuer]; ok {
		return a
	}
	a := New(issuer, r.opts...)
	r.accs[issuer] = a
	return a
}

// Get returns the issuer's accumulator if it exists.
func (r *Registry) Get(issuer id.IssuerID) (*Accumulator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accs[issuer]
	return a, ok
}

// CurrentEpoch is the issuer's latest published epoch, 0 for unknown issuers.
func (r *Registry) CurrentEpoch(issuer id.IssuerID) uint64 {
	a, ok := r.Get(issuer)
	if !ok {
		return 0
	}
	return a.CurrentEpoch()
}

// WitnessFor serves a witness from the issuer's accumulator. Epoch 0 means
// the current epoch.
func (r *Registry) WitnessFor(issuer id.IssuerID, credentialID id.CredentialID, epoch uint64) (Witness, error) {
	a, ok := r.Get(issuer)
	if !ok {
		return Witness{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "unknown issuer")
	}
	if epoch == 0 {
		epoch = a.CurrentEpoch()
		if epoch == 0 {
			return Witness{}, dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "issuer has no anchored epoch yet")
		}
	}
	return a.WitnessFor(credentialID, epoch)
}

// All returns every accumulator ordered by issuer id.
func (r *Registry) All() []*Accumulator {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Accumulator, 0, len(r.accs))
	for _, a := range r.accs {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].issuer < out[j].issuer })
	return out
}

// Close stops every accumulator.
func (r *Registry) Close() {
	for _, a := range r.All() {
		a.Stop()
	}
}
