// Package commitment implements the Pedersen vector commitment that binds a
// credential's claims: C = h0^r * prod(h_i^m_i), one generator per schema
// attribute, r the holder's blinding factor.
package commitment

import (
	"sync"

	math "github.com/IBM/mathlib"

	"veritas/internal/credential/models"
	"veritas/internal/crypto/group"
	dErrors "veritas/pkg/domain-errors"
)

const blindingLabel = "commitment/blinding"

var (
	paramsMu    sync.Mutex
	paramsCache = map[string]*Params{}
)

// Params carries the generators for one schema.
type Params struct {
	schema   models.Schema
	blinding *math.G1
	bases    []*math.G1
}

// ParamsFor returns the (cached) generators for a schema.
func ParamsFor(s models.Schema) *Params {
	key := cacheKey(s)
	paramsMu.Lock()
	defer paramsMu.Unlock()
	if p, ok := paramsCache[key]; ok {
		return p
	}
	p := &Params{
		schema:   s,
		blinding: group.Generator(blindingLabel),
		bases:    make([]*math.G1, len(s.Attributes)),
	}
	for i, a := range s.Attributes {
		p.bases[i] = group.Generator("commitment/" + s.ID.String() + "/" + a.Name)
	}
	paramsCache[key] = p
	return p
}

func cacheKey(s models.Schema) string {
	key := s.ID.String()
	for _, a := range s.Attributes {
		key += "|" + a.Name + ":" + string(a.Type)
	}
	return key
}

// Schema returns the schema the params were derived for.
func (p *Params) Schema() models.Schema { return p.schema }

// BlindingBase is h0.
func (p *Params) BlindingBase() *math.G1 { return p.blinding }

// Base returns the generator of the i-th attribute in schema order.
func (p *Params) Base(i int) *math.G1 { return p.bases[i] }

// Index returns the schema position of an attribute.
func (p *Params) Index(name string) (int, bool) {
	for i, a := range p.schema.Attributes {
		if a.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Encode maps a claim value to its scalar message.
func Encode(name string, v models.Value) *math.Zr {
	switch v.Type {
	case models.AttributeInteger:
		return group.ScalarFromUint64(v.Int)
	case models.AttributeBool:
		if v.Bool {
			return group.ScalarFromUint64(1)
		}
		return group.Zero()
	default:
		return group.HashToScalar([]byte("veritas/attr"), []byte(name), []byte(v.Str))
	}
}

// Messages encodes claims in schema order.
func (p *Params) Messages(claims models.Claims) ([]*math.Zr, error) {
	msgs := make([]*math.Zr, len(p.schema.Attributes))
	for i, a := range p.schema.Attributes {
		v, ok := claims[a.Name]
		if !ok || v.Type != a.Type {
			return nil, dErrors.Wrap(dErrors.ErrSchemaViolation, dErrors.CodeSchemaViolation, "claims do not match schema attribute "+a.Name)
		}
		msgs[i] = Encode(a.Name, v)
	}
	return msgs, nil
}

// CommitMessages computes C from already-encoded messages.
func (p *Params) CommitMessages(msgs []*math.Zr, r *math.Zr) *math.G1 {
	bases := make([]*math.G1, 0, len(msgs)+1)
	scalars := make([]*math.Zr, 0, len(msgs)+1)
	bases = append(bases, p.blinding)
	scalars = append(scalars, r)
	bases = append(bases, p.bases...)
	scalars = append(scalars, msgs...)
	return group.MultiExp(bases, scalars)
}

// Commit computes the compressed commitment to claims under blinding factor r.
func (p *Params) Commit(claims models.Claims, r *math.Zr) ([]byte, error) {
	msgs, err := p.Messages(claims)
	if err != nil {
		return nil, err
	}
	return group.EncodePoint(p.CommitMessages(msgs, r)), nil
}

// Open reports whether commitment opens to claims under the encoded blinding factor.
func (p *Params) Open(commitment []byte, claims models.Claims, blinding []byte) bool {
	r, err := group.DecodeScalar(blinding)
	if err != nil {
		return false
	}
	expected, err := p.Commit(claims, r)
	if err != nil {
		return false
	}
	got, err := group.DecodePoint(commitment)
	if err != nil {
		return false
	}
	want, err := group.DecodePoint(expected)
	if err != nil {
		return false
	}
	return got.Equals(want)
}

// NewBlindingFactor draws a fresh blinding factor.
func NewBlindingFactor() *math.Zr {
	return group.RandomScalar()
}
