// Package sigma is the default proof system: a Fiat-Shamir compiled sigma
// protocol over BLS12-381 G1.
//
// For a commitment C = h0^r * prod(h_i^m_i) it proves:
//
//   - knowledge of (r, m_i) for every attribute not fixed by an equality atom,
//     against C' = C * prod(h_j^-e_j) over the equality literals e_j;
//   - for every ordering atom on a hidden integer attribute, that the
//     difference d = sign*m + offset lies in [0, 2^32). d is committed bit by
//     bit, each bit proven to be 0 or 1 with a CDS OR-proof, and the bit
//     commitments are tied to m by a response shared with the opening proof.
package sigma

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	math "github.com/IBM/mathlib"

	"veritas/internal/credential/commitment"
	"veritas/internal/credential/models"
	"veritas/internal/crypto/group"
	"veritas/internal/proof/predicate"
	"veritas/internal/proof/zk"
	dErrors "veritas/pkg/domain-errors"
)

// Name identifies this system inside proof envelopes.
const Name = "sigma-bls12381-v1"

const (
	transcriptDomain = "veritas/sigma/v1"
	rangeBits        = models.IntegerBits
)

var (
	baseOnce sync.Once
	bitBase  *math.G1
	powers   [rangeBits]*math.Zr
)

func rangeBases() (*math.G1, [rangeBits]*math.Zr) {
	baseOnce.Do(func() {
		bitBase = group.Generator("range/bit")
		for t := range powers {
			powers[t] = group.ScalarFromUint64(1 << uint(t))
		}
	})
	return bitBase, powers
}

// System implements zk.System.
type System struct{}

func New() *System {
	return &System{}
}

func (*System) Name() string { return Name }

type proofData struct {
	Opening openingProof `json:"opening"`
	Ranges  []rangeProof `json:"ranges"`
}

type openingProof struct {
	A  []byte   `json:"a"`
	ZR []byte   `json:"z_r"`
	Z  [][]byte `json:"z"`
}

type rangeProof struct {
	Bits []bitProof `json:"bits"`
	A    []byte     `json:"a"`
	ZU   []byte     `json:"z_u"`
}

type bitProof struct {
	B  []byte `json:"b"`
	A0 []byte `json:"a0"`
	A1 []byte `json:"a1"`
	C0 []byte `json:"c0"`
	Z0 []byte `json:"z0"`
	Z1 []byte `json:"z1"`
}

// rangeSpec describes d = sign*m + offset for one ordering atom.
type rangeSpec struct {
	index  int
	name   string
	sign   int64
	offset int64
}

func (r rangeSpec) diff(m uint64) int64 {
	return r.sign*int64(m) + r.offset
}

func newRangeSpec(index int, a predicate.Atom) rangeSpec {
	k := int64(a.Value.Int)
	spec := rangeSpec{index: index, name: a.Attribute}
	switch a.Op {
	case predicate.OpGE:
		spec.sign, spec.offset = 1, -k
	case predicate.OpGT:
		spec.sign, spec.offset = 1, -k-1
	case predicate.OpLE:
		spec.sign, spec.offset = -1, k
	case predicate.OpLT:
		spec.sign, spec.offset = -1, k-1
	}
	return spec
}

// layout is everything prover and verifier derive from the statement alone.
type layout struct {
	params     *commitment.Params
	commitment *math.G1
	reduced    *math.G1
	hidden     []int
	position   map[int]int
	ranges     []rangeSpec
}

func newLayout(st zk.Statement) (*layout, error) {
	if err := st.Predicate.Check(st.Schema); err != nil {
		return nil, err
	}
	eq, err := st.Predicate.Equalities()
	if err != nil {
		return nil, err
	}
	c, err := group.DecodePoint(st.Commitment)
	if err != nil {
		return nil, fmt.Errorf("decode commitment: %w", err)
	}
	params := commitment.ParamsFor(st.Schema)
	lay := &layout{
		params:     params,
		commitment: c,
		reduced:    c.Copy(),
		position:   make(map[int]int),
	}
	for i, a := range st.Schema.Attributes {
		if v, fixed := eq[a.Name]; fixed {
			lay.reduced.Sub(params.Base(i).Mul(commitment.Encode(a.Name, v)))
			continue
		}
		lay.position[i] = len(lay.hidden)
		lay.hidden = append(lay.hidden, i)
	}
	for _, a := range st.Predicate.Atoms {
		if !a.Op.IsRange() {
			continue
		}
		if v, fixed := eq[a.Attribute]; fixed {
			// Both sides are public; no proof needed.
			if !a.Holds(v) {
				return nil, dErrors.Wrap(dErrors.ErrPredicateUnsatisfied, dErrors.CodePredicateUnsatisfied, "predicate contradicts its own equality")
			}
			continue
		}
		idx, _ := params.Index(a.Attribute)
		lay.ranges = append(lay.ranges, newRangeSpec(idx, a))
	}
	return lay, nil
}

func (l *layout) transcript(st zk.Statement) *group.Transcript {
	t := group.NewTranscript(transcriptDomain)
	t.AppendString("schema", st.Schema.ID.String())
	t.AppendString("predicate", st.Predicate.Canonical())
	t.AppendBytes("context", st.Context)
	t.AppendPoint("commitment", l.commitment)
	t.AppendPoint("reduced", l.reduced)
	return t
}

// hiddenBases returns h0 followed by the generators of hidden attributes.
func (l *layout) hiddenBases() []*math.G1 {
	bases := make([]*math.G1, 0, len(l.hidden)+1)
	bases = append(bases, l.params.BlindingBase())
	for _, i := range l.hidden {
		bases = append(bases, l.params.Base(i))
	}
	return bases
}

type bitSecret struct {
	bit  int
	s    *math.Zr
	w    *math.Zr
	cSim *math.Zr
	zSim *math.Zr
}

type rangeSecret struct {
	bits []bitSecret
	u    *math.Zr
	rhoU *math.Zr
}

// Prove builds a proof. It checks the predicate and the opening before any
// randomness is drawn, so a failing call returns no proof material.
func (s *System) Prove(ctx context.Context, st zk.Statement, op zk.Opening) ([]byte, error) {
	lay, err := newLayout(st)
	if err != nil {
		return nil, err
	}
	if !st.Predicate.Evaluate(op.Claims) {
		return nil, dErrors.Wrap(dErrors.ErrPredicateUnsatisfied, dErrors.CodePredicateUnsatisfied, "claims do not satisfy predicate")
	}
	r, err := group.DecodeScalar(op.Blinding)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid blinding factor")
	}
	msgs, err := lay.params.Messages(op.Claims)
	if err != nil {
		return nil, err
	}
	if !lay.params.CommitMessages(msgs, r).Equals(lay.commitment) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "claims and blinding factor do not open the commitment")
	}
	diffs := make([]int64, len(lay.ranges))
	for q, spec := range lay.ranges {
		diffs[q] = spec.diff(op.Claims[spec.name].Int)
		if diffs[q] < 0 || diffs[q] >= int64(models.MaxInteger) {
			return nil, dErrors.Wrap(dErrors.ErrPredicateUnsatisfied, dErrors.CodePredicateUnsatisfied, "claims do not satisfy predicate")
		}
	}

	g, pow := rangeBases()
	h0 := lay.params.BlindingBase()
	t := lay.transcript(st)

	rho := make([]*math.Zr, len(lay.hidden)+1)
	for i := range rho {
		rho[i] = group.RandomScalar()
	}
	out := proofData{Ranges: make([]rangeProof, len(lay.ranges))}
	a := group.MultiExp(lay.hiddenBases(), rho)
	out.Opening.A = group.EncodePoint(a)
	t.AppendPoint("opening.a", a)

	secrets := make([]rangeSecret, len(lay.ranges))
	for q, spec := range lay.ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rp := rangeProof{Bits: make([]bitProof, rangeBits)}
		rs := rangeSecret{bits: make([]bitSecret, rangeBits)}
		sum := group.Zero()
		for i := 0; i < rangeBits; i++ {
			bs := bitSecret{
				bit:  int(diffs[q]>>uint(i)) & 1,
				s:    group.RandomScalar(),
				w:    group.RandomScalar(),
				cSim: group.RandomScalar(),
				zSim: group.RandomScalar(),
			}
			b := h0.Mul(bs.s)
			if bs.bit == 1 {
				b.Add(g)
			}
			ys := [2]*math.G1{b, group.PointSub(b, g)}
			commits := [2]*math.G1{}
			commits[bs.bit] = h0.Mul(bs.w)
			commits[1-bs.bit] = group.PointSub(h0.Mul(bs.zSim), ys[1-bs.bit].Mul(bs.cSim))

			rp.Bits[i] = bitProof{
				B:  group.EncodePoint(b),
				A0: group.EncodePoint(commits[0]),
				A1: group.EncodePoint(commits[1]),
			}
			appendBit(t, q, i, b, commits[0], commits[1])
			sum = group.Add(sum, group.Mul(pow[i], bs.s))
			rs.bits[i] = bs
		}
		rs.u = sum
		if spec.sign < 0 {
			rs.u = group.Neg(sum)
		}
		rs.rhoU = group.RandomScalar()
		link := group.PointAdd(g.Mul(rho[lay.position[spec.index]+1]), h0.Mul(rs.rhoU))
		rp.A = group.EncodePoint(link)
		t.AppendPoint(fmt.Sprintf("range.%d.a", q), link)
		out.Ranges[q] = rp
		secrets[q] = rs
	}

	c := t.Challenge()
	out.Opening.ZR = group.EncodeScalar(group.Add(rho[0], group.Mul(c, r)))
	out.Opening.Z = make([][]byte, len(lay.hidden))
	for k, i := range lay.hidden {
		out.Opening.Z[k] = group.EncodeScalar(group.Add(rho[k+1], group.Mul(c, msgs[i])))
	}
	for q := range out.Ranges {
		rs := secrets[q]
		out.Ranges[q].ZU = group.EncodeScalar(group.Add(rs.rhoU, group.Mul(c, rs.u)))
		for i, bs := range rs.bits {
			cReal := group.Sub(c, bs.cSim)
			zReal := group.Add(bs.w, group.Mul(cReal, bs.s))
			bp := &out.Ranges[q].Bits[i]
			if bs.bit == 0 {
				bp.C0, bp.Z0, bp.Z1 = group.EncodeScalar(cReal), group.EncodeScalar(zReal), group.EncodeScalar(bs.zSim)
			} else {
				bp.C0, bp.Z0, bp.Z1 = group.EncodeScalar(bs.cSim), group.EncodeScalar(bs.zSim), group.EncodeScalar(zReal)
			}
		}
	}
	return json.Marshal(out)
}

func appendBit(t *group.Transcript, q, i int, b, a0, a1 *math.G1) {
	t.AppendPoint(fmt.Sprintf("range.%d.bit.%d.b", q, i), b)
	t.AppendPoint(fmt.Sprintf("range.%d.bit.%d.a0", q, i), a0)
	t.AppendPoint(fmt.Sprintf("range.%d.bit.%d.a1", q, i), a1)
}

// Verify checks a proof against the statement. Every failure, including
// malformed encodings, is ErrInvalidProof.
func (s *System) Verify(ctx context.Context, st zk.Statement, raw []byte) error {
	if err := s.verify(ctx, st, raw); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return dErrors.Wrap(dErrors.ErrInvalidProof, dErrors.CodeInvalidProof, "sigma proof rejected: "+err.Error())
	}
	return nil
}

type decodedBit struct {
	b, a0, a1  *math.G1
	c0, z0, z1 *math.Zr
}

func (s *System) verify(ctx context.Context, st zk.Statement, raw []byte) error {
	lay, err := newLayout(st)
	if err != nil {
		return err
	}
	var pd proofData
	if err := json.Unmarshal(raw, &pd); err != nil {
		return fmt.Errorf("decode proof: %w", err)
	}
	if len(pd.Opening.Z) != len(lay.hidden) || len(pd.Ranges) != len(lay.ranges) {
		return fmt.Errorf("proof shape does not match statement")
	}

	a, err := group.DecodePoint(pd.Opening.A)
	if err != nil {
		return err
	}
	z := make([]*math.Zr, len(lay.hidden)+1)
	if z[0], err = group.DecodeScalar(pd.Opening.ZR); err != nil {
		return err
	}
	for k, enc := range pd.Opening.Z {
		if z[k+1], err = group.DecodeScalar(enc); err != nil {
			return err
		}
	}

	t := lay.transcript(st)
	t.AppendPoint("opening.a", a)
	bits := make([][]decodedBit, len(pd.Ranges))
	links := make([]*math.G1, len(pd.Ranges))
	zu := make([]*math.Zr, len(pd.Ranges))
	for q, rp := range pd.Ranges {
		if len(rp.Bits) != rangeBits {
			return fmt.Errorf("range %d has %d bits", q, len(rp.Bits))
		}
		bits[q] = make([]decodedBit, rangeBits)
		for i, bp := range rp.Bits {
			d, err := decodeBit(bp)
			if err != nil {
				return err
			}
			bits[q][i] = d
			appendBit(t, q, i, d.b, d.a0, d.a1)
		}
		if links[q], err = group.DecodePoint(rp.A); err != nil {
			return err
		}
		if zu[q], err = group.DecodeScalar(rp.ZU); err != nil {
			return err
		}
		t.AppendPoint(fmt.Sprintf("range.%d.a", q), links[q])
	}
	c := t.Challenge()

	lhs := group.MultiExp(lay.hiddenBases(), z)
	if !lhs.Equals(group.PointAdd(a, lay.reduced.Mul(c))) {
		return fmt.Errorf("opening check failed")
	}

	g, pow := rangeBases()
	h0 := lay.params.BlindingBase()
	for q, spec := range lay.ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		var sum *math.G1
		for i, d := range bits[q] {
			c1 := group.Sub(c, d.c0)
			if !h0.Mul(d.z0).Equals(group.PointAdd(d.a0, d.b.Mul(d.c0))) {
				return fmt.Errorf("range %d bit %d: branch 0 failed", q, i)
			}
			if !h0.Mul(d.z1).Equals(group.PointAdd(d.a1, group.PointSub(d.b, g).Mul(c1))) {
				return fmt.Errorf("range %d bit %d: branch 1 failed", q, i)
			}
			term := d.b.Mul(pow[i])
			if sum == nil {
				sum = term
			} else {
				sum.Add(term)
			}
		}
		target := group.PointSub(sum, g.Mul(group.ScalarFromInt64(spec.offset)))
		if spec.sign < 0 {
			target = target.Mul(group.ScalarFromInt64(-1))
		}
		zm := z[lay.position[spec.index]+1]
		if !group.PointAdd(g.Mul(zm), h0.Mul(zu[q])).Equals(group.PointAdd(links[q], target.Mul(c))) {
			return fmt.Errorf("range %d: link check failed", q)
		}
	}
	return nil
}

func decodeBit(bp bitProof) (decodedBit, error) {
	var d decodedBit
	var err error
	if d.b, err = group.DecodePoint(bp.B); err != nil {
		return d, err
	}
	if d.a0, err = group.DecodePoint(bp.A0); err != nil {
		return d, err
	}
	if d.a1, err = group.DecodePoint(bp.A1); err != nil {
		return d, err
	}
	if d.c0, err = group.DecodeScalar(bp.C0); err != nil {
		return d, err
	}
	if d.z0, err = group.DecodeScalar(bp.Z0); err != nil {
		return d, err
	}
	d.z1, err = group.DecodeScalar(bp.Z1)
	return d, err
}

var _ zk.System = (*System)(nil)
