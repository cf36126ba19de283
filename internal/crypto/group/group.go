// Package group wraps the BLS12-381 G1 group from IBM/mathlib with the small
// set of operations the commitment and proof packages need. All scalar
// arithmetic is reduced modulo the group order.
package group

import (
	"crypto/rand"
	"encoding/binary"
	"errors"

	math "github.com/IBM/mathlib"
)

var curve = math.Curves[math.BLS12_381_BBS]

var (
	errEmptyScalar = errors.New("scalar encoding is empty")
	errLongScalar  = errors.New("scalar encoding is too long")
	errPointSize   = errors.New("point encoding has the wrong length")
)

// Curve exposes the underlying curve for callers that need sizes.
func Curve() *math.Curve {
	return curve
}

// RandomScalar draws a uniformly random non-zero scalar.
func RandomScalar() *math.Zr {
	for {
		z := curve.NewRandomZr(rand.Reader)
		if !z.Equals(Zero()) {
			return z
		}
	}
}

// Zero returns the additive identity of the scalar field.
func Zero() *math.Zr {
	return curve.NewZrFromInt(0)
}

// ScalarFromUint64 lifts a non-negative integer into the scalar field.
// Values above MaxInt64 are not representable and must be rejected upstream.
func ScalarFromUint64(v uint64) *math.Zr {
	return curve.NewZrFromInt(int64(v))
}

// ScalarFromInt64 lifts a possibly negative integer into the scalar field.
func ScalarFromInt64(v int64) *math.Zr {
	if v >= 0 {
		return curve.NewZrFromInt(v)
	}
	return Neg(curve.NewZrFromInt(-v))
}

// HashToScalar maps length-prefixed parts onto a scalar.
func HashToScalar(parts ...[]byte) *math.Zr {
	return curve.HashToZr(frame(parts...))
}

// Generator derives a G1 point from a label. Distinct labels yield points
// with no known discrete-log relation.
func Generator(label string) *math.G1 {
	return curve.HashToG1([]byte("veritas/generator/" + label))
}

func Add(a, b *math.Zr) *math.Zr { return curve.ModAdd(a, b, curve.GroupOrder) }
func Sub(a, b *math.Zr) *math.Zr { return curve.ModSub(a, b, curve.GroupOrder) }
func Mul(a, b *math.Zr) *math.Zr { return curve.ModMul(a, b, curve.GroupOrder) }
func Neg(a *math.Zr) *math.Zr    { return curve.ModNeg(a, curve.GroupOrder) }

// MultiExp computes Π bases[i]^scalars[i]. bases and scalars must be the same
// non-zero length.
func MultiExp(bases []*math.G1, scalars []*math.Zr) *math.G1 {
	var res *math.G1
	for i, b := range bases {
		term := b.Mul(scalars[i])
		if res == nil {
			res = term
			continue
		}
		res.Add(term)
	}
	return res
}

// PointSub returns a - b without mutating either operand.
func PointSub(a, b *math.G1) *math.G1 {
	res := a.Copy()
	res.Sub(b)
	return res
}

// PointAdd returns a + b without mutating either operand.
func PointAdd(a, b *math.G1) *math.G1 {
	res := a.Copy()
	res.Add(b)
	return res
}

// EncodeScalar returns the canonical byte form of z.
func EncodeScalar(z *math.Zr) []byte {
	return z.Bytes()
}

// DecodeScalar parses a scalar produced by EncodeScalar.
func DecodeScalar(b []byte) (*math.Zr, error) {
	if len(b) == 0 {
		return nil, errEmptyScalar
	}
	if len(b) > curve.ScalarByteSize {
		return nil, errLongScalar
	}
	z := curve.NewZrFromBytes(b)
	z.Mod(curve.GroupOrder)
	return z, nil
}

// EncodePoint returns the compressed form of p.
func EncodePoint(p *math.G1) []byte {
	return p.Compressed()
}

// DecodePoint parses a compressed G1 point.
func DecodePoint(b []byte) (*math.G1, error) {
	if len(b) != curve.CompressedG1ByteSize {
		return nil, errPointSize
	}
	return curve.NewG1FromCompressed(b)
}

func frame(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += 4 + len(p)
	}
	out := make([]byte, 0, size)
	for _, p := range parts {
		out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
		out = append(out, p...)
	}
	return out
}
