package group

import (
	"testing"

	math "github.com/IBM/mathlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScalarArithmetic(t *testing.T) {
	a := ScalarFromUint64(7)
	b := ScalarFromUint64(5)

	assert.True(t, Add(a, b).Equals(ScalarFromUint64(12)))
	assert.True(t, Sub(a, b).Equals(ScalarFromUint64(2)))
	assert.True(t, Mul(a, b).Equals(ScalarFromUint64(35)))
	assert.True(t, Add(a, Neg(a)).Equals(Zero()))
	assert.True(t, ScalarFromInt64(-3).Equals(Neg(ScalarFromUint64(3))))
}

func TestMultiExpMatchesSequentialProducts(t *testing.T) {
	g := Generator("test/g")
	h := Generator("test/h")
	x := RandomScalar()
	y := RandomScalar()

	expected := g.Mul(x)
	expected.Add(h.Mul(y))

	got := MultiExp([]*math.G1{g, h}, []*math.Zr{x, y})
	assert.True(t, expected.Equals(got))
}

func TestPointHelpersDoNotMutateOperands(t *testing.T) {
	g := Generator("test/g")
	h := Generator("test/h")
	gCopy := g.Copy()

	diff := PointSub(g, h)
	sum := PointAdd(diff, h)

	assert.True(t, g.Equals(gCopy))
	assert.True(t, sum.Equals(g))
}

func TestEncodingRoundTrip(t *testing.T) {
	z := RandomScalar()
	decoded, err := DecodeScalar(EncodeScalar(z))
	require.NoError(t, err)
	assert.True(t, z.Equals(decoded))

	p := Generator("test/p").Mul(z)
	point, err := DecodePoint(EncodePoint(p))
	require.NoError(t, err)
	assert.True(t, p.Equals(point))

	_, err = DecodeScalar(nil)
	assert.Error(t, err)
}

func TestTranscriptIsOrderSensitive(t *testing.T) {
	a := NewTranscript("test")
	a.AppendString("x", "1")
	a.AppendString("y", "2")

	b := NewTranscript("test")
	b.AppendString("y", "2")
	b.AppendString("x", "1")

	assert.False(t, a.Challenge().Equals(b.Challenge()))

	c := NewTranscript("test")
	c.AppendString("x", "1")
	c.AppendString("y", "2")
	assert.True(t, a.Challenge().Equals(c.Challenge()))
}
