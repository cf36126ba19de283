package group

import (
	"encoding/binary"

	math "github.com/IBM/mathlib"
)

// Transcript accumulates the public values of a sigma protocol run and
// derives the Fiat-Shamir challenge from them. Every entry is labelled and
// length-prefixed so two different transcripts never serialize identically.
type Transcript struct {
	buf []byte
}

// NewTranscript starts a transcript under a protocol domain tag.
func NewTranscript(domain string) *Transcript {
	t := &Transcript{}
	t.AppendBytes("domain", []byte(domain))
	return t
}

func (t *Transcript) AppendBytes(label string, b []byte) {
	t.buf = binary.BigEndian.AppendUint32(t.buf, uint32(len(label)))
	t.buf = append(t.buf, label...)
	t.buf = binary.BigEndian.AppendUint32(t.buf, uint32(len(b)))
	t.buf = append(t.buf, b...)
}

func (t *Transcript) AppendString(label, s string) {
	t.AppendBytes(label, []byte(s))
}

func (t *Transcript) AppendUint64(label string, v uint64) {
	t.AppendBytes(label, binary.BigEndian.AppendUint64(nil, v))
}

func (t *Transcript) AppendPoint(label string, p *math.G1) {
	t.AppendBytes(label, EncodePoint(p))
}

// Challenge derives the challenge scalar from everything appended so far.
func (t *Transcript) Challenge() *math.Zr {
	return curve.HashToZr(t.buf)
}
