// Package digest provides the blake2b-256 hashing used for Merkle nodes,
// epoch digests, predicate hashes and commitment references.
package digest

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Size is the digest length in bytes.
const Size = blake2b.Size256

// Digest is a blake2b-256 output.
type Digest [Size]byte

// Sum hashes raw bytes.
func Sum(b []byte) Digest {
	return blake2b.Sum256(b)
}

// SumParts hashes length-prefixed parts so that ("ab","c") and ("a","bc")
// never collide.
func SumParts(parts ...[]byte) Digest {
	var buf bytes.Buffer
	for _, p := range parts {
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(p)))
		buf.Write(l[:])
		buf.Write(p)
	}
	return blake2b.Sum256(buf.Bytes())
}

// String renders the digest in base58.
func (d Digest) String() string {
	return base58.Encode(d[:])
}

// Bytes returns a copy of the digest bytes.
func (d Digest) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, d[:])
	return out
}

// IsZero reports whether d is all zero bytes.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a base58 digest.
func Parse(s string) (Digest, error) {
	var d Digest
	raw, err := base58.Decode(s)
	if err != nil {
		return d, err
	}
	if len(raw) != Size {
		return d, errLength
	}
	copy(d[:], raw)
	return d, nil
}

// FromBytes copies a raw digest.
func FromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != Size {
		return d, errLength
	}
	copy(d[:], b)
	return d, nil
}

// MerkleRoot computes a binary Merkle root over the leaves after sorting
// them, so the result is independent of input order. An odd node at any
// level is promoted unchanged. The root of no leaves is the zero digest.
func MerkleRoot(leaves []Digest) Digest {
	if len(leaves) == 0 {
		return Digest{}
	}
	level := make([]Digest, len(leaves))
	copy(level, leaves)
	sort.Slice(level, func(i, j int) bool {
		return bytes.Compare(level[i][:], level[j][:]) < 0
	})
	for len(level) > 1 {
		next := make([]Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, SumParts([]byte{0x01}, level[i][:], level[i+1][:]))
		}
		level = next
	}
	return level[0]
}
