package accumulator

import (
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

// Depth is the height of the sparse Merkle tree; one level per key bit.
const Depth = digest.Size * 8

// LeafStatus is the value stored at a leaf.
type LeafStatus byte

const (
	LeafEmpty   LeafStatus = 0
	LeafActive  LeafStatus = 1
	LeafRevoked LeafStatus = 2
)

func (s LeafStatus) String() string {
	switch s {
	case LeafActive:
		return "active"
	case LeafRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// defaults[h] is the root of an empty subtree of height h.
var defaults = func() [Depth + 1]digest.Digest {
	var d [Depth + 1]digest.Digest
	for h := 1; h <= Depth; h++ {
		d[h] = hashNode(d[h-1], d[h-1])
	}
	return d
}()

// KeyFor maps a credential id onto its leaf position.
func KeyFor(credentialID id.CredentialID) digest.Digest {
	return digest.Sum([]byte(credentialID))
}

func leafHash(key digest.Digest, status LeafStatus) digest.Digest {
	if status == LeafEmpty {
		return digest.Digest{}
	}
	return digest.SumParts([]byte{0x00}, key[:], []byte{byte(status)})
}

func hashNode(left, right digest.Digest) digest.Digest {
	return digest.SumParts([]byte{0x01}, left[:], right[:])
}

// bit returns the key bit consumed at depth d (0 is the root).
func bit(key digest.Digest, d int) byte {
	return (key[d/8] >> (7 - uint(d%8))) & 1
}

type node struct {
	hash        digest.Digest
	left, right *node
	status      LeafStatus
}

func hashAt(n *node, depth int) digest.Digest {
	if n == nil {
		return defaults[Depth-depth]
	}
	return n.hash
}

// Tree is an immutable sparse Merkle tree. Set returns a new tree sharing all
// untouched subtrees with the receiver, so retaining old versions costs
// O(Depth) nodes per update.
type Tree struct {
	root *node
	size int
}

// Root returns the tree's root hash.
func (t Tree) Root() digest.Digest {
	return hashAt(t.root, 0)
}

// Len is the number of non-empty leaves.
func (t Tree) Len() int {
	return t.size
}

// Get returns the status stored at key.
func (t Tree) Get(key digest.Digest) LeafStatus {
	n := t.root
	for d := 0; d < Depth && n != nil; d++ {
		if bit(key, d) == 0 {
			n = n.left
		} else {
			n = n.right
		}
	}
	if n == nil {
		return LeafEmpty
	}
	return n.status
}

// Set returns a tree with key set to status.
func (t Tree) Set(key digest.Digest, status LeafStatus) Tree {
	size := t.size
	prev := t.Get(key)
	switch {
	case prev == LeafEmpty && status != LeafEmpty:
		size++
	case prev != LeafEmpty && status == LeafEmpty:
		size--
	}
	return Tree{root: set(t.root, 0, key, status), size: size}
}

func set(n *node, depth int, key digest.Digest, status LeafStatus) *node {
	if depth == Depth {
		if status == LeafEmpty {
			return nil
		}
		return &node{hash: leafHash(key, status), status: status}
	}
	var left, right *node
	if n != nil {
		left, right = n.left, n.right
	}
	if bit(key, depth) == 0 {
		left = set(left, depth+1, key, status)
	} else {
		right = set(right, depth+1, key, status)
	}
	if left == nil && right == nil {
		return nil
	}
	return &node{hash: hashNode(hashAt(left, depth+1), hashAt(right, depth+1)), left: left, right: right}
}

// Prove returns the authentication path for key.
func (t Tree) Prove(key digest.Digest) Path {
	var p Path
	n := t.root
	for d := 0; d < Depth; d++ {
		var sibling *node
		if n != nil {
			if bit(key, d) == 0 {
				sibling, n = n.right, n.left
			} else {
				sibling, n = n.left, n.right
			}
		}
		if sibling != nil {
			p.Bitmap[d/8] |= 1 << (7 - uint(d%8))
			p.Siblings = append(p.Siblings, sibling.hash)
		}
	}
	return p
}

// Path is a compressed authentication path: Bitmap marks the depths whose
// sibling is not an empty subtree, and Siblings lists those hashes from the
// root downwards.
type Path struct {
	Bitmap   [Depth / 8]byte
	Siblings []digest.Digest
}

// ComputeRoot folds the path from the leaf for (key, status) up to a root.
// ok is false when the path is malformed.
func (p Path) ComputeRoot(key digest.Digest, status LeafStatus) (root digest.Digest, ok bool) {
	present := 0
	for d := 0; d < Depth; d++ {
		if p.Bitmap[d/8]&(1<<(7-uint(d%8))) != 0 {
			present++
		}
	}
	if present != len(p.Siblings) {
		return digest.Digest{}, false
	}

	h := leafHash(key, status)
	next := len(p.Siblings) - 1
	for d := Depth - 1; d >= 0; d-- {
		sibling := defaults[Depth-d-1]
		if p.Bitmap[d/8]&(1<<(7-uint(d%8))) != 0 {
			sibling = p.Siblings[next]
			next--
		}
		if bit(key, d) == 0 {
			h = hashNode(h, sibling)
		} else {
			h = hashNode(sibling, h)
		}
	}
	return h, true
}
