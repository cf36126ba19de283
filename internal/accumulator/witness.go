package accumulator

import (
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

// Witness shows a credential's leaf status in one issuer's accumulator at a
// given epoch. A witness whose Status is not LeafActive is a non-membership
// witness.
type Witness struct {
	IssuerID     id.IssuerID
	CredentialID id.CredentialID
	Epoch        uint64
	Root         digest.Digest
	Status       LeafStatus
	Path         Path
}

// Member reports whether the witness asserts active membership.
func (w Witness) Member() bool {
	return w.Status == LeafActive
}

// Verify checks that the path connects the credential's leaf to root. The
// root must come from a trusted source such as an anchor record; the Root
// field is informational only.
func (w Witness) Verify(root digest.Digest) bool {
	computed, ok := w.Path.ComputeRoot(KeyFor(w.CredentialID), w.Status)
	return ok && computed == root
}
