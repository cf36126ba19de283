package accumulator

import (
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

// Op is the kind of change a delta applies.
type Op string

const (
	OpAdd    Op = "add"
	OpRevoke Op = "revoke"
)

// Delta is a staged change to an issuer's accumulator. It takes effect only
// once confirmed; discarding it leaves the accumulator untouched.
type Delta struct {
	IssuerID     id.IssuerID
	CredentialID id.CredentialID
	Op           Op
	Seq          uint64
	// Changed is false for a revocation of an already-revoked credential.
	Changed bool

	key    digest.Digest
	status LeafStatus
}
