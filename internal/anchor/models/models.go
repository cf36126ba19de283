package models

import (
	"encoding/binary"
	"time"

	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

// AnchorRecord is the confirmed anchoring of one issuer's accumulator state
// at an epoch. Records are immutable once written.
type AnchorRecord struct {
	IssuerID id.IssuerID
	Epoch    uint64
	// Digest is the epoch digest submitted to the ledger.
	Digest digest.Digest
	// BatchRoot is the Merkle root over this issuer's items in the epoch.
	BatchRoot       digest.Digest
	AccumulatorRoot digest.Digest
	LedgerRef       string
	AnchoredAt      time.Time
}

// IssuerDigest binds the issuer's batch and accumulator roots; the epoch
// digest is a Merkle root over these.
func IssuerDigest(issuer id.IssuerID, batchRoot, accumulatorRoot digest.Digest) digest.Digest {
	return digest.SumParts([]byte(issuer), batchRoot[:], accumulatorRoot[:])
}

// EpochDigest binds the epoch number to the Merkle root over issuer digests,
// so two epochs never submit the same digest.
func EpochDigest(epoch uint64, issuerDigests []digest.Digest) digest.Digest {
	root := digest.MerkleRoot(issuerDigests)
	return digest.SumParts([]byte("veritas/epoch"), binary.BigEndian.AppendUint64(nil, epoch), root[:])
}

// ItemKind distinguishes the two things that get anchored.
type ItemKind string

const (
	ItemIssuance   ItemKind = "issuance"
	ItemRevocation ItemKind = "revocation"
)

// Item is one committed change awaiting anchoring.
type Item struct {
	IssuerID     id.IssuerID
	CredentialID id.CredentialID
	Kind         ItemKind
	Commitment   []byte
	EnqueuedAt   time.Time
}

// Digest is the item's leaf in the issuer batch root.
func (i Item) Digest() digest.Digest {
	return digest.SumParts([]byte(i.Kind), []byte(i.IssuerID), []byte(i.CredentialID), i.Commitment)
}
