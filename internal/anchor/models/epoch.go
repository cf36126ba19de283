package models

import (
	"fmt"
	"time"

	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// EpochState is a step of the per-epoch anchoring state machine.
type EpochState string

const (
	EpochCollecting EpochState = "collecting"
	EpochSealed     EpochState = "sealed"
	EpochSubmitting EpochState = "submitting"
	EpochAnchored   EpochState = "anchored"
	EpochFailed     EpochState = "failed"
	// EpochAbandoned is terminal: retries were exhausted and the items rolled
	// forward into a later epoch.
	EpochAbandoned EpochState = "abandoned"
)

var transitions = map[EpochState][]EpochState{
	EpochCollecting: {EpochSealed},
	EpochSealed:     {EpochSubmitting},
	EpochSubmitting: {EpochAnchored, EpochFailed},
	EpochFailed:     {EpochSubmitting, EpochAbandoned},
}

// Terminal reports whether no further transitions are possible.
func (s EpochState) Terminal() bool {
	return s == EpochAnchored || s == EpochAbandoned
}

// Epoch is one anchoring batch.
type Epoch struct {
	Number uint64
	State  EpochState
	Items  []Item

	// set when sealed
	AccumulatorRoots map[id.IssuerID]digest.Digest
	BatchRoots       map[id.IssuerID]digest.Digest
	Digest           digest.Digest
	SealedAt         time.Time

	LedgerRef  string
	Attempts   int
	LastError  string
	AnchoredAt time.Time
}

// NewEpoch starts an epoch in the collecting state.
func NewEpoch(number uint64) *Epoch {
	return &Epoch{Number: number, State: EpochCollecting}
}

// Transition moves the epoch to next, rejecting moves the state machine does
// not allow.
func (e *Epoch) Transition(next EpochState) error {
	for _, allowed := range transitions[e.State] {
		if allowed == next {
			e.State = next
			return nil
		}
	}
	return dErrors.New(dErrors.CodeInvariantViolation,
		fmt.Sprintf("epoch %d: invalid transition %s -> %s", e.Number, e.State, next))
}

// Seal freezes the items and computes the digest from the issuer roots.
func (e *Epoch) Seal(accumulatorRoots map[id.IssuerID]digest.Digest, at time.Time) error {
	if err := e.Transition(EpochSealed); err != nil {
		return err
	}
	byIssuer := make(map[id.IssuerID][]digest.Digest)
	for _, item := range e.Items {
		byIssuer[item.IssuerID] = append(byIssuer[item.IssuerID], item.Digest())
	}
	e.AccumulatorRoots = accumulatorRoots
	e.BatchRoots = make(map[id.IssuerID]digest.Digest, len(accumulatorRoots))
	issuerDigests := make([]digest.Digest, 0, len(accumulatorRoots))
	for issuer, accRoot := range accumulatorRoots {
		batchRoot := digest.MerkleRoot(byIssuer[issuer])
		e.BatchRoots[issuer] = batchRoot
		issuerDigests = append(issuerDigests, IssuerDigest(issuer, batchRoot, accRoot))
	}
	e.Digest = EpochDigest(e.Number, issuerDigests)
	e.SealedAt = at
	return nil
}

// Records builds the anchor records of an anchored epoch.
func (e *Epoch) Records() []AnchorRecord {
	out := make([]AnchorRecord, 0, len(e.AccumulatorRoots))
	for issuer, accRoot := range e.AccumulatorRoots {
		out = append(out, AnchorRecord{
			IssuerID:        issuer,
			Epoch:           e.Number,
			Digest:          e.Digest,
			BatchRoot:       e.BatchRoots[issuer],
			AccumulatorRoot: accRoot,
			LedgerRef:       e.LedgerRef,
			AnchoredAt:      e.AnchoredAt,
		})
	}
	return out
}

// Split returns the credential ids of issuance and revocation items.
func (e *Epoch) Split() (issued, revoked []id.CredentialID) {
	for _, item := range e.Items {
		switch item.Kind {
		case ItemIssuance:
			issued = append(issued, item.CredentialID)
		case ItemRevocation:
			revoked = append(revoked, item.CredentialID)
		}
	}
	return issued, revoked
}

// Snapshot is a read-only view of an epoch for callers outside the batcher.
type Snapshot struct {
	Number     uint64
	State      EpochState
	ItemCount  int
	Digest     digest.Digest
	LedgerRef  string
	Attempts   int
	LastError  string
	SealedAt   time.Time
	AnchoredAt time.Time
}

func (e *Epoch) Snapshot() Snapshot {
	return Snapshot{
		Number:     e.Number,
		State:      e.State,
		ItemCount:  len(e.Items),
		Digest:     e.Digest,
		LedgerRef:  e.LedgerRef,
		Attempts:   e.Attempts,
		LastError:  e.LastError,
		SealedAt:   e.SealedAt,
		AnchoredAt: e.AnchoredAt,
	}
}
