package verification

import "time"

// Verdict is the outcome of a verification. Every failure maps to exactly one
// verdict; anything ambiguous is InvalidProof.
type Verdict string

const (
	VerdictValid            Verdict = "valid"
	VerdictInvalidSignature Verdict = "invalid_signature"
	VerdictInvalidProof     Verdict = "invalid_proof"
	VerdictStaleEpoch       Verdict = "stale_epoch"
	VerdictRevokedOrUnknown Verdict = "revoked_or_unknown"
	VerdictIssuerMismatch   Verdict = "issuer_mismatch"
)

// Anchor is the trust annotation on a valid result: where the epoch the
// proof relies on was anchored.
type Anchor struct {
	LedgerRef  string    `json:"ledger_ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Result is a verification verdict. Epoch, PredicateHash and Anchor are set
// only when the verdict is valid.
type Result struct {
	Verdict       Verdict `json:"verdict"`
	Epoch         uint64  `json:"epoch,omitempty"`
	PredicateHash string  `json:"predicate_hash,omitempty"`
	Anchor        *Anchor `json:"anchor,omitempty"`

	detail string
}

func (r Result) Valid() bool {
	return r.Verdict == VerdictValid
}

func reject(v Verdict, detail string) Result {
	return Result{Verdict: v, detail: detail}
}
