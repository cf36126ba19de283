package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeBadRequest         Code = "bad_request"
	CodeInvalidInput       Code = "invalid_input"
	CodeInternal           Code = "internal_error"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeUnavailable        Code = "unavailable"
	CodeInvariantViolation Code = "invariant_violation"

	// Credential engine taxonomy. Every error surfaced by issuance, proving,
	// anchoring and verification carries exactly one of these.
	CodeSchemaViolation      Code = "schema_violation"
	CodeIssuerUnauthorized   Code = "issuer_unauthorized"
	CodeDuplicateID          Code = "duplicate_id"
	CodeEpochTooOld          Code = "epoch_too_old"
	CodeStaleWitness         Code = "stale_witness"
	CodePredicateUnsatisfied Code = "predicate_unsatisfied"
	CodeStaleEpoch           Code = "stale_epoch"
	CodeInvalidProof         Code = "invalid_proof"
	CodeInvalidSignature     Code = "invalid_signature"
	CodeRevokedOrUnknown     Code = "revoked_or_unknown"
	CodeLedgerTimeout        Code = "ledger_timeout"
	CodeAccumulatorCorrupted Code = "accumulator_corrupted"
)

// Sentinels for errors.Is checks. Matching is by code, so any *Error carrying
// the same code matches regardless of message.
var (
	ErrNotFound             = New(CodeNotFound, "not found")
	ErrSchemaViolation      = New(CodeSchemaViolation, "claims violate schema")
	ErrIssuerUnauthorized   = New(CodeIssuerUnauthorized, "issuer is not authorized")
	ErrDuplicateID          = New(CodeDuplicateID, "credential id already exists")
	ErrEpochTooOld          = New(CodeEpochTooOld, "epoch predates retained witness history")
	ErrStaleWitness         = New(CodeStaleWitness, "witness is older than the current accumulator epoch")
	ErrPredicateUnsatisfied = New(CodePredicateUnsatisfied, "claims do not satisfy predicate")
	ErrStaleEpoch           = New(CodeStaleEpoch, "proof epoch is older than required")
	ErrInvalidProof         = New(CodeInvalidProof, "proof is invalid")
	ErrInvalidSignature     = New(CodeInvalidSignature, "issuer signature is invalid")
	ErrRevokedOrUnknown     = New(CodeRevokedOrUnknown, "credential is revoked or unknown")
	ErrLedgerTimeout        = New(CodeLedgerTimeout, "ledger did not confirm in time")
	ErrAccumulatorCorrupted = New(CodeAccumulatorCorrupted, "accumulator out of sync with claim store")
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when the error carries none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
