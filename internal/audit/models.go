package audit

import (
	"time"

	"github.com/google/uuid"

	id "veritas/pkg/domain"
)

// Record is the audit trail of one verification. It holds the verdict and
// the disclosed predicate only; claim values never reach the audit log.
type Record struct {
	ID            uuid.UUID
	IssuerID      id.IssuerID
	SchemaID      id.SchemaID
	Epoch         uint64
	Predicate     string
	PredicateHash string
	Verdict       string
	RequestID     string
	RecordedAt    time.Time
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	IssuerID id.IssuerID
	Verdict  string
	Since    time.Time
	Limit    int
}

const defaultLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultLimit
	}
	return f.Limit
}

func (f Filter) matches(r Record) bool {
	if !f.IssuerID.IsNil() && r.IssuerID != f.IssuerID {
		return false
	}
	if f.Verdict != "" && r.Verdict != f.Verdict {
		return false
	}
	return f.Since.IsZero() || !r.RecordedAt.Before(f.Since)
}
