// Package tracer is the span abstraction used by the proof and verification
// engines. Callers depend on Tracer; production wires the OpenTelemetry
// adapter and tests wire the no-op tracer.
package tracer

import "context"

// Span is an active trace span. End must be called exactly once.
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer starts spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute is a key-value pair attached to a span. Claim values never go here.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute     { return Attribute{Key: key, Value: value} }
func Bool(key string, value bool) Attribute   { return Attribute{Key: key, Value: value} }
func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }

// Span names.
const (
	SpanProve       = "proof.prove"
	SpanProveSigma  = "proof.sigma.prove"
	SpanVerify      = "verification.verify"
	SpanVerifySigma = "verification.sigma.verify"
	SpanIssue       = "issuance.issue"
	SpanRevoke      = "issuance.revoke"
)

// Attribute keys.
const (
	AttrIssuer        = "issuer_id"
	AttrSchema        = "schema_id"
	AttrEpoch         = "epoch"
	AttrPredicateHash = "predicate_hash"
	AttrAtoms         = "predicate.atoms"
	AttrVerdict       = "verdict"
	AttrProofSystem   = "proof.system"
)
