package models

import (
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// AttributeType is the declared type of a schema attribute.
type AttributeType string

const (
	AttributeInteger AttributeType = "integer"
	AttributeBool    AttributeType = "bool"
	AttributeString  AttributeType = "string"
)

// MaxInteger is the exclusive upper bound for integer attributes. Range
// proofs decompose values into this many bits.
const (
	IntegerBits        = 32
	MaxInteger  uint64 = 1 << IntegerBits
)

// ParseAttributeType validates a type name from configuration.
func ParseAttributeType(s string) (AttributeType, error) {
	switch AttributeType(s) {
	case AttributeInteger, AttributeBool, AttributeString:
		return AttributeType(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported attribute type: "+s)
	}
}

// Attribute is one named, typed slot of a schema.
type Attribute struct {
	Name string
	Type AttributeType
}

// Schema fixes the attribute names and types of a credential's claims.
// Attributes are kept sorted by name; that order is the commitment order.
type Schema struct {
	ID         id.SchemaID
	Attributes []Attribute
}

// Attribute looks up an attribute by name.
func (s Schema) Attribute(name string) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Names returns attribute names in commitment order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Attributes))
	for i, a := range s.Attributes {
		names[i] = a.Name
	}
	return names
}

// Value is a typed claim value. Exactly one of Int, Bool, Str is meaningful,
// selected by Type.
type Value struct {
	Type AttributeType `json:"type"`
	Int  uint64        `json:"int,omitempty"`
	Bool bool          `json:"bool,omitempty"`
	Str  string        `json:"str,omitempty"`
}

func IntValue(v uint64) Value    { return Value{Type: AttributeInteger, Int: v} }
func BoolValue(v bool) Value     { return Value{Type: AttributeBool, Bool: v} }
func StringValue(v string) Value { return Value{Type: AttributeString, Str: v} }

// Native returns the value as a plain Go value for JSON responses.
func (v Value) Native() any {
	switch v.Type {
	case AttributeInteger:
		return v.Int
	case AttributeBool:
		return v.Bool
	default:
		return v.Str
	}
}

// Literal renders the value the way predicates spell literals.
func (v Value) Literal() string {
	switch v.Type {
	case AttributeInteger:
		return strconv.FormatUint(v.Int, 10)
	case AttributeBool:
		return strconv.FormatBool(v.Bool)
	default:
		return strconv.Quote(v.Str)
	}
}

// Claims maps attribute name to value. Keys are exactly the schema's attributes.
type Claims map[string]Value

// Native converts claims to plain Go values.
func (c Claims) Native() map[string]any {
	out := make(map[string]any, len(c))
	for k, v := range c {
		out[k] = v.Native()
	}
	return out
}

// Status is the lifecycle state of a stored credential.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// RevocationReason is the reason code carried by a revocation entry.
type RevocationReason string

const (
	ReasonUnspecified       RevocationReason = "unspecified"
	ReasonKeyCompromise     RevocationReason = "key_compromise"
	ReasonSuperseded        RevocationReason = "superseded"
	ReasonAffiliationChange RevocationReason = "affiliation_changed"
	ReasonCessation         RevocationReason = "cessation_of_operation"
)

// ParseRevocationReason validates a reason code. Empty input maps to unspecified.
func ParseRevocationReason(s string) (RevocationReason, error) {
	switch RevocationReason(s) {
	case "":
		return ReasonUnspecified, nil
	case ReasonUnspecified, ReasonKeyCompromise, ReasonSuperseded, ReasonAffiliationChange, ReasonCessation:
		return RevocationReason(s), nil
	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown revocation reason: "+s)
	}
}

// RevocationEntry records that a credential was revoked. Entries are permanent.
type RevocationEntry struct {
	CredentialID id.CredentialID
	IssuerID     id.IssuerID
	RevokedAt    time.Time
	Reason       RevocationReason
}

// Credential is the issuer-side record of an issued credential.
type Credential struct {
	ID         id.CredentialID
	SubjectID  id.SubjectID
	IssuerID   id.IssuerID
	SchemaID   id.SchemaID
	KeyID      id.KeyID
	Claims     Claims
	IssuedAt   time.Time
	ExpiresAt  *time.Time
	Commitment []byte
	Signature  []byte
	Supersedes id.CredentialID

	Status     Status
	Revocation *RevocationEntry

	// AnchoredEpoch is the epoch whose anchor first covered the issuance; 0
	// while pending. RevocationEpoch is the same for the revocation.
	AnchoredEpoch   uint64
	RevocationEpoch uint64
}

// IsRevoked reports whether a revocation entry exists.
func (c Credential) IsRevoked() bool {
	return c.Status == StatusRevoked
}

// Expired reports whether the credential has an expiry at or before now.
func (c Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// CommitmentRef is the public handle for the credential's commitment.
func (c Credential) CommitmentRef() string {
	return CommitmentRef(c.Commitment)
}

// CommitmentRef renders commitment bytes as a base58 reference.
func CommitmentRef(commitment []byte) string {
	return base58.Encode(commitment)
}

// IssuedCredential is what the holder receives: the record plus the blinding
// factor. The blinding factor is never persisted by the issuer.
type IssuedCredential struct {
	Credential     Credential
	BlindingFactor []byte
}

// StatusAt is a point-in-time view of a credential for a given epoch.
type StatusAt struct {
	CredentialID id.CredentialID
	Epoch        uint64
	Anchored     bool
	Revoked      bool
}
