// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	dErrors "veritas/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing a SubjectID where an IssuerID is expected.
type (
	IssuerID     string
	SubjectID    string
	SchemaID     string
	KeyID        string
	CredentialID string
)

const (
	credentialIDPrefix = "cred_"
	maxIdentifierLen   = 128
)

// identifierPattern admits DID-like identifiers ("did:example:123", "org.acme/issuer-1").
var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:/-]*$`)

// NewCredentialID generates a new credential ID with a stable prefix.
func NewCredentialID() CredentialID {
	return CredentialID(credentialIDPrefix + uuid.NewString())
}

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseIssuerID(s string) (IssuerID, error) {
	v, err := parseIdentifier(s, "issuer ID")
	return IssuerID(v), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	v, err := parseIdentifier(s, "subject ID")
	return SubjectID(v), err
}

func ParseSchemaID(s string) (SchemaID, error) {
	v, err := parseIdentifier(s, "schema ID")
	return SchemaID(v), err
}

func ParseKeyID(s string) (KeyID, error) {
	v, err := parseIdentifier(s, "key ID")
	return KeyID(v), err
}

// ParseCredentialID validates the "cred_<uuid>" shape.
func ParseCredentialID(s string) (CredentialID, error) {
	if strings.TrimSpace(s) == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential ID cannot be empty")
	}
	if !strings.HasPrefix(s, credentialIDPrefix) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "credential ID must start with "+credentialIDPrefix)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(s, credentialIDPrefix)); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid credential ID format")
	}
	return CredentialID(s), nil
}

// String methods - for logging and debugging.

func (id IssuerID) String() string     { return string(id) }
func (id SubjectID) String() string    { return string(id) }
func (id SchemaID) String() string     { return string(id) }
func (id KeyID) String() string        { return string(id) }
func (id CredentialID) String() string { return string(id) }

// IsNil checks - used for service-layer validation.

func (id IssuerID) IsNil() bool     { return id == "" }
func (id SubjectID) IsNil() bool    { return id == "" }
func (id SchemaID) IsNil() bool     { return id == "" }
func (id KeyID) IsNil() bool        { return id == "" }
func (id CredentialID) IsNil() bool { return id == "" }

// parseIdentifier is the shared validation logic for string identifiers.
func parseIdentifier(s, label string) (string, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	if len(s) > maxIdentifierLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, label+" is too long")
	}
	if !identifierPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return s, nil
}
