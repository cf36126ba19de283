package issuance

import (
	"time"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
)

// IssueRequest carries everything needed to mint one credential. Claims is
// raw attribute input, conformed against the schema before anything else.
type IssueRequest struct {
	IssuerID   id.IssuerID
	KeyID      id.KeyID
	SubjectID  string
	SchemaID   id.SchemaID
	Claims     map[string]any
	ExpiresAt  *time.Time
	Supersedes id.CredentialID
}

// RevokeRequest revokes a credential on behalf of its issuer. KeyID must name
// one of the issuer's active keys.
type RevokeRequest struct {
	IssuerID     id.IssuerID
	KeyID        id.KeyID
	CredentialID id.CredentialID
	Reason       models.RevocationReason
}
