package testutil

import (
	"bytes"
	"time"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
)

// TestIDs provides fixed identifiers for deterministic test data.
var TestIDs = struct {
	Issuer1  id.IssuerID
	Issuer2  id.IssuerID
	Subject1 id.SubjectID
	Subject2 id.SubjectID
	Key1     id.KeyID
	Key2     id.KeyID
	Schema   id.SchemaID
}{
	Issuer1:  "did:example:issuer-1",
	Issuer2:  "did:example:issuer-2",
	Subject1: "did:example:subject-1",
	Subject2: "did:example:subject-2",
	Key1:     "key-1",
	Key2:     "key-2",
	Schema:   "skill-v1",
}

// SkillSchema is the schema most tests issue against.
func SkillSchema() models.Schema {
	return models.Schema{
		ID: TestIDs.Schema,
		Attributes: []models.Attribute{
			{Name: "category", Type: models.AttributeString},
			{Name: "level", Type: models.AttributeInteger},
		},
	}
}

// SkillClaims returns raw claim input as it arrives from a JSON request.
func SkillClaims(level uint64, category string) map[string]any {
	return map[string]any{
		"level":    float64(level),
		"category": category,
	}
}

// Seed returns a deterministic 32-byte signing key seed.
func Seed(b byte) []byte {
	return bytes.Repeat([]byte{b}, 32)
}

// CredentialBuilder provides a fluent interface for building stored credentials.
type CredentialBuilder struct {
	credential models.Credential
}

// NewCredentialBuilder creates a CredentialBuilder with sensible defaults.
func NewCredentialBuilder() *CredentialBuilder {
	return &CredentialBuilder{
		credential: models.Credential{
			ID:        id.NewCredentialID(),
			SubjectID: TestIDs.Subject1,
			IssuerID:  TestIDs.Issuer1,
			SchemaID:  TestIDs.Schema,
			KeyID:     TestIDs.Key1,
			Claims: models.Claims{
				"category": models.StringValue("Cognitive"),
				"level":    models.IntValue(4),
			},
			IssuedAt:   time.Now().UTC().Truncate(time.Microsecond),
			Commitment: []byte{0x01, 0x02, 0x03},
			Signature:  []byte{0x04, 0x05},
			Status:     models.StatusActive,
		},
	}
}

func (b *CredentialBuilder) ExpiresAt(t time.Time) *CredentialBuilder {
	b.credential.ExpiresAt = &t
	return b
}

func (b *CredentialBuilder) Build() models.Credential {
	return b.credential
}
