// Package events publishes lifecycle notifications for external
// collaborators: issued and revoked credentials, and anchored epochs.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	anchormodels "veritas/internal/anchor/models"
	credmodels "veritas/internal/credential/models"
)

// Type names an event kind on the wire.
type Type string

const (
	TypeCredentialIssued  Type = "credential.issued"
	TypeCredentialRevoked Type = "credential.revoked"
	TypeEpochAnchored     Type = "epoch.anchored"
)

// Event is the envelope every publisher accepts. Key orders events per
// issuer on partitioned transports.
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	Key        string    `json:"key"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// CredentialIssued carries no claim values, only references.
type CredentialIssued struct {
	CredentialID  string     `json:"credential_id"`
	IssuerID      string     `json:"issuer_id"`
	SubjectID     string     `json:"subject_id"`
	SchemaID      string     `json:"schema_id"`
	CommitmentRef string     `json:"commitment_ref"`
	Supersedes    string     `json:"supersedes,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type CredentialRevoked struct {
	CredentialID string    `json:"credential_id"`
	IssuerID     string    `json:"issuer_id"`
	SubjectID    string    `json:"subject_id"`
	Reason       string    `json:"reason"`
	RevokedAt    time.Time `json:"revoked_at"`
}

type EpochAnchored struct {
	Epoch      uint64    `json:"epoch"`
	Digest     string    `json:"digest"`
	LedgerRef  string    `json:"ledger_ref"`
	Issuers    []string  `json:"issuers"`
	ItemCount  int       `json:"item_count"`
	AnchoredAt time.Time `json:"anchored_at"`
}

func newEvent(t Type, key string, at time.Time, payload any) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       t,
		Key:        key,
		OccurredAt: at,
		Payload:    payload,
	}
}

// NewCredentialIssued builds the issued event for a freshly stored credential.
func NewCredentialIssued(c credmodels.Credential) Event {
	return newEvent(TypeCredentialIssued, c.IssuerID.String(), c.IssuedAt, CredentialIssued{
		CredentialID:  c.ID.String(),
		IssuerID:      c.IssuerID.String(),
		SubjectID:     c.SubjectID.String(),
		SchemaID:      c.SchemaID.String(),
		CommitmentRef: c.CommitmentRef(),
		Supersedes:    c.Supersedes.String(),
		IssuedAt:      c.IssuedAt,
		ExpiresAt:     c.ExpiresAt,
	})
}

// NewCredentialRevoked builds the revoked event from the revocation entry.
func NewCredentialRevoked(c credmodels.Credential, entry credmodels.RevocationEntry) Event {
	return newEvent(TypeCredentialRevoked, c.IssuerID.String(), entry.RevokedAt, CredentialRevoked{
		CredentialID: c.ID.String(),
		IssuerID:     c.IssuerID.String(),
		SubjectID:    c.SubjectID.String(),
		Reason:       string(entry.Reason),
		RevokedAt:    entry.RevokedAt,
	})
}

// NewEpochAnchored summarizes a confirmed epoch.
func NewEpochAnchored(s anchormodels.Snapshot, issuers []string) Event {
	return newEvent(TypeEpochAnchored, "epoch", s.AnchoredAt, EpochAnchored{
		Epoch:      s.Number,
		Digest:     s.Digest.String(),
		LedgerRef:  s.LedgerRef,
		Issuers:    issuers,
		ItemCount:  s.ItemCount,
		AnchoredAt: s.AnchoredAt,
	})
}
