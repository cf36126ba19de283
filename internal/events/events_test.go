package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	anchormodels "veritas/internal/anchor/models"
	credmodels "veritas/internal/credential/models"
	"veritas/internal/crypto/digest"
)

func TestNewCredentialIssued_CarriesNoClaims(t *testing.T) {
	issuedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := credmodels.Credential{
		ID:         "cred_1",
		IssuerID:   "did:example:issuer",
		SubjectID:  "subject-1",
		SchemaID:   "skill-badge",
		Claims:     credmodels.Claims{"level": credmodels.IntValue(4)},
		Commitment: []byte{1, 2, 3},
		IssuedAt:   issuedAt,
	}

	event := NewCredentialIssued(c)
	assert.Equal(t, TypeCredentialIssued, event.Type)
	assert.Equal(t, "did:example:issuer", event.Key)
	assert.NotEmpty(t, event.ID)
	assert.Equal(t, issuedAt, event.OccurredAt)

	raw, err := json.Marshal(event)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "level")
	assert.Contains(t, string(raw), c.CommitmentRef())
}

func TestNewCredentialRevoked(t *testing.T) {
	at := time.Now().UTC()
	c := credmodels.Credential{ID: "cred_1", IssuerID: "issuer-1", SubjectID: "subject-1"}
	event := NewCredentialRevoked(c, credmodels.RevocationEntry{
		CredentialID: c.ID,
		IssuerID:     c.IssuerID,
		RevokedAt:    at,
		Reason:       credmodels.ReasonKeyCompromise,
	})

	payload, ok := event.Payload.(CredentialRevoked)
	require.True(t, ok)
	assert.Equal(t, "key_compromise", payload.Reason)
	assert.Equal(t, at, event.OccurredAt)
}

func TestNewEpochAnchored(t *testing.T) {
	d := digest.Sum([]byte("epoch"))
	event := NewEpochAnchored(anchormodels.Snapshot{
		Number:     7,
		Digest:     d,
		LedgerRef:  "tx-7",
		ItemCount:  3,
		AnchoredAt: time.Now(),
	}, []string{"issuer-1", "issuer-2"})

	payload, ok := event.Payload.(EpochAnchored)
	require.True(t, ok)
	assert.Equal(t, uint64(7), payload.Epoch)
	assert.Equal(t, d.String(), payload.Digest)
	assert.Len(t, payload.Issuers, 2)
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, Event{Type: TypeCredentialIssued}))
	require.NoError(t, r.Publish(ctx, Event{Type: TypeEpochAnchored}))
	require.NoError(t, r.Publish(ctx, Event{Type: TypeCredentialIssued}))

	assert.Len(t, r.Events(), 3)
	assert.Len(t, r.OfType(TypeCredentialIssued), 2)
	assert.Empty(t, r.OfType(TypeCredentialRevoked))
}

func TestNewKafkaPublisher_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, nil)
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: "localhost:9092"}, nil)
	assert.Error(t, err)
}
