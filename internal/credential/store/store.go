package store

import (
	"context"
	"time"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

var (
	// ErrNotFound keeps storage-specific 404s consistent across implementations.
	ErrNotFound = dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "credential not found")
	// ErrDuplicateID is returned by Put when the id is already stored.
	ErrDuplicateID = dErrors.Wrap(dErrors.ErrDuplicateID, dErrors.CodeDuplicateID, "credential id already exists")
)

// Store is the append-only claim store. Credentials are never updated in
// place except for revocation and anchoring bookkeeping.
type Store interface {
	Put(ctx context.Context, credential models.Credential) (id.CredentialID, error)
	Get(ctx context.Context, credentialID id.CredentialID) (models.Credential, error)
	// MarkRevoked is idempotent; revoking a revoked credential is a no-op.
	MarkRevoked(ctx context.Context, credentialID id.CredentialID, reason models.RevocationReason, at time.Time) error
	// MarkAnchored records the epoch whose anchor covered each issuance or
	// revocation. Already-recorded epochs are kept.
	MarkAnchored(ctx context.Context, epoch uint64, issued, revoked []id.CredentialID) error
	// AsOf returns the credential's status as covered by the anchor of epoch.
	AsOf(ctx context.Context, credentialID id.CredentialID, epoch uint64) (models.StatusAt, error)
	ListByIssuer(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error)
	// ListUnanchored returns the issuer's credentials whose issuance, or
	// revocation, no anchor has covered yet.
	ListUnanchored(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error)
}

// Tx provides a transactional boundary for claim store mutations. Writes made
// inside fn become visible to other readers only when fn returns nil.
type Tx interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}

// TransactionalStore is a Store that can also open transactions.
type TransactionalStore interface {
	Store
	Tx
}

const defaultTxTimeout = 5 * time.Second

func statusAt(c models.Credential, epoch uint64) (models.StatusAt, error) {
	if c.AnchoredEpoch == 0 || c.AnchoredEpoch > epoch {
		return models.StatusAt{}, dErrors.Wrap(ErrNotFound, dErrors.CodeNotFound, "credential not anchored at requested epoch")
	}
	return models.StatusAt{
		CredentialID: c.ID,
		Epoch:        epoch,
		Anchored:     true,
		Revoked:      c.RevocationEpoch != 0 && c.RevocationEpoch <= epoch,
	}, nil
}

func unanchored(c models.Credential) bool {
	return c.AnchoredEpoch == 0 || (c.IsRevoked() && c.RevocationEpoch == 0)
}

func filterUnanchored(list []models.Credential) []models.Credential {
	var out []models.Credential
	for _, c := range list {
		if unanchored(c) {
			out = append(out, c)
		}
	}
	return out
}

func revoke(c *models.Credential, reason models.RevocationReason, at time.Time) bool {
	if c.IsRevoked() {
		return false
	}
	c.Status = models.StatusRevoked
	c.Revocation = &models.RevocationEntry{
		CredentialID: c.ID,
		IssuerID:     c.IssuerID,
		RevokedAt:    at,
		Reason:       reason,
	}
	return true
}
