package store

import (
	"context"

	"veritas/internal/anchor/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

var (
	// ErrNotFound is returned when no record exists for (issuer, epoch).
	ErrNotFound = dErrors.Wrap(dErrors.ErrNotFound, dErrors.CodeNotFound, "anchor record not found")
	// ErrConflict is returned when a different record already exists for (issuer, epoch).
	ErrConflict = dErrors.New(dErrors.CodeConflict, "anchor record is immutable")
)

// Store persists anchor records keyed by (issuer, epoch). Only the batcher
// writes; everyone else reads.
type Store interface {
	// Save is idempotent for an identical record and fails with ErrConflict
	// when a different record exists for the same key.
	Save(ctx context.Context, record models.AnchorRecord) error
	Get(ctx context.Context, issuerID id.IssuerID, epoch uint64) (models.AnchorRecord, error)
	// Latest returns the issuer's highest anchored epoch.
	Latest(ctx context.Context, issuerID id.IssuerID) (models.AnchorRecord, error)
}

// EpochLog remembers the highest epoch number ever sealed, whether or not its
// anchor landed.
type EpochLog interface {
	// RecordSealed never lowers the stored number.
	RecordSealed(ctx context.Context, epoch uint64) error
	// LastSealed returns 0 when nothing was sealed yet.
	LastSealed(ctx context.Context) (uint64, error)
}

func sameRecord(a, b models.AnchorRecord) bool {
	return a.IssuerID == b.IssuerID &&
		a.Epoch == b.Epoch &&
		a.Digest == b.Digest &&
		a.BatchRoot == b.BatchRoot &&
		a.AccumulatorRoot == b.AccumulatorRoot &&
		a.LedgerRef == b.LedgerRef
}
