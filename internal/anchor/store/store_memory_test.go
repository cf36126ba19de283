package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/anchor/models"
	"veritas/internal/crypto/digest"
	dErrors "veritas/pkg/domain-errors"
)

func record(epoch uint64) models.AnchorRecord {
	return models.AnchorRecord{
		IssuerID:        "issuer-1",
		Epoch:           epoch,
		Digest:          digest.Sum([]byte{byte(epoch)}),
		BatchRoot:       digest.Sum([]byte("batch")),
		AccumulatorRoot: digest.Sum([]byte("acc")),
		LedgerRef:       "tx-1",
		AnchoredAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_, err := s.Latest(ctx, "issuer-1")
	assert.True(t, errors.Is(err, dErrors.ErrNotFound))

	require.NoError(t, s.Save(ctx, record(2)))
	require.NoError(t, s.Save(ctx, record(1)))

	t.Run("identical save is a no-op", func(t *testing.T) {
		assert.NoError(t, s.Save(ctx, record(2)))
	})
	t.Run("records are immutable", func(t *testing.T) {
		changed := record(2)
		changed.LedgerRef = "tx-other"
		assert.ErrorIs(t, s.Save(ctx, changed), ErrConflict)
	})
	t.Run("get", func(t *testing.T) {
		r, err := s.Get(ctx, "issuer-1", 1)
		require.NoError(t, err)
		assert.Equal(t, record(1), r)

		_, err = s.Get(ctx, "issuer-1", 3)
		assert.True(t, errors.Is(err, dErrors.ErrNotFound))
		_, err = s.Get(ctx, "issuer-2", 1)
		assert.True(t, errors.Is(err, dErrors.ErrNotFound))
	})
	t.Run("latest", func(t *testing.T) {
		r, err := s.Latest(ctx, "issuer-1")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), r.Epoch)
	})
}

func TestInMemoryStore_SealedEpochOnlyRises(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	last, err := s.LastSealed(ctx)
	require.NoError(t, err)
	assert.Zero(t, last)

	require.NoError(t, s.RecordSealed(ctx, 5))
	require.NoError(t, s.RecordSealed(ctx, 2))
	last, err = s.LastSealed(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), last)
}

func TestDecodeCachedRejectsGarbage(t *testing.T) {
	_, err := decodeCached([]byte(`{"digest":"not-base58-0OIl"}`))
	assert.Error(t, err)
	_, err = decodeCached([]byte(`nope`))
	assert.Error(t, err)
}
