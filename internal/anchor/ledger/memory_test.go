package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/crypto/digest"
)

func TestMemorySubmitIsIdempotentByDigest(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := digest.Sum([]byte("epoch-1"))

	a, err := m.Submit(ctx, d)
	require.NoError(t, err)
	b, err := m.Submit(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, m.Entries(), 1)
}

func TestMemoryConfirmAfterPolls(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(WithConfirmAfter(3))
	ref, err := m.Submit(ctx, digest.Sum([]byte("x")))
	require.NoError(t, err)

	for range 2 {
		status, err := m.Confirm(ctx, ref)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, status)
	}
	status, err := m.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
	assert.Equal(t, []digest.Digest{digest.Sum([]byte("x"))}, m.Confirmed())
}

func TestMemoryInjectedFailures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	d := digest.Sum([]byte("y"))

	m.FailSubmits(1)
	_, err := m.Submit(ctx, d)
	assert.ErrorIs(t, err, ErrUnavailable)

	m.RejectNext(1)
	ref, err := m.Submit(ctx, d)
	require.NoError(t, err)
	status, err := m.Confirm(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, status)

	// a rejected digest may be resubmitted as a fresh transaction
	again, err := m.Submit(ctx, d)
	require.NoError(t, err)
	assert.NotEqual(t, ref, again)
	status, err = m.Confirm(ctx, again)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)

	status, err = m.Confirm(ctx, "tx-unknown")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, status)
}
