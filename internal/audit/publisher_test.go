package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_SyncStampsAndStores(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store)

	require.NoError(t, p.Emit(context.Background(), Record{IssuerID: "issuer-1", Verdict: "valid"}))

	records, err := p.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].RecordedAt.IsZero())
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	p := NewPublisher(store, WithAsyncBuffer(16))
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Emit(context.Background(), Record{IssuerID: "issuer-1", Verdict: "valid"}))
	}
	p.Close()

	records, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, records, 10)
}

func TestInMemoryStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, Record{IssuerID: "issuer-1", Verdict: "valid", RecordedAt: base}))
	require.NoError(t, store.Append(ctx, Record{IssuerID: "issuer-2", Verdict: "stale_epoch", RecordedAt: base.Add(time.Minute)}))
	require.NoError(t, store.Append(ctx, Record{IssuerID: "issuer-1", Verdict: "invalid_proof", RecordedAt: base.Add(2 * time.Minute)}))

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"newest first", Filter{}, []string{"invalid_proof", "stale_epoch", "valid"}},
		{"by issuer", Filter{IssuerID: "issuer-1"}, []string{"invalid_proof", "valid"}},
		{"by verdict", Filter{Verdict: "valid"}, []string{"valid"}},
		{"since", Filter{Since: base.Add(time.Minute)}, []string{"invalid_proof", "stale_epoch"}},
		{"limit", Filter{Limit: 1}, []string{"invalid_proof"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.List(ctx, tt.filter)
			require.NoError(t, err)
			got := make([]string, len(records))
			for i, r := range records {
				got[i] = r.Verdict
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
