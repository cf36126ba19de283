package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"veritas/internal/anchor/models"
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

const defaultCacheTTL = 24 * time.Hour

// CachedStore is a read-through Redis cache in front of another Store.
// Anchor records never change, so Get results are cached without
// invalidation. Latest always goes to the backing store. Cache failures are
// logged and bypassed.
type CachedStore struct {
	next   Store
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// CacheOption configures a CachedStore.
type CacheOption func(*CachedStore)

func WithCacheTTL(ttl time.Duration) CacheOption {
	return func(s *CachedStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(s *CachedStore) {
		s.logger = logger
	}
}

func NewCached(next Store, client redis.Cmdable, opts ...CacheOption) *CachedStore {
	s := &CachedStore{
		next:   next,
		client: client,
		ttl:    defaultCacheTTL,
		prefix: "veritas:anchor:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type cachedRecord struct {
	IssuerID        string    `json:"issuer_id"`
	Epoch           uint64    `json:"epoch"`
	Digest          string    `json:"digest"`
	BatchRoot       string    `json:"batch_root"`
	AccumulatorRoot string    `json:"accumulator_root"`
	LedgerRef       string    `json:"ledger_ref"`
	AnchoredAt      time.Time `json:"anchored_at"`
}

func (s *CachedStore) key(issuerID id.IssuerID, epoch uint64) string {
	return fmt.Sprintf("%s%s:%d", s.prefix, issuerID, epoch)
}

func (s *CachedStore) Save(ctx context.Context, record models.AnchorRecord) error {
	if err := s.next.Save(ctx, record); err != nil {
		return err
	}
	s.put(ctx, record)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, issuerID id.IssuerID, epoch uint64) (models.AnchorRecord, error) {
	raw, err := s.client.Get(ctx, s.key(issuerID, epoch)).Bytes()
	switch {
	case err == nil:
		if r, decodeErr := decodeCached(raw); decodeErr == nil {
			return r, nil
		}
		s.logger.WarnContext(ctx, "discarding undecodable cached anchor record", "issuer", issuerID, "epoch", epoch)
	case !errors.Is(err, redis.Nil):
		s.logger.WarnContext(ctx, "anchor cache read failed", "issuer", issuerID, "epoch", epoch, "error", err)
	}

	r, err := s.next.Get(ctx, issuerID, epoch)
	if err != nil {
		return models.AnchorRecord{}, err
	}
	s.put(ctx, r)
	return r, nil
}

func (s *CachedStore) Latest(ctx context.Context, issuerID id.IssuerID) (models.AnchorRecord, error) {
	return s.next.Latest(ctx, issuerID)
}

func (s *CachedStore) put(ctx context.Context, r models.AnchorRecord) {
	raw, err := json.Marshal(cachedRecord{
		IssuerID:        r.IssuerID.String(),
		Epoch:           r.Epoch,
		Digest:          r.Digest.String(),
		BatchRoot:       r.BatchRoot.String(),
		AccumulatorRoot: r.AccumulatorRoot.String(),
		LedgerRef:       r.LedgerRef,
		AnchoredAt:      r.AnchoredAt,
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, s.key(r.IssuerID, r.Epoch), raw, s.ttl).Err(); err != nil {
		s.logger.WarnContext(ctx, "anchor cache write failed", "issuer", r.IssuerID, "epoch", r.Epoch, "error", err)
	}
}

func decodeCached(raw []byte) (models.AnchorRecord, error) {
	var c cachedRecord
	if err := json.Unmarshal(raw, &c); err != nil {
		return models.AnchorRecord{}, err
	}
	r := models.AnchorRecord{
		IssuerID:   id.IssuerID(c.IssuerID),
		Epoch:      c.Epoch,
		LedgerRef:  c.LedgerRef,
		AnchoredAt: c.AnchoredAt,
	}
	var err error
	if r.Digest, err = digest.Parse(c.Digest); err != nil {
		return models.AnchorRecord{}, err
	}
	if r.BatchRoot, err = digest.Parse(c.BatchRoot); err != nil {
		return models.AnchorRecord{}, err
	}
	if r.AccumulatorRoot, err = digest.Parse(c.AccumulatorRoot); err != nil {
		return models.AnchorRecord{}, err
	}
	return r, nil
}
