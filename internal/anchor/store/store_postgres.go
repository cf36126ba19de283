package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"veritas/internal/anchor/models"
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
)

// PostgresStore persists anchor records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Save(ctx context.Context, record models.AnchorRecord) error {
	query := `
		INSERT INTO anchor_records (issuer_id, epoch, digest, batch_root, accumulator_root, ledger_ref, anchored_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (issuer_id, epoch) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		record.IssuerID.String(),
		int64(record.Epoch),
		record.Digest.Bytes(),
		record.BatchRoot.Bytes(),
		record.AccumulatorRoot.Bytes(),
		record.LedgerRef,
		record.AnchoredAt,
	)
	if err != nil {
		return fmt.Errorf("insert anchor record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert anchor record rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	existing, err := s.Get(ctx, record.IssuerID, record.Epoch)
	if err != nil {
		return err
	}
	if !sameRecord(existing, record) {
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, issuerID id.IssuerID, epoch uint64) (models.AnchorRecord, error) {
	query := `
		SELECT issuer_id, epoch, digest, batch_root, accumulator_root, ledger_ref, anchored_at
		FROM anchor_records
		WHERE issuer_id = $1 AND epoch = $2
	`
	return s.queryOne(ctx, query, issuerID.String(), int64(epoch))
}

func (s *PostgresStore) Latest(ctx context.Context, issuerID id.IssuerID) (models.AnchorRecord, error) {
	query := `
		SELECT issuer_id, epoch, digest, batch_root, accumulator_root, ledger_ref, anchored_at
		FROM anchor_records
		WHERE issuer_id = $1
		ORDER BY epoch DESC
		LIMIT 1
	`
	return s.queryOne(ctx, query, issuerID.String())
}

func (s *PostgresStore) RecordSealed(ctx context.Context, epoch uint64) error {
	query := `
		INSERT INTO sealed_epochs (id, epoch) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET epoch = GREATEST(sealed_epochs.epoch, EXCLUDED.epoch)
	`
	if _, err := s.db.ExecContext(ctx, query, int64(epoch)); err != nil {
		return fmt.Errorf("record sealed epoch: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastSealed(ctx context.Context) (uint64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx, `SELECT epoch FROM sealed_epochs WHERE id = 1`).Scan(&epoch)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("find sealed epoch: %w", err)
	}
	return uint64(epoch), nil
}

func (s *PostgresStore) queryOne(ctx context.Context, query string, args ...any) (models.AnchorRecord, error) {
	var (
		r                           models.AnchorRecord
		issuer                      string
		epoch                       int64
		digestRaw, batchRaw, accRaw []byte
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&issuer, &epoch, &digestRaw, &batchRaw, &accRaw, &r.LedgerRef, &r.AnchoredAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.AnchorRecord{}, ErrNotFound
		}
		return models.AnchorRecord{}, fmt.Errorf("find anchor record: %w", err)
	}
	r.IssuerID = id.IssuerID(issuer)
	r.Epoch = uint64(epoch)
	r.AnchoredAt = r.AnchoredAt.UTC()
	if r.Digest, err = digest.FromBytes(digestRaw); err != nil {
		return models.AnchorRecord{}, fmt.Errorf("decode anchor digest: %w", err)
	}
	if r.BatchRoot, err = digest.FromBytes(batchRaw); err != nil {
		return models.AnchorRecord{}, fmt.Errorf("decode batch root: %w", err)
	}
	if r.AccumulatorRoot, err = digest.FromBytes(accRaw); err != nil {
		return models.AnchorRecord{}, fmt.Errorf("decode accumulator root: %w", err)
	}
	return r, nil
}
