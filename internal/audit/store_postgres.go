package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	id "veritas/pkg/domain"
)

// PostgresStore persists verification audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record Record) error {
	query := `
		INSERT INTO verification_audit (id, issuer_id, schema_id, epoch, predicate, predicate_hash, verdict, request_id, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.IssuerID.String(),
		record.SchemaID.String(),
		int64(record.Epoch),
		record.Predicate,
		record.PredicateHash,
		record.Verdict,
		sql.NullString{String: record.RequestID, Valid: record.RequestID != ""},
		record.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert verification audit: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IssuerID.IsNil() {
		args = append(args, filter.IssuerID.String())
		where = append(where, fmt.Sprintf("issuer_id = $%d", len(args)))
	}
	if filter.Verdict != "" {
		args = append(args, filter.Verdict)
		where = append(where, fmt.Sprintf("verdict = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("recorded_at >= $%d", len(args)))
	}
	query := `SELECT id, issuer_id, schema_id, epoch, predicate, predicate_hash, verdict, request_id, recorded_at FROM verification_audit`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.limit())
	query += fmt.Sprintf(" ORDER BY recorded_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification audit: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r                  Record
			issuerID, schemaID string
			epoch              int64
			requestID          sql.NullString
		)
		if err := rows.Scan(&r.ID, &issuerID, &schemaID, &epoch, &r.Predicate, &r.PredicateHash, &r.Verdict, &requestID, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan verification audit: %w", err)
		}
		r.IssuerID = id.IssuerID(issuerID)
		r.SchemaID = id.SchemaID(schemaID)
		r.Epoch = uint64(epoch)
		r.RequestID = requestID.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification audit: %w", err)
	}
	return out, nil
}
