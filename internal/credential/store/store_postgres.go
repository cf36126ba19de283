package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists credentials in PostgreSQL.
type PostgresStore struct {
	db      dbtx
	sqlDB   *sql.DB
	timeout time.Duration
}

// NewPostgres constructs a PostgreSQL-backed claim store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, sqlDB: db, timeout: defaultTxTimeout}
}

const credentialColumns = `id, issuer_id, subject_id, schema_id, key_id, claims, issued_at, expires_at,
	commitment, signature, supersedes, status, revoked_at, revocation_reason, anchored_epoch, revocation_epoch`

func (s *PostgresStore) Put(ctx context.Context, credential models.Credential) (id.CredentialID, error) {
	claims, err := json.Marshal(credential.Claims)
	if err != nil {
		return "", fmt.Errorf("marshal credential claims: %w", err)
	}
	query := `
		INSERT INTO credentials (id, issuer_id, subject_id, schema_id, key_id, claims, issued_at, expires_at,
			commitment, signature, supersedes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 'active')
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.db.ExecContext(ctx, query,
		credential.ID.String(),
		credential.IssuerID.String(),
		credential.SubjectID.String(),
		credential.SchemaID.String(),
		credential.KeyID.String(),
		claims,
		credential.IssuedAt,
		nullTime(credential.ExpiresAt),
		credential.Commitment,
		credential.Signature,
		nullString(credential.Supersedes.String()),
	)
	if err != nil {
		return "", fmt.Errorf("insert credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("insert credential rows affected: %w", err)
	}
	if n == 0 {
		return "", ErrDuplicateID
	}
	return credential.ID, nil
}

func (s *PostgresStore) Get(ctx context.Context, credentialID id.CredentialID) (models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE id = $1`
	c, err := scanCredential(s.db.QueryRowContext(ctx, query, credentialID.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, ErrNotFound
		}
		return models.Credential{}, fmt.Errorf("find credential by id: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) MarkRevoked(ctx context.Context, credentialID id.CredentialID, reason models.RevocationReason, at time.Time) error {
	query := `
		UPDATE credentials
		SET status = 'revoked', revoked_at = $2, revocation_reason = $3
		WHERE id = $1 AND status = 'active'
	`
	res, err := s.db.ExecContext(ctx, query, credentialID.String(), at, string(reason))
	if err != nil {
		return fmt.Errorf("revoke credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke credential rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	// nothing updated: either already revoked or unknown
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM credentials WHERE id = $1)`, credentialID.String()).Scan(&exists); err != nil {
		return fmt.Errorf("check credential exists: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkAnchored(ctx context.Context, epoch uint64, issued, revoked []id.CredentialID) error {
	if len(issued) > 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE credentials SET anchored_epoch = $1
			WHERE id = ANY($2) AND anchored_epoch IS NULL
		`, int64(epoch), idStrings(issued))
		if err != nil {
			return fmt.Errorf("mark issuance anchored: %w", err)
		}
	}
	if len(revoked) > 0 {
		_, err := s.db.ExecContext(ctx, `
			UPDATE credentials SET revocation_epoch = $1
			WHERE id = ANY($2) AND revocation_epoch IS NULL
		`, int64(epoch), idStrings(revoked))
		if err != nil {
			return fmt.Errorf("mark revocation anchored: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) AsOf(ctx context.Context, credentialID id.CredentialID, epoch uint64) (models.StatusAt, error) {
	c, err := s.Get(ctx, credentialID)
	if err != nil {
		return models.StatusAt{}, err
	}
	return statusAt(c, epoch)
}

func (s *PostgresStore) ListByIssuer(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE issuer_id = $1 ORDER BY issued_at, id`
	return s.list(ctx, query, issuerID.String())
}

func (s *PostgresStore) ListUnanchored(ctx context.Context, issuerID id.IssuerID) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials
		WHERE issuer_id = $1
		  AND (anchored_epoch IS NULL OR (status = 'revoked' AND revocation_epoch IS NULL))
		ORDER BY issued_at, id`
	return s.list(ctx, query, issuerID.String())
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]models.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return out, nil
}

// RunInTx runs fn against a store bound to a single database transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if s.sqlDB == nil {
		return dErrors.New(dErrors.CodeInternal, "nested transactions are not supported")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // rollback after commit is no-op
	}()

	if err := fn(ctx, &PostgresStore{db: tx, timeout: s.timeout}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type credentialRow interface {
	Scan(dest ...any) error
}

func scanCredential(row credentialRow) (models.Credential, error) {
	var (
		c                               models.Credential
		credID, issuer, subject, schema string
		keyID, status                   string
		claims                          []byte
		expiresAt, revokedAt            sql.NullTime
		supersedes, reason              sql.NullString
		anchoredEpoch, revocationEpoch  sql.NullInt64
	)
	err := row.Scan(&credID, &issuer, &subject, &schema, &keyID, &claims, &c.IssuedAt, &expiresAt,
		&c.Commitment, &c.Signature, &supersedes, &status, &revokedAt, &reason, &anchoredEpoch, &revocationEpoch)
	if err != nil {
		return models.Credential{}, err
	}
	c.ID = id.CredentialID(credID)
	c.IssuerID = id.IssuerID(issuer)
	c.SubjectID = id.SubjectID(subject)
	c.SchemaID = id.SchemaID(schema)
	c.KeyID = id.KeyID(keyID)
	c.Status = models.Status(status)
	c.IssuedAt = c.IssuedAt.UTC()
	if err := json.Unmarshal(claims, &c.Claims); err != nil {
		return models.Credential{}, fmt.Errorf("unmarshal credential claims: %w", err)
	}
	if expiresAt.Valid {
		exp := expiresAt.Time.UTC()
		c.ExpiresAt = &exp
	}
	if supersedes.Valid {
		c.Supersedes = id.CredentialID(supersedes.String)
	}
	if c.Status == models.StatusRevoked {
		c.Revocation = &models.RevocationEntry{
			CredentialID: c.ID,
			IssuerID:     c.IssuerID,
			RevokedAt:    revokedAt.Time.UTC(),
			Reason:       models.RevocationReason(reason.String),
		}
	}
	if anchoredEpoch.Valid {
		c.AnchoredEpoch = uint64(anchoredEpoch.Int64)
	}
	if revocationEpoch.Valid {
		c.RevocationEpoch = uint64(revocationEpoch.Int64)
	}
	return c, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func idStrings(ids []id.CredentialID) []string {
	out := make([]string, len(ids))
	for i, cid := range ids {
		out[i] = cid.String()
	}
	return out
}
