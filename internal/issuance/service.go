// Package issuance mints and revokes credentials. Every mutation writes the
// claim store and the issuer's accumulator as one unit and then hands the
// change to the anchoring batcher.
package issuance

import (
	"context"
	"crypto/ed25519"
	"log/slog"
	"time"

	"veritas/internal/accumulator"
	anchormodels "veritas/internal/anchor/models"
	"veritas/internal/credential/commitment"
	"veritas/internal/credential/models"
	"veritas/internal/credential/store"
	"veritas/internal/crypto/digest"
	"veritas/internal/crypto/group"
	"veritas/internal/events"
	"veritas/internal/issuer"
	"veritas/internal/platform/tracer"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	requesttime "veritas/pkg/platform/middleware/requesttime"
	vsync "veritas/pkg/platform/sync"
)

// SchemaConformer validates raw claims against a registered schema.
type SchemaConformer interface {
	Conform(schemaID id.SchemaID, raw map[string]any) (models.Schema, models.Claims, error)
}

// KeyRing hands out signing keys for active issuer keys only.
type KeyRing interface {
	SigningKey(issuerID id.IssuerID, keyID id.KeyID) (ed25519.PrivateKey, error)
}

// AnchorQueue accepts committed changes for anchoring. Commit runs apply and,
// when it succeeds, enqueues items with no epoch sealing in between. apply may
// be nil. Enqueueing must not block.
type AnchorQueue interface {
	Commit(apply func() error, items ...anchormodels.Item) error
}

type Option func(*Service)

// Service issues and revokes credentials. Mutations are serialised per
// issuer; different issuers proceed in parallel.
type Service struct {
	schemas      SchemaConformer
	keys         KeyRing
	store        store.TransactionalStore
	accumulators *accumulator.Registry
	anchors      AnchorQueue
	publisher    events.Publisher
	locks        *vsync.KeyedMutex
	tracer       tracer.Tracer
	metrics      *Metrics
	logger       *slog.Logger
	now          func(ctx context.Context) time.Time
}

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		s.tracer = t
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the request-scoped clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = func(context.Context) time.Time { return now() }
	}
}

// WithLockShards sets the number of per-issuer lock shards.
func WithLockShards(n int) Option {
	return func(s *Service) {
		s.locks = vsync.NewKeyedMutex(n)
	}
}

func NewService(schemas SchemaConformer, keys KeyRing, credentials store.TransactionalStore, accumulators *accumulator.Registry, anchors AnchorQueue, opts ...Option) *Service {
	s := &Service{
		schemas:      schemas,
		keys:         keys,
		store:        credentials,
		accumulators: accumulators,
		anchors:      anchors,
		locks:        vsync.NewKeyedMutex(0),
		tracer:       tracer.NewNoop(),
		logger:       slog.Default(),
		now:          requesttime.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue validates the request, commits to the claims under a fresh blinding
// factor, signs the commitment and records the credential. The blinding
// factor is returned to the caller and never stored.
//
// Validation order: SchemaViolation, IssuerUnauthorized, then malformed
// subject or expiry (InvalidInput).
func (s *Service) Issue(ctx context.Context, req IssueRequest) (models.IssuedCredential, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrIssuer, req.IssuerID.String()),
		tracer.String(tracer.AttrSchema, req.SchemaID.String()),
	)
	start := time.Now()
	issued, err := s.issue(ctx, req)
	span.End(err)
	s.metrics.observeIssue(err, time.Since(start))
	if err != nil {
		s.logger.InfoContext(ctx, "credential not issued",
			"issuer_id", req.IssuerID,
			"schema_id", req.SchemaID,
			"code", dErrors.CodeOf(err),
		)
		return models.IssuedCredential{}, err
	}
	s.logger.InfoContext(ctx, "credential issued",
		"issuer_id", issued.Credential.IssuerID,
		"credential_id", issued.Credential.ID,
		"schema_id", issued.Credential.SchemaID,
	)
	return issued, nil
}

func (s *Service) issue(ctx context.Context, req IssueRequest) (models.IssuedCredential, error) {
	if err := ctx.Err(); err != nil {
		return models.IssuedCredential{}, err
	}
	schema, claims, err := s.schemas.Conform(req.SchemaID, req.Claims)
	if err != nil {
		return models.IssuedCredential{}, err
	}
	priv, err := s.keys.SigningKey(req.IssuerID, req.KeyID)
	if err != nil {
		return models.IssuedCredential{}, err
	}
	subjectID, err := id.ParseSubjectID(req.SubjectID)
	if err != nil {
		return models.IssuedCredential{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid subject id")
	}

	// Microsecond precision survives a Postgres round trip, so the signed
	// payload can be rebuilt from a stored record.
	now := s.now(ctx).UTC().Truncate(time.Microsecond)
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		t := req.ExpiresAt.UTC().Truncate(time.Microsecond)
		if !t.After(now) {
			return models.IssuedCredential{}, dErrors.New(dErrors.CodeInvalidInput, "expires_at must be after the issuance time")
		}
		expiresAt = &t
	}

	r := commitment.NewBlindingFactor()
	c, err := commitment.ParamsFor(schema).Commit(claims, r)
	if err != nil {
		return models.IssuedCredential{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit to claims")
	}
	credential := models.Credential{
		ID:         id.NewCredentialID(),
		SubjectID:  subjectID,
		IssuerID:   req.IssuerID,
		SchemaID:   schema.ID,
		KeyID:      req.KeyID,
		Claims:     claims,
		IssuedAt:   now,
		ExpiresAt:  expiresAt,
		Commitment: c,
		Supersedes: req.Supersedes,
		Status:     models.StatusActive,
	}
	credential.Signature, err = issuer.Sign(priv, credential)
	if err != nil {
		return models.IssuedCredential{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign credential")
	}

	var superseded *models.Credential
	err = s.locks.Do(req.IssuerID.String(), func() error {
		var err error
		superseded, err = s.record(ctx, credential)
		return err
	})
	if err != nil {
		return models.IssuedCredential{}, err
	}

	s.publish(ctx, events.NewCredentialIssued(credential))
	if superseded != nil {
		s.publish(ctx, events.NewCredentialRevoked(*superseded, *superseded.Revocation))
	}

	return models.IssuedCredential{
		Credential:     credential,
		BlindingFactor: group.EncodeScalar(r),
	}, nil
}

// record stages the accumulator deltas, writes the store, then confirms the
// deltas and queues the change for anchoring in one step. It returns the credential this one superseded, if that revoked it.
// Callers hold the issuer lock.
func (s *Service) record(ctx context.Context, credential models.Credential) (*models.Credential, error) {
	var prior *models.Credential
	if !credential.Supersedes.IsNil() {
		p, err := s.store.Get(ctx, credential.Supersedes)
		if err != nil {
			return nil, err
		}
		if p.IssuerID != credential.IssuerID {
			return nil, dErrors.Wrap(dErrors.ErrIssuerUnauthorized, dErrors.CodeIssuerUnauthorized, "superseded credential belongs to another issuer")
		}
		if p.SubjectID != credential.SubjectID || p.SchemaID != credential.SchemaID {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "a new version must keep the subject and schema of the one it supersedes")
		}
		prior = &p
	}

	acc := s.accumulators.For(credential.IssuerID)
	add, err := acc.AddCredential(ctx, credential.ID)
	if err != nil {
		return nil, err
	}
	deltas := []accumulator.Delta{add}
	if prior != nil {
		rev, err := acc.Revoke(ctx, prior.ID)
		if err != nil {
			s.discard(ctx, acc, deltas)
			return nil, err
		}
		deltas = append(deltas, rev)
	}

	err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		if _, err := tx.Put(ctx, credential); err != nil {
			return err
		}
		if prior != nil {
			return tx.MarkRevoked(ctx, prior.ID, models.ReasonSuperseded, credential.IssuedAt)
		}
		return nil
	})
	if err != nil {
		s.discard(ctx, acc, deltas)
		return nil, err
	}

	items := []anchormodels.Item{issuanceItem(credential)}
	var superseded *models.Credential
	if prior != nil && !prior.IsRevoked() {
		prior.Status = models.StatusRevoked
		prior.Revocation = &models.RevocationEntry{
			CredentialID: prior.ID,
			IssuerID:     prior.IssuerID,
			RevokedAt:    credential.IssuedAt,
			Reason:       models.ReasonSuperseded,
		}
		superseded = prior
		items = append(items, revocationItem(*prior))
	}
	err = s.anchors.Commit(func() error {
		return s.confirm(ctx, acc, deltas...)
	}, items...)
	if err != nil {
		return nil, err
	}
	return superseded, nil
}

// Revoke permanently revokes a credential. Only the issuer that signed it may
// revoke it, and revoking a revoked credential returns it unchanged without
// touching the accumulator or emitting anything.
func (s *Service) Revoke(ctx context.Context, req RevokeRequest) (models.Credential, error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanRevoke,
		tracer.String(tracer.AttrIssuer, req.IssuerID.String()),
	)
	c, changed, err := s.revoke(ctx, req)
	span.End(err)
	s.metrics.observeRevoke(err)
	if err != nil {
		s.logger.InfoContext(ctx, "credential not revoked",
			"issuer_id", req.IssuerID,
			"credential_id", req.CredentialID,
			"code", dErrors.CodeOf(err),
		)
		return models.Credential{}, err
	}
	if !changed {
		return c, nil
	}

	s.publish(ctx, events.NewCredentialRevoked(c, *c.Revocation))
	s.logger.InfoContext(ctx, "credential revoked",
		"issuer_id", c.IssuerID,
		"credential_id", c.ID,
		"reason", c.Revocation.Reason,
	)
	return c, nil
}

func (s *Service) revoke(ctx context.Context, req RevokeRequest) (models.Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return models.Credential{}, false, err
	}
	if _, err := s.keys.SigningKey(req.IssuerID, req.KeyID); err != nil {
		return models.Credential{}, false, err
	}
	reason := req.Reason
	if reason == "" {
		reason = models.ReasonUnspecified
	}

	var (
		out     models.Credential
		changed bool
	)
	err := s.locks.Do(req.IssuerID.String(), func() error {
		c, err := s.store.Get(ctx, req.CredentialID)
		if err != nil {
			return err
		}
		if c.IssuerID != req.IssuerID {
			return dErrors.Wrap(dErrors.ErrIssuerUnauthorized, dErrors.CodeIssuerUnauthorized, "only the signing issuer may revoke a credential")
		}
		if c.IsRevoked() {
			out = c
			return nil
		}

		acc := s.accumulators.For(c.IssuerID)
		d, err := acc.Revoke(ctx, c.ID)
		if err != nil {
			return err
		}
		now := s.now(ctx).UTC().Truncate(time.Microsecond)
		err = s.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
			return tx.MarkRevoked(ctx, c.ID, reason, now)
		})
		if err != nil {
			s.discard(ctx, acc, []accumulator.Delta{d})
			return err
		}

		c.Status = models.StatusRevoked
		c.Revocation = &models.RevocationEntry{
			CredentialID: c.ID,
			IssuerID:     c.IssuerID,
			RevokedAt:    now,
			Reason:       reason,
		}
		err = s.anchors.Commit(func() error {
			return s.confirm(ctx, acc, d)
		}, revocationItem(c))
		if err != nil {
			return err
		}
		out, changed = c, true
		return nil
	})
	return out, changed, err
}

// Get returns a stored credential.
func (s *Service) Get(ctx context.Context, credentialID id.CredentialID) (models.Credential, error) {
	return s.store.Get(ctx, credentialID)
}

// Status reports whether a credential was anchored, and whether it was
// revoked, as of the anchor of epoch.
func (s *Service) Status(ctx context.Context, credentialID id.CredentialID, epoch uint64) (models.StatusAt, error) {
	return s.store.AsOf(ctx, credentialID, epoch)
}

// Reconcile rebuilds an issuer's accumulator from the claim store, which is
// authoritative, and lifts a halt. It runs under the issuer lock so no
// issuance interleaves with the rebuild.
func (s *Service) Reconcile(ctx context.Context, issuerID id.IssuerID) (digest.Digest, error) {
	var root digest.Digest
	err := s.locks.Do(issuerID.String(), func() error {
		credentials, err := s.store.ListByIssuer(ctx, issuerID)
		if err != nil {
			return err
		}
		entries := make(map[id.CredentialID]accumulator.LeafStatus, len(credentials))
		for _, c := range credentials {
			status := accumulator.LeafActive
			if c.IsRevoked() {
				status = accumulator.LeafRevoked
			}
			entries[c.ID] = status
		}
		root, err = s.accumulators.For(issuerID).Reconcile(ctx, entries)
		return err
	})
	if err != nil {
		return digest.Digest{}, err
	}
	s.logger.InfoContext(ctx, "issuer reconciled", "issuer_id", issuerID, "root", root.String())
	return root, nil
}

// Requeue hands the issuer's committed changes that no anchor covers yet back
// to the anchoring queue. Items still buffered when the batcher stopped exist
// only in memory, so a restart calls this before the batcher starts. It
// returns the number of items queued.
func (s *Service) Requeue(ctx context.Context, issuerID id.IssuerID) (int, error) {
	var items []anchormodels.Item
	err := s.locks.Do(issuerID.String(), func() error {
		credentials, err := s.store.ListUnanchored(ctx, issuerID)
		if err != nil {
			return err
		}
		for _, c := range credentials {
			if c.AnchoredEpoch == 0 {
				items = append(items, issuanceItem(c))
			}
			if c.IsRevoked() && c.RevocationEpoch == 0 {
				items = append(items, revocationItem(c))
			}
		}
		if len(items) == 0 {
			return nil
		}
		return s.anchors.Commit(nil, items...)
	})
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

func issuanceItem(c models.Credential) anchormodels.Item {
	return anchormodels.Item{
		IssuerID:     c.IssuerID,
		CredentialID: c.ID,
		Kind:         anchormodels.ItemIssuance,
		Commitment:   c.Commitment,
		EnqueuedAt:   c.IssuedAt,
	}
}

func revocationItem(c models.Credential) anchormodels.Item {
	return anchormodels.Item{
		IssuerID:     c.IssuerID,
		CredentialID: c.ID,
		Kind:         anchormodels.ItemRevocation,
		Commitment:   c.Commitment,
		EnqueuedAt:   c.Revocation.RevokedAt,
	}
}

// confirm applies staged deltas after the store committed. A failure here
// means the store holds a change the accumulator lacks, so the issuer halts.
func (s *Service) confirm(ctx context.Context, acc *accumulator.Accumulator, deltas ...accumulator.Delta) error {
	ctx = context.WithoutCancel(ctx)
	for _, d := range deltas {
		if err := acc.Confirm(ctx, d); err != nil {
			acc.Halt(err)
			s.metrics.incHalts()
			s.logger.ErrorContext(ctx, "accumulator delta lost after store commit",
				"issuer_id", acc.Issuer(),
				"credential_id", d.CredentialID,
				"op", d.Op,
				"error", err,
			)
			return dErrors.Wrap(dErrors.ErrAccumulatorCorrupted, dErrors.CodeAccumulatorCorrupted, "accumulator out of sync, issuer halted")
		}
	}
	return nil
}

func (s *Service) discard(ctx context.Context, acc *accumulator.Accumulator, deltas []accumulator.Delta) {
	ctx = context.WithoutCancel(ctx)
	for _, d := range deltas {
		if err := acc.Discard(ctx, d); err != nil {
			s.logger.ErrorContext(ctx, "failed to discard staged delta",
				"issuer_id", acc.Issuer(),
				"credential_id", d.CredentialID,
				"error", err,
			)
		}
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish event",
			"type", event.Type,
			"key", event.Key,
			"error", err,
		)
	}
}
