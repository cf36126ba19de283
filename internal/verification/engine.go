// Package verification checks holder presentations against anchored state.
// It is stateless and read-only, so one Engine serves any number of
// concurrent callers.
package verification

import (
	"context"
	"errors"
	"log/slog"
	"time"

	anchormodels "veritas/internal/anchor/models"
	"veritas/internal/audit"
	credmodels "veritas/internal/credential/models"
	"veritas/internal/platform/tracer"
	"veritas/internal/proof"
	"veritas/internal/proof/predicate"
	"veritas/internal/proof/sigma"
	"veritas/internal/proof/zk"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/middleware/request"
)

// AnchorSource reads confirmed anchor records.
type AnchorSource interface {
	Get(ctx context.Context, issuerID id.IssuerID, epoch uint64) (anchormodels.AnchorRecord, error)
}

// SignatureVerifier checks an issuer signature against the issuer's active keys.
type SignatureVerifier interface {
	VerifyCredential(c credmodels.Credential) error
}

type SchemaSource interface {
	Get(schemaID id.SchemaID) (credmodels.Schema, error)
}

// Auditor receives one record per verification.
type Auditor interface {
	Emit(ctx context.Context, record audit.Record) error
}

type Engine struct {
	anchors    AnchorSource
	signatures SignatureVerifier
	schemas    SchemaSource
	systems    *zk.Registry
	auditor    Auditor
	tracer     tracer.Tracer
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Engine)

// WithSystems replaces the accepted proof systems. The default accepts the
// sigma system only.
func WithSystems(r *zk.Registry) Option {
	return func(e *Engine) {
		e.systems = r
	}
}

func WithAuditor(a Auditor) Option {
	return func(e *Engine) {
		e.auditor = a
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(anchors AnchorSource, signatures SignatureVerifier, schemas SchemaSource, opts ...Option) *Engine {
	e := &Engine{
		anchors:    anchors,
		signatures: signatures,
		schemas:    schemas,
		systems:    zk.NewRegistry(sigma.New()),
		tracer:     tracer.NewNoop(),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Verify checks p for the expected issuer and schema at an epoch no older
// than minEpoch. Checks run cheapest first: issuer and schema, epoch
// freshness, a confirmed anchor for the epoch, then signature, accumulator
// path and the zero-knowledge proof. It never returns an error; every
// failure is a verdict.
func (e *Engine) Verify(ctx context.Context, p proof.Proof, issuerID id.IssuerID, schemaID id.SchemaID, minEpoch uint64) Result {
	ctx, span := e.tracer.Start(ctx, tracer.SpanVerify,
		tracer.String(tracer.AttrIssuer, issuerID.String()),
		tracer.String(tracer.AttrSchema, schemaID.String()),
		tracer.Int64(tracer.AttrEpoch, int64(p.PublicInputs.Epoch)),
	)
	start := e.now()
	res, disclosed := e.verify(ctx, p, issuerID, schemaID, minEpoch)
	span.SetAttributes(tracer.String(tracer.AttrVerdict, string(res.Verdict)))
	span.End(nil)
	e.metrics.observe(res.Verdict, e.now().Sub(start))
	e.record(ctx, p.PublicInputs, disclosed, res)
	return res
}

// VerifyRequest verifies a presentation made for req: the nonce must match
// and the proven predicate must be the one requested. The request's epoch
// lower bound is the freshness requirement.
func (e *Engine) VerifyRequest(ctx context.Context, p proof.Proof, req proof.Request, issuerID id.IssuerID, schemaID id.SchemaID) Result {
	if req.Nonce == "" || p.PublicInputs.Nonce != req.Nonce {
		res := reject(VerdictInvalidProof, "nonce does not match the request")
		e.finishEarly(ctx, p.PublicInputs, res)
		return res
	}
	requested, err := predicate.Parse(req.Predicate)
	if err != nil || requested.Hash() != p.PublicInputs.PredicateHash {
		res := reject(VerdictInvalidProof, "proof is for a different predicate")
		e.finishEarly(ctx, p.PublicInputs, res)
		return res
	}
	return e.Verify(ctx, p, issuerID, schemaID, req.EpochLowerBound)
}

func (e *Engine) finishEarly(ctx context.Context, pi proof.PublicInputs, res Result) {
	e.metrics.observe(res.Verdict, 0)
	e.record(ctx, pi, "", res)
}

func (e *Engine) verify(ctx context.Context, p proof.Proof, issuerID id.IssuerID, schemaID id.SchemaID, minEpoch uint64) (Result, string) {
	pi := p.PublicInputs
	if pi.IssuerID != issuerID || pi.SchemaID != schemaID {
		return reject(VerdictIssuerMismatch, "public inputs name a different issuer or schema"), ""
	}
	if pi.Epoch < minEpoch {
		return reject(VerdictStaleEpoch, "proof epoch is older than required"), ""
	}
	record, err := e.anchors.Get(ctx, pi.IssuerID, pi.Epoch)
	if err != nil {
		if !errors.Is(err, dErrors.ErrNotFound) {
			e.logger.ErrorContext(ctx, "anchor lookup failed", "issuer_id", pi.IssuerID, "epoch", pi.Epoch, "error", err)
		}
		return reject(VerdictInvalidProof, "epoch has no confirmed anchor"), ""
	}

	env, err := proof.DecodeEnvelope(p.Blob)
	if err != nil {
		return reject(VerdictInvalidProof, "malformed proof blob"), ""
	}
	pred, err := predicate.Parse(env.Predicate)
	if err != nil || pred.Canonical() != env.Predicate || pred.Hash() != pi.PredicateHash {
		return reject(VerdictInvalidProof, "predicate does not match its hash"), ""
	}
	disclosed := pred.Canonical()
	schema, err := e.schemas.Get(pi.SchemaID)
	if err != nil {
		return reject(VerdictInvalidProof, "unknown schema"), disclosed
	}
	if err := pred.Check(schema); err != nil {
		return reject(VerdictInvalidProof, "predicate does not fit the schema"), disclosed
	}
	if p.CommitmentRef != credmodels.CommitmentRef(env.Binding.Commitment) {
		return reject(VerdictInvalidProof, "commitment reference mismatch"), disclosed
	}
	if env.Binding.ExpiresAt != nil && !e.now().Before(*env.Binding.ExpiresAt) {
		return reject(VerdictInvalidProof, "credential expired"), disclosed
	}

	if err := e.signatures.VerifyCredential(env.Binding.Credential(pi)); err != nil {
		return reject(VerdictInvalidSignature, "issuer signature does not verify"), disclosed
	}

	if env.Witness.Epoch != pi.Epoch {
		return reject(VerdictInvalidProof, "witness epoch differs from the public epoch"), disclosed
	}
	w, err := env.Witness.Witness(pi.IssuerID, env.Binding.CredentialID)
	if err != nil || !w.Verify(record.AccumulatorRoot) {
		return reject(VerdictInvalidProof, "witness does not match the anchored accumulator root"), disclosed
	}
	if !w.Member() {
		return reject(VerdictRevokedOrUnknown, "credential is not an active member at the epoch"), disclosed
	}

	system, ok := e.systems.Lookup(env.System)
	if !ok {
		return reject(VerdictInvalidProof, "unsupported proof system"), disclosed
	}
	stmtCtx, err := proof.StatementContext(pi, env.Binding, env.Witness)
	if err != nil {
		return reject(VerdictInvalidProof, "statement encoding failed"), disclosed
	}
	sysCtx, span := e.tracer.Start(ctx, tracer.SpanVerifySigma,
		tracer.String(tracer.AttrProofSystem, system.Name()),
		tracer.Int64(tracer.AttrAtoms, int64(len(pred.Atoms))),
	)
	err = system.Verify(sysCtx, zk.Statement{
		Schema:     schema,
		Commitment: env.Binding.Commitment,
		Predicate:  pred,
		Context:    stmtCtx,
	}, env.Proof)
	span.End(err)
	if err != nil {
		return reject(VerdictInvalidProof, "proof does not verify"), disclosed
	}

	return Result{
		Verdict:       VerdictValid,
		Epoch:         pi.Epoch,
		PredicateHash: pi.PredicateHash,
		Anchor: &Anchor{
			LedgerRef:  record.LedgerRef,
			AnchoredAt: record.AnchoredAt,
		},
	}, disclosed
}

// record writes the audit trail and log line. Only the verdict and the
// disclosed predicate are kept.
func (e *Engine) record(ctx context.Context, pi proof.PublicInputs, disclosed string, res Result) {
	if res.Valid() {
		e.logger.InfoContext(ctx, "proof verified",
			"issuer_id", pi.IssuerID,
			"schema_id", pi.SchemaID,
			"epoch", pi.Epoch,
			"predicate", disclosed,
		)
	} else {
		e.logger.InfoContext(ctx, "proof rejected",
			"issuer_id", pi.IssuerID,
			"schema_id", pi.SchemaID,
			"epoch", pi.Epoch,
			"verdict", res.Verdict,
			"detail", res.detail,
		)
	}
	if e.auditor == nil {
		return
	}
	err := e.auditor.Emit(ctx, audit.Record{
		IssuerID:      pi.IssuerID,
		SchemaID:      pi.SchemaID,
		Epoch:         pi.Epoch,
		Predicate:     disclosed,
		PredicateHash: pi.PredicateHash,
		Verdict:       string(res.Verdict),
		RequestID:     request.GetRequestID(ctx),
		RecordedAt:    e.now().UTC(),
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to record verification audit",
			"issuer_id", pi.IssuerID,
			"verdict", res.Verdict,
			"error", err,
		)
	}
}
