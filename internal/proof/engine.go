// Package proof is the holder-side proof engine. It turns a credential, its
// blinding factor and a fresh accumulator witness into a presentation that
// proves a predicate over the hidden claims.
package proof

import (
	"context"
	"log/slog"
	"time"

	"veritas/internal/accumulator"
	"veritas/internal/credential/models"
	"veritas/internal/platform/tracer"
	"veritas/internal/proof/predicate"
	"veritas/internal/proof/sigma"
	"veritas/internal/proof/zk"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// SchemaSource resolves credential schemas.
type SchemaSource interface {
	Get(schemaID id.SchemaID) (models.Schema, error)
}

// WitnessSource is read-only access to the issuers' accumulators.
type WitnessSource interface {
	CurrentEpoch(issuer id.IssuerID) uint64
	WitnessFor(issuer id.IssuerID, credentialID id.CredentialID, epoch uint64) (accumulator.Witness, error)
}

// Engine produces proofs. It holds no mutable state, so concurrent calls
// need no locking.
type Engine struct {
	schemas   SchemaSource
	witnesses WitnessSource
	system    zk.System
	tracer    tracer.Tracer
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
}

type Option func(*Engine)

// WithSystem swaps the proof system. The default is the sigma system.
func WithSystem(s zk.System) Option {
	return func(e *Engine) {
		e.system = s
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(schemas SchemaSource, witnesses WitnessSource, opts ...Option) *Engine {
	e := &Engine{
		schemas:   schemas,
		witnesses: witnesses,
		system:    sigma.New(),
		tracer:    tracer.NewNoop(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WitnessFor fetches the current witness for a credential.
func (e *Engine) WitnessFor(issuer id.IssuerID, credentialID id.CredentialID) (accumulator.Witness, error) {
	return e.witnesses.WitnessFor(issuer, credentialID, 0)
}

// Prove builds a proof that credential satisfies the predicate and is an
// unrevoked member of its issuer's accumulator at the witness epoch.
//
// Errors, in the order they are checked:
//   - SchemaViolation: unknown schema or a predicate that does not fit it
//   - PredicateUnsatisfied: the claims do not satisfy the predicate
//   - StaleWitness: a newer epoch has been published since the witness
//   - RevokedOrUnknown: the witness is a non-membership witness
//
// No proof material is produced before all of these pass. Cancelling ctx
// aborts between stages without side effects.
func (e *Engine) Prove(ctx context.Context, credential models.Credential, blinding []byte, pred string, witness accumulator.Witness, nonce string) (Proof, error) {
	ctx, span := e.tracer.Start(ctx, tracer.SpanProve,
		tracer.String(tracer.AttrIssuer, credential.IssuerID.String()),
		tracer.String(tracer.AttrSchema, credential.SchemaID.String()),
		tracer.Int64(tracer.AttrEpoch, int64(witness.Epoch)),
	)
	start := e.now()
	p, err := e.prove(ctx, credential, blinding, pred, witness, nonce)
	span.End(err)
	e.metrics.observe(err, e.now().Sub(start))
	if err != nil {
		e.logger.InfoContext(ctx, "proof not produced",
			"issuer_id", credential.IssuerID,
			"schema_id", credential.SchemaID,
			"code", dErrors.CodeOf(err),
		)
	}
	return p, err
}

func (e *Engine) prove(ctx context.Context, credential models.Credential, blinding []byte, pred string, witness accumulator.Witness, nonce string) (Proof, error) {
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}
	if nonce == "" {
		return Proof{}, dErrors.New(dErrors.CodeInvalidInput, "nonce is required")
	}
	schema, err := e.schemas.Get(credential.SchemaID)
	if err != nil {
		return Proof{}, dErrors.Wrap(dErrors.ErrSchemaViolation, dErrors.CodeSchemaViolation, "unknown schema: "+credential.SchemaID.String())
	}
	p, err := predicate.Parse(pred)
	if err != nil {
		return Proof{}, err
	}
	if err := p.Check(schema); err != nil {
		return Proof{}, err
	}
	if !p.Evaluate(credential.Claims) {
		return Proof{}, dErrors.Wrap(dErrors.ErrPredicateUnsatisfied, dErrors.CodePredicateUnsatisfied, "claims do not satisfy predicate")
	}

	if witness.IssuerID != credential.IssuerID || witness.CredentialID != credential.ID {
		return Proof{}, dErrors.New(dErrors.CodeInvalidInput, "witness belongs to a different credential")
	}
	if current := e.witnesses.CurrentEpoch(credential.IssuerID); witness.Epoch < current {
		return Proof{}, dErrors.Wrap(dErrors.ErrStaleWitness, dErrors.CodeStaleWitness, "witness predates the current accumulator epoch")
	}
	if !witness.Member() {
		return Proof{}, dErrors.Wrap(dErrors.ErrRevokedOrUnknown, dErrors.CodeRevokedOrUnknown, "credential is not an active accumulator member")
	}
	if credential.Expired(e.now()) {
		return Proof{}, dErrors.New(dErrors.CodeBadRequest, "credential has expired")
	}
	if err := ctx.Err(); err != nil {
		return Proof{}, err
	}

	pi := PublicInputs{
		SchemaID:      credential.SchemaID,
		IssuerID:      credential.IssuerID,
		Epoch:         witness.Epoch,
		PredicateHash: p.Hash(),
		Nonce:         nonce,
	}
	binding := NewBinding(credential)
	wd := NewWitnessData(witness)
	stmtCtx, err := StatementContext(pi, binding, wd)
	if err != nil {
		return Proof{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode statement")
	}

	sysCtx, span := e.tracer.Start(ctx, tracer.SpanProveSigma,
		tracer.String(tracer.AttrProofSystem, e.system.Name()),
		tracer.Int64(tracer.AttrAtoms, int64(len(p.Atoms))),
	)
	raw, err := e.system.Prove(sysCtx, zk.Statement{
		Schema:     schema,
		Commitment: credential.Commitment,
		Predicate:  p,
		Context:    stmtCtx,
	}, zk.Opening{Claims: credential.Claims, Blinding: blinding})
	span.End(err)
	if err != nil {
		return Proof{}, err
	}

	blob, err := Envelope{
		System:    e.system.Name(),
		Predicate: p.Canonical(),
		Binding:   binding,
		Witness:   wd,
		Proof:     raw,
	}.Encode()
	if err != nil {
		return Proof{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode proof")
	}
	return Proof{
		Blob:          blob,
		PublicInputs:  pi,
		CommitmentRef: credential.CommitmentRef(),
	}, nil
}
