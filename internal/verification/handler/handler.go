package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"veritas/internal/proof"
	"veritas/internal/verification"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/platform/middleware/request"
)

// Verifier checks presentations.
type Verifier interface {
	Verify(ctx context.Context, p proof.Proof, issuerID id.IssuerID, schemaID id.SchemaID, minEpoch uint64) verification.Result
	VerifyRequest(ctx context.Context, p proof.Proof, req proof.Request, issuerID id.IssuerID, schemaID id.SchemaID) verification.Result
}

type Handler struct {
	verifier Verifier
	logger   *slog.Logger
}

func New(verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{verifier: verifier, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/verify", h.HandleVerify)
}

// VerifyRequest is the request body for POST /v1/verify. When Request is
// present its nonce and predicate must match the proof, and its epoch lower
// bound replaces MinEpoch.
type VerifyRequest struct {
	Proof    proof.Proof    `json:"proof"`
	IssuerID string         `json:"issuer_id"`
	SchemaID string         `json:"schema_id"`
	MinEpoch uint64         `json:"min_epoch"`
	Request  *proof.Request `json:"request,omitempty"`

	issuerID id.IssuerID
	schemaID id.SchemaID
}

func (r *VerifyRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Proof.Blob) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "proof is required")
	}
	var err error
	if r.issuerID, err = id.ParseIssuerID(r.IssuerID); err != nil {
		return err
	}
	if r.schemaID, err = id.ParseSchemaID(r.SchemaID); err != nil {
		return err
	}
	return nil
}

type AnchorResponse struct {
	LedgerRef  string    `json:"ledger_ref"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// VerifyResponse always answers 200; a rejected proof is a verdict, not an
// error.
type VerifyResponse struct {
	Valid         bool            `json:"valid"`
	Verdict       string          `json:"verdict"`
	Epoch         uint64          `json:"epoch,omitempty"`
	PredicateHash string          `json:"predicate_hash,omitempty"`
	Anchor        *AnchorResponse `json:"anchor,omitempty"`
}

// HandleVerify handles POST /v1/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var res verification.Result
	if req.Request != nil {
		res = h.verifier.VerifyRequest(ctx, req.Proof, *req.Request, req.issuerID, req.schemaID)
	} else {
		res = h.verifier.Verify(ctx, req.Proof, req.issuerID, req.schemaID, req.MinEpoch)
	}

	resp := VerifyResponse{
		Valid:   res.Valid(),
		Verdict: string(res.Verdict),
	}
	if res.Valid() {
		resp.Epoch = res.Epoch
		resp.PredicateHash = res.PredicateHash
		resp.Anchor = &AnchorResponse{
			LedgerRef:  res.Anchor.LedgerRef,
			AnchoredAt: res.Anchor.AnchoredAt.UTC(),
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
