package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"veritas/internal/accumulator"
	"veritas/internal/credential/models"
	"veritas/internal/proof"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/platform/middleware/request"
	"veritas/pkg/platform/validation"
)

// Prover builds presentations.
type Prover interface {
	WitnessFor(issuer id.IssuerID, credentialID id.CredentialID) (accumulator.Witness, error)
	Prove(ctx context.Context, credential models.Credential, blinding []byte, pred string, witness accumulator.Witness, nonce string) (proof.Proof, error)
}

// CredentialSource reads stored credentials.
type CredentialSource interface {
	Get(ctx context.Context, credentialID id.CredentialID) (models.Credential, error)
}

// Handler proves on behalf of a holder who presents the blinding factor
// returned at issuance. Without it no proof can be built.
type Handler struct {
	prover      Prover
	credentials CredentialSource
	logger      *slog.Logger
}

func New(prover Prover, credentials CredentialSource, logger *slog.Logger) *Handler {
	return &Handler{prover: prover, credentials: credentials, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/proofs", h.HandleProve)
}

// ProveRequest is the request body for POST /v1/proofs.
type ProveRequest struct {
	CredentialID   string `json:"credential_id"`
	BlindingFactor string `json:"blinding_factor"`
	Predicate      string `json:"predicate"`
	Nonce          string `json:"nonce"`

	credentialID id.CredentialID
	blinding     []byte
}

func (r *ProveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if r.Predicate == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "predicate is required")
	}
	if r.Nonce == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "nonce is required")
	}
	if err := validation.CheckStringLength("nonce", r.Nonce, validation.MaxNonceLength); err != nil {
		return err
	}
	var err error
	if r.credentialID, err = id.ParseCredentialID(r.CredentialID); err != nil {
		return err
	}
	if r.blinding, err = base58.Decode(r.BlindingFactor); err != nil || len(r.blinding) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "blinding_factor must be base58")
	}
	return nil
}

// HandleProve handles POST /v1/proofs. The witness is always the current
// one; older witnesses are stale by definition.
func (h *Handler) HandleProve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[ProveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	credential, err := h.credentials.Get(ctx, req.credentialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	witness, err := h.prover.WitnessFor(credential.IssuerID, credential.ID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.prover.Prove(ctx, credential, req.blinding, req.Predicate, witness, req.Nonce)
	if err != nil {
		h.logger.InfoContext(ctx, "proof request refused",
			"request_id", requestID,
			"issuer_id", credential.IssuerID,
			"code", dErrors.CodeOf(err),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
