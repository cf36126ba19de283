package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mr-tron/base58"

	"veritas/internal/credential/models"
	"veritas/internal/issuance"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/platform/middleware/request"
	"veritas/pkg/platform/validation"
)

// Service defines the issuance operations used by the handler.
type Service interface {
	Issue(ctx context.Context, req issuance.IssueRequest) (models.IssuedCredential, error)
	Revoke(ctx context.Context, req issuance.RevokeRequest) (models.Credential, error)
	Get(ctx context.Context, credentialID id.CredentialID) (models.Credential, error)
}

// Handler wires credential endpoints to the issuance service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts credential endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/v1/credentials", h.HandleIssue)
	r.Get("/v1/credentials/{id}", h.HandleGet)
	r.Post("/v1/credentials/{id}/revoke", h.HandleRevoke)
}

// IssueRequest is the request body for credential issuance.
type IssueRequest struct {
	IssuerID   string         `json:"issuer_id"`
	KeyID      string         `json:"key_id"`
	SubjectID  string         `json:"subject_id"`
	SchemaID   string         `json:"schema_id"`
	Claims     map[string]any `json:"claims"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty"`
	Supersedes string         `json:"supersedes,omitempty"`

	parsed issuance.IssueRequest
}

// Validate parses identifiers. Claims are checked against the schema by the
// service.
func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if len(r.Claims) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "claims are required")
	}
	if err := validation.CheckClaims(r.Claims); err != nil {
		return err
	}
	if err := validation.CheckStringLength("subject_id", r.SubjectID, validation.MaxSubjectIDLength); err != nil {
		return err
	}
	issuerID, err := id.ParseIssuerID(r.IssuerID)
	if err != nil {
		return err
	}
	keyID, err := id.ParseKeyID(r.KeyID)
	if err != nil {
		return err
	}
	schemaID, err := id.ParseSchemaID(r.SchemaID)
	if err != nil {
		return err
	}
	var supersedes id.CredentialID
	if r.Supersedes != "" {
		if supersedes, err = id.ParseCredentialID(r.Supersedes); err != nil {
			return err
		}
	}
	r.parsed = issuance.IssueRequest{
		IssuerID:   issuerID,
		KeyID:      keyID,
		SubjectID:  r.SubjectID,
		SchemaID:   schemaID,
		Claims:     r.Claims,
		ExpiresAt:  r.ExpiresAt,
		Supersedes: supersedes,
	}
	return nil
}

// RevokeRequest is the request body for revocation. The credential id comes
// from the path.
type RevokeRequest struct {
	IssuerID string `json:"issuer_id"`
	KeyID    string `json:"key_id"`
	Reason   string `json:"reason,omitempty"`

	issuerID id.IssuerID
	keyID    id.KeyID
	reason   models.RevocationReason
}

func (r *RevokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	var err error
	if r.issuerID, err = id.ParseIssuerID(r.IssuerID); err != nil {
		return err
	}
	if r.keyID, err = id.ParseKeyID(r.KeyID); err != nil {
		return err
	}
	if r.reason, err = models.ParseRevocationReason(r.Reason); err != nil {
		return err
	}
	return nil
}

// CredentialResponse is the public view of a stored credential. Claims are
// not part of it.
type CredentialResponse struct {
	CredentialID     string     `json:"credential_id"`
	IssuerID         string     `json:"issuer_id"`
	SubjectID        string     `json:"subject_id"`
	SchemaID         string     `json:"schema_id"`
	KeyID            string     `json:"key_id"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	CommitmentRef    string     `json:"commitment_ref"`
	Signature        string     `json:"signature"`
	Status           string     `json:"status"`
	Supersedes       string     `json:"supersedes,omitempty"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
	AnchoredEpoch    uint64     `json:"anchored_epoch,omitempty"`
	RevocationEpoch  uint64     `json:"revocation_epoch,omitempty"`
}

// IssueResponse is returned to the issuing caller only. It carries the claims
// and the blinding factor the holder needs to prove.
type IssueResponse struct {
	CredentialResponse
	Claims         map[string]any `json:"claims"`
	BlindingFactor string         `json:"blinding_factor"`
}

func toResponse(c models.Credential) CredentialResponse {
	resp := CredentialResponse{
		CredentialID:    c.ID.String(),
		IssuerID:        c.IssuerID.String(),
		SubjectID:       c.SubjectID.String(),
		SchemaID:        c.SchemaID.String(),
		KeyID:           c.KeyID.String(),
		IssuedAt:        c.IssuedAt.UTC(),
		ExpiresAt:       c.ExpiresAt,
		CommitmentRef:   c.CommitmentRef(),
		Signature:       base58.Encode(c.Signature),
		Status:          string(c.Status),
		Supersedes:      c.Supersedes.String(),
		AnchoredEpoch:   c.AnchoredEpoch,
		RevocationEpoch: c.RevocationEpoch,
	}
	if c.Revocation != nil {
		at := c.Revocation.RevokedAt.UTC()
		resp.RevokedAt = &at
		resp.RevocationReason = string(c.Revocation.Reason)
	}
	return resp
}

// HandleIssue handles POST /v1/credentials.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	issued, err := h.service.Issue(ctx, req.parsed)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to issue credential",
			"request_id", requestID,
			"issuer_id", req.parsed.IssuerID,
			"schema_id", req.parsed.SchemaID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{
		CredentialResponse: toResponse(issued.Credential),
		Claims:             issued.Credential.Claims.Native(),
		BlindingFactor:     base58.Encode(issued.BlindingFactor),
	})
}

// HandleGet handles GET /v1/credentials/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.service.Get(ctx, credentialID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

// HandleRevoke handles POST /v1/credentials/{id}/revoke. Revoking a revoked
// credential returns the existing revocation.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[RevokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	c, err := h.service.Revoke(ctx, issuance.RevokeRequest{
		IssuerID:     req.issuerID,
		KeyID:        req.keyID,
		CredentialID: credentialID,
		Reason:       req.reason,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "failed to revoke credential",
			"request_id", requestID,
			"credential_id", credentialID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}
