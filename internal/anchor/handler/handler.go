// Package handler serves the read side of anchoring: confirmed anchor
// records and accumulator witnesses. Both are public data.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"veritas/internal/accumulator"
	"veritas/internal/anchor/models"
	"veritas/internal/proof"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
)

// RecordReader reads confirmed anchor records.
type RecordReader interface {
	Get(ctx context.Context, issuerID id.IssuerID, epoch uint64) (models.AnchorRecord, error)
	Latest(ctx context.Context, issuerID id.IssuerID) (models.AnchorRecord, error)
}

// WitnessSource serves witnesses. Epoch 0 means the issuer's current epoch.
type WitnessSource interface {
	WitnessFor(issuer id.IssuerID, credentialID id.CredentialID, epoch uint64) (accumulator.Witness, error)
}

type Handler struct {
	records   RecordReader
	witnesses WitnessSource
	logger    *slog.Logger
}

func New(records RecordReader, witnesses WitnessSource, logger *slog.Logger) *Handler {
	return &Handler{records: records, witnesses: witnesses, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/issuers/{issuer}/witness/{id}", h.HandleWitness)
	r.Get("/v1/issuers/{issuer}/anchors/{epoch}", h.HandleAnchor)
}

// WitnessResponse carries the witness in the same wire form a proof embeds.
type WitnessResponse struct {
	IssuerID     string            `json:"issuer_id"`
	CredentialID string            `json:"credential_id"`
	Epoch        uint64            `json:"epoch"`
	Root         string            `json:"accumulator_root"`
	Member       bool              `json:"member"`
	Witness      proof.WitnessData `json:"witness"`
}

type AnchorResponse struct {
	IssuerID        string    `json:"issuer_id"`
	Epoch           uint64    `json:"epoch"`
	Digest          string    `json:"digest"`
	BatchRoot       string    `json:"batch_root"`
	AccumulatorRoot string    `json:"accumulator_root"`
	LedgerRef       string    `json:"ledger_ref"`
	AnchoredAt      time.Time `json:"anchored_at"`
}

// HandleWitness handles GET /v1/issuers/{issuer}/witness/{id}. The optional
// epoch query parameter selects a retained older epoch.
func (h *Handler) HandleWitness(w http.ResponseWriter, r *http.Request) {
	issuerID, err := id.ParseIssuerID(chi.URLParam(r, "issuer"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	credentialID, err := id.ParseCredentialID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var epoch uint64
	if raw := r.URL.Query().Get("epoch"); raw != "" {
		if epoch, err = parseEpoch(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	wit, err := h.witnesses.WitnessFor(issuerID, credentialID, epoch)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, WitnessResponse{
		IssuerID:     issuerID.String(),
		CredentialID: credentialID.String(),
		Epoch:        wit.Epoch,
		Root:         wit.Root.String(),
		Member:       wit.Member(),
		Witness:      proof.NewWitnessData(wit),
	})
}

// HandleAnchor handles GET /v1/issuers/{issuer}/anchors/{epoch}. The epoch
// may be "latest".
func (h *Handler) HandleAnchor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issuerID, err := id.ParseIssuerID(chi.URLParam(r, "issuer"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var record models.AnchorRecord
	if raw := chi.URLParam(r, "epoch"); raw == "latest" {
		record, err = h.records.Latest(ctx, issuerID)
	} else {
		var epoch uint64
		if epoch, err = parseEpoch(raw); err != nil {
			httputil.WriteError(w, err)
			return
		}
		record, err = h.records.Get(ctx, issuerID, epoch)
	}
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "anchor record lookup failed", "issuer_id", issuerID, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, AnchorResponse{
		IssuerID:        record.IssuerID.String(),
		Epoch:           record.Epoch,
		Digest:          record.Digest.String(),
		BatchRoot:       record.BatchRoot.String(),
		AccumulatorRoot: record.AccumulatorRoot.String(),
		LedgerRef:       record.LedgerRef,
		AnchoredAt:      record.AnchoredAt.UTC(),
	})
}

func parseEpoch(raw string) (uint64, error) {
	epoch, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || epoch == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "epoch must be a positive integer")
	}
	return epoch, nil
}
