package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/proof"
	"veritas/internal/verification"
	id "veritas/pkg/domain"
)

type call struct {
	issuer   id.IssuerID
	schema   id.SchemaID
	minEpoch uint64
	request  *proof.Request
}

type fakeVerifier struct {
	result verification.Result
	calls  []call
}

func (f *fakeVerifier) Verify(_ context.Context, _ proof.Proof, issuerID id.IssuerID, schemaID id.SchemaID, minEpoch uint64) verification.Result {
	f.calls = append(f.calls, call{issuer: issuerID, schema: schemaID, minEpoch: minEpoch})
	return f.result
}

func (f *fakeVerifier) VerifyRequest(_ context.Context, _ proof.Proof, req proof.Request, issuerID id.IssuerID, schemaID id.SchemaID) verification.Result {
	f.calls = append(f.calls, call{issuer: issuerID, schema: schemaID, request: &req})
	return f.result
}

func post(t *testing.T, v Verifier, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := chi.NewRouter()
	New(v, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/verify", &buf))

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec, out
}

func sampleProof() proof.Proof {
	return proof.Proof{
		Blob: []byte(`{"system":"sigma"}`),
		PublicInputs: proof.PublicInputs{
			SchemaID: "skill-v1",
			IssuerID: "did:example:issuer-1",
			Epoch:    3,
		},
		CommitmentRef: "abc",
	}
}

func TestHandleVerify_ValidVerdictCarriesAnchor(t *testing.T) {
	anchoredAt := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	v := &fakeVerifier{result: verification.Result{
		Verdict:       verification.VerdictValid,
		Epoch:         3,
		PredicateHash: "hash",
		Anchor:        &verification.Anchor{LedgerRef: "tx-3", AnchoredAt: anchoredAt},
	}}

	rec, body := post(t, v, map[string]any{
		"proof":     sampleProof(),
		"issuer_id": "did:example:issuer-1",
		"schema_id": "skill-v1",
		"min_epoch": 2,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "valid", body["verdict"])
	assert.Equal(t, "tx-3", body["anchor"].(map[string]any)["ledger_ref"])
	require.Len(t, v.calls, 1)
	assert.Equal(t, uint64(2), v.calls[0].minEpoch)
	assert.Nil(t, v.calls[0].request)
}

func TestHandleVerify_RejectionIsNotAnHTTPError(t *testing.T) {
	v := &fakeVerifier{result: verification.Result{Verdict: verification.VerdictRevokedOrUnknown}}

	rec, body := post(t, v, map[string]any{
		"proof":     sampleProof(),
		"issuer_id": "did:example:issuer-1",
		"schema_id": "skill-v1",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "revoked_or_unknown", body["verdict"])
	assert.NotContains(t, body, "anchor")
	assert.NotContains(t, body, "epoch")
}

func TestHandleVerify_BindsVerifierRequest(t *testing.T) {
	v := &fakeVerifier{result: verification.Result{Verdict: verification.VerdictInvalidProof}}

	rec, _ := post(t, v, map[string]any{
		"proof":     sampleProof(),
		"issuer_id": "did:example:issuer-1",
		"schema_id": "skill-v1",
		"request":   proof.Request{Predicate: "level >= 3", EpochLowerBound: 2, Nonce: "n-1"},
	})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, v.calls, 1)
	require.NotNil(t, v.calls[0].request)
	assert.Equal(t, "n-1", v.calls[0].request.Nonce)
	assert.Equal(t, uint64(2), v.calls[0].request.EpochLowerBound)
}

func TestHandleVerify_MalformedInput(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing proof", map[string]any{"issuer_id": "did:example:issuer-1", "schema_id": "skill-v1"}},
		{"bad issuer", map[string]any{"proof": sampleProof(), "issuer_id": "", "schema_id": "skill-v1"}},
		{"bad schema", map[string]any{"proof": sampleProof(), "issuer_id": "did:example:issuer-1", "schema_id": "no spaces"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &fakeVerifier{}
			rec, body := post(t, v, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "invalid_input", body["error"])
			assert.Empty(t, v.calls)
		})
	}
}
