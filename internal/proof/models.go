package proof

import (
	"encoding/json"
	"time"

	"veritas/internal/accumulator"
	"veritas/internal/credential/models"
	"veritas/internal/crypto/digest"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

// Request is what a verifier hands the holder: the predicate to prove, the
// oldest epoch it will accept, and a fresh nonce.
type Request struct {
	Predicate       string `json:"predicate"`
	EpochLowerBound uint64 `json:"epoch_lower_bound"`
	Nonce           string `json:"nonce"`
}

// PublicInputs are the values a proof commits to in the clear.
type PublicInputs struct {
	SchemaID      id.SchemaID `json:"schema_id"`
	IssuerID      id.IssuerID `json:"issuer_id"`
	Epoch         uint64      `json:"epoch"`
	PredicateHash string      `json:"predicate_hash"`
	Nonce         string      `json:"nonce"`
}

// Proof is a holder presentation. Blob is opaque outside this package and
// the verification engine.
type Proof struct {
	Blob          []byte       `json:"proof_blob"`
	PublicInputs  PublicInputs `json:"public_inputs"`
	CommitmentRef string       `json:"credential_commitment_ref"`
}

// Binding is the signed, non-claim part of a credential. It travels with the
// proof so the verifier can check the issuer signature over the commitment.
type Binding struct {
	CredentialID id.CredentialID `json:"credential_id"`
	SubjectID    id.SubjectID    `json:"subject_id"`
	KeyID        id.KeyID        `json:"key_id"`
	IssuedAt     time.Time       `json:"issued_at"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Commitment   []byte          `json:"commitment"`
	Signature    []byte          `json:"signature"`
}

// NewBinding extracts the binding from a credential.
func NewBinding(c models.Credential) Binding {
	var expires *time.Time
	if c.ExpiresAt != nil {
		t := c.ExpiresAt.UTC()
		expires = &t
	}
	return Binding{
		CredentialID: c.ID,
		SubjectID:    c.SubjectID,
		KeyID:        c.KeyID,
		IssuedAt:     c.IssuedAt.UTC(),
		ExpiresAt:    expires,
		Commitment:   c.Commitment,
		Signature:    c.Signature,
	}
}

// Credential rebuilds the claim-free credential the signature covers.
func (b Binding) Credential(pi PublicInputs) models.Credential {
	return models.Credential{
		ID:         b.CredentialID,
		SubjectID:  b.SubjectID,
		IssuerID:   pi.IssuerID,
		SchemaID:   pi.SchemaID,
		KeyID:      b.KeyID,
		IssuedAt:   b.IssuedAt,
		ExpiresAt:  b.ExpiresAt,
		Commitment: b.Commitment,
		Signature:  b.Signature,
	}
}

// WitnessData is the wire form of an accumulator witness.
type WitnessData struct {
	Epoch    uint64                 `json:"epoch"`
	Status   accumulator.LeafStatus `json:"status"`
	Bitmap   []byte                 `json:"bitmap"`
	Siblings []string               `json:"siblings"`
}

func NewWitnessData(w accumulator.Witness) WitnessData {
	siblings := make([]string, len(w.Path.Siblings))
	for i, s := range w.Path.Siblings {
		siblings[i] = s.String()
	}
	return WitnessData{
		Epoch:    w.Epoch,
		Status:   w.Status,
		Bitmap:   append([]byte(nil), w.Path.Bitmap[:]...),
		Siblings: siblings,
	}
}

// Witness decodes the wire form for a credential of an issuer.
func (w WitnessData) Witness(issuerID id.IssuerID, credentialID id.CredentialID) (accumulator.Witness, error) {
	out := accumulator.Witness{
		IssuerID:     issuerID,
		CredentialID: credentialID,
		Epoch:        w.Epoch,
		Status:       w.Status,
	}
	if len(w.Bitmap) != len(out.Path.Bitmap) {
		return accumulator.Witness{}, dErrors.New(dErrors.CodeInvalidInput, "witness bitmap has the wrong length")
	}
	copy(out.Path.Bitmap[:], w.Bitmap)
	out.Path.Siblings = make([]digest.Digest, len(w.Siblings))
	for i, s := range w.Siblings {
		d, err := digest.Parse(s)
		if err != nil {
			return accumulator.Witness{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid witness sibling")
		}
		out.Path.Siblings[i] = d
	}
	return out, nil
}

// Envelope is the decoded proof blob.
type Envelope struct {
	System    string      `json:"system"`
	Predicate string      `json:"predicate"`
	Binding   Binding     `json:"credential"`
	Witness   WitnessData `json:"witness"`
	Proof     []byte      `json:"proof"`
}

// Encode serialises the envelope into a proof blob.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEnvelope parses a proof blob.
func DecodeEnvelope(blob []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(blob, &e); err != nil {
		return Envelope{}, dErrors.Wrap(dErrors.ErrInvalidProof, dErrors.CodeInvalidProof, "malformed proof blob")
	}
	return e, nil
}

// StatementContext is the byte string both sides bind into the proof
// system's challenge. It covers every public input and the full binding, so
// a proof only verifies for the nonce, epoch and credential it was made for.
func StatementContext(pi PublicInputs, b Binding, w WitnessData) ([]byte, error) {
	doc := struct {
		PublicInputs PublicInputs `json:"public_inputs"`
		Binding      Binding      `json:"credential"`
		Witness      WitnessData  `json:"witness"`
	}{pi, b, w}
	return json.Marshal(doc)
}
