package issuer

import (
	"crypto/ed25519"
	"encoding/binary"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"veritas/internal/credential/models"
	dErrors "veritas/pkg/domain-errors"
)

const signatureDomain = "veritas/credential-signature/v1"

// SigningPayload is the canonical byte string an issuer signs. Every field is
// length-prefixed so no two credentials share a payload.
func SigningPayload(c models.Credential) []byte {
	expires := ""
	if c.ExpiresAt != nil {
		expires = c.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	var out []byte
	for _, part := range [][]byte{
		[]byte(signatureDomain),
		c.Commitment,
		[]byte(c.SchemaID),
		[]byte(c.SubjectID),
		[]byte(c.IssuedAt.UTC().Format(time.RFC3339Nano)),
		[]byte(expires),
		[]byte(c.IssuerID),
		[]byte(c.KeyID),
		[]byte(c.ID),
	} {
		out = binary.BigEndian.AppendUint32(out, uint32(len(part)))
		out = append(out, part...)
	}
	return out
}

// Sign signs the credential's payload with EdDSA.
func Sign(priv ed25519.PrivateKey, c models.Credential) ([]byte, error) {
	sig, err := jwt.SigningMethodEdDSA.Sign(string(SigningPayload(c)), priv)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign credential")
	}
	return sig, nil
}

// Verify checks a signature over the credential's payload.
func Verify(pub ed25519.PublicKey, c models.Credential, sig []byte) error {
	if err := jwt.SigningMethodEdDSA.Verify(string(SigningPayload(c)), sig, pub); err != nil {
		return dErrors.Wrap(dErrors.ErrInvalidSignature, dErrors.CodeInvalidSignature, "credential signature does not verify")
	}
	return nil
}

// SignCredential signs with the credential's own issuer and key id.
func (r *Registry) SignCredential(c models.Credential) ([]byte, error) {
	priv, err := r.SigningKey(c.IssuerID, c.KeyID)
	if err != nil {
		return nil, err
	}
	return Sign(priv, c)
}

// VerifyCredential checks c.Signature against the issuer's current key.
func (r *Registry) VerifyCredential(c models.Credential) error {
	pub, err := r.VerificationKey(c.IssuerID, c.KeyID)
	if err != nil {
		return err
	}
	return Verify(pub, c, c.Signature)
}
