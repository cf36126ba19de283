package issuer

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"veritas/internal/credential/models"
	id "veritas/pkg/domain"
	dErrors "veritas/pkg/domain-errors"
)

type RegistrySuite struct {
	suite.Suite
	registry *Registry
	now      time.Time
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	s.registry = NewRegistry(WithClock(func() time.Time { return s.now }))
	_, err := s.registry.AddKey("did:example:i1", "k1", bytes.Repeat([]byte{7}, 32))
	s.Require().NoError(err)
}

func (s *RegistrySuite) credential() models.Credential {
	return models.Credential{
		ID:         "cred_3b1f4a52-0d1c-4d7e-9f6a-6f0f6b9d2a11",
		SubjectID:  "did:example:s1",
		IssuerID:   "did:example:i1",
		SchemaID:   "skill-v1",
		KeyID:      "k1",
		IssuedAt:   s.now,
		Commitment: []byte{1, 2, 3},
	}
}

func (s *RegistrySuite) TestAddKeyRejectsDuplicatesAndBadSeeds() {
	_, err := s.registry.AddKey("did:example:i1", "k1", bytes.Repeat([]byte{8}, 32))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.registry.AddKey("did:example:i1", "k2", []byte{1})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *RegistrySuite) TestSignAndVerify() {
	c := s.credential()
	sig, err := s.registry.SignCredential(c)
	s.Require().NoError(err)
	c.Signature = sig

	s.NoError(s.registry.VerifyCredential(c))
}

func (s *RegistrySuite) TestVerifyDetectsTampering() {
	c := s.credential()
	sig, err := s.registry.SignCredential(c)
	s.Require().NoError(err)
	c.Signature = sig

	tampered := c
	tampered.SubjectID = "did:example:s2"
	s.ErrorIs(s.registry.VerifyCredential(tampered), dErrors.ErrInvalidSignature)

	tampered = c
	tampered.Commitment = []byte{9}
	s.ErrorIs(s.registry.VerifyCredential(tampered), dErrors.ErrInvalidSignature)

	expires := s.now.Add(time.Hour)
	tampered = c
	tampered.ExpiresAt = &expires
	s.ErrorIs(s.registry.VerifyCredential(tampered), dErrors.ErrInvalidSignature)
}

func (s *RegistrySuite) TestRevokedKeyCannotSignOrVouch() {
	c := s.credential()
	sig, err := s.registry.SignCredential(c)
	s.Require().NoError(err)
	c.Signature = sig

	s.Require().NoError(s.registry.RevokeKey("did:example:i1", "k1", s.now))
	s.Require().NoError(s.registry.RevokeKey("did:example:i1", "k1", s.now.Add(time.Hour)))

	_, err = s.registry.SigningKey("did:example:i1", "k1")
	s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)
	s.ErrorIs(s.registry.VerifyCredential(c), dErrors.ErrInvalidSignature)

	keys := s.registry.Keys("did:example:i1")
	s.Require().Len(keys, 1)
	s.Equal(KeyRevoked, keys[0].Status)
	s.Equal(s.now, *keys[0].RevokedAt)
}

func (s *RegistrySuite) TestUnknownIssuerIsUnauthorized() {
	_, err := s.registry.SigningKey("did:example:nobody", "k1")
	s.ErrorIs(err, dErrors.ErrIssuerUnauthorized)
	s.False(s.registry.Known("did:example:nobody"))
}

func (s *RegistrySuite) TestGenerateKeyReturnsReusableSeed() {
	seed, info, err := s.registry.GenerateKey("did:example:i2", "k1")
	s.Require().NoError(err)

	other := NewRegistry()
	again, err := other.AddKey("did:example:i2", "k1", seed)
	s.Require().NoError(err)
	s.Equal(info.PublicKey, again.PublicKey)
	s.Equal([]id.IssuerID{"did:example:i1", "did:example:i2"}, s.registry.Issuers())
}

func TestSigningPayloadSeparatesFields(t *testing.T) {
	a := models.Credential{SchemaID: "ab", SubjectID: "c"}
	b := models.Credential{SchemaID: "a", SubjectID: "bc"}
	assert.NotEqual(t, SigningPayload(a), SigningPayload(b))

	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600))
	c := models.Credential{IssuedAt: issued}
	d := models.Credential{IssuedAt: issued.UTC()}
	require.Equal(t, SigningPayload(c), SigningPayload(d))
}
