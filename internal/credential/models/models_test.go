package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "veritas/pkg/domain-errors"
)

func TestParseRevocationReason(t *testing.T) {
	r, err := ParseRevocationReason("")
	require.NoError(t, err)
	assert.Equal(t, ReasonUnspecified, r)

	r, err = ParseRevocationReason("superseded")
	require.NoError(t, err)
	assert.Equal(t, ReasonSuperseded, r)

	_, err = ParseRevocationReason("because")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestValueLiteral(t *testing.T) {
	assert.Equal(t, "4", IntValue(4).Literal())
	assert.Equal(t, "true", BoolValue(true).Literal())
	assert.Equal(t, `"Cognitive"`, StringValue("Cognitive").Literal())
}

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Credential{}
	assert.False(t, c.Expired(now))

	past := now.Add(-time.Second)
	c.ExpiresAt = &past
	assert.True(t, c.Expired(now))

	future := now.Add(time.Hour)
	c.ExpiresAt = &future
	assert.False(t, c.Expired(now))
}

func TestSchemaAttributeLookup(t *testing.T) {
	s := Schema{ID: "skill", Attributes: []Attribute{{Name: "category", Type: AttributeString}, {Name: "level", Type: AttributeInteger}}}
	a, ok := s.Attribute("level")
	require.True(t, ok)
	assert.Equal(t, AttributeInteger, a.Type)
	_, ok = s.Attribute("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"category", "level"}, s.Names())
}
