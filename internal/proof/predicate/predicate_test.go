package predicate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veritas/internal/credential/models"
	dErrors "veritas/pkg/domain-errors"
)

var skillSchema = models.Schema{
	ID: "skill-v1",
	Attributes: []models.Attribute{
		{Name: "category", Type: models.AttributeString},
		{Name: "level", Type: models.AttributeInteger},
		{Name: "verified", Type: models.AttributeBool},
	},
}

func TestParseCanonicalisesAtoms(t *testing.T) {
	a, err := Parse(`level >= 3 AND category == "Cognitive"`)
	require.NoError(t, err)
	b, err := Parse(`category=="Cognitive"   AND level>=3 AND level >= 3`)
	require.NoError(t, err)

	assert.Equal(t, `category == "Cognitive" AND level >= 3`, a.Canonical())
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Len(t, b.Atoms, 2)
}

func TestCanonicalFormReparses(t *testing.T) {
	p, err := Parse(`category == "say \"hi\"" AND verified == true AND level < 10`)
	require.NoError(t, err)

	again, err := Parse(p.Canonical())
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestParseRejectsUnsupportedSyntax(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"or", "level >= 3 OR level < 1"},
		{"lowercase or", "level >= 3 or level < 1"},
		{"not equal", "level != 3"},
		{"nesting", "(level >= 3)"},
		{"single equals", "level = 3"},
		{"negative literal", "level > -1"},
		{"trailing and", "level >= 3 AND"},
		{"missing literal", "level >="},
		{"bare identifier literal", "category == Cognitive"},
		{"unterminated string", `category == "Cog`},
		{"literal too large", "level < 4294967296"},
		{"keyword as attribute", "AND == 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, dErrors.ErrSchemaViolation)
		})
	}
}

func TestEvaluate(t *testing.T) {
	claims := models.Claims{
		"category": models.StringValue("Cognitive"),
		"level":    models.IntValue(4),
		"verified": models.BoolValue(true),
	}
	tests := []struct {
		input string
		want  bool
	}{
		{"level >= 3", true},
		{"level >= 4", true},
		{"level > 4", false},
		{"level <= 4", true},
		{"level < 4", false},
		{`level >= 3 AND category == "Cognitive"`, true},
		{`level >= 3 AND category == "Social"`, false},
		{"verified == true", true},
		{"verified == false", false},
		{"missing == 1", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Evaluate(claims))
		})
	}
}

func TestCheckAgainstSchema(t *testing.T) {
	ok, err := Parse(`level > 2 AND verified == true`)
	require.NoError(t, err)
	assert.NoError(t, ok.Check(skillSchema))

	for _, input := range []string{
		"unknown == 1",
		`level == "four"`,
		`category >= "A"`,
		"verified < 1",
		"level == 3 AND level == 4",
	} {
		p, err := Parse(input)
		require.NoError(t, err, input)
		assert.ErrorIs(t, p.Check(skillSchema), dErrors.ErrSchemaViolation, input)
	}
}

func TestEqualities(t *testing.T) {
	p, err := Parse(`category == "Cognitive" AND level >= 3`)
	require.NoError(t, err)

	eq, err := p.Equalities()
	require.NoError(t, err)
	assert.Equal(t, map[string]models.Value{"category": models.StringValue("Cognitive")}, eq)
}
