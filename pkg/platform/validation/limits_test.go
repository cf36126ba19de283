package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "veritas/pkg/domain-errors"
)

// LimitsSuite covers the request size limits. Max must pass and max+1 must
// fail.
type LimitsSuite struct {
	suite.Suite
}

func TestLimitsSuite(t *testing.T) {
	suite.Run(t, new(LimitsSuite))
}

func (s *LimitsSuite) TestCheckSliceCount() {
	s.Run("passes when count equals max", func() {
		s.NoError(CheckSliceCount("claims", 64, 64))
	})

	s.Run("passes when count is zero", func() {
		s.NoError(CheckSliceCount("claims", 0, 64))
	})

	s.Run("fails when count exceeds max", func() {
		err := CheckSliceCount("claims", 65, 64)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Contains(err.Error(), "too many claims")
		s.Contains(err.Error(), "max 64 allowed")
	})
}

func (s *LimitsSuite) TestCheckStringLength() {
	s.Run("passes when length equals max", func() {
		s.NoError(CheckStringLength("nonce", strings.Repeat("a", 256), 256))
	})

	s.Run("fails when length exceeds max", func() {
		err := CheckStringLength("nonce", strings.Repeat("a", 257), 256)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		s.Contains(err.Error(), "nonce exceeds max length of 256")
	})
}

func (s *LimitsSuite) TestCheckClaims() {
	s.Run("accepts typical claims", func() {
		s.NoError(CheckClaims(map[string]any{"level": 4, "category": "go", "verified": true}))
	})

	s.Run("rejects too many claims", func() {
		claims := make(map[string]any, MaxClaims+1)
		for i := 0; i <= MaxClaims; i++ {
			claims[strings.Repeat("c", i+1)] = i
		}
		s.Error(CheckClaims(claims))
	})

	s.Run("rejects long claim names", func() {
		s.Error(CheckClaims(map[string]any{strings.Repeat("n", MaxClaimNameLength+1): 1}))
	})

	s.Run("rejects long string values", func() {
		err := CheckClaims(map[string]any{"category": strings.Repeat("v", MaxClaimValueLength+1)})
		s.Require().Error(err)
		s.Contains(err.Error(), "claim category")
	})

	s.Run("ignores length of non-string values", func() {
		s.NoError(CheckClaims(map[string]any{"level": 123456789}))
	})
}
