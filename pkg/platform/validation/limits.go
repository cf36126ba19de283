package validation

import (
	"fmt"

	dErrors "veritas/pkg/domain-errors"
)

// Slice element count limits
const (
	// MaxClaims is the maximum number of claims in one credential.
	MaxClaims = 64
)

// String element length limits
const (
	// MaxSubjectIDLength is the maximum length of a holder subject id.
	MaxSubjectIDLength = 256

	// MaxClaimNameLength is the maximum length of a claim name.
	MaxClaimNameLength = 100

	// MaxClaimValueLength is the maximum length of a string claim value.
	MaxClaimValueLength = 1024

	// MaxNonceLength is the maximum length of a verifier nonce.
	MaxNonceLength = 256
)

// CheckSliceCount validates that a collection does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("too many %s: max %d allowed", fieldName, max))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s exceeds max length of %d", fieldName, max))
	}
	return nil
}

// CheckClaims bounds the raw claim map before it reaches schema conformance.
func CheckClaims(claims map[string]any) error {
	if err := CheckSliceCount("claims", len(claims), MaxClaims); err != nil {
		return err
	}
	for name, v := range claims {
		if err := CheckStringLength("claim name", name, MaxClaimNameLength); err != nil {
			return err
		}
		if s, ok := v.(string); ok {
			if err := CheckStringLength("claim "+name, s, MaxClaimValueLength); err != nil {
				return err
			}
		}
	}
	return nil
}
