package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	dErrors "veritas/pkg/domain-errors"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, response any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Errors after WriteHeader cannot change the status code.
	_ = json.NewEncoder(w).Encode(response)
}

// WriteError translates domain errors into HTTP status codes and error
// bodies. Internal failures never expose their message.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) || domainErr.Code == dErrors.CodeInternal {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: string(dErrors.CodeInternal)})
		return
	}
	WriteJSON(w, DomainCodeToHTTPStatus(domainErr.Code), ErrorResponse{
		Error:       string(domainErr.Code),
		Description: domainErr.Message,
	})
}

// DomainCodeToHTTPStatus translates domain error codes to HTTP status codes.
func DomainCodeToHTTPStatus(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput, dErrors.CodeInvariantViolation:
		return http.StatusBadRequest
	case dErrors.CodeSchemaViolation, dErrors.CodePredicateUnsatisfied:
		return http.StatusUnprocessableEntity
	case dErrors.CodeConflict, dErrors.CodeDuplicateID, dErrors.CodeStaleWitness:
		return http.StatusConflict
	case dErrors.CodeIssuerUnauthorized:
		return http.StatusForbidden
	case dErrors.CodeEpochTooOld:
		return http.StatusGone
	case dErrors.CodeStaleEpoch, dErrors.CodeInvalidProof, dErrors.CodeInvalidSignature, dErrors.CodeRevokedOrUnknown:
		return http.StatusUnprocessableEntity
	case dErrors.CodeTimeout, dErrors.CodeLedgerTimeout:
		return http.StatusGatewayTimeout
	case dErrors.CodeUnavailable, dErrors.CodeAccumulatorCorrupted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
