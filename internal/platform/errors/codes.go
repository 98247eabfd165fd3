// Package errors provides structured error handling with machine-readable codes.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// CodeInvalidArgument indicates a malformed or missing request field.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"

	// Ceremony errors
	CodeUserNotFound               Code = "USER_NOT_FOUND"
	CodeChallengeExpiredOrConsumed Code = "CHALLENGE_EXPIRED_OR_CONSUMED"
	CodeCredentialNotFound         Code = "CREDENTIAL_NOT_FOUND"
	CodeVerificationFailed         Code = "VERIFICATION_FAILED"
	CodePossibleClone              Code = "POSSIBLE_CLONE"

	// Storage errors
	CodeNotFound            Code = "NOT_FOUND"
	CodeDuplicateCredential Code = "DUPLICATE_CREDENTIAL"
	CodeStorageUnavailable  Code = "STORAGE_UNAVAILABLE"

	// Session errors
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	CodeSessionExpired  Code = "SESSION_EXPIRED"
)

// HTTPStatus maps an error code to its default HTTP status.
//
// Transport handlers may override individual mappings where an endpoint's
// contract requires it (for example, authentication failures collapse to 401
// on the verify endpoint regardless of the underlying code).
func (c Code) HTTPStatus() int {
	switch c {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeUserNotFound, CodeNotFound, CodeSessionNotFound:
		return http.StatusNotFound
	case CodeChallengeExpiredOrConsumed:
		return http.StatusBadRequest
	case CodeCredentialNotFound:
		return http.StatusBadRequest
	case CodeVerificationFailed:
		return http.StatusUnprocessableEntity
	case CodePossibleClone:
		return http.StatusUnauthorized
	case CodeDuplicateCredential:
		return http.StatusConflict
	case CodeSessionExpired:
		return http.StatusUnauthorized
	case CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
