package ceremony

import (
	apperrors "github.com/chartfold/passkey/internal/platform/errors"
)

var (
	// ErrUserNotFound indicates the registration identifier is unknown.
	// Registration always names its target identifier, so this is safe to
	// disclose; authentication never surfaces it.
	ErrUserNotFound = apperrors.New(apperrors.CodeUserNotFound, "user not found")

	// ErrChallengeExpiredOrConsumed covers never-issued, already-used, and
	// expired challenges uniformly so callers cannot tell the cases apart.
	ErrChallengeExpiredOrConsumed = apperrors.New(apperrors.CodeChallengeExpiredOrConsumed, "challenge expired or consumed")

	// ErrCredentialNotFound indicates the asserted credential id is not
	// registered. Credential ids are unguessable, so this is safe to
	// distinguish from challenge failures.
	ErrCredentialNotFound = apperrors.New(apperrors.CodeCredentialNotFound, "credential not found")

	// ErrVerificationFailed is the generic cryptographic rejection.
	ErrVerificationFailed = apperrors.New(apperrors.CodeVerificationFailed, "verification failed")

	// ErrPossibleClone indicates a signature counter regression. Callers see
	// a generic authentication failure; the regression is logged at elevated
	// severity for security review.
	ErrPossibleClone = apperrors.New(apperrors.CodePossibleClone, "authenticator counter regression")

	// ErrNotConfigured indicates the service was assembled without a
	// required collaborator.
	ErrNotConfigured = apperrors.New(apperrors.CodeUnknown, "ceremony service is not configured")
)
