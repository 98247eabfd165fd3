package ceremony

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/chartfold/passkey/internal/platform/errors"
	"github.com/chartfold/passkey/internal/session"
	"github.com/chartfold/passkey/internal/storage"
)

// AuthenticationResult carries the verified subject and its established
// session after a successful authentication ceremony.
type AuthenticationResult struct {
	Subject    storage.Subject
	Credential storage.Credential
	Session    session.Session
}

// BeginAuthentication builds assertion options and stores a single-use
// challenge. With an identifier it restricts the ceremony to that subject's
// credentials; without one, or when the identifier is unknown, it issues a
// discoverable-credential flow so account existence is never revealed.
func (s *Service) BeginAuthentication(ctx context.Context, identifier string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	var (
		assertion   *protocol.CredentialAssertion
		sessionData *webauthn.SessionData
		subjectHint string
	)

	identifier = strings.TrimSpace(identifier)
	if identifier != "" {
		subject, err := s.directory.GetSubjectByIdentifier(ctx, identifier)
		switch {
		case err == nil:
			owned, err := s.credentials.ListCredentialsBySubject(ctx, subject.ID)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list subject credentials", err)
			}
			if len(owned) > 0 {
				user, err := newCeremonyUser(subject, owned)
				if err != nil {
					return nil, apperrors.Wrap(apperrors.CodeUnknown, "load ceremony user", err)
				}
				assertion, sessionData, err = s.engine.BeginLogin(user, webauthn.WithUserVerification(protocol.VerificationPreferred))
				if err != nil {
					return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin authentication", err)
				}
				subjectHint = subject.ID
			}
		case errors.Is(err, storage.ErrNotFound):
			// Fall through to the discoverable flow.
		default:
			return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "resolve subject", err)
		}
	}

	if assertion == nil {
		var err error
		assertion, sessionData, err = s.engine.BeginDiscoverableLogin(webauthn.WithUserVerification(protocol.VerificationPreferred))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin discoverable authentication", err)
		}
	}

	optionsJSON, err := json.Marshal(assertion)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode authentication options", err)
	}
	sessionJSON, err := json.Marshal(sessionData)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode authentication session", err)
	}

	now := s.clock().UTC()
	challenge := storage.Challenge{
		Value:       sessionData.Challenge,
		Kind:        storage.ChallengeKindAuthentication,
		SubjectHint: subjectHint,
		OptionsJSON: string(optionsJSON),
		SessionJSON: string(sessionJSON),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.AuthenticationTTL),
	}
	if err := s.challenges.CreateChallenge(ctx, challenge); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "store authentication challenge", err)
	}

	return optionsJSON, nil
}

// FinishAuthentication claims the response's challenge, verifies the
// assertion, enforces counter monotonicity, and establishes a session for
// the credential's owner.
func (s *Service) FinishAuthentication(ctx context.Context, response []byte) (AuthenticationResult, error) {
	if err := s.ready(); err != nil {
		return AuthenticationResult{}, err
	}
	if s.sessions == nil {
		return AuthenticationResult{}, ErrNotConfigured
	}
	if len(response) == 0 {
		return AuthenticationResult{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}

	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential request response", err)
	}

	claimed, err := s.claimChallenge(ctx, parsed.Response.CollectedClientData.Challenge, storage.ChallengeKindAuthentication)
	if err != nil {
		return AuthenticationResult{}, err
	}

	record, err := s.credentials.GetCredential(ctx, encodeCredentialID(parsed.RawID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthenticationResult{}, ErrCredentialNotFound
		}
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "get credential", err)
	}
	if claimed.SubjectHint != "" && claimed.SubjectHint != record.SubjectID {
		log.Printf("authentication credential=%s owned by subject=%s does not match challenge subject=%s", record.CredentialID, record.SubjectID, claimed.SubjectHint)
		return AuthenticationResult{}, ErrVerificationFailed
	}

	subject, err := s.directory.GetSubject(ctx, record.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("authentication subject %s vanished for credential %s", record.SubjectID, record.CredentialID)
			return AuthenticationResult{}, ErrVerificationFailed
		}
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "load subject", err)
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(claimed.SessionJSON), &sessionData); err != nil {
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeUnknown, "decode challenge snapshot", err)
	}

	owned, err := s.credentials.ListCredentialsBySubject(ctx, subject.ID)
	if err != nil {
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list subject credentials", err)
	}
	user, err := newCeremonyUser(subject, owned)
	if err != nil {
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeUnknown, "load ceremony user", err)
	}

	var validated *webauthn.Credential
	if len(sessionData.UserID) == 0 {
		handler := func(_, _ []byte) (webauthn.User, error) { return user, nil }
		_, validated, err = s.engine.ValidatePasskeyLogin(handler, sessionData, parsed)
	} else {
		validated, err = s.engine.ValidateLogin(user, sessionData, parsed)
	}
	if err != nil {
		log.Printf("authentication verification failed for credential=%s subject=%s rp=%s: %v", record.CredentialID, subject.ID, s.config.RPID, err)
		return AuthenticationResult{}, ErrVerificationFailed
	}

	// Counter regression signals a cloned authenticator. Authenticators
	// that never increment report zero forever, which stays acceptable.
	reported := validated.Authenticator.SignCount
	if record.SignatureCounter > 0 && reported <= record.SignatureCounter {
		log.Printf("SECURITY possible cloned authenticator credential=%s subject=%s stored_counter=%d reported_counter=%d", record.CredentialID, record.SubjectID, record.SignatureCounter, reported)
		return AuthenticationResult{}, ErrPossibleClone
	}

	now := s.clock().UTC()
	if err := s.credentials.UpdateCredentialCounter(ctx, record.CredentialID, reported, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AuthenticationResult{}, ErrCredentialNotFound
		}
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "update credential counter", err)
	}
	record.SignatureCounter = reported
	record.LastUsedAt = &now

	established, err := s.sessions.EstablishSession(ctx, subject.ID)
	if err != nil {
		return AuthenticationResult{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "establish session", err)
	}

	return AuthenticationResult{
		Subject:    subject,
		Credential: record,
		Session:    established,
	}, nil
}
