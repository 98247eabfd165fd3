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
	"github.com/chartfold/passkey/internal/storage"
)

// BeginRegistration resolves the identifier, builds credential creation
// options excluding already-registered authenticators, and stores a
// single-use challenge. The returned JSON is handed verbatim to the client
// ceremony runner.
func (s *Service) BeginRegistration(ctx context.Context, identifier string) (json.RawMessage, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "user identifier is required")
	}

	subject, err := s.directory.GetSubjectByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "resolve subject", err)
	}

	owned, err := s.credentials.ListCredentialsBySubject(ctx, subject.ID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list subject credentials", err)
	}
	user, err := newCeremonyUser(subject, owned)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "load ceremony user", err)
	}

	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	}
	if len(user.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(user.credentials).CredentialDescriptors()))
	}

	creation, sessionData, err := s.engine.BeginRegistration(user, options...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "begin registration", err)
	}

	optionsJSON, err := json.Marshal(creation)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode registration options", err)
	}
	sessionJSON, err := json.Marshal(sessionData)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "encode registration session", err)
	}

	now := s.clock().UTC()
	challenge := storage.Challenge{
		Value:       sessionData.Challenge,
		Kind:        storage.ChallengeKindRegistration,
		SubjectHint: subject.ID,
		OptionsJSON: string(optionsJSON),
		SessionJSON: string(sessionJSON),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.config.RegistrationTTL),
	}
	if err := s.challenges.CreateChallenge(ctx, challenge); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageUnavailable, "store registration challenge", err)
	}

	return optionsJSON, nil
}

// FinishRegistration claims the response's challenge, verifies the
// attestation against the stored snapshot, and persists the new credential.
func (s *Service) FinishRegistration(ctx context.Context, response []byte) (storage.Credential, error) {
	if err := s.ready(); err != nil {
		return storage.Credential{}, err
	}
	if len(response) == 0 {
		return storage.Credential{}, apperrors.New(apperrors.CodeInvalidArgument, "credential response is required")
	}

	parsed, err := s.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeInvalidArgument, "parse credential creation response", err)
	}

	claimed, err := s.claimChallenge(ctx, parsed.Response.CollectedClientData.Challenge, storage.ChallengeKindRegistration)
	if err != nil {
		return storage.Credential{}, err
	}

	subject, err := s.directory.GetSubject(ctx, claimed.SubjectHint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Printf("registration subject %s vanished before verification", claimed.SubjectHint)
			return storage.Credential{}, ErrVerificationFailed
		}
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "load subject", err)
	}

	var sessionData webauthn.SessionData
	if err := json.Unmarshal([]byte(claimed.SessionJSON), &sessionData); err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeUnknown, "decode challenge snapshot", err)
	}

	owned, err := s.credentials.ListCredentialsBySubject(ctx, subject.ID)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "list subject credentials", err)
	}
	user, err := newCeremonyUser(subject, owned)
	if err != nil {
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeUnknown, "load ceremony user", err)
	}

	credential, err := s.engine.CreateCredential(user, sessionData, parsed)
	if err != nil {
		log.Printf("registration verification failed for subject=%s rp=%s: %v", subject.ID, s.config.RPID, err)
		return storage.Credential{}, ErrVerificationFailed
	}

	record := credentialRecord(*credential, subject.ID, s.clock().UTC())
	if err := s.credentials.CreateCredential(ctx, record); err != nil {
		if errors.Is(err, storage.ErrDuplicateCredential) {
			// Reported as a generic verification failure so callers cannot
			// probe which credential ids are already registered.
			log.Printf("registration rejected duplicate credential=%s subject=%s", record.CredentialID, subject.ID)
			return storage.Credential{}, ErrVerificationFailed
		}
		return storage.Credential{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "store credential", err)
	}

	return record, nil
}
