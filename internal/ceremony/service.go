package ceremony

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	apperrors "github.com/chartfold/passkey/internal/platform/errors"
	"github.com/chartfold/passkey/internal/session"
	"github.com/chartfold/passkey/internal/storage"
)

// Service runs passkey registration and authentication ceremonies.
//
// It is the stable surface transport handlers call to perform passkey
// actions without touching storage or verification details.
type Service struct {
	config        Config
	directory     storage.SubjectDirectory
	challenges    storage.ChallengeStore
	credentials   storage.CredentialStore
	sessions      session.Establisher
	engine        VerificationEngine
	engineInitErr error
	parser        ResponseParser
	clock         func() time.Time
}

// NewService builds a ceremony service with the library-backed verification
// engine. The engine enforces the configured relying-party id and origins on
// every verification, never client-supplied values.
func NewService(config Config, directory storage.SubjectDirectory, challenges storage.ChallengeStore, credentials storage.CredentialStore, sessions session.Establisher) *Service {
	engine, err := webauthn.New(&webauthn.Config{
		RPDisplayName: config.RPDisplayName,
		RPID:          config.RPID,
		RPOrigins:     config.RPOrigins,
		Timeouts: webauthn.TimeoutsConfig{
			Registration: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.RegistrationTTL,
				TimeoutUVD: config.RegistrationTTL,
			},
			Login: webauthn.TimeoutConfig{
				Enforce:    true,
				Timeout:    config.AuthenticationTTL,
				TimeoutUVD: config.AuthenticationTTL,
			},
		},
	})
	return &Service{
		config:        config,
		directory:     directory,
		challenges:    challenges,
		credentials:   credentials,
		sessions:      sessions,
		engine:        engine,
		engineInitErr: err,
		parser:        protocolParser{},
		clock:         time.Now,
	}
}

// ready reports whether every required collaborator is wired.
func (s *Service) ready() error {
	if s == nil || s.directory == nil || s.challenges == nil || s.credentials == nil {
		return ErrNotConfigured
	}
	if s.engineInitErr != nil || s.engine == nil || s.parser == nil {
		return ErrNotConfigured
	}
	return nil
}

// claimChallenge consumes a challenge exactly once and checks it belongs to
// the expected ceremony kind. Every miss collapses into the generic expired
// or consumed error.
func (s *Service) claimChallenge(ctx context.Context, value string, kind storage.ChallengeKind) (storage.Challenge, error) {
	if strings.TrimSpace(value) == "" {
		return storage.Challenge{}, ErrChallengeExpiredOrConsumed
	}
	claimed, err := s.challenges.ClaimChallenge(ctx, value, s.clock().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Challenge{}, ErrChallengeExpiredOrConsumed
		}
		return storage.Challenge{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "claim challenge", err)
	}
	if claimed.Kind != kind {
		return storage.Challenge{}, ErrChallengeExpiredOrConsumed
	}
	return claimed, nil
}
