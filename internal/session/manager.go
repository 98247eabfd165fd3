package session

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/chartfold/passkey/internal/platform/errors"
	"github.com/chartfold/passkey/internal/platform/id"
	"github.com/chartfold/passkey/internal/storage"
)

// ErrSessionNotFound indicates a session id that is unknown, revoked, or expired.
var ErrSessionNotFound = apperrors.New(apperrors.CodeSessionNotFound, "session not found")

// Manager issues and verifies durable authenticated sessions.
//
// Each established session is persisted as a row and carried by an
// Ed25519-signed bearer token whose jti is the row id, so revocation checks
// stay a single primary-key lookup.
type Manager struct {
	config      Config
	store       storage.WebSessionStore
	clock       func() time.Time
	idGenerator func() (string, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// NewManager builds a session manager bound to a session store.
func NewManager(config Config, store storage.WebSessionStore) *Manager {
	return &Manager{
		config:      config,
		store:       store,
		clock:       time.Now,
		idGenerator: id.NewID,
	}
}

// EstablishSession creates a session for a verified subject and returns its
// signed token.
func (m *Manager) EstablishSession(ctx context.Context, subjectID string) (Session, error) {
	if m == nil || m.store == nil {
		return Session{}, fmt.Errorf("session store is not configured")
	}
	if len(m.config.Key) != ed25519.PrivateKeySize {
		return Session{}, fmt.Errorf("session signing key is not configured")
	}
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Session{}, fmt.Errorf("subject id is required")
	}

	sessionID, err := m.idGenerator()
	if err != nil {
		return Session{}, fmt.Errorf("generate session id: %w", err)
	}
	now := m.clock().UTC()
	record := storage.WebSession{
		ID:        sessionID,
		SubjectID: subjectID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.config.TTL),
	}
	if err := m.store.PutWebSession(ctx, record); err != nil {
		return Session{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "put web session", err)
	}

	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			Subject:   subjectID,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(record.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.config.Key)
	if err != nil {
		return Session{}, fmt.Errorf("sign session token: %w", err)
	}

	return Session{
		ID:        sessionID,
		SubjectID: subjectID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// VerifySessionToken checks a bearer token and returns its live session.
func (m *Manager) VerifySessionToken(ctx context.Context, token string) (Session, error) {
	if m == nil || m.store == nil {
		return Session{}, fmt.Errorf("session store is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrSessionNotFound
	}

	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(parsed *jwt.Token) (any, error) {
		if _, ok := parsed.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", parsed.Method.Alg())
		}
		return m.config.Key.Public(), nil
	},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithTimeFunc(m.clock),
	)
	if err != nil {
		return Session{}, ErrSessionNotFound
	}

	record, err := m.store.GetWebSession(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, apperrors.Wrap(apperrors.CodeStorageUnavailable, "get web session", err)
	}
	now := m.clock().UTC()
	if record.RevokedAt != nil || !record.ExpiresAt.After(now) {
		return Session{}, ErrSessionNotFound
	}
	if record.SubjectID != claims.Subject {
		return Session{}, ErrSessionNotFound
	}

	return Session{
		ID:        record.ID,
		SubjectID: record.SubjectID,
		Token:     token,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// RevokeSession revokes a session by id. Revoking an unknown session is not
// an error.
func (m *Manager) RevokeSession(ctx context.Context, sessionID string) error {
	if m == nil || m.store == nil {
		return fmt.Errorf("session store is not configured")
	}
	err := m.store.RevokeWebSession(ctx, sessionID, m.clock().UTC())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeStorageUnavailable, "revoke web session", err)
	}
	return nil
}

var _ Establisher = (*Manager)(nil)
