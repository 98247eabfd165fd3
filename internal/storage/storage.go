// Package storage defines the persistence contracts for the passkey core.
//
// Challenge and credential rows are owned exclusively by the stores declared
// here; ceremonies mutate them only through these interfaces.
package storage

import (
	"context"
	"time"

	"github.com/chartfold/passkey/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrDuplicateCredential indicates a credential id is already registered.
var ErrDuplicateCredential = errors.New(errors.CodeDuplicateCredential, "credential already exists")

// ChallengeKind distinguishes registration from authentication ceremonies.
type ChallengeKind string

const (
	ChallengeKindRegistration   ChallengeKind = "registration"
	ChallengeKindAuthentication ChallengeKind = "authentication"
)

// Challenge is a single-use ceremony correlation record.
//
// Value is the base64url challenge handed to the client authenticator and is
// the primary key. OptionsJSON is the exact option payload returned to the
// client; SessionJSON is the verification snapshot re-derived from it at
// verify time so client-supplied copies are never trusted.
type Challenge struct {
	Value       string
	Kind        ChallengeKind
	SubjectHint string
	OptionsJSON string
	SessionJSON string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// Credential is a registered authenticator public key and its metadata.
type Credential struct {
	CredentialID     string
	SubjectID        string
	PublicKey        []byte
	SignatureCounter uint32
	Transports       []string
	AAGUID           []byte
	AttestationType  string
	BackupEligible   bool
	BackupState      bool
	CreatedAt        time.Time
	LastUsedAt       *time.Time
}

// Subject is an identity record resolved from a human-facing identifier.
//
// Subjects are provisioned by the surrounding application; this core only
// reads them.
type Subject struct {
	ID          string
	Identifier  string
	DisplayName string
	CreatedAt   time.Time
}

// WebSession is a durable authenticated session row.
type WebSession struct {
	ID        string
	SubjectID string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// ChallengeStore persists single-use ceremony challenges.
type ChallengeStore interface {
	// CreateChallenge stores a freshly minted challenge with its expiry.
	CreateChallenge(ctx context.Context, challenge Challenge) error
	// ClaimChallenge atomically consumes an unconsumed, unexpired challenge
	// and returns it. Exactly one concurrent claimer can succeed; every
	// other caller observes ErrNotFound.
	ClaimChallenge(ctx context.Context, value string, now time.Time) (Challenge, error)
	// SweepExpiredChallenges deletes every challenge past its expiry,
	// consumed or not, and reports how many rows were removed.
	SweepExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}

// CredentialStore persists registered passkey credentials.
type CredentialStore interface {
	CreateCredential(ctx context.Context, credential Credential) error
	GetCredential(ctx context.Context, credentialID string) (Credential, error)
	ListCredentialsBySubject(ctx context.Context, subjectID string) ([]Credential, error)
	// UpdateCredentialCounter records a new signature counter and last-used
	// timestamp. Counter monotonicity is validated by the caller before this
	// is invoked; the store is a plain persistence boundary.
	UpdateCredentialCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error
}

// SubjectDirectory resolves identities. Read-only for this core.
type SubjectDirectory interface {
	GetSubjectByIdentifier(ctx context.Context, identifier string) (Subject, error)
	GetSubject(ctx context.Context, subjectID string) (Subject, error)
}

// WebSessionStore persists authenticated web sessions.
type WebSessionStore interface {
	PutWebSession(ctx context.Context, session WebSession) error
	GetWebSession(ctx context.Context, id string) (WebSession, error)
	RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error
	DeleteExpiredWebSessions(ctx context.Context, now time.Time) (int64, error)
}
