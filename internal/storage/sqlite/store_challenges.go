package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chartfold/passkey/internal/storage"
)

// CreateChallenge stores a freshly minted ceremony challenge.
func (s *Store) CreateChallenge(ctx context.Context, challenge storage.Challenge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(challenge.Value) == "" {
		return fmt.Errorf("challenge value is required")
	}
	if challenge.Kind != storage.ChallengeKindRegistration && challenge.Kind != storage.ChallengeKindAuthentication {
		return fmt.Errorf("challenge kind %q is invalid", challenge.Kind)
	}
	if strings.TrimSpace(challenge.OptionsJSON) == "" {
		return fmt.Errorf("challenge options json is required")
	}
	if strings.TrimSpace(challenge.SessionJSON) == "" {
		return fmt.Errorf("challenge session json is required")
	}
	if challenge.ExpiresAt.IsZero() {
		return fmt.Errorf("challenge expiry is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO challenges (
	challenge_value,
	kind,
	subject_hint,
	options_json,
	session_json,
	created_at,
	expires_at,
	consumed_at
) VALUES (?, ?, ?, ?, ?, ?, ?, NULL)
`,
		challenge.Value,
		string(challenge.Kind),
		challenge.SubjectHint,
		challenge.OptionsJSON,
		challenge.SessionJSON,
		toMillis(challenge.CreatedAt),
		toMillis(challenge.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("create challenge: %w", err)
	}
	return nil
}

// ClaimChallenge consumes an unconsumed, unexpired challenge in one atomic
// conditional update. The storage engine enforces that at most one concurrent
// claimer wins; losers observe storage.ErrNotFound.
func (s *Store) ClaimChallenge(ctx context.Context, value string, now time.Time) (storage.Challenge, error) {
	if err := ctx.Err(); err != nil {
		return storage.Challenge{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Challenge{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(value) == "" {
		return storage.Challenge{}, storage.ErrNotFound
	}

	nowMillis := toMillis(now)
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE challenges
SET consumed_at = ?
WHERE challenge_value = ? AND consumed_at IS NULL AND expires_at > ?
`, nowMillis, value, nowMillis)
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("claim challenge: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.Challenge{}, fmt.Errorf("claim challenge rows: %w", err)
	}
	if affected == 0 {
		return storage.Challenge{}, storage.ErrNotFound
	}

	// The row is now consumed by this caller; its remaining fields are
	// immutable, so a plain read-back is race-free.
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT challenge_value, kind, subject_hint, options_json, session_json, created_at, expires_at, consumed_at
FROM challenges
WHERE challenge_value = ?
`, value)
	challenge, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Challenge{}, storage.ErrNotFound
		}
		return storage.Challenge{}, fmt.Errorf("read claimed challenge: %w", err)
	}
	return challenge, nil
}

// SweepExpiredChallenges deletes every challenge past its expiry.
func (s *Store) SweepExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM challenges WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep expired challenges rows: %w", err)
	}
	return removed, nil
}

func scanChallenge(row *sql.Row) (storage.Challenge, error) {
	var challenge storage.Challenge
	var kind string
	var createdAt int64
	var expiresAt int64
	var consumedAt sql.NullInt64
	if err := row.Scan(
		&challenge.Value,
		&kind,
		&challenge.SubjectHint,
		&challenge.OptionsJSON,
		&challenge.SessionJSON,
		&createdAt,
		&expiresAt,
		&consumedAt,
	); err != nil {
		return storage.Challenge{}, err
	}
	challenge.Kind = storage.ChallengeKind(kind)
	challenge.CreatedAt = fromMillis(createdAt)
	challenge.ExpiresAt = fromMillis(expiresAt)
	if consumedAt.Valid {
		value := fromMillis(consumedAt.Int64)
		challenge.ConsumedAt = &value
	}
	return challenge, nil
}
