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

// PutWebSession stores a durable authenticated session.
func (s *Store) PutWebSession(ctx context.Context, session storage.WebSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(session.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.TrimSpace(session.SubjectID) == "" {
		return fmt.Errorf("session subject id is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO web_sessions (id, subject_id, created_at, expires_at, revoked_at)
VALUES (?, ?, ?, ?, NULL)
`,
		session.ID,
		session.SubjectID,
		toMillis(session.CreatedAt),
		toMillis(session.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put web session: %w", err)
	}
	return nil
}

// GetWebSession fetches a web session by id.
func (s *Store) GetWebSession(ctx context.Context, id string) (storage.WebSession, error) {
	if err := ctx.Err(); err != nil {
		return storage.WebSession{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.WebSession{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.WebSession{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, subject_id, created_at, expires_at, revoked_at
FROM web_sessions
WHERE id = ?
`, id)

	var session storage.WebSession
	var createdAt int64
	var expiresAt int64
	var revokedAt sql.NullInt64
	if err := row.Scan(&session.ID, &session.SubjectID, &createdAt, &expiresAt, &revokedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.WebSession{}, storage.ErrNotFound
		}
		return storage.WebSession{}, fmt.Errorf("get web session: %w", err)
	}
	session.CreatedAt = fromMillis(createdAt)
	session.ExpiresAt = fromMillis(expiresAt)
	if revokedAt.Valid {
		value := fromMillis(revokedAt.Int64)
		session.RevokedAt = &value
	}
	return session, nil
}

// RevokeWebSession marks a session revoked.
func (s *Store) RevokeWebSession(ctx context.Context, id string, revokedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE web_sessions
SET revoked_at = ?
WHERE id = ? AND revoked_at IS NULL
`, toMillis(revokedAt), id)
	if err != nil {
		return fmt.Errorf("revoke web session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke web session rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredWebSessions removes sessions past their expiry.
func (s *Store) DeleteExpiredWebSessions(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}

	result, err := s.sqlDB.ExecContext(ctx,
		"DELETE FROM web_sessions WHERE expires_at <= ?", toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired web sessions: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired web sessions rows: %w", err)
	}
	return removed, nil
}
