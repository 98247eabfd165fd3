package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/chartfold/passkey/internal/storage"
)

// PutSubject upserts a subject record.
//
// Subject provisioning belongs to the surrounding application; this exists
// for application wiring and seeding, never for ceremony code.
func (s *Store) PutSubject(ctx context.Context, subject storage.Subject) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(subject.ID) == "" {
		return fmt.Errorf("subject id is required")
	}
	identifier := normalizeIdentifier(subject.Identifier)
	if identifier == "" {
		return fmt.Errorf("subject identifier is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO subjects (id, identifier, display_name, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET identifier = excluded.identifier, display_name = excluded.display_name
`,
		subject.ID,
		identifier,
		subject.DisplayName,
		toMillis(subject.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put subject: %w", err)
	}
	return nil
}

// GetSubjectByIdentifier resolves a human-facing identifier to a subject.
func (s *Store) GetSubjectByIdentifier(ctx context.Context, identifier string) (storage.Subject, error) {
	if err := ctx.Err(); err != nil {
		return storage.Subject{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Subject{}, fmt.Errorf("storage is not configured")
	}
	identifier = normalizeIdentifier(identifier)
	if identifier == "" {
		return storage.Subject{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, identifier, display_name, created_at
FROM subjects
WHERE identifier = ?
`, identifier)
	return scanSubject(row)
}

// GetSubject fetches a subject by its internal id.
func (s *Store) GetSubject(ctx context.Context, subjectID string) (storage.Subject, error) {
	if err := ctx.Err(); err != nil {
		return storage.Subject{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Subject{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(subjectID) == "" {
		return storage.Subject{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, identifier, display_name, created_at
FROM subjects
WHERE id = ?
`, subjectID)
	return scanSubject(row)
}

func scanSubject(row *sql.Row) (storage.Subject, error) {
	var subject storage.Subject
	var createdAt int64
	if err := row.Scan(&subject.ID, &subject.Identifier, &subject.DisplayName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Subject{}, storage.ErrNotFound
		}
		return storage.Subject{}, fmt.Errorf("get subject: %w", err)
	}
	subject.CreatedAt = fromMillis(createdAt)
	return subject, nil
}

// normalizeIdentifier lowercases and trims identifiers so email casing does
// not split accounts.
func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
