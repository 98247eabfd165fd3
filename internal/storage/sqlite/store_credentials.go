package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chartfold/passkey/internal/storage"
)

// CreateCredential inserts a newly registered credential.
func (s *Store) CreateCredential(ctx context.Context, credential storage.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credential.CredentialID) == "" {
		return fmt.Errorf("credential id is required")
	}
	if strings.TrimSpace(credential.SubjectID) == "" {
		return fmt.Errorf("subject id is required")
	}
	if len(credential.PublicKey) == 0 {
		return fmt.Errorf("credential public key is required")
	}

	transports, err := encodeTransports(credential.Transports)
	if err != nil {
		return fmt.Errorf("encode transports: %w", err)
	}
	lastUsed := sql.NullInt64{}
	if credential.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMillis(*credential.LastUsedAt), Valid: true}
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (
	credential_id,
	subject_id,
	public_key,
	signature_counter,
	transports,
	aaguid,
	attestation_type,
	backup_eligible,
	backup_state,
	created_at,
	last_used_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		credential.CredentialID,
		credential.SubjectID,
		credential.PublicKey,
		int64(credential.SignatureCounter),
		transports,
		credential.AAGUID,
		credential.AttestationType,
		boolToInt(credential.BackupEligible),
		boolToInt(credential.BackupState),
		toMillis(credential.CreatedAt),
		lastUsed,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateCredential
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// GetCredential fetches a credential by its id.
func (s *Store) GetCredential(ctx context.Context, credentialID string) (storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return storage.Credential{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.Credential{}, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.Credential{}, storage.ErrNotFound
	}

	row := s.sqlDB.QueryRowContext(ctx, credentialColumns+`
WHERE credential_id = ?
`, credentialID)
	credential, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.Credential{}, storage.ErrNotFound
		}
		return storage.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return credential, nil
}

// ListCredentialsBySubject returns every credential owned by a subject.
func (s *Store) ListCredentialsBySubject(ctx context.Context, subjectID string) ([]storage.Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(subjectID) == "" {
		return nil, fmt.Errorf("subject id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, credentialColumns+`
WHERE subject_id = ?
ORDER BY created_at
`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	credentials := make([]storage.Credential, 0)
	for rows.Next() {
		credential, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		credentials = append(credentials, credential)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return credentials, nil
}

// UpdateCredentialCounter records the counter and last-used timestamp
// reported by a successful authentication. Monotonicity is the ceremony's
// responsibility; the store only persists.
func (s *Store) UpdateCredentialCounter(ctx context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(credentialID) == "" {
		return storage.ErrNotFound
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET signature_counter = ?, last_used_at = ?
WHERE credential_id = ?
`, int64(counter), toMillis(usedAt), credentialID)
	if err != nil {
		return fmt.Errorf("update credential counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential counter rows: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const credentialColumns = `
SELECT credential_id, subject_id, public_key, signature_counter, transports, aaguid, attestation_type, backup_eligible, backup_state, created_at, last_used_at
FROM credentials
`

func scanCredential(scan func(dest ...any) error) (storage.Credential, error) {
	var credential storage.Credential
	var counter int64
	var transports string
	var backupEligible int64
	var backupState int64
	var createdAt int64
	var lastUsed sql.NullInt64
	if err := scan(
		&credential.CredentialID,
		&credential.SubjectID,
		&credential.PublicKey,
		&counter,
		&transports,
		&credential.AAGUID,
		&credential.AttestationType,
		&backupEligible,
		&backupState,
		&createdAt,
		&lastUsed,
	); err != nil {
		return storage.Credential{}, err
	}
	credential.SignatureCounter = uint32(counter)
	credential.BackupEligible = backupEligible != 0
	credential.BackupState = backupState != 0
	credential.CreatedAt = fromMillis(createdAt)
	if lastUsed.Valid {
		value := fromMillis(lastUsed.Int64)
		credential.LastUsedAt = &value
	}
	if err := json.Unmarshal([]byte(transports), &credential.Transports); err != nil {
		return storage.Credential{}, fmt.Errorf("decode transports: %w", err)
	}
	return credential, nil
}

func encodeTransports(transports []string) (string, error) {
	if len(transports) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(transports)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
