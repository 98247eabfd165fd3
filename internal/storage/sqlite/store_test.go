package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chartfold/passkey/internal/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "passkey.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testChallenge(value string, expiresAt time.Time) storage.Challenge {
	return storage.Challenge{
		Value:       value,
		Kind:        storage.ChallengeKindRegistration,
		SubjectHint: "subject-1",
		OptionsJSON: `{"publicKey":{}}`,
		SessionJSON: `{"challenge":"` + value + `"}`,
		CreatedAt:   expiresAt.Add(-5 * time.Minute),
		ExpiresAt:   expiresAt,
	}
}

func TestClaimChallengeConsumesOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateChallenge(ctx, testChallenge("chal-1", now.Add(5*time.Minute))); err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	claimed, err := store.ClaimChallenge(ctx, "chal-1", now)
	if err != nil {
		t.Fatalf("claim challenge: %v", err)
	}
	if claimed.SubjectHint != "subject-1" {
		t.Fatalf("subject hint = %q, want %q", claimed.SubjectHint, "subject-1")
	}
	if claimed.ConsumedAt == nil || !claimed.ConsumedAt.Equal(now) {
		t.Fatalf("consumed at = %v, want %v", claimed.ConsumedAt, now)
	}
	if claimed.OptionsJSON != `{"publicKey":{}}` {
		t.Fatalf("options snapshot = %q", claimed.OptionsJSON)
	}

	if _, err := store.ClaimChallenge(ctx, "chal-1", now.Add(time.Second)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second claim error = %v, want ErrNotFound", err)
	}
}

func TestClaimChallengeExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateChallenge(ctx, testChallenge("chal-expired", now.Add(-time.Second))); err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if _, err := store.ClaimChallenge(ctx, "chal-expired", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired claim error = %v, want ErrNotFound", err)
	}
}

func TestClaimChallengeUnknownValue(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.ClaimChallenge(context.Background(), "never-created", time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown claim error = %v, want ErrNotFound", err)
	}
}

func TestClaimChallengeConcurrentSingleWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateChallenge(ctx, testChallenge("chal-race", now.Add(5*time.Minute))); err != nil {
		t.Fatalf("create challenge: %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.ClaimChallenge(ctx, "chal-race", now)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrNotFound):
		default:
			t.Fatalf("unexpected claim error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("claim winners = %d, want exactly 1", wins)
	}
}

func TestSweepExpiredChallenges(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateChallenge(ctx, testChallenge("chal-old", now.Add(-time.Minute))); err != nil {
		t.Fatalf("create expired challenge: %v", err)
	}
	if err := store.CreateChallenge(ctx, testChallenge("chal-live", now.Add(time.Minute))); err != nil {
		t.Fatalf("create live challenge: %v", err)
	}
	// A consumed-but-expired row is swept too.
	if err := store.CreateChallenge(ctx, testChallenge("chal-used", now.Add(time.Second))); err != nil {
		t.Fatalf("create consumed challenge: %v", err)
	}
	if _, err := store.ClaimChallenge(ctx, "chal-used", now); err != nil {
		t.Fatalf("claim challenge: %v", err)
	}

	removed, err := store.SweepExpiredChallenges(ctx, now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("swept = %d, want 2", removed)
	}

	// The live challenge survives and remains claimable.
	if _, err := store.ClaimChallenge(ctx, "chal-live", now); err != nil {
		t.Fatalf("claim surviving challenge: %v", err)
	}
}

func testCredential(id, subjectID string, counter uint32, createdAt time.Time) storage.Credential {
	return storage.Credential{
		CredentialID:     id,
		SubjectID:        subjectID,
		PublicKey:        []byte{0xA5, 0x01, 0x02},
		SignatureCounter: counter,
		Transports:       []string{"internal", "hybrid"},
		AAGUID:           []byte{1, 2, 3, 4},
		AttestationType:  "none",
		BackupEligible:   true,
		BackupState:      false,
		CreatedAt:        createdAt,
	}
}

func TestCreateCredentialDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateCredential(ctx, testCredential("cred-1", "subject-1", 0, now)); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	err := store.CreateCredential(ctx, testCredential("cred-1", "subject-2", 0, now))
	if !errors.Is(err, storage.ErrDuplicateCredential) {
		t.Fatalf("duplicate error = %v, want ErrDuplicateCredential", err)
	}
}

func TestGetCredentialRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateCredential(ctx, testCredential("cred-1", "subject-1", 7, now)); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	got, err := store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SubjectID != "subject-1" {
		t.Fatalf("subject = %q", got.SubjectID)
	}
	if got.SignatureCounter != 7 {
		t.Fatalf("counter = %d, want 7", got.SignatureCounter)
	}
	if len(got.Transports) != 2 || got.Transports[0] != "internal" {
		t.Fatalf("transports = %v", got.Transports)
	}
	if !got.BackupEligible || got.BackupState {
		t.Fatalf("backup flags = %v/%v", got.BackupEligible, got.BackupState)
	}
	if got.LastUsedAt != nil {
		t.Fatalf("last used = %v, want nil", got.LastUsedAt)
	}

	if _, err := store.GetCredential(ctx, "cred-missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing credential error = %v, want ErrNotFound", err)
	}
}

func TestListCredentialsBySubject(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"cred-a", "cred-b"} {
		if err := store.CreateCredential(ctx, testCredential(id, "subject-1", 0, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("create credential %s: %v", id, err)
		}
	}
	if err := store.CreateCredential(ctx, testCredential("cred-other", "subject-2", 0, now)); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	credentials, err := store.ListCredentialsBySubject(ctx, "subject-1")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(credentials) != 2 {
		t.Fatalf("credentials = %d, want 2", len(credentials))
	}

	empty, err := store.ListCredentialsBySubject(ctx, "subject-none")
	if err != nil {
		t.Fatalf("list credentials: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty list, got %d", len(empty))
	}
}

func TestUpdateCredentialCounter(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if err := store.CreateCredential(ctx, testCredential("cred-1", "subject-1", 3, now)); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	usedAt := now.Add(time.Minute)
	if err := store.UpdateCredentialCounter(ctx, "cred-1", 9, usedAt); err != nil {
		t.Fatalf("update counter: %v", err)
	}

	got, err := store.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if got.SignatureCounter != 9 {
		t.Fatalf("counter = %d, want 9", got.SignatureCounter)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(usedAt) {
		t.Fatalf("last used = %v, want %v", got.LastUsedAt, usedAt)
	}

	if err := store.UpdateCredentialCounter(ctx, "cred-missing", 1, usedAt); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing credential update error = %v, want ErrNotFound", err)
	}
}

func TestSubjectLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	subject := storage.Subject{ID: "subject-1", Identifier: "Nurse@Example.com", DisplayName: "A. Nurse", CreatedAt: now}
	if err := store.PutSubject(ctx, subject); err != nil {
		t.Fatalf("put subject: %v", err)
	}

	// Identifier lookup is case-insensitive.
	got, err := store.GetSubjectByIdentifier(ctx, "nurse@example.com")
	if err != nil {
		t.Fatalf("get by identifier: %v", err)
	}
	if got.ID != "subject-1" {
		t.Fatalf("subject id = %q", got.ID)
	}
	if got.DisplayName != "A. Nurse" {
		t.Fatalf("display name = %q", got.DisplayName)
	}

	byID, err := store.GetSubject(ctx, "subject-1")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if byID.Identifier != "nurse@example.com" {
		t.Fatalf("identifier = %q, want normalized", byID.Identifier)
	}

	if _, err := store.GetSubjectByIdentifier(ctx, "ghost@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown identifier error = %v, want ErrNotFound", err)
	}
}

func TestWebSessionLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	session := storage.WebSession{ID: "sess-1", SubjectID: "subject-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.PutWebSession(ctx, session); err != nil {
		t.Fatalf("put web session: %v", err)
	}

	got, err := store.GetWebSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get web session: %v", err)
	}
	if got.SubjectID != "subject-1" || got.RevokedAt != nil {
		t.Fatalf("unexpected session %+v", got)
	}

	if err := store.RevokeWebSession(ctx, "sess-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("revoke web session: %v", err)
	}
	revoked, err := store.GetWebSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get revoked session: %v", err)
	}
	if revoked.RevokedAt == nil {
		t.Fatal("expected revoked timestamp")
	}
	if err := store.RevokeWebSession(ctx, "sess-1", now.Add(2*time.Minute)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("double revoke error = %v, want ErrNotFound", err)
	}

	expired := storage.WebSession{ID: "sess-old", SubjectID: "subject-1", CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	if err := store.PutWebSession(ctx, expired); err != nil {
		t.Fatalf("put expired session: %v", err)
	}
	removed, err := store.DeleteExpiredWebSessions(ctx, now)
	if err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
}
