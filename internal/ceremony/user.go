package ceremony

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/chartfold/passkey/internal/storage"
)

// ceremonyUser adapts a directory subject and its stored credentials to the
// webauthn.User interface.
type ceremonyUser struct {
	subject     storage.Subject
	credentials []webauthn.Credential
}

func newCeremonyUser(subject storage.Subject, records []storage.Credential) (*ceremonyUser, error) {
	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credential, err := libraryCredential(record)
		if err != nil {
			return nil, fmt.Errorf("decode credential %s: %w", record.CredentialID, err)
		}
		credentials = append(credentials, credential)
	}
	return &ceremonyUser{subject: subject, credentials: credentials}, nil
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.subject.ID)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.subject.Identifier
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.subject.DisplayName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

// libraryCredential rebuilds the verification library's credential view from
// a stored record.
func libraryCredential(record storage.Credential) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(record.CredentialID)
	if err != nil {
		return webauthn.Credential{}, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(record.Transports))
	for _, transport := range record.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       record.PublicKey,
		AttestationType: record.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: record.BackupEligible,
			BackupState:    record.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    record.AAGUID,
			SignCount: record.SignatureCounter,
		},
	}, nil
}

// credentialRecord converts a verified library credential into its stored form.
func credentialRecord(credential webauthn.Credential, subjectID string, now time.Time) storage.Credential {
	transports := make([]string, 0, len(credential.Transport))
	for _, transport := range credential.Transport {
		transports = append(transports, string(transport))
	}
	return storage.Credential{
		CredentialID:     encodeCredentialID(credential.ID),
		SubjectID:        subjectID,
		PublicKey:        credential.PublicKey,
		SignatureCounter: credential.Authenticator.SignCount,
		Transports:       transports,
		AAGUID:           credential.Authenticator.AAGUID,
		AttestationType:  credential.AttestationType,
		BackupEligible:   credential.Flags.BackupEligible,
		BackupState:      credential.Flags.BackupState,
		CreatedAt:        now,
	}
}

func encodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
