package ceremony

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/chartfold/passkey/internal/session"
	"github.com/chartfold/passkey/internal/storage"
)

type fakeDirectory struct {
	byIdentifier map[string]storage.Subject
	byID         map[string]storage.Subject
	err          error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		byIdentifier: make(map[string]storage.Subject),
		byID:         make(map[string]storage.Subject),
	}
}

func (d *fakeDirectory) addSubject(subject storage.Subject) {
	d.byIdentifier[subject.Identifier] = subject
	d.byID[subject.ID] = subject
}

func (d *fakeDirectory) GetSubjectByIdentifier(_ context.Context, identifier string) (storage.Subject, error) {
	if d.err != nil {
		return storage.Subject{}, d.err
	}
	subject, ok := d.byIdentifier[identifier]
	if !ok {
		return storage.Subject{}, storage.ErrNotFound
	}
	return subject, nil
}

func (d *fakeDirectory) GetSubject(_ context.Context, subjectID string) (storage.Subject, error) {
	if d.err != nil {
		return storage.Subject{}, d.err
	}
	subject, ok := d.byID[subjectID]
	if !ok {
		return storage.Subject{}, storage.ErrNotFound
	}
	return subject, nil
}

type fakeChallengeStore struct {
	challenges map[string]*storage.Challenge
	claimCalls int
	createErr  error
	claimErr   error
}

func newFakeChallengeStore() *fakeChallengeStore {
	return &fakeChallengeStore{challenges: make(map[string]*storage.Challenge)}
}

func (s *fakeChallengeStore) CreateChallenge(_ context.Context, challenge storage.Challenge) error {
	if s.createErr != nil {
		return s.createErr
	}
	stored := challenge
	s.challenges[challenge.Value] = &stored
	return nil
}

func (s *fakeChallengeStore) ClaimChallenge(_ context.Context, value string, now time.Time) (storage.Challenge, error) {
	s.claimCalls++
	if s.claimErr != nil {
		return storage.Challenge{}, s.claimErr
	}
	challenge, ok := s.challenges[value]
	if !ok || challenge.ConsumedAt != nil || !challenge.ExpiresAt.After(now) {
		return storage.Challenge{}, storage.ErrNotFound
	}
	consumed := now
	challenge.ConsumedAt = &consumed
	return *challenge, nil
}

func (s *fakeChallengeStore) SweepExpiredChallenges(_ context.Context, now time.Time) (int64, error) {
	var removed int64
	for value, challenge := range s.challenges {
		if !challenge.ExpiresAt.After(now) {
			delete(s.challenges, value)
			removed++
		}
	}
	return removed, nil
}

type fakeCredentialStore struct {
	credentials map[string]storage.Credential
	createErr   error
	listErr     error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{credentials: make(map[string]storage.Credential)}
}

func (s *fakeCredentialStore) CreateCredential(_ context.Context, credential storage.Credential) error {
	if s.createErr != nil {
		return s.createErr
	}
	if _, exists := s.credentials[credential.CredentialID]; exists {
		return storage.ErrDuplicateCredential
	}
	s.credentials[credential.CredentialID] = credential
	return nil
}

func (s *fakeCredentialStore) GetCredential(_ context.Context, credentialID string) (storage.Credential, error) {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.Credential{}, storage.ErrNotFound
	}
	return credential, nil
}

func (s *fakeCredentialStore) ListCredentialsBySubject(_ context.Context, subjectID string) ([]storage.Credential, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	credentials := make([]storage.Credential, 0)
	for _, credential := range s.credentials {
		if credential.SubjectID == subjectID {
			credentials = append(credentials, credential)
		}
	}
	return credentials, nil
}

func (s *fakeCredentialStore) UpdateCredentialCounter(_ context.Context, credentialID string, counter uint32, usedAt time.Time) error {
	credential, ok := s.credentials[credentialID]
	if !ok {
		return storage.ErrNotFound
	}
	credential.SignatureCounter = counter
	credential.LastUsedAt = &usedAt
	s.credentials[credentialID] = credential
	return nil
}

type fakeEstablisher struct {
	established []string
	err         error
}

func (e *fakeEstablisher) EstablishSession(_ context.Context, subjectID string) (session.Session, error) {
	if e.err != nil {
		return session.Session{}, e.err
	}
	e.established = append(e.established, subjectID)
	return session.Session{ID: "sess-1", SubjectID: subjectID, Token: "token-1"}, nil
}

type fakeEngine struct {
	challenge         string
	registrationOpts  []webauthn.RegistrationOption
	loginOpts         []webauthn.LoginOption
	loginCalls        int
	discoverableCalls int
	validateCalls     int
	created           *webauthn.Credential
	validated         *webauthn.Credential
	beginErr          error
	verifyErr         error
}

func (f *fakeEngine) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	f.registrationOpts = opts
	creation := &protocol.CredentialCreation{}
	creation.Response.Challenge = challengeBytes(f.challenge)
	data := &webauthn.SessionData{Challenge: f.challenge, UserID: user.WebAuthnID()}
	return creation, data, nil
}

func (f *fakeEngine) CreateCredential(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.created, nil
}

func (f *fakeEngine) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	f.loginCalls++
	f.loginOpts = opts
	assertion := &protocol.CredentialAssertion{}
	assertion.Response.Challenge = challengeBytes(f.challenge)
	data := &webauthn.SessionData{Challenge: f.challenge, UserID: user.WebAuthnID()}
	return assertion, data, nil
}

func (f *fakeEngine) BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	if f.beginErr != nil {
		return nil, nil, f.beginErr
	}
	f.discoverableCalls++
	f.loginOpts = opts
	assertion := &protocol.CredentialAssertion{}
	assertion.Response.Challenge = challengeBytes(f.challenge)
	data := &webauthn.SessionData{Challenge: f.challenge}
	return assertion, data, nil
}

func (f *fakeEngine) ValidateLogin(_ webauthn.User, _ webauthn.SessionData, _ *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.validateCalls++
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return f.validated, nil
}

func (f *fakeEngine) ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, _ webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error) {
	f.validateCalls++
	if f.verifyErr != nil {
		return nil, nil, f.verifyErr
	}
	user, err := handler(response.RawID, response.Response.UserHandle)
	if err != nil {
		return nil, nil, err
	}
	return user, f.validated, nil
}

type fakeParser struct {
	creation  *protocol.ParsedCredentialCreationData
	assertion *protocol.ParsedCredentialAssertionData
	err       error
}

func (p *fakeParser) ParseCredentialCreationResponseBytes(_ []byte) (*protocol.ParsedCredentialCreationData, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.creation, nil
}

func (p *fakeParser) ParseCredentialRequestResponseBytes(_ []byte) (*protocol.ParsedCredentialAssertionData, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.assertion, nil
}

func challengeBytes(encoded string) protocol.URLEncodedBase64 {
	decoded, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		panic(err)
	}
	return protocol.URLEncodedBase64(decoded)
}

func testChallengeValue(seed string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(seed + "-0123456789abcdef"))
}

func creationResponse(challenge string, rawID []byte) *protocol.ParsedCredentialCreationData {
	return &protocol.ParsedCredentialCreationData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{
				ID:   base64.RawURLEncoding.EncodeToString(rawID),
				Type: "public-key",
			},
			RawID: rawID,
		},
		Response: protocol.ParsedAttestationResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      protocol.CreateCeremony,
				Challenge: challenge,
			},
		},
	}
}

func assertionResponse(challenge string, rawID []byte, userHandle []byte) *protocol.ParsedCredentialAssertionData {
	return &protocol.ParsedCredentialAssertionData{
		ParsedPublicKeyCredential: protocol.ParsedPublicKeyCredential{
			ParsedCredential: protocol.ParsedCredential{
				ID:   base64.RawURLEncoding.EncodeToString(rawID),
				Type: "public-key",
			},
			RawID: rawID,
		},
		Response: protocol.ParsedAssertionResponse{
			CollectedClientData: protocol.CollectedClientData{
				Type:      protocol.AssertCeremony,
				Challenge: challenge,
			},
			UserHandle: userHandle,
		},
	}
}

type serviceFixture struct {
	service     *Service
	directory   *fakeDirectory
	challenges  *fakeChallengeStore
	credentials *fakeCredentialStore
	establisher *fakeEstablisher
	engine      *fakeEngine
	parser      *fakeParser
	now         time.Time
}

func newServiceFixture(challenge string) *serviceFixture {
	fixture := &serviceFixture{
		directory:   newFakeDirectory(),
		challenges:  newFakeChallengeStore(),
		credentials: newFakeCredentialStore(),
		establisher: &fakeEstablisher{},
		engine:      &fakeEngine{challenge: challenge},
		parser:      &fakeParser{},
		now:         time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	config := Config{
		RPDisplayName:     "Chartfold",
		RPID:              "localhost",
		RPOrigins:         []string{"http://localhost:8080"},
		RegistrationTTL:   5 * time.Minute,
		AuthenticationTTL: 2 * time.Minute,
	}
	fixture.service = NewService(config, fixture.directory, fixture.challenges, fixture.credentials, fixture.establisher)
	fixture.service.engine = fixture.engine
	fixture.service.engineInitErr = nil
	fixture.service.parser = fixture.parser
	fixture.service.clock = func() time.Time { return fixture.now }
	return fixture
}
