package web

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	apperrors "github.com/chartfold/passkey/internal/platform/errors"
)

// maxBodyBytes caps request bodies; WebAuthn responses are a few KiB at most.
const maxBodyBytes = 1 << 20

type identifierRequest struct {
	UserIdentifier string `json:"userIdentifier"`
}

type registerVerifyResponse struct {
	CredentialID string `json:"credentialId"`
}

type subjectSummary struct {
	ID          string `json:"id"`
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
}

type sessionSummary struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type authenticateVerifyResponse struct {
	Subject subjectSummary `json:"subject"`
	Session sessionSummary `json:"session"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, apperrors.CodeInvalidArgument, "method not allowed")
		return
	}
	var request identifierRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, "invalid request body")
		return
	}

	options, err := s.ceremonies.BeginRegistration(r.Context(), request.UserIdentifier)
	if err != nil {
		writeCeremonyError(w, err, map[apperrors.Code]int{
			apperrors.CodeUserNotFound: http.StatusNotFound,
		})
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, apperrors.CodeInvalidArgument, "method not allowed")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, "invalid request body")
		return
	}

	credential, err := s.ceremonies.FinishRegistration(r.Context(), body)
	if err != nil {
		writeCeremonyError(w, err, map[apperrors.Code]int{
			apperrors.CodeChallengeExpiredOrConsumed: http.StatusBadRequest,
			apperrors.CodeVerificationFailed:         http.StatusUnprocessableEntity,
		})
		return
	}
	writeJSON(w, http.StatusOK, registerVerifyResponse{CredentialID: credential.CredentialID})
}

func (s *Server) handleAuthenticateOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, apperrors.CodeInvalidArgument, "method not allowed")
		return
	}
	var request identifierRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, "invalid request body")
		return
	}

	// An unknown identifier still produces a discoverable-credential
	// ceremony, so this endpoint never reveals whether an account exists.
	options, err := s.ceremonies.BeginAuthentication(r.Context(), request.UserIdentifier)
	if err != nil {
		writeCeremonyError(w, err, nil)
		return
	}
	writeRawJSON(w, http.StatusOK, options)
}

func (s *Server) handleAuthenticateVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, apperrors.CodeInvalidArgument, "method not allowed")
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, apperrors.CodeInvalidArgument, "invalid request body")
		return
	}

	result, err := s.ceremonies.FinishAuthentication(r.Context(), body)
	if err != nil {
		writeCeremonyError(w, err, map[apperrors.Code]int{
			apperrors.CodeChallengeExpiredOrConsumed: http.StatusBadRequest,
			apperrors.CodeCredentialNotFound:         http.StatusBadRequest,
			apperrors.CodeVerificationFailed:         http.StatusUnauthorized,
			apperrors.CodePossibleClone:              http.StatusUnauthorized,
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    result.Session.Token,
		Path:     "/",
		Expires:  result.Session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	writeJSON(w, http.StatusOK, authenticateVerifyResponse{
		Subject: subjectSummary{
			ID:          result.Subject.ID,
			Identifier:  result.Subject.Identifier,
			DisplayName: result.Subject.DisplayName,
		},
		Session: sessionSummary{
			ID:        result.Session.ID,
			Token:     result.Session.Token,
			ExpiresAt: result.Session.ExpiresAt,
		},
	})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, target any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, target)
}

// writeCeremonyError maps a ceremony error to a response. Per-endpoint
// overrides win; everything else falls back to the code's default status.
// Clone detection is reported to the client as a generic verification
// failure so a cloned-authenticator holder learns nothing.
func writeCeremonyError(w http.ResponseWriter, err error, overrides map[apperrors.Code]int) {
	code := apperrors.GetCode(err)
	status, ok := overrides[code]
	if !ok {
		status = code.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		log.Printf("passkey request failed: %v", err)
		writeJSONError(w, status, code, "internal error")
		return
	}
	writeJSONError(w, status, clientCode(code), clientMessage(code))
}

func clientCode(code apperrors.Code) apperrors.Code {
	if code == apperrors.CodePossibleClone {
		return apperrors.CodeVerificationFailed
	}
	return code
}

func clientMessage(code apperrors.Code) string {
	switch clientCode(code) {
	case apperrors.CodeUserNotFound:
		return "user not found"
	case apperrors.CodeChallengeExpiredOrConsumed:
		return "challenge expired or already used"
	case apperrors.CodeCredentialNotFound:
		return "credential not recognized"
	case apperrors.CodeVerificationFailed:
		return "verification failed"
	case apperrors.CodeInvalidArgument:
		return "invalid request"
	default:
		return "request failed"
	}
}

func writeJSONError(w http.ResponseWriter, status int, code apperrors.Code, message string) {
	writeJSON(w, status, errorResponse{Error: string(code), Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, status int, payload json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
