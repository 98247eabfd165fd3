// Package web exposes the passkey ceremonies over HTTP for the client-side
// ceremony runner.
package web

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/chartfold/passkey/internal/ceremony"
	"github.com/chartfold/passkey/internal/storage"
)

// SessionCookieName carries the signed session token to the browser.
const SessionCookieName = "chartfold_session"

// Ceremonies is the passkey surface the HTTP handlers call.
//
// *ceremony.Service satisfies this interface.
type Ceremonies interface {
	BeginRegistration(ctx context.Context, identifier string) (json.RawMessage, error)
	FinishRegistration(ctx context.Context, response []byte) (storage.Credential, error)
	BeginAuthentication(ctx context.Context, identifier string) (json.RawMessage, error)
	FinishAuthentication(ctx context.Context, response []byte) (ceremony.AuthenticationResult, error)
}

// Server serves the passkey HTTP endpoints.
type Server struct {
	ceremonies Ceremonies
	tracer     trace.Tracer
}

// NewServer builds an HTTP server around a ceremony service.
func NewServer(ceremonies Ceremonies) *Server {
	return &Server{
		ceremonies: ceremonies,
		tracer:     otel.Tracer("chartfold.passkey.web"),
	}
}

// RegisterRoutes registers passkey HTTP endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/passkeys/register/options", s.traced("passkeys.register.options", s.handleRegisterOptions))
	mux.HandleFunc("/passkeys/register/verify", s.traced("passkeys.register.verify", s.handleRegisterVerify))
	mux.HandleFunc("/passkeys/authenticate/options", s.traced("passkeys.authenticate.options", s.handleAuthenticateOptions))
	mux.HandleFunc("/passkeys/authenticate/verify", s.traced("passkeys.authenticate.verify", s.handleAuthenticateVerify))
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

// traced wraps a handler in a server span named after the endpoint.
func (s *Server) traced(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := s.tracer.Start(r.Context(), name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", r.URL.Path),
			),
		)
		defer span.End()
		next(w, r.WithContext(ctx))
	}
}
