// Package session establishes authenticated sessions for verified subjects.
//
// The passkey core's only obligation after a successful authentication is to
// hand the verified subject id to an Establisher; session transport (cookies,
// headers) belongs to the surrounding application.
package session

import (
	"context"
	"time"
)

// Session is an established authenticated session.
type Session struct {
	ID        string
	SubjectID string
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Establisher creates an authenticated session for a verified subject.
type Establisher interface {
	EstablishSession(ctx context.Context, subjectID string) (Session, error)
}
