// Package service provides the business-logic layer between the HTTP
// handlers and the subscription registry, the auth session and the journal.
package service

import (
	"context"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/atinyakov/firewatch/internal/models"
)

// Authenticator defines the session operations required by SessionService.
type Authenticator interface {
	// SignIn verifies idToken and makes its subject the current principal.
	SignIn(ctx context.Context, idToken string) (*backend.Principal, error)
	// Authorize checks that idToken belongs to the current principal.
	Authorize(ctx context.Context, idToken string) (*backend.Principal, error)
	// SignOut clears the current principal.
	SignOut()
	// Current returns the signed-in principal, or nil.
	Current() *backend.Principal
}

// SessionService implements session operations by delegating
// to an Authenticator.
type SessionService struct {
	// auth performs the underlying token verification and state change.
	auth Authenticator
}

// NewSessionService constructs a new SessionService using the provided authenticator.
func NewSessionService(auth Authenticator) *SessionService {
	return &SessionService{auth: auth}
}

// SignIn signs in with idToken and returns the resulting session.
func (s *SessionService) SignIn(ctx context.Context, idToken string) (models.Session, error) {
	p, err := s.auth.SignIn(ctx, idToken)
	if err != nil {
		return models.Session{}, err
	}
	return toSession(p), nil
}

// Authorize reports whether idToken belongs to the signed-in principal.
func (s *SessionService) Authorize(ctx context.Context, idToken string) error {
	_, err := s.auth.Authorize(ctx, idToken)
	return err
}

// SignOut ends the session. Every subscribed collection drops its data.
func (s *SessionService) SignOut() models.Session {
	s.auth.SignOut()
	return models.Session{}
}

// Current returns the current session.
func (s *SessionService) Current() models.Session {
	return toSession(s.auth.Current())
}

func toSession(p *backend.Principal) models.Session {
	if p == nil {
		return models.Session{}
	}
	return models.Session{SignedIn: true, UID: p.UID, Email: p.Email}
}
