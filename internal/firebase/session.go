package firebase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/atinyakov/firewatch/internal/backend"
	"go.uber.org/zap"
)

var (
	// ErrEmptyToken is returned for an empty ID token.
	ErrEmptyToken = errors.New("empty id token")
	// ErrSessionMismatch is returned by Authorize when the token does not
	// belong to the signed-in principal.
	ErrSessionMismatch = errors.New("token does not belong to the signed-in principal")
)

// TokenVerifier verifies Firebase ID tokens. *auth.Client implements it.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// TokenSession is an AuthSource whose principal comes from verified
// Firebase ID tokens. A session signs itself out when the token expires.
type TokenSession struct {
	verifier TokenVerifier
	log      *zap.Logger
	now      func() time.Time

	// dispatchMu orders state changes and listener registration so every
	// listener sees transitions in the order they happened.
	dispatchMu sync.Mutex

	mu        sync.Mutex
	current   *backend.Principal
	expiry    *time.Timer
	epoch     uint64
	listeners map[int]func(*backend.Principal)
	nextID    int
}

// NewTokenSession returns a signed-out session.
func NewTokenSession(v TokenVerifier, log *zap.Logger) *TokenSession {
	return &TokenSession{
		verifier:  v,
		log:       log,
		now:       time.Now,
		listeners: make(map[int]func(*backend.Principal)),
	}
}

// OnAuthStateChanged implements backend.AuthSource.
func (s *TokenSession) OnAuthStateChanged(fn func(*backend.Principal)) backend.CancelFunc {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := s.current
	s.mu.Unlock()

	fn(current)

	return backend.Once(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	})
}

// Current returns the signed-in principal, or nil.
func (s *TokenSession) Current() *backend.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SignIn verifies idToken and makes its subject the current principal.
// Signing in as a different user first signs the previous one out.
func (s *TokenSession) SignIn(ctx context.Context, idToken string) (*backend.Principal, error) {
	if idToken == "" {
		return nil, ErrEmptyToken
	}
	tok, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	p := principalFromToken(tok)

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if prev := s.Current(); prev != nil && prev.UID != p.UID {
		s.publish(nil, time.Time{})
	}
	s.publish(p, time.Unix(tok.Expires, 0))
	s.log.Info("signed in", zap.String("uid", p.UID))
	return p, nil
}

// Authorize verifies idToken and checks that its subject is the signed-in
// principal. It does not change the session.
func (s *TokenSession) Authorize(ctx context.Context, idToken string) (*backend.Principal, error) {
	if idToken == "" {
		return nil, ErrEmptyToken
	}
	tok, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}
	cur := s.Current()
	if cur == nil || cur.UID != tok.UID {
		return nil, ErrSessionMismatch
	}
	return cur, nil
}

// SignOut clears the current principal. Signing out while signed out is a no-op.
func (s *TokenSession) SignOut() {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	if s.Current() == nil {
		return
	}
	s.publish(nil, time.Time{})
	s.log.Info("signed out")
}

// publish must be called with dispatchMu held.
func (s *TokenSession) publish(p *backend.Principal, expires time.Time) {
	s.mu.Lock()
	s.current = p
	s.epoch++
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if p != nil && !expires.IsZero() {
		epoch := s.epoch
		s.expiry = time.AfterFunc(expires.Sub(s.now()), func() { s.expire(epoch) })
	}
	fns := make([]func(*backend.Principal), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(p)
	}
}

func (s *TokenSession) expire(epoch uint64) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	stale := epoch != s.epoch || s.current == nil
	s.mu.Unlock()
	if stale {
		return
	}
	s.log.Info("id token expired")
	s.publish(nil, time.Time{})
}

func principalFromToken(tok *auth.Token) *backend.Principal {
	claims := make(map[string]any, len(tok.Claims))
	for k, v := range tok.Claims {
		claims[k] = v
	}
	email, _ := claims["email"].(string)
	return &backend.Principal{UID: tok.UID, Email: email, Claims: claims}
}
