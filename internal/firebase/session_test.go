package firebase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeVerifier struct {
	tokens map[string]*auth.Token
}

func (f *fakeVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	tok, ok := f.tokens[idToken]
	if !ok {
		return nil, errors.New("invalid token")
	}
	return tok, nil
}

func token(uid string, ttl time.Duration) *auth.Token {
	return &auth.Token{
		UID:     uid,
		Expires: time.Now().Add(ttl).Unix(),
		Claims:  map[string]interface{}{"email": uid + "@example.com"},
	}
}

// recorder collects auth callbacks.
type recorder struct {
	mu  sync.Mutex
	got []string
}

func (r *recorder) observe(p *backend.Principal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p == nil {
		r.got = append(r.got, "-")
		return
	}
	r.got = append(r.got, p.UID)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.got...)
}

func TestTokenSession_SignInOut(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{tokens: map[string]*auth.Token{
		"ann-token": token("ann", time.Hour),
	}}, zap.NewNop())

	rec := &recorder{}
	cancel := s.OnAuthStateChanged(rec.observe)
	defer cancel()

	p, err := s.SignIn(context.Background(), "ann-token")
	require.NoError(t, err)
	assert.Equal(t, "ann", p.UID)
	assert.Equal(t, "ann@example.com", p.Email)
	assert.Equal(t, "ann", s.Current().UID)

	s.SignOut()
	s.SignOut()
	assert.Nil(t, s.Current())

	assert.Equal(t, []string{"-", "ann", "-"}, rec.events())
}

func TestTokenSession_NewListenerSeesCurrent(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{tokens: map[string]*auth.Token{
		"t": token("bob", time.Hour),
	}}, zap.NewNop())
	_, err := s.SignIn(context.Background(), "t")
	require.NoError(t, err)

	rec := &recorder{}
	cancel := s.OnAuthStateChanged(rec.observe)
	cancel()
	s.SignOut()

	assert.Equal(t, []string{"bob"}, rec.events(), "cancelled listener gets no further events")
}

func TestTokenSession_SwitchUser(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{tokens: map[string]*auth.Token{
		"a": token("ann", time.Hour),
		"b": token("bob", time.Hour),
	}}, zap.NewNop())
	rec := &recorder{}
	defer s.OnAuthStateChanged(rec.observe)()

	_, err := s.SignIn(context.Background(), "a")
	require.NoError(t, err)
	_, err = s.SignIn(context.Background(), "a")
	require.NoError(t, err)
	_, err = s.SignIn(context.Background(), "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"-", "ann", "ann", "-", "bob"}, rec.events())
}

func TestTokenSession_Errors(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{}, zap.NewNop())

	_, err := s.SignIn(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyToken)

	_, err = s.SignIn(context.Background(), "forged")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify id token")
	assert.Nil(t, s.Current())
}

func TestTokenSession_Authorize(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{tokens: map[string]*auth.Token{
		"ann-token": token("ann", time.Hour),
		"bob-token": token("bob", time.Hour),
	}}, zap.NewNop())
	ctx := context.Background()

	_, err := s.Authorize(ctx, "ann-token")
	assert.ErrorIs(t, err, ErrSessionMismatch, "nobody signed in")

	_, err = s.SignIn(ctx, "ann-token")
	require.NoError(t, err)

	p, err := s.Authorize(ctx, "ann-token")
	require.NoError(t, err)
	assert.Equal(t, "ann", p.UID)

	_, err = s.Authorize(ctx, "bob-token")
	assert.ErrorIs(t, err, ErrSessionMismatch, "another user's token")
	assert.Equal(t, "ann", s.Current().UID, "authorize never changes the session")

	_, err = s.Authorize(ctx, "forged")
	assert.ErrorContains(t, err, "verify id token")

	_, err = s.Authorize(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestTokenSession_ExpirySignsOut(t *testing.T) {
	s := NewTokenSession(&fakeVerifier{tokens: map[string]*auth.Token{
		"short": {UID: "ann", Expires: time.Now().Unix()},
	}}, zap.NewNop())
	s.now = func() time.Time { return time.Now().Add(time.Second) }

	rec := &recorder{}
	defer s.OnAuthStateChanged(rec.observe)()

	_, err := s.SignIn(context.Background(), "short")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Current() == nil }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"-", "ann", "-"}, rec.events())
}

func TestApp_BackendAndNilClose(t *testing.T) {
	a := &App{Collections: NewCollectionSource(nil, zap.NewNop()), Session: NewTokenSession(&fakeVerifier{}, zap.NewNop())}
	b := a.Backend("main")
	assert.Equal(t, "main", b.Name)
	assert.Same(t, a.Collections, b.Collections)
	assert.Same(t, a.Session, b.Auth)

	var nilApp *App
	assert.NoError(t, nilApp.Close())
	assert.NoError(t, a.Close())
}

func TestNewApp_RequiresProject(t *testing.T) {
	_, err := NewApp(context.Background(), Config{}, zap.NewNop())
	require.Error(t, err)
}
