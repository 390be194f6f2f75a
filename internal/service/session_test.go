package service

import (
	"context"
	"errors"
	"testing"

	"github.com/atinyakov/firewatch/internal/backend"
	"github.com/atinyakov/firewatch/internal/models"
)

type mockAuthenticator struct {
	SignInFunc  func(ctx context.Context, idToken string) (*backend.Principal, error)
	signOutHits int
	current     *backend.Principal
}

func (m *mockAuthenticator) SignIn(ctx context.Context, idToken string) (*backend.Principal, error) {
	return m.SignInFunc(ctx, idToken)
}
func (m *mockAuthenticator) Authorize(_ context.Context, idToken string) (*backend.Principal, error) {
	if m.current == nil || idToken != "token-"+m.current.UID {
		return nil, errors.New("session mismatch")
	}
	return m.current, nil
}
func (m *mockAuthenticator) SignOut() { m.signOutHits++; m.current = nil }
func (m *mockAuthenticator) Current() *backend.Principal { return m.current }

func TestSignIn_Success(t *testing.T) {
	auth := &mockAuthenticator{
		SignInFunc: func(ctx context.Context, idToken string) (*backend.Principal, error) {
			if idToken != "tok" {
				t.Errorf("SignIn received token = %q; want %q", idToken, "tok")
			}
			return &backend.Principal{UID: "u1", Email: "ann@example.com"}, nil
		},
	}
	svc := NewSessionService(auth)

	got, err := svc.SignIn(context.Background(), "tok")
	if err != nil {
		t.Fatalf("SignIn returned error: %v", err)
	}
	want := models.Session{SignedIn: true, UID: "u1", Email: "ann@example.com"}
	if got != want {
		t.Errorf("SignIn = %+v; want %+v", got, want)
	}
}

func TestSignIn_Error(t *testing.T) {
	wantErr := errors.New("invalid token")
	svc := NewSessionService(&mockAuthenticator{
		SignInFunc: func(context.Context, string) (*backend.Principal, error) { return nil, wantErr },
	})

	got, err := svc.SignIn(context.Background(), "bad")
	if err != wantErr {
		t.Fatalf("SignIn error = %v; want %v", err, wantErr)
	}
	if got.SignedIn {
		t.Errorf("SignIn = %+v; want signed out on error", got)
	}
}

func TestSignOutAndCurrent(t *testing.T) {
	auth := &mockAuthenticator{current: &backend.Principal{UID: "u9"}}
	svc := NewSessionService(auth)

	if cur := svc.Current(); !cur.SignedIn || cur.UID != "u9" {
		t.Errorf("Current = %+v; want signed in as u9", cur)
	}
	if got := svc.SignOut(); got.SignedIn {
		t.Errorf("SignOut = %+v; want signed out", got)
	}
	if auth.signOutHits != 1 {
		t.Errorf("SignOut calls = %d; want 1", auth.signOutHits)
	}
	if cur := svc.Current(); cur.SignedIn {
		t.Errorf("Current after SignOut = %+v", cur)
	}
}

func TestAuthorize(t *testing.T) {
	svc := NewSessionService(&mockAuthenticator{current: &backend.Principal{UID: "u1"}})

	if err := svc.Authorize(context.Background(), "token-u1"); err != nil {
		t.Errorf("Authorize(own token) error = %v; want nil", err)
	}
	if err := svc.Authorize(context.Background(), "token-u2"); err == nil {
		t.Error("Authorize(other user's token) error = nil; want error")
	}
}
