package session

import (
	"context"
	"errors"
	"testing"

	"github.com/willemliu/universal-comments/internal/comment/model"
)

type stubProvider struct {
	profile model.Profile
	err     error
}

func (p stubProvider) Name() string { return "stub" }

func (p stubProvider) Authenticate(context.Context, string) (model.Profile, error) {
	return p.profile, p.err
}

type stubUsers struct {
	got  model.Profile
	user model.User
	err  error
}

func (u *stubUsers) UpsertUser(_ context.Context, p model.Profile) (model.User, error) {
	u.got = p
	return u.user, u.err
}

func TestLoginStoresBackendUser(t *testing.T) {
	s := NewStore()
	calls := 0
	s.Subscribe(func() { calls++ })

	users := &stubUsers{user: model.User{UUID: "u-1", Email: "a@example.com", ReceiveMail: true}}
	u, err := s.Login(context.Background(), stubProvider{profile: model.Profile{ProviderID: "1", Email: "a@example.com"}}, "cred", users)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if u.UUID != "u-1" || s.UUID() != "u-1" || !s.LoggedIn() {
		t.Fatalf("unexpected session state: %+v", u)
	}
	if users.got.Provider != "stub" || users.got.Image != DefaultImage {
		t.Fatalf("unexpected profile sent to backend: %+v", users.got)
	}
	if calls != 1 {
		t.Fatalf("expected one notification, got %d", calls)
	}
}

func TestLoginRejectsMissingUUID(t *testing.T) {
	s := NewStore()
	users := &stubUsers{user: model.User{Email: "a@example.com"}}

	_, err := s.Login(context.Background(), stubProvider{profile: model.Profile{Email: "a@example.com"}}, "cred", users)
	if !errors.Is(err, ErrMissingUUID) {
		t.Fatalf("expected ErrMissingUUID, got %v", err)
	}
	if s.LoggedIn() {
		t.Fatalf("session must stay empty")
	}
}

func TestLoginProviderFailure(t *testing.T) {
	s := NewStore()
	boom := errors.New("boom")
	_, err := s.Login(context.Background(), stubProvider{err: boom}, "cred", &stubUsers{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestClearNotifies(t *testing.T) {
	s := NewStore()
	users := &stubUsers{user: model.User{UUID: "u-1"}}
	if _, err := s.Login(context.Background(), stubProvider{profile: model.Profile{Email: "a@b.c"}}, "x", users); err != nil {
		t.Fatalf("Login: %v", err)
	}

	calls := 0
	id := s.Subscribe(func() { calls++ })
	s.Clear()
	if s.LoggedIn() || s.UUID() != "" {
		t.Fatalf("expected empty session after Clear")
	}
	s.Unsubscribe(id)
	s.Clear()
	if calls != 1 {
		t.Fatalf("expected 1 notification, got %d", calls)
	}
}
