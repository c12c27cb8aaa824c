// Package session keeps the authenticated user of a widget instance and the
// login providers that populate it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/willemliu/universal-comments/internal/comment/model"
	"github.com/willemliu/universal-comments/internal/observer"
)

// DefaultImage is shown for users whose provider has no avatar.
const DefaultImage = "//place-hold.it/50x50"

var (
	ErrMissingUUID = errors.New("backend returned user without uuid")
	ErrNoEmail     = errors.New("profile has no email")
)

// Upserter is the part of the backend gateway a login needs.
type Upserter interface {
	UpsertUser(ctx context.Context, p model.Profile) (model.User, error)
}

type Subscription = observer.Subscription

type Store struct {
	mu       sync.RWMutex
	user     model.User
	loggedIn bool

	listeners observer.List
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Current() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.loggedIn
}

func (s *Store) UUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.UUID
}

func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// SetReceiveMail mirrors a preference already saved in the backend.
func (s *Store) SetReceiveMail(receive bool) {
	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return
	}
	s.user.ReceiveMail = receive
	s.mu.Unlock()

	s.listeners.Notify()
}

func (s *Store) Clear() {
	s.mu.Lock()
	s.user = model.User{}
	s.loggedIn = false
	s.mu.Unlock()

	s.listeners.Notify()
}

func (s *Store) Subscribe(fn func()) Subscription {
	return s.listeners.Subscribe(fn)
}

func (s *Store) Unsubscribe(id Subscription) {
	s.listeners.Unsubscribe(id)
}

// Login authenticates credential with p, reconciles the identity with the
// backend and stores the result. The uuid always comes from the backend.
func (s *Store) Login(ctx context.Context, p Provider, credential string, users Upserter) (model.User, error) {
	profile, err := p.Authenticate(ctx, credential)
	if err != nil {
		return model.User{}, fmt.Errorf("%s login: %w", p.Name(), err)
	}
	profile.Provider = p.Name()
	profile.Email = strings.TrimSpace(profile.Email)
	if profile.Email == "" {
		return model.User{}, fmt.Errorf("%s login: %w", p.Name(), ErrNoEmail)
	}
	if profile.Image == "" {
		profile.Image = DefaultImage
	}

	u, err := users.UpsertUser(ctx, profile)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert %s: %w", profile.Email, err)
	}
	if u.UUID == "" {
		return model.User{}, ErrMissingUUID
	}

	s.mu.Lock()
	s.user = u
	s.loggedIn = true
	s.mu.Unlock()

	s.listeners.Notify()
	return u, nil
}
