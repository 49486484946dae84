package auth

import (
	"errors"
	"log/slog"
	"time"

	"github.com/coder/quartz"

	"github.com/voicecoach/coach/internal/observable"
)

// ErrNotSignedIn is returned when an operation needs a signed-in user.
var ErrNotSignedIn = errors.New("not signed in")

// User is the signed-in account.
type User struct {
	ID        string
	Email     string
	ExpiresAt time.Time
}

// Session holds the current user and publishes every change of it.
type Session struct {
	verifier *TokenVerifier
	clock    quartz.Clock
	current  *observable.Value[*User]
}

func NewSession(verifier *TokenVerifier) *Session {
	return &Session{
		verifier: verifier,
		clock:    verifier.clock,
		current:  observable.NewValue[*User](nil),
	}
}

// SignInWithToken verifies an identity token and makes its subject the
// current user.
func (s *Session) SignInWithToken(token string) (*User, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		slog.Warn("auth: sign-in rejected", "error", err)
		return nil, err
	}

	u := &User{ID: claims.UserID, Email: claims.Email}
	if claims.ExpiresAt != nil {
		u.ExpiresAt = claims.ExpiresAt.Time
	}
	s.current.Set(u)
	slog.Info("auth: signed in", "uid", u.ID)
	return u, nil
}

// SignOut clears the current user.
func (s *Session) SignOut() {
	if s.current.Get() == nil {
		return
	}
	s.current.Set(nil)
	slog.Info("auth: signed out")
}

// CurrentUser returns the signed-in user, or nil. A session whose token has
// expired counts as signed out.
func (s *Session) CurrentUser() *User {
	u := s.current.Get()
	if u == nil {
		return nil
	}
	if !u.ExpiresAt.IsZero() && !s.clock.Now().Before(u.ExpiresAt) {
		return nil
	}
	return u
}

// RequireUser returns the current user or ErrNotSignedIn.
func (s *Session) RequireUser() (*User, error) {
	u := s.CurrentUser()
	if u == nil {
		return nil, ErrNotSignedIn
	}
	return u, nil
}

// UserID returns the current user's id, or "" when signed out.
func (s *Session) UserID() string {
	if u := s.CurrentUser(); u != nil {
		return u.ID
	}
	return ""
}

// Users streams the current user; nil means signed out.
func (s *Session) Users() observable.Reader[*User] {
	return s.current
}
