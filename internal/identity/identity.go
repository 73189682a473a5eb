// Package identity talks to the hosted user pool that owns tcap accounts.
package identity

import (
	"context"
	"time"
)

// Session is an authenticated provider session.
type Session struct {
	Email     string
	IDToken   string // forwarded verbatim as the bearer token
	ExpiresAt time.Time
}

// Valid reports whether the session's ID token is still usable at now.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.IDToken != "" && now.Before(s.ExpiresAt)
}

// Provider is the identity provider boundary.
//
// Implementations persist their own session storage; CurrentSession reads it back.
// All failures are returned as *errors.TcapError with code AUTH.
type Provider interface {
	SignUp(ctx context.Context, email, password string) error
	ConfirmSignUp(ctx context.Context, email, code string) error
	ResendCode(ctx context.Context, email string) error
	Authenticate(ctx context.Context, email, password string) (*Session, error)

	// CurrentSession returns the persisted session, refreshing it if needed.
	// Returns (nil, nil) when nothing is stored.
	CurrentSession(ctx context.Context) (*Session, error)

	// SignOut forgets the local session, then revokes it remotely.
	// The local session is gone even when the returned error is non-nil.
	SignOut(ctx context.Context) error
}
