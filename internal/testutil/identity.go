// Package testutil provides in-memory fakes of tcap's external collaborators.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/identity"
)

// VerificationCode is the code FakeProvider accepts for every user.
const VerificationCode = "123456"

type fakeUser struct {
	password  string
	confirmed bool
}

// FakeProvider is an in-memory identity.Provider.
// Errors set on the exported fields are returned by the matching call.
type FakeProvider struct {
	mu    sync.Mutex
	users map[string]*fakeUser
	saved *identity.Session

	SignOutErr   error
	CurrentErr   error
	CurrentDelay time.Duration
	TTL          time.Duration

	Calls []string
}

// NewFakeProvider creates an empty provider.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		users: make(map[string]*fakeUser),
		TTL:   time.Hour,
	}
}

// AddUser registers a confirmed user directly.
func (p *FakeProvider) AddUser(email, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[email] = &fakeUser{password: password, confirmed: true}
}

// Persist stores sess as if a previous process had logged in.
func (p *FakeProvider) Persist(sess *identity.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved = sess
}

// Stored returns the persisted session, if any.
func (p *FakeProvider) Stored() *identity.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saved
}

// Token returns the ID token FakeProvider issues for email.
func Token(email string) string {
	return "id-token:" + email
}

func (p *FakeProvider) record(call string) {
	p.Calls = append(p.Calls, call)
}

func (p *FakeProvider) SignUp(_ context.Context, email, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SignUp")

	if _, ok := p.users[email]; ok {
		return errors.NewAuth(errors.ReasonUserExists, "An account with this email already exists", nil)
	}
	if len(password) < 4 {
		return errors.NewAuth(errors.ReasonWeakPassword, "Password does not meet requirements", nil)
	}
	p.users[email] = &fakeUser{password: password}
	return nil
}

func (p *FakeProvider) ConfirmSignUp(_ context.Context, email, code string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ConfirmSignUp")

	u, ok := p.users[email]
	if !ok {
		return errors.NewAuth(errors.ReasonNoSuchUser, "No account found for this email", nil)
	}
	if code != VerificationCode {
		return errors.NewAuth(errors.ReasonCodeMismatch, "Invalid verification code", nil)
	}
	u.confirmed = true
	return nil
}

func (p *FakeProvider) ResendCode(_ context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("ResendCode")

	u, ok := p.users[email]
	if !ok || u.confirmed {
		return errors.NewAuth(errors.ReasonNoSuchUser, "No pending user for this email", nil)
	}
	return nil
}

func (p *FakeProvider) Authenticate(_ context.Context, email, password string) (*identity.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("Authenticate")

	u, ok := p.users[email]
	if !ok || u.password != password {
		return nil, errors.NewAuth(errors.ReasonBadCredentials, "Incorrect email or password", nil)
	}
	if !u.confirmed {
		return nil, errors.NewAuth(errors.ReasonUnconfirmed, "Please verify your email before logging in", nil)
	}
	p.saved = &identity.Session{
		Email:     email,
		IDToken:   Token(email),
		ExpiresAt: time.Now().Add(p.TTL),
	}
	return p.saved, nil
}

func (p *FakeProvider) CurrentSession(ctx context.Context) (*identity.Session, error) {
	p.mu.Lock()
	p.record("CurrentSession")
	delay, err, saved := p.CurrentDelay, p.CurrentErr, p.saved
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (p *FakeProvider) SignOut(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("SignOut")

	p.saved = nil
	return p.SignOutErr
}
