// Package session owns the current user's identity and bearer token.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hpungsan/tcap/internal/errors"
	"github.com/hpungsan/tcap/internal/identity"
)

// DefaultCheckTimeout bounds CurrentSession when no timeout is configured.
const DefaultCheckTimeout = 10 * time.Second

// Manager wraps an identity provider and caches the logged-in session in memory.
// It is safe for concurrent use.
type Manager struct {
	provider     identity.Provider
	checkTimeout time.Duration
	logger       *slog.Logger

	mu           sync.RWMutex
	current      *identity.Session
	pendingEmail string
}

// Options configures a Manager.
type Options struct {
	CheckTimeout time.Duration
	Logger       *slog.Logger
}

// New creates a Manager over provider.
func New(provider identity.Provider, opts Options) *Manager {
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = DefaultCheckTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		provider:     provider,
		checkTimeout: opts.CheckTimeout,
		logger:       opts.Logger,
	}
}

// Register creates an unconfirmed account and remembers email for verification.
func (m *Manager) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return errors.NewValidation("email and password are required")
	}
	if err := m.provider.SignUp(ctx, email, password); err != nil {
		return err
	}

	m.mu.Lock()
	m.pendingEmail = email
	m.mu.Unlock()
	return nil
}

// VerifyEmail confirms an account with the emailed code.
// An empty email falls back to the pending registration.
func (m *Manager) VerifyEmail(ctx context.Context, email, code string) error {
	email, err := m.resolveEmail(email)
	if err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return errors.NewValidation("verification code is required")
	}
	if err := m.provider.ConfirmSignUp(ctx, email, code); err != nil {
		return err
	}

	m.mu.Lock()
	if m.pendingEmail == email {
		m.pendingEmail = ""
	}
	m.mu.Unlock()
	return nil
}

// ResendVerificationCode sends a new code. An empty email falls back to the pending registration.
func (m *Manager) ResendVerificationCode(ctx context.Context, email string) error {
	email, err := m.resolveEmail(email)
	if err != nil {
		return err
	}
	return m.provider.ResendCode(ctx, email)
}

// Login exchanges credentials for a session and caches it for the process lifetime.
func (m *Manager) Login(ctx context.Context, email, password string) (*identity.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, errors.NewValidation("email and password are required")
	}
	sess, err := m.provider.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.current = sess
	m.pendingEmail = ""
	m.mu.Unlock()
	return sess, nil
}

// Logout clears the local session unconditionally. Remote sign-out is best-effort.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.current = nil
	m.pendingEmail = ""
	m.mu.Unlock()

	if err := m.provider.SignOut(ctx); err != nil {
		m.logger.Warn("remote sign-out failed", "error", err)
	}
}

// CurrentSession rehydrates a persisted provider session.
// It returns nil when there is none, when it is invalid, or when the check fails or times out.
func (m *Manager) CurrentSession(ctx context.Context) *identity.Session {
	ctx, cancel := context.WithTimeout(ctx, m.checkTimeout)
	defer cancel()

	type result struct {
		sess *identity.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := m.provider.CurrentSession(ctx)
		done <- result{sess, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		m.logger.Warn("session check timed out", "timeout", m.checkTimeout)
		m.clear()
		return nil
	}

	if r.err != nil {
		m.logger.Warn("session check failed", "error", r.err)
		m.clear()
		return nil
	}
	if !r.sess.Valid(time.Now()) {
		m.clear()
		return nil
	}

	m.mu.Lock()
	m.current = r.sess
	m.mu.Unlock()
	return r.sess
}

// Token returns the bearer token, or "" when logged out.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.IDToken
}

// Email returns the logged-in user's email, or "".
func (m *Manager) Email() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return ""
	}
	return m.current.Email
}

// LoggedIn reports whether a session is cached.
func (m *Manager) LoggedIn() bool {
	return m.Token() != ""
}

// PendingEmail returns the email awaiting verification, or "".
func (m *Manager) PendingEmail() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingEmail
}

func (m *Manager) clear() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
}

func (m *Manager) resolveEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email != "" {
		return email, nil
	}
	if pending := m.PendingEmail(); pending != "" {
		return pending, nil
	}
	return "", errors.NewAuth(errors.ReasonNoSuchUser, "No pending verification. Please register first", nil)
}
