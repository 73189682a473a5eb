package identity

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// idClaims are the ID token claims tcap reads.
type idClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	TokenUse      string `json:"token_use"`
	jwt.RegisteredClaims
}

// parseIDToken reads claims from an ID token without verifying its signature.
// The backend verifies tokens; the client only needs expiry and email.
func parseIDToken(raw string) (*idClaims, error) {
	claims := &idClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("parse id token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("id token has no exp claim")
	}
	return claims, nil
}

// sessionFromToken builds a Session from an ID token. fallbackEmail is used
// when the token lacks an email claim.
func sessionFromToken(raw, fallbackEmail string) (*Session, error) {
	claims, err := parseIDToken(raw)
	if err != nil {
		return nil, err
	}
	email := claims.Email
	if email == "" {
		email = fallbackEmail
	}
	return &Session{
		Email:     email,
		IDToken:   raw,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// expiringSoon reports whether s expires within skew of now.
func expiringSoon(s *Session, now time.Time, skew time.Duration) bool {
	return !s.ExpiresAt.After(now.Add(skew))
}
