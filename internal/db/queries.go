package db

import (
	"context"
	"database/sql"
	stderrors "errors"

	"github.com/hpungsan/tcap/internal/errors"
)

// ErrNoSession is returned when no provider session is stored for a client.
var ErrNoSession = stderrors.New("no stored session")

// ProviderSession is the identity provider's persisted token set for one app client.
// Only the identity provider reads or writes these rows.
type ProviderSession struct {
	ClientID     string
	Username     string
	IDToken      string
	AccessToken  string
	RefreshToken string // may be empty
	UpdatedAt    int64  // unix seconds
}

// SaveSession inserts or replaces the session for s.ClientID.
func SaveSession(ctx context.Context, db *sql.DB, s *ProviderSession) error {
	query := `
		INSERT INTO provider_sessions (
			client_id, username, id_token, access_token, refresh_token, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET
			username = excluded.username,
			id_token = excluded.id_token,
			access_token = excluded.access_token,
			refresh_token = COALESCE(excluded.refresh_token, provider_sessions.refresh_token),
			updated_at = excluded.updated_at
	`

	_, err := db.ExecContext(ctx, query,
		s.ClientID, s.Username, s.IDToken, s.AccessToken,
		toNullString(s.RefreshToken), s.UpdatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LoadSession returns the stored session for clientID, or ErrNoSession.
func LoadSession(ctx context.Context, db *sql.DB, clientID string) (*ProviderSession, error) {
	query := `
		SELECT client_id, username, id_token, access_token, refresh_token, updated_at
		FROM provider_sessions
		WHERE client_id = ?
	`

	var (
		s       ProviderSession
		refresh sql.NullString
	)
	err := db.QueryRowContext(ctx, query, clientID).Scan(
		&s.ClientID, &s.Username, &s.IDToken, &s.AccessToken, &refresh, &s.UpdatedAt,
	)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, errors.NewInternal(err)
	}
	s.RefreshToken = refresh.String
	return &s, nil
}

// DeleteSession removes the stored session for clientID. Deleting a missing row is not an error.
func DeleteSession(ctx context.Context, db *sql.DB, clientID string) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM provider_sessions WHERE client_id = ?`, clientID); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// toNullString converts an empty string to SQL NULL.
func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
