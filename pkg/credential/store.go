// Package credential persists the durable mapping from relay token to a
// Slack identity and its OAuth credentials.
package credential

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("credential: record not found")

// Record is the durable credential of one Slack user. Token is the relay
// token held by the client and is the primary key; UserID is unique.
type Record struct {
	Token        string
	UserID       string
	Hostname     string
	AccessToken  string
	RefreshToken string
	CreatedAt    time.Time
	UserEmoji    string // empty when unset
}

// Store is the durable credential store.
type Store interface {
	FindByToken(ctx context.Context, token string) (*Record, error)
	FindByUserID(ctx context.Context, userID string) (*Record, error)
	TokenExists(ctx context.Context, token string) (bool, error)

	// Upsert inserts rec, or, when a record for rec.UserID already exists,
	// replaces its token, hostname and credentials in one atomic write.
	Upsert(ctx context.Context, rec *Record) error

	// UpdateCredentials stores a refreshed access/refresh pair.
	UpdateCredentials(ctx context.Context, token, accessToken, refreshToken string) error

	// SetEmoji sets or clears (empty emoji) the status emoji override.
	SetEmoji(ctx context.Context, userID, emoji string) error
}
