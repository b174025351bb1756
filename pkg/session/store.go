// Package session holds the short-lived correlation state of the pairing
// protocol: hostname bindings, OAuth states and staged relay tokens.
//
// Every artifact lives in a Store under a purpose-namespaced key and expires
// through its TTL. The pairing service keeps no state of its own, so several
// server instances can share one Store.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("session: key not found")

// Store is a key-value store with per-key expiry.
//
// GetAndDelete and Swap must be atomic in the backing store: two callers racing
// on the same key must never both observe the same value.
// A ttl of zero stores the key without expiry.
type Store interface {
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	GetAndDelete(ctx context.Context, key string) (string, error)
	// Swap stores value under key and returns the previous value, if any.
	Swap(ctx context.Context, key, value string, ttl time.Duration) (old string, existed bool, err error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Key prefixes. The hostname binding uses the bare hostname.
const (
	authPrefix   = "auth:"
	pollPrefix   = "poll:"
	statePrefix  = "CORS:"
	pausedPrefix = "paused:"
)

// AuthKey maps a pairing code to the hostname that requested it.
func AuthKey(code string) string { return authPrefix + code }

// PollKey holds the relay token staged for a pairing code.
func PollKey(code string) string { return pollPrefix + code }

// StateKey marks an OAuth state value as issued by this server.
func StateKey(state string) string { return statePrefix + state }

// PausedKey flags a Slack user whose status updates are paused.
func PausedKey(userID string) string { return pausedPrefix + userID }

// HostKey maps a hostname to its live pairing code.
func HostKey(hostname string) string { return hostname }
