// Package pairing binds a headless client's pairing code to a browser-completed
// Slack OAuth exchange and delivers the resulting relay token to the client.
//
// Per code the protocol moves through
//
//	ISSUED (Start) -> REDEEMED (Callback) -> DELIVERED (Poll)
//
// and ends EXPIRED when a TTL elapses first, or FAILED when the OAuth exchange
// is rejected. All state lives in a session.Store.
package pairing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"slackrpc/pkg/credential"
	"slackrpc/pkg/metrics"
	"slackrpc/pkg/oauth"
	"slackrpc/pkg/session"
	"slackrpc/pkg/validation"
)

// DefaultTTL is the lifetime of every pairing artifact.
const DefaultTTL = 6000 * time.Second

// maxTokenAttempts bounds relay-token generation against collisions.
const maxTokenAttempts = 8

// IdentityProvider is the part of the Slack client the pairing flow needs.
type IdentityProvider interface {
	AuthCodeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*oauth.Grant, error)
}

// CredentialStore is the part of the credential store the pairing flow needs.
type CredentialStore interface {
	TokenExists(ctx context.Context, token string) (bool, error)
	Upsert(ctx context.Context, rec *credential.Record) error
}

// Config holds the pairing TTLs.
type Config struct {
	BindingTTL time.Duration // hostname <-> code binding
	StateTTL   time.Duration // OAuth state (CSRF guard)
	PollTTL    time.Duration // staged relay token
}

// DefaultConfig returns the reference TTLs.
func DefaultConfig() Config {
	return Config{
		BindingTTL: DefaultTTL,
		StateTTL:   DefaultTTL,
		PollTTL:    DefaultTTL,
	}
}

// PollStatus is the client-visible pairing status.
type PollStatus string

const (
	StatusWaiting  PollStatus = "waiting"
	StatusComplete PollStatus = "complete"
)

// PollResult is the answer to a poll.
type PollResult struct {
	Status PollStatus `json:"status"`
	Token  string     `json:"token,omitempty"`
}

// Service runs the pairing protocol.
type Service struct {
	store    session.Store
	creds    CredentialStore
	provider IdentityProvider
	cfg      Config

	now      func() time.Time
	newToken func() (string, error)
}

// NewService creates a pairing service. Zero TTLs in cfg take DefaultTTL.
func NewService(store session.Store, creds CredentialStore, provider IdentityProvider, cfg Config) *Service {
	if cfg.BindingTTL <= 0 {
		cfg.BindingTTL = DefaultTTL
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultTTL
	}
	if cfg.PollTTL <= 0 {
		cfg.PollTTL = DefaultTTL
	}
	return &Service{
		store:    store,
		creds:    creds,
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		newToken: GenerateRelayToken,
	}
}

// Start binds code to hostname, issues an OAuth state and returns the Slack
// authorization URL.
//
// A hostname that already has a live binding is rotated: the previous code's
// auth binding is removed so the earlier attempt can no longer complete.
// The code's own binding is written before the hostname is swapped to it, so
// whichever of two overlapping Starts swaps last deletes the other's binding
// and exactly one code stays live.
func (s *Service) Start(ctx context.Context, code, hostname string) (string, error) {
	if err := validation.ValidateCode(code); err != nil {
		metrics.RecordPairingStart("failure", "invalid_code")
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := validation.ValidateHostname(hostname); err != nil {
		metrics.RecordPairingStart("failure", "invalid_hostname")
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	nonce, err := GenerateStateNonce()
	if err != nil {
		metrics.RecordPairingStart("failure", "nonce")
		return "", err
	}
	state := NewState(code, nonce)

	if err := s.store.SetWithTTL(ctx, session.AuthKey(code), hostname, s.cfg.BindingTTL); err != nil {
		metrics.RecordPairingStart("failure", "store")
		return "", fmt.Errorf("bind code: %w", err)
	}
	if err := s.store.SetWithTTL(ctx, session.StateKey(state), "1", s.cfg.StateTTL); err != nil {
		s.abortStart(ctx, code, "")
		return "", fmt.Errorf("store state: %w", err)
	}

	old, existed, err := s.store.Swap(ctx, session.HostKey(hostname), code, s.cfg.BindingTTL)
	if err != nil {
		s.abortStart(ctx, code, state)
		return "", fmt.Errorf("bind hostname: %w", err)
	}
	rotated := existed && old != code
	if rotated {
		if err := s.store.Delete(ctx, session.AuthKey(old)); err != nil {
			s.abortStart(ctx, code, state)
			return "", fmt.Errorf("remove stale binding: %w", err)
		}
		metrics.HostnameRotations.Inc()
	}

	metrics.RecordPairingStart("success", "")
	slog.Info("pairing.start", "code", code, "hostname", hostname, "rotated", rotated)

	return s.provider.AuthCodeURL(state), nil
}

// abortStart removes what a failed Start already wrote. Cleanup is best
// effort and outlives a cancelled request context.
func (s *Service) abortStart(ctx context.Context, code, state string) {
	metrics.RecordPairingStart("failure", "store")
	ctx = context.WithoutCancel(ctx)
	keys := []string{session.AuthKey(code)}
	if state != "" {
		keys = append(keys, session.StateKey(state))
	}
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			slog.Warn("pairing.start.cleanup_failed", "code", code, "error", err)
		}
	}
}

// Callback completes the OAuth exchange for state and stages a new relay
// token for the originating code. An empty providerCode (the user denied
// access) consumes the pairing and fails with ErrOAuthExchangeFailed.
func (s *Service) Callback(ctx context.Context, providerCode, state string) error {
	if state == "" {
		metrics.RecordCallbackFailure("invalid_state")
		return ErrInvalidState
	}

	// One atomic consume: two racing callbacks cannot both pass.
	if _, err := s.store.GetAndDelete(ctx, session.StateKey(state)); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			metrics.RecordCallbackFailure("invalid_state")
			slog.Warn("pairing.callback.rejected", "reason", "unknown_state")
			return ErrInvalidState
		}
		return fmt.Errorf("consume state: %w", err)
	}

	code, ok := CodeFromState(state)
	if !ok {
		metrics.RecordCallbackFailure("invalid_state")
		return ErrInvalidState
	}

	hostname, err := s.store.GetAndDelete(ctx, session.AuthKey(code))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			metrics.RecordCallbackFailure("invalid_state")
			slog.Warn("pairing.callback.rejected", "code", code, "reason", "unbound_code")
			return ErrInvalidState
		}
		return fmt.Errorf("consume code: %w", err)
	}

	if providerCode == "" {
		metrics.RecordCallbackFailure("denied")
		slog.Warn("pairing.callback.failed", "code", code, "reason", "no_authorization_code")
		return fmt.Errorf("%w: no authorization code", ErrOAuthExchangeFailed)
	}

	grant, err := s.provider.ExchangeCode(ctx, providerCode)
	if err != nil {
		metrics.RecordCallbackFailure("exchange_failed")
		slog.Warn("pairing.callback.failed", "code", code, "reason", "exchange_failed", "error", err)
		return fmt.Errorf("%w: %v", ErrOAuthExchangeFailed, err)
	}
	if grant.UserID == "" || grant.AccessToken == "" {
		metrics.RecordCallbackFailure("missing_user")
		return fmt.Errorf("%w: response missing user id", ErrOAuthExchangeFailed)
	}

	token, err := s.issueToken(ctx)
	if err != nil {
		metrics.RecordCallbackFailure("token_generation")
		return err
	}

	rec := &credential.Record{
		Token:        token,
		UserID:       grant.UserID,
		Hostname:     hostname,
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.creds.Upsert(ctx, rec); err != nil {
		metrics.RecordCallbackFailure("store")
		return fmt.Errorf("save credentials: %w", err)
	}

	if err := s.store.SetWithTTL(ctx, session.PollKey(code), token, s.cfg.PollTTL); err != nil {
		metrics.RecordCallbackFailure("stage_token")
		return fmt.Errorf("stage token: %w", err)
	}

	metrics.RecordCallbackSuccess()
	slog.Info("pairing.callback", "code", code, "hostname", hostname, "user", grant.UserID)
	return nil
}

// Poll delivers the staged relay token for code at most once. Not yet
// completed and already delivered both answer StatusWaiting.
func (s *Service) Poll(ctx context.Context, code string) (PollResult, error) {
	if err := validation.ValidateCode(code); err != nil {
		return PollResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	token, err := s.store.GetAndDelete(ctx, session.PollKey(code))
	if errors.Is(err, session.ErrNotFound) {
		metrics.RecordPoll(string(StatusWaiting))
		return PollResult{Status: StatusWaiting}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("consume staged token: %w", err)
	}

	metrics.RecordPoll(string(StatusComplete))
	slog.Info("pairing.delivered", "code", code)
	return PollResult{Status: StatusComplete, Token: token}, nil
}

func (s *Service) issueToken(ctx context.Context) (string, error) {
	for range maxTokenAttempts {
		token, err := s.newToken()
		if err != nil {
			return "", err
		}
		exists, err := s.creds.TokenExists(ctx, token)
		if err != nil {
			return "", fmt.Errorf("check token collision: %w", err)
		}
		if !exists {
			return token, nil
		}
		slog.Warn("pairing.token_collision")
	}
	return "", fmt.Errorf("could not generate a unique relay token after %d attempts", maxTokenAttempts)
}
