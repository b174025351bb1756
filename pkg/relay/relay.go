// Package relay applies authenticated Slack operations on behalf of a paired
// client, refreshing an expired access token at most once per attempt.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"slackrpc/pkg/activity"
	"slackrpc/pkg/credential"
	"slackrpc/pkg/metrics"
	"slackrpc/pkg/oauth"
	"slackrpc/pkg/session"
)

// ErrUpstream means Slack failed for a reason other than authentication.
// It is not retried.
var ErrUpstream = errors.New("upstream unavailable")

// ReauthMessage is sent to a user whose credentials could not be refreshed.
const ReauthMessage = "Hi <@%s>! SlackRPC could not authenticate you. Please reauthenticate yourself with the command `slackrpc login`"

// Outcome describes how an operation attempt ended.
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeRefreshed
	OutcomeReauthNotified
	OutcomeSkippedPaused
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeRefreshed:
		return "refreshed"
	case OutcomeReauthNotified:
		return "reauth_notified"
	case OutcomeSkippedPaused:
		return "skipped_paused"
	default:
		return "unknown"
	}
}

// Operation is one authenticated call made with accessToken.
type Operation func(ctx context.Context, accessToken string) error

// IdentityProvider is the part of the Slack client the relay needs.
type IdentityProvider interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth.Grant, error)
	UpdateStatus(ctx context.Context, accessToken, text, emoji string, expiration int64) error
	Notify(ctx context.Context, userID, message string) error
}

// CredentialStore persists refreshed credentials.
type CredentialStore interface {
	UpdateCredentials(ctx context.Context, token, accessToken, refreshToken string) error
}

// Service applies operations under the refresh policy.
type Service struct {
	provider IdentityProvider
	creds    CredentialStore
	store    session.Store
}

// NewService creates a relay service. store holds the per-user pause flags.
func NewService(provider IdentityProvider, creds CredentialStore, store session.Store) *Service {
	return &Service{provider: provider, creds: creds, store: store}
}

// Apply runs op with rec's access token. On an auth-class failure the
// refresh token is exchanged once, the new pair is persisted and op is
// retried once. If the refresh or the retry fails with an auth-class error
// the user is told to re-authenticate and Apply returns OutcomeReauthNotified
// with a nil error. Any other provider failure wraps ErrUpstream.
//
// On refresh rec is updated in place with the new credentials.
func (s *Service) Apply(ctx context.Context, rec *credential.Record, op Operation) (Outcome, error) {
	err := op(ctx, rec.AccessToken)
	if err == nil {
		return OutcomeApplied, nil
	}
	if !oauth.IsAuthError(err) {
		return OutcomeApplied, upstream(err)
	}

	slog.Info("refresh.attempt", "user", rec.UserID, "kind", oauth.Classify(err))

	grant, err := s.provider.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		if oauth.IsAuthError(err) {
			metrics.RecordTokenRefreshFailure(oauth.Classify(err).String())
			slog.Warn("refresh.failure", "user", rec.UserID, "error", err)
			s.notifyReauth(ctx, rec.UserID)
			return OutcomeReauthNotified, nil
		}
		metrics.RecordTokenRefreshFailure("upstream")
		return OutcomeApplied, upstream(err)
	}

	if err := s.creds.UpdateCredentials(ctx, rec.Token, grant.AccessToken, grant.RefreshToken); err != nil {
		metrics.RecordTokenRefreshFailure("store")
		return OutcomeApplied, fmt.Errorf("save refreshed credentials: %w", err)
	}
	rec.AccessToken = grant.AccessToken
	rec.RefreshToken = grant.RefreshToken
	metrics.RecordTokenRefreshSuccess()
	slog.Info("refresh.success", "user", rec.UserID)

	err = op(ctx, rec.AccessToken)
	switch {
	case err == nil:
		return OutcomeRefreshed, nil
	case oauth.IsAuthError(err):
		slog.Warn("refresh.retry_rejected", "user", rec.UserID, "error", err)
		s.notifyReauth(ctx, rec.UserID)
		return OutcomeReauthNotified, nil
	default:
		return OutcomeRefreshed, upstream(err)
	}
}

// SetStatus shows activity a on the user's Slack profile unless the user paused
// updates.
func (s *Service) SetStatus(ctx context.Context, rec *credential.Record, a activity.Activity) (Outcome, error) {
	paused, err := s.store.Exists(ctx, session.PausedKey(rec.UserID))
	if err != nil {
		return OutcomeApplied, fmt.Errorf("check pause flag: %w", err)
	}
	if paused {
		metrics.RecordStatusUpdate(OutcomeSkippedPaused.String())
		slog.Debug("status.skipped", "user", rec.UserID, "reason", "paused")
		return OutcomeSkippedPaused, nil
	}
	return s.update(ctx, rec, activity.Format(a, rec.UserEmoji))
}

// ClearStatus removes the user's Slack status. It runs even when paused so
// a paused user can still be cleared.
func (s *Service) ClearStatus(ctx context.Context, rec *credential.Record) (Outcome, error) {
	return s.update(ctx, rec, activity.Cleared)
}

func (s *Service) update(ctx context.Context, rec *credential.Record, st activity.Status) (Outcome, error) {
	outcome, err := s.Apply(ctx, rec, func(ctx context.Context, accessToken string) error {
		return s.provider.UpdateStatus(ctx, accessToken, st.Text, st.Emoji, 0)
	})
	if err != nil {
		metrics.RecordStatusUpdate("error")
		return outcome, err
	}
	metrics.RecordStatusUpdate(outcome.String())
	return outcome, nil
}

// notifyReauth sends the re-authentication DM. Delivery failures are logged.
func (s *Service) notifyReauth(ctx context.Context, userID string) {
	if err := s.provider.Notify(ctx, userID, fmt.Sprintf(ReauthMessage, userID)); err != nil {
		metrics.RecordReauthNotification("failure")
		slog.Error("reauth.notify_failed", "user", userID, "error", err)
		return
	}
	metrics.RecordReauthNotification("success")
	slog.Info("reauth.notified", "user", userID)
}

func upstream(err error) error {
	return fmt.Errorf("%w: %v", ErrUpstream, err)
}
