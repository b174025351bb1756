package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackrpc/pkg/activity"
	"slackrpc/pkg/credential"
	"slackrpc/pkg/oauth"
	"slackrpc/pkg/session"
)

func slackErr(code string) error {
	return &oauth.Error{Op: "test", Kind: oauth.KindFromCode(code), Code: code, Err: errors.New(code)}
}

type statusCall struct {
	token, text, emoji string
}

type fakeProvider struct {
	mu sync.Mutex

	updateErrs []error // consumed one per UpdateStatus call
	refreshErr error
	grant      *oauth.Grant
	notifyErr  error

	updates   []statusCall
	refreshes []string
	notified  []string
}

func (p *fakeProvider) UpdateStatus(_ context.Context, accessToken, text, emoji string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, statusCall{accessToken, text, emoji})
	if len(p.updateErrs) == 0 {
		return nil
	}
	err := p.updateErrs[0]
	p.updateErrs = p.updateErrs[1:]
	return err
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*oauth.Grant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes = append(p.refreshes, refreshToken)
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.grant, nil
}

func (p *fakeProvider) Notify(_ context.Context, userID, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notified = append(p.notified, userID+"|"+message)
	return p.notifyErr
}

type fakeCreds struct {
	updates [][3]string
	err     error
}

func (c *fakeCreds) UpdateCredentials(_ context.Context, token, access, refresh string) error {
	if c.err != nil {
		return c.err
	}
	c.updates = append(c.updates, [3]string{token, access, refresh})
	return nil
}

func newRecord() *credential.Record {
	return &credential.Record{
		Token:        "relay-token",
		UserID:       "U123",
		Hostname:     "laptop1",
		AccessToken:  "xoxp-old",
		RefreshToken: "xoxe-old",
	}
}

func newTestService(p *fakeProvider, c *fakeCreds) (*Service, *session.MemoryStore) {
	store := session.NewMemoryStore()
	return NewService(p, c, store), store
}

func TestApply_Success(t *testing.T) {
	p := &fakeProvider{}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	outcome, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "Factorio"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	require.Len(t, p.updates, 1)
	assert.Equal(t, statusCall{"xoxp-old", "Playing Factorio", ":joystick:"}, p.updates[0])
	assert.Empty(t, p.refreshes)
	assert.Empty(t, c.updates)
}

func TestApply_RefreshThenRetry(t *testing.T) {
	for _, code := range []string{"token_expired", "invalid_auth", "token_revoked"} {
		t.Run(code, func(t *testing.T) {
			p := &fakeProvider{
				updateErrs: []error{slackErr(code)},
				grant:      &oauth.Grant{UserID: "U123", AccessToken: "xoxp-new", RefreshToken: "xoxe-new"},
			}
			c := &fakeCreds{}
			svc, _ := newTestService(p, c)
			rec := newRecord()

			outcome, err := svc.SetStatus(context.Background(), rec, activity.Activity{Name: "Factorio"})
			require.NoError(t, err)
			assert.Equal(t, OutcomeRefreshed, outcome)

			assert.Equal(t, []string{"xoxe-old"}, p.refreshes)
			assert.Equal(t, [][3]string{{"relay-token", "xoxp-new", "xoxe-new"}}, c.updates)
			require.Len(t, p.updates, 2)
			assert.Equal(t, "xoxp-new", p.updates[1].token)
			assert.Empty(t, p.notified)
			assert.Equal(t, "xoxp-new", rec.AccessToken)
			assert.Equal(t, "xoxe-new", rec.RefreshToken)
		})
	}
}

func TestApply_ExpiredTwiceNotifiesOnce(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("token_expired"), slackErr("token_expired"), slackErr("token_expired")},
		grant:      &oauth.Grant{UserID: "U123", AccessToken: "xoxp-new", RefreshToken: "xoxe-new"},
	}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	outcome, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "Factorio"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeReauthNotified, outcome)

	assert.Len(t, p.refreshes, 1)
	assert.Len(t, p.updates, 2)
	assert.Len(t, c.updates, 1)
	require.Len(t, p.notified, 1)
	assert.Contains(t, p.notified[0], "U123|Hi <@U123>! SlackRPC could not authenticate you.")
}

func TestApply_RefreshRejectedNotifies(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("invalid_auth")},
		refreshErr: slackErr("invalid_refresh_token"),
	}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	outcome, err := svc.ClearStatus(context.Background(), newRecord())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReauthNotified, outcome)
	assert.Len(t, p.updates, 1)
	assert.Empty(t, c.updates, "nothing is persisted before the provider confirms new credentials")
	assert.Len(t, p.notified, 1)
}

func TestApply_NotifyFailureIsSwallowed(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("token_revoked")},
		refreshErr: slackErr("token_revoked"),
		notifyErr:  errors.New("channel_not_found"),
	}
	svc, _ := newTestService(p, &fakeCreds{})

	outcome, err := svc.ClearStatus(context.Background(), newRecord())
	require.NoError(t, err)
	assert.Equal(t, OutcomeReauthNotified, outcome)
}

func TestApply_NonAuthErrorIsUpstream(t *testing.T) {
	p := &fakeProvider{updateErrs: []error{slackErr("ratelimited")}}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	_, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "x"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Len(t, p.updates, 1)
	assert.Empty(t, p.refreshes)
	assert.Empty(t, p.notified)
}

func TestApply_RefreshUpstreamFailure(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("token_expired")},
		refreshErr: errors.New("connection refused"),
	}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	_, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "x"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Empty(t, c.updates)
	assert.Empty(t, p.notified)
}

func TestApply_RetryUpstreamFailure(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("token_expired"), errors.New("503")},
		grant:      &oauth.Grant{AccessToken: "xoxp-new", RefreshToken: "xoxe-new"},
	}
	c := &fakeCreds{}
	svc, _ := newTestService(p, c)

	_, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "x"})
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Len(t, c.updates, 1)
	assert.Empty(t, p.notified)
}

func TestApply_PersistFailureStopsRetry(t *testing.T) {
	p := &fakeProvider{
		updateErrs: []error{slackErr("token_expired")},
		grant:      &oauth.Grant{AccessToken: "xoxp-new", RefreshToken: "xoxe-new"},
	}
	c := &fakeCreds{err: credential.ErrNotFound}
	svc, _ := newTestService(p, c)

	_, err := svc.SetStatus(context.Background(), newRecord(), activity.Activity{Name: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.Len(t, p.updates, 1)
}

func TestSetStatus_Paused(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	svc, store := newTestService(p, &fakeCreds{})
	require.NoError(t, store.SetWithTTL(ctx, session.PausedKey("U123"), "1", 0))

	outcome, err := svc.SetStatus(ctx, newRecord(), activity.Activity{Name: "Factorio"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedPaused, outcome)
	assert.Empty(t, p.updates)

	// Clearing still goes through.
	outcome, err = svc.ClearStatus(ctx, newRecord())
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	require.Len(t, p.updates, 1)
	assert.Equal(t, statusCall{"xoxp-old", "", ""}, p.updates[0])
}

func TestSetStatus_UserEmojiOverride(t *testing.T) {
	p := &fakeProvider{}
	svc, _ := newTestService(p, &fakeCreds{})
	rec := newRecord()
	rec.UserEmoji = ":gear:"

	_, err := svc.SetStatus(context.Background(), rec, activity.Activity{Name: "Factorio", Type: activity.TypeWatching})
	require.NoError(t, err)
	require.Len(t, p.updates, 1)
	assert.Equal(t, ":gear:", p.updates[0].emoji)
	assert.Equal(t, "Watching Factorio", p.updates[0].text)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "applied", OutcomeApplied.String())
	assert.Equal(t, "refreshed", OutcomeRefreshed.String())
	assert.Equal(t, "reauth_notified", OutcomeReauthNotified.String())
	assert.Equal(t, "skipped_paused", OutcomeSkippedPaused.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}
