package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackrpc/pkg/activity"
	"slackrpc/pkg/credential"
	"slackrpc/pkg/oauth"
	"slackrpc/pkg/pairing"
	"slackrpc/pkg/relay"
	"slackrpc/pkg/session"
)

type fakeIdentity struct{}

func (fakeIdentity) AuthCodeURL(state string) string {
	return "https://slack.com/oauth/v2/authorize?client_id=1&state=" + url.QueryEscape(state)
}

func (fakeIdentity) ExchangeCode(_ context.Context, code string) (*oauth.Grant, error) {
	if code != "valid-provider-code" {
		return nil, &oauth.Error{Op: "oauth.v2.access", Kind: oauth.KindOther, Code: "invalid_code", Err: errors.New("invalid_code")}
	}
	return &oauth.Grant{UserID: "U123", AccessToken: "xoxp-1", RefreshToken: "xoxe-1"}, nil
}

func openCreds(t *testing.T) *credential.SQLStore {
	t.Helper()
	s, err := credential.Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newPairingMux(t *testing.T) (*http.ServeMux, *credential.SQLStore) {
	t.Helper()
	creds := openCreds(t)
	svc := pairing.NewService(session.NewMemoryStore(), creds, fakeIdentity{}, pairing.DefaultConfig())
	h := NewPairingHandler(svc)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/oauth/start", h.HandleStart)
	mux.HandleFunc("GET /api/oauth/callback", h.HandleCallback)
	mux.HandleFunc("GET /api/auth/poll", h.HandlePoll)
	return mux, creds
}

func get(mux http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestPairing_EndToEnd(t *testing.T) {
	mux, creds := newPairingMux(t)

	rec := get(mux, "/api/oauth/start?code=AB12CD&hostname=laptop1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	start := decode[StartResponse](t, rec)

	authURL, err := url.Parse(start.URL)
	require.NoError(t, err)
	state := authURL.Query().Get("state")
	assert.True(t, strings.HasPrefix(state, "AB12CD:"), "state %q", state)

	rec = get(mux, "/api/auth/poll?code=AB12CD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"waiting"}`, rec.Body.String())

	rec = get(mux, "/api/oauth/callback?code=valid-provider-code&state="+url.QueryEscape(state))
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/success", rec.Header().Get("Location"))

	rec = get(mux, "/api/auth/poll?code=AB12CD")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	done := decode[pairing.PollResult](t, rec)
	assert.Equal(t, pairing.StatusComplete, done.Status)
	assert.GreaterOrEqual(t, len(done.Token), 43)

	rec = get(mux, "/api/auth/poll?code=AB12CD")
	assert.JSONEq(t, `{"status":"waiting"}`, rec.Body.String())

	stored, err := creds.FindByToken(context.Background(), done.Token)
	require.NoError(t, err)
	assert.Equal(t, "U123", stored.UserID)
	assert.Equal(t, "laptop1", stored.Hostname)
}

func TestPairing_StartValidation(t *testing.T) {
	mux, _ := newPairingMux(t)

	for _, target := range []string{
		"/api/oauth/start?code=AB12&hostname=laptop1",
		"/api/oauth/start?code=AB12C!&hostname=laptop1",
		"/api/oauth/start?code=AB12CD",
	} {
		rec := get(mux, target)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.NotEmpty(t, decode[ErrorResponse](t, rec).Detail)
	}
}

func TestPairing_CallbackErrors(t *testing.T) {
	mux, _ := newPairingMux(t)

	rec := get(mux, "/api/oauth/callback?code=valid-provider-code&state=AB12CD:forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Invalid state"}`, rec.Body.String())

	rec = get(mux, "/api/oauth/callback?code=valid-provider-code")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	startState := func() string {
		rec := get(mux, "/api/oauth/start?code=ZZ99ZZ&hostname=laptop1")
		require.Equal(t, http.StatusOK, rec.Code)
		u, err := url.Parse(decode[StartResponse](t, rec).URL)
		require.NoError(t, err)
		return u.Query().Get("state")
	}

	rec = get(mux, "/api/oauth/callback?code=wrong&state="+url.QueryEscape(startState()))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"detail":"OAuth failed"}`, rec.Body.String())

	// User pressed "Cancel" on the consent screen.
	state := startState()
	rec = get(mux, "/api/oauth/callback?error=access_denied&state="+url.QueryEscape(state))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	rec = get(mux, "/api/oauth/callback?code=valid-provider-code&state="+url.QueryEscape(state))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPairing_PollValidation(t *testing.T) {
	mux, _ := newPairingMux(t)
	rec := get(mux, "/api/auth/poll?code=toolongcode")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeRelay struct {
	mu       sync.Mutex
	set      []activity.Activity
	cleared  int
	err      error
	lastUser string
}

func (f *fakeRelay) SetStatus(_ context.Context, rec *credential.Record, a activity.Activity) (relay.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, a)
	f.lastUser = rec.UserID
	return relay.OutcomeApplied, f.err
}

func (f *fakeRelay) ClearStatus(_ context.Context, rec *credential.Record) (relay.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared++
	f.lastUser = rec.UserID
	return relay.OutcomeApplied, f.err
}

func newActivityMux(t *testing.T) (*http.ServeMux, *fakeRelay) {
	t.Helper()
	creds := openCreds(t)
	require.NoError(t, creds.Upsert(context.Background(), &credential.Record{
		Token: "good-token", UserID: "U123", Hostname: "laptop1", AccessToken: "xoxp", RefreshToken: "xoxe", CreatedAt: time.Now(),
	}))
	fr := &fakeRelay{}
	h := NewActivityHandler(creds, fr)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/activity", h.HandleSetActivity)
	mux.HandleFunc("DELETE /api/activity", h.HandleClearActivity)
	return mux, fr
}

func activityRequest(method, token, body string) *http.Request {
	req := httptest.NewRequest(method, "/api/activity", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestActivity_SetAndClear(t *testing.T) {
	mux, fr := newActivityMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, activityRequest(http.MethodPost, "good-token",
		`{"activity":{"name":"Factorio","details":"Trains","type":0}}`))
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	require.Len(t, fr.set, 1)
	assert.Equal(t, activity.Activity{Name: "Factorio", Details: "Trains"}, fr.set[0])
	assert.Equal(t, "U123", fr.lastUser)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, activityRequest(http.MethodDelete, "good-token", ""))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, fr.cleared)
}

func TestActivity_Unauthorized(t *testing.T) {
	mux, fr := newActivityMux(t)

	for _, token := range []string{"", "unknown-token"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, activityRequest(http.MethodPost, token, `{"activity":{}}`))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
	}

	req := activityRequest(http.MethodDelete, "", "")
	req.Header.Set("Authorization", "Basic Z29vZC10b2tlbg==")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, fr.set)
	assert.Zero(t, fr.cleared)
}

func TestActivity_BadBody(t *testing.T) {
	mux, fr := newActivityMux(t)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, activityRequest(http.MethodPost, "good-token", `{not json`))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, fr.set)
}

func TestActivity_ErrorMapping(t *testing.T) {
	mux, fr := newActivityMux(t)

	fr.err = fmt.Errorf("%w: ratelimited", relay.ErrUpstream)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, activityRequest(http.MethodDelete, "good-token", ""))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"detail":"Slack API error"}`, rec.Body.String())

	fr.err = errors.New("disk full")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, activityRequest(http.MethodDelete, "good-token", ""))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := bearerToken(req); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestPages(t *testing.T) {
	rec := get(http.HandlerFunc(HandleHome), "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "slackrpc login")

	rec = get(http.HandlerFunc(HandleHome), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = get(http.HandlerFunc(HandleSuccess), "/success")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Authentication Successful!")
}

func TestHealth(t *testing.T) {
	rec := get(http.HandlerFunc(HandleHealth), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

const testSigningSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedCommand(t *testing.T, userID, text string) *http.Request {
	t.Helper()
	form := url.Values{
		"command":    {"/slackrpc"},
		"user_id":    {userID},
		"text":       {text},
		"team_id":    {"T1"},
		"channel_id": {"C1"},
	}
	body := form.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	mac := hmac.New(sha256.New, []byte(testSigningSecret))
	fmt.Fprintf(mac, "v0:%s:%s", ts, body)

	req := httptest.NewRequest(http.MethodPost, "/slack/commands", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

type slashFixture struct {
	h     *SlashHandler
	store *session.MemoryStore
	creds *credential.SQLStore
	relay *fakeRelay
}

func newSlashFixture(t *testing.T) slashFixture {
	t.Helper()
	creds := openCreds(t)
	require.NoError(t, creds.Upsert(context.Background(), &credential.Record{
		Token: "good-token", UserID: "U123", Hostname: "laptop1", AccessToken: "xoxp", RefreshToken: "xoxe", CreatedAt: time.Now(),
	}))
	store := session.NewMemoryStore()
	fr := &fakeRelay{}
	return slashFixture{
		h:     NewSlashHandler(testSigningSecret, creds, store, fr),
		store: store,
		creds: creds,
		relay: fr,
	}
}

type slashReply struct {
	ResponseType string `json:"response_type"`
	Text         string `json:"text"`
}

func runSlash(t *testing.T, f slashFixture, req *http.Request) (int, slashReply) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.h.HandleCommand(rec, req)
	var reply slashReply
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply))
	}
	return rec.Code, reply
}

func TestSlash_StopAndStart(t *testing.T) {
	ctx := context.Background()
	f := newSlashFixture(t)

	code, reply := runSlash(t, f, signedCommand(t, "U123", "stop"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ephemeral", reply.ResponseType)
	assert.Contains(t, reply.Text, "stopped")
	assert.Equal(t, 1, f.relay.cleared)

	paused, err := f.store.Exists(ctx, session.PausedKey("U123"))
	require.NoError(t, err)
	assert.True(t, paused)

	code, reply = runSlash(t, f, signedCommand(t, "U123", "START"))
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, reply.Text, "restarted")

	paused, err = f.store.Exists(ctx, session.PausedKey("U123"))
	require.NoError(t, err)
	assert.False(t, paused)
}

func TestSlash_NotLinked(t *testing.T) {
	f := newSlashFixture(t)
	code, reply := runSlash(t, f, signedCommand(t, "U999", "stop"))
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, notLinkedMessage, reply.Text)
	assert.Equal(t, 0, f.store.Len())
}

func TestSlash_Help(t *testing.T) {
	f := newSlashFixture(t)
	for _, text := range []string{"", "help", "frobnicate"} {
		code, reply := runSlash(t, f, signedCommand(t, "U123", text))
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, slashUsage, reply.Text, "text %q", text)
	}
}

func TestSlash_Emoji(t *testing.T) {
	ctx := context.Background()
	f := newSlashFixture(t)

	_, reply := runSlash(t, f, signedCommand(t, "U123", "emoji :rocket:"))
	assert.Contains(t, reply.Text, ":rocket:")
	rec, err := f.creds.FindByUserID(ctx, "U123")
	require.NoError(t, err)
	assert.Equal(t, ":rocket:", rec.UserEmoji)

	_, reply = runSlash(t, f, signedCommand(t, "U123", "emoji rocket"))
	assert.Contains(t, reply.Text, "doesn't look like an emoji")

	_, _ = runSlash(t, f, signedCommand(t, "U123", "emoji reset"))
	rec, err = f.creds.FindByUserID(ctx, "U123")
	require.NoError(t, err)
	assert.Empty(t, rec.UserEmoji)
}

func TestSlash_RejectsBadSignature(t *testing.T) {
	f := newSlashFixture(t)

	req := signedCommand(t, "U123", "stop")
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	code, _ := runSlash(t, f, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	req = signedCommand(t, "U123", "stop")
	req.Header.Del("X-Slack-Request-Timestamp")
	code, _ = runSlash(t, f, req)
	assert.Equal(t, http.StatusUnauthorized, code)

	assert.Zero(t, f.relay.cleared)
	assert.Equal(t, 0, f.store.Len())
}
