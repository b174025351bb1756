// Package oauth is the Slack identity provider client: authorization URLs,
// OAuth v2 code and refresh-token exchange, profile status updates and bot
// notifications.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"slackrpc/pkg/metrics"

	"github.com/slack-go/slack"
	"golang.org/x/oauth2"
)

// Endpoint is Slack's OAuth v2 endpoint.
var Endpoint = oauth2.Endpoint{
	AuthURL:  "https://slack.com/oauth/v2/authorize",
	TokenURL: "https://slack.com/api/oauth.v2.access",
}

// DefaultUserScopes are the user-token scopes needed to set a status.
var DefaultUserScopes = []string{"users.profile:write", "users.profile:read"}

// Config holds the Slack app configuration
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	BotToken     string
	UserScopes   []string
	HTTPClient   *http.Client
}

// Grant is the result of a code or refresh-token exchange.
type Grant struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Provider talks to Slack on behalf of the relay.
type Provider struct {
	OAuth2Config *oauth2.Config

	userScopes []string
	httpClient *http.Client
	bot        *slack.Client
}

// NewProvider creates a provider from configuration
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("slack client id and secret are required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("slack redirect url is required")
	}

	scopes := cfg.UserScopes
	if len(scopes) == 0 {
		scopes = DefaultUserScopes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Provider{
		OAuth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     Endpoint,
			RedirectURL:  cfg.RedirectURL,
		},
		userScopes: scopes,
		httpClient: httpClient,
		bot:        slack.New(cfg.BotToken, slack.OptionHTTPClient(httpClient)),
	}, nil
}

// AuthCodeURL returns the Slack authorization URL carrying state. Slack takes
// user-token scopes in user_scope rather than scope.
func (p *Provider) AuthCodeURL(state string) string {
	return p.OAuth2Config.AuthCodeURL(
		state,
		oauth2.SetAuthURLParam("user_scope", strings.Join(p.userScopes, ",")),
	)
}

// ExchangeCode trades an authorization code for the user's credentials.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*Grant, error) {
	const op = "oauth.v2.access"
	start := time.Now()

	resp, err := slack.GetOAuthV2ResponseContext(ctx, p.httpClient,
		p.OAuth2Config.ClientID, p.OAuth2Config.ClientSecret, code, p.OAuth2Config.RedirectURL)
	p.observe(op, start, err)
	if err != nil {
		return nil, wrapError(op, err)
	}

	user := resp.AuthedUser
	if user.ID == "" || user.AccessToken == "" {
		return nil, &Error{Op: op, Kind: KindOther, Err: errors.New("response missing authed user")}
	}

	return &Grant{
		UserID:       user.ID,
		AccessToken:  user.AccessToken,
		RefreshToken: user.RefreshToken,
		ExpiresIn:    user.ExpiresIn,
	}, nil
}

// Refresh exchanges a refresh token for a new access token. When Slack does
// not rotate the refresh token, the old one is returned in the grant.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	const op = "oauth.v2.access.refresh"
	if refreshToken == "" {
		return nil, &Error{Op: op, Kind: KindTokenRevoked, Code: "invalid_refresh_token", Err: errors.New("no refresh token available")}
	}
	start := time.Now()

	resp, err := slack.RefreshOAuthV2TokenContext(ctx, p.httpClient,
		p.OAuth2Config.ClientID, p.OAuth2Config.ClientSecret, refreshToken)
	p.observe(op, start, err)
	if err != nil {
		return nil, wrapError(op, err)
	}

	grant := &Grant{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
	}
	// User-token refreshes may come back nested like the original grant.
	if grant.AccessToken == "" {
		grant.AccessToken = resp.AuthedUser.AccessToken
		grant.RefreshToken = resp.AuthedUser.RefreshToken
		grant.UserID = resp.AuthedUser.ID
	}
	if grant.AccessToken == "" {
		return nil, &Error{Op: op, Kind: KindOther, Err: errors.New("response missing access token")}
	}
	if grant.RefreshToken == "" {
		grant.RefreshToken = refreshToken
	}
	return grant, nil
}

// UpdateStatus sets the profile status of the user owning accessToken.
// An expiration of zero means the status does not expire.
func (p *Provider) UpdateStatus(ctx context.Context, accessToken, text, emoji string, expiration int64) error {
	const op = "users.profile.set"
	start := time.Now()

	api := slack.New(accessToken, slack.OptionHTTPClient(p.httpClient))
	err := api.SetUserCustomStatusContext(ctx, text, emoji, expiration)
	p.observe(op, start, err)
	return wrapError(op, err)
}

// Notify sends a direct message from the bot to a Slack user.
func (p *Provider) Notify(ctx context.Context, userID, message string) error {
	const op = "chat.postMessage"
	start := time.Now()

	_, _, err := p.bot.PostMessageContext(ctx, userID, slack.MsgOptionText(message, false))
	p.observe(op, start, err)
	if err != nil {
		return fmt.Errorf("notify %s: %w", userID, wrapError(op, err))
	}
	return nil
}

func (p *Provider) observe(op string, start time.Time, err error) {
	metrics.ProviderDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RecordProviderRequest(op, "failure")
		return
	}
	metrics.RecordProviderRequest(op, "success")
}
