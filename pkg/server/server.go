// Package server assembles the relay's HTTP surface and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slackrpc/pkg/credential"
	"slackrpc/pkg/handlers"
	"slackrpc/pkg/middleware"
	"slackrpc/pkg/oauth"
	"slackrpc/pkg/pairing"
	"slackrpc/pkg/relay"
	"slackrpc/pkg/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const limiterCleanup = 5 * time.Minute

// Services are the collaborators behind the HTTP routes.
type Services struct {
	Pairing handlers.PairingService
	Relay   *relay.Service
	Creds   credential.Store
	Store   session.Store
}

// Router is the relay's root http.Handler.
type Router struct {
	handler  http.Handler
	limiters []*middleware.RateLimiter
}

// NewRouter wires every route of the relay. Call Close to stop the rate
// limiters' background cleanup.
func NewRouter(cfg Config, svc Services) *Router {
	rt := &Router{}
	mux := http.NewServeMux()

	limit := func(route string, l middleware.Limit, h http.HandlerFunc) http.Handler {
		rl := middleware.NewRateLimiter(route, l, cfg.TrustProxy, limiterCleanup)
		rt.limiters = append(rt.limiters, rl)
		return middleware.Instrument(route, rl.Middleware(h))
	}

	pairingHandler := handlers.NewPairingHandler(svc.Pairing)
	mux.Handle("GET /api/oauth/start", limit("oauth_start", middleware.PerMinute(4), pairingHandler.HandleStart))
	mux.Handle("GET /api/oauth/callback", limit("oauth_callback", middleware.PerMinute(2), pairingHandler.HandleCallback))
	mux.Handle("GET /api/auth/poll", limit("auth_poll", middleware.PerMinute(4), pairingHandler.HandlePoll))

	activityHandler := handlers.NewActivityHandler(svc.Creds, svc.Relay)
	mux.Handle("POST /api/activity", limit("activity_set", middleware.PerSecond(1), activityHandler.HandleSetActivity))
	mux.Handle("DELETE /api/activity", limit("activity_clear", middleware.PerSecond(1), activityHandler.HandleClearActivity))

	if cfg.SigningSecret != "" {
		slash := handlers.NewSlashHandler(cfg.SigningSecret, svc.Creds, svc.Store, svc.Relay)
		mux.Handle("POST /slack/commands", middleware.Instrument("slack_commands", http.HandlerFunc(slash.HandleCommand)))
	} else {
		slog.Warn("SLACK_SIGNING_SECRET not set, slash commands disabled")
	}

	mux.HandleFunc("GET /{$}", handlers.HandleHome)
	mux.HandleFunc("GET /success", handlers.HandleSuccess)
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	var handler http.Handler = mux
	handler = middleware.RequestLogger(handler)
	handler = middleware.SecurityHeaders(handler)
	if cfg.TLSEnabled() || cfg.EnforceHTTPS {
		handler = middleware.HSTS(handler)
	}
	if cfg.EnforceHTTPS {
		handler = middleware.EnforceHTTPS(handler)
	}
	if len(cfg.AllowedOrigins) > 0 {
		handler = middleware.CORS(cfg.AllowedOrigins)(handler)
	}

	rt.handler = handler
	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Close stops the rate limiters.
func (rt *Router) Close() {
	for _, rl := range rt.limiters {
		rl.Stop()
	}
}

// Run opens the stores, connects to Slack and serves until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, closeStore, err := openSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	creds, err := credential.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer creds.Close()

	provider, err := oauth.NewProvider(oauth.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		BotToken:     cfg.BotToken,
	})
	if err != nil {
		return fmt.Errorf("failed to set up Slack client: %w", err)
	}

	pairingSvc := pairing.NewService(store, creds, provider, pairing.Config{
		BindingTTL: cfg.BindingTTL,
		StateTTL:   cfg.StateTTL,
		PollTTL:    cfg.PollTTL,
	})
	relaySvc := relay.NewService(provider, creds, store)

	router := NewRouter(cfg, Services{
		Pairing: pairingSvc,
		Relay:   relaySvc,
		Creds:   creds,
		Store:   store,
	})
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	slog.Info("slackrpc server starting",
		"addr", cfg.ListenAddr,
		"base_url", cfg.BaseURL,
		"tls", cfg.TLSEnabled(),
		"binding_ttl", cfg.BindingTTL,
		"state_ttl", cfg.StateTTL,
		"poll_ttl", cfg.PollTTL,
	)
	if len(cfg.AllowedOrigins) > 0 {
		slog.Info("CORS enabled", "origins", cfg.AllowedOrigins)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.TLSEnabled() {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("slackrpc server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openSessionStore(ctx context.Context, cfg Config) (session.Store, func(), error) {
	if cfg.RedisURL != "" {
		rs, err := session.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return rs, closeLogged("redis", rs), nil
	}

	slog.Warn("REDIS_URL not set, using in-process session store (single instance only)")
	ms := session.NewMemoryStore()
	cleanupCtx, cancel := context.WithCancel(ctx)
	go ms.RunCleanup(cleanupCtx, time.Minute)
	return ms, cancel, nil
}

func closeLogged(name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil {
			slog.Warn("close failed", "resource", name, "error", err)
		}
	}
}
