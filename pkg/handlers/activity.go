package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slackrpc/pkg/activity"
	"slackrpc/pkg/credential"
	"slackrpc/pkg/relay"
)

const maxActivityBody = 16 << 10

// CredentialLookup resolves relay tokens.
type CredentialLookup interface {
	FindByToken(ctx context.Context, token string) (*credential.Record, error)
}

// StatusRelay pushes statuses to Slack.
type StatusRelay interface {
	SetStatus(ctx context.Context, rec *credential.Record, a activity.Activity) (relay.Outcome, error)
	ClearStatus(ctx context.Context, rec *credential.Record) (relay.Outcome, error)
}

type ActivityHandler struct {
	creds   CredentialLookup
	relay   StatusRelay
	timeout time.Duration
}

// ActivityRequest is the body of POST /api/activity.
type ActivityRequest struct {
	Activity activity.Activity `json:"activity"`
}

func NewActivityHandler(creds CredentialLookup, r StatusRelay) *ActivityHandler {
	return &ActivityHandler{creds: creds, relay: r, timeout: 30 * time.Second}
}

func (h *ActivityHandler) authenticate(w http.ResponseWriter, r *http.Request) (*credential.Record, bool) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return nil, false
	}

	rec, err := h.creds.FindByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return nil, false
		}
		slog.Error("activity.lookup_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return nil, false
	}
	return rec, true
}

// HandleSetActivity sets the caller's Slack status from a rich-presence activity.
func (h *ActivityHandler) HandleSetActivity(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req ActivityRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActivityBody)).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome, err := h.relay.SetStatus(ctx, rec, req.Activity)
	h.finish(w, rec, outcome, err)
}

// HandleClearActivity clears the caller's Slack status.
func (h *ActivityHandler) HandleClearActivity(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	outcome, err := h.relay.ClearStatus(ctx, rec)
	h.finish(w, rec, outcome, err)
}

func (h *ActivityHandler) finish(w http.ResponseWriter, rec *credential.Record, outcome relay.Outcome, err error) {
	if err != nil {
		if errors.Is(err, relay.ErrUpstream) {
			slog.Warn("activity.upstream_error", "user", rec.UserID, "error", err)
			writeError(w, http.StatusBadGateway, "Slack API error")
			return
		}
		slog.Error("activity.failed", "user", rec.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	slog.Debug("activity.done", "user", rec.UserID, "outcome", outcome)
	w.WriteHeader(http.StatusNoContent)
}
