package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"slackrpc/pkg/pairing"
)

// PairingService runs the pairing protocol.
type PairingService interface {
	Start(ctx context.Context, code, hostname string) (string, error)
	Callback(ctx context.Context, providerCode, state string) error
	Poll(ctx context.Context, code string) (pairing.PollResult, error)
}

type PairingHandler struct {
	svc         PairingService
	successPath string
	timeout     time.Duration
}

type StartResponse struct {
	URL string `json:"url"`
}

func NewPairingHandler(svc PairingService) *PairingHandler {
	return &PairingHandler{
		svc:         svc,
		successPath: "/success",
		timeout:     30 * time.Second,
	}
}

// HandleStart binds a client's pairing code to its hostname and returns the
// Slack authorization URL.
func (h *PairingHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	authURL, err := h.svc.Start(r.Context(), q.Get("code"), q.Get("hostname"))
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "Code must be alphanumeric and 6 characters, hostname must be a plain name")
			return
		}
		slog.Error("pairing.start.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{URL: authURL})
}

// HandleCallback is the OAuth redirect target.
func (h *PairingHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	// A denied consent arrives as ?error=access_denied without a code. The
	// pairing is still consumed so it cannot be replayed.
	code := q.Get("code")
	if errParam := q.Get("error"); errParam != "" {
		slog.Info("pairing.callback.denied", "error", errParam)
		code = ""
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	err := h.svc.Callback(ctx, code, state)
	switch {
	case err == nil:
		http.Redirect(w, r, h.successPath, http.StatusFound)
	case errors.Is(err, pairing.ErrInvalidState):
		writeError(w, http.StatusBadRequest, "Invalid state")
	case errors.Is(err, pairing.ErrOAuthExchangeFailed):
		writeError(w, http.StatusBadGateway, "OAuth failed")
	default:
		slog.Error("pairing.callback.error", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

// HandlePoll hands the relay token to the client once the browser side of
// the pairing has completed.
func (h *PairingHandler) HandlePoll(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Poll(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		if errors.Is(err, pairing.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "Code must be alphanumeric and 6 characters")
			return
		}
		slog.Error("pairing.poll.failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}
