package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"slackrpc/pkg/credential"
	"slackrpc/pkg/relay"
	"slackrpc/pkg/session"

	"github.com/slack-go/slack"
)

const slashUsage = "*Usage:* `/slackrpc <command> [args]`\n\n" +
	"`help`: Show this help message\n" +
	"`stop`: Pause Rich Presence updates and clear your status\n" +
	"`start`: Resume Rich Presence updates\n" +
	"`emoji <:name:>`: Always use this emoji for your status\n" +
	"`emoji reset`: Pick the emoji by activity again"

const notLinkedMessage = "You haven't linked SlackRPC yet. Run `slackrpc login` on your computer and follow the link to authenticate."

var emojiPattern = regexp.MustCompile(`^:[a-z0-9_+'-]+:$`)

// UserLookup resolves Slack users to their credentials.
type UserLookup interface {
	FindByUserID(ctx context.Context, userID string) (*credential.Record, error)
	SetEmoji(ctx context.Context, userID, emoji string) error
}

// StatusClearer clears a user's Slack status.
type StatusClearer interface {
	ClearStatus(ctx context.Context, rec *credential.Record) (relay.Outcome, error)
}

// SlashHandler serves the /slackrpc slash command.
type SlashHandler struct {
	signingSecret string
	users         UserLookup
	store         session.Store
	relay         StatusClearer
}

func NewSlashHandler(signingSecret string, users UserLookup, store session.Store, r StatusClearer) *SlashHandler {
	return &SlashHandler{signingSecret: signingSecret, users: users, store: store, relay: r}
}

func (h *SlashHandler) HandleCommand(w http.ResponseWriter, r *http.Request) {
	verifier, err := slack.NewSecretsVerifier(r.Header, h.signingSecret)
	if err != nil {
		slog.Warn("slash.rejected", "reason", "missing_signature", "error", err)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}
	r.Body = io.NopCloser(io.TeeReader(io.LimitReader(r.Body, 64<<10), &verifier))

	cmd, err := slack.SlashCommandParse(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid command")
		return
	}
	if err := verifier.Ensure(); err != nil {
		slog.Warn("slash.rejected", "reason", "bad_signature", "user", cmd.UserID)
		writeError(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2500*time.Millisecond)
	defer cancel()

	fields := strings.Fields(cmd.Text)
	sub := ""
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}
	slog.Info("slash.command", "user", cmd.UserID, "subcommand", sub)

	switch sub {
	case "stop":
		h.respond(w, h.stop(ctx, cmd.UserID))
	case "start":
		h.respond(w, h.start(ctx, cmd.UserID))
	case "emoji":
		h.respond(w, h.emoji(ctx, cmd.UserID, fields[1:]))
	default:
		h.respondUsage(w)
	}
}

func (h *SlashHandler) linked(ctx context.Context, userID string) (*credential.Record, string) {
	rec, err := h.users.FindByUserID(ctx, userID)
	if errors.Is(err, credential.ErrNotFound) {
		return nil, notLinkedMessage
	}
	if err != nil {
		slog.Error("slash.lookup_failed", "user", userID, "error", err)
		return nil, "Something went wrong, please try again later."
	}
	return rec, ""
}

func (h *SlashHandler) stop(ctx context.Context, userID string) string {
	rec, msg := h.linked(ctx, userID)
	if rec == nil {
		return msg
	}
	if err := h.store.SetWithTTL(ctx, session.PausedKey(userID), "1", 0); err != nil {
		slog.Error("slash.pause_failed", "user", userID, "error", err)
		return "Could not pause updates, please try again later."
	}
	if _, err := h.relay.ClearStatus(ctx, rec); err != nil {
		slog.Warn("slash.clear_failed", "user", userID, "error", err)
		return "Rich Presence updates to your Slack status have been stopped, but your status could not be cleared."
	}
	return "Rich Presence updates to your Slack status have been stopped. Your status has been cleared."
}

func (h *SlashHandler) start(ctx context.Context, userID string) string {
	rec, msg := h.linked(ctx, userID)
	if rec == nil {
		return msg
	}
	if err := h.store.Delete(ctx, session.PausedKey(userID)); err != nil {
		slog.Error("slash.resume_failed", "user", userID, "error", err)
		return "Could not resume updates, please try again later."
	}
	return "Rich Presence updates to your Slack status have been restarted! You may need to wait until a new Rich Presence takes effect."
}

func (h *SlashHandler) emoji(ctx context.Context, userID string, args []string) string {
	if len(args) != 1 {
		return slashUsage
	}
	if rec, msg := h.linked(ctx, userID); rec == nil {
		return msg
	}

	emoji := strings.ToLower(args[0])
	reply := "Your status emoji now follows the activity type again."
	switch {
	case emoji == "reset":
		emoji = ""
	case emojiPattern.MatchString(emoji):
		reply = "Your status will now use " + emoji + "."
	default:
		return "That doesn't look like an emoji. Use the `:name:` form, for example `:rocket:`."
	}

	if err := h.users.SetEmoji(ctx, userID, emoji); err != nil {
		slog.Error("slash.emoji_failed", "user", userID, "error", err)
		return "Could not save your emoji, please try again later."
	}
	return reply
}

func (h *SlashHandler) respond(w http.ResponseWriter, text string) {
	writeJSON(w, http.StatusOK, &slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         text,
	})
}

func (h *SlashHandler) respondUsage(w http.ResponseWriter) {
	section := slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, slashUsage, false, false), nil, nil)
	writeJSON(w, http.StatusOK, &slack.Msg{
		ResponseType: slack.ResponseTypeEphemeral,
		Text:         slashUsage,
		Blocks:       slack.Blocks{BlockSet: []slack.Block{section}},
	})
}
