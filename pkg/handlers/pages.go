package handlers

import (
	"log/slog"
	"net/http"

	. "maragu.dev/gomponents"
	. "maragu.dev/gomponents/html"
)

const pageStyle = `
	body {
		font-family: -apple-system, "Segoe UI", Arial, sans-serif;
		max-width: 600px;
		margin: 50px auto;
		padding: 20px;
		text-align: center;
	}
	.success {
		color: #2EB67D;
		font-size: 48px;
		margin-bottom: 20px;
	}
	h1 { color: #1D1C1D; }
	p { color: #616061; font-size: 18px; }
	code { background: #F8F8F8; padding: 2px 6px; border-radius: 4px; }
`

func page(title string, body ...Node) Node {
	return Doctype(
		HTML(
			Lang("en"),
			Head(
				Meta(Charset("UTF-8")),
				Meta(Name("viewport"), Content("width=device-width, initial-scale=1")),
				TitleEl(Text(title)),
				StyleEl(Raw(pageStyle)),
			),
			Body(body...),
		),
	)
}

func render(w http.ResponseWriter, n Node) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := n.Render(w); err != nil {
		slog.Debug("http.render_failed", "error", err)
	}
}

// HandleHome renders the landing page.
func HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	render(w, page("SlackRPC",
		H1(Text("SlackRPC")),
		P(Text("Show what you are playing, watching or listening to as your Slack status.")),
		P(Text("Run "), Code(Text("slackrpc login")), Text(" on your computer to get started.")),
	))
}

// HandleSuccess renders the page shown after a completed Slack authorization.
func HandleSuccess(w http.ResponseWriter, r *http.Request) {
	render(w, page("Authentication Successful",
		Div(Class("success"), Text("✓")),
		H1(Text("Authentication Successful!")),
		P(Text("You can close this window and return to your terminal.")),
		P(
			Style("margin-top: 40px; font-size: 14px;"),
			Text("Use "), Code(Text("/slackrpc stop")), Text(" in Slack at any time to pause status updates."),
		),
	))
}
