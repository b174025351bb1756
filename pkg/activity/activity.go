// Package activity turns a rich-presence activity into a Slack status.
package activity

import "fmt"

// Activity types, numbered as in Discord rich presence. 4 (custom) has no verb.
const (
	TypePlaying   = 0
	TypeStreaming = 1
	TypeListening = 2
	TypeWatching  = 3
	TypeCompeting = 5
)

const (
	// MaxStatusLength is the longest status text sent to Slack, in runes.
	MaxStatusLength = 100

	defaultName  = "something"
	defaultEmoji = ":video_game:"
	ellipsis     = "..."
)

var verbs = map[int]string{
	TypePlaying:   "Playing",
	TypeStreaming: "Streaming",
	TypeListening: "Listening to",
	TypeWatching:  "Watching",
	TypeCompeting: "Competing in",
}

var emojis = map[int]string{
	TypePlaying:   ":joystick:",
	TypeStreaming: ":movie_camera:",
	TypeListening: ":headphones:",
	TypeWatching:  ":tv:",
	TypeCompeting: ":trophy:",
}

// Activity is what a client reports as currently running.
type Activity struct {
	Name    string `json:"name,omitempty"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
	Type    int    `json:"type,omitempty"`
}

// Status is a Slack custom status.
type Status struct {
	Text  string
	Emoji string
}

// Cleared is the empty status.
var Cleared = Status{}

// Format builds the status for a. A non-empty emojiOverride replaces the
// emoji chosen by activity type.
func Format(a Activity, emojiOverride string) Status {
	name := a.Name
	if name == "" {
		name = defaultName
	}
	details := a.Details
	if details == "" {
		details = a.State
	}
	verb, ok := verbs[a.Type]
	if !ok {
		verb = verbs[TypePlaying]
	}

	text := fmt.Sprintf("%s %s", verb, name)
	if details != "" {
		text = fmt.Sprintf("%s: %s", text, details)
	}

	emoji := emojiOverride
	if emoji == "" {
		emoji = emojiFor(a.Type)
	}
	return Status{Text: truncate(text), Emoji: emoji}
}

func emojiFor(t int) string {
	if e, ok := emojis[t]; ok {
		return e
	}
	return defaultEmoji
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= MaxStatusLength {
		return s
	}
	return string(r[:MaxStatusLength-len(ellipsis)]) + ellipsis
}
