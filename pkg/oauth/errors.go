package oauth

import (
	"errors"
	"fmt"

	"github.com/slack-go/slack"
)

// ErrorKind is the closed set of provider failure categories the rest of the
// system reasons about.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTokenExpired
	KindInvalidAuth
	KindTokenRevoked
)

func (k ErrorKind) String() string {
	switch k {
	case KindTokenExpired:
		return "token_expired"
	case KindInvalidAuth:
		return "invalid_auth"
	case KindTokenRevoked:
		return "token_revoked"
	default:
		return "other"
	}
}

// IsAuth reports whether the credential itself was rejected.
func (k ErrorKind) IsAuth() bool {
	return k == KindTokenExpired || k == KindInvalidAuth || k == KindTokenRevoked
}

// KindFromCode maps a Slack error string onto an ErrorKind.
func KindFromCode(code string) ErrorKind {
	switch code {
	case "token_expired":
		return KindTokenExpired
	case "invalid_auth", "not_authed":
		return KindInvalidAuth
	case "token_revoked", "invalid_refresh_token", "account_inactive":
		return KindTokenRevoked
	default:
		return KindOther
	}
}

// Error is a failed provider call.
type Error struct {
	Op   string    // provider operation, e.g. "users.profile.set"
	Kind ErrorKind // classified category
	Code string    // raw provider error string, empty for transport failures
	Err  error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns the ErrorKind of err, or KindOther.
func Classify(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return KindOther
}

// IsAuthError reports whether err means the credential was expired, invalid
// or revoked.
func IsAuthError(err error) bool {
	return Classify(err).IsAuth()
}

// wrapError converts an error from the Slack client into an *Error.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var serr slack.SlackErrorResponse
	if errors.As(err, &serr) {
		return &Error{Op: op, Kind: KindFromCode(serr.Err), Code: serr.Err, Err: err}
	}
	return &Error{Op: op, Kind: KindOther, Err: err}
}
