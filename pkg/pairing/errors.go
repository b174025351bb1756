package pairing

import "errors"

var (
	// ErrInvalidInput means a malformed code or hostname. Nothing was written.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidState covers forged, consumed and expired states or codes
	// without telling them apart.
	ErrInvalidState = errors.New("invalid state")

	// ErrOAuthExchangeFailed means Slack rejected the authorization code.
	// The pairing is spent; the client must start over.
	ErrOAuthExchangeFailed = errors.New("oauth exchange failed")
)
