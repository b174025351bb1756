package pairing

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"strings"

	"slackrpc/pkg/validation"
)

const (
	// CodeAlphabet is the character set of CLI-generated pairing codes.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// stateNonceBytes is the entropy of the random half of an OAuth state.
	stateNonceBytes = 8

	// relayTokenBytes is the entropy of a relay token (43 base64url chars).
	relayTokenBytes = 32
)

// GenerateCode returns a random pairing code of validation.CodeLength
// characters drawn uniformly from CodeAlphabet.
func GenerateCode() (string, error) {
	max := big.NewInt(int64(len(CodeAlphabet)))
	var b strings.Builder
	b.Grow(validation.CodeLength)
	for range validation.CodeLength {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate pairing code: %w", err)
		}
		b.WriteByte(CodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateStateNonce returns the random component of an OAuth state value.
func GenerateStateNonce() (string, error) {
	return randomString(stateNonceBytes)
}

// GenerateRelayToken returns a new opaque relay token.
func GenerateRelayToken() (string, error) {
	return randomString(relayTokenBytes)
}

// NewState joins a pairing code and nonce into an OAuth state value.
func NewState(code, nonce string) string {
	return code + ":" + nonce
}

// CodeFromState recovers the pairing code, which is everything before the
// first ':' of the state.
func CodeFromState(state string) (string, bool) {
	code, _, found := strings.Cut(state, ":")
	if !found || code == "" {
		return "", false
	}
	return code, true
}

func randomString(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
