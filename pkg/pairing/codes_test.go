package pairing

import (
	"encoding/base64"
	"strings"
	"testing"

	"slackrpc/pkg/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for range 200 {
		code, err := GenerateCode()
		require.NoError(t, err)
		require.NoError(t, validation.ValidateCode(code))
		for _, c := range code {
			assert.True(t, strings.ContainsRune(CodeAlphabet, c), "unexpected char %q in %q", c, code)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190, "codes should rarely repeat")
}

func TestGenerateRelayToken(t *testing.T) {
	token, err := GenerateRelayToken()
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.Len(t, token, 43)

	other, err := GenerateRelayToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestGenerateStateNonce(t *testing.T) {
	nonce, err := GenerateStateNonce()
	require.NoError(t, err)
	assert.NotContains(t, nonce, ":")

	raw, err := base64.RawURLEncoding.DecodeString(nonce)
	require.NoError(t, err)
	assert.Len(t, raw, 8)
}

func TestCodeFromState(t *testing.T) {
	tests := []struct {
		name     string
		state    string
		wantCode string
		wantOK   bool
	}{
		{name: "well formed", state: "AB12CD:nonce", wantCode: "AB12CD", wantOK: true},
		{name: "first colon wins", state: "AB12CD:a:b", wantCode: "AB12CD", wantOK: true},
		{name: "empty nonce", state: "AB12CD:", wantCode: "AB12CD", wantOK: true},
		{name: "no colon", state: "AB12CD", wantOK: false},
		{name: "empty code", state: ":nonce", wantOK: false},
		{name: "empty", state: "", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := CodeFromState(tt.state)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestNewStateRoundTrip(t *testing.T) {
	nonce, err := GenerateStateNonce()
	require.NoError(t, err)

	code, ok := CodeFromState(NewState("AB12CD", nonce))
	require.True(t, ok)
	assert.Equal(t, "AB12CD", code)
}
