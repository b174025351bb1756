package validation

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// CodeLength is the exact length of a pairing code.
	CodeLength = 6

	// MaxHostnameLength bounds the hostname a client may bind.
	MaxHostnameLength = 255
)

// ValidateCode checks that code is exactly six ASCII letters or digits.
func ValidateCode(code string) error {
	if len(code) != CodeLength {
		return fmt.Errorf("code must be alphanumeric and %d characters", CodeLength)
	}
	for i := 0; i < len(code); i++ {
		if !isASCIIAlnum(code[i]) {
			return fmt.Errorf("code must be alphanumeric and %d characters", CodeLength)
		}
	}
	return nil
}

// ValidateHostname checks a client hostname before it is used as a store key.
// A colon is rejected so a hostname can never look like a namespaced key
// such as "auth:..." or "poll:...".
func ValidateHostname(hostname string) error {
	if strings.TrimSpace(hostname) == "" {
		return fmt.Errorf("hostname cannot be empty")
	}
	if len(hostname) > MaxHostnameLength {
		return fmt.Errorf("hostname exceeds %d characters: %d", MaxHostnameLength, len(hostname))
	}
	if strings.ContainsRune(hostname, ':') {
		return fmt.Errorf("hostname must not contain ':'")
	}
	for _, r := range hostname {
		if unicode.IsControl(r) {
			return fmt.Errorf("hostname must not contain control characters")
		}
	}
	return nil
}

func isASCIIAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
