package security

import (
	"strings"
)

// MinRedactLength is the shortest secret Redact will replace. Shorter values
// would mangle unrelated text.
const MinRedactLength = 8

const redacted = "[REDACTED]"

// Redact replaces every occurrence of the given secrets in s.
// Used before error bodies and messages reach the terminal or log files.
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		secret = strings.TrimSpace(secret)
		if len(secret) < MinRedactLength {
			continue
		}
		s = strings.ReplaceAll(s, secret, redacted)
	}
	return s
}

// MaskToken shows only the last four characters of a token, for diagnostics
// such as "using token ****abcd".
func MaskToken(token string) string {
	if token == "" {
		return "(none)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
