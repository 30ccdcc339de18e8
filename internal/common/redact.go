package common

import "strings"

// RedactToken replaces all but the first and last character of a secret with
// '*'. Secrets shorter than 4 characters are fully redacted. Used on every
// structured log line or Stringer that might otherwise leak a registration
// or PAT token.
func RedactToken(token string) string {
	n := len(token)
	if n < 4 {
		return strings.Repeat("*", n)
	}
	return token[:1] + strings.Repeat("*", n-2) + token[n-1:]
}
