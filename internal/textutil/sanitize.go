package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const unknownToken = "unknown"

// SanitizeToken lowercases value into a token safe for a folder name such as
// a batch run folder. ASCII letters, digits, '-' and '_' survive; any other
// run of characters collapses to a single '_'. Blank or fully unsafe input
// yields "unknown".
func SanitizeToken(value string) string {
	value = cases.Lower(language.Und).String(strings.TrimSpace(value))
	var b strings.Builder
	pending := false
	for _, r := range value {
		if isTokenRune(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	if out := strings.Trim(b.String(), "_-"); out != "" {
		return out
	}
	return unknownToken
}

func isTokenRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_'
}
