package conversion

import "strings"

// MaxLogChars caps the best-effort diagnostic text captured from the
// worker's stderr, roughly 150 lines of 50 characters.
const MaxLogChars = 150 * 50

// sanitizeText renders untrusted worker output safe for logging:
// printable ASCII, newlines, and tabs pass through, everything else
// becomes U+FFFD. The result is logged only, never parsed.
func sanitizeText(untrusted []byte) string {
	var b strings.Builder
	b.Grow(len(untrusted))
	for _, c := range untrusted {
		switch {
		case c >= 0x20 && c < 0x7F, c == '\n', c == '\t':
			b.WriteByte(c)
		default:
			b.WriteRune('�')
		}
	}
	return b.String()
}
