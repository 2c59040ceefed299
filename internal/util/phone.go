package util

import "strings"

const minPhoneDigits = 7

// NormalizePhone strips every non-digit character and reports whether enough
// digits remain to form a dialable number.
func NormalizePhone(raw string) (string, bool) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < minPhoneDigits {
		return "", false
	}
	return digits, true
}

// FormatPairingCode regroups a pairing code into 4-character chunks joined by
// a dash, regardless of how the library formatted it.
func FormatPairingCode(code string) string {
	var b strings.Builder
	for _, r := range code {
		if r == '-' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	compact := b.String()
	if compact == "" {
		return ""
	}

	var parts []string
	for len(compact) > 4 {
		parts = append(parts, compact[:4])
		compact = compact[4:]
	}
	parts = append(parts, compact)
	return strings.Join(parts, "-")
}
