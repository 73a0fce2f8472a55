package notify

import "strings"

// defaultCountryCode is prepended when a number is written in the national
// format with a leading zero.
const defaultCountryCode = "62"

// NormalizePhone canonicalizes a phone number to international format without
// the plus sign: separators are stripped, "+62..." loses the plus, and a
// leading "0" is replaced with the country code. Pure function, no network
// dependency.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		switch r {
		case ' ', '-', '.', '(', ')':
		default:
			b.WriteRune(r)
		}
	}
	p := b.String()

	switch {
	case strings.HasPrefix(p, "+"):
		return p[1:]
	case strings.HasPrefix(p, "0"):
		return defaultCountryCode + p[1:]
	default:
		return p
	}
}
