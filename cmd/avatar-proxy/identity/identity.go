// Package identity validates the public keys that name avatars.
package identity

import "strings"

// Length is the number of hex characters in an encoded 32-byte key
const Length = 64

// Validate reports whether s is exactly 64 hexadecimal characters.
// Both cases are accepted.
func Validate(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// Normalize returns the canonical lower-case form. Callers validate first.
func Normalize(s string) string {
	return strings.ToLower(s)
}
