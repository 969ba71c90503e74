package validate

import (
	"strings"
	"unicode/utf8"
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// ID accepts opaque identifiers: non-blank, bounded, no whitespace or slashes.
func ID(value string) bool {
	if !Required(value) || len(value) > 128 {
		return false
	}
	return !strings.ContainsAny(value, " \t\r\n/")
}

func MaxRunes(value string, limit int) bool {
	return utf8.RuneCountInString(value) <= limit
}
