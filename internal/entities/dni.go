package entities

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DNI is a parsed national identity search key.
type DNI struct {
	NationalID      string
	NationalityType string // empty when the search does not constrain it
}

// ParseDNI accepts "V-12345678", "V12345678" and "12345678".
func ParseDNI(raw string) (DNI, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DNI{}, invalid("dni is required")
	}
	if kind, id, ok := strings.Cut(raw, "-"); ok {
		if kind == "" || id == "" {
			return DNI{}, invalid("dni %q is malformed", raw)
		}
		return DNI{NationalID: id, NationalityType: kind}, nil
	}
	r, size := utf8.DecodeRuneInString(raw)
	if unicode.IsLetter(r) {
		if size == len(raw) {
			return DNI{}, invalid("dni %q has no number", raw)
		}
		return DNI{NationalID: raw[size:], NationalityType: raw[:size]}, nil
	}
	return DNI{NationalID: raw}, nil
}
