package entities

import (
	"errors"
	"strings"
)

var (
	ErrNotFound     = errors.New("entities: not found")
	ErrInvalidInput = errors.New("entities: invalid input")
	ErrLinked       = errors.New("entities: entity is linked to an account")
)

// ConflictError reports every uniqueness rule a write would break.
type ConflictError struct {
	DuplicatedNationalID bool     `json:"duplicated_national_id"`
	EmailsUsed           []string `json:"emails_used"`
	PhonesUsed           []string `json:"phones_used"`
}

func (e *ConflictError) Error() string {
	var parts []string
	if e.DuplicatedNationalID {
		parts = append(parts, "national id already registered")
	}
	if len(e.EmailsUsed) > 0 {
		parts = append(parts, "emails in use: "+strings.Join(e.EmailsUsed, ", "))
	}
	if len(e.PhonesUsed) > 0 {
		parts = append(parts, "phones in use: "+strings.Join(e.PhonesUsed, ", "))
	}
	return "entities: conflict: " + strings.Join(parts, "; ")
}

// Empty reports whether no rule was broken.
func (e *ConflictError) Empty() bool {
	return e == nil || (!e.DuplicatedNationalID && len(e.EmailsUsed) == 0 && len(e.PhonesUsed) == 0)
}

// orNil keeps the zero value from escaping as a non-nil error.
func (e *ConflictError) orNil() *ConflictError {
	if e.Empty() {
		return nil
	}
	if e.EmailsUsed == nil {
		e.EmailsUsed = []string{}
	}
	if e.PhonesUsed == nil {
		e.PhonesUsed = []string{}
	}
	return e
}
