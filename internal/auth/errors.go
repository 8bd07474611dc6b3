package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown emails, wrong passwords and every
	// token or session that cannot be verified.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrAccountDisabled    = errors.New("auth: account is disabled")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrForbidden          = errors.New("auth: forbidden")
)
