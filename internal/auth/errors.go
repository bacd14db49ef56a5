package auth

import "errors"

var (
	ErrNotFound     = errors.New("auth: not found")
	ErrInvalidInput = errors.New("auth: invalid input")
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrConflict     = errors.New("auth: conflict")
)

// ErrInvalidToken indicates the staff identity assertion failed validation.
var ErrInvalidToken = errors.New("auth: invalid token")
