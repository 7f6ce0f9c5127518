package service

import "errors"

var (
	// ErrInvalidInput covers validation failures the caller can correct.
	ErrInvalidInput = errors.New("service: invalid input")
	// ErrUnauthorized is the opaque authentication failure.
	ErrUnauthorized = errors.New("service: unauthorized")
	// ErrForbidden is a permission or ownership denial, distinct from an
	// authentication failure.
	ErrForbidden = errors.New("service: forbidden")
	// ErrGraceExpired marks a recover attempt outside the grace window.
	ErrGraceExpired = errors.New("service: grace period expired")
)
