package gmo

import "errors"

// Errors surfaced by the codec.
var (
	ErrInvalidConfig      = errors.New("invalid gateway config")
	ErrInvalidPayload     = errors.New("invalid checkout payload")
	ErrVerificationFailed = errors.New("notification verification failed")
)
