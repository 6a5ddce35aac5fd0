package app

import "errors"

// ErrVersionConflict and related errors describe store and command-handling failures.
var (
	ErrNotFound           = errors.New("not found")
	ErrVersionConflict    = errors.New("stream version conflict")
	ErrTransientStore     = errors.New("transient store error")
	ErrAmbiguousAppend    = errors.New("append outcome unknown")
	ErrPartialWrite       = errors.New("partial multi-stream write")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
