package domain

import "errors"

// ErrAlreadyExists and related errors describe aggregate reconstruction and validation failures.
var (
	ErrAlreadyExists    = errors.New("aggregate already exists")
	ErrNotFound         = errors.New("aggregate not found")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidPayload   = errors.New("invalid payload")
	ErrInvalidID        = errors.New("invalid id")
	ErrInvalidName      = errors.New("invalid name")
	ErrInvalidTitle     = errors.New("invalid title")
	ErrInvalidStatus    = errors.New("invalid task status")
	ErrInvalidRole      = errors.New("invalid role")
	ErrInvalidEmail     = errors.New("invalid email")
	ErrInvalidPassword  = errors.New("invalid password")
)
