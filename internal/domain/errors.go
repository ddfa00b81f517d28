package domain

import "errors"

var (
	// ErrNotFound is returned by repositories when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidEmail is returned when a session is requested without a usable email.
	ErrInvalidEmail = errors.New("invalid email")
)
