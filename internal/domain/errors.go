package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrVenueUnavailable = errors.New("venue unavailable")
	ErrLockHeld         = errors.New("lock already held")
)
