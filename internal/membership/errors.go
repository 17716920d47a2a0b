package membership

import "errors"

var (
	ErrAlreadyMember = errors.New("user already has a membership")
	ErrNotMember     = errors.New("user has no membership")
	ErrInvalidFormat = errors.New("invalid duration format (e.g. 1d, 12h, 30m, 45s)")
	// ErrInvalidDuration rejects a non-positive grant duration.
	ErrInvalidDuration = errors.New("membership duration must be positive")
	ErrEmptyUserID     = errors.New("user id is required")
)
