package domain

import "errors"

// Domain errors
var (
	ErrPlayerNotFound     = errors.New("player not found in leaderboard")
	ErrInvalidUsername    = errors.New("invalid username")
	ErrRateLimited        = errors.New("too many submissions, slow down")
	ErrStorageUnavailable = errors.New("leaderboard storage unavailable")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound)
}
