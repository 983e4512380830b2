// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
)

// Common sentinels across gateway/service/handler layers.
var (
	// ErrNotFound indicates the requested entity does not exist (backend 404 or empty row).
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary login lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., duplicate request id).
	ErrAlreadyExists = errors.New("already exists")

	// ErrValidation indicates malformed or missing input.
	ErrValidation = errors.New("validation")

	// ErrSessionExpired indicates the token pair is gone and the user must log in again.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken indicates a 401 with nothing to refresh with.
	ErrNoRefreshToken = fmt.Errorf("no refresh token: %w", ErrSessionExpired)

	// ErrSyncFailed indicates the OAuth identity could not be linked to a backend user.
	ErrSyncFailed = errors.New("oauth sync failed")
)
