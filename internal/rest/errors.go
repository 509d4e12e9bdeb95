package rest

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrAuthExpired means the access token was rejected and the refresh
	// collaborator could not produce a new one; callers should treat it as
	// a sign-in-required signal, not an in-page error.
	ErrAuthExpired = errors.New("authentication expired")
)

// apiError is the error body shape the backend returns.
type apiError struct {
	Message string `json:"message"`
}

// statusError carries a non-2xx response that maps to no sentinel.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}
