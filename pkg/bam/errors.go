package bam

import (
	"errors"
	"fmt"
)

// Common errors for appliance operations.
var (
	// ErrNotFound indicates a lookup matched no resource.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized indicates the session was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotLoggedIn is returned when an API call is made before Login.
	ErrNotLoggedIn = errors.New("no appliance session")

	// ErrPagingStalled is returned when a list endpoint serves the same
	// page again instead of advancing.
	ErrPagingStalled = errors.New("paging did not advance")
)

// AuthError is returned when the appliance rejects a login.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("appliance login failed: %s", e.Message)
	}
	return fmt.Sprintf("appliance login failed (status %d): %s", e.StatusCode, e.Message)
}

func (e *AuthError) Unwrap() error {
	return ErrUnauthorized
}

// APIError describes a single failed appliance call.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Unwrap maps session-level statuses onto ErrUnauthorized.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 401 {
		return ErrUnauthorized
	}
	return nil
}

// IsNotFound returns true if the error indicates an absent resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUnauthorized returns true if the error indicates the session is unusable.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotLoggedIn)
}

// IsAPIError returns true if the error came from a non-success appliance response.
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
