package token

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenInvalid rejects tokens whose shape fails Token.Validate.
	ErrTokenInvalid = errors.New("invalid token shape")
	// ErrTokenNotFound is returned when no token exists for a storage key.
	ErrTokenNotFound = errors.New("token not found")
	// ErrRenewThrottled rejects a renewal attempt inside the throttle window.
	ErrRenewThrottled = errors.New("token renewal throttled")
	// ErrManagerClosed rejects operations on a closed manager.
	ErrManagerClosed = errors.New("token manager closed")
)

// KeyError tags a lifecycle failure with the storage key it concerns, so
// error-event subscribers can tell which token the failure belongs to.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("token %q: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

// AuthorizationError is returned by Transport implementations when the
// identity provider rejects a renewal or grant outright (as opposed to a
// network failure).
type AuthorizationError struct {
	Code        string
	Description string
}

func (e *AuthorizationError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// IsAuthorizationError reports whether err (or anything it wraps) is a
// provider-side rejection.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}
