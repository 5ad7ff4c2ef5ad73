package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrNotLinked means the user has no stored drive credentials.
	ErrNotLinked = errors.New("drive account not linked")

	// ErrNoRefreshToken means the stored record cannot be refreshed.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshInProgress means another process holds the refresh lease for
	// the user. It is transient: the caller may retry shortly.
	ErrRefreshInProgress = errors.New("token refresh already in progress")
)

// AuthError reports that the user's drive authorization is unusable and the
// user must re-link. Description carries the identity provider's
// error_description when one was returned.
type AuthError struct {
	Description string
	Err         error
}

func (e *AuthError) Error() string {
	if e.Description == "" && e.Err != nil {
		return fmt.Sprintf("drive authorization failed: %v", e.Err)
	}
	return fmt.Sprintf("drive authorization failed: %s", e.Description)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
