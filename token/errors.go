package token

import "errors"

// The token manager is the only component in the core whose errors are typed
// and propagated to callers; they decide user-visible auth behavior.
var (
	// ErrNoAccessToken means no token is present when one is required. No
	// network call is attempted.
	ErrNoAccessToken = errors.New("no access token present")

	// ErrNetworkConnection covers connectivity-class failures and non-400
	// HTTP rejections. Recoverable: auth state is preserved so a later
	// retry can succeed.
	ErrNetworkConnection = errors.New("network connection failure")

	// ErrRefreshConsumed means the endpoint returned 400: the refresh token
	// was already used or is invalid. Unrecoverable; the manager forces a
	// sign-out.
	ErrRefreshConsumed = errors.New("refresh token already consumed")
)
