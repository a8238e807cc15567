// Package token implements the token lifecycle manager: access-token
// validity checks against a trusted clock with a 60-second safety margin,
// and refresh-token exchange with single-flight deduplication so concurrent
// callers share one network call and one outcome.
//
// Error taxonomy: ErrNoAccessToken (absence, no call attempted),
// ErrNetworkConnection (transient, auth preserved), ErrRefreshConsumed
// (authoritative 400 rejection, forced sign-out).
package token
