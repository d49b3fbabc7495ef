package session

import "errors"

var (
	// ErrInvalidCredentials means the backend rejected the email/password pair.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrOrganizationMismatch means the credentials are valid but not for the
	// requested organization.
	ErrOrganizationMismatch = errors.New("account does not belong to the requested organization")

	// ErrUnauthorized means the session may not act on the requested target,
	// e.g. switching to an organization outside the accessible set.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotAuthenticated means no session is established.
	ErrNotAuthenticated = errors.New("not signed in")

	// ErrNoPendingChallenge means a two-factor code was submitted without an
	// outstanding challenge.
	ErrNoPendingChallenge = errors.New("no pending two-factor challenge")

	// ErrRefreshFailed means the token could not be refreshed and the session
	// was cleared.
	ErrRefreshFailed = errors.New("token refresh failed")
)
