package session

import "errors"

var (
	ErrNilTransport       = errors.New("transport is required")
	ErrNilSnapshotStore   = errors.New("snapshot store is required")
	ErrNilTabStore        = errors.New("tab store is required")
	ErrNilCredentialStore = errors.New("credential store is required")

	// ErrCompanyIDRequired rejects a switch to an empty company id before any
	// state is touched.
	ErrCompanyIDRequired = errors.New("company id is required")
	// ErrCompanyNotFound rejects a switch to an id missing from the known
	// company list. The previous company stays current.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrNotAuthenticated is returned by operations that need a live session.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAccountLocked is returned when a login attempt is rejected with a
	// credential failure and the client enters the locked state.
	ErrAccountLocked = errors.New("account locked pending re-authentication")
)
