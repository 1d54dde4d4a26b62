package api

import "errors"

var (
	// ErrUnauthorized is returned when the backend answers HTTP 401. The
	// session layer maps it to the locked login variant.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoCompanies is returned when the company list comes back empty. An
	// empty list is an authorization problem, not an empty-but-valid state.
	ErrNoCompanies = errors.New("no companies available for this user")
)

// BackendError carries the failure message from an envelope whose result is
// not success, so callers can surface the backend's own wording.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return "request rejected by backend"
	}
	return e.Message
}
