// Package session owns the authenticated session, the current company
// context, permission data and the resilience logic around them: token
// refresh scheduling, optimistic company switching, cache-backed lookups and
// state persistence. It is the only writer of that state; everything else in
// the client reads through it.
package session

import (
	"time"

	"github.com/jrsteele09/go-erp-session/tenants"
	"github.com/jrsteele09/go-erp-session/users"
)

// State is the authentication state machine position.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateLocked:
		return "locked"
	}
	return "unknown"
}

// Session is the live representation of who is logged in and with what
// token. Exactly one Session exists per Manager; it is created on login,
// mutated on refresh and destroyed on logout. TokenExpiresAt is derived once
// from the token payload and recomputed only when the token changes.
type Session struct {
	User            users.User
	BearerToken     string
	RefreshToken    string
	TokenIssuedAt   time.Time
	TokenExpiresAt  time.Time
	IsAuthenticated bool
	IsLocked        bool
}

// Analytics is write-mostly session telemetry. Counters only ever increase
// within one session and reset when it ends.
type Analytics struct {
	Logins          int `json:"logins"`
	Actions         int `json:"actions"`
	Errors          int `json:"errors"`
	CompanySwitches int `json:"companySwitches"`
}

// Snapshot is the declared persisted subset of manager state: session
// identity, the company list and analytics. Cacheable permission data is
// deliberately excluded - it is always refetched. The snapshot is rewritten
// after every mutation of a persisted field and read exactly once at process
// start.
type Snapshot struct {
	User             users.User      `json:"user"`
	RefreshToken     string          `json:"refreshToken"`
	TokenIssuedAt    time.Time       `json:"tokenIssuedAt"`
	TokenExpiresAt   time.Time       `json:"tokenExpiresAt"`
	Companies        []tenants.Tenant `json:"companies"`
	CurrentCompanyID string          `json:"currentCompanyId"`
	Analytics        Analytics       `json:"analytics"`
}
