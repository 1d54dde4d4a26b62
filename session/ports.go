package session

import (
	"context"
	"time"

	"github.com/jrsteele09/go-erp-session/api"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/settings"
	"github.com/jrsteele09/go-erp-session/tenants"
)

// Transport is the backend surface the manager depends on. api.Client
// satisfies it; tests substitute a fake.
type Transport interface {
	Login(ctx context.Context, username, password string) (*api.LoginResult, error)
	RefreshToken(ctx context.Context, bearer, refreshToken string) (*api.LoginResult, error)
	RevokeToken(ctx context.Context, bearer, refreshToken string) error
	Companies(ctx context.Context, bearer string) ([]tenants.Tenant, error)
	Permissions(ctx context.Context, bearer, companyID string) ([]permissions.Record, error)
	DisplaySettings(ctx context.Context, bearer, companyID string) ([]settings.Display, error)
}

// SnapshotStore persists the session snapshot across restarts.
type SnapshotStore interface {
	// Load returns the persisted snapshot, or found == false when none exists.
	Load() (snap *Snapshot, found bool, err error)
	Save(snap *Snapshot) error
	Clear() error
}

// TabStore holds the tab-scoped current company pointer. It lives and dies
// with one tab, so two tabs of the same session can point at different
// companies.
type TabStore interface {
	CompanyID() (string, bool)
	SetCompanyID(id string)
	Clear()
}

// CredentialStore keeps the bearer token outside the snapshot so it can be
// stored with tighter permissions and cleared independently.
type CredentialStore interface {
	Token() (string, bool)
	Save(token string, expiresAt time.Time) error
	Clear() error
}

// Stores bundles the persistence dependencies of the Manager.
type Stores struct {
	Snapshots   SnapshotStore
	Tab         TabStore
	Credentials CredentialStore
}

func (s Stores) validate() error {
	if s.Snapshots == nil {
		return ErrNilSnapshotStore
	}
	if s.Tab == nil {
		return ErrNilTabStore
	}
	if s.Credentials == nil {
		return ErrNilCredentialStore
	}
	return nil
}
