// Package sessionfakes provides in-memory test doubles for the session
// manager's transport and stores.
package sessionfakes

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-erp-session/api"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/session"
	"github.com/jrsteele09/go-erp-session/settings"
	"github.com/jrsteele09/go-erp-session/tenants"
)

// Gate holds a fake call in flight: the call closes Entered on arrival and
// then blocks until Release is closed. A nil Gate is a no-op.
type Gate struct {
	Entered chan struct{}
	Release chan struct{}
}

// NewGate creates an unreleased Gate.
func NewGate() *Gate {
	return &Gate{
		Entered: make(chan struct{}),
		Release: make(chan struct{}),
	}
}

func (g *Gate) wait() {
	if g == nil {
		return
	}
	close(g.Entered)
	<-g.Release
}

// FakeTransport is a scripted stand-in for api.Client. Set the result and
// error fields before use; call counters record what the manager asked for.
// The optional gates block their call mid-flight, outside the fake's own
// lock, so tests can interleave other operations.
type FakeTransport struct {
	mu sync.Mutex

	LoginResult    *api.LoginResult
	LoginErr       error
	RefreshResult  *api.LoginResult
	RefreshErr     error
	RevokeErr      error
	CompaniesList  []tenants.Tenant
	CompaniesErr   error
	PermissionSet  map[string][]permissions.Record
	PermissionErr  error
	SettingsSet    map[string][]settings.Display
	SettingsErr    error
	RefreshGate    *Gate
	CompaniesGate  *Gate
	PermissionGate *Gate

	LoginCalls       int
	RefreshCalls     int
	RevokeCalls      int
	CompaniesCalls   int
	PermissionCalls  map[string]int
	SettingsCalls    map[string]int
	RevokedTokens    []string
	LastLoginUser    string
	LastLoginPass    string
	LastRefreshToken string
}

// NewFakeTransport creates an empty FakeTransport.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{
		PermissionSet:   make(map[string][]permissions.Record),
		SettingsSet:     make(map[string][]settings.Display),
		PermissionCalls: make(map[string]int),
		SettingsCalls:   make(map[string]int),
	}
}

func (f *FakeTransport) Login(_ context.Context, username, password string) (*api.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.LoginCalls++
	f.LastLoginUser = username
	f.LastLoginPass = password
	if f.LoginErr != nil {
		return nil, f.LoginErr
	}
	return f.LoginResult, nil
}

func (f *FakeTransport) RefreshToken(_ context.Context, _, refreshToken string) (*api.LoginResult, error) {
	f.mu.Lock()
	f.RefreshCalls++
	f.LastRefreshToken = refreshToken
	gate := f.RefreshGate
	result, err := f.RefreshResult, f.RefreshErr
	f.mu.Unlock()

	gate.wait()
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (f *FakeTransport) RevokeToken(_ context.Context, _, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.RevokeCalls++
	f.RevokedTokens = append(f.RevokedTokens, refreshToken)
	return f.RevokeErr
}

func (f *FakeTransport) Companies(_ context.Context, _ string) ([]tenants.Tenant, error) {
	f.mu.Lock()
	f.CompaniesCalls++
	gate := f.CompaniesGate
	list, err := f.CompaniesList, f.CompaniesErr
	f.mu.Unlock()

	gate.wait()
	if err != nil {
		return nil, err
	}
	return list, nil
}

func (f *FakeTransport) Permissions(_ context.Context, _, companyID string) ([]permissions.Record, error) {
	f.mu.Lock()
	f.PermissionCalls[companyID]++
	gate := f.PermissionGate
	records, err := f.PermissionSet[companyID], f.PermissionErr
	f.mu.Unlock()

	gate.wait()
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (f *FakeTransport) DisplaySettings(_ context.Context, _, companyID string) ([]settings.Display, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SettingsCalls[companyID]++
	if f.SettingsErr != nil {
		return nil, f.SettingsErr
	}
	return f.SettingsSet[companyID], nil
}

// FakeSnapshotStore keeps the snapshot in memory. SaveErr and LoadErr make it
// misbehave on demand.
type FakeSnapshotStore struct {
	mu      sync.Mutex
	snap    *session.Snapshot
	SaveErr error
	LoadErr error
	Saves   int
}

func NewFakeSnapshotStore() *FakeSnapshotStore {
	return &FakeSnapshotStore{}
}

func (f *FakeSnapshotStore) Load() (*session.Snapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return nil, false, f.LoadErr
	}
	if f.snap == nil {
		return nil, false, nil
	}
	snap := *f.snap
	return &snap, true, nil
}

func (f *FakeSnapshotStore) Save(snap *session.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Saves++
	if f.SaveErr != nil {
		return f.SaveErr
	}
	copied := *snap
	f.snap = &copied
	return nil
}

func (f *FakeSnapshotStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = nil
	return nil
}

// Seed installs a snapshot as if a previous run had saved it.
func (f *FakeSnapshotStore) Seed(snap *session.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *snap
	f.snap = &copied
}

// FakeTabStore is the in-memory tab-scoped company pointer.
type FakeTabStore struct {
	mu        sync.Mutex
	companyID string
	set       bool
}

func NewFakeTabStore() *FakeTabStore {
	return &FakeTabStore{}
}

func (f *FakeTabStore) CompanyID() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companyID, f.set
}

func (f *FakeTabStore) SetCompanyID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companyID = id
	f.set = true
}

func (f *FakeTabStore) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companyID = ""
	f.set = false
}

// FakeCredentialStore keeps the bearer token in memory.
type FakeCredentialStore struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	set       bool
	SaveErr   error
	ClearErr  error
	Clears    int
}

func NewFakeCredentialStore() *FakeCredentialStore {
	return &FakeCredentialStore{}
}

func (f *FakeCredentialStore) Token() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.set
}

func (f *FakeCredentialStore) Save(token string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.token = token
	f.expiresAt = expiresAt
	f.set = true
	return nil
}

func (f *FakeCredentialStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Clears++
	if f.ClearErr != nil {
		return f.ClearErr
	}
	f.token = ""
	f.expiresAt = time.Time{}
	f.set = false
	return nil
}
