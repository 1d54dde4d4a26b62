package session_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-erp-session/api"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/session"
	"github.com/jrsteele09/go-erp-session/session/sessionfakes"
	"github.com/jrsteele09/go-erp-session/settings"
	"github.com/jrsteele09/go-erp-session/tenants"
	"github.com/jrsteele09/go-erp-session/users"
)

type fixture struct {
	transport   *sessionfakes.FakeTransport
	snapshots   *sessionfakes.FakeSnapshotStore
	tab         *sessionfakes.FakeTabStore
	credentials *sessionfakes.FakeCredentialStore
	manager     *session.Manager
}

func setupTestFixture(t *testing.T, options ...session.ManagerOption) *fixture {
	t.Helper()

	f := &fixture{
		transport:   sessionfakes.NewFakeTransport(),
		snapshots:   sessionfakes.NewFakeSnapshotStore(),
		tab:         sessionfakes.NewFakeTabStore(),
		credentials: sessionfakes.NewFakeCredentialStore(),
	}

	manager, err := session.NewManager(f.transport, session.Stores{
		Snapshots:   f.snapshots,
		Tab:         f.tab,
		Credentials: f.credentials,
	}, options...)
	require.NoError(t, err)

	f.manager = manager
	return f
}

// makeToken builds an unsigned JWT carrying the given claims. The manager
// never verifies signatures, so an empty signature segment is enough.
func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "."
}

func loginResult(t *testing.T, userID string, expiresAt time.Time) *api.LoginResult {
	t.Helper()

	return &api.LoginResult{
		User:  users.User{ID: userID, Username: userID},
		Token: makeToken(t, map[string]interface{}{
			"sub": userID,
			"iat": float64(time.Now().Unix()),
			"exp": float64(expiresAt.Unix()),
		}),
		RefreshToken: "refresh-" + userID,
	}
}

func twoCompanies() []tenants.Tenant {
	return []tenants.Tenant{
		{ID: "co-a", Name: "Acme Lines", Code: "ACME"},
		{ID: "co-b", Name: "Borealis Freight", Code: "BOR"},
	}
}

func readRight(moduleID, transactionID int) permissions.Record {
	return permissions.Record{ModuleID: moduleID, TransactionID: transactionID, Read: true}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()

	f.transport.LoginResult = loginResult(t, "user-1", time.Now().Add(time.Hour))
	f.transport.CompaniesList = twoCompanies()
	f.transport.PermissionSet["co-a"] = []permissions.Record{readRight(1, 100)}
	f.transport.PermissionSet["co-b"] = []permissions.Record{readRight(2, 200)}

	require.NoError(t, f.manager.LogIn(context.Background(), "user-1", "secret"))
}

func TestLogIn_Success(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	require.Equal(t, session.StateAuthenticated, f.manager.State())
	require.Equal(t, "user-1", f.manager.Session().User.ID)
	require.True(t, f.manager.Session().IsAuthenticated)

	// The company list loads immediately and the first company is selected.
	require.Len(t, f.manager.Companies(), 2)
	current, ok := f.manager.CurrentCompany()
	require.True(t, ok)
	require.Equal(t, "co-a", current.ID)

	// Permissions for the selected company are live.
	require.True(t, f.manager.HasRight(1, 100, permissions.RightRead))
	require.False(t, f.manager.HasRight(2, 200, permissions.RightRead))

	// The credential and snapshot survive for the next run.
	token, ok := f.credentials.Token()
	require.True(t, ok)
	require.NotEmpty(t, token)
	snap, found, err := f.snapshots.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "co-a", snap.CurrentCompanyID)
	require.Equal(t, 1, f.manager.AnalyticsSnapshot().Logins)
}

func TestLogIn_BackendRejectionKeepsMessage(t *testing.T) {
	f := setupTestFixture(t)
	f.transport.LoginErr = &api.BackendError{Message: "invalid username or password"}

	err := f.manager.LogIn(context.Background(), "user-1", "wrong")

	require.Error(t, err)
	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Equal(t, "invalid username or password", f.manager.ErrorMessage())
	require.Empty(t, f.manager.Session().BearerToken, "a failed attempt must leave no token behind")
}

func TestLogIn_UnauthorizedLocks(t *testing.T) {
	f := setupTestFixture(t)
	f.transport.LoginErr = api.ErrUnauthorized

	err := f.manager.LogIn(context.Background(), "user-1", "secret")

	require.ErrorIs(t, err, session.ErrAccountLocked)
	require.Equal(t, session.StateLocked, f.manager.State())
	_, ok := f.credentials.Token()
	require.False(t, ok)
}

// A login that unlocks a locked session keeps the existing company context
// instead of refetching it.
func TestLogIn_UnlockSkipsCompanyFetch(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.manager.HandleUnauthorized()
	require.Equal(t, session.StateLocked, f.manager.State())
	companiesCalls := f.transport.CompaniesCalls

	require.NoError(t, f.manager.LogIn(context.Background(), "user-1", "secret"))

	require.Equal(t, session.StateAuthenticated, f.manager.State())
	require.Equal(t, companiesCalls, f.transport.CompaniesCalls)
}

func TestSwitchCompany_Success(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.SettingsSet["co-b"] = []settings.Display{{AmountDecimals: 3, QuantityDecimals: 1, RateDecimals: 6, DateFormat: "2006-01-02", ThousandsSep: "."}}

	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-b", true))

	current, ok := f.manager.CurrentCompany()
	require.True(t, ok)
	require.Equal(t, "co-b", current.ID)
	tabID, ok := f.tab.CompanyID()
	require.True(t, ok)
	require.Equal(t, "co-b", tabID)
	require.True(t, f.manager.HasRight(2, 200, permissions.RightRead))
	require.False(t, f.manager.HasRight(1, 100, permissions.RightRead), "previous company's rights must not leak")
	require.Equal(t, 3, f.manager.DisplaySettings().AmountDecimals)
}

func TestSwitchCompany_SameCompanyIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	permissionCalls := f.transport.PermissionCalls["co-a"]
	settingsCalls := f.transport.SettingsCalls["co-a"]

	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-a", true))

	require.Equal(t, permissionCalls, f.transport.PermissionCalls["co-a"], "no network on idempotent switch")
	require.Equal(t, settingsCalls, f.transport.SettingsCalls["co-a"])
}

func TestSwitchCompany_UnknownIDRollsBack(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	err := f.manager.SwitchCompany(context.Background(), "co-ghost", true)

	require.ErrorIs(t, err, session.ErrCompanyNotFound)
	require.Contains(t, err.Error(), "co-ghost")
	current, ok := f.manager.CurrentCompany()
	require.True(t, ok)
	require.Equal(t, "co-a", current.ID, "the previous company stays current")
	require.True(t, f.manager.HasRight(1, 100, permissions.RightRead))
}

func TestSwitchCompany_EmptyID(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	err := f.manager.SwitchCompany(context.Background(), "", true)

	require.ErrorIs(t, err, session.ErrCompanyIDRequired)
}

func TestSwitchCompany_NotAuthenticated(t *testing.T) {
	f := setupTestFixture(t)

	err := f.manager.SwitchCompany(context.Background(), "co-a", true)

	require.ErrorIs(t, err, session.ErrNotAuthenticated)
}

// A permissions fetch failure fails closed: the switch succeeds but every
// right is denied.
func TestSwitchCompany_PermissionFailureDeniesAll(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.PermissionErr = api.ErrUnauthorized

	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-b", false))

	current, ok := f.manager.CurrentCompany()
	require.True(t, ok)
	require.Equal(t, "co-b", current.ID)
	require.False(t, f.manager.HasRight(2, 200, permissions.RightRead))
	require.False(t, f.manager.HasRight(1, 100, permissions.RightRead))
}

// A settings fetch failure fails open: the defaults apply and the switch
// still succeeds.
func TestSwitchCompany_SettingsFailureUsesDefaults(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.SettingsErr = &api.BackendError{Message: "settings service down"}

	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-b", true))

	require.Equal(t, settings.Defaults(), f.manager.DisplaySettings())
}

// Switching away and back within the cache TTL rebuilds permissions from the
// cache without another backend call.
func TestSwitchCompany_ReturnTripHitsCache(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.Equal(t, 1, f.transport.PermissionCalls["co-a"])

	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-b", false))
	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-a", false))

	require.Equal(t, 1, f.transport.PermissionCalls["co-a"], "return trip must be served from cache")
	require.Equal(t, 1, f.transport.PermissionCalls["co-b"])
	require.True(t, f.manager.HasRight(1, 100, permissions.RightRead))
}

func TestRefreshToken_Success(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	oldToken := f.manager.Session().BearerToken
	f.transport.RefreshResult = &api.LoginResult{
		Token: makeToken(t, map[string]interface{}{
			"exp": float64(time.Now().Add(2 * time.Hour).Unix()),
		}),
		RefreshToken: "refresh-next",
	}

	f.manager.RefreshTokenAutomatically(context.Background())

	s := f.manager.Session()
	require.NotEqual(t, oldToken, s.BearerToken)
	require.Equal(t, "refresh-next", s.RefreshToken)
	require.Equal(t, "user-1", s.User.ID, "a refresh response without a user keeps the current one")
	stored, ok := f.credentials.Token()
	require.True(t, ok)
	require.Equal(t, s.BearerToken, stored)
}

// A refresh failure is non-fatal: the session continues on the old token and
// the next backend 401 is what ends it.
func TestRefreshToken_FailureKeepsSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	oldToken := f.manager.Session().BearerToken
	f.transport.RefreshErr = &api.BackendError{Message: "refresh token revoked"}

	f.manager.RefreshTokenAutomatically(context.Background())

	require.Equal(t, session.StateAuthenticated, f.manager.State())
	require.Equal(t, oldToken, f.manager.Session().BearerToken)
}

func TestRefreshToken_CooldownSuppressesSecondAttempt(t *testing.T) {
	now := time.Now()
	f := setupTestFixture(t, session.WithNowFunc(func() time.Time { return now }))
	f.login(t)
	f.transport.RefreshResult = loginResult(t, "user-1", now.Add(2*time.Hour))

	f.manager.RefreshTokenAutomatically(context.Background())
	f.manager.RefreshTokenAutomatically(context.Background())

	require.Equal(t, 1, f.transport.RefreshCalls, "second attempt inside the cooldown must not hit the network")
}

func TestRefreshToken_NoopWhenAnonymous(t *testing.T) {
	f := setupTestFixture(t)

	f.manager.RefreshTokenAutomatically(context.Background())

	require.Zero(t, f.transport.RefreshCalls)
}

func TestGetCompanies_FailureIsSwallowed(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.CompaniesErr = api.ErrNoCompanies

	list := f.manager.GetCompanies(context.Background())

	require.Len(t, list, 2, "the previously known list survives a failed fetch")
	require.Equal(t, session.StateAuthenticated, f.manager.State())
	require.Empty(t, f.manager.ErrorMessage(), "a list fetch failure is logged, never surfaced")
}

func TestLogOut_RevokesAndClears(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	refreshToken := f.manager.Session().RefreshToken

	f.manager.LogOut(context.Background())

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Equal(t, []string{refreshToken}, f.transport.RevokedTokens)
	require.Empty(t, f.manager.Session().BearerToken)
	require.Empty(t, f.manager.Companies())
	_, ok := f.manager.CurrentCompany()
	require.False(t, ok)
	require.False(t, f.manager.HasRight(1, 100, permissions.RightRead))
	_, ok = f.credentials.Token()
	require.False(t, ok)
	_, found, err := f.snapshots.Load()
	require.NoError(t, err)
	require.False(t, found)
	require.Zero(t, f.manager.AnalyticsSnapshot().Logins)
}

func TestLogOut_RevokeFailureStillClears(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.RevokeErr = &api.BackendError{Message: "revoke endpoint down"}

	f.manager.LogOut(context.Background())

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Empty(t, f.manager.Session().BearerToken)
}

// A refresh that was already in flight when the user logged out must not
// resurrect the cleared session when it completes.
func TestLogOut_FinalAgainstInFlightRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	f.transport.RefreshResult = loginResult(t, "user-1", time.Now().Add(2*time.Hour))
	gate := sessionfakes.NewGate()
	f.transport.RefreshGate = gate

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.manager.RefreshTokenAutomatically(context.Background())
	}()
	<-gate.Entered

	f.manager.LogOut(context.Background())
	close(gate.Release)
	<-done

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.False(t, f.manager.Session().IsAuthenticated)
	_, ok := f.credentials.Token()
	require.False(t, ok, "a late refresh must not re-persist the credential")
	_, found, err := f.snapshots.Load()
	require.NoError(t, err)
	require.False(t, found, "a late refresh must not rewrite the snapshot")
}

func TestLogOut_FinalAgainstInFlightCompanyFetch(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	gate := sessionfakes.NewGate()
	f.transport.CompaniesGate = gate

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.manager.GetCompanies(context.Background())
	}()
	<-gate.Entered

	f.manager.LogOut(context.Background())
	close(gate.Release)
	<-done

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Empty(t, f.manager.Companies(), "a late list response must not repopulate the cleared list")
	_, found, err := f.snapshots.Load()
	require.NoError(t, err)
	require.False(t, found)
}

func TestLogOut_FinalAgainstInFlightPermissionFetch(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	gate := sessionfakes.NewGate()
	f.transport.PermissionGate = gate

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.manager.SwitchCompany(context.Background(), "co-b", false)
	}()
	<-gate.Entered

	f.manager.LogOut(context.Background())
	close(gate.Release)
	<-done

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.False(t, f.manager.HasRight(2, 200, permissions.RightRead),
		"a late permissions response must not repopulate the index")
}

func TestForceLogout_NoNetwork(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	f.manager.ForceLogout()

	require.Equal(t, session.StateAnonymous, f.manager.State())
	require.Zero(t, f.transport.RevokeCalls)
}

func TestHandleUnauthorized_LocksSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	f.manager.HandleUnauthorized()

	require.Equal(t, session.StateLocked, f.manager.State())
	require.True(t, f.manager.Session().IsLocked)
	require.NotEmpty(t, f.manager.ErrorMessage())
	_, ok := f.credentials.Token()
	require.False(t, ok)
}

func TestResume_RestoresSession(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)
	require.NoError(t, f.manager.SwitchCompany(context.Background(), "co-b", false))

	// Second run: fresh manager over the same stores.
	restarted, err := session.NewManager(f.transport, session.Stores{
		Snapshots:   f.snapshots,
		Tab:         f.tab,
		Credentials: f.credentials,
	})
	require.NoError(t, err)

	require.NoError(t, restarted.Resume())

	require.Equal(t, session.StateAuthenticated, restarted.State())
	require.Equal(t, "user-1", restarted.Session().User.ID)
	require.Len(t, restarted.Companies(), 2)
	current, ok := restarted.CurrentCompany()
	require.True(t, ok)
	require.Equal(t, "co-b", current.ID, "the tab-scoped company survives the restart")
}

func TestResume_ExpiredCredentialStaysAnonymous(t *testing.T) {
	f := setupTestFixture(t)
	f.snapshots.Seed(&session.Snapshot{
		User:      users.User{ID: "user-1"},
		Companies: twoCompanies(),
	})
	expired := makeToken(t, map[string]interface{}{
		"exp": float64(time.Now().Add(-time.Hour).Unix()),
	})
	require.NoError(t, f.credentials.Save(expired, time.Now().Add(-time.Hour)))

	require.NoError(t, f.manager.Resume())

	require.Equal(t, session.StateAnonymous, f.manager.State())
	_, ok := f.credentials.Token()
	require.False(t, ok, "an expired credential is cleared on resume")
}

func TestResume_UnreadableSnapshotForcesLogout(t *testing.T) {
	f := setupTestFixture(t)
	f.snapshots.LoadErr = &api.BackendError{Message: "corrupt"}

	require.NoError(t, f.manager.Resume())

	require.Equal(t, session.StateAnonymous, f.manager.State())
}

func TestRecordAction_Persists(t *testing.T) {
	f := setupTestFixture(t)
	f.login(t)

	f.manager.RecordAction()
	f.manager.RecordAction()

	require.Equal(t, 2, f.manager.AnalyticsSnapshot().Actions)
	snap, found, err := f.snapshots.Load()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, snap.Analytics.Actions)
}

func TestNewManager_Validation(t *testing.T) {
	stores := session.Stores{
		Snapshots:   sessionfakes.NewFakeSnapshotStore(),
		Tab:         sessionfakes.NewFakeTabStore(),
		Credentials: sessionfakes.NewFakeCredentialStore(),
	}

	_, err := session.NewManager(nil, stores)
	require.ErrorIs(t, err, session.ErrNilTransport)

	stores.Tab = nil
	_, err = session.NewManager(sessionfakes.NewFakeTransport(), stores)
	require.ErrorIs(t, err, session.ErrNilTabStore)
}
