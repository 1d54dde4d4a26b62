package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-erp-session/api"
	"github.com/jrsteele09/go-erp-session/cache"
	"github.com/jrsteele09/go-erp-session/permissions"
	"github.com/jrsteele09/go-erp-session/settings"
	"github.com/jrsteele09/go-erp-session/tenants"
	"github.com/jrsteele09/go-erp-session/token"
)

const (
	// refreshMargin is how long before token expiry the automatic refresh
	// fires.
	refreshMargin = 5 * time.Minute
	// refreshMinDelay floors the refresh timer so a nearly-expired token does
	// not trigger a hot refresh loop.
	refreshMinDelay = time.Minute
	// refreshCooldown is the minimum spacing between refresh attempts.
	refreshCooldown = 30 * time.Second
)

// Manager owns the session state machine and every mutation of it. All reads
// and writes go through its mutex; network calls never hold the lock.
type Manager struct {
	transport Transport
	stores    Stores
	cache     *cache.Cache
	index     *permissions.Index
	log       zerolog.Logger
	nowFunc   func() time.Time

	mu sync.Mutex
	// epoch identifies the session the state belongs to. It increments
	// whenever the session is installed, locked or torn down; an operation
	// that released the lock for a network call compares the epoch it
	// captured and discards its result when the session it started under is
	// gone. This is what makes logout final against in-flight completions.
	epoch        uint64
	state        State
	session      Session
	companies    []tenants.Tenant
	current      *tenants.Tenant
	display      settings.Display
	analytics    Analytics
	errorMessage string

	refreshInProgress  bool
	lastRefreshAttempt time.Time
	refreshTimer       *time.Timer
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// WithNowFunc replaces the clock, primarily for tests.
func WithNowFunc(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = nowFunc
	}
}

// WithCacheTTL sets the TTL of the permissions and settings cache.
func WithCacheTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.cache = cache.New(ttl)
	}
}

// NewManager creates a Manager in the anonymous state.
func NewManager(transport Transport, stores Stores, options ...ManagerOption) (*Manager, error) {
	if transport == nil {
		return nil, errors.Wrap(ErrNilTransport, "[NewManager]")
	}
	if err := stores.validate(); err != nil {
		return nil, errors.Wrap(err, "[NewManager]")
	}

	m := &Manager{
		transport: transport,
		stores:    stores,
		cache:     cache.New(cache.DefaultTTL),
		index:     permissions.NewIndex(),
		log:       zerolog.Nop(),
		nowFunc:   time.Now,
		state:     StateAnonymous,
		display:   settings.Defaults(),
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// LogIn authenticates with the backend. On success the session is installed,
// the refresh timer armed and - unless this login is unlocking an existing
// locked session - the company list fetch is triggered immediately. On a
// credential rejection the manager enters the locked state; any other failure
// returns to anonymous. Either way the failed attempt leaves no token behind.
func (m *Manager) LogIn(ctx context.Context, username, password string) error {
	m.mu.Lock()
	wasLocked := m.state == StateLocked
	m.state = StateAuthenticating
	m.errorMessage = ""
	m.mu.Unlock()

	res, err := m.transport.Login(ctx, username, password)
	if err != nil {
		m.failLogin(err)
		if stderrors.Is(err, api.ErrUnauthorized) {
			return errors.Wrap(ErrAccountLocked, "[LogIn]")
		}
		return errors.Wrap(err, "[LogIn]")
	}

	m.mu.Lock()
	m.installSessionLocked(res)
	m.analytics.Logins++
	if err := m.stores.Credentials.Save(res.Token, m.session.TokenExpiresAt); err != nil {
		m.log.Warn().Err(err).Msg("persisting credential failed")
	}
	m.snapshotLocked()
	m.mu.Unlock()

	if !wasLocked {
		m.GetCompanies(ctx)
	}

	return nil
}

func (m *Manager) failLogin(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopRefreshTimerLocked()
	m.epoch++
	m.session = Session{}
	if stderrors.Is(cause, api.ErrUnauthorized) {
		m.state = StateLocked
		m.session.IsLocked = true
	} else {
		m.state = StateAnonymous
	}
	m.errorMessage = userMessage(cause)
	m.analytics.Errors++
	if err := m.stores.Credentials.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("clearing credential failed")
	}
	m.snapshotLocked()
}

// userMessage extracts the wording the UI should show for a failure.
func userMessage(err error) string {
	var backendErr *api.BackendError
	if stderrors.As(err, &backendErr) {
		return backendErr.Error()
	}
	if stderrors.Is(err, api.ErrUnauthorized) {
		return "your credentials were rejected, please sign in again"
	}
	return err.Error()
}

// epochValid reports whether the session an operation started under is still
// the live one.
func (m *Manager) epochValid(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch
}

// installSessionLocked replaces the live session with the given token pair,
// derives the token timestamps and re-arms the refresh timer.
func (m *Manager) installSessionLocked(res *api.LoginResult) {
	m.epoch++
	m.session = Session{
		User:            res.User,
		BearerToken:     res.Token,
		RefreshToken:    res.RefreshToken,
		IsAuthenticated: true,
	}
	if iat, ok := token.IssuedAt(res.Token); ok {
		m.session.TokenIssuedAt = iat
	} else {
		m.session.TokenIssuedAt = m.nowFunc()
	}
	if exp, ok := token.ExpiresAt(res.Token); ok {
		m.session.TokenExpiresAt = exp
	}
	m.state = StateAuthenticated
	m.errorMessage = ""
	m.armRefreshTimerLocked()
}

// refreshDelay computes how long to wait before refreshing a token that
// expires at exp: margin before expiry, floored at min.
func refreshDelay(now, exp time.Time, margin, min time.Duration) time.Duration {
	d := exp.Sub(now) - margin
	if d < min {
		d = min
	}
	return d
}

func (m *Manager) armRefreshTimerLocked() {
	m.stopRefreshTimerLocked()
	if m.session.TokenExpiresAt.IsZero() {
		return
	}

	delay := refreshDelay(m.nowFunc(), m.session.TokenExpiresAt, refreshMargin, refreshMinDelay)
	m.refreshTimer = time.AfterFunc(delay, func() {
		m.RefreshTokenAutomatically(context.Background())
	})
}

func (m *Manager) stopRefreshTimerLocked() {
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

// RefreshTokenAutomatically exchanges the refresh token for a new pair. It is
// a no-op when not authenticated, when a refresh is already in flight, or
// within the cooldown window after the previous attempt. A failed refresh is
// deliberately non-fatal: the session stays live and the next 401 from the
// backend is what ends it.
func (m *Manager) RefreshTokenAutomatically(ctx context.Context) {
	m.mu.Lock()
	now := m.nowFunc()
	if !m.session.IsAuthenticated ||
		m.refreshInProgress ||
		(!m.lastRefreshAttempt.IsZero() && now.Sub(m.lastRefreshAttempt) < refreshCooldown) {
		m.mu.Unlock()
		return
	}
	m.refreshInProgress = true
	m.lastRefreshAttempt = now
	epoch := m.epoch
	bearer := m.session.BearerToken
	refresh := m.session.RefreshToken
	m.mu.Unlock()

	res, err := m.transport.RefreshToken(ctx, bearer, refresh)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshInProgress = false
	if m.epoch != epoch {
		m.log.Debug().Msg("discarding refresh result for an ended session")
		return
	}
	if err != nil {
		m.analytics.Errors++
		m.log.Warn().Err(err).Msg("token refresh failed, session continues until the backend rejects it")
		return
	}

	user := m.session.User
	m.installSessionLocked(res)
	if res.User.ID == "" {
		// Refresh responses may omit the user; keep the one we have.
		m.session.User = user
	}
	if err := m.stores.Credentials.Save(res.Token, m.session.TokenExpiresAt); err != nil {
		m.log.Warn().Err(err).Msg("persisting refreshed credential failed")
	}
	m.snapshotLocked()
	m.log.Debug().Time("expires_at", m.session.TokenExpiresAt).Msg("token refreshed")
}

// GetCompanies fetches the companies the user may act as and, when no company
// is current yet, selects the first one. Failures are logged and swallowed:
// the UI keeps whatever list it already has and retries on its own cadence.
func (m *Manager) GetCompanies(ctx context.Context) []tenants.Tenant {
	m.mu.Lock()
	epoch := m.epoch
	bearer := m.session.BearerToken
	authenticated := m.session.IsAuthenticated
	m.mu.Unlock()

	if !authenticated {
		return nil
	}

	// A failed fetch is logged but never surfaced: the UI keeps the list it
	// has and retries on its own cadence.
	list, err := m.transport.Companies(ctx, bearer)
	if err != nil {
		m.mu.Lock()
		if m.epoch == epoch {
			m.analytics.Errors++
		}
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("company list fetch failed")
		return m.Companies()
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil
	}
	m.companies = list
	var autoSelect string
	if m.current == nil && len(list) > 0 {
		autoSelect = list[0].ID
	}
	m.snapshotLocked()
	m.mu.Unlock()

	if autoSelect != "" {
		if err := m.SwitchCompany(ctx, autoSelect, true); err != nil {
			m.log.Warn().Err(err).Str("company_id", autoSelect).Msg("auto-selecting first company failed")
		}
	}

	return m.Companies()
}

// SwitchCompany makes companyID the current company. Switching to the company
// that is already current returns immediately with no network traffic. The
// switch is optimistic: the current pointer, the tab store and the snapshot
// are updated before permissions and settings are fetched, and both fetches
// handle their own failures (deny-all permissions, default settings) without
// failing the switch. Validation happens before the optimistic write, so a
// rejected switch leaves the previous company current.
func (m *Manager) SwitchCompany(ctx context.Context, companyID string, fetchSettings bool) error {
	if companyID == "" {
		return errors.Wrap(ErrCompanyIDRequired, "[SwitchCompany]")
	}

	m.mu.Lock()
	if !m.session.IsAuthenticated {
		m.mu.Unlock()
		return errors.Wrap(ErrNotAuthenticated, "[SwitchCompany]")
	}
	if m.current != nil && m.current.ID == companyID {
		m.mu.Unlock()
		return nil
	}

	target, found := tenants.Find(m.companies, companyID)
	if !found {
		m.analytics.Errors++
		m.mu.Unlock()
		return errors.Wrapf(ErrCompanyNotFound, "[SwitchCompany] company %q", companyID)
	}

	m.current = &target
	m.stores.Tab.SetCompanyID(target.ID)
	m.analytics.CompanySwitches++
	m.snapshotLocked()
	epoch := m.epoch
	bearer := m.session.BearerToken
	userID := m.session.User.ID
	m.mu.Unlock()

	// Permissions and settings load in parallel; each records its own outcome
	// rather than cancelling the other.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.refreshPermissions(ctx, bearer, target.ID, userID, epoch)
	}()
	if fetchSettings {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.refreshSettings(ctx, bearer, target.ID, epoch)
		}()
	}
	wg.Wait()

	return nil
}

func permissionsCacheKey(companyID, userID string) string {
	return "permissions:" + companyID + ":" + userID
}

func settingsCacheKey(companyID string) string {
	return "settings:" + companyID
}

// refreshPermissions rebuilds the permission index for the given company from
// cache or backend. On failure the index is rebuilt empty: unknown rights are
// denied, never granted. A result arriving after the session ended is
// discarded.
func (m *Manager) refreshPermissions(ctx context.Context, bearer, companyID, userID string, epoch uint64) {
	key := permissionsCacheKey(companyID, userID)
	if v, ok := m.cache.Get(key); ok {
		if records, ok := v.([]permissions.Record); ok && m.epochValid(epoch) {
			m.index.Rebuild(records)
			return
		}
	}

	v, err := m.cache.Fetch(key, func() (interface{}, error) {
		records, err := m.transport.Permissions(ctx, bearer, companyID)
		if err != nil {
			return nil, err
		}
		m.cache.Set(key, records)
		return records, nil
	})
	if !m.epochValid(epoch) {
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Str("company_id", companyID).Msg("permissions fetch failed, denying all rights")
		m.index.Rebuild(nil)
		m.mu.Lock()
		m.analytics.Errors++
		m.mu.Unlock()
		return
	}

	records, _ := v.([]permissions.Record)
	m.index.Rebuild(records)
}

// refreshSettings loads the display settings for the given company from cache
// or backend. On failure the defaults apply: a rendering preference is never
// worth blocking on. A result arriving after the session ended is discarded.
func (m *Manager) refreshSettings(ctx context.Context, bearer, companyID string, epoch uint64) {
	key := settingsCacheKey(companyID)
	if v, ok := m.cache.Get(key); ok {
		if display, ok := v.(settings.Display); ok {
			m.setDisplay(display, epoch)
			return
		}
	}

	v, err := m.cache.Fetch(key, func() (interface{}, error) {
		records, err := m.transport.DisplaySettings(ctx, bearer, companyID)
		if err != nil {
			return nil, err
		}
		display := settings.Normalize(records)
		m.cache.Set(key, display)
		return display, nil
	})
	if err != nil {
		m.log.Warn().Err(err).Str("company_id", companyID).Msg("display settings fetch failed, using defaults")
		m.setDisplay(settings.Defaults(), epoch)
		m.mu.Lock()
		if m.epoch == epoch {
			m.analytics.Errors++
		}
		m.mu.Unlock()
		return
	}

	display, ok := v.(settings.Display)
	if !ok {
		display = settings.Defaults()
	}
	m.setDisplay(display, epoch)
}

func (m *Manager) setDisplay(display settings.Display, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch {
		return
	}
	m.display = display
}

// LogOut revokes the refresh token best-effort and then clears all state. A
// failed revoke call never blocks the logout: the client must not stay
// authenticated because the revoke endpoint is unreachable.
func (m *Manager) LogOut(ctx context.Context) {
	m.mu.Lock()
	bearer := m.session.BearerToken
	refresh := m.session.RefreshToken
	authenticated := m.session.IsAuthenticated
	m.mu.Unlock()

	if authenticated && refresh != "" {
		if err := m.transport.RevokeToken(ctx, bearer, refresh); err != nil {
			m.log.Warn().Err(err).Msg("token revoke failed during logout")
		}
	}

	m.ForceLogout()
}

// ForceLogout clears all session state without touching the network. It is
// the landing path for token tampering, unrecoverable persisted state and the
// backend telling us the session is gone.
func (m *Manager) ForceLogout() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopRefreshTimerLocked()
	m.epoch++
	m.state = StateAnonymous
	m.session = Session{}
	m.companies = nil
	m.current = nil
	m.display = settings.Defaults()
	m.analytics = Analytics{}
	m.errorMessage = ""
	m.refreshInProgress = false
	m.lastRefreshAttempt = time.Time{}
	m.index.Rebuild(nil)
	m.cache.Flush()
	m.stores.Tab.Clear()
	if err := m.stores.Credentials.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("clearing credential failed")
	}
	if err := m.stores.Snapshots.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("clearing snapshot failed")
	}
}

// Resume rebuilds session state from the persisted snapshot at process start.
// It restores nothing unless the persisted credential is still valid; an
// unreadable snapshot forces a clean logout instead of guessing.
func (m *Manager) Resume() error {
	snap, found, err := m.stores.Snapshots.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("persisted state unreadable, forcing logout")
		m.ForceLogout()
		return nil
	}
	if !found {
		return nil
	}

	bearer, ok := m.stores.Credentials.Token()
	if !ok || !token.IsValidAt(bearer, m.nowFunc()) {
		m.log.Debug().Msg("persisted credential missing or expired, fresh login required")
		if err := m.stores.Credentials.Clear(); err != nil {
			m.log.Warn().Err(err).Msg("clearing credential failed")
		}
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.epoch++
	m.session = Session{
		User:            snap.User,
		BearerToken:     bearer,
		RefreshToken:    snap.RefreshToken,
		TokenIssuedAt:   snap.TokenIssuedAt,
		TokenExpiresAt:  snap.TokenExpiresAt,
		IsAuthenticated: true,
	}
	m.state = StateAuthenticated
	m.companies = snap.Companies
	m.analytics = snap.Analytics

	companyID, ok := m.stores.Tab.CompanyID()
	if !ok {
		companyID = snap.CurrentCompanyID
	}
	if t, found := tenants.Find(m.companies, companyID); found {
		m.current = &t
		m.stores.Tab.SetCompanyID(t.ID)
	}

	m.armRefreshTimerLocked()
	return nil
}

// HandleUnauthorized is the reaction to a backend 401 on any call: the
// session locks, keeping the user's context for re-authentication but
// requiring credentials before anything else proceeds.
func (m *Manager) HandleUnauthorized() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.IsAuthenticated {
		return
	}
	m.stopRefreshTimerLocked()
	m.epoch++
	m.state = StateLocked
	m.session.IsLocked = true
	m.session.IsAuthenticated = false
	m.errorMessage = "your session has expired, please sign in again"
	if err := m.stores.Credentials.Clear(); err != nil {
		m.log.Warn().Err(err).Msg("clearing credential failed")
	}
}

// RecordAction increments the session action counter.
func (m *Manager) RecordAction() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.analytics.Actions++
	m.snapshotLocked()
}

// snapshotLocked writes the persisted projection of the current state. A
// write failure is logged, never propagated: persistence lag must not break
// live behavior.
func (m *Manager) snapshotLocked() {
	snap := &Snapshot{
		User:           m.session.User,
		RefreshToken:   m.session.RefreshToken,
		TokenIssuedAt:  m.session.TokenIssuedAt,
		TokenExpiresAt: m.session.TokenExpiresAt,
		Companies:      m.companies,
		Analytics:      m.analytics,
	}
	if m.current != nil {
		snap.CurrentCompanyID = m.current.ID
	}
	if err := m.stores.Snapshots.Save(snap); err != nil {
		m.log.Warn().Err(err).Msg("persisting snapshot failed")
	}
}

// State returns the current state machine position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Session returns a copy of the live session.
func (m *Manager) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Companies returns a copy of the known company list.
func (m *Manager) Companies() []tenants.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenants.Tenant, len(m.companies))
	copy(out, m.companies)
	return out
}

// CurrentCompany returns the current company, if one is selected.
func (m *Manager) CurrentCompany() (tenants.Tenant, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return tenants.Tenant{}, false
	}
	return *m.current, true
}

// DisplaySettings returns the display settings for the current company.
func (m *Manager) DisplaySettings() settings.Display {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.display
}

// HasRight reports whether the authenticated user holds the given right on
// the transaction under the current company. Unknown transactions and rights
// are denied.
func (m *Manager) HasRight(moduleID, transactionID int, right permissions.Right) bool {
	return m.index.HasRight(moduleID, transactionID, right)
}

// ErrorMessage returns the last user-facing failure message, empty when the
// last operation succeeded.
func (m *Manager) ErrorMessage() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errorMessage
}

// AnalyticsSnapshot returns a copy of the session counters.
func (m *Manager) AnalyticsSnapshot() Analytics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analytics
}
