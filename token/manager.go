package token

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/anchorid/anchorid-go/clock"
	"github.com/anchorid/anchorid-go/internal/logging"
	"github.com/anchorid/anchorid-go/internal/monitoring"
	"github.com/anchorid/anchorid-go/state"
)

const refreshKey = "refresh"

// Manager answers "give me a currently-valid access token", refreshing when
// needed. Arbitrarily many concurrent callers collapse to at most one
// in-flight network refresh, all receiving the identical result.
type Manager struct {
	store  *state.Store
	clock  clock.Source
	client Exchanger
	appID  string

	log     *logging.Logger
	metrics *monitoring.Metrics

	group singleflight.Group

	// mu guards the shared current-auth cell. It is updated ahead of the
	// store's subscriber pipeline on refresh so a second caller's validity
	// check cannot read stale tokens.
	mu      sync.Mutex
	auth    state.AuthState
	pending bool
}

// NewManager creates a token lifecycle manager bound to the given store,
// clock and exchange client. It registers store middleware so auth changes
// from external flows (sign-in, sign-out) stay visible to validity checks.
func NewManager(store *state.Store, clk clock.Source, client Exchanger, appID string, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.NewNop()
	}
	m := &Manager{
		store:  store,
		clock:  clk,
		client: client,
		appID:  appID,
		log:    log,
		auth:   store.Read().Auth,
	}
	store.Use(func(prev, next state.ApplicationState) {
		if !reflect.DeepEqual(prev.Auth, next.Auth) {
			m.mu.Lock()
			m.auth = next.Auth
			m.mu.Unlock()
		}
	})
	return m
}

// WithMetrics adds metrics tracking to the manager.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// ValidToken returns the current auth state if the access token is still
// valid, otherwise refreshes. If a refresh is already in flight the caller
// joins it. Fails with ErrNoAccessToken when no token is present.
func (m *Manager) ValidToken(ctx context.Context) (state.AuthState, error) {
	m.mu.Lock()
	pending := m.pending
	auth := m.auth
	m.mu.Unlock()

	if pending {
		return m.Refresh(ctx)
	}
	if auth.AccessToken == nil {
		m.metrics.RecordTokenCheck("missing")
		return state.AuthState{}, ErrNoAccessToken
	}
	if m.usable(*auth.AccessToken) {
		m.metrics.RecordTokenCheck("valid")
		return auth, nil
	}
	m.metrics.RecordTokenCheck("expired")
	return m.Refresh(ctx)
}

// usable reports whether the access token decodes, carries an expiry, and
// that expiry is more than the safety margin away by the trusted clock.
func (m *Manager) usable(raw string) bool {
	c, err := decodeClaims(raw)
	if err != nil {
		return false
	}
	exp, ok := c.expiry()
	if !ok {
		return false
	}
	if m.clock.Status() != clock.StatusSynced {
		// Expiry cannot be judged against an untrusted clock. Treating the
		// token as live avoids false-expired refresh storms; a stale token
		// surfaces as a 401 the caller can recover from after sync.
		return true
	}
	return m.clock.Now().Add(ExpiryMargin).Before(exp)
}

// Refresh exchanges the refresh token for a new token pair. Concurrent
// callers share a single network call and its outcome. The refresh always
// runs to completion regardless of caller cancellation.
func (m *Manager) Refresh(ctx context.Context) (state.AuthState, error) {
	v, err, _ := m.group.Do(refreshKey, func() (any, error) {
		m.setPending(true)
		defer m.setPending(false)
		return m.doRefresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return state.AuthState{}, err
	}
	return v.(state.AuthState), nil
}

func (m *Manager) doRefresh(ctx context.Context) (state.AuthState, error) {
	m.mu.Lock()
	auth := m.auth
	m.mu.Unlock()

	if auth.RefreshToken == nil {
		return state.AuthState{}, ErrNoAccessToken
	}

	resp, err := m.client.Exchange(ctx, ExchangeRequest{
		RefreshToken: *auth.RefreshToken,
		AppID:        m.appID,
		Intent:       "refresh",
	})
	if err != nil {
		if errors.Is(err, ErrRefreshConsumed) {
			m.metrics.RecordRefresh("consumed")
			m.log.Warn("refresh token rejected, signing out")
			m.SignOut()
			return state.AuthState{}, ErrRefreshConsumed
		}
		// Recoverable: auth state untouched so a later retry can succeed.
		m.metrics.RecordRefresh("network_failure")
		m.log.Warn("token refresh failed", zap.Error(err))
		return state.AuthState{}, err
	}

	accessToken := resp.AccessToken
	refreshToken := resp.RefreshToken
	next := auth
	next.AccessToken = &accessToken
	next.RefreshToken = &refreshToken
	next.HasPreviouslySignedIn = true

	// Publish ahead of the store dispatch so validity checks racing this
	// refresh already see the new pair.
	m.mu.Lock()
	m.auth = next
	m.mu.Unlock()

	m.store.Mutate(func(st *state.ApplicationState) {
		st.Auth = next
		if lvl := authLevelForUserType(resp.UserType); lvl != "" {
			st.User.AuthLevel = lvl
		}
	})

	m.metrics.RecordRefresh("success")
	m.log.Debug("token refreshed")
	return next, nil
}

// SignOut clears the token pair. Used by hosts and forced internally when
// the refresh token is rejected.
func (m *Manager) SignOut() {
	m.mu.Lock()
	cleared := state.AuthState{HasPreviouslySignedIn: m.auth.HasPreviouslySignedIn}
	m.auth = cleared
	m.mu.Unlock()

	m.store.Mutate(func(st *state.ApplicationState) {
		st.Auth = cleared
	})
}

func (m *Manager) setPending(v bool) {
	m.mu.Lock()
	m.pending = v
	m.mu.Unlock()
}

func authLevelForUserType(userType string) state.AuthLevel {
	switch userType {
	case "instant":
		return state.AuthLevelInstant
	case "guest":
		return state.AuthLevelGuest
	case "unverified":
		return state.AuthLevelUnverified
	case "verified":
		return state.AuthLevelVerified
	default:
		return ""
	}
}
