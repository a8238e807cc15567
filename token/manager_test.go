package token

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anchorid/anchorid-go/clock"
	"github.com/anchorid/anchorid-go/state"
)

type nopStorage struct{}

func (nopStorage) Save(context.Context, []byte) error   { return nil }
func (nopStorage) Load(context.Context) ([]byte, error) { return nil, state.ErrNoSnapshot }

type fakeExchanger struct {
	calls int32
	delay time.Duration
	resp  *ExchangeResponse
	err   error
}

func (f *fakeExchanger) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResponse, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeExchanger) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func syncedClock() *clock.Clock {
	c := clock.New()
	c.Sync(time.Now())
	return c
}

func newTestManager(t *testing.T, clk clock.Source, ex Exchanger) (*Manager, *state.Store) {
	t.Helper()
	store := state.New(nopStorage{}, clk, nil)
	return NewManager(store, clk, ex, "app-1", nil), store
}

func TestValidTokenNoToken(t *testing.T) {
	m, _ := newTestManager(t, syncedClock(), &fakeExchanger{})

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNoAccessToken)
}

func TestValidTokenStillValid(t *testing.T) {
	ex := &fakeExchanger{}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(5*time.Minute))
	store.SetAuth(state.AuthState{AccessToken: &access})

	auth, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, *auth.AccessToken)
	assert.Equal(t, 0, ex.callCount(), "a live token must not hit the network")
}

func TestValidTokenInsideMarginRefreshes(t *testing.T) {
	ex := &fakeExchanger{resp: &ExchangeResponse{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		UserType:     "verified",
	}}
	m, store := newTestManager(t, syncedClock(), ex)

	// Expires in under the safety margin: counts as already expired.
	access := expiringToken(t, time.Now().Add(55*time.Second))
	refresh := "old-refresh"
	store.SetAuth(state.AuthState{AccessToken: &access, RefreshToken: &refresh})

	auth, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new-access", *auth.AccessToken)
	assert.Equal(t, "new-refresh", *auth.RefreshToken)
	assert.Equal(t, 1, ex.callCount())
	assert.Equal(t, state.AuthLevelVerified, store.Read().User.AuthLevel)
}

func TestValidTokenOutsideMarginKeeps(t *testing.T) {
	ex := &fakeExchanger{}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(65*time.Second))
	store.SetAuth(state.AuthState{AccessToken: &access})

	_, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, ex.callCount())
}

func TestUnsyncedClockTreatsTokenAsLive(t *testing.T) {
	ex := &fakeExchanger{}
	m, store := newTestManager(t, clock.New(), ex) // still waiting for sync

	access := expiringToken(t, time.Now().Add(-time.Hour))
	store.SetAuth(state.AuthState{AccessToken: &access})

	auth, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, *auth.AccessToken)
	assert.Equal(t, 0, ex.callCount())
}

func TestConcurrentRefreshSingleFlight(t *testing.T) {
	ex := &fakeExchanger{
		delay: 100 * time.Millisecond,
		resp:  &ExchangeResponse{AccessToken: "shared-access", RefreshToken: "shared-refresh"},
	}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(-time.Minute))
	refresh := "old-refresh"
	store.SetAuth(state.AuthState{AccessToken: &access, RefreshToken: &refresh})

	const callers = 20
	var (
		start   sync.WaitGroup
		done    sync.WaitGroup
		results [callers]state.AuthState
		errs    [callers]error
	)
	start.Add(1)
	for i := 0; i < callers; i++ {
		done.Add(1)
		go func(n int) {
			defer done.Done()
			start.Wait()
			results[n], errs[n] = m.ValidToken(context.Background())
		}(i)
	}
	start.Done()
	done.Wait()

	assert.Equal(t, 1, ex.callCount(), "concurrent callers must share one exchange")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", *results[i].AccessToken)
	}
}

func TestRefreshConsumedForcesSignOut(t *testing.T) {
	ex := &fakeExchanger{err: ErrRefreshConsumed}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(-time.Minute))
	refresh := "consumed-refresh"
	store.SetAuth(state.AuthState{
		AccessToken:           &access,
		RefreshToken:          &refresh,
		HasPreviouslySignedIn: true,
	})

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrRefreshConsumed)

	auth := store.Read().Auth
	assert.Nil(t, auth.AccessToken)
	assert.Nil(t, auth.RefreshToken)
	assert.True(t, auth.HasPreviouslySignedIn, "sign-out keeps the returning-user flag")
}

func TestNetworkFailurePreservesAuth(t *testing.T) {
	ex := &fakeExchanger{err: fmt.Errorf("%w: connection reset", ErrNetworkConnection)}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(-time.Minute))
	refresh := "still-good"
	store.SetAuth(state.AuthState{AccessToken: &access, RefreshToken: &refresh})

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNetworkConnection)

	// Tokens untouched so a later attempt can succeed.
	auth := store.Read().Auth
	require.NotNil(t, auth.RefreshToken)
	assert.Equal(t, "still-good", *auth.RefreshToken)
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	ex := &fakeExchanger{}
	m, store := newTestManager(t, syncedClock(), ex)

	access := expiringToken(t, time.Now().Add(-time.Minute))
	store.SetAuth(state.AuthState{AccessToken: &access})

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNoAccessToken)
	assert.Equal(t, 0, ex.callCount())
}

func TestExternalAuthChangeVisible(t *testing.T) {
	ex := &fakeExchanger{}
	m, store := newTestManager(t, syncedClock(), ex)

	// A sign-in flow outside the manager writes the store directly.
	access := expiringToken(t, time.Now().Add(10*time.Minute))
	store.SetAuth(state.AuthState{AccessToken: &access})

	auth, err := m.ValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, access, *auth.AccessToken)
}

func TestSignOut(t *testing.T) {
	m, store := newTestManager(t, syncedClock(), &fakeExchanger{})

	access := expiringToken(t, time.Now().Add(time.Hour))
	store.SetAuth(state.AuthState{AccessToken: &access, HasPreviouslySignedIn: true})

	m.SignOut()

	auth := store.Read().Auth
	assert.Nil(t, auth.AccessToken)
	assert.True(t, auth.HasPreviouslySignedIn)

	_, err := m.ValidToken(context.Background())
	assert.ErrorIs(t, err, ErrNoAccessToken)
}
