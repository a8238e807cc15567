package state

import (
	"time"

	"github.com/anchorid/anchorid-go/clock"
)

// AuthLevel classifies how strongly the current user is identified.
type AuthLevel string

const (
	AuthLevelInstant    AuthLevel = "instant"
	AuthLevelGuest      AuthLevel = "guest"
	AuthLevelUnverified AuthLevel = "unverified"
	AuthLevelVerified   AuthLevel = "verified"
	AuthLevelUnknown    AuthLevel = "unknown"
)

// AuthState holds the token pair and authentication flags.
type AuthState struct {
	AccessToken           *string `json:"access_token,omitempty"`
	RefreshToken          *string `json:"refresh_token,omitempty"`
	IsVerifiedUser        *bool   `json:"is_verified_user,omitempty"`
	HasPreviouslySignedIn bool    `json:"has_previously_signed_in"`
}

// IsAuthenticated reports whether an access token is present.
func (a AuthState) IsAuthenticated() bool {
	return a.AccessToken != nil
}

// UserState holds profile data and metadata for the current user.
type UserState struct {
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata"`
	IsLoading bool           `json:"is_loading"`
	AuthLevel AuthLevel      `json:"auth_level"`
}

// AppConfigState holds the application configuration slice consumed by the
// automation engine.
type AppConfigState struct {
	AppID      string `json:"app_id,omitempty"`
	AppName    string `json:"app_name,omitempty"`
	AppVersion string `json:"app_version,omitempty"`
}

// PasskeyRegistration records one platform passkey registration.
type PasskeyRegistration struct {
	CredentialID string    `json:"credential_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// PasskeysState holds known passkey registrations.
type PasskeysState struct {
	Registrations []PasskeyRegistration `json:"registrations,omitempty"`
}

// SignInState records how and when the user last signed in.
type SignInState struct {
	LastMethod      string     `json:"last_method,omitempty"`
	LastSignInAt    *time.Time `json:"last_sign_in_at,omitempty"`
	LastPageVisited string     `json:"last_page_visited,omitempty"`
}

// ApplicationState is the process-wide state tree. It has value semantics:
// every committed mutation produces a new snapshot and readers never share
// mutable substructure with the store.
type ApplicationState struct {
	IsStateLoaded   bool             `json:"is_state_loaded"`
	ClockSyncStatus clock.SyncStatus `json:"clock_sync_status"`
	Auth            AuthState        `json:"auth"`
	User            UserState        `json:"user"`
	AppConfig       AppConfigState   `json:"app_config"`
	Passkeys        PasskeysState    `json:"passkeys"`
	SignIn          SignInState      `json:"sign_in"`
	LastUpdate      time.Time        `json:"last_update_timestamp"`
}

// Default returns the state used before any persisted snapshot has loaded.
func Default() ApplicationState {
	return ApplicationState{
		ClockSyncStatus: clock.StatusWaiting,
		User: UserState{
			Data:      map[string]any{},
			Metadata:  map[string]any{},
			AuthLevel: AuthLevelUnknown,
		},
	}
}

// IsInitialized reports whether the snapshot has loaded and clock sync has
// resolved one way or the other.
func (s ApplicationState) IsInitialized() bool {
	return s.IsStateLoaded && s.ClockSyncStatus != clock.StatusWaiting
}

// Clone deep-copies the snapshot so callers can hold or mutate it freely.
func (s ApplicationState) Clone() ApplicationState {
	out := s
	out.Auth = cloneAuth(s.Auth)
	out.User.Data = cloneMap(s.User.Data)
	out.User.Metadata = cloneMap(s.User.Metadata)
	if s.Passkeys.Registrations != nil {
		out.Passkeys.Registrations = make([]PasskeyRegistration, len(s.Passkeys.Registrations))
		copy(out.Passkeys.Registrations, s.Passkeys.Registrations)
	}
	if s.SignIn.LastSignInAt != nil {
		t := *s.SignIn.LastSignInAt
		out.SignIn.LastSignInAt = &t
	}
	return out
}

func cloneAuth(a AuthState) AuthState {
	out := a
	if a.AccessToken != nil {
		v := *a.AccessToken
		out.AccessToken = &v
	}
	if a.RefreshToken != nil {
		v := *a.RefreshToken
		out.RefreshToken = &v
	}
	if a.IsVerifiedUser != nil {
		v := *a.IsVerifiedUser
		out.IsVerifiedUser = &v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
