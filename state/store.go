package state

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/anchorid/anchorid-go/clock"
	"github.com/anchorid/anchorid-go/internal/logging"
	"github.com/anchorid/anchorid-go/internal/monitoring"
)

// ErrNoSnapshot is returned by Storage.Load when no persisted snapshot exists.
// The store treats it as the expected first-launch path.
var ErrNoSnapshot = errors.New("no persisted snapshot")

// Storage persists the opaque serialized snapshot. Implementations live in
// the host application (file, keychain-backed file, app group container).
type Storage interface {
	Save(ctx context.Context, data []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// Middleware observes committed mutations. Hooks run in registration order
// on the mutation path, before subscribers are notified.
type Middleware func(prev, next ApplicationState)

// DefaultPersistDebounce coalesces write-backs after mutation bursts.
const DefaultPersistDebounce = 100 * time.Millisecond

// Store is the single source of truth for application state. Mutations are
// serialized; reads never block on writer-side work beyond a snapshot swap.
type Store struct {
	// writeMu serializes mutations and ordered subscriber notification.
	writeMu sync.Mutex
	// mu guards only the current snapshot cell.
	mu      sync.RWMutex
	current ApplicationState

	subMu      sync.RWMutex
	subs       map[string]pusher
	middleware []Middleware

	storage Storage
	clock   clock.Source
	log     *logging.Logger
	metrics *monitoring.Metrics

	persistMu     sync.Mutex
	persistTimer  *time.Timer
	persistDelay  time.Duration
	lastPersisted ApplicationState
	havePersisted bool
}

// New creates a store holding the default state.
func New(storage Storage, clk clock.Source, log *logging.Logger) *Store {
	if log == nil {
		log = logging.NewNop()
	}
	return &Store{
		current:      Default(),
		subs:         make(map[string]pusher),
		storage:      storage,
		clock:        clk,
		log:          log,
		persistDelay: DefaultPersistDebounce,
	}
}

// WithMetrics adds metrics tracking to the store.
func (s *Store) WithMetrics(m *monitoring.Metrics) *Store {
	s.metrics = m
	return s
}

// WithPersistDebounce overrides the persistence debounce interval.
func (s *Store) WithPersistDebounce(d time.Duration) *Store {
	if d > 0 {
		s.persistDelay = d
	}
	return s
}

// Use registers a middleware hook. Not safe to call concurrently with
// mutations; wire middleware during setup.
func (s *Store) Use(mw Middleware) {
	s.middleware = append(s.middleware, mw)
}

// Read returns the last fully-committed snapshot. Safe from any goroutine
// and never blocked by an in-progress mutation.
func (s *Store) Read() ApplicationState {
	s.mu.RLock()
	snap := s.current
	s.mu.RUnlock()
	return snap.Clone()
}

// Mutate applies fn under serialized-write discipline, stamps the update
// timestamp, runs middleware, notifies subscribers in commit order, and
// schedules a debounced persist. Returns the new snapshot.
func (s *Store) Mutate(fn func(*ApplicationState)) ApplicationState {
	return s.commit(fn, true)
}

// Replace swaps in a whole new state. Used by Load and Reload; the embedded
// update timestamp is kept as-is so cross-process staleness checks hold.
func (s *Store) Replace(next ApplicationState) ApplicationState {
	return s.commit(func(st *ApplicationState) { *st = next.Clone() }, false)
}

func (s *Store) commit(fn func(*ApplicationState), stamp bool) ApplicationState {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	prev := s.current
	s.mu.RUnlock()

	next := prev.Clone()
	fn(&next)
	if stamp {
		next.LastUpdate = time.Now()
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	for _, mw := range s.middleware {
		mw(prev, next)
	}
	s.notify(next)
	s.schedulePersist()
	s.metrics.RecordMutation()

	return next.Clone()
}

func (s *Store) notify(snap ApplicationState) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs {
		sub.push(snap)
	}
}

// SetClockSyncStatus records the current clock trust state. Ephemeral: a
// mutation changing only this field is not persisted.
func (s *Store) SetClockSyncStatus(status clock.SyncStatus) ApplicationState {
	return s.Mutate(func(st *ApplicationState) {
		st.ClockSyncStatus = status
	})
}

// SetAuth replaces the auth slice.
func (s *Store) SetAuth(auth AuthState) ApplicationState {
	return s.Mutate(func(st *ApplicationState) {
		st.Auth = auth
	})
}

// SetUserData sets one user profile field.
func (s *Store) SetUserData(key string, value any) ApplicationState {
	return s.Mutate(func(st *ApplicationState) {
		if st.User.Data == nil {
			st.User.Data = map[string]any{}
		}
		st.User.Data[key] = value
	})
}

// SetUserMetadata sets one user metadata field.
func (s *Store) SetUserMetadata(key string, value any) ApplicationState {
	return s.Mutate(func(st *ApplicationState) {
		if st.User.Metadata == nil {
			st.User.Metadata = map[string]any{}
		}
		st.User.Metadata[key] = value
	})
}

// Load reads the persisted snapshot and makes it the in-memory state. Decode
// failure and absence are both non-fatal: the store proceeds with defaults.
// Loaded-flag and clock status are recomputed, never trusted from disk.
func (s *Store) Load(ctx context.Context) ApplicationState {
	next := Default()
	loaded := false

	data, err := s.storage.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSnapshot):
		// First launch.
	case err != nil:
		s.log.Warn("snapshot load failed, using defaults", zap.Error(err))
	default:
		var decoded ApplicationState
		if err := sonic.Unmarshal(data, &decoded); err != nil {
			s.log.Warn("snapshot decode failed, using defaults", zap.Error(err))
		} else {
			next = decoded
			loaded = true
		}
	}

	next.IsStateLoaded = true
	next.ClockSyncStatus = s.clock.Status()
	if next.User.Data == nil {
		next.User.Data = map[string]any{}
	}
	if next.User.Metadata == nil {
		next.User.Metadata = map[string]any{}
	}
	if !loaded {
		next.LastUpdate = time.Now()
	}

	if loaded {
		// Remember the on-disk content so the first debounced persist after
		// load can be skipped as redundant.
		s.persistMu.Lock()
		s.lastPersisted = next.Clone()
		s.havePersisted = true
		s.persistMu.Unlock()
	}

	return s.Replace(next)
}

// Reload re-reads the persisted snapshot if another process changed it,
// detected by a differing embedded update timestamp. In-memory clock status
// is preserved.
func (s *Store) Reload(ctx context.Context) {
	data, err := s.storage.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoSnapshot) {
			s.log.Warn("snapshot reload failed", zap.Error(err))
		}
		return
	}

	var onDisk ApplicationState
	if err := sonic.Unmarshal(data, &onDisk); err != nil {
		s.log.Warn("snapshot reload decode failed", zap.Error(err))
		return
	}

	cur := s.Read()
	if onDisk.LastUpdate.Equal(cur.LastUpdate) {
		return
	}

	onDisk.IsStateLoaded = true
	onDisk.ClockSyncStatus = cur.ClockSyncStatus
	if onDisk.User.Data == nil {
		onDisk.User.Data = map[string]any{}
	}
	if onDisk.User.Metadata == nil {
		onDisk.User.Metadata = map[string]any{}
	}

	s.persistMu.Lock()
	s.lastPersisted = onDisk.Clone()
	s.havePersisted = true
	s.persistMu.Unlock()

	s.Replace(onDisk)
}

func (s *Store) schedulePersist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if s.persistTimer != nil {
		s.persistTimer.Stop()
	}
	s.persistTimer = time.AfterFunc(s.persistDelay, s.persistNow)
}

// persistNow writes the current snapshot unless only ephemeral fields have
// changed since the last persisted one. Save failures are logged and
// dropped; the next mutation reschedules.
func (s *Store) persistNow() {
	snap := s.Read()

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if s.havePersisted && ephemeralOnlyDiff(s.lastPersisted, snap) {
		s.metrics.RecordSnapshotSkip()
		return
	}

	data, err := sonic.Marshal(snap)
	if err != nil {
		s.log.Error("snapshot encode failed", zap.Error(err))
		s.metrics.RecordSnapshotError()
		return
	}
	if err := s.storage.Save(context.Background(), data); err != nil {
		s.log.Error("snapshot write failed", zap.Error(err))
		s.metrics.RecordSnapshotError()
		return
	}

	s.lastPersisted = snap
	s.havePersisted = true
	s.metrics.RecordSnapshotSave()
	s.log.Debug("snapshot persisted", zap.Int("bytes", len(data)))
}

// Flush cancels any pending debounce and persists immediately.
func (s *Store) Flush() {
	s.persistMu.Lock()
	if s.persistTimer != nil {
		s.persistTimer.Stop()
		s.persistTimer = nil
	}
	s.persistMu.Unlock()
	s.persistNow()
}

// ephemeralOnlyDiff reports whether a and b differ only in fields that are
// derived or transient and not worth a write-back.
func ephemeralOnlyDiff(a, b ApplicationState) bool {
	a = a.Clone()
	b = b.Clone()
	a.IsStateLoaded = false
	b.IsStateLoaded = false
	a.ClockSyncStatus = clock.StatusUnknown
	b.ClockSyncStatus = clock.StatusUnknown
	a.LastUpdate = time.Time{}
	b.LastUpdate = time.Time{}
	return reflect.DeepEqual(a, b)
}
