package state

import (
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// pusher is the store-facing side of a subscription.
type pusher interface {
	push(ApplicationState)
}

// Subscription delivers values of a selected state sub-tree in mutation
// order, starting with the value at subscription time. Unchanged values are
// not re-emitted.
type Subscription[T any] struct {
	id    string
	store *Store

	sel func(ApplicationState) T

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []T
	last    T
	emitted bool
	done    bool

	quit       chan struct{}
	out        chan T
	cancelOnce sync.Once
}

// Subscribe registers a typed subscription using the given selector. The
// current value is emitted immediately. Equality between consecutive values
// is deep value equality.
func Subscribe[T any](s *Store, sel func(ApplicationState) T) *Subscription[T] {
	sub := &Subscription[T]{
		id:    uuid.New().String(),
		store: s,
		sel:   sel,
		quit:  make(chan struct{}),
		out:   make(chan T),
	}
	sub.cond = sync.NewCond(&sub.mu)

	// Register and seed under the write lock so the initial emission orders
	// strictly before any concurrent mutation's notification.
	s.writeMu.Lock()
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	s.subMu.Lock()
	s.subs[sub.id] = sub
	count := len(s.subs)
	s.subMu.Unlock()

	sub.push(cur)
	s.writeMu.Unlock()

	s.metrics.RecordSubscribers(count)

	go sub.pump()
	return sub
}

// SubscribeAuth subscribes to the auth slice.
func SubscribeAuth(s *Store) *Subscription[AuthState] {
	return Subscribe(s, func(st ApplicationState) AuthState { return st.Auth })
}

// SubscribeUser subscribes to the user slice.
func SubscribeUser(s *Store) *Subscription[UserState] {
	return Subscribe(s, func(st ApplicationState) UserState { return st.User })
}

// SubscribeSignIn subscribes to the sign-in slice.
func SubscribeSignIn(s *Store) *Subscription[SignInState] {
	return Subscribe(s, func(st ApplicationState) SignInState { return st.SignIn })
}

// Values returns the delivery channel. It closes after Cancel once queued
// values have drained.
func (sub *Subscription[T]) Values() <-chan T {
	return sub.out
}

// push is called by the store with each committed snapshot, in commit order.
func (sub *Subscription[T]) push(st ApplicationState) {
	v := sub.sel(st)

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.done {
		return
	}
	if sub.emitted && reflect.DeepEqual(sub.last, v) {
		return
	}
	sub.last = v
	sub.emitted = true
	sub.queue = append(sub.queue, v)
	sub.cond.Signal()
}

// pump moves queued values to the out channel without ever blocking the
// store's notification path.
func (sub *Subscription[T]) pump() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.done {
			sub.cond.Wait()
		}
		if len(sub.queue) == 0 && sub.done {
			sub.mu.Unlock()
			close(sub.out)
			return
		}
		v := sub.queue[0]
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		select {
		case sub.out <- v:
		case <-sub.quit:
			close(sub.out)
			return
		}
	}
}

// Cancel stops delivery. Idempotent and safe to call concurrently with
// in-flight notifications; pending undelivered values are dropped.
func (sub *Subscription[T]) Cancel() {
	sub.cancelOnce.Do(func() {
		sub.store.subMu.Lock()
		delete(sub.store.subs, sub.id)
		count := len(sub.store.subs)
		sub.store.subMu.Unlock()
		sub.store.metrics.RecordSubscribers(count)

		sub.mu.Lock()
		sub.done = true
		sub.cond.Signal()
		sub.mu.Unlock()

		close(sub.quit)
	})
}
