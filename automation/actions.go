package automation

import (
	"sync"

	"go.uber.org/zap"

	"github.com/anchorid/anchorid-go/internal/logging"
	"github.com/anchorid/anchorid-go/internal/monitoring"
)

// Handler executes one action type. Handlers must be safe for concurrent
// invocation.
type Handler func(args map[string]any)

// Registry maps action type identifiers to handlers. Unknown action types
// are a logged no-op, never an error.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	log      *logging.Logger
	metrics  *monitoring.Metrics
}

// NewRegistry creates an action registry with the built-in "log" action.
func NewRegistry(log *logging.Logger) *Registry {
	if log == nil {
		log = logging.NewNop()
	}
	r := &Registry{
		handlers: make(map[string]Handler),
		log:      log,
	}
	r.Register("log", func(args map[string]any) {
		log.Info("automation log action", zap.Any("args", args))
	})
	return r
}

// WithMetrics adds metrics tracking to the registry.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// Register adds or replaces the handler for an action type.
func (r *Registry) Register(actionType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

// Unregister removes the handler for an action type.
func (r *Registry) Unregister(actionType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, actionType)
}

// Invoke runs the handler registered for the action's type.
func (r *Registry) Invoke(action Action) {
	r.mu.RLock()
	h, ok := r.handlers[action.Type]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("no handler for action type", zap.String("type", action.Type))
		return
	}

	r.metrics.RecordActionInvoke(action.Type)
	h(action.Args)
}
