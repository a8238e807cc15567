package automation

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/anchorid/anchorid-go/clock"
	"github.com/anchorid/anchorid-go/internal/logging"
	"github.com/anchorid/anchorid-go/internal/monitoring"
	"github.com/anchorid/anchorid-go/state"
)

// DefaultDebounce coalesces bursts of state changes into one evaluation
// pass.
const DefaultDebounce = 500 * time.Millisecond

// lastRunLayout is ISO-8601 with fractional seconds, matching the marker
// format stored in user metadata.
const lastRunLayout = "2006-01-02T15:04:05.000Z07:00"

// projection is the state slice whose changes re-trigger evaluation.
type projection struct {
	User   state.UserState
	SignIn state.SignInState
}

// Engine evaluates enabled automations for the running platform whenever the
// relevant state slice changes, debounced so bursts cost one pass.
type Engine struct {
	store   *state.Store
	clock   clock.Source
	ui      UISource
	actions *Registry
	eval    *Evaluator

	log     *logging.Logger
	metrics *monitoring.Metrics

	platform string
	debounce time.Duration

	mu          sync.RWMutex
	automations []Automation
	pages       map[string]*Page

	timerMu sync.Mutex
	timer   *time.Timer

	runCtx context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewEngine creates an automation engine. The UI source may be nil; scope
// rules then evaluate to false.
func NewEngine(store *state.Store, clk clock.Source, ui UISource, actions *Registry, platform string, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NewNop()
	}
	return &Engine{
		store:    store,
		clock:    clk,
		ui:       ui,
		actions:  actions,
		eval:     NewEvaluator(log),
		log:      log,
		platform: platform,
		debounce: DefaultDebounce,
		pages:    make(map[string]*Page),
	}
}

// WithMetrics adds metrics tracking to the engine.
func (e *Engine) WithMetrics(m *monitoring.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithDebounce overrides the evaluation debounce interval.
func (e *Engine) WithDebounce(d time.Duration) *Engine {
	if d > 0 {
		e.debounce = d
	}
	return e
}

// SetAutomations replaces the automation set.
func (e *Engine) SetAutomations(automations []Automation) {
	e.mu.Lock()
	e.automations = automations
	e.mu.Unlock()
	e.Kick()
}

// SetPages replaces the page definitions consulted by scope rules.
func (e *Engine) SetPages(pages []Page) {
	e.mu.Lock()
	e.pages = make(map[string]*Page, len(pages))
	for i := range pages {
		e.pages[pages[i].Name] = &pages[i]
	}
	e.mu.Unlock()
}

// ParseAutomations decodes an automation set from its JSON wire form.
func ParseAutomations(data []byte) ([]Automation, error) {
	var out []Automation
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Start subscribes to the relevant state slice and begins debounced
// processing. Runs until the context is canceled or Close is called.
func (e *Engine) Start(ctx context.Context) {
	e.runCtx, e.stop = context.WithCancel(ctx)

	sub := state.Subscribe(e.store, func(st state.ApplicationState) projection {
		return projection{User: st.User, SignIn: st.SignIn}
	})

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer sub.Cancel()
		for {
			select {
			case _, ok := <-sub.Values():
				if !ok {
					return
				}
				e.Kick()
			case <-e.runCtx.Done():
				return
			}
		}
	}()
}

// Kick schedules a debounced evaluation pass.
func (e *Engine) Kick() {
	if e.runCtx == nil {
		return
	}
	e.timerMu.Lock()
	defer e.timerMu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.debounce, func() {
		e.Process(e.runCtx)
	})
}

// Close stops processing. Idempotent.
func (e *Engine) Close() {
	e.once.Do(func() {
		if e.stop != nil {
			e.stop()
		}
		e.timerMu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.timerMu.Unlock()
		e.wg.Wait()
	})
}

// Process runs one evaluation pass over all automations immediately.
func (e *Engine) Process(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	e.metrics.RecordAutomationPass()

	snap := e.store.Read()

	e.mu.RLock()
	automations := make([]Automation, len(e.automations))
	copy(automations, e.automations)
	e.mu.RUnlock()

	for _, a := range automations {
		if !a.Enabled(e.platform) {
			continue
		}
		if !e.shouldRun(ctx, a, snap) {
			continue
		}
		e.run(a)
	}
}

// ShouldRun reports whether the automation would fire against the current
// state: its trigger must be eligible and its rule tree must match.
func (e *Engine) ShouldRun(ctx context.Context, a Automation) bool {
	return e.shouldRun(ctx, a, e.store.Read())
}

func (e *Engine) shouldRun(ctx context.Context, a Automation, snap state.ApplicationState) bool {
	lastRun := e.lastRun(snap, a.ID)

	eligible := false
	for _, t := range a.Triggers {
		if ShouldTrigger(t, lastRun, e.clock.Now()) {
			eligible = true
			break
		}
	}
	if !eligible {
		return false
	}

	data := Data{
		UserData: snap.User.Data,
		Metadata: snap.User.Metadata,
	}
	if hasScopeLeaf(a.Rules) {
		data.Scope = e.scopeContext(ctx, snap)
	}

	return e.eval.Evaluate(ctx, a.Rules, data)
}

// run invokes every configured action, then records the last-run marker into
// user metadata so trigger checks and subsequent rule evaluations see it.
func (e *Engine) run(a Automation) {
	e.log.Info("running automation", zap.String("id", a.ID), zap.String("name", a.Name))
	for _, action := range a.Actions {
		e.actions.Invoke(action)
	}
	e.store.SetUserMetadata(lastRunKey(a.ID), e.clock.Now().Format(lastRunLayout))
	e.metrics.RecordAutomationRun(a.ID)
}

func (e *Engine) lastRun(snap state.ApplicationState, id string) *time.Time {
	raw, ok := snap.User.Metadata[lastRunKey(id)]
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return nil
	}
	t, err := time.Parse(lastRunLayout, s)
	if err != nil {
		e.log.Warn("unparseable last-run marker", zap.String("automation", id), zap.Error(err))
		return nil
	}
	return &t
}

// scopeContext fetches a UI snapshot and resolves the current page
// definition. Returns nil on any failure; scope leaves then read false.
func (e *Engine) scopeContext(ctx context.Context, snap state.ApplicationState) *ScopeContext {
	if e.ui == nil {
		return nil
	}
	view, err := e.ui.Snapshot(ctx)
	if err != nil || view == nil {
		e.log.Warn("UI snapshot unavailable", zap.Error(err))
		return nil
	}

	e.mu.RLock()
	page := e.pages[snap.SignIn.LastPageVisited]
	e.mu.RUnlock()

	scope, err := NewScopeContext(view, snap.AppConfig.AppVersion, page)
	if err != nil {
		e.log.Warn("UI snapshot serialization failed", zap.Error(err))
		return nil
	}
	return scope
}

func hasScopeLeaf(r Rule) bool {
	if r.IsLeaf() {
		return r.EntityType == EntityScope
	}
	for _, sub := range r.Rules {
		if hasScopeLeaf(sub) {
			return true
		}
	}
	return false
}

func lastRunKey(id string) string {
	return "automation_" + id + "_last_run"
}
