package anchorid

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anchorid/anchorid-go/automation"
	"github.com/anchorid/anchorid-go/clock"
	"github.com/anchorid/anchorid-go/internal/logging"
	"github.com/anchorid/anchorid-go/internal/monitoring"
	"github.com/anchorid/anchorid-go/state"
	"github.com/anchorid/anchorid-go/token"
)

// Engine is the identity core: clock, state store, token lifecycle manager
// and automation engine wired together. Hosts construct one Engine per
// isolated identity context; there is deliberately no package-level
// singleton.
type Engine struct {
	Clock       *clock.Clock
	Store       *state.Store
	Tokens      *token.Manager
	Automations *automation.Engine
	Actions     *automation.Registry

	cfg      *Config
	log      *logging.Logger
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// New constructs an engine. Storage and UI collaborators come from the host;
// ui may be nil when the host does not expose view snapshots.
func New(cfg *Config, storage state.Storage, ui automation.UISource) (*Engine, error) {
	if cfg == nil {
		cfg = Default()
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	metrics := monitoring.New(registry)

	clk := clock.New()

	store := state.New(storage, clk, log.Named("store")).
		WithMetrics(metrics).
		WithPersistDebounce(cfg.Automation.PersistDebounce)

	client := token.NewClient(token.ClientConfig{
		Endpoint:          cfg.Token.Endpoint,
		Timeout:           cfg.Token.Timeout,
		RetryMax:          cfg.Token.RetryMax,
		RequestsPerSecond: cfg.Token.RequestsPerSecond,
	})
	tokens := token.NewManager(store, clk, client, cfg.App.ID, log.Named("token")).
		WithMetrics(metrics)

	actions := automation.NewRegistry(log.Named("actions")).WithMetrics(metrics)
	automations := automation.NewEngine(store, clk, ui, actions, cfg.App.Platform, log.Named("automation")).
		WithMetrics(metrics).
		WithDebounce(cfg.Automation.Debounce)

	return &Engine{
		Clock:       clk,
		Store:       store,
		Tokens:      tokens,
		Automations: automations,
		Actions:     actions,
		cfg:         cfg,
		log:         log,
		metrics:     metrics,
		registry:    registry,
	}, nil
}

// Start loads persisted state and begins automation processing.
func (e *Engine) Start(ctx context.Context) {
	snap := e.Store.Load(ctx)
	if e.cfg.App.ID != "" && snap.AppConfig.AppID == "" {
		e.Store.Mutate(func(st *state.ApplicationState) {
			st.AppConfig.AppID = e.cfg.App.ID
			st.AppConfig.AppVersion = e.cfg.App.Version
		})
	}
	e.Automations.Start(ctx)
}

// SyncClock records a trusted server time reading and reflects the new sync
// status into state.
func (e *Engine) SyncClock(serverTime time.Time) {
	e.Clock.Sync(serverTime)
	e.Store.SetClockSyncStatus(e.Clock.Status())
}

// MarkClockSyncFailed records that no trusted reading could be obtained.
func (e *Engine) MarkClockSyncFailed() {
	e.Clock.MarkFailed()
	e.Store.SetClockSyncStatus(e.Clock.Status())
}

// NotifyExternalChange re-reads the persisted snapshot if another process
// changed it. Hosts call this from their file-change observers.
func (e *Engine) NotifyExternalChange(ctx context.Context) {
	e.Store.Reload(ctx)
}

// RecordPageVisit notes the visited page and kicks automation evaluation.
// Hosts call this from their navigation layer; the engine never intercepts
// platform dispatch.
func (e *Engine) RecordPageVisit(name string) {
	e.Store.Mutate(func(st *state.ApplicationState) {
		st.SignIn.LastPageVisited = name
	})
}

// MetricsRegistry exposes the engine's Prometheus registry for hosts that
// scrape or push metrics.
func (e *Engine) MetricsRegistry() *prometheus.Registry {
	return e.registry
}

// Close stops automation processing and flushes pending persistence.
func (e *Engine) Close() {
	e.Automations.Close()
	e.Store.Flush()
	_ = e.log.Sync()
}
