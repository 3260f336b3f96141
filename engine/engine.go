// Package engine composes the store, handler registry, extensions and
// middleware into a running process engine and provides the
// application-level API for creating entities.
//
// Domain modules register against Registry() after New and before Start;
// the registry is validated when the engine starts, so a missing handler
// stops the boot instead of surfacing at runtime.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/backoff"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	mw "github.com/eclipse-edc/Connector-sub001/middleware"
	"github.com/eclipse-edc/Connector-sub001/observability"
	"github.com/eclipse-edc/Connector-sub001/store"
	"github.com/eclipse-edc/Connector-sub001/worker"
)

// instrumentationName is the scope name for tracers and meters obtained
// from custom providers.
const instrumentationName = "github.com/eclipse-edc/Connector-sub001"

// Engine owns the process manager and the collaborators it runs on.
type Engine struct {
	cfg        connector.Config
	store      store.Store
	registry   *handler.Registry
	extensions *ext.Registry
	clock      clock.Clock
	logger     *slog.Logger
	strategy   backoff.Strategy
	mws        []mw.Middleware
	pending    []ext.Extension

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu      sync.Mutex
	manager *worker.Manager
	closed  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithClock sets the clock for leases, backoff and timestamps.
func WithClock(c clock.Clock) Option {
	return func(eng *Engine) { eng.clock = c }
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) { eng.pending = append(eng.pending, e) }
}

// WithMiddleware adds middleware to the handler chain, inside the built-in
// tracing, metrics and logging layers.
func WithMiddleware(m ...mw.Middleware) Option {
	return func(eng *Engine) { eng.mws = append(eng.mws, m...) }
}

// WithStrategy sets the retry backoff strategy. If not set, a jittered
// exponential strategy built from the config is used.
func WithStrategy(s backoff.Strategy) Option {
	return func(eng *Engine) { eng.strategy = s }
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) { eng.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine. Both
// the metrics middleware and the observability extension use it.
// If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) { eng.meterProvider = mp }
}

// New creates a stopped engine over s.
func New(cfg connector.Config, s store.Store, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, connector.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = id.NewInstanceID().String()
	}

	eng := &Engine{
		cfg:      cfg,
		store:    s,
		registry: handler.NewRegistry(),
		clock:    clock.Real{},
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}

	eng.extensions = ext.NewRegistry(eng.logger)

	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)
	for _, e := range eng.pending {
		eng.extensions.Register(e)
	}
	eng.pending = nil

	return eng, nil
}

// Registry returns the handler registry domain modules register against.
func (eng *Engine) Registry() *handler.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Clock returns the engine's clock.
func (eng *Engine) Clock() clock.Clock { return eng.clock }

// Holder returns the lease holder identity of this engine instance.
func (eng *Engine) Holder() string { return eng.cfg.InstanceID }

// managerLocked builds the process manager on first use. The registry is
// validated at that point.
func (eng *Engine) managerLocked() (*worker.Manager, error) {
	if eng.manager != nil {
		return eng.manager, nil
	}

	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// recover → tracing → metrics → logging → user → timeout.
	chain := make([]mw.Middleware, 0, 3+len(eng.mws))
	chain = append(chain, tracingMw, metricsMw, mw.Logging(eng.logger))
	chain = append(chain, eng.mws...)

	opts := []worker.Option{
		worker.WithClock(eng.clock),
		worker.WithLogger(eng.logger),
		worker.WithExtensions(eng.extensions),
		worker.WithMiddleware(chain...),
	}
	if eng.strategy != nil {
		opts = append(opts, worker.WithStrategy(eng.strategy))
	}

	m, err := worker.NewManager(eng.cfg, eng.store, eng.registry, opts...)
	if err != nil {
		return nil, fmt.Errorf("connector/engine: %w", err)
	}
	eng.manager = m
	return m, nil
}

// Start validates the registry and starts the process manager.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return fmt.Errorf("connector/engine: start: engine is closed")
	}
	m, err := eng.managerLocked()
	eng.mu.Unlock()
	if err != nil {
		return err
	}

	if err := eng.store.Ping(ctx); err != nil {
		return fmt.Errorf("connector/engine: ping store: %w", err)
	}
	return m.Start(ctx)
}

// Tick runs one processing cycle synchronously. The engine need not be
// started.
func (eng *Engine) Tick(ctx context.Context) error {
	eng.mu.Lock()
	m, err := eng.managerLocked()
	eng.mu.Unlock()
	if err != nil {
		return err
	}
	return m.Tick(ctx)
}

// Stop stops the process manager, waiting up to ShutdownTimeout or the
// ctx deadline, whichever is sooner. It then notifies extensions and
// closes the store. Stop is idempotent.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return nil
	}
	eng.closed = true
	m := eng.manager
	eng.mu.Unlock()

	var errs []error
	if m != nil {
		timeout := eng.cfg.ShutdownTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = max(remaining, 0)
			}
		}
		if err := m.Stop(timeout); err != nil {
			errs = append(errs, err)
		}
	}

	eng.extensions.EmitShutdown(ctx)

	if err := eng.store.Close(); err != nil {
		eng.logger.Error("failed to close store", slog.String("error", err.Error()))
		errs = append(errs, fmt.Errorf("connector/engine: close store: %w", err))
	}
	return errors.Join(errs...)
}

// Create persists a new entity. The entity's type must be registered and
// it must be in its descriptor's initial state.
func (eng *Engine) Create(ctx context.Context, e *entity.Entity) error {
	d, ok := eng.registry.Descriptor(e.Type)
	if !ok {
		return fmt.Errorf("%w: %q", connector.ErrUnknownType, e.Type)
	}
	if e.State != d.Initial() {
		return fmt.Errorf("%w: %s entities are created in %q, got %q",
			connector.ErrInvalidTransition, e.Type, d.Initial(), e.State)
	}
	if e.ID.IsNil() {
		return fmt.Errorf("connector/engine: create %s: entity has no id", e.Type)
	}

	now := eng.clock.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.StateTimestamp.IsZero() {
		e.StateTimestamp = now
	}
	e.UpdatedAt = now
	e.ClearLease()
	e.AttemptCount = 0
	e.ErrorDetail = ""

	if err := eng.store.Create(ctx, e); err != nil {
		return err
	}

	eng.extensions.EmitEntityCreated(ctx, e)
	return nil
}

// Get returns an entity by id.
func (eng *Engine) Get(ctx context.Context, entityID id.ID) (*entity.Entity, error) {
	return eng.store.Get(ctx, entityID)
}

// List returns entities matching opts.
func (eng *Engine) List(ctx context.Context, opts entity.ListOpts) ([]*entity.Entity, error) {
	return eng.store.List(ctx, opts)
}
