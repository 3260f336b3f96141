package worker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/backoff"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/middleware"
)

// Manager periodically selects eligible entities of every registered type,
// leases them and runs them on a bounded pool of worker goroutines.
//
// Any number of Managers, in one process or many, may share a store: the
// store's lease compare-and-swap guarantees at most one of them executes a
// given entity at a time.
type Manager struct {
	cfg        connector.Config
	store      entity.Store
	registry   *handler.Registry
	executor   *Executor
	extensions *ext.Registry
	clock      clock.Clock
	logger     *slog.Logger
	holder     string
	rnd        func() float64

	sem *semaphore.Weighted

	// cycleMu serializes cycles and guards offset.
	cycleMu sync.Mutex
	offset  int

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	loopDone   chan struct{}
	cancelWork context.CancelFunc
	wg         sync.WaitGroup

	// cycling is set while the loop may be inside a cycle; inflight counts
	// launched workers until their last deferred call.
	cycling  atomic.Bool
	inflight atomic.Int64

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	clock      clock.Clock
	logger     *slog.Logger
	extensions *ext.Registry
	strategy   backoff.Strategy
	mws        []middleware.Middleware
	rnd        func() float64
}

// WithClock sets the clock used for lease, backoff and timestamp math.
func WithClock(c clock.Clock) Option {
	return func(o *managerOptions) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *managerOptions) { o.logger = l }
}

// WithExtensions sets the lifecycle extension registry.
func WithExtensions(r *ext.Registry) Option {
	return func(o *managerOptions) { o.extensions = r }
}

// WithStrategy overrides the backoff strategy derived from the config.
func WithStrategy(s backoff.Strategy) Option {
	return func(o *managerOptions) { o.strategy = s }
}

// WithMiddleware appends handler middleware. They run inside panic
// recovery and outside the handler timeout.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *managerOptions) { o.mws = append(o.mws, mws...) }
}

// WithRand sets the source for cycle jitter. It must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(o *managerOptions) { o.rnd = fn }
}

// NewManager validates cfg and the registry and builds a stopped Manager.
// Every configuration problem is reported at once.
func NewManager(cfg connector.Config, store entity.Store, registry *handler.Registry, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, connector.ErrNoStore
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}

	o := &managerOptions{
		clock: clock.Real{},
		rnd:   rand.Float64, //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.extensions == nil {
		o.extensions = ext.NewRegistry(o.logger)
	}
	if o.strategy == nil {
		o.strategy = &backoff.Jittered{
			Base:   cfg.BackoffBase,
			Cap:    cfg.BackoffCap,
			Jitter: cfg.BackoffJitter,
		}
	}

	holder := cfg.InstanceID
	if holder == "" {
		holder = id.NewInstanceID().String()
	}

	mws := make([]middleware.Middleware, 0, len(o.mws)+2)
	mws = append(mws, middleware.Recover(o.logger))
	mws = append(mws, o.mws...)
	mws = append(mws, middleware.Timeout(o.logger, cfg.HandlerTimeout))

	policy := backoff.NewPolicy(cfg.MaxAttempts, o.strategy)

	return &Manager{
		cfg:        cfg,
		store:      store,
		registry:   registry,
		executor:   NewExecutor(store, registry, o.extensions, policy, o.clock, o.logger, mws...),
		extensions: o.extensions,
		clock:      o.clock,
		logger:     o.logger,
		holder:     holder,
		rnd:        o.rnd,
		sem:        semaphore.NewWeighted(int64(cfg.Parallelism)),
		active:     make(map[string]context.CancelFunc),
	}, nil
}

// Holder returns the lease holder identity of this manager.
func (m *Manager) Holder() string { return m.holder }

// Start launches the cycle loop and returns immediately. Values carried by
// ctx reach handler contexts; its cancellation does not stop the manager.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return connector.ErrAlreadyRunning
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})

	var workCtx context.Context
	workCtx, m.cancelWork = context.WithCancel(context.WithoutCancel(ctx))

	m.logger.Info("process manager starting",
		slog.String("holder", m.holder),
		slog.Int("parallelism", m.cfg.Parallelism),
		slog.Int("batch_size", m.cfg.BatchSize),
		slog.Duration("cycle_interval", m.cfg.CycleInterval),
		slog.Any("types", m.registry.Types()),
	)

	go m.loop(workCtx, m.stopCh, m.loopDone)
	return nil
}

// Stop signals every in-flight handler to cancel and waits up to timeout
// for the cycle loop and the workers to return. It returns
// connector.ErrStopTimeout when either is still running at the deadline;
// abandoned leases expire on their own. A timeout of zero or less succeeds
// only if nothing is running. Stop on a stopped manager is a no-op.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	m.cancelWork()
	loopDone := m.loopDone
	m.mu.Unlock()

	m.logger.Info("process manager stopping", slog.String("holder", m.holder))

	deadline := time.NewTimer(max(timeout, 0))
	defer deadline.Stop()

	select {
	case <-loopDone:
	case <-deadline.C:
		m.cancelActive()
		return m.stopExpired()
	}
	m.cancelActive()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("process manager stopped gracefully")
		return nil
	case <-deadline.C:
		return m.stopExpired()
	}
}

// stopExpired reports the outcome of a Stop whose budget ran out.
func (m *Manager) stopExpired() error {
	if m.idle() {
		m.logger.Info("process manager stopped gracefully")
		return nil
	}
	m.logger.Warn("process manager stop timed out, abandoning in-flight work",
		slog.Int("in_flight", int(m.inflight.Load())),
		slog.Bool("cycling", m.cycling.Load()),
	)
	return connector.ErrStopTimeout
}

// idle reports whether, once stopCh is closed, no cycle and no worker can
// still run.
func (m *Manager) idle() bool {
	return !m.cycling.Load() && m.inflight.Load() == 0
}

// Tick runs one processing cycle synchronously and waits for the workers
// it launched. It does not require Start and must not race with Stop.
func (m *Manager) Tick(ctx context.Context) error {
	launched, err := m.cycle(ctx)
	launched.Wait()
	return err
}

func (m *Manager) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		m.cycling.Store(true)
		select {
		case <-stopCh:
			m.cycling.Store(false)
			return
		default:
		}
		if _, err := m.cycle(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error("processing cycle failed", slog.String("error", err.Error()))
		}
		m.cycling.Store(false)

		timer := time.NewTimer(m.cycleDelay())
		select {
		case <-stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// cycleDelay returns CycleInterval randomly moved by up to CycleJitter of
// itself in either direction.
func (m *Manager) cycleDelay() time.Duration {
	base := float64(m.cfg.CycleInterval)
	return time.Duration(base + (m.rnd()*2-1)*m.cfg.CycleJitter*base)
}

// cycle scans every registered type once, starting at a rotating offset so
// a type with a deep backlog cannot starve the types behind it. It stops
// leasing as soon as the pool is full. A store query error aborts the cycle.
func (m *Manager) cycle(ctx context.Context) (*sync.WaitGroup, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	launched := &sync.WaitGroup{}
	types := m.registry.Types()
	if len(types) == 0 {
		return launched, nil
	}
	start := m.offset % len(types)
	m.offset++

	for i := range types {
		typ := types[(start+i)%len(types)]
		d, _ := m.registry.Descriptor(typ)

		full, err := m.scan(ctx, typ, d.NonTerminal(), launched)
		if err != nil {
			return launched, err
		}
		if full {
			m.logger.Debug("worker pool full, deferring remaining candidates")
			break
		}
	}
	return launched, nil
}

// scan leases eligible entities of one type until the batch or the pool is
// exhausted. It reports whether the pool is full.
func (m *Manager) scan(ctx context.Context, typ entity.Type, states []entity.State, launched *sync.WaitGroup) (bool, error) {
	candidates, err := m.store.FindEligible(ctx, typ, states, m.cfg.BatchSize)
	if err != nil {
		return false, fmt.Errorf("find eligible %s: %w", typ, err)
	}

	for _, e := range candidates {
		key := e.ID.String()
		if m.isActive(key) {
			continue
		}
		if !m.sem.TryAcquire(1) {
			return true, nil
		}

		ok, err := m.store.TryAcquireLease(ctx, e.ID, m.holder, m.cfg.LeaseTTL, e.Version)
		if err != nil {
			m.sem.Release(1)
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			m.logger.Error("lease acquisition failed",
				slog.String("entity_id", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !ok {
			m.sem.Release(1)
			m.logger.Debug("lease race lost",
				slog.String("entity_id", key),
				slog.Int64("version", e.Version),
			)
			continue
		}

		expiry := m.clock.Now().Add(m.cfg.LeaseTTL)
		e.LeaseHolder = m.holder
		e.LeaseExpiry = &expiry
		m.launch(ctx, e, launched)
	}
	return false, nil
}

// launch runs a leased entity on its own goroutine. The caller holds a
// semaphore slot, which the worker releases when it returns.
func (m *Manager) launch(ctx context.Context, e *entity.Entity, launched *sync.WaitGroup) {
	key := e.ID.String()
	wctx, cancel := context.WithCancel(ctx)
	m.track(key, cancel)

	m.inflight.Add(1)
	m.wg.Add(1)
	launched.Add(1)
	go func() {
		defer m.inflight.Add(-1)
		defer launched.Done()
		defer m.wg.Done()
		defer m.sem.Release(1)
		defer m.untrack(key)
		defer cancel()

		m.extensions.EmitEntityLeased(wctx, e)
		outcome := m.executor.Execute(wctx, e, m.holder)
		m.logger.Debug("entity processed",
			slog.String("entity_id", key),
			slog.String("entity_type", string(e.Type)),
			slog.String("state", string(e.State)),
			slog.String("outcome", outcome.String()),
		)
	}()
}

func (m *Manager) isActive(key string) bool {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	_, ok := m.active[key]
	return ok
}

func (m *Manager) track(key string, cancel context.CancelFunc) {
	m.activeMu.Lock()
	m.active[key] = cancel
	m.activeMu.Unlock()
}

func (m *Manager) untrack(key string) {
	m.activeMu.Lock()
	delete(m.active, key)
	m.activeMu.Unlock()
}

func (m *Manager) cancelActive() {
	m.activeMu.Lock()
	defer m.activeMu.Unlock()
	for key, cancel := range m.active {
		m.logger.Debug("cancelling in-flight handler", slog.String("entity_id", key))
		cancel()
	}
}
