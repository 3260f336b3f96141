package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/clock"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
	"github.com/eclipse-edc/Connector-sub001/store/memory"
	"github.com/eclipse-edc/Connector-sub001/worker"
)

const (
	negotiation entity.Type = "negotiation"

	stInitial    entity.State = "INITIAL"
	stRequesting entity.State = "REQUESTING"
	stAgreed     entity.State = "AGREED"
	stFinalized  entity.State = "FINALIZED"
	stFailed     entity.State = "FAILED"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func negotiationDescriptor(typ entity.Type) *statemachine.Descriptor {
	return statemachine.New(typ).
		Initial(stInitial).
		Transition(stInitial, stRequesting).
		Transition(stRequesting, stAgreed).
		Transition(stAgreed, stFinalized).
		Terminal(stFinalized).
		Failed(stFailed).
		MustBuild()
}

func testConfig() connector.Config {
	cfg := connector.DefaultConfig()
	cfg.BatchSize = 10
	cfg.Parallelism = 4
	cfg.LeaseTTL = time.Minute
	cfg.HandlerTimeout = 10 * time.Second
	cfg.MaxAttempts = 3
	cfg.BackoffBase = time.Second
	cfg.BackoffCap = time.Minute
	cfg.BackoffJitter = 0
	cfg.CycleInterval = 5 * time.Millisecond
	cfg.CycleJitter = 0
	cfg.InstanceID = "inst-a"
	return cfg
}

// behaviors routes every registered handler through a per-state function
// that tests can swap at any time.
type behaviors struct {
	mu    sync.Mutex
	fns   map[entity.State]handler.Func
	calls map[entity.State]int
}

func newBehaviors() *behaviors {
	b := &behaviors{fns: make(map[entity.State]handler.Func), calls: make(map[entity.State]int)}
	b.set(stInitial, advance(stRequesting))
	b.set(stRequesting, advance(stAgreed))
	b.set(stAgreed, advance(stFinalized))
	return b
}

func (b *behaviors) set(s entity.State, fn handler.Func) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fns[s] = fn
}

func (b *behaviors) count(s entity.State) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[s]
}

func (b *behaviors) handler(s entity.State) handler.Func {
	return func(ctx context.Context, e *entity.Entity) (handler.Result, error) {
		b.mu.Lock()
		b.calls[s]++
		fn := b.fns[s]
		b.mu.Unlock()
		return fn(ctx, e)
	}
}

func (b *behaviors) register(reg *handler.Registry, typ entity.Type) {
	reg.Describe(negotiationDescriptor(typ))
	for _, s := range []entity.State{stInitial, stRequesting, stAgreed} {
		reg.Register(typ, s, b.handler(s))
	}
}

func advance(next entity.State) handler.Func {
	return func(_ context.Context, _ *entity.Entity) (handler.Result, error) {
		return handler.Transition(next, nil), nil
	}
}

func failing(err error) handler.Func {
	return func(_ context.Context, _ *entity.Entity) (handler.Result, error) {
		return handler.Result{}, err
	}
}

// recorder captures lifecycle events.
type recorder struct {
	mu        sync.Mutex
	abandoned []string
	failed    []error
	retried   []error
	leased    int
	done      chan string
}

func newRecorder() *recorder { return &recorder{done: make(chan string, 64)} }

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) OnEntityLeased(_ context.Context, _ *entity.Entity) error {
	r.mu.Lock()
	r.leased++
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnEntityAbandoned(_ context.Context, _ *entity.Entity, reason string) error {
	r.mu.Lock()
	r.abandoned = append(r.abandoned, reason)
	r.mu.Unlock()
	r.done <- "abandoned:" + reason
	return nil
}

func (r *recorder) OnEntityRetrying(_ context.Context, _ *entity.Entity, _ int, _ time.Time, cause error) error {
	r.mu.Lock()
	r.retried = append(r.retried, cause)
	r.mu.Unlock()
	return nil
}

func (r *recorder) retryCauses() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.retried...)
}

func (r *recorder) OnEntityFailed(_ context.Context, _ *entity.Entity, err error) error {
	r.mu.Lock()
	r.failed = append(r.failed, err)
	r.mu.Unlock()
	return nil
}

func (r *recorder) abandonReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.abandoned...)
}

type harness struct {
	t        *testing.T
	cfg      connector.Config
	clock    *clock.Fake
	store    *memory.Store
	registry *handler.Registry
	behave   *behaviors
	rec      *recorder
	mgr      *worker.Manager
}

func newHarness(t *testing.T, mutate ...func(*connector.Config)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	c := clock.NewFake(epoch)
	h := &harness{
		t:        t,
		cfg:      cfg,
		clock:    c,
		store:    memory.New(memory.WithClock(c)),
		registry: handler.NewRegistry(),
		behave:   newBehaviors(),
		rec:      newRecorder(),
	}
	h.behave.register(h.registry, negotiation)
	h.mgr = h.newManager(cfg.InstanceID)
	return h
}

func (h *harness) newManager(instance string) *worker.Manager {
	h.t.Helper()
	cfg := h.cfg
	cfg.InstanceID = instance

	logger := slog.New(slog.DiscardHandler)
	extensions := ext.NewRegistry(logger)
	extensions.Register(h.rec)

	m, err := worker.NewManager(cfg, h.store, h.registry,
		worker.WithClock(h.clock),
		worker.WithLogger(logger),
		worker.WithExtensions(extensions),
	)
	require.NoError(h.t, err)
	return m
}

// seed creates an entity in state and saves it until it reaches version.
func (h *harness) seed(state entity.State, version int64, mutate ...func(*entity.Entity)) *entity.Entity {
	h.t.Helper()
	ctx := context.Background()
	e := entity.New(id.NewNegotiationID(), negotiation, state, []byte(`{"offer":"o-1"}`), h.clock.Now())
	for _, fn := range mutate {
		fn(e)
	}
	require.NoError(h.t, h.store.Create(ctx, e))
	for v := int64(0); v < version; v++ {
		require.NoError(h.t, h.store.Save(ctx, e, v))
	}
	return e
}

func (h *harness) get(e *entity.Entity) *entity.Entity {
	h.t.Helper()
	got, err := h.store.Get(context.Background(), e.ID)
	require.NoError(h.t, err)
	return got
}

func (h *harness) tick() {
	h.t.Helper()
	require.NoError(h.t, h.mgr.Tick(context.Background()))
}

// failingStore fails FindEligible.
type failingStore struct {
	entity.Store
	err error
}

func (f failingStore) FindEligible(context.Context, entity.Type, []entity.State, int) ([]*entity.Entity, error) {
	return nil, f.err
}

var errTransient = errors.New("counterparty unavailable")

func newID() id.ID { return id.NewNegotiationID() }

// scanSignalStore signals after every FindEligible.
type scanSignalStore struct {
	entity.Store
	scanned chan struct{}
}

func (s scanSignalStore) FindEligible(ctx context.Context, typ entity.Type, states []entity.State, limit int) ([]*entity.Entity, error) {
	out, err := s.Store.FindEligible(ctx, typ, states, limit)
	select {
	case s.scanned <- struct{}{}:
	default:
	}
	return out, err
}

// hangingStore blocks FindEligible forever, ignoring ctx.
type hangingStore struct {
	entity.Store
	entered chan struct{}
}

func (s hangingStore) FindEligible(context.Context, entity.Type, []entity.State, int) ([]*entity.Entity, error) {
	close(s.entered)
	select {}
}
