// Package policymonitor re-evaluates the policy of a running transfer and
// terminates it with the provider when the policy stops allowing it.
//
// A monitor starts in STARTED and re-checks every Interval. It completes on
// its own once the watched transfer reaches a terminal state.
package policymonitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/message"
	"github.com/eclipse-edc/Connector-sub001/policy"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
	"github.com/eclipse-edc/Connector-sub001/transfer"
)

// Type is the entity type of policy monitors.
const Type entity.Type = "policy_monitor"

// States.
const (
	Started     entity.State = "STARTED"
	Terminating entity.State = "TERMINATING"
	Completed   entity.State = "COMPLETED"
	Terminated  entity.State = "TERMINATED"
	Failed      entity.State = "FAILED"
)

// DefaultInterval is used when Deps.Interval is zero.
const DefaultInterval = time.Minute

// Payload is the monitor's persisted data.
type Payload struct {
	TransferID string         `json:"transferId"`
	Policy     policy.Policy  `json:"policy"`
	Context    map[string]any `json:"context,omitempty"`

	Protocol            string `json:"protocol"`
	CounterpartyAddress string `json:"counterpartyAddress"`
	ProviderPID         string `json:"providerPid,omitempty"`

	Checks int    `json:"checks"`
	Reason string `json:"reason,omitempty"`
}

// Reader is the read-only store access the monitor needs.
type Reader interface {
	Get(ctx context.Context, entityID id.ID) (*entity.Entity, error)
}

// Descriptor returns the policy monitor state machine.
func Descriptor() *statemachine.Descriptor {
	return statemachine.New(Type).
		Initial(Started).
		Transition(Started, Started, Terminating, Completed).
		Transition(Terminating, Terminated).
		Terminal(Completed, Terminated, Failed).
		Failed(Failed).
		MustBuild()
}

// Deps are the collaborators the monitor handlers use.
type Deps struct {
	Transfers  Reader
	Dispatcher dispatcher.Dispatcher
	Evaluator  policy.Evaluator
	Interval   time.Duration
	Logger     *slog.Logger
}

// New returns a policy monitor for a started transfer.
func New(p Payload, now time.Time) (*entity.Entity, error) {
	b, err := handler.Encode(p)
	if err != nil {
		return nil, err
	}
	return entity.New(id.NewPolicyMonitorID(), Type, Started, b, now), nil
}

// Register describes the policy monitor type and registers a handler for
// every non-terminal state.
func Register(reg *handler.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Interval <= 0 {
		deps.Interval = DefaultInterval
	}
	m := &monitor{deps: deps}

	reg.Describe(Descriptor())
	reg.Register(Type, Started, handler.Typed(m.check))
	reg.Register(Type, Terminating, handler.Typed(m.terminate))
}

type monitor struct {
	deps Deps
}

func (m *monitor) check(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	transferID, err := id.ParseWithPrefix(p.TransferID, id.PrefixTransfer)
	if err != nil {
		return handler.Result{}, handler.Permanent(fmt.Errorf("watched transfer: %w", err))
	}

	tp, err := m.deps.Transfers.Get(ctx, transferID)
	if errors.Is(err, connector.ErrEntityNotFound) {
		return handler.Result{}, handler.Permanent(fmt.Errorf("watched transfer %s: %w", transferID, err))
	}
	if err != nil {
		return handler.Result{}, fmt.Errorf("watched transfer %s: %w", transferID, err)
	}
	if transfer.IsTerminal(tp.State) {
		return handler.Transition(Completed, nil), nil
	}

	vars := map[string]any{
		"transfer": map[string]any{
			"id":    tp.ID.String(),
			"state": string(tp.State),
		},
		"checks": p.Checks,
	}
	for k, v := range p.Context {
		vars[k] = v
	}

	decision, err := m.deps.Evaluator.Evaluate(ctx, p.Policy, vars)
	if err != nil {
		return handler.Result{}, handler.Permanent(err)
	}

	p.Checks++
	if decision == policy.Allow {
		b, err := handler.Encode(p)
		if err != nil {
			return handler.Result{}, err
		}
		return handler.TransitionAfter(Started, b, m.deps.Interval), nil
	}

	m.deps.Logger.Info("policy no longer satisfied, terminating transfer",
		slog.String("entity_id", e.ID.String()),
		slog.String("transfer_id", transferID.String()),
		slog.String("policy_id", p.Policy.ID),
	)
	p.Reason = fmt.Sprintf("policy %s no longer satisfied", p.Policy.ID)
	b, err := handler.Encode(p)
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Terminating, b), nil
}

func (m *monitor) terminate(ctx context.Context, _ *entity.Entity, p Payload) (handler.Result, error) {
	_, err := message.Send(ctx, m.deps.Dispatcher, dispatcher.Message{
		Protocol:            p.Protocol,
		CounterpartyAddress: p.CounterpartyAddress,
		Type:                message.TypeTransferTermination,
		ProcessID:           p.TransferID,
	}, message.TransferTermination{
		ConsumerPID: p.TransferID,
		ProviderPID: p.ProviderPID,
		Code:        "POLICY_VIOLATION",
		Reason:      p.Reason,
	})
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Terminated, nil), nil
}
