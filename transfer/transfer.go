// Package transfer runs the consumer side of a transfer process on the
// process engine.
//
//	INITIAL ──▶ REQUESTING ──▶ STARTED ──▶ COMPLETING ──▶ COMPLETED
//	                              │ ▲
//	                              └─┘ re-checked every CheckInterval
//	                              │
//	                              └──▶ TERMINATING ──▶ TERMINATED
//
// Finite transfers complete as soon as they start. Non-finite transfers
// stay STARTED until termination is requested with RequestTermination.
package transfer

import (
	"context"
	"encoding/json"
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
	"github.com/eclipse-edc/Connector-sub001/statemachine"
)

// Type is the entity type of transfer processes.
const Type entity.Type = "transfer_process"

// States.
const (
	Initial     entity.State = "INITIAL"
	Requesting  entity.State = "REQUESTING"
	Started     entity.State = "STARTED"
	Completing  entity.State = "COMPLETING"
	Completed   entity.State = "COMPLETED"
	Terminating entity.State = "TERMINATING"
	Terminated  entity.State = "TERMINATED"
	Failed      entity.State = "FAILED"
)

// DefaultCheckInterval is used when Deps.CheckInterval is zero.
const DefaultCheckInterval = 30 * time.Second

// ErrMissingAgreement is returned for a transfer without an agreement id.
var ErrMissingAgreement = errors.New("transfer: missing agreement id")

// Payload is the transfer's persisted data.
type Payload struct {
	Protocol            string `json:"protocol"`
	CounterpartyAddress string `json:"counterpartyAddress"`
	AgreementID         string `json:"agreementId"`
	AssetID             string `json:"assetId,omitempty"`
	Format              string `json:"format,omitempty"`
	Finite              bool   `json:"finite"`

	ProviderPID          string `json:"providerPid,omitempty"`
	TerminationRequested bool   `json:"terminationRequested,omitempty"`
	TerminationReason    string `json:"terminationReason,omitempty"`
}

var descriptor = statemachine.New(Type).
	Initial(Initial).
	Transition(Initial, Requesting).
	Transition(Requesting, Started).
	Transition(Started, Completing, Started, Terminating).
	Transition(Completing, Completed).
	Transition(Terminating, Terminated).
	Terminal(Completed, Terminated, Failed).
	Failed(Failed).
	MustBuild()

// Descriptor returns the transfer state machine.
func Descriptor() *statemachine.Descriptor { return descriptor }

// IsTerminal reports whether state ends a transfer.
func IsTerminal(state entity.State) bool { return descriptor.IsTerminal(state) }

// Deps are the collaborators the transfer handlers use.
type Deps struct {
	Dispatcher    dispatcher.Dispatcher
	CheckInterval time.Duration
	Logger        *slog.Logger
}

// New returns a transfer entity in its initial state.
func New(p Payload, now time.Time) (*entity.Entity, error) {
	b, err := handler.Encode(p)
	if err != nil {
		return nil, err
	}
	return entity.New(id.NewTransferID(), Type, Initial, b, now), nil
}

// Register describes the transfer type and registers a handler for every
// non-terminal state.
func Register(reg *handler.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.CheckInterval <= 0 {
		deps.CheckInterval = DefaultCheckInterval
	}
	h := &handlers{deps: deps}

	reg.Describe(descriptor)
	reg.Register(Type, Initial, handler.Typed(h.validate))
	reg.Register(Type, Requesting, handler.Typed(h.request))
	reg.Register(Type, Started, handler.Typed(h.check))
	reg.Register(Type, Completing, handler.Typed(h.complete))
	reg.Register(Type, Terminating, handler.Typed(h.terminate))
}

type handlers struct {
	deps Deps
}

func (h *handlers) validate(_ context.Context, _ *entity.Entity, p Payload) (handler.Result, error) {
	if p.AgreementID == "" {
		return handler.Result{}, handler.Permanent(ErrMissingAgreement)
	}
	return handler.Transition(Requesting, nil), nil
}

func (h *handlers) request(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	reply, err := message.Send(ctx, h.deps.Dispatcher, h.message(e, p, message.TypeTransferRequest), message.TransferRequest{
		ConsumerPID: e.ID.String(),
		AgreementID: p.AgreementID,
		Format:      p.Format,
	})
	if err != nil {
		return handler.Result{}, err
	}

	start, err := message.DecodeReply[message.TransferStart](message.TypeTransferRequest, reply)
	if err != nil {
		return handler.Result{}, err
	}
	p.ProviderPID = start.ProviderPID

	b, err := handler.Encode(p)
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Started, b), nil
}

func (h *handlers) check(_ context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	switch {
	case p.TerminationRequested:
		h.deps.Logger.Info("transfer termination requested",
			slog.String("entity_id", e.ID.String()),
			slog.String("reason", p.TerminationReason),
		)
		return handler.Transition(Terminating, nil), nil
	case p.Finite:
		return handler.Transition(Completing, nil), nil
	default:
		return handler.TransitionAfter(Started, nil, h.deps.CheckInterval), nil
	}
}

func (h *handlers) complete(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	_, err := message.Send(ctx, h.deps.Dispatcher, h.message(e, p, message.TypeTransferCompletion), message.TransferCompletion{
		ConsumerPID: e.ID.String(),
		ProviderPID: p.ProviderPID,
	})
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Completed, nil), nil
}

func (h *handlers) terminate(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	_, err := message.Send(ctx, h.deps.Dispatcher, h.message(e, p, message.TypeTransferTermination), message.TransferTermination{
		ConsumerPID: e.ID.String(),
		ProviderPID: p.ProviderPID,
		Reason:      p.TerminationReason,
	})
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Terminated, nil), nil
}

func (h *handlers) message(e *entity.Entity, p Payload, typ string) dispatcher.Message {
	return dispatcher.Message{
		Protocol:            p.Protocol,
		CounterpartyAddress: p.CounterpartyAddress,
		Type:                typ,
		ProcessID:           e.ID.String(),
	}
}

// maxTerminationConflicts bounds RequestTermination's optimistic retries.
const maxTerminationConflicts = 5

// RequestTermination flags a transfer for termination. The STARTED handler
// picks the flag up on its next run. The write is an optimistic save, so a
// worker holding the transfer loses its in-flight result and re-runs with
// the flag set.
func RequestTermination(ctx context.Context, store entity.Store, transferID id.ID, reason string) error {
	for range maxTerminationConflicts {
		e, err := store.Get(ctx, transferID)
		if err != nil {
			return fmt.Errorf("transfer: request termination: %w", err)
		}
		if e.Type != Type {
			return fmt.Errorf("transfer: request termination: %s is a %s: %w", transferID, e.Type, connector.ErrUnknownType)
		}
		if IsTerminal(e.State) || e.State == Terminating {
			return nil
		}

		var p Payload
		if len(e.Payload) > 0 {
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return fmt.Errorf("transfer: request termination: %w", err)
			}
		}
		p.TerminationRequested = true
		p.TerminationReason = reason
		if e.Payload, err = handler.Encode(p); err != nil {
			return err
		}

		err = store.Save(ctx, e, e.Version)
		if errors.Is(err, connector.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("transfer: request termination: %w", err)
		}
		return nil
	}
	return fmt.Errorf("transfer: request termination: %w", connector.ErrVersionConflict)
}
