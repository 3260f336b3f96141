// Package negotiation runs the consumer side of a contract negotiation on
// the process engine.
//
//	INITIAL ──allow──▶ REQUESTING ──▶ AGREED ──▶ FINALIZED
//	   └──deny──▶ DECLINED
//
// A denied offer policy is a business outcome and ends in DECLINED rather
// than FAILED.
package negotiation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eclipse-edc/Connector-sub001/dispatcher"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/handler"
	"github.com/eclipse-edc/Connector-sub001/id"
	"github.com/eclipse-edc/Connector-sub001/message"
	"github.com/eclipse-edc/Connector-sub001/policy"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
)

// Type is the entity type of contract negotiations.
const Type entity.Type = "contract_negotiation"

// States.
const (
	Initial    entity.State = "INITIAL"
	Requesting entity.State = "REQUESTING"
	Agreed     entity.State = "AGREED"
	Finalized  entity.State = "FINALIZED"
	Declined   entity.State = "DECLINED"
	Failed     entity.State = "FAILED"
)

// Payload is the negotiation's persisted data.
type Payload struct {
	Protocol            string         `json:"protocol"`
	CounterpartyID      string         `json:"counterpartyId"`
	CounterpartyAddress string         `json:"counterpartyAddress"`
	AssetID             string         `json:"assetId"`
	OfferID             string         `json:"offerId"`
	Purpose             string         `json:"purpose,omitempty"`
	Policy              policy.Policy  `json:"policy"`
	Attributes          map[string]any `json:"attributes,omitempty"`

	ProviderPID   string `json:"providerPid,omitempty"`
	AgreementID   string `json:"agreementId,omitempty"`
	DeclineReason string `json:"declineReason,omitempty"`
}

// Descriptor returns the negotiation state machine.
func Descriptor() *statemachine.Descriptor {
	return statemachine.New(Type).
		Initial(Initial).
		Transition(Initial, Requesting, Declined).
		Transition(Requesting, Agreed).
		Transition(Agreed, Finalized).
		Terminal(Finalized, Declined, Failed).
		Failed(Failed).
		MustBuild()
}

// Deps are the collaborators the negotiation handlers use.
type Deps struct {
	Dispatcher dispatcher.Dispatcher
	Evaluator  policy.Evaluator
	Logger     *slog.Logger
}

// New returns a negotiation entity in its initial state.
func New(p Payload, now time.Time) (*entity.Entity, error) {
	b, err := handler.Encode(p)
	if err != nil {
		return nil, err
	}
	return entity.New(id.NewNegotiationID(), Type, Initial, b, now), nil
}

// Register describes the negotiation type and registers a handler for
// every non-terminal state.
func Register(reg *handler.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := &handlers{deps: deps}

	reg.Describe(Descriptor())
	reg.Register(Type, Initial, handler.Typed(h.evaluateOffer))
	reg.Register(Type, Requesting, handler.Typed(h.request))
	reg.Register(Type, Agreed, handler.Typed(h.verify))
}

type handlers struct {
	deps Deps
}

func (h *handlers) evaluateOffer(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	vars := map[string]any{
		"asset":   p.AssetID,
		"offer":   p.OfferID,
		"purpose": p.Purpose,
		"counterparty": map[string]any{
			"id":      p.CounterpartyID,
			"address": p.CounterpartyAddress,
		},
	}
	for k, v := range p.Attributes {
		vars[k] = v
	}

	decision, err := h.deps.Evaluator.Evaluate(ctx, p.Policy, vars)
	if err != nil {
		return handler.Result{}, handler.Permanent(err)
	}

	if decision == policy.Deny {
		h.deps.Logger.Info("offer declined by policy",
			slog.String("entity_id", e.ID.String()),
			slog.String("policy_id", p.Policy.ID),
		)
		p.DeclineReason = fmt.Sprintf("policy %s denied offer %s", p.Policy.ID, p.OfferID)
		return next(Declined, p)
	}
	return next(Requesting, p)
}

func (h *handlers) request(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	reply, err := message.Send(ctx, h.deps.Dispatcher, dispatcher.Message{
		Protocol:            p.Protocol,
		CounterpartyAddress: p.CounterpartyAddress,
		Type:                message.TypeContractRequest,
		ProcessID:           e.ID.String(),
	}, message.ContractRequest{
		ConsumerPID: e.ID.String(),
		OfferID:     p.OfferID,
		AssetID:     p.AssetID,
		Purpose:     p.Purpose,
	})
	if err != nil {
		return handler.Result{}, err
	}

	agreement, err := message.DecodeReply[message.ContractAgreement](message.TypeContractRequest, reply)
	if err != nil {
		return handler.Result{}, err
	}
	if agreement.AgreementID == "" {
		return handler.Result{}, handler.Permanent(fmt.Errorf("%s: reply carries no agreement id", message.TypeContractRequest))
	}

	p.ProviderPID = agreement.ProviderPID
	p.AgreementID = agreement.AgreementID
	return next(Agreed, p)
}

func (h *handlers) verify(ctx context.Context, e *entity.Entity, p Payload) (handler.Result, error) {
	_, err := message.Send(ctx, h.deps.Dispatcher, dispatcher.Message{
		Protocol:            p.Protocol,
		CounterpartyAddress: p.CounterpartyAddress,
		Type:                message.TypeContractAgreementVerification,
		ProcessID:           e.ID.String(),
	}, message.ContractAgreementVerification{
		ConsumerPID: e.ID.String(),
		ProviderPID: p.ProviderPID,
		AgreementID: p.AgreementID,
	})
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(Finalized, nil), nil
}

func next(state entity.State, p Payload) (handler.Result, error) {
	b, err := handler.Encode(p)
	if err != nil {
		return handler.Result{}, err
	}
	return handler.Transition(state, b), nil
}
