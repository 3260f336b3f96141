package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/handler"
)

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_dispatcher.go -package=mocks . Dispatcher

// Message is one protocol message addressed to a counterparty.
type Message struct {
	Protocol            string          `json:"protocol"`
	CounterpartyAddress string          `json:"counterpartyAddress"`
	Type                string          `json:"type"`
	ProcessID           string          `json:"processId"`
	Payload             json.RawMessage `json:"payload,omitempty"`
}

// Kind classifies a send attempt.
type Kind int

const (
	// Success means the counterparty accepted the message.
	Success Kind = iota
	// RetryableFailure means the message may succeed if sent again later.
	RetryableFailure
	// FatalFailure means sending the same message again cannot succeed.
	FatalFailure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome is the classified result of a send.
type Outcome struct {
	Kind   Kind
	Reason string
	// Reply is the counterparty's response body, set on success.
	Reply json.RawMessage
}

// Succeeded returns a successful outcome carrying reply.
func Succeeded(reply json.RawMessage) Outcome {
	return Outcome{Kind: Success, Reply: reply}
}

// Retryable returns a retryable failure.
func Retryable(reason string) Outcome {
	return Outcome{Kind: RetryableFailure, Reason: reason}
}

// Fatal returns a fatal failure.
func Fatal(reason string) Outcome {
	return Outcome{Kind: FatalFailure, Reason: reason}
}

// OK reports whether the send succeeded.
func (o Outcome) OK() bool { return o.Kind == Success }

// Err converts the outcome into a handler error. Fatal failures are marked
// permanent so the engine fails the entity without retrying.
func (o Outcome) Err() error {
	switch o.Kind {
	case Success:
		return nil
	case FatalFailure:
		return handler.Permanent(fmt.Errorf("%w: %s", connector.ErrDispatchFatal, o.Reason))
	default:
		return fmt.Errorf("%w: %s", connector.ErrDispatchRetryable, o.Reason)
	}
}

// Dispatcher sends a message and classifies the result. Implementations
// must honor ctx cancellation and report it as a retryable failure.
type Dispatcher interface {
	Send(ctx context.Context, msg Message) Outcome
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, msg Message) Outcome

// Send calls f.
func (f Func) Send(ctx context.Context, msg Message) Outcome { return f(ctx, msg) }

// Registry routes messages by protocol. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	byProtocol map[string]Dispatcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byProtocol: make(map[string]Dispatcher)}
}

// Register binds protocol to d, replacing any previous binding.
func (r *Registry) Register(protocol string, d Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byProtocol[protocol] = d
}

// Protocols returns the registered protocols in sorted order.
func (r *Registry) Protocols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byProtocol))
	for p := range r.byProtocol {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Send routes msg to the dispatcher for msg.Protocol. A message for an
// unknown protocol is a fatal failure.
func (r *Registry) Send(ctx context.Context, msg Message) Outcome {
	r.mu.RLock()
	d, ok := r.byProtocol[msg.Protocol]
	r.mu.RUnlock()
	if !ok {
		return Fatal(fmt.Sprintf("no dispatcher registered for protocol %q", msg.Protocol))
	}
	return d.Send(ctx, msg)
}
