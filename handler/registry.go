package handler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/statemachine"
)

// Registry maps entity types to their descriptor and their per-state
// handlers. It is safe for concurrent use.
//
// Registration never fails; problems (duplicates, handlers for undeclared or
// terminal states) are recorded and reported by Validate, so a bad boot
// surfaces every mistake at once.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[entity.Type]*statemachine.Descriptor
	handlers    map[entity.Type]map[entity.State]Func
	problems    []error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		descriptors: make(map[entity.Type]*statemachine.Descriptor),
		handlers:    make(map[entity.Type]map[entity.State]Func),
	}
}

// Describe registers the state machine for an entity type.
func (r *Registry) Describe(d *statemachine.Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.descriptors[d.Type()]; dup {
		r.problems = append(r.problems, fmt.Errorf("type %q described twice", d.Type()))
		return
	}
	r.descriptors[d.Type()] = d
}

// Register sets the handler for one state of an entity type.
func (r *Registry) Register(typ entity.Type, state entity.State, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn == nil {
		r.problems = append(r.problems, fmt.Errorf("type %q state %q: nil handler", typ, state))
		return
	}
	states, ok := r.handlers[typ]
	if !ok {
		states = make(map[entity.State]Func)
		r.handlers[typ] = states
	}
	if _, dup := states[state]; dup {
		r.problems = append(r.problems, fmt.Errorf("type %q state %q: handler registered twice", typ, state))
		return
	}
	states[state] = fn
}

// Descriptor returns the state machine for typ.
func (r *Registry) Descriptor(typ entity.Type) (*statemachine.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[typ]
	return d, ok
}

// Lookup returns the handler for typ in state.
func (r *Registry) Lookup(typ entity.Type, state entity.State) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[typ][state]
	return fn, ok
}

// Types returns every described entity type, sorted.
func (r *Registry) Types() []entity.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]entity.Type, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Validate checks every type exhaustively: the descriptor itself is valid,
// every non-terminal state has a handler, and no handler is registered for
// an undeclared or terminal state or for an undescribed type.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	errs := append([]error(nil), r.problems...)

	if len(r.descriptors) == 0 {
		errs = append(errs, errors.New("no entity types registered"))
	}

	types := make([]entity.Type, 0, len(r.descriptors))
	for t := range r.descriptors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, typ := range types {
		d := r.descriptors[typ]
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
		handlers := r.handlers[typ]
		for _, s := range d.NonTerminal() {
			if _, ok := handlers[s]; !ok {
				errs = append(errs, fmt.Errorf("%w: type %q state %q", connector.ErrNoHandler, typ, s))
			}
		}
		for s := range handlers {
			switch {
			case !d.IsDeclared(s):
				errs = append(errs, fmt.Errorf("type %q: handler for undeclared state %q", typ, s))
			case d.IsTerminal(s):
				errs = append(errs, fmt.Errorf("type %q: handler for terminal state %q", typ, s))
			}
		}
	}

	for typ := range r.handlers {
		if _, ok := r.descriptors[typ]; !ok {
			errs = append(errs, fmt.Errorf("%w: handlers registered for undescribed type %q", connector.ErrUnknownType, typ))
		}
	}

	return errors.Join(errs...)
}
