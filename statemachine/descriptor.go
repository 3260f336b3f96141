// Package statemachine describes, per entity type, the declared states, the
// allowed transition edges, and the initial, terminal and FAILED states.
// Descriptors are built and validated once at startup and are immutable.
package statemachine

import (
	"errors"
	"fmt"
	"sort"

	connector "github.com/eclipse-edc/Connector-sub001"
	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Descriptor is the immutable state machine of one entity type.
type Descriptor struct {
	typ         entity.Type
	states      map[entity.State]struct{}
	transitions map[entity.State]map[entity.State]struct{}
	initial     entity.State
	terminals   map[entity.State]struct{}
	failed      entity.State
}

// Type returns the entity type the descriptor governs.
func (d *Descriptor) Type() entity.Type { return d.typ }

// Initial returns the state new entities are created in.
func (d *Descriptor) Initial() entity.State { return d.initial }

// Failed returns the designated terminal failure state.
func (d *Descriptor) Failed() entity.State { return d.failed }

// IsDeclared reports whether s is a member of the state set.
func (d *Descriptor) IsDeclared(s entity.State) bool {
	_, ok := d.states[s]
	return ok
}

// IsTerminal reports whether s is a terminal state.
func (d *Descriptor) IsTerminal(s entity.State) bool {
	_, ok := d.terminals[s]
	return ok
}

// CanTransition reports whether from → to is a declared edge.
func (d *Descriptor) CanTransition(from, to entity.State) bool {
	_, ok := d.transitions[from][to]
	return ok
}

// States returns all declared states, sorted.
func (d *Descriptor) States() []entity.State {
	return sortedStates(d.states)
}

// Terminals returns the terminal states, sorted.
func (d *Descriptor) Terminals() []entity.State {
	return sortedStates(d.terminals)
}

// NonTerminal returns the states the engine processes, sorted.
func (d *Descriptor) NonTerminal() []entity.State {
	out := make([]entity.State, 0, len(d.states))
	for _, s := range d.States() {
		if !d.IsTerminal(s) {
			out = append(out, s)
		}
	}
	return out
}

// Targets returns the declared successors of from, sorted.
func (d *Descriptor) Targets(from entity.State) []entity.State {
	return sortedStates(d.transitions[from])
}

// Validate checks the structural invariants: every edge connects declared
// states, every non-terminal state has an outgoing edge, terminal states
// have none, the initial state is declared and non-terminal, and the FAILED
// state is declared and terminal. All problems are reported together.
func (d *Descriptor) Validate() error {
	var errs []error

	if d.typ == "" {
		errs = append(errs, errors.New("entity type is empty"))
	}
	if len(d.states) == 0 {
		errs = append(errs, errors.New("no states declared"))
	}

	switch {
	case d.initial == "":
		errs = append(errs, errors.New("no initial state"))
	case !d.IsDeclared(d.initial):
		errs = append(errs, fmt.Errorf("initial state %q is not declared", d.initial))
	case d.IsTerminal(d.initial):
		errs = append(errs, fmt.Errorf("initial state %q is terminal", d.initial))
	}

	switch {
	case d.failed == "":
		errs = append(errs, errors.New("no FAILED state designated"))
	case !d.IsDeclared(d.failed):
		errs = append(errs, fmt.Errorf("failed state %q is not declared", d.failed))
	case !d.IsTerminal(d.failed):
		errs = append(errs, fmt.Errorf("failed state %q is not terminal", d.failed))
	}

	for _, s := range sortedStates(d.terminals) {
		if !d.IsDeclared(s) {
			errs = append(errs, fmt.Errorf("terminal state %q is not declared", s))
		}
		if len(d.transitions[s]) > 0 {
			errs = append(errs, fmt.Errorf("terminal state %q has outgoing transitions", s))
		}
	}

	froms := make(map[entity.State]struct{}, len(d.transitions))
	for from := range d.transitions {
		froms[from] = struct{}{}
	}
	for _, from := range sortedStates(froms) {
		if !d.IsDeclared(from) {
			errs = append(errs, fmt.Errorf("transition source %q is not declared", from))
		}
		for _, to := range d.Targets(from) {
			if !d.IsDeclared(to) {
				errs = append(errs, fmt.Errorf("transition %q -> %q targets an undeclared state", from, to))
			}
		}
	}

	for _, s := range d.NonTerminal() {
		if len(d.transitions[s]) == 0 {
			errs = append(errs, fmt.Errorf("non-terminal state %q has no outgoing transitions", s))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w %q: %w", connector.ErrInvalidDescriptor, d.typ, errors.Join(errs...))
}

func sortedStates(set map[entity.State]struct{}) []entity.State {
	out := make([]entity.State, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
