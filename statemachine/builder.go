package statemachine

import "github.com/eclipse-edc/Connector-sub001/entity"

// Builder accumulates a descriptor definition.
//
//	d, err := statemachine.New("transfer").
//	    Initial("INITIAL").
//	    Transition("INITIAL", "REQUESTING").
//	    Transition("REQUESTING", "STARTED").
//	    Terminal("STARTED").
//	    Failed("FAILED").
//	    Build()
//
// States referenced by Initial, Transition, Terminal and Failed are declared
// implicitly; States declares extra ones explicitly.
type Builder struct {
	d *Descriptor
}

// New starts a descriptor for typ.
func New(typ entity.Type) *Builder {
	return &Builder{d: &Descriptor{
		typ:         typ,
		states:      make(map[entity.State]struct{}),
		transitions: make(map[entity.State]map[entity.State]struct{}),
		terminals:   make(map[entity.State]struct{}),
	}}
}

// States declares states.
func (b *Builder) States(states ...entity.State) *Builder {
	for _, s := range states {
		b.d.states[s] = struct{}{}
	}
	return b
}

// Initial sets the creation state.
func (b *Builder) Initial(s entity.State) *Builder {
	b.d.initial = s
	return b.States(s)
}

// Transition declares edges from → each of to.
func (b *Builder) Transition(from entity.State, to ...entity.State) *Builder {
	b.States(from)
	edges, ok := b.d.transitions[from]
	if !ok {
		edges = make(map[entity.State]struct{}, len(to))
		b.d.transitions[from] = edges
	}
	for _, s := range to {
		b.States(s)
		edges[s] = struct{}{}
	}
	return b
}

// Terminal marks states as terminal.
func (b *Builder) Terminal(states ...entity.State) *Builder {
	for _, s := range states {
		b.d.terminals[s] = struct{}{}
	}
	return b.States(states...)
}

// Failed designates the terminal failure state.
func (b *Builder) Failed(s entity.State) *Builder {
	b.d.failed = s
	return b.Terminal(s)
}

// Build validates and returns the descriptor. The builder must not be
// reused afterwards.
func (b *Builder) Build() (*Descriptor, error) {
	if err := b.d.Validate(); err != nil {
		return nil, err
	}
	return b.d, nil
}

// MustBuild is like Build but panics on an invalid definition. Use for
// package-level descriptors.
func (b *Builder) MustBuild() *Descriptor {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}
