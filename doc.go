// Package connector is the control plane core of a dataspace connector: an
// entity process engine that drives long-lived negotiations, transfers, and
// policy monitors through declared state machines.
//
// Many engine instances may run against one shared store. Coordination
// happens only through the store's atomic primitives: a compare-and-swap
// lease acquisition and an optimistic, version-checked save. There is no
// leader and no lock service. A crashed instance's leases simply expire.
//
// # Quick Start
//
//	eng, err := engine.New(connector.DefaultConfig(), memory.New())
//	negotiation.Register(eng.Registry(), negotiation.Deps{...})
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// # Architecture
//
// The root package holds configuration and sentinel errors. The state
// machine model lives in statemachine and handler, persistence in entity
// and store, and the scheduling loop in worker. Concrete connector
// processes (negotiation, transfer, policymonitor) are ordinary
// registrations on top of the engine.
//
// All entity IDs are prefix-qualified UUIDv7 values (see package id).
package connector
