// Package entity defines the persisted business object the process engine
// drives, together with the store contract every backend implements.
package entity

import (
	"time"

	"github.com/eclipse-edc/Connector-sub001/id"
)

// Type is the entity kind. It selects the state machine and handlers.
type Type string

// State is a member of a type's declared state set.
type State string

// Entity is a long-lived business object advanced through a state machine.
//
// The lease is not a separate record: LeaseHolder and LeaseExpiry are
// fields on the entity and are written atomically with its version.
type Entity struct {
	ID             id.ID      `json:"id"`
	Type           Type       `json:"type"`
	State          State      `json:"state"`
	StateTimestamp time.Time  `json:"state_timestamp"`
	Version        int64      `json:"version"`
	LeaseHolder    string     `json:"lease_holder,omitempty"`
	LeaseExpiry    *time.Time `json:"lease_expiry,omitempty"`
	AttemptCount   int        `json:"attempt_count"`
	ErrorDetail    string     `json:"error_detail,omitempty"`
	Payload        []byte     `json:"payload,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// New builds an unsaved entity in the given state. The caller picks the
// initial state from the type's descriptor.
func New(entityID id.ID, typ Type, state State, payload []byte, now time.Time) *Entity {
	now = now.UTC()
	return &Entity{
		ID:             entityID,
		Type:           typ,
		State:          state,
		StateTimestamp: now,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// LeaseFree reports whether nobody holds an unexpired lease at now.
// A lease expiring exactly at now is already free.
func (e *Entity) LeaseFree(now time.Time) bool {
	if e.LeaseHolder == "" || e.LeaseExpiry == nil {
		return true
	}
	return !e.LeaseExpiry.After(now)
}

// Eligible reports whether the entity may be selected for processing at now:
// its lease is free and its state timestamp is not in the future.
func (e *Entity) Eligible(now time.Time) bool {
	return e.LeaseFree(now) && !e.StateTimestamp.After(now)
}

// ClearLease drops the lease fields.
func (e *Entity) ClearLease() {
	e.LeaseHolder = ""
	e.LeaseExpiry = nil
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	cp := *e
	if e.LeaseExpiry != nil {
		t := *e.LeaseExpiry
		cp.LeaseExpiry = &t
	}
	if e.Payload != nil {
		cp.Payload = append([]byte(nil), e.Payload...)
	}
	return &cp
}
