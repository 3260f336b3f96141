// Package stream provides a real-time broker for entity lifecycle events.
// It bridges the ext.Extension system to in-process consumers via
// topic-based pub/sub with credit-based flow control.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	EventEntityCreated      EventType = "entity.created"
	EventEntityLeased       EventType = "entity.leased"
	EventEntityTransitioned EventType = "entity.transitioned"
	EventEntityRetrying     EventType = "entity.retrying"
	EventEntityFailed       EventType = "entity.failed"
	EventEntityAbandoned    EventType = "entity.abandoned"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the per-entity channel this event was published on.
	Topic string `json:"topic"`

	// EntityType is the kind of entity the event concerns. It routes the
	// event to the matching type topic.
	EntityType string `json:"entity_type"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// EntityEventData is the payload for entity lifecycle events.
type EntityEventData struct {
	EntityID       string `json:"entity_id"`
	EntityType     string `json:"entity_type"`
	State          string `json:"state"`
	From           string `json:"from,omitempty"`
	Version        int64  `json:"version"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Attempt        int    `json:"attempt,omitempty"`
	NextEligibleAt string `json:"next_eligible_at,omitempty"`
	LeaseHolder    string `json:"lease_holder,omitempty"`
	Error          string `json:"error,omitempty"`
	Reason         string `json:"reason,omitempty"`
}
