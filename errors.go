package connector

import "errors"

var (
	// Lifecycle errors.
	ErrAlreadyRunning = errors.New("connector: process manager already running")
	ErrStopTimeout    = errors.New("connector: stop timed out, in-flight work abandoned")
	ErrNoStore        = errors.New("connector: no store configured")
	ErrInvalidConfig  = errors.New("connector: invalid configuration")

	// Store errors.
	ErrEntityNotFound  = errors.New("connector: entity not found")
	ErrEntityExists    = errors.New("connector: entity already exists")
	ErrVersionConflict = errors.New("connector: version conflict")

	// State machine errors.
	ErrInvalidTransition = errors.New("connector: invalid state transition")
	ErrNoHandler         = errors.New("connector: no handler registered for state")
	ErrInvalidDescriptor = errors.New("connector: invalid state machine descriptor")
	ErrUnknownType       = errors.New("connector: unknown entity type")
	ErrRetriesExhausted  = errors.New("connector: retries exhausted")

	// Collaborator errors.
	ErrDispatchRetryable = errors.New("connector: dispatch failed, retryable")
	ErrDispatchFatal     = errors.New("connector: dispatch failed, fatal")
	ErrPolicyDenied      = errors.New("connector: policy denied")
)
