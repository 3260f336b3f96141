package audithook

import (
	"log/slog"

	"github.com/eclipse-edc/Connector-sub001/entity"
)

// Option configures an Extension.
type Option func(*Extension)

// WithActions records only the listed actions. Unknown names match
// nothing. Without this option every action is recorded.
//
//	audithook.New(recorder,
//	    audithook.WithActions(audithook.ActionEntityTransitioned, audithook.ActionEntityFailed),
//	)
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}

// WithEntityTypes records events only for the listed entity types.
func WithEntityTypes(types ...entity.Type) Option {
	return func(e *Extension) {
		e.types = make(map[entity.Type]bool, len(types))
		for _, t := range types {
			e.types[t] = true
		}
	}
}

// WithMetadata adds a fixed key to every event's Metadata, e.g. the
// participant ID of the connector. Per-event keys win on collision.
func WithMetadata(key string, value any) Option {
	return func(e *Extension) {
		if e.static == nil {
			e.static = make(map[string]any)
		}
		e.static[key] = value
	}
}

// WithLogger sets the logger used to report recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}
