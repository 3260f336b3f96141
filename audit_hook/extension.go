package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/eclipse-edc/Connector-sub001/entity"
	"github.com/eclipse-edc/Connector-sub001/ext"
)

var (
	_ ext.Extension          = (*Extension)(nil)
	_ ext.EntityCreated      = (*Extension)(nil)
	_ ext.EntityLeased       = (*Extension)(nil)
	_ ext.EntityTransitioned = (*Extension)(nil)
	_ ext.EntityRetrying     = (*Extension)(nil)
	_ ext.EntityFailed       = (*Extension)(nil)
	_ ext.EntityAbandoned    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit trail entry.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// LogRecorder writes audit events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder returns a Recorder that logs every event under the
// "audit" group.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

// Record implements Recorder.
func (r *LogRecorder) Record(ctx context.Context, evt *AuditEvent) error {
	level := slog.LevelInfo
	switch evt.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}

	attrs := []any{
		"action", evt.Action,
		"resource", evt.Resource,
		"resource_id", evt.ResourceID,
		"outcome", evt.Outcome,
	}
	if evt.Reason != "" {
		attrs = append(attrs, "reason", evt.Reason)
	}
	for k, v := range evt.Metadata {
		attrs = append(attrs, k, v)
	}
	r.logger.Log(ctx, level, "audit", slog.Group("audit", attrs...))
	return nil
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges entity lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool      // nil records every action
	types    map[entity.Type]bool // nil records every type
	static   map[string]any
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnEntityCreated implements ext.EntityCreated.
func (e *Extension) OnEntityCreated(ctx context.Context, en *entity.Entity) error {
	return e.record(ctx, ActionEntityCreated, SeverityInfo, OutcomeSuccess, en, "",
		"state", string(en.State),
	)
}

// OnEntityLeased implements ext.EntityLeased.
func (e *Extension) OnEntityLeased(ctx context.Context, en *entity.Entity) error {
	return e.record(ctx, ActionEntityLeased, SeverityInfo, OutcomeSuccess, en, "",
		"state", string(en.State),
		"holder", en.LeaseHolder,
		"version", en.Version,
	)
}

// OnEntityTransitioned implements ext.EntityTransitioned.
func (e *Extension) OnEntityTransitioned(ctx context.Context, en *entity.Entity, from entity.State, elapsed time.Duration) error {
	return e.record(ctx, ActionEntityTransitioned, SeverityInfo, OutcomeSuccess, en, "",
		"from", string(from),
		"to", string(en.State),
		"version", en.Version,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnEntityRetrying implements ext.EntityRetrying.
func (e *Extension) OnEntityRetrying(ctx context.Context, en *entity.Entity, attempt int, nextEligibleAt time.Time, cause error) error {
	var reason string
	if cause != nil {
		reason = cause.Error()
	}
	return e.record(ctx, ActionEntityRetrying, SeverityWarning, OutcomeFailure, en, reason,
		"state", string(en.State),
		"attempt", attempt,
		"next_eligible_at", nextEligibleAt.Format(time.RFC3339),
		"error", reason,
	)
}

// OnEntityFailed implements ext.EntityFailed.
func (e *Extension) OnEntityFailed(ctx context.Context, en *entity.Entity, cause error) error {
	var reason string
	if cause != nil {
		reason = cause.Error()
	}
	return e.record(ctx, ActionEntityFailed, SeverityCritical, OutcomeFailure, en, reason,
		"state", string(en.State),
		"attempt_count", en.AttemptCount,
		"error", reason,
	)
}

// OnEntityAbandoned implements ext.EntityAbandoned.
func (e *Extension) OnEntityAbandoned(ctx context.Context, en *entity.Entity, reason string) error {
	return e.record(ctx, ActionEntityAbandoned, SeverityWarning, OutcomeFailure, en, reason,
		"state", string(en.State),
	)
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	en *entity.Entity,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}
	if e.types != nil && !e.types[en.Type] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+len(e.static))
	for k, v := range e.static {
		meta[k] = v
	}
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	return e.send(ctx, &AuditEvent{
		Action:     action,
		Resource:   string(en.Type),
		Category:   CategoryEntity,
		ResourceID: en.ID.String(),
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	})
}

// send hands evt to the recorder. Recorder failures are logged, never
// returned, so auditing cannot stall processing.
func (e *Extension) send(ctx context.Context, evt *AuditEvent) error {
	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", evt.Action,
			"resource_id", evt.ResourceID,
			"error", recErr,
		)
	}
	return nil
}
