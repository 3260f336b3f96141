// Package audithook is a connector extension that bridges entity lifecycle
// events to an audit trail backend.
//
// Every entity hook emits a structured audit event through the [Recorder]
// interface. The event's Resource is the entity type and its ResourceID the
// entity ID. Severity is info for normal progress, warning for retries and
// abandoned results, and critical for entities forced to FAILED.
//
// # Logging recorder
//
// [LogRecorder] writes each event as one structured log line, which is what
// the connector binary wires by default:
//
//	audithook.New(audithook.NewLogRecorder(logger))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionEntityFailed,
//	        audithook.ActionEntityAbandoned,
//	    ),
//	)
package audithook
