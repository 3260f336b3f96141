// Package ext defines the extension system for the process engine.
//
// Extensions are notified of entity lifecycle events and can react to
// them: recording metrics, writing audit trails, emitting notifications.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnEntityFailed(ctx context.Context, en *entity.Entity, err error) error {
//	    log.Printf("%s %s failed: %v", en.Type, en.ID, err)
//	    return nil
//	}
//
// # Entity Lifecycle Hooks
//
//   - [EntityCreated]: entity was persisted in its initial state
//   - [EntityLeased]: a worker leased the entity and will run its handler
//   - [EntityTransitioned]: a handler result was persisted
//   - [EntityRetrying]: a handler failed and the entity was rescheduled
//   - [EntityFailed]: the entity was forced to its FAILED state
//   - [EntityAbandoned]: a result was discarded (conflict or shutdown)
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// Hook errors are logged and never change the engine's behavior. The
// [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
