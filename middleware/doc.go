// Package middleware provides composable middleware for state handler
// execution.
//
// A [Middleware] is a function that wraps a state handler. Middleware are
// composed into a chain using [Chain] and applied around every handler
// invocation. They are applied right-to-left: the first middleware in the
// slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs entity, state, duration and outcome of each execution
//   - [Recover]: catches panics and converts them to retryable errors
//   - [Timeout]: bounds each handler invocation with a deadline
//   - [Tracing]: wraps execution in an OpenTelemetry span
//   - [Metrics]: records per-state duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, e *entity.Entity, next middleware.Handler) (handler.Result, error) {
//	        // pre-processing
//	        res, err := next(ctx)
//	        // post-processing
//	        return res, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting. The entity is the worker's private copy; middleware
// must not mutate it.
package middleware
