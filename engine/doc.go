// The engine package sits above every subsystem package and below the
// application layer, so domain modules and the CLI depend on it while the
// subsystems stay free of each other.
//
// # Building an Engine
//
//	eng, err := engine.New(cfg, pgStore,
//	    engine.WithLogger(logger),
//	    engine.WithExtension(audit.New(recorder)),
//	    engine.WithMiddleware(myMiddleware),
//	)
//
// # Registering Processes
//
//	negotiation.Register(eng.Registry(), negotiation.Deps{...})
//	transfer.Register(eng.Registry(), transfer.Deps{...})
//
// # Creating Entities
//
//	e, _ := negotiation.New(payload, eng.Clock().Now())
//	err := eng.Create(ctx, e)
//
// # Options
//
//   - [WithLogger] sets the structured logger
//   - [WithClock] sets the clock (tests use clock.Fake)
//   - [WithExtension] registers a lifecycle extension
//   - [WithMiddleware] adds a middleware to the handler chain
//   - [WithStrategy] sets the retry backoff strategy
//   - [WithTracerProvider] sets the OpenTelemetry tracer provider
//   - [WithMeterProvider] sets the OpenTelemetry meter provider
package engine
