// Package sqlite implements store.Store on SQLite through the pure-Go
// modernc.org/sqlite driver. Suitable for single-node deployments, edge
// connectors and tests.
//
// Timestamps are stored as Unix nanoseconds, so values round-trip exactly.
// Every compare-and-swap is a single conditional UPDATE.
//
//	s, err := sqlite.Open(ctx, "connector.db")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package sqlite
