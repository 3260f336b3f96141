// Package mongo implements store.Store on MongoDB using mongo-driver/v2.
//
// Entities live in one collection keyed by ID. Lease acquisition and saves
// are conditional UpdateOne calls whose filter carries the expected version,
// so each compare-and-swap is a single atomic document update. Timestamps
// are stored as Unix nanoseconds.
//
//	s, err := mongo.Connect(ctx, "mongodb://localhost:27017", "connector")
//	if err != nil { ... }
//	defer s.Close()
//	if err := s.Migrate(ctx); err != nil { ... }
package mongo
