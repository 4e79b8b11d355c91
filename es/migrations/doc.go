// Package migrations provides SQL migration generation.
//
// To generate migrations, use the migrate-gen command:
//
//	go run github.com/witzbould/event-store/cmd/migrate-gen -output migrations
//
// Or add a go generate directive to your code:
//
//	//go:generate go run github.com/witzbould/event-store/cmd/migrate-gen -output ../../migrations
//
// Then run:
//
//	go generate ./...
//
// The generated migration only covers the two fixed tables (the stream
// registry and the projection records) — per-stream event tables are
// created dynamically by PersistenceStrategy.CreateSchema when a stream
// is first registered, since their name and count are not known ahead of
// time.
package migrations

//go:generate go run ../../cmd/migrate-gen -output example_migrations -filename example.sql
