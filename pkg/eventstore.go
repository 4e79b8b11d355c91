// Package eventstore is the top-level entry point for this module.
//
// The engine itself lives in the es package and its subpackages:
//
//	es                   - core types: Event, Aggregate, PersistenceStrategy
//	es/store             - EventStore facade and AggregateRepository
//	es/projection        - Projector, ReadModelProjector, and Manager
//	es/adapters/postgres - PostgreSQL PersistenceStrategy
//	es/adapters/mysql    - MySQL/MariaDB PersistenceStrategy
//	es/adapters/sqlite   - SQLite PersistenceStrategy
//	es/adapters/redislock - distributed WriteLockStrategy
//	es/migrations        - SQL migration generation
//	es/eventmap          - code generation for domain event <-> es.Event
//
// Quick start:
//
//  1. Generate migrations:
//     go run github.com/witzbould/event-store/cmd/migrate-gen -output migrations
//
//  2. Build a store and append events:
//     eventStore := store.New(postgres.NewStore(db, postgres.DefaultStoreConfig()), nil)
//     err := eventStore.CreateStream(ctx, "orders")
//     err = eventStore.AppendTo(ctx, "orders", []es.Event{es.NewEvent("OrderPlaced", payload)})
//
//  3. Run a projector:
//     manager := projection.NewManager(eventStore, nil)
//     p := projection.NewProjector[OrderTotals](manager, "order-totals")
//     p.Init(func() OrderTotals { return OrderTotals{} })
//     p.FromStream("orders", nil)
//     p.When(map[string]projection.Handler[OrderTotals]{ ... })
//     err = p.Run(ctx, true)
package eventstore

// Version returns the current version of this module.
func Version() string {
	return "0.1.0-dev"
}
