// Package es provides core event sourcing infrastructure.
//
// # Overview
//
// This package defines the fundamental types and interfaces for event
// sourcing:
//   - Event: an immutable domain event envelope
//   - MetadataMatcher: a conjunctive predicate over event metadata/payload
//   - Aggregate: the replay contract for consistency-boundary state
//   - Logger: a minimal structured-logging seam
//
// The storage and projection runtime live in the store and projection
// sub-packages; this package only carries the value types and contracts
// those packages share.
//
// # Design Philosophy
//
// Clean Architecture: core interfaces are storage-agnostic. Infrastructure
// concerns (SQLite, Postgres, MySQL, Redis) are isolated in adapter
// packages under es/adapters.
//
// Immutability: events are value objects. Builder methods (WithVersion,
// WithAggregateType, WithMetadata, WithNo) return a modified copy; they
// never mutate the receiver.
//
// # Quick Start
//
//	persistence, _ := sqlite.Open("events.db", sqlite.DefaultStoreConfig())
//	eventStore := store.New(persistence, nil)
//	eventStore.Install(ctx)
//	eventStore.CreateStream(ctx, "orders")
//	eventStore.AppendTo(ctx, "orders", []es.Event{es.NewEvent("OrderPlaced", payload)})
package es
