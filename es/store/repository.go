package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/witzbould/event-store/es"
)

// AggregateRepository loads aggregates by replaying their event history
// and persists new events with version metadata assigned for optimistic
// concurrency.
//
// A repository holds a relation to its EventStore, set at creation by
// EventStore.CreateRepository — not a global back-reference patched onto
// the aggregate, per spec §9.
type AggregateRepository struct {
	store         *EventStore
	streamName    string
	aggregateType string
	ctor          es.AggregateCtor
}

// currentVersion replays id's events far enough to count them, which is
// also the aggregate's current version (version = event count). This
// repository intentionally favors the spec's plain definition
// ("Version = count of events") over the teacher's O(1)
// aggregate_heads-table optimization; see DESIGN.md.
func (r *AggregateRepository) currentVersion(ctx context.Context, id string) (int64, es.Aggregate, error) {
	matcher := es.NewMetadataMatcher().WithMetadataMatch(es.MetadataAggregateID, es.OpEq, id)
	it, err := r.store.Load(ctx, r.streamName, 1, matcher)
	if err != nil {
		return 0, nil, err
	}
	defer it.Close()

	agg := r.ctor()
	agg.SetID(id)

	var count int64
	for {
		event, ok, nextErr := it.Next(ctx)
		if nextErr != nil {
			return 0, nil, nextErr
		}
		if !ok {
			break
		}
		if err := agg.ApplyEvent(event); err != nil {
			return 0, nil, fmt.Errorf("es: replay event %q: %w", event.Name, err)
		}
		count++
	}
	return count, agg, nil
}

// Load replays id's stream into a new aggregate instance and returns it,
// or (nil, nil) if no events exist for id.
func (r *AggregateRepository) Load(ctx context.Context, id string) (es.Aggregate, error) {
	count, agg, err := r.currentVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	return agg, nil
}

// Get is equal to Load but fails with ErrAggregateNotFound instead of
// returning nil.
func (r *AggregateRepository) Get(ctx context.Context, id string) (es.Aggregate, error) {
	agg, err := r.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, fmt.Errorf("%w: %s/%s", es.ErrAggregateNotFound, r.aggregateType, id)
	}
	return agg, nil
}

// Save drains aggregate's pending-events buffer, stamps each event with
// _aggregate_id, _aggregate_type, and a sequential _aggregate_version,
// and appends them to the repository's stream. On success the buffer is
// cleared.
func (r *AggregateRepository) Save(ctx context.Context, aggregate es.Aggregate) error {
	pending := aggregate.PendingEvents()
	if len(pending) == 0 {
		return nil
	}

	currentVersion, _, err := r.currentVersion(ctx, aggregate.ID())
	if err != nil {
		return fmt.Errorf("es: determine current version: %w", err)
	}

	events := make([]es.Event, len(pending))
	for i, event := range pending {
		events[i] = event.
			WithAggregateID(aggregate.ID()).
			WithAggregateType(r.aggregateType).
			WithVersion(currentVersion + int64(i) + 1)
	}

	if err := r.store.AppendTo(ctx, r.streamName, events); err != nil {
		if errors.Is(err, es.ErrConcurrency) {
			return err
		}
		return fmt.Errorf("es: save aggregate %s/%s: %w", r.aggregateType, aggregate.ID(), err)
	}

	aggregate.ClearPendingEvents()
	return nil
}
