package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/witzbould/event-store/es"
)

// EventStore is the facade applications and projectors talk to. It owns
// the PersistenceStrategy exclusively and orchestrates the middleware
// chain, stream lifecycle, and aggregate repository construction.
//
// EventStore is safe for concurrent use; it delegates append/read
// concurrency safety to the PersistenceStrategy.
type EventStore struct {
	persistence es.PersistenceStrategy
	logger      es.Logger

	preAppend     []TransformFunc
	loaded        []TransformFunc
	appended      []ObserverFunc
	appendErrored []ObserverFunc
}

// New constructs an EventStore over the given persistence strategy. A nil
// logger defaults to es.NoOpLogger.
func New(persistence es.PersistenceStrategy, logger es.Logger) *EventStore {
	if logger == nil {
		logger = es.NoOpLogger{}
	}
	return &EventStore{persistence: persistence, logger: logger}
}

// Persistence returns the underlying PersistenceStrategy. Exposed so
// sibling packages (such as projection) can compose against it
// without EventStore importing them.
func (s *EventStore) Persistence() es.PersistenceStrategy { return s.persistence }

// Logger returns the configured logger.
func (s *EventStore) Logger() es.Logger { return s.logger }

// AddPreAppend registers a PRE_APPEND middleware. Runs in registration
// order; a returned error aborts the append.
func (s *EventStore) AddPreAppend(fn TransformFunc) { s.preAppend = append(s.preAppend, fn) }

// AddLoaded registers a LOADED middleware. Runs in registration order on
// every pull from Load/MergeAndLoad; a returned error aborts the pull.
func (s *EventStore) AddLoaded(fn TransformFunc) { s.loaded = append(s.loaded, fn) }

// AddAppended registers an APPENDED observer. Fires after a successful
// append; its error is logged, never propagated.
func (s *EventStore) AddAppended(fn ObserverFunc) { s.appended = append(s.appended, fn) }

// AddAppendErrored registers an APPEND_ERRORED observer. Fires after a
// failed append; its error is logged, never propagated.
func (s *EventStore) AddAppendErrored(fn ObserverFunc) {
	s.appendErrored = append(s.appendErrored, fn)
}

// Install creates the streams and projections tables. Idempotent: calling
// it N times has the same effect as calling it once.
func (s *EventStore) Install(ctx context.Context) error {
	if err := s.persistence.CreateEventStreamsTable(ctx); err != nil {
		return fmt.Errorf("es: install streams table: %w", err)
	}
	if err := s.persistence.CreateProjectionsTable(ctx); err != nil {
		return fmt.Errorf("es: install projections table: %w", err)
	}
	return nil
}

// CreateStream registers name and provisions its physical storage. This
// is a two-phase operation: register in the streams table, then create
// schema. If schema creation fails, the registration is rolled back
// (best-effort) and the schema error is returned to the caller.
//
// A duplicate registration is logged and swallowed (observed behavior,
// see spec §4.3/§9): callers that want to observe it should inspect
// ErrStreamAlreadyExists via errors.Is on their own AddStreamToStreamsTable
// call if they need strict semantics, but CreateStream itself stays
// idempotent so bootstrapping code doesn't need special-casing.
func (s *EventStore) CreateStream(ctx context.Context, name string) error {
	err := s.persistence.AddStreamToStreamsTable(ctx, name)
	if err != nil {
		if errors.Is(err, es.ErrStreamAlreadyExists) {
			s.logger.Info(ctx, "stream already registered, skipping", "stream", name)
			return nil
		}
		return fmt.Errorf("es: register stream %q: %w", name, err)
	}

	if err := s.persistence.CreateSchema(ctx, name); err != nil {
		s.logger.Error(ctx, "schema creation failed, rolling back registration", "stream", name, "error", err)
		if dropErr := s.persistence.DropSchema(ctx, name); dropErr != nil {
			s.logger.Error(ctx, "rollback of stream registration failed", "stream", name, "error", dropErr)
		}
		return fmt.Errorf("es: create schema for stream %q: %w", name, err)
	}
	return nil
}

// DeleteStream tears down a stream's physical storage. Deletion of an
// unknown stream returns ErrStreamNotFound but does not corrupt state.
func (s *EventStore) DeleteStream(ctx context.Context, name string) error {
	if err := s.persistence.DropSchema(ctx, name); err != nil {
		return fmt.Errorf("es: delete stream %q: %w", name, err)
	}
	return nil
}

// Streams returns every registered stream name.
func (s *EventStore) Streams(ctx context.Context) ([]string, error) {
	names, err := s.persistence.ListStreams(ctx)
	if err != nil {
		return nil, fmt.Errorf("es: list streams: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// AppendTo appends events to the named stream. A no-op for an empty
// batch. PRE_APPEND middleware runs sequentially per event (and may
// substitute it) before the batch reaches the PersistenceStrategy; on
// success APPENDED fires per event, on failure APPEND_ERRORED fires and
// the original error is returned.
func (s *EventStore) AppendTo(ctx context.Context, name string, events []es.Event) error {
	if len(events) == 0 {
		return nil
	}

	transformed := make([]es.Event, len(events))
	for i, event := range events {
		var err error
		for _, fn := range s.preAppend {
			event, err = fn(ctx, event)
			if err != nil {
				return fmt.Errorf("es: pre-append middleware: %w", err)
			}
		}
		transformed[i] = event
	}

	appended, err := s.persistence.AppendTo(ctx, name, transformed)
	if err != nil {
		s.fireObservers(ctx, s.appendErrored, transformed, err)
		return err
	}
	s.fireObservers(ctx, s.appended, appended, nil)
	return nil
}

func (s *EventStore) fireObservers(ctx context.Context, observers []ObserverFunc, events []es.Event, cause error) {
	for _, event := range events {
		for _, fn := range observers {
			if obsErr := fn(ctx, event, cause); obsErr != nil {
				s.logger.Error(ctx, "observer middleware failed", "error", obsErr)
			}
		}
	}
}

// Load returns an iterator over name's events starting at fromNumber
// (1-indexed), filtered by matcher (nil matches all), with every yielded
// event piped through LOADED middleware in registration order.
func (s *EventStore) Load(ctx context.Context, name string, fromNumber int64, matcher *es.MetadataMatcher) (es.EventIterator, error) {
	if fromNumber < 1 {
		fromNumber = 1
	}
	it, err := s.persistence.Load(ctx, name, fromNumber, matcher)
	if err != nil {
		return nil, fmt.Errorf("es: load stream %q: %w", name, err)
	}
	return NewMiddlewareIterator(it, s.loaded), nil
}

// MergeAndLoad returns the time-ordered merge of the given streams'
// filtered iterations, wrapped with LOADED middleware the same way Load
// is.
func (s *EventStore) MergeAndLoad(ctx context.Context, streams ...es.StreamPosition) (es.EventIterator, error) {
	it, err := s.persistence.MergeAndLoad(ctx, streams)
	if err != nil {
		return nil, fmt.Errorf("es: merge and load: %w", err)
	}
	return NewMiddlewareIterator(it, s.loaded), nil
}

// CreateRepository returns a new AggregateRepository bound to this store.
// The store keeps no registry of repositories: repeated calls for the same
// stream/aggregate type each return an independent repository value, and
// no earlier binding is replaced or looked up, matching the teacher's "no
// inheritance, plain composition" style.
func (s *EventStore) CreateRepository(streamName, aggregateType string, ctor es.AggregateCtor) *AggregateRepository {
	return &AggregateRepository{
		store:         s,
		streamName:    streamName,
		aggregateType: aggregateType,
		ctor:          ctor,
	}
}
