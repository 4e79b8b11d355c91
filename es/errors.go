package es

import "errors"

// Error kinds surfaced by the event store, aggregate repository, and
// projection runtime. Kept as sentinel values so callers can use
// errors.Is/errors.As the way the rest of the corpus does, rather than
// inspecting error strings.
var (
	// ErrStreamAlreadyExists indicates a duplicate stream registration.
	// CreateStream logs and swallows this at the facade level to keep
	// bootstrapping idempotent (see EventStore.CreateStream), but adapters
	// and lower-level callers that want to observe it still get it back.
	ErrStreamAlreadyExists = errors.New("es: stream already exists")

	// ErrStreamNotFound indicates an operation referenced an unknown
	// stream.
	ErrStreamNotFound = errors.New("es: stream not found")

	// ErrConcurrency indicates a duplicate (aggregate_id, aggregate_version)
	// was rejected on append.
	ErrConcurrency = errors.New("es: optimistic concurrency conflict")

	// ErrNoEvents indicates an append call with zero events.
	ErrNoEvents = errors.New("es: no events to append")

	// ErrProjectionNotFound indicates GetProjector/GetReadModelProjector
	// was called with an unregistered name.
	ErrProjectionNotFound = errors.New("es: projection not found")

	// ErrAggregateNotFound indicates AggregateRepository.Get found no
	// events for the requested aggregate id.
	ErrAggregateNotFound = errors.New("es: aggregate not found")

	// ErrAlreadyInitialized indicates Projector.Init was called twice.
	ErrAlreadyInitialized = errors.New("es: projector already initialized")

	// ErrFromAlreadyCalled indicates more than one of FromAll/FromStream/
	// FromStreams was called during build.
	ErrFromAlreadyCalled = errors.New("es: from* already called")

	// ErrWhenAlreadyCalled indicates more than one of When/WhenAny was
	// called during build.
	ErrWhenAlreadyCalled = errors.New("es: when/whenAny already called")

	// ErrNoHandler indicates Run was called without When or WhenAny
	// having been set.
	ErrNoHandler = errors.New("es: no handler registered")

	// ErrStateNotInitialised indicates Run was called before Init.
	ErrStateNotInitialised = errors.New("es: projector state not initialised")

	// ErrLockHeld indicates a WriteLockStrategy.CreateLock call found the
	// named lock already held by another owner.
	ErrLockHeld = errors.New("es: lock already held")
)
