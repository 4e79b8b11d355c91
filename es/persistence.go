package es

import "context"

// Status is the lifecycle state of a projection record.
type Status string

// Projection statuses, per the projector state machine.
const (
	StatusIdle                      Status = "IDLE"
	StatusRunning                   Status = "RUNNING"
	StatusStopping                  Status = "STOPPING"
	StatusDeleting                  Status = "DELETING"
	StatusDeletingInclEmittedEvents Status = "DELETING_INCL_EMITTED_EVENTS"
	StatusResetting                 Status = "RESETTING"
)

// ProjectionRecord is the durable (state, positions, status) triple a
// projector checkpoints between runs.
type ProjectionRecord struct {
	// State is opaque user state, JSON-encoded. May be nil/empty.
	State []byte

	// Positions maps stream name to the last-processed No (inclusive).
	Positions map[string]int64

	// Status is the current lifecycle state.
	Status Status

	// LockedUntil and LockOwner are optional lease fields used by
	// WriteLockStrategy implementations that piggyback on this record
	// rather than an external lock store.
	LockedUntil int64
	LockOwner   string
}

// Clone returns a deep copy of the record so handlers can't alias a
// caller's Positions map.
func (r ProjectionRecord) Clone() ProjectionRecord {
	out := r
	if r.State != nil {
		out.State = append([]byte(nil), r.State...)
	}
	if r.Positions != nil {
		out.Positions = make(map[string]int64, len(r.Positions))
		for k, v := range r.Positions {
			out.Positions[k] = v
		}
	}
	return out
}

// StreamPosition pairs a stream name with the position to resume reading
// from (the next No to deliver) and an optional matcher.
type StreamPosition struct {
	Stream     string
	FromNumber int64
	Matcher    *MetadataMatcher
}

// EventIterator is a lazy, forward-only, single-pass sequence of events.
// Implementations never buffer more than one event ahead of the last Next
// call.
type EventIterator interface {
	// Next advances to and returns the next event. The second return
	// value is false when the sequence is exhausted; err is non-nil only
	// on a read failure.
	Next(ctx context.Context) (Event, bool, error)

	// Close releases any resources (e.g. open rows) held by the
	// iterator. Safe to call multiple times.
	Close() error
}

// PersistenceStrategy is the pluggable back-end the engine consumes. See
// es/adapters/{sqlite,postgres,mysql} for concrete implementations.
type PersistenceStrategy interface {
	// CreateEventStreamsTable creates the stream registry table.
	// Idempotent.
	CreateEventStreamsTable(ctx context.Context) error

	// CreateProjectionsTable creates the projection-records table.
	// Idempotent.
	CreateProjectionsTable(ctx context.Context) error

	// AddStreamToStreamsTable registers name in the streams table.
	// Returns ErrStreamAlreadyExists if name is a duplicate.
	AddStreamToStreamsTable(ctx context.Context, name string) error

	// CreateSchema provisions per-stream physical storage for name.
	CreateSchema(ctx context.Context, name string) error

	// DropSchema tears down per-stream physical storage for name.
	// Returns ErrStreamNotFound if name was never created.
	DropSchema(ctx context.Context, name string) error

	// ListStreams returns every registered stream name.
	ListStreams(ctx context.Context) ([]string, error)

	// AppendTo atomically appends events to the named stream, assigning
	// contiguous No values starting at max(No)+1. Returns the appended
	// events with No (and, where set, AggregateVersion uniqueness
	// already enforced) populated. Returns ErrConcurrency on a duplicate
	// (aggregate_type, aggregate_id, aggregate_version) within the
	// stream.
	AppendTo(ctx context.Context, name string, events []Event) ([]Event, error)

	// Load returns a lazy, ascending-No iterator over name's events
	// starting at fromNumber, filtered by matcher (nil matches all).
	Load(ctx context.Context, name string, fromNumber int64, matcher *MetadataMatcher) (EventIterator, error)

	// MergeAndLoad returns a lazy iterator that is the time-ordered merge
	// of the given streams' filtered iterations, ordered by
	// (CreatedAt, No) ascending, stable by declaration order on ties.
	// Each yielded event carries its source stream name in
	// Metadata[MetadataStream].
	MergeAndLoad(ctx context.Context, streams []StreamPosition) (EventIterator, error)

	// LoadProjection returns the persisted record for name, or nil if
	// none exists yet.
	LoadProjection(ctx context.Context, name string) (*ProjectionRecord, error)

	// SaveProjection upserts the record for name.
	SaveProjection(ctx context.Context, name string, record ProjectionRecord) error

	// DeleteProjection removes the record for name. Not an error if
	// absent.
	DeleteProjection(ctx context.Context, name string) error
}

// WriteLockStrategy is a named advisory lock used by ProjectionManager to
// serialize concurrent runs of the same projection.
type WriteLockStrategy interface {
	// CreateLock attempts to acquire the named lock. Returns false
	// (not an error) if the lock is already held.
	CreateLock(ctx context.Context, name string) (bool, error)

	// ReleaseLock releases the named lock. Returns false if the caller
	// did not hold it.
	ReleaseLock(ctx context.Context, name string) (bool, error)
}
