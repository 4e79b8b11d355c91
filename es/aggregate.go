package es

// Aggregate is the contract application domain types implement so that an
// AggregateRepository can replay their event history and persist new
// events on their behalf.
//
// The engine never calls side-effectful methods on an Aggregate during
// replay: ApplyEvent must be a pure state mutation keyed by event name,
// with no I/O and no further event emission.
type Aggregate interface {
	// ID returns the aggregate's identity. Zero value ("") before SetID
	// has been called.
	ID() string

	// SetID assigns the aggregate's identity. Called once by the
	// repository, either right after construction (before replay) or by
	// application code when creating a brand-new aggregate.
	SetID(id string)

	// ApplyEvent mutates the aggregate's state in response to a single
	// historical or pending event. Unknown event names should be ignored,
	// not treated as an error, so that aggregates tolerate events they
	// don't care about within a shared stream.
	ApplyEvent(event Event) error

	// PendingEvents returns events recorded by business methods since the
	// last Save, in the order they should be appended.
	PendingEvents() []Event

	// ClearPendingEvents drains the pending-events buffer. Called by the
	// repository after a successful Save.
	ClearPendingEvents()
}

// AggregateBase is an embeddable helper implementing the pending-events
// half of the Aggregate contract, the part that is identical across
// nearly every concrete aggregate. Embedders still implement ID, SetID,
// and ApplyEvent themselves.
type AggregateBase struct {
	id      string
	pending []Event
}

// ID implements part of Aggregate.
func (b *AggregateBase) ID() string { return b.id }

// SetID implements part of Aggregate.
func (b *AggregateBase) SetID(id string) { b.id = id }

// Record appends an event to the pending-events buffer. Business methods
// call this instead of mutating state directly or emitting it themselves;
// the repository is responsible for assigning version metadata and
// appending to the event store.
func (b *AggregateBase) Record(event Event) {
	b.pending = append(b.pending, event)
}

// PendingEvents implements part of Aggregate.
func (b *AggregateBase) PendingEvents() []Event {
	out := make([]Event, len(b.pending))
	copy(out, b.pending)
	return out
}

// ClearPendingEvents implements part of Aggregate.
func (b *AggregateBase) ClearPendingEvents() {
	b.pending = nil
}

// AggregateCtor constructs a new, zero-value instance of a concrete
// aggregate type. Passed to EventStore.CreateRepository, which calls it
// before each replay.
type AggregateCtor func() Aggregate
