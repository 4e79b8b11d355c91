package es

import (
	"time"

	"github.com/google/uuid"
)

// Reserved metadata labels. Applications may set arbitrary additional
// labels, but these three (plus MetadataStream, which the engine populates
// on load) carry engine-recognized meaning.
const (
	MetadataAggregateID      = "_aggregate_id"
	MetadataAggregateType    = "_aggregate_type"
	MetadataAggregateVersion = "_aggregate_version"

	// MetadataStream is populated by the persistence strategy during
	// Load/MergeAndLoad; it names the stream an event was read from.
	MetadataStream = "stream"
)

// Event represents an immutable domain event.
//
// Events are value objects without identity until appended. No is assigned
// by the store, not the producer: it is the event's position within its
// stream, strictly increasing and dense starting at 1.
type Event struct {
	// No is the monotonic, per-stream sequence number assigned at append.
	// Zero until the event has been persisted.
	No int64

	// UUID is a globally unique identifier for the event, caller-supplied
	// or generated at construction.
	UUID uuid.UUID

	// Name identifies the event type for dispatch (e.g. "OrderPlaced").
	Name string

	// Payload is opaque, application-defined event data.
	Payload []byte

	// Metadata carries reserved labels (see Metadata* constants) plus
	// arbitrary user labels. Never mutate a Metadata map obtained from an
	// Event directly; use the With* builders instead.
	Metadata map[string]interface{}

	// CreatedAt is the logical timestamp used to order events across
	// streams during a merge and, within one stream, alongside No.
	CreatedAt time.Time
}

// NewEvent constructs an event with a fresh UUID, the given name and
// payload, and an empty metadata map.
func NewEvent(name string, payload []byte) Event {
	return Event{
		UUID:      uuid.New(),
		Name:      name,
		Payload:   payload,
		Metadata:  map[string]interface{}{},
		CreatedAt: time.Now().UTC(),
	}
}

// cloneMetadata returns a shallow copy of the event's metadata map so that
// builder methods never let two Events share the same backing map.
func cloneMetadata(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// WithVersion returns a copy of the event with _aggregate_version set.
func (e Event) WithVersion(version int64) Event {
	e.Metadata = cloneMetadata(e.Metadata)
	e.Metadata[MetadataAggregateVersion] = version
	return e
}

// WithAggregateType returns a copy of the event with _aggregate_type set.
func (e Event) WithAggregateType(aggregateType string) Event {
	e.Metadata = cloneMetadata(e.Metadata)
	e.Metadata[MetadataAggregateType] = aggregateType
	return e
}

// WithAggregateID returns a copy of the event with _aggregate_id set.
func (e Event) WithAggregateID(aggregateID string) Event {
	e.Metadata = cloneMetadata(e.Metadata)
	e.Metadata[MetadataAggregateID] = aggregateID
	return e
}

// WithMetadata returns a copy of the event with the given metadata key set
// to value. Setting a reserved key is allowed but discouraged; prefer the
// dedicated builders for reserved labels.
func (e Event) WithMetadata(key string, value interface{}) Event {
	e.Metadata = cloneMetadata(e.Metadata)
	e.Metadata[key] = value
	return e
}

// WithNo returns a copy of the event with No set. Only the store should
// call this; application code should treat No as read-only.
func (e Event) WithNo(no int64) Event {
	e.No = no
	return e
}

// AggregateID returns the event's _aggregate_id metadata label, or "" if
// absent or not a string.
func (e Event) AggregateID() string {
	return stringMeta(e.Metadata, MetadataAggregateID)
}

// AggregateType returns the event's _aggregate_type metadata label, or ""
// if absent or not a string.
func (e Event) AggregateType() string {
	return stringMeta(e.Metadata, MetadataAggregateType)
}

// AggregateVersion returns the event's _aggregate_version metadata label,
// or 0 if absent or not numeric.
func (e Event) AggregateVersion() int64 {
	v, ok := e.Metadata[MetadataAggregateVersion]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

// Stream returns the stream label the engine populated on load, or "" if
// the event hasn't been loaded through Load/MergeAndLoad.
func (e Event) Stream() string {
	return stringMeta(e.Metadata, MetadataStream)
}

func stringMeta(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
