// Package sqlutil holds dialect-independent helpers shared by the
// sqlite, postgres, and mysql PersistenceStrategy adapters: stream-name
// validation, metadata JSON encoding, row-level matcher filtering, and the
// time-ordered k-way merge used by MergeAndLoad. Each adapter still owns
// its own dialect-specific DDL/DML and error mapping, following the
// teacher's per-dialect duplication style.
package sqlutil

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/witzbould/event-store/es"
)

var streamNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// ValidateStreamName rejects stream names that couldn't safely become
// part of a generated physical table name.
func ValidateStreamName(name string) error {
	if name == "" || !streamNamePattern.MatchString(name) {
		return fmt.Errorf("es: invalid stream name %q: must match %s", name, streamNamePattern.String())
	}
	return nil
}

// TableName derives a per-stream physical table name from a validated
// stream name.
func TableName(prefix, streamName string) string {
	return prefix + sanitize(streamName)
}

func sanitize(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			out[i] = c
		case c >= 'A' && c <= 'Z':
			out[i] = c + ('a' - 'A')
		default:
			out[i] = '_'
		}
	}
	return string(out)
}

// EncodeMetadata serializes an event's metadata map to JSON for storage.
func EncodeMetadata(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	return json.Marshal(m)
}

// DecodeMetadata deserializes a stored metadata blob back into a map. An
// empty blob decodes to an empty, non-nil map.
func DecodeMetadata(data []byte) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("es: decode metadata: %w", err)
	}
	return m, nil
}

// EncodePositions serializes a projection's stream-position map to JSON.
func EncodePositions(positions map[string]int64) ([]byte, error) {
	if positions == nil {
		positions = map[string]int64{}
	}
	return json.Marshal(positions)
}

// DecodePositions deserializes a projection's stream-position map from
// JSON.
func DecodePositions(data []byte) (map[string]int64, error) {
	m := map[string]int64{}
	if len(data) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("es: decode positions: %w", err)
	}
	return m, nil
}

// RawEventFunc returns the next decoded-but-unfiltered event from a
// dialect-specific row scanner, analogous to io.EOF: ok is false once the
// underlying rows are exhausted.
type RawEventFunc func() (es.Event, bool, error)

// FilterIterator wraps a RawEventFunc, tagging every event with its
// source stream and applying a MetadataMatcher before yielding it. It
// implements es.EventIterator.
type FilterIterator struct {
	next    RawEventFunc
	matcher *es.MetadataMatcher
	stream  string
	closer  func() error
}

// NewFilterIterator builds a FilterIterator. closer releases the
// underlying row resource (e.g. *sql.Rows.Close) and may be nil.
func NewFilterIterator(stream string, matcher *es.MetadataMatcher, next RawEventFunc, closer func() error) *FilterIterator {
	return &FilterIterator{next: next, matcher: matcher, stream: stream, closer: closer}
}

// Next implements es.EventIterator.
func (f *FilterIterator) Next(_ context.Context) (es.Event, bool, error) {
	for {
		event, ok, err := f.next()
		if err != nil || !ok {
			return es.Event{}, ok, err
		}
		if event.Metadata == nil {
			event.Metadata = map[string]interface{}{}
		}
		event.Metadata[es.MetadataStream] = f.stream
		if f.matcher.Matches(event) {
			return event, true, nil
		}
	}
}

// Close implements es.EventIterator.
func (f *FilterIterator) Close() error {
	if f.closer == nil {
		return nil
	}
	return f.closer()
}

var _ es.EventIterator = (*FilterIterator)(nil)

// mergeSource tracks one stream's lookahead event during a k-way merge.
type mergeSource struct {
	it    es.EventIterator
	index int
	event es.Event
	has   bool
}

// MergeIterator performs a stable, time-ordered k-way merge across
// several per-stream iterators, ordered by (CreatedAt, No) ascending and
// by source declaration order on exact ties.
type MergeIterator struct {
	sources []*mergeSource
}

// NewMergeIterator primes one lookahead event from each source.
func NewMergeIterator(ctx context.Context, sources []es.EventIterator) (*MergeIterator, error) {
	m := &MergeIterator{sources: make([]*mergeSource, len(sources))}
	for i, it := range sources {
		ms := &mergeSource{it: it, index: i}
		if err := ms.advance(ctx); err != nil {
			m.Close()
			return nil, err
		}
		m.sources[i] = ms
	}
	return m, nil
}

func (s *mergeSource) advance(ctx context.Context) error {
	event, ok, err := s.it.Next(ctx)
	if err != nil {
		return err
	}
	s.event, s.has = event, ok
	return nil
}

// Next implements es.EventIterator.
func (m *MergeIterator) Next(ctx context.Context) (es.Event, bool, error) {
	var winner *mergeSource
	for _, s := range m.sources {
		if !s.has {
			continue
		}
		if winner == nil || less(s, winner) {
			winner = s
		}
	}
	if winner == nil {
		return es.Event{}, false, nil
	}
	event := winner.event
	if err := winner.advance(ctx); err != nil {
		return es.Event{}, false, err
	}
	return event, true, nil
}

func less(a, b *mergeSource) bool {
	if !a.event.CreatedAt.Equal(b.event.CreatedAt) {
		return a.event.CreatedAt.Before(b.event.CreatedAt)
	}
	if a.event.No != b.event.No {
		return a.event.No < b.event.No
	}
	return a.index < b.index
}

// Close implements es.EventIterator; it closes every source, returning
// the first error encountered (if any) after attempting all of them.
func (m *MergeIterator) Close() error {
	var firstErr error
	for _, s := range m.sources {
		if err := s.it.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ es.EventIterator = (*MergeIterator)(nil)
