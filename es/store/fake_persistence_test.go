package store

import (
	"context"
	"sort"
	"sync"

	"github.com/witzbould/event-store/es"
)

// fakePersistence is an in-memory es.PersistenceStrategy used to unit test
// EventStore and AggregateRepository without a real database.
type fakePersistence struct {
	mu          sync.Mutex
	streams     map[string][]es.Event
	streamOrder []string
	projections map[string]es.ProjectionRecord
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		streams:     map[string][]es.Event{},
		projections: map[string]es.ProjectionRecord{},
	}
}

func (f *fakePersistence) CreateEventStreamsTable(ctx context.Context) error { return nil }
func (f *fakePersistence) CreateProjectionsTable(ctx context.Context) error  { return nil }

func (f *fakePersistence) AddStreamToStreamsTable(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; ok {
		return es.ErrStreamAlreadyExists
	}
	f.streams[name] = nil
	f.streamOrder = append(f.streamOrder, name)
	return nil
}

func (f *fakePersistence) CreateSchema(ctx context.Context, name string) error { return nil }

func (f *fakePersistence) DropSchema(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.streams[name]; !ok {
		return es.ErrStreamNotFound
	}
	delete(f.streams, name)
	for i, n := range f.streamOrder {
		if n == name {
			f.streamOrder = append(f.streamOrder[:i], f.streamOrder[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakePersistence) ListStreams(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.streams))
	for name := range f.streams {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (f *fakePersistence) AppendTo(ctx context.Context, name string, events []es.Event) ([]es.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.streams[name]
	if !ok {
		return nil, es.ErrStreamNotFound
	}

	for _, e := range events {
		if e.AggregateVersion() != 0 {
			for _, have := range existing {
				if have.AggregateID() == e.AggregateID() && have.AggregateVersion() == e.AggregateVersion() {
					return nil, es.ErrConcurrency
				}
			}
		}
	}

	no := int64(len(existing))
	appended := make([]es.Event, len(events))
	for i, e := range events {
		no++
		e = e.WithNo(no)
		appended[i] = e
	}
	f.streams[name] = append(existing, appended...)
	return appended, nil
}

func (f *fakePersistence) Load(ctx context.Context, name string, fromNumber int64, matcher *es.MetadataMatcher) (es.EventIterator, error) {
	f.mu.Lock()
	events, ok := f.streams[name]
	f.mu.Unlock()
	if !ok {
		return nil, es.ErrStreamNotFound
	}

	var filtered []es.Event
	for _, e := range events {
		if e.No < fromNumber {
			continue
		}
		e = e.WithMetadata(es.MetadataStream, name)
		if matcher.Matches(e) {
			filtered = append(filtered, e)
		}
	}
	return &sliceIterator{events: filtered}, nil
}

func (f *fakePersistence) MergeAndLoad(ctx context.Context, streams []es.StreamPosition) (es.EventIterator, error) {
	var all []es.Event
	for _, sp := range streams {
		it, err := f.Load(ctx, sp.Stream, sp.FromNumber, sp.Matcher)
		if err != nil {
			return nil, err
		}
		for {
			e, ok, err := it.Next(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				break
			}
			all = append(all, e)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].No < all[j].No
	})
	return &sliceIterator{events: all}, nil
}

func (f *fakePersistence) LoadProjection(ctx context.Context, name string) (*es.ProjectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.projections[name]
	if !ok {
		return nil, nil
	}
	cloned := record.Clone()
	return &cloned, nil
}

func (f *fakePersistence) SaveProjection(ctx context.Context, name string, record es.ProjectionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projections[name] = record.Clone()
	return nil
}

func (f *fakePersistence) DeleteProjection(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.projections, name)
	return nil
}

var _ es.PersistenceStrategy = (*fakePersistence)(nil)

type sliceIterator struct {
	events []es.Event
	pos    int
	closed bool
}

func (s *sliceIterator) Next(ctx context.Context) (es.Event, bool, error) {
	if s.pos >= len(s.events) {
		return es.Event{}, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func (s *sliceIterator) Close() error {
	s.closed = true
	return nil
}

var _ es.EventIterator = (*sliceIterator)(nil)
