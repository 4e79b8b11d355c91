// Package store provides the event store facade, the aggregate
// repository, and the middleware iterator that together orchestrate a
// PersistenceStrategy.
package store

import (
	"context"

	"github.com/witzbould/event-store/es"
)

// Action identifies when a middleware hook fires in the append/load
// pipeline.
type Action string

// Event actions.
const (
	PreAppend     Action = "PRE_APPEND"
	Appended      Action = "APPENDED"
	AppendErrored Action = "APPEND_ERRORED"
	Loaded        Action = "LOADED"
)

// TransformFunc is a PRE_APPEND or LOADED hook: it may substitute the
// event (return a different Event) and may fail. A PRE_APPEND failure
// aborts the append; a LOADED failure aborts the in-flight pull.
type TransformFunc func(ctx context.Context, event es.Event) (es.Event, error)

// ObserverFunc is an APPENDED or APPEND_ERRORED hook: fire-and-observe.
// Its error, if any, is logged by the facade and never propagated.
type ObserverFunc func(ctx context.Context, event es.Event, appendErr error) error

// MiddlewareIterator wraps an es.EventIterator, applying an ordered list
// of TransformFuncs to each pulled event before yielding it. It never
// buffers more than one event ahead of the consumer: each Next call pulls
// exactly one event from the underlying iterator and folds the
// transformer chain over it before returning.
type MiddlewareIterator struct {
	underlying es.EventIterator
	chain      []TransformFunc
}

// NewMiddlewareIterator wraps underlying with chain, applied in order on
// every pull.
func NewMiddlewareIterator(underlying es.EventIterator, chain []TransformFunc) *MiddlewareIterator {
	return &MiddlewareIterator{underlying: underlying, chain: chain}
}

// Next implements es.EventIterator.
func (m *MiddlewareIterator) Next(ctx context.Context) (es.Event, bool, error) {
	event, ok, err := m.underlying.Next(ctx)
	if err != nil || !ok {
		return es.Event{}, ok, err
	}
	for _, fn := range m.chain {
		event, err = fn(ctx, event)
		if err != nil {
			return es.Event{}, false, err
		}
	}
	return event, true, nil
}

// Close implements es.EventIterator.
func (m *MiddlewareIterator) Close() error {
	return m.underlying.Close()
}

var _ es.EventIterator = (*MiddlewareIterator)(nil)
