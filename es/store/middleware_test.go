package store

import (
	"context"
	"errors"
	"testing"

	"github.com/witzbould/event-store/es"
)

func TestMiddlewareIterator_AppliesChainInOrder(t *testing.T) {
	ctx := context.Background()
	underlying := &sliceIterator{events: []es.Event{es.NewEvent("A", nil)}}

	var order []string
	chain := []TransformFunc{
		func(ctx context.Context, e es.Event) (es.Event, error) {
			order = append(order, "first")
			return e.WithMetadata("first", true), nil
		},
		func(ctx context.Context, e es.Event) (es.Event, error) {
			order = append(order, "second")
			return e.WithMetadata("second", true), nil
		},
	}

	it := NewMiddlewareIterator(underlying, chain)
	event, ok, err := it.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("Next() = (_, %v, %v)", ok, err)
	}
	if event.Metadata["first"] != true || event.Metadata["second"] != true {
		t.Errorf("expected both transforms applied, got %+v", event.Metadata)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestMiddlewareIterator_PropagatesUnderlyingExhaustion(t *testing.T) {
	ctx := context.Background()
	underlying := &sliceIterator{}
	it := NewMiddlewareIterator(underlying, nil)

	_, ok, err := it.Next(ctx)
	if err != nil || ok {
		t.Fatalf("Next() = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}

func TestMiddlewareIterator_ChainErrorAbortsPull(t *testing.T) {
	ctx := context.Background()
	underlying := &sliceIterator{events: []es.Event{es.NewEvent("A", nil)}}
	wantErr := errors.New("boom")

	it := NewMiddlewareIterator(underlying, []TransformFunc{
		func(ctx context.Context, e es.Event) (es.Event, error) {
			return e, wantErr
		},
	})

	_, ok, err := it.Next(ctx)
	if ok || !errors.Is(err, wantErr) {
		t.Errorf("Next() = (_, %v, %v), want (_, false, %v)", ok, err, wantErr)
	}
}

func TestMiddlewareIterator_Close(t *testing.T) {
	underlying := &sliceIterator{}
	it := NewMiddlewareIterator(underlying, nil)

	if err := it.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !underlying.closed {
		t.Error("Close() did not propagate to underlying iterator")
	}
}
