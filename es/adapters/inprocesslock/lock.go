// Package inprocesslock provides a single-process es.WriteLockStrategy
// backed by sync.Map, suitable for tests and single-node deployments
// that don't need cross-process coordination.
package inprocesslock

import (
	"context"
	"sync"

	"github.com/witzbould/event-store/es"
)

// Lock is an in-memory advisory lock keyed by projection name.
type Lock struct {
	held sync.Map // name -> struct{}
}

// New builds an empty Lock.
func New() *Lock {
	return &Lock{}
}

// CreateLock implements es.WriteLockStrategy.
func (l *Lock) CreateLock(_ context.Context, name string) (bool, error) {
	_, loaded := l.held.LoadOrStore(name, struct{}{})
	return !loaded, nil
}

// ReleaseLock implements es.WriteLockStrategy.
func (l *Lock) ReleaseLock(_ context.Context, name string) (bool, error) {
	_, existed := l.held.LoadAndDelete(name)
	return existed, nil
}

var _ es.WriteLockStrategy = (*Lock)(nil)
