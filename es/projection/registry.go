// Package projection implements the projector state machine, the
// projection manager that controls it, and the read-model variant that
// drives an external store.
package projection

import (
	"context"
	"fmt"
	"sync"

	"github.com/witzbould/event-store/es"
	"github.com/witzbould/event-store/es/store"
)

// Runnable is the type-erased surface a ProjectionManager holds for every
// projector it controls, regardless of the projector's state type
// parameter.
type Runnable interface {
	// Name returns the projection's checkpoint name.
	Name() string

	// Run executes the projector's fold loop. See Projector.Run.
	Run(ctx context.Context, keepRunning bool) error
}

type readModelRunnable interface {
	Runnable
	isReadModelProjector()
}

// Manager is the registry and control channel for projectors: it owns
// the write-lock strategy used to serialize runs, and holds the
// pre-instantiated projector objects applications look up by name.
//
// Per spec, a ProjectionManager only ever writes a projection's status
// field; the projector itself is the sole writer of state and positions,
// during persist. Manager methods therefore read-modify-write just the
// status field of a projection record rather than replacing it wholesale.
type Manager struct {
	store *store.EventStore
	locks es.WriteLockStrategy

	mu         sync.Mutex
	projectors map[string]Runnable
}

// NewManager builds a Manager bound to store. locks may be nil, in which
// case projector runs are not mutually exclusive (suitable for tests or
// single-projector deployments).
func NewManager(s *store.EventStore, locks es.WriteLockStrategy) *Manager {
	return &Manager{store: s, locks: locks, projectors: map[string]Runnable{}}
}

// Register adds a pre-built projector to the registry under its own
// Name(). Intended to be called once per projector at bootstrap, mirroring
// the "projections instantiated eagerly on EventStore creation" contract.
func (m *Manager) Register(p Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projectors[p.Name()] = p
}

// GetProjector returns the registered projector for name.
func (m *Manager) GetProjector(name string) (Runnable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", es.ErrProjectionNotFound, name)
	}
	return p, nil
}

// GetReadModelProjector returns the registered read-model projector for
// name, failing with ErrProjectionNotFound if absent or if name is
// registered as a plain (non-read-model) projector.
func (m *Manager) GetReadModelProjector(name string) (Runnable, error) {
	m.mu.Lock()
	p, ok := m.projectors[name]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", es.ErrProjectionNotFound, name)
	}
	if _, ok := p.(readModelRunnable); !ok {
		return nil, fmt.Errorf("%w: %s", es.ErrProjectionNotFound, name)
	}
	return p, nil
}

// FetchProjectionStatus returns name's current status, or StatusRunning
// if the lookup fails — fail-open so a transient back-end error never
// halts an otherwise-healthy projector mid-poll.
func (m *Manager) FetchProjectionStatus(ctx context.Context, name string) es.Status {
	record, err := m.store.Persistence().LoadProjection(ctx, name)
	if err != nil || record == nil {
		return es.StatusRunning
	}
	return record.Status
}

func (m *Manager) setStatus(ctx context.Context, name string, status es.Status) error {
	persistence := m.store.Persistence()
	record, err := persistence.LoadProjection(ctx, name)
	if err != nil {
		return fmt.Errorf("projection: load record %q: %w", name, err)
	}
	if record == nil {
		record = &es.ProjectionRecord{Positions: map[string]int64{}}
	}
	updated := record.Clone()
	updated.Status = status
	return persistence.SaveProjection(ctx, name, updated)
}

// IdleProjection sets name's status to IDLE.
func (m *Manager) IdleProjection(ctx context.Context, name string) error {
	return m.setStatus(ctx, name, es.StatusIdle)
}

// StopProjection requests the named projector stop at its next poll
// point, transitioning RUNNING → STOPPING → IDLE.
func (m *Manager) StopProjection(ctx context.Context, name string) error {
	return m.setStatus(ctx, name, es.StatusStopping)
}

// ResetProjection requests the named projector clear its positions and
// state and re-run its init handler, transitioning RUNNING → RESETTING →
// RUNNING|IDLE.
func (m *Manager) ResetProjection(ctx context.Context, name string) error {
	return m.setStatus(ctx, name, es.StatusResetting)
}

// DeleteProjection requests the named projector delete its projection
// record. If includeEmitted, the projector's own emitted stream is also
// dropped.
func (m *Manager) DeleteProjection(ctx context.Context, name string, includeEmitted bool) error {
	status := es.StatusDeleting
	if includeEmitted {
		status = es.StatusDeletingInclEmittedEvents
	}
	return m.setStatus(ctx, name, status)
}
