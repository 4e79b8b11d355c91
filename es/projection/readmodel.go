package projection

import "context"

// ReadModel is the user-supplied contract for an externally-stored
// projection target (a SQL table, a search index, a cache — anything
// outside the event store). Stack defers a mutation until the next
// Persist call, so a crash mid-fold leaves the read model untouched. Persist
// runs before the projector's checkpoint is written, and the two are not
// atomic: a crash between them re-applies the same events on the next run.
type ReadModel interface {
	// Init prepares the read model for first use (e.g. creating tables).
	Init(ctx context.Context) error

	// IsInitialized reports whether Init has already run.
	IsInitialized(ctx context.Context) (bool, error)

	// Persist flushes every mutation queued via Stack since the last
	// Persist call.
	Persist(ctx context.Context) error

	// Delete tears down the read model's storage entirely.
	Delete(ctx context.Context) error

	// Reset clears the read model's storage back to empty, without
	// tearing down its schema.
	Reset(ctx context.Context) error

	// Stack queues a mutation (op plus its arguments) to apply on the
	// next Persist.
	Stack(op string, args ...interface{})
}

// ReadModelProjector is a Projector that also drives a ReadModel: the
// read model's Persist runs before the projection's own checkpoint is
// written (so replay-on-crash re-applies the same stack operations,
// rather than the read model silently falling behind), and its
// Delete/Reset are wired into the base projector's delete/reset paths.
type ReadModelProjector[S any] struct {
	*Projector[S]
	readModel ReadModel
}

// NewReadModelProjector builds a read-model projector named name, bound
// to readModel and registered with m.
func NewReadModelProjector[S any](m *Manager, name string, readModel ReadModel) *ReadModelProjector[S] {
	base := &Projector[S]{
		name:           name,
		manager:        m,
		handlers:       map[string]Handler[S]{},
		positions:      map[string]int64{},
		createdStreams: map[string]bool{},
	}
	rmp := &ReadModelProjector[S]{Projector: base, readModel: readModel}

	base.beforePersist = readModel.Persist
	base.onDelete = readModel.Delete
	base.onReset = readModel.Reset
	base.ensureReadModel = func(ctx context.Context) error {
		initialized, err := readModel.IsInitialized(ctx)
		if err != nil {
			return err
		}
		if !initialized {
			return readModel.Init(ctx)
		}
		return nil
	}

	m.Register(rmp)
	return rmp
}

// ReadModel returns the bound read model.
func (p *ReadModelProjector[S]) ReadModel() ReadModel { return p.readModel }

func (p *ReadModelProjector[S]) isReadModelProjector() {}

var _ Runnable = (*ReadModelProjector[struct{}])(nil)
var _ readModelRunnable = (*ReadModelProjector[struct{}])(nil)
