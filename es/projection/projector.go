package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/witzbould/event-store/es"
)

// Factory produces a projector's initial state.
type Factory[S any] func() S

// Handler folds a single event into state, returning the new state. A
// returned error stops the projector's run (treated as a crash: no
// checkpoint is written for the in-flight batch).
type Handler[S any] func(state S, event es.Event) (S, error)

// AnyHandler is a catch-all Handler invoked for every event regardless of
// name, used in place of a per-event-name Handler map.
type AnyHandler[S any] func(state S, event es.Event) (S, error)

// StreamSpec names one stream a projector reads from, with an optional
// matcher restricting which of its events are delivered.
type StreamSpec struct {
	Name    string
	Matcher *es.MetadataMatcher
}

type streamMode int

const (
	modeUnset streamMode = iota
	modeAll
	modeExplicit
)

// Projector folds a merged, ordered event sequence into in-memory state
// of type S, checkpointing (state, positions) between runs. Build it with
// NewProjector, configure it with Init/FromAll|FromStream|FromStreams/
// When|WhenAny, then drive it with Run.
//
// Projector implements Runnable.
type Projector[S any] struct {
	name    string
	manager *Manager

	initFactory Factory[S]
	state       S
	initialized bool

	mode        streamMode
	streamSpecs []StreamSpec

	handlers map[string]Handler[S]
	whenAny  AnyHandler[S]
	whenSet  bool

	positions map[string]int64
	isStopped bool

	// wasReset is set when a RESETTING transition is observed during the
	// current Run call. Per the RUNNING -> RESETTING -> RUNNING|IDLE
	// transition (RUNNING only if keepRunning), it decides the status
	// persist writes at the end of this Run: a reset followed by
	// keepRunning=false lands in IDLE even though nothing stopped it.
	wasReset bool

	createdStreams map[string]bool

	// beforePersist, when set (by ReadModelProjector), runs before the
	// projection record is saved: read-model persist must happen before
	// the position checkpoint advances, so a crash between the two
	// re-applies the same events (at-least-once) rather than losing them.
	beforePersist func(ctx context.Context) error

	// onDelete/onReset let ReadModelProjector hook the read model's own
	// delete/reset into the base projector's delete/reset handling.
	onDelete func(ctx context.Context) error
	onReset  func(ctx context.Context) error

	// ensureReadModel, when set (by ReadModelProjector), lazily
	// initializes the read model. It runs inside Run, after the guard
	// checks and lock acquisition, so it never fires on a misconfigured
	// projector and never races a concurrent Run on the same projection.
	ensureReadModel func(ctx context.Context) error
}

// NewProjector builds a projector named name, registered with m. name is
// also the stream emit() writes to.
func NewProjector[S any](m *Manager, name string) *Projector[S] {
	p := &Projector[S]{
		name:           name,
		manager:        m,
		handlers:       map[string]Handler[S]{},
		positions:      map[string]int64{},
		createdStreams: map[string]bool{},
	}
	m.Register(p)
	return p
}

// Name implements Runnable.
func (p *Projector[S]) Name() string { return p.name }

// Init sets the projector's initial-state factory. Fails with
// ErrAlreadyInitialized if called twice.
func (p *Projector[S]) Init(factory Factory[S]) error {
	if p.initFactory != nil {
		return es.ErrAlreadyInitialized
	}
	p.initFactory = factory
	p.initialized = true
	return nil
}

// FromAll configures the projector to read every stream currently (and,
// as the run progresses, newly) registered on the store.
func (p *Projector[S]) FromAll() error {
	if p.mode != modeUnset {
		return es.ErrFromAlreadyCalled
	}
	p.mode = modeAll
	return nil
}

// FromStream configures the projector to read a single named stream.
func (p *Projector[S]) FromStream(name string, matcher *es.MetadataMatcher) error {
	if p.mode != modeUnset {
		return es.ErrFromAlreadyCalled
	}
	p.mode = modeExplicit
	p.streamSpecs = []StreamSpec{{Name: name, Matcher: matcher}}
	return nil
}

// FromStreams configures the projector to read an explicit, fixed list of
// streams.
func (p *Projector[S]) FromStreams(specs ...StreamSpec) error {
	if p.mode != modeUnset {
		return es.ErrFromAlreadyCalled
	}
	p.mode = modeExplicit
	p.streamSpecs = append([]StreamSpec(nil), specs...)
	return nil
}

// When registers per-event-name handlers. Fails with ErrWhenAlreadyCalled
// if When or WhenAny has already been called.
func (p *Projector[S]) When(handlers map[string]Handler[S]) error {
	if p.whenSet {
		return es.ErrWhenAlreadyCalled
	}
	for name, h := range handlers {
		p.handlers[name] = h
	}
	p.whenSet = true
	return nil
}

// WhenAny registers a single catch-all handler invoked for every event.
// Fails with ErrWhenAlreadyCalled if When or WhenAny has already been
// called.
func (p *Projector[S]) WhenAny(handler AnyHandler[S]) error {
	if p.whenSet {
		return es.ErrWhenAlreadyCalled
	}
	p.whenAny = handler
	p.whenSet = true
	return nil
}

// State returns the projector's current in-memory state. Only meaningful
// while or after a Run call.
func (p *Projector[S]) State() S { return p.state }

// Emit writes event to the stream named identically to the projector,
// creating it on first use. Synchronous with respect to the fold: the
// caller (a Handler) must not return until Emit returns.
func (p *Projector[S]) Emit(ctx context.Context, event es.Event) error {
	return p.linkTo(ctx, p.name, event)
}

// LinkTo writes event to an arbitrary stream, creating it if necessary.
func (p *Projector[S]) LinkTo(ctx context.Context, streamName string, event es.Event) error {
	return p.linkTo(ctx, streamName, event)
}

func (p *Projector[S]) linkTo(ctx context.Context, streamName string, event es.Event) error {
	if !p.createdStreams[streamName] {
		if err := p.manager.store.CreateStream(ctx, streamName); err != nil {
			return fmt.Errorf("projection: create emitted stream %q: %w", streamName, err)
		}
		p.createdStreams[streamName] = true
	}
	return p.manager.store.AppendTo(ctx, streamName, []es.Event{event})
}

// Run executes the projector's fold loop once. If keepRunning, it loops
// indefinitely (subject to cooperative stop/delete/reset signals) until
// the context is cancelled or a STOPPING/DELETING transition lands; if
// !keepRunning, it processes exactly one pass over the currently
// available events and then persists and returns.
func (p *Projector[S]) Run(ctx context.Context, keepRunning bool) error {
	if !p.whenSet {
		return es.ErrNoHandler
	}
	if !p.initialized {
		return es.ErrStateNotInitialised
	}

	if p.manager.locks != nil {
		acquired, err := p.manager.locks.CreateLock(ctx, p.name)
		if err != nil {
			return fmt.Errorf("projection: acquire lock %q: %w", p.name, err)
		}
		if !acquired {
			return fmt.Errorf("%w: %s", es.ErrLockHeld, p.name)
		}
		defer func() {
			_, _ = p.manager.locks.ReleaseLock(ctx, p.name)
		}()
	}

	if p.ensureReadModel != nil {
		if err := p.ensureReadModel(ctx); err != nil {
			return err
		}
	}

	persistence := p.manager.store.Persistence()

	p.wasReset = false

	terminal, err := p.pollAndApply(ctx)
	if err != nil {
		return err
	}
	if terminal {
		return nil
	}

	record, err := persistence.LoadProjection(ctx, p.name)
	if err != nil {
		return fmt.Errorf("projection: load record %q: %w", p.name, err)
	}
	if record == nil {
		fresh := es.ProjectionRecord{Positions: map[string]int64{}, Status: es.StatusIdle}
		if err := persistence.SaveProjection(ctx, p.name, fresh); err != nil {
			return fmt.Errorf("projection: create record %q: %w", p.name, err)
		}
		record = &fresh
	}

	if err := p.prepareStreamPositions(ctx, record); err != nil {
		return err
	}
	if err := p.loadFrom(record); err != nil {
		return err
	}

	p.isStopped = false

	for {
		if err := p.foldOnce(ctx); err != nil {
			return err
		}

		terminal, err := p.pollAndApply(ctx)
		if err != nil {
			return err
		}
		if terminal {
			return nil
		}
		if p.isStopped || !keepRunning {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := persistence.LoadProjection(ctx, p.name)
		if err != nil {
			return fmt.Errorf("projection: reload record %q: %w", p.name, err)
		}
		if record != nil {
			if err := p.prepareStreamPositions(ctx, record); err != nil {
				return err
			}
		}
	}

	return p.persist(ctx, keepRunning)
}

// pollAndApply polls the remote status and reacts to STOPPING/DELETING/
// DELETING_INCL_EMITTED_EVENTS/RESETTING. It returns terminal=true when
// the run loop must stop immediately without a final persist (the delete
// path already removed the projection record).
func (p *Projector[S]) pollAndApply(ctx context.Context) (terminal bool, err error) {
	status := p.manager.FetchProjectionStatus(ctx, p.name)
	switch status {
	case es.StatusStopping:
		p.isStopped = true
		return false, nil
	case es.StatusDeleting:
		return true, p.delete(ctx, false)
	case es.StatusDeletingInclEmittedEvents:
		return true, p.delete(ctx, true)
	case es.StatusResetting:
		if err := p.reset(ctx); err != nil {
			return false, err
		}
		p.wasReset = true
		return false, nil
	default:
		return false, nil
	}
}

func (p *Projector[S]) prepareStreamPositions(ctx context.Context, record *es.ProjectionRecord) error {
	if record.Positions != nil {
		for name, pos := range record.Positions {
			if _, ok := p.positions[name]; !ok {
				p.positions[name] = pos
			}
		}
	}

	var names []string
	switch p.mode {
	case modeAll:
		all, err := p.manager.store.Streams(ctx)
		if err != nil {
			return fmt.Errorf("projection: enumerate streams: %w", err)
		}
		names = all
	case modeExplicit:
		for _, spec := range p.streamSpecs {
			names = append(names, spec.Name)
		}
	}

	for _, name := range names {
		if _, ok := p.positions[name]; !ok {
			p.positions[name] = 0
		}
	}
	return nil
}

func (p *Projector[S]) matcherFor(streamName string) *es.MetadataMatcher {
	for _, spec := range p.streamSpecs {
		if spec.Name == streamName {
			return spec.Matcher
		}
	}
	return nil
}

func (p *Projector[S]) loadFrom(record *es.ProjectionRecord) error {
	state, err := decodeState[S](record.State)
	if err != nil {
		return fmt.Errorf("projection: decode state for %q: %w", p.name, err)
	}
	if len(record.State) == 0 {
		state = p.initFactory()
	}
	p.state = state
	return nil
}

// foldOnce pulls and applies every event currently available across the
// projector's streams, advancing positions and state as it goes.
func (p *Projector[S]) foldOnce(ctx context.Context) error {
	var streamPositions []es.StreamPosition
	for name, pos := range p.positions {
		streamPositions = append(streamPositions, es.StreamPosition{
			Stream:     name,
			FromNumber: pos + 1,
			Matcher:    p.matcherFor(name),
		})
	}
	if len(streamPositions) == 0 {
		return nil
	}

	it, err := p.manager.store.MergeAndLoad(ctx, streamPositions...)
	if err != nil {
		return fmt.Errorf("projection: merge and load for %q: %w", p.name, err)
	}
	defer it.Close()

	for {
		event, ok, err := it.Next(ctx)
		if err != nil {
			return fmt.Errorf("projection: pull event for %q: %w", p.name, err)
		}
		if !ok {
			return nil
		}

		p.positions[event.Stream()] = event.No

		var next S
		var handlerErr error
		switch {
		case p.whenAny != nil:
			next, handlerErr = p.whenAny(p.state, event)
		default:
			handler, found := p.handlers[event.Name]
			if !found {
				continue
			}
			next, handlerErr = handler(p.state, event)
		}
		if handlerErr != nil {
			return fmt.Errorf("projection: handle %q at stream=%s no=%d: %w", event.Name, event.Stream(), event.No, handlerErr)
		}

		copied, err := deepCopy(next)
		if err != nil {
			return fmt.Errorf("projection: copy state for %q: %w", p.name, err)
		}
		p.state = copied

		if p.isStopped {
			return nil
		}
	}
}

// persist writes back state and positions. For a read-model projector,
// the read model's own persist runs first via beforePersist. keepRunning
// mirrors the flag Run was called with: per the RESETTING transition
// (RUNNING only if keepRunning), a reset observed during this Run lands
// in IDLE rather than RUNNING when keepRunning is false.
func (p *Projector[S]) persist(ctx context.Context, keepRunning bool) error {
	if p.beforePersist != nil {
		if err := p.beforePersist(ctx); err != nil {
			return fmt.Errorf("projection: read model persist for %q: %w", p.name, err)
		}
	}

	data, err := json.Marshal(p.state)
	if err != nil {
		return fmt.Errorf("projection: encode state for %q: %w", p.name, err)
	}

	status := es.StatusRunning
	if p.isStopped || (p.wasReset && !keepRunning) {
		status = es.StatusIdle
	}

	record := es.ProjectionRecord{
		State:     data,
		Positions: p.positions,
		Status:    status,
	}
	return p.manager.store.Persistence().SaveProjection(ctx, p.name, record)
}

// delete removes the projection record, stops the projector, and
// re-invokes the init factory. If includeEmitted, the projector's own
// emitted stream is also dropped.
func (p *Projector[S]) delete(ctx context.Context, includeEmitted bool) error {
	p.isStopped = true

	if p.onDelete != nil {
		if err := p.onDelete(ctx); err != nil {
			return fmt.Errorf("projection: read model delete for %q: %w", p.name, err)
		}
	}

	if err := p.manager.store.Persistence().DeleteProjection(ctx, p.name); err != nil {
		return fmt.Errorf("projection: delete record %q: %w", p.name, err)
	}

	if includeEmitted {
		if err := p.manager.store.DeleteStream(ctx, p.name); err != nil {
			return fmt.Errorf("projection: delete emitted stream %q: %w", p.name, err)
		}
	}

	p.state = p.initFactory()
	p.positions = map[string]int64{}
	return nil
}

// reset clears positions, resets the read model (if any), re-invokes the
// init factory, and writes a fresh IDLE projection record.
func (p *Projector[S]) reset(ctx context.Context) error {
	if p.onReset != nil {
		if err := p.onReset(ctx); err != nil {
			return fmt.Errorf("projection: read model reset for %q: %w", p.name, err)
		}
	}

	if err := p.manager.store.DeleteStream(ctx, p.name); err != nil {
		// Absence of the emitted stream is expected when the projector
		// has never called Emit/LinkTo; only a real back-end failure
		// should abort the reset.
		if !errors.Is(err, es.ErrStreamNotFound) {
			return fmt.Errorf("projection: drop emitted stream during reset of %q: %w", p.name, err)
		}
	}

	p.state = p.initFactory()
	p.positions = map[string]int64{}

	record := es.ProjectionRecord{
		State:     nil,
		Positions: map[string]int64{},
		Status:    es.StatusIdle,
	}
	return p.manager.store.Persistence().SaveProjection(ctx, p.name, record)
}

func decodeState[S any](data []byte) (S, error) {
	var s S
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, err
	}
	return s, nil
}

func deepCopy[S any](s S) (S, error) {
	data, err := json.Marshal(s)
	if err != nil {
		var zero S
		return zero, err
	}
	return decodeState[S](data)
}

var _ Runnable = (*Projector[struct{}])(nil)
