package projection

import (
	"context"
	"errors"
	"testing"

	"github.com/witzbould/event-store/es"
	"github.com/witzbould/event-store/es/store"
)

func TestManager_RegisterAndGetProjector(t *testing.T) {
	m, _, _ := newTestManager()
	p := NewProjector[counterState](m, "counter")

	got, err := m.GetProjector("counter")
	if err != nil {
		t.Fatalf("GetProjector() error = %v", err)
	}
	if got != Runnable(p) {
		t.Errorf("GetProjector() = %v, want the registered projector", got)
	}
}

func TestManager_GetProjectorUnknownFails(t *testing.T) {
	m, _, _ := newTestManager()
	if _, err := m.GetProjector("ghost"); !errors.Is(err, es.ErrProjectionNotFound) {
		t.Errorf("GetProjector() error = %v, want ErrProjectionNotFound", err)
	}
}

type fakeReadModel struct {
	initialized bool
	persisted   int
	deleted     bool
	reset       bool
}

func (r *fakeReadModel) Init(ctx context.Context) error                   { r.initialized = true; return nil }
func (r *fakeReadModel) IsInitialized(ctx context.Context) (bool, error)  { return r.initialized, nil }
func (r *fakeReadModel) Persist(ctx context.Context) error                { r.persisted++; return nil }
func (r *fakeReadModel) Delete(ctx context.Context) error                 { r.deleted = true; return nil }
func (r *fakeReadModel) Reset(ctx context.Context) error                  { r.reset = true; return nil }
func (r *fakeReadModel) Stack(op string, args ...interface{})             {}

func TestManager_GetReadModelProjector(t *testing.T) {
	m, _, _ := newTestManager()
	NewProjector[counterState](m, "plain")
	NewReadModelProjector[counterState](m, "withmodel", &fakeReadModel{})

	if _, err := m.GetReadModelProjector("withmodel"); err != nil {
		t.Errorf("GetReadModelProjector(withmodel) error = %v", err)
	}
	if _, err := m.GetReadModelProjector("plain"); !errors.Is(err, es.ErrProjectionNotFound) {
		t.Errorf("GetReadModelProjector(plain) error = %v, want ErrProjectionNotFound for a non-read-model projector", err)
	}
	if _, err := m.GetReadModelProjector("ghost"); !errors.Is(err, es.ErrProjectionNotFound) {
		t.Errorf("GetReadModelProjector(ghost) error = %v, want ErrProjectionNotFound", err)
	}
}

func TestManager_FetchProjectionStatusFailsOpenToRunning(t *testing.T) {
	m, _, _ := newTestManager()
	NewProjector[counterState](m, "counter")

	status := m.FetchProjectionStatus(context.Background(), "counter")
	if status != es.StatusRunning {
		t.Errorf("FetchProjectionStatus() for a never-persisted projection = %v, want RUNNING", status)
	}
}

func TestManager_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	m, fp, _ := newTestManager()
	NewProjector[counterState](m, "counter")

	cases := []struct {
		name string
		fn   func() error
		want es.Status
	}{
		{"idle", func() error { return m.IdleProjection(ctx, "counter") }, es.StatusIdle},
		{"stop", func() error { return m.StopProjection(ctx, "counter") }, es.StatusStopping},
		{"reset", func() error { return m.ResetProjection(ctx, "counter") }, es.StatusResetting},
		{"delete", func() error { return m.DeleteProjection(ctx, "counter", false) }, es.StatusDeleting},
		{"delete-incl-emitted", func() error { return m.DeleteProjection(ctx, "counter", true) }, es.StatusDeletingInclEmittedEvents},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.fn(); err != nil {
				t.Fatalf("%s: error = %v", tc.name, err)
			}
			record, err := fp.LoadProjection(ctx, "counter")
			if err != nil || record == nil {
				t.Fatalf("%s: LoadProjection() = (%v, %v), want a record", tc.name, record, err)
			}
			if record.Status != tc.want {
				t.Errorf("%s: Status = %v, want %v", tc.name, record.Status, tc.want)
			}
		})
	}
}

func TestManager_SetStatusPreservesExistingStateAndPositions(t *testing.T) {
	ctx := context.Background()
	p := newFakePersistence()
	s := store.New(p, nil)
	m := NewManager(s, nil)
	NewProjector[counterState](m, "counter")

	if err := p.SaveProjection(ctx, "counter", es.ProjectionRecord{
		State:     []byte(`{"Count":7}`),
		Positions: map[string]int64{"orders": 3},
		Status:    es.StatusRunning,
	}); err != nil {
		t.Fatalf("SaveProjection() error = %v", err)
	}

	if err := m.StopProjection(ctx, "counter"); err != nil {
		t.Fatalf("StopProjection() error = %v", err)
	}

	record, err := p.LoadProjection(ctx, "counter")
	if err != nil || record == nil {
		t.Fatalf("LoadProjection() = (%v, %v), want a record", record, err)
	}
	if record.Status != es.StatusStopping {
		t.Errorf("Status = %v, want STOPPING", record.Status)
	}
	if record.Positions["orders"] != 3 {
		t.Errorf("Positions[orders] = %d, want 3 (preserved)", record.Positions["orders"])
	}
	if string(record.State) != `{"Count":7}` {
		t.Errorf("State = %s, want preserved", record.State)
	}
}
