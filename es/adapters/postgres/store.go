// Package postgres provides a PostgreSQL PersistenceStrategy
// implementation.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/witzbould/event-store/es"
	"github.com/witzbould/event-store/es/adapters/sqlutil"
)

// StoreConfig contains configuration for the Postgres event store.
// Configuration is immutable after construction.
type StoreConfig struct {
	// Logger is an optional logger for observability. If nil, logging is
	// disabled (zero overhead).
	Logger es.Logger

	// StreamsTable is the name of the stream registry table.
	StreamsTable string

	// ProjectionsTable is the name of the projection records table.
	ProjectionsTable string

	// EventTablePrefix prefixes every per-stream physical table name.
	EventTablePrefix string
}

// DefaultStoreConfig returns the default configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		StreamsTable:     "event_streams",
		ProjectionsTable: "projections",
		EventTablePrefix: "stream_",
	}
}

// StoreOption is a functional option for configuring a Store.
type StoreOption func(*StoreConfig)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) StoreOption {
	return func(c *StoreConfig) { c.Logger = logger }
}

// WithStreamsTable sets a custom streams table name.
func WithStreamsTable(name string) StoreOption {
	return func(c *StoreConfig) { c.StreamsTable = name }
}

// WithProjectionsTable sets a custom projections table name.
func WithProjectionsTable(name string) StoreOption {
	return func(c *StoreConfig) { c.ProjectionsTable = name }
}

// NewStoreConfig builds a StoreConfig from the default configuration with
// the given options applied.
func NewStoreConfig(opts ...StoreOption) StoreConfig {
	config := DefaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}

// Store is a PostgreSQL-backed es.PersistenceStrategy implementation.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

// NewStore wraps an already-open *sql.DB (opened against the "postgres"
// driver) with the given configuration.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	return &Store{db: db, config: config}
}

// Open opens dsn with the lib/pq driver and wraps it in a Store.
func Open(dsn string, config StoreConfig) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("es/postgres: open: %w", err)
	}
	return NewStore(db, config), nil
}

func (s *Store) log() es.Logger {
	if s.config.Logger == nil {
		return es.NoOpLogger{}
	}
	return s.config.Logger
}

func (s *Store) eventsTable(streamName string) string {
	return sqlutil.TableName(s.config.EventTablePrefix, streamName)
}

// CreateEventStreamsTable implements es.PersistenceStrategy.
func (s *Store) CreateEventStreamsTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.config.StreamsTable)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// CreateProjectionsTable implements es.PersistenceStrategy.
func (s *Store) CreateProjectionsTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			state BYTEA,
			positions JSONB NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'IDLE',
			locked_until BIGINT NOT NULL DEFAULT 0,
			lock_owner TEXT NOT NULL DEFAULT ''
		)
	`, s.config.ProjectionsTable)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// AddStreamToStreamsTable implements es.PersistenceStrategy.
func (s *Store) AddStreamToStreamsTable(ctx context.Context, name string) error {
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (name) VALUES ($1)`, s.config.StreamsTable)
	_, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", es.ErrStreamAlreadyExists, name)
		}
		return err
	}
	return nil
}

// CreateSchema implements es.PersistenceStrategy.
func (s *Store) CreateSchema(ctx context.Context, name string) error {
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return err
	}
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			no BIGSERIAL PRIMARY KEY,
			uuid UUID NOT NULL UNIQUE,
			name TEXT NOT NULL,
			payload BYTEA NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			agg_id TEXT,
			agg_type TEXT,
			agg_version BIGINT,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (agg_type, agg_id, agg_version)
		)
	`, s.eventsTable(name))
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// DropSchema implements es.PersistenceStrategy.
func (s *Store) DropSchema(ctx context.Context, name string) error {
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.eventsTable(name))); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.config.StreamsTable), name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", es.ErrStreamNotFound, name)
	}
	return nil
}

// ListStreams implements es.PersistenceStrategy.
func (s *Store) ListStreams(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT name FROM %s`, s.config.StreamsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// AppendTo implements es.PersistenceStrategy. The database constraint on
// (agg_type, agg_id, agg_version) enforces optimistic concurrency: if
// another transaction commits between the caller's version read and this
// insert, the insert fails with a unique violation, mapped to
// es.ErrConcurrency.
func (s *Store) AppendTo(ctx context.Context, name string, events []es.Event) ([]es.Event, error) {
	if len(events) == 0 {
		return nil, es.ErrNoEvents
	}
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("es/postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (uuid, name, payload, metadata, agg_id, agg_type, agg_version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING no
	`, s.eventsTable(name))

	out := make([]es.Event, len(events))
	for i, event := range events {
		if event.UUID == uuid.Nil {
			event.UUID = uuid.New()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = time.Now().UTC()
		}
		metadataBlob, err := sqlutil.EncodeMetadata(event.Metadata)
		if err != nil {
			return nil, err
		}

		var aggID, aggType interface{}
		var aggVersion interface{}
		if v := event.AggregateID(); v != "" {
			aggID = v
		}
		if v := event.AggregateType(); v != "" {
			aggType = v
		}
		if v := event.AggregateVersion(); v != 0 {
			aggVersion = v
		}

		var no int64
		err = tx.QueryRowContext(ctx, insertQuery,
			event.UUID, event.Name, event.Payload, metadataBlob,
			aggID, aggType, aggVersion, event.CreatedAt,
		).Scan(&no)
		if err != nil {
			if IsUniqueViolation(err) {
				return nil, es.ErrConcurrency
			}
			return nil, fmt.Errorf("es/postgres: insert event %d: %w", i, err)
		}
		out[i] = event.WithNo(no)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("es/postgres: commit append: %w", err)
	}
	s.log().Debug(ctx, "appended events", "stream", name, "count", len(events))
	return out, nil
}

// IsUniqueViolation checks if an error is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// Load implements es.PersistenceStrategy.
func (s *Store) Load(ctx context.Context, name string, fromNumber int64, matcher *es.MetadataMatcher) (es.EventIterator, error) {
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT no, uuid, name, payload, metadata, created_at
		FROM %s
		WHERE no >= $1
		ORDER BY no ASC
	`, s.eventsTable(name))

	rows, err := s.db.QueryContext(ctx, query, fromNumber)
	if err != nil {
		return nil, err
	}
	return sqlutil.NewFilterIterator(name, matcher, rawEventFunc(rows), rows.Close), nil
}

// MergeAndLoad implements es.PersistenceStrategy.
func (s *Store) MergeAndLoad(ctx context.Context, streams []es.StreamPosition) (es.EventIterator, error) {
	its := make([]es.EventIterator, 0, len(streams))
	for _, sp := range streams {
		it, err := s.Load(ctx, sp.Stream, sp.FromNumber, sp.Matcher)
		if err != nil {
			for _, opened := range its {
				_ = opened.Close()
			}
			return nil, err
		}
		its = append(its, it)
	}
	return sqlutil.NewMergeIterator(ctx, its)
}

func rawEventFunc(rows *sql.Rows) sqlutil.RawEventFunc {
	return func() (es.Event, bool, error) {
		if !rows.Next() {
			return es.Event{}, false, rows.Err()
		}
		var (
			no            int64
			id            uuid.UUID
			name          string
			payload, meta []byte
			createdAt     time.Time
		)
		if err := rows.Scan(&no, &id, &name, &payload, &meta, &createdAt); err != nil {
			return es.Event{}, false, err
		}
		metadata, err := sqlutil.DecodeMetadata(meta)
		if err != nil {
			return es.Event{}, false, err
		}
		return es.Event{
			No:        no,
			UUID:      id,
			Name:      name,
			Payload:   payload,
			Metadata:  metadata,
			CreatedAt: createdAt,
		}, true, nil
	}
}

// LoadProjection implements es.PersistenceStrategy.
func (s *Store) LoadProjection(ctx context.Context, name string) (*es.ProjectionRecord, error) {
	query := fmt.Sprintf(`
		SELECT state, positions, status, locked_until, lock_owner
		FROM %s WHERE name = $1
	`, s.config.ProjectionsTable)

	var (
		state         []byte
		positionsBlob []byte
		status        string
		lockedUntil   int64
		lockOwner     string
	)
	err := s.db.QueryRowContext(ctx, query, name).Scan(&state, &positionsBlob, &status, &lockedUntil, &lockOwner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	positions, err := sqlutil.DecodePositions(positionsBlob)
	if err != nil {
		return nil, err
	}
	return &es.ProjectionRecord{
		State:       state,
		Positions:   positions,
		Status:      es.Status(status),
		LockedUntil: lockedUntil,
		LockOwner:   lockOwner,
	}, nil
}

// SaveProjection implements es.PersistenceStrategy.
func (s *Store) SaveProjection(ctx context.Context, name string, record es.ProjectionRecord) error {
	positionsBlob, err := sqlutil.EncodePositions(record.Positions)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (name, state, positions, status, locked_until, lock_owner)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			state = excluded.state,
			positions = excluded.positions,
			status = excluded.status,
			locked_until = excluded.locked_until,
			lock_owner = excluded.lock_owner
	`, s.config.ProjectionsTable)
	_, err = s.db.ExecContext(ctx, query, name, record.State, positionsBlob, string(record.Status), record.LockedUntil, record.LockOwner)
	return err
}

// DeleteProjection implements es.PersistenceStrategy.
func (s *Store) DeleteProjection(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, s.config.ProjectionsTable), name)
	return err
}

var _ es.PersistenceStrategy = (*Store)(nil)
