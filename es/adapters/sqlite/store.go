// Package sqlite provides a SQLite PersistenceStrategy implementation,
// suitable for single-process deployments, tests, and the bundled
// examples.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/witzbould/event-store/es"
	"github.com/witzbould/event-store/es/adapters/sqlutil"
)

const sqliteTimeFormat = "2006-01-02 15:04:05.999999"

// StoreConfig contains configuration for the SQLite event store.
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

// Store is a SQLite-backed es.PersistenceStrategy implementation.
type Store struct {
	db     *sql.DB
	config StoreConfig
}

// NewStore wraps an already-open *sql.DB (typically opened against the
// "sqlite3" driver) with the given configuration.
func NewStore(db *sql.DB, config StoreConfig) *Store {
	return &Store{db: db, config: config}
}

// Open opens dsn with the sqlite3 driver and wraps it in a Store.
func Open(dsn string, config StoreConfig) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("es/sqlite: open %q: %w", dsn, err)
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
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
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
			state BLOB,
			positions TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'IDLE',
			locked_until INTEGER NOT NULL DEFAULT 0,
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
	query := fmt.Sprintf(`INSERT INTO %s (name) VALUES (?)`, s.config.StreamsTable)
	_, err := s.db.ExecContext(ctx, query, name)
	if err != nil {
		if isUniqueViolation(err) {
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
			no INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			payload BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			agg_id TEXT,
			agg_type TEXT,
			agg_version INTEGER,
			created_at TEXT NOT NULL,
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
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, s.config.StreamsTable), name)
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

// AppendTo implements es.PersistenceStrategy.
func (s *Store) AppendTo(ctx context.Context, name string, events []es.Event) ([]es.Event, error) {
	if len(events) == 0 {
		return nil, es.ErrNoEvents
	}
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("es/sqlite: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s (uuid, name, payload, metadata, agg_id, agg_type, agg_version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
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

		res, execErr := tx.ExecContext(ctx, insertQuery,
			event.UUID.String(), event.Name, event.Payload, metadataBlob,
			aggID, aggType, aggVersion, event.CreatedAt.Format(sqliteTimeFormat),
		)
		if execErr != nil {
			if isUniqueViolation(execErr) {
				return nil, es.ErrConcurrency
			}
			return nil, fmt.Errorf("es/sqlite: insert event %d: %w", i, execErr)
		}

		no, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("es/sqlite: read assigned no: %w", err)
		}
		out[i] = event.WithNo(no)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("es/sqlite: commit append: %w", err)
	}
	s.log().Debug(ctx, "appended events", "stream", name, "count", len(events))
	return out, nil
}

// Load implements es.PersistenceStrategy.
func (s *Store) Load(ctx context.Context, name string, fromNumber int64, matcher *es.MetadataMatcher) (es.EventIterator, error) {
	if err := sqlutil.ValidateStreamName(name); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT no, uuid, name, payload, metadata, created_at
		FROM %s
		WHERE no >= ?
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
			no                  int64
			uuidStr, name       string
			payload, metaBlob   []byte
			createdAtStr        string
		)
		if err := rows.Scan(&no, &uuidStr, &name, &payload, &metaBlob, &createdAtStr); err != nil {
			return es.Event{}, false, err
		}
		metadata, err := sqlutil.DecodeMetadata(metaBlob)
		if err != nil {
			return es.Event{}, false, err
		}
		createdAt, err := time.Parse(sqliteTimeFormat, createdAtStr)
		if err != nil {
			createdAt, err = time.Parse(time.RFC3339, createdAtStr)
			if err != nil {
				return es.Event{}, false, fmt.Errorf("es/sqlite: parse created_at %q: %w", createdAtStr, err)
			}
		}
		id, err := uuid.Parse(uuidStr)
		if err != nil {
			return es.Event{}, false, fmt.Errorf("es/sqlite: parse uuid %q: %w", uuidStr, err)
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
		FROM %s WHERE name = ?
	`, s.config.ProjectionsTable)

	var (
		state                  []byte
		positionsBlob          []byte
		status                 string
		lockedUntil            int64
		lockOwner              string
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
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
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
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE name = ?`, s.config.ProjectionsTable), name)
	return err
}

// isUniqueViolation checks if an error is a SQLite unique constraint
// violation. Exported-style helper kept unexported here since, unlike the
// teacher's adapters, no test outside this package needs to construct one
// directly.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "constraint failed")
}

var _ es.PersistenceStrategy = (*Store)(nil)
