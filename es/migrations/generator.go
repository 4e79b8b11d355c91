// Package migrations provides SQL migration generation for event
// sourcing infrastructure: the fixed stream-registry and
// projection-records tables every PersistenceStrategy adapter depends
// on.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written.
	OutputFolder string

	// OutputFilename is the name of the migration file.
	OutputFilename string

	// StreamsTable is the name of the stream registry table.
	StreamsTable string

	// ProjectionsTable is the name of the projection records table.
	ProjectionsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:     "migrations",
		OutputFilename:   fmt.Sprintf("%s_init_event_sourcing.sql", timestamp),
		StreamsTable:     "event_streams",
		ProjectionsTable: "projections",
	}
}

func write(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}
	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return write(config, generatePostgresSQL(config))
}

func generatePostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration
-- Generated: %s

-- Stream registry: one row per named stream. Per-stream event tables
-- are created dynamically (see CreateSchema) and are not covered here.
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Projection records: one row per projection, tracking checkpointed
-- state, per-stream read positions, lifecycle status, and an optional
-- write-lock lease.
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    state BYTEA,
    positions JSONB NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'IDLE',
    locked_until BIGINT NOT NULL DEFAULT 0,
    lock_owner TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_%s_status
    ON %s (status);
`,
		time.Now().Format(time.RFC3339),
		config.StreamsTable,
		config.ProjectionsTable,
		config.ProjectionsTable, config.ProjectionsTable,
	)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return write(config, generateSQLiteSQL(config))
}

func generateSQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration for SQLite
-- Generated: %s

-- Stream registry: one row per named stream. Per-stream event tables
-- are created dynamically (see CreateSchema) and are not covered here.
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

-- Projection records: one row per projection, tracking checkpointed
-- state, per-stream read positions, lifecycle status, and an optional
-- write-lock lease.
CREATE TABLE IF NOT EXISTS %s (
    name TEXT PRIMARY KEY,
    state BLOB,
    positions TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL DEFAULT 'IDLE',
    locked_until INTEGER NOT NULL DEFAULT 0,
    lock_owner TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_%s_status
    ON %s (status);
`,
		time.Now().Format(time.RFC3339),
		config.StreamsTable,
		config.ProjectionsTable,
		config.ProjectionsTable, config.ProjectionsTable,
	)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return write(config, generateMySQLSQL(config))
}

func generateMySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Event Sourcing Infrastructure Migration for MySQL/MariaDB
-- Generated: %s

-- Stream registry: one row per named stream. Per-stream event tables
-- are created dynamically (see CreateSchema) and are not covered here.
CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) PRIMARY KEY,
    created_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Projection records: one row per projection, tracking checkpointed
-- state, per-stream read positions, lifecycle status, and an optional
-- write-lock lease.
CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) PRIMARY KEY,
    state LONGBLOB,
    positions JSON NOT NULL,
    status VARCHAR(64) NOT NULL DEFAULT 'IDLE',
    locked_until BIGINT NOT NULL DEFAULT 0,
    lock_owner VARCHAR(255) NOT NULL DEFAULT ''
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

CREATE INDEX idx_%s_status
    ON %s (status);
`,
		time.Now().Format(time.RFC3339),
		config.StreamsTable,
		config.ProjectionsTable,
		config.ProjectionsTable, config.ProjectionsTable,
	)
}
