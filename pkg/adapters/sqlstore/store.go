// Package sqlstore implements ports.StateStore and ports.ProgramStore on a
// relational database. SQLite (modernc.org/sqlite, no cgo) and MySQL
// (go-sql-driver/mysql) are supported through dialects.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/weave/pkg/domain"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect holds the statements that differ between databases.
type Dialect struct {
	Name   string
	Schema []string

	// UpsertCheckpoint takes (run_id, at_ms, data) and must keep the newer row.
	UpsertCheckpoint string
	// InsertActivity takes (run_id, node_id, attempt, data) and ignores duplicates.
	InsertActivity string
	// InsertProgram takes (id, data) and ignores duplicates.
	InsertProgram string
}

// SQLite is the dialect of modernc.org/sqlite.
var SQLite = Dialect{
	Name: "sqlite",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS weave_checkpoints (
			run_id TEXT PRIMARY KEY,
			at_ms INTEGER NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS weave_activities (
			run_id TEXT NOT NULL,
			node_id TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			data TEXT NOT NULL,
			PRIMARY KEY (run_id, node_id, attempt)
		)`,
		`CREATE TABLE IF NOT EXISTS weave_programs (
			id TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
	},
	UpsertCheckpoint: `INSERT INTO weave_checkpoints (run_id, at_ms, data) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET at_ms = excluded.at_ms, data = excluded.data
		WHERE excluded.at_ms >= weave_checkpoints.at_ms`,
	InsertActivity: `INSERT OR IGNORE INTO weave_activities (run_id, node_id, attempt, data) VALUES (?, ?, ?, ?)`,
	InsertProgram:  `INSERT OR IGNORE INTO weave_programs (id, data) VALUES (?, ?)`,
}

// MySQL is the dialect of go-sql-driver/mysql.
// Assignments run left to right, so data is updated before at_ms.
var MySQL = Dialect{
	Name: "mysql",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS weave_checkpoints (
			run_id VARCHAR(255) NOT NULL PRIMARY KEY,
			at_ms BIGINT NOT NULL,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS weave_activities (
			run_id VARCHAR(255) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			attempt INT NOT NULL,
			data JSON NOT NULL,
			PRIMARY KEY (run_id, node_id, attempt)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS weave_programs (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			data JSON NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	UpsertCheckpoint: `INSERT INTO weave_checkpoints (run_id, at_ms, data) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			data = IF(VALUES(at_ms) >= at_ms, VALUES(data), data),
			at_ms = GREATEST(at_ms, VALUES(at_ms))`,
	InsertActivity: `INSERT IGNORE INTO weave_activities (run_id, node_id, attempt, data) VALUES (?, ?, ?, ?)`,
	InsertProgram:  `INSERT IGNORE INTO weave_programs (id, data) VALUES (?, ?)`,
}

// Store is a database-backed state and program store.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) the database file at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}

	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return New(ctx, db, SQLite)
}

// OpenMySQL connects to the database named in dsn.
func OpenMySQL(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL DSN: %w", err)
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}
	return New(ctx, db, MySQL)
}

// New wraps db and creates the tables if they do not exist.
func New(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	for _, stmt := range d.Schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create %s tables: %w", d.Name, err)
		}
	}
	return &Store{db: db, dialect: d}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveCheckpoint upserts cp unless the stored checkpoint is newer.
func (s *Store) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.UpsertCheckpoint, cp.RunID, cp.AtMs, string(data)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the checkpoint of runID.
func (s *Store) LoadCheckpoint(ctx context.Context, runID string) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	err := s.queryJSON(ctx, &cp, `SELECT data FROM weave_checkpoints WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, domain.ErrCheckpointNotFound
	}
	if err != nil {
		return cp, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return cp, nil
}

// AppendActivity inserts rec; an existing attempt is left untouched.
func (s *Store) AppendActivity(ctx context.Context, rec domain.ActivityRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.InsertActivity, rec.RunID, rec.NodeID, rec.Attempt, string(data)); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

// GetActivity returns a recorded attempt.
func (s *Store) GetActivity(ctx context.Context, runID, nodeID string, attempt int) (domain.ActivityRecord, error) {
	var rec domain.ActivityRecord
	err := s.queryJSON(ctx, &rec,
		`SELECT data FROM weave_activities WHERE run_id = ? AND node_id = ? AND attempt = ?`,
		runID, nodeID, attempt)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, domain.ErrActivityNotFound
	}
	if err != nil {
		return rec, fmt.Errorf("failed to get activity: %w", err)
	}
	return rec, nil
}

// SaveProgram inserts p unless its id exists.
func (s *Store) SaveProgram(ctx context.Context, p *domain.Program) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal program: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.InsertProgram, p.ID, string(data)); err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

// LoadProgram returns the program stored under id.
func (s *Store) LoadProgram(ctx context.Context, id string) (*domain.Program, error) {
	var p domain.Program
	err := s.queryJSON(ctx, &p, `SELECT data FROM weave_programs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load program: %w", err)
	}
	return &p, nil
}

func (s *Store) queryJSON(ctx context.Context, v any, query string, args ...any) error {
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return nil
}
