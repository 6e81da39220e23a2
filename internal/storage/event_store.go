// Package storage provides the SQLite-backed event store for nexus-router.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nexus-io/nexus-router/internal/canonicaljson"
	"github.com/nexus-io/nexus-router/internal/config"
	"github.com/nexus-io/nexus-router/internal/run"
)

const (
	// MaxListLimit is the upper bound on ListRuns page size.
	MaxListLimit = 10000

	// createdAtFormat is RFC 3339 with millisecond precision, always UTC.
	createdAtFormat = "2006-01-02T15:04:05.000Z07:00"

	migrationsTable = "schema_migrations"
)

// Compile-time interface assertion: EventStore implements run.Store.
var _ run.Store = (*EventStore)(nil)

// EventStore implements run.Store with a SQLite backend (modernc.org/sqlite,
// pure Go).
//
// Sequencing: seq allocation is serialized per process by a writer mutex and
// per file by SQLite's locking combined with the UNIQUE(run_id, seq)
// constraint, so seq is dense from 0 for every run even with concurrent runs
// against the same file.
//
// The special path ":memory:" opens an ephemeral, process-local database
// that vanishes on Close.
type EventStore struct {
	db        *sql.DB
	logger    *slog.Logger
	dbPath    string
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates a store at dbPath with default configuration and
// initializes the schema if absent.
func Open(dbPath string) (*EventStore, error) {
	return NewEventStore(&Config{DBPath: dbPath, BusyTimeout: defaultBusyTimeout})
}

// NewEventStore opens or creates a SQLite store per cfg, applies embedded
// migrations, and returns a handle ready for use.
func NewEventStore(cfg *Config) (*EventStore, error) {
	if cfg == nil {
		return nil, ErrDBPathEmpty
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", run.ErrStoreIO, err)
	}

	// A single connection keeps ":memory:" stores coherent (each SQLite
	// connection would otherwise see its own empty database) and serializes
	// writes the way SQLite expects.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	busyMillis := cfg.BusyTimeout.Milliseconds()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyMillis)); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: failed to set busy_timeout: %w", run.ErrStoreIO, err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: failed to enable foreign keys: %w", run.ErrStoreIO, err)
	}

	if err := migrateSchema(db); err != nil {
		_ = db.Close()

		return nil, err
	}

	store := &EventStore{
		db: db,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
		dbPath: cfg.DBPath,
	}

	store.logger.Debug("event store opened",
		slog.String("db_path", cfg.DBPath),
		slog.Duration("busy_timeout", cfg.BusyTimeout),
	)

	return store, nil
}

// migrateSchema applies all pending embedded migrations.
func migrateSchema(db *sql.DB) error {
	if err := validateEmbeddedMigrations(); err != nil {
		return fmt.Errorf("%w: embedded migration validation failed: %w", run.ErrStoreIO, err)
	}

	sub, err := migrationsFS()
	if err != nil {
		return fmt.Errorf("%w: %w", run.ErrStoreIO, err)
	}

	sourceDriver, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("%w: failed to create embedded migration source: %w", run.ErrStoreIO, err)
	}

	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return fmt.Errorf("%w: failed to create sqlite migrate driver: %w", run.ErrStoreIO, err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("%w: failed to create migrate instance: %w", run.ErrStoreIO, err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: migration up failed: %w", run.ErrStoreIO, err)
	}

	return nil
}

// Close releases the database handle. Safe to call multiple times.
func (s *EventStore) Close() error {
	s.closeOnce.Do(func() {
		if s.db != nil {
			s.closeErr = s.db.Close()
		}
	})

	return s.closeErr
}

// CreateRun implements run.Store.
func (s *EventStore) CreateRun(ctx context.Context, mode run.Mode, goal string) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	runID := uuid.NewString()
	createdAt := nowUTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, mode, goal, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, string(mode), goal, string(run.StatusRunning), createdAt,
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to insert run: %w", run.ErrStoreIO, err)
	}

	s.logger.Debug("run created",
		slog.String("run_id", runID),
		slog.String("mode", string(mode)),
	)

	return runID, nil
}

// Append implements run.Store. The next seq is allocated inside the insert
// transaction: SELECT COALESCE(MAX(seq)+1, 0) then INSERT, so the sequence
// stays dense even when multiple handles write to the same file.
func (s *EventStore) Append(
	ctx context.Context,
	runID string,
	eventType run.EventType,
	payload run.Payload,
) (string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if payload == nil {
		payload = run.Payload{}
	}

	payloadJSON, err := canonicaljson.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: failed to encode event payload: %w", run.ErrStoreIO, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("%w: failed to begin transaction: %w", run.ErrStoreIO, err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE run_id = ?`, runID,
	).Scan(&exists); err != nil {
		return "", fmt.Errorf("%w: failed to check run existence: %w", run.ErrStoreIO, err)
	}

	if exists == 0 {
		return "", fmt.Errorf("%w: %s", run.ErrRunNotFound, runID)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM events WHERE run_id = ?`, runID,
	).Scan(&seq); err != nil {
		return "", fmt.Errorf("%w: failed to allocate seq: %w", run.ErrStoreIO, err)
	}

	eventID := uuid.NewString()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (event_id, run_id, seq, type, payload_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		eventID, runID, seq, string(eventType), string(payloadJSON), nowUTC(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: failed to insert event: %w", run.ErrStoreIO, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: failed to commit event: %w", run.ErrStoreIO, err)
	}

	return eventID, nil
}

// SetRunStatus implements run.Store.
func (s *EventStore) SetRunStatus(ctx context.Context, runID string, status run.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: target status %s is not terminal", run.ErrInvalidTransition, status)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", run.ErrStoreIO, err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	var current string

	err = tx.QueryRowContext(ctx, `SELECT status FROM runs WHERE run_id = ?`, runID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", run.ErrRunNotFound, runID)
	}

	if err != nil {
		return fmt.Errorf("%w: failed to read run status: %w", run.ErrStoreIO, err)
	}

	if run.Status(current).Terminal() {
		// Repeating the same terminal status is idempotent.
		if run.Status(current) == status {
			return nil
		}

		return fmt.Errorf("%w: run %s is already %s", run.ErrInvalidTransition, runID, current)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE run_id = ?`, string(status), runID,
	); err != nil {
		return fmt.Errorf("%w: failed to update run status: %w", run.ErrStoreIO, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit status update: %w", run.ErrStoreIO, err)
	}

	return nil
}

// GetRun implements run.Store.
func (s *EventStore) GetRun(ctx context.Context, runID string) (*run.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, mode, goal, status, created_at FROM runs WHERE run_id = ?`, runID,
	)

	record, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", run.ErrRunNotFound, runID)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: failed to read run: %w", run.ErrStoreIO, err)
	}

	return record, nil
}

// ListRuns implements run.Store. Runs are ordered by created_at descending;
// limit is clamped to [0, MaxListLimit] and a negative offset is treated
// as 0.
func (s *EventStore) ListRuns(ctx context.Context, filter run.Filter, limit, offset int) ([]*run.Run, error) {
	if limit < 0 {
		limit = 0
	}

	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	if offset < 0 {
		offset = 0
	}

	where, params := buildRunFilter(filter)

	query := `SELECT run_id, mode, goal, status, created_at FROM runs` +
		where +
		` ORDER BY created_at DESC, run_id LIMIT ? OFFSET ?`
	params = append(params, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list runs: %w", run.ErrStoreIO, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	runs := make([]*run.Run, 0, limit)

	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan run: %w", run.ErrStoreIO, err)
		}

		runs = append(runs, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating runs: %w", run.ErrStoreIO, err)
	}

	return runs, nil
}

// CountRuns implements run.Store.
func (s *EventStore) CountRuns(ctx context.Context, filter run.Filter) (*run.Counts, error) {
	where, params := buildRunFilter(filter)

	query := `SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'COMPLETED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'FAILED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'RUNNING' THEN 1 ELSE 0 END), 0)
		FROM runs` + where

	var counts run.Counts

	err := s.db.QueryRowContext(ctx, query, params...).
		Scan(&counts.Total, &counts.Completed, &counts.Failed, &counts.Running)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count runs: %w", run.ErrStoreIO, err)
	}

	return &counts, nil
}

// ReadEvents implements run.Store.
func (s *EventStore) ReadEvents(ctx context.Context, runID string) ([]*run.StoredEvent, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, run_id, seq, type, payload_json, created_at
		 FROM events WHERE run_id = ? ORDER BY seq ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read events: %w", run.ErrStoreIO, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var events []*run.StoredEvent

	for rows.Next() {
		var (
			event       run.StoredEvent
			eventType   string
			payloadJSON string
		)

		if err := rows.Scan(
			&event.EventID, &event.RunID, &event.Seq, &eventType, &payloadJSON, &event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: failed to scan event: %w", run.ErrStoreIO, err)
		}

		event.Type = run.EventType(eventType)

		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("%w: failed to decode event payload: %w", run.ErrStoreIO, err)
		}

		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: error iterating events: %w", run.ErrStoreIO, err)
	}

	return events, nil
}

// scanner abstracts *sql.Row and *sql.Rows for shared run scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*run.Run, error) {
	var (
		record run.Run
		mode   string
		status string
	)

	if err := row.Scan(&record.RunID, &mode, &record.Goal, &status, &record.CreatedAt); err != nil {
		return nil, err
	}

	record.Mode = run.Mode(mode)
	record.Status = run.Status(status)

	return &record, nil
}

// buildRunFilter translates a run.Filter into a WHERE clause and positional
// parameters. Zero-valued fields add no constraint.
func buildRunFilter(filter run.Filter) (string, []any) {
	var (
		conditions []string
		params     []any
	)

	if filter.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		params = append(params, filter.RunID)
	}

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		params = append(params, string(filter.Status))
	}

	if filter.Since != "" {
		conditions = append(conditions, "created_at >= ?")
		params = append(params, filter.Since)
	}

	if len(conditions) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conditions, " AND "), params
}

func nowUTC() string {
	return time.Now().UTC().Format(createdAtFormat)
}
