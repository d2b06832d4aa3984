package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/triage-agents/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serialises writes to prevent SQLITE_BUSY
}

var _ Repository = (*SQLiteStore)(nil)

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS agents (
		role TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		name TEXT NOT NULL,
		model TEXT NOT NULL,
		instructions TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		thread_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		role TEXT,
		ticket TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER DEFAULT 0,
		error TEXT,
		transcript_json TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ReplaceAgents swaps the stored registry for agents in one transaction.
func (s *SQLiteStore) ReplaceAgents(ctx context.Context, agents []domain.Agent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, "replace agents", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, `DELETE FROM agents`); err != nil {
			return fmt.Errorf("clear agents: %w", err)
		}
		for _, a := range agents {
			createdAt := a.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now()
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO agents (role, agent_id, name, model, instructions, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				string(a.Role), a.ID, a.Name, a.Model, a.Instructions, createdAt.Unix(),
			); err != nil {
				return fmt.Errorf("insert agent %s: %w", a.Role, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit agents: %w", err)
		}
		return nil
	})
}

// GetAgents returns the stored registry in role order.
func (s *SQLiteStore) GetAgents(ctx context.Context) ([]domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, agent_id, name, model, instructions, created_at FROM agents`)
	if err != nil {
		return nil, fmt.Errorf("query agents: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close agent rows", "error", closeErr)
		}
	}()

	byRole := make(map[domain.Role]domain.Agent)
	for rows.Next() {
		var a domain.Agent
		var role string
		var createdAt int64
		if err := rows.Scan(&role, &a.ID, &a.Name, &a.Model, &a.Instructions, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		a.Role = domain.Role(role)
		a.CreatedAt = time.Unix(createdAt, 0)
		byRole[a.Role] = a
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}

	agents := make([]domain.Agent, 0, len(byRole))
	for _, role := range domain.Roles {
		if a, ok := byRole[role]; ok {
			agents = append(agents, a)
		}
	}
	return agents, nil
}

// RecordRun creates or updates a run record.
func (s *SQLiteStore) RecordRun(ctx context.Context, run *domain.RunRecord) error {
	if run == nil || run.RunID == "" {
		return errors.New("record run: run id is required")
	}
	transcriptJSON, err := json.Marshal(run.Transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var role, runErr any
	if run.Role != "" {
		role = string(run.Role)
	}
	if run.Error != "" {
		runErr = run.Error
	}

	query := `
		INSERT INTO runs (
			run_id, thread_id, agent_id, role, ticket, status,
			attempts, error, transcript_json, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			role = COALESCE(excluded.role, runs.role),
			ticket = CASE WHEN excluded.ticket = '' THEN runs.ticket ELSE excluded.ticket END,
			status = excluded.status,
			attempts = excluded.attempts,
			error = excluded.error,
			transcript_json = excluded.transcript_json,
			updated_at = excluded.updated_at`

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	return withBusyRetry(ctx, "record run", func() error {
		_, err := s.db.ExecContext(ctx, query,
			run.RunID, run.ThreadID, run.AgentID, role, run.Ticket, run.Status,
			run.Attempts, runErr, string(transcriptJSON),
			createdAt.Unix(), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("upsert run: %w", err)
		}
		return nil
	})
}

const runColumns = `run_id, thread_id, agent_id, role, ticket, status,
	attempts, error, transcript_json, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.RunRecord, error) {
	var run domain.RunRecord
	var role, runErr, transcriptJSON sql.NullString
	var createdAt, updatedAt int64

	if err := row.Scan(
		&run.RunID, &run.ThreadID, &run.AgentID, &role, &run.Ticket, &run.Status,
		&run.Attempts, &runErr, &transcriptJSON, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	run.Role = domain.Role(role.String)
	run.Error = runErr.String
	run.CreatedAt = time.Unix(createdAt, 0)
	run.UpdatedAt = time.Unix(updatedAt, 0)
	if transcriptJSON.Valid && transcriptJSON.String != "" && transcriptJSON.String != "null" {
		if err := json.Unmarshal([]byte(transcriptJSON.String), &run.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	return &run, nil
}

// GetRun retrieves a run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan run row: %w", err)
	}
	return run, nil
}

// ListRuns returns up to limit runs, most recently updated first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*domain.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close run rows", "error", closeErr)
		}
	}()

	var runs []*domain.RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
