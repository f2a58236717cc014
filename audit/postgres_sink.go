// Package audit writes a one-way trail of terminal task results to
// PostgreSQL. It is strictly an outward sink: nothing in the orchestrator
// reads from it, and a down audit database never blocks or fails a run. The
// in-memory orchestration state (§4 of the spec) remains the only source of
// truth while a run is live; this package exists for after-the-fact
// inspection, not crash recovery.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/flowmesh/orchestrator/observability"
)

// SinkConfig configures the Postgres-backed Sink.
type SinkConfig struct {
	DatabaseURL     string
	Table           string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	WriteTimeout    time.Duration
}

// DefaultSinkConfig returns defaults for a modestly sized audit table.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Table:           "task_audit_log",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		WriteTimeout:    5 * time.Second,
	}
}

// Record is one audited task result.
type Record struct {
	SessionID  string
	TaskID     string
	Role       string
	Status     string
	ResultJSON []byte
	ErrMessage string
	DurationMS int64
	StartedAt  time.Time
	EndedAt    time.Time
}

// Sink writes Records to PostgreSQL. A nil *Sink is always safe to call
// Record on — New returns nil, nil when no database URL is configured.
type Sink struct {
	db     *sql.DB
	table  string
	writeT time.Duration
	logger observability.Logger

	stmtInsert *sql.Stmt
}

// New opens the audit database and ensures the audit table exists. It
// returns (nil, nil) when cfg.DatabaseURL is empty, meaning audit logging is
// disabled — callers should treat that as a normal, expected configuration.
func New(cfg SinkConfig, logger observability.Logger) (*Sink, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil
	}
	if cfg.Table == "" {
		cfg.Table = DefaultSinkConfig().Table
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultSinkConfig().WriteTimeout
	}
	if logger == nil {
		logger = observability.NewNoOpLogger()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to ping database: %w", err)
	}

	s := &Sink{db: db, table: cfg.Table, writeT: cfg.WriteTimeout, logger: logger}

	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	stmt, err := db.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			session_id, task_id, role, status, result, error_message,
			duration_ms, started_at, ended_at, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, s.table))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to prepare insert: %w", err)
	}
	s.stmtInsert = stmt

	return s, nil
}

func (s *Sink) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			session_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			role TEXT NOT NULL,
			status TEXT NOT NULL,
			result JSONB,
			error_message TEXT,
			duration_ms BIGINT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)
	`, s.table))
	if err != nil {
		return fmt.Errorf("audit: failed to ensure table: %w", err)
	}
	return nil
}

// Record writes one terminal task result. Errors are logged, never
// returned: the audit trail is best-effort and must never affect the
// orchestration run it is observing.
func (s *Sink) Record(ctx context.Context, rec Record) {
	if s == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.writeT)
	defer cancel()

	result := rec.ResultJSON
	if result == nil {
		result = []byte("null")
	} else if !json.Valid(result) {
		s.logger.Error("audit: dropping non-JSON result", observability.String("task_id", rec.TaskID))
		result = []byte("null")
	}

	_, err := s.stmtInsert.ExecContext(ctx,
		rec.SessionID, rec.TaskID, rec.Role, rec.Status, result, rec.ErrMessage,
		rec.DurationMS, rec.StartedAt, rec.EndedAt, time.Now(),
	)
	if err != nil {
		s.logger.Error("audit: failed to record task result",
			observability.String("task_id", rec.TaskID),
			observability.String("error", err.Error()))
	}
}

// Close releases the prepared statement and database connection.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	return s.db.Close()
}
