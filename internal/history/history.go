// Package history provides PostgreSQL persistence for quote runs. It is
// optional: when no database URL is configured the application runs without
// history.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sergio/cotizador/internal/types"
)

// DB wraps a PostgreSQL connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database.
func Connect(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db != nil && db.pool != nil {
		db.pool.Close()
	}
}

// EnsureSchema creates the history tables when they do not exist yet.
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS quote_runs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			plate TEXT NOT NULL,
			client_document TEXT NOT NULL,
			client_name TEXT NOT NULL,
			status TEXT NOT NULL,
			report_path TEXT,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		);
		CREATE TABLE IF NOT EXISTS quote_outcomes (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			run_id UUID NOT NULL REFERENCES quote_runs(id) ON DELETE CASCADE,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			failed_step TEXT,
			error_message TEXT,
			artifact_path TEXT,
			plans JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (run_id, provider)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure history schema: %w", err)
	}
	return nil
}

// CreateRun records the start of a quote run and returns its ID.
func (db *DB) CreateRun(ctx context.Context, req *types.QuoteRequest) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO quote_runs (plate, client_document, client_name, status)
		 VALUES ($1, $2, $3, 'running')
		 RETURNING id`,
		req.Vehicle.Plate, req.Client.DocumentNumber, req.ClientFullName(),
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// CompleteRun marks a quote run as finished.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status types.FlowStatus, reportPath string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE quote_runs SET status = $1, report_path = NULLIF($2, ''), completed_at = NOW() WHERE id = $3`,
		string(status), reportPath, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// SaveOutcome stores one provider's terminal outcome and extracted plans.
func (db *DB) SaveOutcome(ctx context.Context, runID uuid.UUID, outcome types.Outcome, result *types.QuoteResult) error {
	var plansJSON []byte
	if result != nil {
		var err error
		plansJSON, err = json.Marshal(result.Plans)
		if err != nil {
			return fmt.Errorf("failed to marshal plans: %w", err)
		}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO quote_outcomes (run_id, provider, status, failed_step, error_message, artifact_path, plans)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7)
		 ON CONFLICT (run_id, provider)
		 DO UPDATE SET status = $3, failed_step = NULLIF($4, ''), error_message = NULLIF($5, ''),
		               artifact_path = NULLIF($6, ''), plans = $7, created_at = NOW()`,
		runID, outcome.ProviderID, string(outcome.Status),
		outcome.FailedStep, errorMessage(outcome), outcome.ArtifactPath, plansJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome for %s: %w", outcome.ProviderID, err)
	}
	return nil
}

// Run is one recorded quote run.
type Run struct {
	ID             uuid.UUID
	Plate          string
	ClientDocument string
	ClientName     string
	Status         string
	ReportPath     *string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// RecentRuns returns the latest runs, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, plate, client_document, client_name, status, report_path, started_at, completed_at
		 FROM quote_runs
		 ORDER BY started_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Plate, &r.ClientDocument, &r.ClientName,
			&r.Status, &r.ReportPath, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// GetRun retrieves one run by ID, or nil when absent.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	var r Run
	err := db.pool.QueryRow(ctx,
		`SELECT id, plate, client_document, client_name, status, report_path, started_at, completed_at
		 FROM quote_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.Plate, &r.ClientDocument, &r.ClientName,
		&r.Status, &r.ReportPath, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

func errorMessage(outcome types.Outcome) string {
	if outcome.Err == nil {
		return ""
	}
	return outcome.Err.Error()
}
