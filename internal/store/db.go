package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/baxromumarov/telemetry-relay/internal/telemetry"
)

var ErrNotFound = errors.New("store: not found")

type Store struct {
	db *sql.DB
}

func NewStore(connStr string) (*Store, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) RunMigrations(schemaPath string) error {
	content, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

func clampLimit(limit int, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type Run struct {
	ID            string     `json:"id"`
	Trigger       string     `json:"trigger"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	VehicleCount  int        `json:"vehicle_count"`
	FilteredCount int        `json:"filtered_count"`
	NoticeCount   int        `json:"notice_count"`
	RecordsAdded  int        `json:"records_added"`
	SinkTotal     *int       `json:"sink_total,omitempty"`
	Error         string     `json:"error,omitempty"`
}

type Snapshot struct {
	VehicleCD    float64         `json:"vehicle_cd"`
	VehicleName  string          `json:"vehicle_name"`
	DataDateTime *string         `json:"data_datetime,omitempty"`
	RunID        string          `json:"run_id,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (s *Store) CreateRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relay_runs (id, trigger, status, started_at)
VALUES ($1, $2, $3, $4)
`, run.ID, run.Trigger, string(run.Status), run.StartedAt)
	return err
}

func (s *Store) FinishRun(ctx context.Context, run Run) error {
	var sinkTotal sql.NullInt64
	if run.SinkTotal != nil {
		sinkTotal = sql.NullInt64{Int64: int64(*run.SinkTotal), Valid: true}
	}
	var runErr sql.NullString
	if run.Error != "" {
		runErr = sql.NullString{String: run.Error, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE relay_runs
SET status = $2,
    finished_at = $3,
    vehicle_count = $4,
    filtered_count = $5,
    notice_count = $6,
    records_added = $7,
    sink_total = $8,
    error = $9
WHERE id = $1
`, run.ID, string(run.Status), run.FinishedAt, run.VehicleCount, run.FilteredCount, run.NoticeCount, run.RecordsAdded, sinkTotal, runErr)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `id, trigger, status, started_at, finished_at, vehicle_count, filtered_count, notice_count, records_added, sink_total, COALESCE(error, '')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r          Run
		status     string
		finishedAt sql.NullTime
		sinkTotal  sql.NullInt64
	)
	if err := row.Scan(
		&r.ID,
		&r.Trigger,
		&status,
		&r.StartedAt,
		&finishedAt,
		&r.VehicleCount,
		&r.FilteredCount,
		&r.NoticeCount,
		&r.RecordsAdded,
		&sinkTotal,
		&r.Error,
	); err != nil {
		return Run{}, err
	}

	r.Status = RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	if sinkTotal.Valid {
		n := int(sinkTotal.Int64)
		r.SinkTotal = &n
	}
	return r, nil
}

func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM relay_runs WHERE id = $1`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	return r, err
}

func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, error) {
	limit = clampLimit(limit, 20, 200)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM relay_runs
ORDER BY started_at DESC
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SaveSnapshots upserts the latest normalized record for every vehicle code.
func (s *Store) SaveSnapshots(ctx context.Context, runID string, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO vehicle_snapshots (vehicle_cd, vehicle_name, data_datetime, run_id, payload, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (vehicle_cd) DO UPDATE SET
    vehicle_name = EXCLUDED.vehicle_name,
    data_datetime = EXCLUDED.data_datetime,
    run_id = EXCLUDED.run_id,
    payload = EXCLUDED.payload,
    updated_at = NOW()
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal snapshot %v: %w", rec.VehicleCD, err)
		}
		var name string
		if rec.VehicleName != nil {
			name = *rec.VehicleName
		}
		if _, err := stmt.ExecContext(ctx, rec.VehicleCD, name, rec.DataDateTime, runID, string(payload)); err != nil {
			return fmt.Errorf("failed to save snapshot %v: %w", rec.VehicleCD, err)
		}
	}
	return tx.Commit()
}

func (s *Store) ListSnapshots(ctx context.Context, limit, offset int) ([]Snapshot, error) {
	limit = clampLimit(limit, 20, 200)
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT vehicle_cd, vehicle_name, data_datetime, COALESCE(run_id::text, ''), payload, updated_at
FROM vehicle_snapshots
ORDER BY updated_at DESC, vehicle_cd
LIMIT $1 OFFSET $2
`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var (
			snap    Snapshot
			dt      sql.NullString
			payload []byte
		)
		if err := rows.Scan(&snap.VehicleCD, &snap.VehicleName, &dt, &snap.RunID, &payload, &snap.UpdatedAt); err != nil {
			return nil, err
		}
		if dt.Valid {
			v := dt.String
			snap.DataDateTime = &v
		}
		snap.Payload = json.RawMessage(payload)
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// DeleteOldRuns removes finished runs and snapshots not refreshed within olderThan.
func (s *Store) DeleteOldRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)

	if _, err := s.db.ExecContext(ctx, `
DELETE FROM vehicle_snapshots
WHERE updated_at < $1
`, cutoff); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
DELETE FROM relay_runs
WHERE started_at < $1 AND status IN ('completed', 'failed')
`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
