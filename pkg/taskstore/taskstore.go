// ///////////////////////////////////////////////////////////////////////////
//
// # RECON - Migration Data Reconciliation
//
// Copyright (C) 2023 - 2026, pgEdge (https://www.pgedge.com/)
//
// This software is released under the PostgreSQL License:
// https://opensource.org/license/postgresql
//
// ///////////////////////////////////////////////////////////////////////////

package taskstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pgedge/recon/pkg/types"
)

const (
	StatusPending   = "PENDING"
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

const (
	RunTypeValidation = "VALIDATION"
	RunTypeScheduled  = "SCHEDULED_VALIDATION"
	RunTypeReport     = "REPORT"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS recon_runs (
    run_id                  TEXT PRIMARY KEY,
    run_type                TEXT NOT NULL,
    run_status              TEXT NOT NULL,
    job_name                TEXT,
    run_context             TEXT,
    total_tables            INTEGER NOT NULL DEFAULT 0,
    matched_tables          INTEGER NOT NULL DEFAULT 0,
    tables_with_differences INTEGER NOT NULL DEFAULT 0,
    skipped_tables          INTEGER NOT NULL DEFAULT 0,
    errored_tables          INTEGER NOT NULL DEFAULT 0,
    report_path             TEXT,
    error_message           TEXT,
    started_at              TEXT,
    finished_at             TEXT,
    time_taken              REAL
);`

var ErrNotFound = errors.New("run not found")

type Store struct {
	db *sql.DB
}

// Record is one validation run.
type Record struct {
	RunID         string         `json:"run_id"`
	RunType       string         `json:"run_type"`
	Status        string         `json:"status"`
	JobName       string         `json:"job_name,omitempty"`
	Counts        Counts         `json:"counts"`
	ReportPath    string         `json:"report_path,omitempty"`
	ErrorMessage  string         `json:"error,omitempty"`
	StartedAt     time.Time      `json:"started_at,omitzero"`
	FinishedAt    time.Time      `json:"finished_at,omitzero"`
	TimeTaken     float64        `json:"time_taken"`
	RunContext    map[string]any `json:"context,omitempty"`
	RawRunContext string         `json:"-"`
}

type Counts struct {
	Total       int `json:"total_tables"`
	Matched     int `json:"matched_tables"`
	Differences int `json:"tables_with_differences"`
	Skipped     int `json:"skipped_tables"`
	Errored     int `json:"errored_tables"`
}

func CountsOf(s *types.RunSummary) Counts {
	if s == nil {
		return Counts{}
	}
	return Counts{
		Total:       s.TotalTables,
		Matched:     s.MatchedTables,
		Differences: s.TablesWithDifferences,
		Skipped:     s.SkippedTables,
		Errored:     s.ErroredTables,
	}
}

// Recorder writes run records when a store is available and is a no-op
// otherwise, so callers do not have to branch on it.
type Recorder struct {
	store     *Store
	ownsStore bool
	created   bool
}

func NewRecorder(existing *Store, path string) (*Recorder, error) {
	if existing != nil {
		return &Recorder{store: existing}, nil
	}
	store, err := New(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{store: store, ownsStore: true}, nil
}

func (r *Recorder) Store() *Store {
	if r == nil {
		return nil
	}
	return r.store
}

func (r *Recorder) OwnsStore() bool {
	if r == nil {
		return false
	}
	return r.ownsStore
}

func (r *Recorder) HasStore() bool {
	return r != nil && r.store != nil
}

func (r *Recorder) Created() bool {
	return r != nil && r.created
}

func (r *Recorder) Create(rec Record) error {
	if !r.HasStore() {
		return nil
	}
	if err := r.store.Create(rec); err != nil {
		return err
	}
	r.created = true
	return nil
}

func (r *Recorder) Update(rec Record) error {
	if !r.HasStore() || !r.created {
		return nil
	}
	return r.store.Update(rec)
}

func (r *Recorder) Close() error {
	if !r.OwnsStore() || r.store == nil {
		return nil
	}
	err := r.store.Close()
	r.store = nil
	return err
}

func New(path string) (*Store, error) {
	sqlitePath := resolvePath(path)
	if err := ensureDir(sqlitePath); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite3", sqlitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const selectColumns = `run_id, run_type, run_status, job_name, run_context,
    total_tables, matched_tables, tables_with_differences, skipped_tables, errored_tables,
    report_path, error_message, started_at, finished_at, time_taken`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) Get(runID string) (Record, error) {
	if strings.TrimSpace(runID) == "" {
		return Record{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM recon_runs WHERE run_id = ?`, runID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("fetch run %s: %w", runID, err)
	}
	return rec, nil
}

// List returns the most recent runs first.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM recon_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec        Record
		jobName    sql.NullString
		ctxVal     sql.NullString
		reportPath sql.NullString
		errMsg     sql.NullString
		startedAt  sql.NullString
		finishedAt sql.NullString
		timeTaken  sql.NullFloat64
	)
	if err := row.Scan(
		&rec.RunID,
		&rec.RunType,
		&rec.Status,
		&jobName,
		&ctxVal,
		&rec.Counts.Total,
		&rec.Counts.Matched,
		&rec.Counts.Differences,
		&rec.Counts.Skipped,
		&rec.Counts.Errored,
		&reportPath,
		&errMsg,
		&startedAt,
		&finishedAt,
		&timeTaken,
	); err != nil {
		return Record{}, err
	}

	rec.JobName = jobName.String
	rec.ReportPath = reportPath.String
	rec.ErrorMessage = errMsg.String
	rec.TimeTaken = timeTaken.Float64
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, startedAt.String); err == nil {
			rec.StartedAt = t
		}
	}
	if finishedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAt.String); err == nil {
			rec.FinishedAt = t
		}
	}
	if ctxVal.Valid && strings.TrimSpace(ctxVal.String) != "" {
		rec.RawRunContext = ctxVal.String
		var runContext map[string]any
		if err := json.Unmarshal([]byte(ctxVal.String), &runContext); err == nil {
			rec.RunContext = runContext
		}
	}
	return rec, nil
}

func (s *Store) Create(rec Record) error {
	if err := rec.validateForCreate(); err != nil {
		return err
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO recon_runs (`+selectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.RunType,
		rec.Status,
		nullableString(rec.JobName),
		ctxVal,
		rec.Counts.Total,
		rec.Counts.Matched,
		rec.Counts.Differences,
		rec.Counts.Skipped,
		rec.Counts.Errored,
		nullableString(rec.ReportPath),
		nullableString(rec.ErrorMessage),
		timeOrNil(rec.StartedAt),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *Store) Update(rec Record) error {
	if strings.TrimSpace(rec.RunID) == "" {
		return errors.New("run id is required")
	}
	ctxVal, err := rec.contextValue()
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE recon_runs SET
            run_status = ?,
            run_context = ?,
            total_tables = ?,
            matched_tables = ?,
            tables_with_differences = ?,
            skipped_tables = ?,
            errored_tables = ?,
            report_path = ?,
            error_message = ?,
            finished_at = ?,
            time_taken = ?
        WHERE run_id = ?`,
		rec.Status,
		ctxVal,
		rec.Counts.Total,
		rec.Counts.Matched,
		rec.Counts.Differences,
		rec.Counts.Skipped,
		rec.Counts.Errored,
		nullableString(rec.ReportPath),
		nullableString(rec.ErrorMessage),
		timeOrNil(rec.FinishedAt),
		rec.TimeTaken,
		rec.RunID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("ensure recon_runs schema: %w", err)
	}
	return nil
}

func (r Record) validateForCreate() error {
	if strings.TrimSpace(r.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.RunType) == "" {
		return errors.New("run type is required")
	}
	if strings.TrimSpace(r.Status) == "" {
		return errors.New("run status is required")
	}
	return nil
}

func (r Record) contextValue() (any, error) {
	if len(r.RunContext) > 0 {
		blob, err := json.Marshal(r.RunContext)
		if err != nil {
			return nil, err
		}
		return string(blob), nil
	}
	if strings.TrimSpace(r.RawRunContext) != "" {
		return r.RawRunContext, nil
	}
	return nil, nil
}

func resolvePath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := os.Getenv("RECON_RUNS_DB"); strings.TrimSpace(env) != "" {
		return env
	}
	return filepath.Join(".", "recon_runs.db")
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func nullableString(val string) any {
	if strings.TrimSpace(val) == "" {
		return nil
	}
	return val
}

func timeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
