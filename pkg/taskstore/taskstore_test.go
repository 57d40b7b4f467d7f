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
	"path/filepath"
	"testing"
	"time"

	"github.com/pgedge/recon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "nested", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreCreateGetUpdate(t *testing.T) {
	store := newTestStore(t)
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	rec := Record{
		RunID:      "run-1",
		RunType:    RunTypeValidation,
		Status:     StatusRunning,
		StartedAt:  started,
		RunContext: map[string]any{"tables": float64(3)},
	}
	require.NoError(t, store.Create(rec))

	got, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, started, got.StartedAt)
	assert.Equal(t, float64(3), got.RunContext["tables"])
	assert.True(t, got.FinishedAt.IsZero())

	rec.Status = StatusCompleted
	rec.Counts = CountsOf(&types.RunSummary{TotalTables: 3, MatchedTables: 1, TablesWithDifferences: 1, SkippedTables: 1})
	rec.ReportPath = "reports/run-1.html"
	rec.FinishedAt = started.Add(90 * time.Second)
	rec.TimeTaken = 90
	require.NoError(t, store.Update(rec))

	got, err = store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, Counts{Total: 3, Matched: 1, Differences: 1, Skipped: 1}, got.Counts)
	assert.Equal(t, "reports/run-1.html", got.ReportPath)
	assert.Equal(t, float64(90), got.TimeTaken)
}

func TestStoreErrors(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(" ")
	assert.Error(t, err)

	assert.ErrorIs(t, store.Update(Record{RunID: "missing", Status: StatusFailed}), ErrNotFound)
	assert.Error(t, store.Create(Record{RunID: "x", Status: StatusRunning}))
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Create(Record{
			RunID:     id,
			RunType:   RunTypeScheduled,
			Status:    StatusCompleted,
			JobName:   "nightly",
			StartedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	runs, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].RunID)
	assert.Equal(t, "b", runs[1].RunID)
	assert.Equal(t, "nightly", runs[0].JobName)
}

func TestRecorderWithoutStore(t *testing.T) {
	var r *Recorder
	assert.False(t, r.HasStore())
	assert.NoError(t, r.Create(Record{}))
	assert.NoError(t, r.Update(Record{}))
	assert.NoError(t, r.Close())
}

func TestRecorderSkipsUpdateBeforeCreate(t *testing.T) {
	store := newTestStore(t)
	r, err := NewRecorder(store, "")
	require.NoError(t, err)
	assert.False(t, r.OwnsStore())

	require.NoError(t, r.Update(Record{RunID: "never-created", Status: StatusFailed}))
	require.NoError(t, r.Create(Record{RunID: "r", RunType: RunTypeReport, Status: StatusRunning}))
	assert.True(t, r.Created())
	require.NoError(t, r.Update(Record{RunID: "r", Status: StatusCompleted}))

	got, err := store.Get("r")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestResolvePath(t *testing.T) {
	t.Setenv("RECON_RUNS_DB", "/tmp/from-env.db")
	assert.Equal(t, "explicit.db", resolvePath("explicit.db"))
	assert.Equal(t, "/tmp/from-env.db", resolvePath(""))
	t.Setenv("RECON_RUNS_DB", "")
	assert.Equal(t, filepath.Join(".", "recon_runs.db"), resolvePath(""))
}
