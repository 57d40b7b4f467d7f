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

package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/internal/infra/dbexec/mocks"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/pgedge/recon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteDB(t *testing.T, name string, stmts ...string) dbexec.Executor {
	t.Helper()
	exec := dbexec.NewSQLXExecutor(queries.SQLite, "sqlite3", filepath.Join(t.TempDir(), name))
	for _, s := range stmts {
		_, err := exec.Query(context.Background(), s)
		require.NoError(t, err, s)
	}
	return exec
}

func TestValidationTaskSQLiteEndToEnd(t *testing.T) {
	source := sqliteDB(t, "source.db",
		`CREATE TABLE orders (order_id INTEGER PRIMARY KEY, status TEXT, amount REAL)`,
		`INSERT INTO orders VALUES (1, 'SHIPPED', 10.5), (2, 'SHIPPED', 20), (3, 'NEW', NULL)`,
		`CREATE TABLE regions (region TEXT, id INTEGER, name TEXT, PRIMARY KEY (region, id))`,
		`INSERT INTO regions VALUES ('EU', 1, 'Berlin'), ('US', 1, 'Boston'), ('EU', 2, 'Paris')`,
		`CREATE TABLE audit (msg TEXT)`,
		`INSERT INTO audit VALUES ('x')`,
		`CREATE TABLE empty_src (id INTEGER PRIMARY KEY)`,
	)
	target := sqliteDB(t, "target.db",
		`CREATE TABLE orders (order_id INTEGER PRIMARY KEY, status TEXT, amount REAL)`,
		`INSERT INTO orders VALUES (1, 'SHIPPED', 10.5), (2, 'PENDING', 20)`,
		`CREATE TABLE regions (region TEXT, id INTEGER, name TEXT, PRIMARY KEY (region, id))`,
		`INSERT INTO regions VALUES ('EU', 1, 'Berlin'), ('US', 1, 'Boston'), ('EU', 2, 'Paris'), ('US', 9, 'Extra')`,
		`CREATE TABLE audit (msg TEXT)`,
		`CREATE TABLE empty_src (id INTEGER PRIMARY KEY)`,
	)

	dir := t.TempDir()
	task := NewValidationTask()
	task.Tables = "main.orders,main.regions,main.audit,main.empty_src"
	task.LogDir = filepath.Join(dir, "logs")
	task.ReportDir = filepath.Join(dir, "reports")
	task.TaskStorePath = filepath.Join(dir, "runs.db")
	task.Parallelism = 2
	task.Quiet = true
	task.Source = source
	task.Target = target

	require.NoError(t, task.RunChecks(false))
	require.NoError(t, task.ExecuteTask())

	rs := task.Summary
	require.NotNil(t, rs)
	assert.Equal(t, 4, rs.TotalTables)
	assert.Equal(t, 1, rs.MatchedTables, "regions matches; the extra target row is never compared")
	assert.Equal(t, 1, rs.TablesWithDifferences)
	assert.Equal(t, 2, rs.SkippedTables)
	assert.Zero(t, rs.ErroredTables)

	var orders types.TableSummary
	for _, s := range rs.Tables {
		if s.Table == "ORDERS" {
			orders = s
		}
	}
	assert.Equal(t, 3, orders.RecordsValidated)
	assert.Equal(t, 2, orders.RecordsWithDifferences)
	// order 3 is missing in target; its NULL amount still equals the missing value
	assert.Equal(t, []string{"ORDER_ID", "STATUS"}, orders.ColumnsWithDifferences)

	assert.FileExists(t, task.ReportPath)
	assert.True(t, strings.HasSuffix(task.ReportPath, ".html"))
	assert.Equal(t, filepath.Join(task.LogDir, task.RunID), task.RunLogDir)
	summaries, _ := filepath.Glob(filepath.Join(task.RunLogDir, "*"+SummarySuffix))
	assert.Len(t, summaries, 4)

	store, err := taskstore.New(task.TaskStorePath)
	require.NoError(t, err)
	defer store.Close()
	rec, err := store.Get(task.RunID)
	require.NoError(t, err)
	assert.Equal(t, taskstore.StatusCompleted, rec.Status)
	assert.Equal(t, 4, rec.Counts.Total)
	assert.Equal(t, task.ReportPath, rec.ReportPath)

	// a second run over unchanged data reports the same counts
	again := NewValidationTask()
	*again = *task
	again.RunID = ""
	again.SkipDBUpdate = true
	again.Output = "json"
	require.NoError(t, again.ExecuteTask())
	assert.Equal(t, rs.String(), again.Summary.String())
	assert.Equal(t, rs.Differences, again.Summary.Differences)
}

func TestConcurrentRunsShareLogDir(t *testing.T) {
	seed := func(prefix string) (dbexec.Executor, dbexec.Executor, string) {
		var stmts, names []string
		for i := 1; i <= 8; i++ {
			name := fmt.Sprintf("%s%d", prefix, i)
			stmts = append(stmts,
				fmt.Sprintf(`CREATE TABLE %s (id INTEGER PRIMARY KEY, v TEXT)`, name),
				fmt.Sprintf(`INSERT INTO %s VALUES (1, 'x'), (2, 'y')`, name),
			)
			names = append(names, "main."+name)
		}
		return sqliteDB(t, prefix+"_src.db", stmts...), sqliteDB(t, prefix+"_tgt.db", stmts...), strings.Join(names, ",")
	}
	srcA, tgtA, tablesA := seed("alpha")
	srcB, tgtB, tablesB := seed("beta")
	logDir := filepath.Join(t.TempDir(), "logs")

	newTask := func(src, tgt dbexec.Executor, tables string) *ValidationTask {
		task := NewValidationTask()
		task.Tables = tables
		task.LogDir = logDir
		task.ReportDir = t.TempDir()
		task.SkipDBUpdate = true
		task.Quiet = true
		task.Parallelism = 3
		task.Source, task.Target = src, tgt
		require.NoError(t, task.RunChecks(false))
		return task
	}

	for round := 0; round < 5; round++ {
		tasks := []*ValidationTask{newTask(srcA, tgtA, tablesA), newTask(srcB, tgtB, tablesB)}
		errs := make([]error, len(tasks))
		var wg sync.WaitGroup
		for i, task := range tasks {
			wg.Add(1)
			go func(i int, task *ValidationTask) {
				defer wg.Done()
				errs[i] = task.ExecuteTask()
			}(i, task)
		}
		wg.Wait()

		for i, task := range tasks {
			require.NoError(t, errs[i])
			prefix := []string{"ALPHA", "BETA"}[i]
			assert.Equal(t, 8, task.Summary.TotalTables, "round %d", round)
			assert.Equal(t, 8, task.Summary.MatchedTables, "round %d", round)
			for _, s := range task.Summary.Tables {
				assert.True(t, strings.HasPrefix(s.Table, prefix), "round %d: %s reported %s", round, prefix, s.Table)
			}
		}
		assert.NotEqual(t, tasks[0].RunLogDir, tasks[1].RunLogDir)
	}
}

func TestValidationTaskRejectsPathLikeRunID(t *testing.T) {
	task := NewValidationTask()
	task.Tables = "main.t"
	task.RunID = "../escape"
	task.SkipDBUpdate = true
	task.Quiet = true
	assert.ErrorContains(t, task.ExecuteTask(), "invalid run id")
}

func TestRunChecksWarnsOnSharedLogFiles(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	db := sqliteDB(t, "x.db")
	task := NewValidationTask()
	task.Tables = "a_b.c,a.b_c,x.y"
	task.Source, task.Target = db, db
	require.NoError(t, task.RunChecks(false))
	assert.Contains(t, buf.String(), "A_B.C, A.B_C share the log file A_B_C"+SummarySuffix)

	buf.Reset()
	task = NewValidationTask()
	task.Tables = "a_b.c,a.b_c"
	task.Handoff = HandoffMemory
	task.Source, task.Target = db, db
	require.NoError(t, task.RunChecks(false))
	assert.NotContains(t, buf.String(), "share the log file")
}

func TestValidationTaskMemoryHandoff(t *testing.T) {
	source := sqliteDB(t, "s.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`,
		`INSERT INTO t VALUES (1, 'a')`,
	)
	target := sqliteDB(t, "t.db",
		`CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`,
		`INSERT INTO t VALUES (1, 'a')`,
	)

	dir := t.TempDir()
	task := NewValidationTask()
	task.Tables = "main.t"
	task.Handoff = HandoffMemory
	task.LogDir = filepath.Join(dir, "logs")
	task.ReportDir = dir
	task.SkipDBUpdate = true
	task.Quiet = true
	task.Source, task.Target = source, target

	require.NoError(t, task.RunChecks(false))
	require.NoError(t, task.ExecuteTask())
	assert.Equal(t, 1, task.Summary.MatchedTables)
	assert.NoDirExists(t, task.LogDir)
}

func TestValidationTaskChecks(t *testing.T) {
	prev := config.Cfg
	t.Cleanup(func() { config.Cfg = prev })

	base := func() *ValidationTask {
		task := NewValidationTask()
		task.Tables = "a.b"
		return task
	}

	tests := []struct {
		name   string
		mutate func(*ValidationTask)
	}{
		{"parallelism", func(v *ValidationTask) { v.Parallelism = 0 }},
		{"sample size", func(v *ValidationTask) { v.SampleSize = -1 }},
		{"mode", func(v *ValidationTask) { v.Mode = "fifo" }},
		{"timeout", func(v *ValidationTask) { v.JobTimeout = "soon" }},
		{"output", func(v *ValidationTask) { v.Output = "csv" }},
		{"handoff", func(v *ValidationTask) { v.Handoff = "kafka" }},
		{"no tables", func(v *ValidationTask) { v.Tables = ""; v.TablesFile = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := base()
			tt.mutate(task)
			assert.Error(t, task.Validate())
		})
	}

	config.Cfg = &config.Config{Source: config.DatabaseConfig{Engine: "postgres"}}
	err := base().RunChecks(false)
	assert.ErrorIs(t, err, config.ErrIncompleteConfig)

	task := base()
	task.Tables = ""
	task.TablesFile = filepath.Join(t.TempDir(), "tables.txt")
	require.NoError(t, os.WriteFile(task.TablesFile, []byte("# none\n"), 0o644))
	assert.ErrorIs(t, task.RunChecks(false), ErrNoTables)

	task = base()
	task.SkipTables = "a.b"
	assert.ErrorIs(t, task.RunChecks(false), ErrNoTables)
}

func TestValidationTaskCloneForSchedule(t *testing.T) {
	task := NewValidationTask()
	task.RunID = "fixed"
	task.Summary = &types.RunSummary{}
	clone := task.CloneForSchedule(context.Background())
	assert.Empty(t, clone.RunID)
	assert.Nil(t, clone.Summary)
	assert.Equal(t, taskstore.RunTypeScheduled, clone.RunType)
	assert.Equal(t, task.Parallelism, clone.Parallelism)
}

func TestResolverWithMockExecutor(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	tables := []types.TableSpec{types.NewTableSpec("s", "a"), types.NewTableSpec("s", "b"), types.NewTableSpec("s", "c")}

	exec.EXPECT().Dialect().Return(queries.Oracle)
	exec.EXPECT().Query(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, q string, _ ...any) (*types.RowSet, error) {
		assert.Contains(t, q, "FROM DUAL")
		assert.Contains(t, q, "all_cons_columns")
		return &types.RowSet{Rows: []types.Row{
			{"owner": "S", "table_name": "A", "column_name": "REGION"},
			{"owner": "S", "table_name": "A", "column_name": "ID"},
			{"owner": "s", "table_name": "b", "column_name": "id"},
		}}, nil
	})

	pkMap, err := NewResolver(exec).Resolve(context.Background(), tables)
	require.NoError(t, err)
	assert.Equal(t, []string{"REGION", "ID"}, pkMap.Columns(tables[0]))
	assert.Equal(t, []string{"ID"}, pkMap.Columns(tables[1]))
	assert.Empty(t, pkMap.Columns(tables[2]))
}

func TestResolverFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	exec := mocks.NewMockExecutor(ctrl)
	exec.EXPECT().Dialect().Return(queries.Postgres)
	exec.EXPECT().Query(gomock.Any(), gomock.Any()).Return(nil, errors.New("permission denied"))

	_, err := NewResolver(exec).Resolve(context.Background(), []types.TableSpec{types.NewTableSpec("s", "a")})
	assert.ErrorIs(t, err, ErrPrimaryKeyLookup)

	pkMap, err := NewResolver(exec).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, pkMap)
}

func TestExtractorUsesDialects(t *testing.T) {
	ctrl := gomock.NewController(t)
	source := mocks.NewMockExecutor(ctrl)
	target := mocks.NewMockExecutor(ctrl)
	spec := types.NewTableSpec("s", "t")

	source.EXPECT().Dialect().Return(queries.SQLServer)
	source.EXPECT().Query(gomock.Any(), "SELECT TOP (25) * FROM S.T").Return(nil, nil)
	target.EXPECT().Dialect().Return(queries.MySQL)

	ex := NewExtractor(source, target, 25)
	rs, err := ex.Source(context.Background(), spec)
	require.NoError(t, err)
	assert.True(t, rs.Empty())

	q, err := ex.TargetQuery(spec, []string{"ID"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT a.* FROM S.T a WHERE 1 = 0", q)
}
