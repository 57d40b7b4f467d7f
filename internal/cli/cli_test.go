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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := SetupCLI()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.RunContext(context.Background(), append([]string{"recon"}, args...))
	return out.String(), err
}

// sqliteConfig points config.Cfg at two SQLite files holding one table
// that differs in one row.
func sqliteConfig(t *testing.T) string {
	t.Helper()
	prev := config.Cfg
	t.Cleanup(func() { config.Cfg = prev })

	dir := t.TempDir()
	seed := func(name, second string) string {
		path := filepath.Join(dir, name)
		exec := dbexec.NewSQLXExecutor(queries.SQLite, "sqlite3", path)
		for _, stmt := range []string{
			`CREATE TABLE accounts (id INTEGER PRIMARY KEY, owner TEXT)`,
			fmt.Sprintf(`INSERT INTO accounts VALUES (1, 'ann'), (2, '%s')`, second),
		} {
			_, err := exec.Query(context.Background(), stmt)
			require.NoError(t, err)
		}
		return path
	}
	src := seed("src.db", "bob")
	tgt := seed("tgt.db", "rob")

	config.Cfg = &config.Config{
		Source: config.DatabaseConfig{Engine: "sqlite", Database: src},
		Target: config.DatabaseConfig{Engine: "sqlite", Database: tgt},
		Validation: config.ValidationConfig{
			LogDir:    filepath.Join(dir, "logs"),
			ReportDir: filepath.Join(dir, "reports"),
		},
		Server: config.ServerConfig{TaskStorePath: filepath.Join(dir, "runs.db")},
	}
	return dir
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitOK, ExitCode(fmt.Errorf("wrapped: %w", core.ErrNoTables)))
	assert.Equal(t, ExitIncompleteConfig, ExitCode(fmt.Errorf("checks failed: %w", config.ErrIncompleteConfig)))
	assert.Equal(t, ExitRuntimeError, ExitCode(errors.New("boom")))
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "recon.yaml")

	_, err := runApp(t, "config", "init", "--path", path)
	require.NoError(t, err)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Target.Engine)
	assert.Equal(t, 50, cfg.Validation.Parallelism)

	_, err = runApp(t, "config", "init", "--path", path)
	assert.ErrorContains(t, err, "already exists")

	_, err = runApp(t, "config", "init", "--path", path, "--force")
	assert.NoError(t, err)

	out, err := runApp(t, "config", "init", "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, "schedule_jobs:")
}

func TestValidateAndInspectRuns(t *testing.T) {
	dir := sqliteConfig(t)

	out, err := runApp(t, "validate", "--tables", "main.accounts", "--quiet", "--output", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNTS")
	assert.Contains(t, out, "1 records have data differences")

	reports, _ := filepath.Glob(filepath.Join(dir, "reports", "*.json"))
	assert.Len(t, reports, 1)

	store, err := taskstore.New(config.Cfg.Server.TaskStorePath)
	require.NoError(t, err)
	runs, err := store.List(5)
	require.NoError(t, err)
	require.NoError(t, store.Close())
	require.Len(t, runs, 1)

	out, err = runApp(t, "runs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, runs[0].RunID)
	assert.Contains(t, out, taskstore.StatusCompleted)

	out, err = runApp(t, "runs", "show", runs[0].RunID)
	require.NoError(t, err)
	var rec taskstore.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, 1, rec.Counts.Differences)

	_, err = runApp(t, "runs", "show")
	assert.Error(t, err)
	_, err = runApp(t, "runs", "show", "nope")
	assert.ErrorIs(t, err, taskstore.ErrNotFound)

	// the logs left behind can be re-aggregated
	out, err = runApp(t, "report", "--report-dir", filepath.Join(dir, "again"))
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNTS")
	html, _ := filepath.Glob(filepath.Join(dir, "again", "*.html"))
	assert.Len(t, html, 1)

	out, err = runApp(t, "report", "--run", runs[0].RunID, "--output", "json", "--report-dir", filepath.Join(dir, "by-id"))
	require.NoError(t, err)
	assert.Contains(t, out, "ACCOUNTS")
	_, err = runApp(t, "report", "--run", "no-such-run")
	assert.Error(t, err)
}

func TestValidateNoTables(t *testing.T) {
	sqliteConfig(t)

	out, err := runApp(t, "validate", "--tables", "main.accounts", "--skip-tables", "main.accounts", "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, core.MsgNoTablesToValidate)
}

func TestValidateIncompleteConfig(t *testing.T) {
	prev := config.Cfg
	t.Cleanup(func() { config.Cfg = prev })
	config.Cfg = &config.Config{Source: config.DatabaseConfig{Engine: "oracle"}}

	_, err := runApp(t, "validate", "--tables", "a.b", "--quiet", "--skip-db-update")
	require.Error(t, err)
	assert.Equal(t, ExitIncompleteConfig, ExitCode(err))
}

func TestValidateRejectsBadFlags(t *testing.T) {
	sqliteConfig(t)

	_, err := runApp(t, "validate", "--tables", "a.b", "--mode", "lifo")
	assert.Error(t, err)
	_, err = runApp(t, "validate", "--tables", "a.b", "--schedule", "--every", "never")
	assert.Error(t, err)
}

func TestReportEmptyDir(t *testing.T) {
	dir := t.TempDir()
	out, err := runApp(t, "report", "--log-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "No table summaries found")

	_, err = runApp(t, "report", "--log-dir", filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestStartChecks(t *testing.T) {
	prev := config.Cfg
	t.Cleanup(func() { config.Cfg = prev })

	config.Cfg = nil
	_, err := runApp(t, "start")
	assert.Error(t, err)

	config.Cfg = &config.Config{}
	_, err = runApp(t, "start", "--component", "everything")
	assert.ErrorContains(t, err, "invalid component")

	_, err = runApp(t, "start", "--component", "api")
	assert.ErrorContains(t, err, "listen_port")

	// nothing enabled, nothing to run
	_, err = runApp(t, "start", "--component", "scheduler")
	assert.NoError(t, err)

	ok, err := canStartAPIServer(&config.Config{Server: config.ServerConfig{ListenPort: 8080}})
	assert.True(t, ok)
	assert.NoError(t, err)
}

func TestWriteRuns(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRuns(&buf, []taskstore.Record{{RunID: "r1", RunType: taskstore.RunTypeScheduled, Status: taskstore.StatusFailed}}))
	assert.Contains(t, buf.String(), "r1")
	assert.Contains(t, buf.String(), taskstore.StatusFailed)
}
