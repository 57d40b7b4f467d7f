package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sqliteExec(t *testing.T, name string, stmts ...string) dbexec.Executor {
	t.Helper()
	exec := dbexec.NewSQLXExecutor(queries.SQLite, "sqlite3", filepath.Join(t.TempDir(), name))
	for _, s := range stmts {
		_, err := exec.Query(context.Background(), s)
		require.NoError(t, err, s)
	}
	return exec
}

func newTestServer(t *testing.T) *APIServer {
	t.Helper()
	dir := t.TempDir()
	srv, err := New(&config.Config{Server: config.ServerConfig{
		ListenAddress: "127.0.0.1",
		ListenPort:    18080,
		TaskStorePath: filepath.Join(dir, "runs.db"),
	}})
	require.NoError(t, err)
	t.Cleanup(func() { srv.Close() })

	source := sqliteExec(t, "source.db",
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO items VALUES (1, 'a'), (2, 'b')`,
	)
	target := sqliteExec(t, "target.db",
		`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO items VALUES (1, 'a'), (2, 'c')`,
	)
	srv.newTask = func() *core.ValidationTask {
		task := core.NewValidationTask()
		task.LogDir = filepath.Join(dir, "logs")
		task.ReportDir = filepath.Join(dir, "reports")
		task.Source, task.Target = source, target
		return task
	}
	return srv
}

func do(t *testing.T, srv *APIServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestValidateRunLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/v1/validate", `{"tables":["main.items"],"output":"json"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	assert.Equal(t, taskstore.StatusPending, resp.Status)

	srv.wg.Wait()

	rec = do(t, srv, http.MethodGet, "/api/v1/runs/"+resp.RunID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var run taskstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, taskstore.StatusCompleted, run.Status)
	assert.Equal(t, 1, run.Counts.Total)
	assert.Equal(t, 1, run.Counts.Differences)
	assert.True(t, strings.HasSuffix(run.ReportPath, ".json"))
	assert.Equal(t, "api", run.JobName)

	rec = do(t, srv, http.MethodGet, "/api/v1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var runs []taskstore.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestValidateRequestErrors(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"bad mode", `{"tables":["main.items"],"scheduling_mode":"lifo"}`, http.StatusBadRequest},
		{"bad identifier", `{"tables":["main.it;ems"]}`, http.StatusBadRequest},
		{"everything skipped", `{"tables":["main.items"],"skip_tables":["main.items"]}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/api/v1/validate", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := do(t, srv, http.MethodPost, "/api/v1/validate", `{"tables":["main.items"],"skip_tables":["main.items"]}`)
	assert.Contains(t, rec.Body.String(), core.MsgNoTablesToValidate)

	runs, err := srv.taskStore.List(10)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunLookup(t *testing.T) {
	srv := newTestServer(t)

	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/v1/runs/missing", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/v1/runs?limit=0", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, srv, http.MethodGet, "/api/v1/validate", "").Code)

	rec := do(t, srv, http.MethodGet, "/api/v1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetricsAndHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recon_")
}

func TestNewServerConfigErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		srv  config.ServerConfig
	}{
		{"no port", config.ServerConfig{}},
		{"cert without key", config.ServerConfig{ListenPort: 1, TLSCertFile: "cert.pem"}},
		{"client ca without tls", config.ServerConfig{ListenPort: 1, ClientCAFile: filepath.Join(dir, "ca.pem")}},
		{"missing keypair", config.ServerConfig{ListenPort: 1, TLSCertFile: filepath.Join(dir, "c"), TLSKeyFile: filepath.Join(dir, "k"), TaskStorePath: filepath.Join(dir, "r.db")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&config.Config{Server: tt.srv})
			assert.Error(t, err)
		})
	}

	_, err := New(nil)
	assert.Error(t, err)
}
