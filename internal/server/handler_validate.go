package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
)

type validateRequest struct {
	Tables       []string `json:"tables"`
	TablesFile   string   `json:"tables_file"`
	SkipTables   []string `json:"skip_tables"`
	Parallelism  int      `json:"parallelism"`
	SampleSize   int      `json:"sample_size"`
	Mode         string   `json:"scheduling_mode"`
	JobTimeout   string   `json:"job_timeout"`
	Output       string   `json:"output"`
	Handoff      string   `json:"handoff"`
	WriteDetails *bool    `json:"write_details"`
}

type validateResponse struct {
	RunID   string `json:"run_id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

const defaultRunsLimit = 20

func (s *APIServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	task := s.newTask()
	if tables := cleanList(req.Tables); len(tables) > 0 {
		task.Tables = strings.Join(tables, ",")
	} else if tf := strings.TrimSpace(req.TablesFile); tf != "" {
		task.TablesFile = tf
	}
	task.SkipTables = strings.Join(cleanList(req.SkipTables), ",")
	if req.Parallelism > 0 {
		task.Parallelism = req.Parallelism
	}
	if req.SampleSize > 0 {
		task.SampleSize = req.SampleSize
	}
	if m := strings.TrimSpace(req.Mode); m != "" {
		task.Mode = m
	}
	if jt := strings.TrimSpace(req.JobTimeout); jt != "" {
		task.JobTimeout = jt
	}
	if out := strings.TrimSpace(req.Output); out != "" {
		task.Output = out
	}
	if h := strings.TrimSpace(req.Handoff); h != "" {
		task.Handoff = h
	}
	if req.WriteDetails != nil {
		task.WriteDetails = *req.WriteDetails
	}
	task.RunID = uuid.NewString()
	task.RunType = taskstore.RunTypeValidation
	task.JobName = "api"
	if info, ok := getClientInfo(r.Context()); ok && info.role != "" {
		task.JobName = "api:" + info.role
	}
	// the server owns the run record
	task.SkipDBUpdate = true
	task.Quiet = true

	if err := task.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := task.RunChecks(true); err != nil {
		switch {
		case errors.Is(err, core.ErrNoTables):
			writeJSON(w, http.StatusOK, validateResponse{Status: taskstore.StatusCompleted, Message: core.MsgNoTablesToValidate})
		case errors.Is(err, config.ErrIncompleteConfig):
			logger.Error("validate pre-run checks failed: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	startedAt := time.Now()
	if err := s.taskStore.Create(taskstore.Record{
		RunID:      task.RunID,
		RunType:    task.RunType,
		Status:     taskstore.StatusPending,
		JobName:    task.JobName,
		StartedAt:  startedAt,
		RunContext: map[string]any{"tables": len(task.TableList())},
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.enqueueTask(task.RunID, func(ctx context.Context) error {
		return s.executeRun(ctx, task, startedAt)
	}); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, validateResponse{RunID: task.RunID, Status: taskstore.StatusPending})
}

func (s *APIServer) executeRun(ctx context.Context, task *core.ValidationTask, startedAt time.Time) error {
	store := s.taskStore
	if err := store.Update(taskstore.Record{RunID: task.RunID, Status: taskstore.StatusRunning}); err != nil {
		logger.Warn("run %s: unable to mark running (%v)", task.RunID, err)
	}

	task.Ctx = ctx
	runErr := task.ExecuteTask()

	finishedAt := time.Now()
	rec := taskstore.Record{
		RunID:      task.RunID,
		Status:     taskstore.StatusCompleted,
		Counts:     taskstore.CountsOf(task.Summary),
		ReportPath: task.ReportPath,
		FinishedAt: finishedAt,
		TimeTaken:  finishedAt.Sub(startedAt).Seconds(),
		RunContext: map[string]any{"tables": len(task.TableList())},
	}
	if runErr != nil {
		rec.Status = taskstore.StatusFailed
		rec.ErrorMessage = runErr.Error()
	}
	if err := store.Update(rec); err != nil {
		logger.Warn("run %s: unable to record result (%v)", task.RunID, err)
	}
	return runErr
}

func (s *APIServer) handleRunStatus(w http.ResponseWriter, r *http.Request) {
	runID := strings.TrimSpace(r.PathValue("id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	rec, err := s.taskStore.Get(runID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *APIServer) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	recs, err := s.taskStore.List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []taskstore.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func cleanList(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
