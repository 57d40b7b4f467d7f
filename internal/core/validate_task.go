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
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/internal/metrics"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/pgedge/recon/pkg/types"
)

const (
	HandoffFile   = "file"
	HandoffMemory = "memory"
)

// ValidationTask is one end-to-end run: load the table list, validate every
// table, aggregate the results and write the report.
type ValidationTask struct {
	TablesFile   string
	Tables       string
	SkipTables   string
	SkipFile     string
	Parallelism  int
	SampleSize   int
	Mode         string
	JobTimeout   string
	Output       string
	LogDir       string
	ReportDir    string
	Handoff      string
	WriteDetails bool
	Quiet        bool

	RunID         string
	RunType       string
	JobName       string
	SkipDBUpdate  bool
	TaskStore     *taskstore.Store
	TaskStorePath string

	// Source and Target may be set to bypass config based connections.
	Source dbexec.Executor
	Target dbexec.Executor

	Ctx context.Context

	tableList []types.TableSpec
	runConfig RunConfig

	Stats      *RunStats
	Summary    *types.RunSummary
	ReportPath string
	// RunLogDir is the per-run directory under LogDir holding this run's
	// table logs. Concurrent runs never share one.
	RunLogDir string
}

// NewValidationTask returns a task populated from config.Cfg, if loaded.
func NewValidationTask() *ValidationTask {
	t := &ValidationTask{
		Parallelism:  DefaultParallelism,
		SampleSize:   DefaultSampleSize,
		Mode:         string(ModeCohort),
		Output:       "html",
		LogDir:       config.DefaultLogDir,
		ReportDir:    config.DefaultReportDir,
		TablesFile:   config.DefaultTablesFile,
		Handoff:      HandoffFile,
		WriteDetails: true,
		RunType:      taskstore.RunTypeValidation,
		Ctx:          context.Background(),
	}
	if config.Cfg == nil {
		return t
	}
	v := config.Cfg.Validation
	t.Parallelism = v.EffectiveParallelism()
	t.SampleSize = v.EffectiveSampleSize()
	if v.SchedulingMode != "" {
		t.Mode = v.SchedulingMode
	}
	t.JobTimeout = v.JobTimeout
	t.LogDir = v.EffectiveLogDir()
	t.ReportDir = v.EffectiveReportDir()
	t.TablesFile = v.EffectiveTablesFile()
	if v.Handoff != "" {
		t.Handoff = v.Handoff
	}
	t.WriteDetails = v.DetailsEnabled()
	t.TaskStorePath = config.Cfg.Server.TaskStorePath
	return t
}

// CloneForSchedule copies the run options into a fresh task for one
// scheduled execution.
func (t *ValidationTask) CloneForSchedule(ctx context.Context) *ValidationTask {
	clone := *t
	clone.Ctx = ctx
	clone.RunID = ""
	clone.RunType = taskstore.RunTypeScheduled
	clone.tableList = nil
	clone.Stats = nil
	clone.Summary = nil
	clone.ReportPath = ""
	clone.RunLogDir = ""
	return &clone
}

func (t *ValidationTask) Validate() error {
	if t.Parallelism < 1 {
		return fmt.Errorf("parallelism must be at least 1, got %d", t.Parallelism)
	}
	if t.SampleSize < 1 {
		return fmt.Errorf("sample size must be at least 1, got %d", t.SampleSize)
	}
	mode, err := ParseMode(t.Mode)
	if err != nil {
		return err
	}
	timeout, err := config.ValidationConfig{JobTimeout: t.JobTimeout}.EffectiveJobTimeout()
	if err != nil {
		return err
	}

	t.Output = strings.ToLower(strings.TrimSpace(t.Output))
	if t.Output == "" {
		t.Output = "html"
	}
	if t.Output != "html" && t.Output != "json" {
		return fmt.Errorf("output must be html or json, got %q", t.Output)
	}

	t.Handoff = strings.ToLower(strings.TrimSpace(t.Handoff))
	if t.Handoff == "" {
		t.Handoff = HandoffFile
	}
	if t.Handoff != HandoffFile && t.Handoff != HandoffMemory {
		return fmt.Errorf("handoff must be file or memory, got %q", t.Handoff)
	}
	if t.Handoff == HandoffFile && strings.TrimSpace(t.LogDir) == "" {
		return fmt.Errorf("a log directory is required for the file handoff")
	}
	if strings.TrimSpace(t.Tables) == "" && strings.TrimSpace(t.TablesFile) == "" {
		return fmt.Errorf("either a table list or a tables file is required")
	}

	t.runConfig = RunConfig{
		Parallelism:  t.Parallelism,
		SampleSize:   t.SampleSize,
		Mode:         mode,
		JobTimeout:   timeout,
		WriteDetails: t.WriteDetails,
		Quiet:        t.Quiet,
	}
	return nil
}

// RunChecks validates the options, loads the table list and prepares the
// executors. A missing database setting fails with
// config.ErrIncompleteConfig; an empty list fails with ErrNoTables.
func (t *ValidationTask) RunChecks(skipValidation bool) error {
	if !skipValidation {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	var tables []types.TableSpec
	var err error
	if strings.TrimSpace(t.Tables) != "" {
		tables, err = ParseTableList(t.Tables)
	} else {
		tables, err = LoadTables(t.TablesFile)
	}
	if err != nil {
		return err
	}

	skip, err := ParseSkipList(t.SkipTables, t.SkipFile)
	if err != nil {
		return err
	}
	if len(skip) > 0 {
		before := len(tables)
		tables = FilterTables(tables, skip)
		logger.Info("Skipping %d tables from the skip list", before-len(tables))
	}
	if len(tables) == 0 {
		return ErrNoTables
	}
	t.tableList = tables

	if t.Handoff != HandoffMemory {
		for _, group := range LogNameCollisions(tables) {
			names := make([]string, len(group))
			for i, spec := range group {
				names[i] = spec.Key()
			}
			logger.Warn("Tables %s share the log file %s; only the last one written will be reported. Use the memory handoff to keep them apart",
				strings.Join(names, ", "), SummaryFileName(group[0]))
		}
	}

	if t.Source == nil || t.Target == nil {
		if err := config.Cfg.CheckDatabases(); err != nil {
			return err
		}
	}
	if t.Source == nil {
		if t.Source, err = dbexec.NewFromConfig("source", config.Cfg.Source, config.Cfg.Breaker); err != nil {
			return err
		}
	}
	if t.Target == nil {
		if t.Target, err = dbexec.NewFromConfig("target", config.Cfg.Target, config.Cfg.Breaker); err != nil {
			return err
		}
	}

	logger.Info("Validating %d tables from %s to %s", len(tables), t.Source.Dialect(), t.Target.Dialect())
	return nil
}

func (t *ValidationTask) TableList() []types.TableSpec {
	return t.tableList
}

func (t *ValidationTask) ExecuteTask() (err error) {
	ctx := t.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	startTime := time.Now()
	if strings.TrimSpace(t.RunID) == "" {
		t.RunID = uuid.NewString()
	}
	if err := checkRunID(t.RunID); err != nil {
		return err
	}
	if t.RunType == "" {
		t.RunType = taskstore.RunTypeValidation
	}

	var recorder *taskstore.Recorder
	if !t.SkipDBUpdate {
		rec, recErr := taskstore.NewRecorder(t.TaskStore, t.TaskStorePath)
		if recErr != nil {
			logger.Warn("validate: unable to initialise task store (%v)", recErr)
		} else {
			recorder = rec
			if err := recorder.Create(taskstore.Record{
				RunID:      t.RunID,
				RunType:    t.RunType,
				Status:     taskstore.StatusRunning,
				JobName:    t.JobName,
				StartedAt:  startTime,
				RunContext: t.runContext(),
			}); err != nil {
				logger.Warn("validate: unable to write initial run status (%v)", err)
			}
		}
	}

	defer func() {
		metrics.ObserveRun(err)
		finishedAt := time.Now()

		if recorder != nil && recorder.Created() {
			status := taskstore.StatusFailed
			if err == nil {
				status = taskstore.StatusCompleted
			}
			rec := taskstore.Record{
				RunID:      t.RunID,
				Status:     status,
				Counts:     taskstore.CountsOf(t.Summary),
				ReportPath: t.ReportPath,
				FinishedAt: finishedAt,
				TimeTaken:  finishedAt.Sub(startTime).Seconds(),
				RunContext: t.runContext(),
			}
			if err != nil {
				rec.ErrorMessage = err.Error()
			}
			if updateErr := recorder.Update(rec); updateErr != nil {
				logger.Warn("validate: unable to update run status (%v)", updateErr)
			}
		}
		if recorder != nil {
			if closeErr := recorder.Close(); closeErr != nil {
				logger.Warn("validate: failed to close task store (%v)", closeErr)
			}
		}
	}()

	if t.runConfig.Parallelism == 0 {
		if err := t.Validate(); err != nil {
			return err
		}
	}
	if len(t.tableList) == 0 {
		return ErrNoTables
	}

	var sink ResultSink
	var fileSink *FileSink
	var memSink *MemorySink
	if t.Handoff == HandoffMemory {
		memSink = NewMemorySink()
		sink = memSink
	} else {
		t.RunLogDir = filepath.Join(t.LogDir, t.RunID)
		fileSink, err = NewFileSink(t.RunLogDir)
		if err != nil {
			return err
		}
		if err := fileSink.Reset(); err != nil {
			return err
		}
		sink = fileSink
	}

	orch := NewOrchestrator(t.runConfig, t.Source, t.Target, sink)
	t.Stats, err = orch.Run(ctx, t.tableList)
	if err != nil {
		return err
	}

	if memSink != nil {
		t.Summary = memSink.Aggregate()
	} else {
		t.Summary, err = AggregateDir(fileSink.Dir)
		if err != nil {
			return err
		}
		logger.Info("Per-table logs written to %s", fileSink.Dir)
	}
	t.Summary.RunID = t.RunID
	t.Summary.StartTime = startTime
	t.Summary.EndTime = time.Now()

	t.ReportPath, err = common.WriteReport(t.Summary, t.ReportDir, t.Output)
	if err != nil {
		return err
	}
	common.LogRunSummary(t.Summary, t.ReportPath)
	return nil
}

// checkRunID rejects ids that cannot name a directory under LogDir.
func checkRunID(id string) error {
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid run id %q", id)
	}
	return nil
}

func (t *ValidationTask) runContext() map[string]any {
	ctx := map[string]any{
		"tables":      len(t.tableList),
		"parallelism": t.Parallelism,
		"sample_size": t.SampleSize,
		"mode":        t.Mode,
		"handoff":     t.Handoff,
		"output":      t.Output,
	}
	if t.RunLogDir != "" {
		ctx["log_dir"] = t.RunLogDir
	}
	if t.Stats != nil {
		ctx["cohorts"] = t.Stats.Cohorts
		ctx["peak_concurrency"] = t.Stats.PeakConcurrency
	}
	return ctx
}
