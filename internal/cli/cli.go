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
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/charmbracelet/log"
	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/internal/scheduler"
	"github.com/pgedge/recon/internal/server"
	"github.com/pgedge/recon/pkg/common"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/taskstore"
	"github.com/urfave/cli/v2"
)

//go:embed default_config.yaml
var defaultConfigYAML string

// Process exit statuses.
const (
	ExitOK               = 0
	ExitRuntimeError     = 1
	ExitIncompleteConfig = 2
)

// ExitCode maps an error returned by the app to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, core.ErrNoTables):
		return ExitOK
	case errors.Is(err, config.ErrIncompleteConfig):
		return ExitIncompleteConfig
	default:
		return ExitRuntimeError
	}
}

func debugBefore(ctx *cli.Context) error {
	if ctx.Bool("debug") || (config.Cfg != nil && config.Cfg.DebugMode) {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.InfoLevel)
	}
	return nil
}

func SetupCLI() *cli.App {
	debugFlag := &cli.BoolFlag{
		Name:    "debug",
		Aliases: []string{"v"},
		Usage:   "Enable debug logging",
	}

	validateFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "tables-file",
			Aliases: []string{"f"},
			Usage:   "File with one schema,table per line (default: validation.tables_file)",
		},
		&cli.StringFlag{
			Name:    "tables",
			Aliases: []string{"t"},
			Usage:   "Comma-separated SCHEMA.TABLE list; overrides --tables-file",
		},
		&cli.StringFlag{
			Name:    "skip-tables",
			Aliases: []string{"T"},
			Usage:   "Comma-separated list of tables to skip",
		},
		&cli.StringFlag{
			Name:    "skip-file",
			Aliases: []string{"s"},
			Usage:   "Path to a file with a list of tables to skip",
		},
		&cli.IntFlag{
			Name:    "parallelism",
			Aliases: []string{"p"},
			Usage:   "Maximum number of tables validated at once",
		},
		&cli.IntFlag{
			Name:    "sample-size",
			Aliases: []string{"n"},
			Usage:   "Rows sampled from each source table",
		},
		&cli.StringFlag{
			Name:    "mode",
			Aliases: []string{"m"},
			Usage:   "Scheduling mode: cohort or pool",
		},
		&cli.StringFlag{
			Name:  "job-timeout",
			Usage: "Per-table timeout, e.g. 10m (0 disables)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Report format: html or json",
			Value:   "html",
		},
		&cli.StringFlag{
			Name:  "handoff",
			Usage: "Result handoff: file or memory",
		},
		&cli.StringFlag{
			Name:  "log-dir",
			Usage: "Directory for per-table logs",
		},
		&cli.StringFlag{
			Name:  "report-dir",
			Usage: "Directory for the run report",
		},
		&cli.BoolFlag{
			Name:  "no-details",
			Usage: "Do not write per-table detail logs",
		},
		&cli.BoolFlag{
			Name:  "skip-db-update",
			Usage: "Do not record the run in the task store",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Suppress the progress bar",
		},
		&cli.BoolFlag{
			Name:    "schedule",
			Aliases: []string{"S"},
			Usage:   "Run the validation repeatedly",
		},
		&cli.StringFlag{
			Name:    "every",
			Aliases: []string{"e"},
			Usage:   "Interval between scheduled runs, e.g. 1h",
		},
		debugFlag,
	}

	configInitFlags := []cli.Flag{
		&cli.StringFlag{
			Name:    "path",
			Aliases: []string{"p"},
			Usage:   "Where to write the config file",
			Value:   "recon.yaml",
		},
		&cli.BoolFlag{
			Name:    "force",
			Aliases: []string{"f"},
			Usage:   "Overwrite an existing file",
		},
		&cli.BoolFlag{
			Name:    "stdout",
			Aliases: []string{"x"},
			Usage:   "Print the config to stdout instead of writing a file",
		},
	}

	storeFlag := &cli.StringFlag{
		Name:  "taskstore",
		Usage: "Path to the run database (default: server.taskstore_path)",
	}

	app := &cli.App{
		Name:  "recon",
		Usage: "RECON - Migration Data Reconciliation",
		Commands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "Sample every listed table on the source and compare it with the target",
				Flags:  validateFlags,
				Before: debugBefore,
				Action: ValidateCLI,
			},
			{
				Name:  "report",
				Usage: "Rebuild the run report from existing per-table logs",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "log-dir", Usage: "Directory with per-table logs"},
					&cli.StringFlag{Name: "run", Usage: "Run ID whose logs to report on (default: the latest run)"},
					&cli.StringFlag{Name: "report-dir", Usage: "Directory for the report"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Report format: html or json", Value: "html"},
					debugFlag,
				},
				Before: debugBefore,
				Action: ReportCLI,
			},
			{
				Name:  "runs",
				Usage: "Inspect recorded validation runs",
				Subcommands: []*cli.Command{
					{
						Name:      "show",
						Usage:     "Print one run as JSON",
						ArgsUsage: "<run-id>",
						Flags:     []cli.Flag{storeFlag},
						Action:    RunsShowCLI,
					},
					{
						Name:  "list",
						Usage: "List the most recent runs",
						Flags: []cli.Flag{
							storeFlag,
							&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Number of runs to list"},
						},
						Action: RunsListCLI,
					},
				},
			},
			{
				Name:  "config",
				Usage: "Manage RECON configuration files",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create a default recon.yaml file",
						Flags:  configInitFlags,
						Action: ConfigInitCLI,
					},
				},
			},
			{
				Name:  "start",
				Usage: "Start the scheduler for configured jobs and the API server",
				Flags: []cli.Flag{
					debugFlag,
					&cli.StringFlag{
						Name:    "component",
						Aliases: []string{"C"},
						Usage:   "Component to start: scheduler, api, or all",
						Value:   "all",
					},
				},
				Before: debugBefore,
				Action: StartCLI,
			},
			{
				Name:   "server",
				Usage:  "Run the RECON REST API server",
				Flags:  []cli.Flag{debugFlag},
				Before: debugBefore,
				Action: StartAPIServerCLI,
			},
		},
	}

	return app
}

func initTemplateFile(ctx *cli.Context, content string, defaultPath string, label string, perm os.FileMode) error {
	outputPath := ctx.String("path")
	if outputPath == "" {
		outputPath = defaultPath
	}

	if ctx.Bool("stdout") || outputPath == "-" {
		fmt.Fprintln(ctx.App.Writer, content)
		return nil
	}

	if !ctx.Bool("force") {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("%s already exists at %s (use --force to overwrite)", label, outputPath)
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("unable to verify existing %s at %s: %w", label, outputPath, err)
		}
	}

	dir := filepath.Dir(outputPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(outputPath, []byte(content), perm); err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", label, outputPath, err)
	}

	fmt.Fprintf(ctx.App.Writer, "Wrote %s to %s\n", label, outputPath)
	return nil
}

func ConfigInitCLI(ctx *cli.Context) error {
	return initTemplateFile(ctx, defaultConfigYAML, "recon.yaml", "config file", 0o600)
}

// taskFromFlags applies the validate flags that were set over the
// config-derived defaults.
func taskFromFlags(ctx *cli.Context) *core.ValidationTask {
	task := core.NewValidationTask()
	if ctx.IsSet("tables-file") {
		task.TablesFile = ctx.String("tables-file")
	}
	task.Tables = ctx.String("tables")
	task.SkipTables = ctx.String("skip-tables")
	task.SkipFile = ctx.String("skip-file")
	if ctx.IsSet("parallelism") {
		task.Parallelism = ctx.Int("parallelism")
	}
	if ctx.IsSet("sample-size") {
		task.SampleSize = ctx.Int("sample-size")
	}
	if ctx.IsSet("mode") {
		task.Mode = ctx.String("mode")
	}
	if ctx.IsSet("job-timeout") {
		task.JobTimeout = ctx.String("job-timeout")
	}
	task.Output = ctx.String("output")
	if ctx.IsSet("handoff") {
		task.Handoff = ctx.String("handoff")
	}
	if ctx.IsSet("log-dir") {
		task.LogDir = ctx.String("log-dir")
	}
	if ctx.IsSet("report-dir") {
		task.ReportDir = ctx.String("report-dir")
	}
	if ctx.Bool("no-details") {
		task.WriteDetails = false
	}
	task.SkipDBUpdate = ctx.Bool("skip-db-update")
	task.Quiet = ctx.Bool("quiet")
	task.Ctx = ctx.Context
	return task
}

func ValidateCLI(ctx *cli.Context) error {
	task := taskFromFlags(ctx)

	if err := task.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if !ctx.Bool("schedule") {
		runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		task.Ctx = runCtx

		if err := task.RunChecks(true); err != nil {
			if errors.Is(err, core.ErrNoTables) {
				fmt.Fprintln(ctx.App.Writer, core.MsgNoTablesToValidate)
				return nil
			}
			return fmt.Errorf("checks failed: %w", err)
		}
		if err := task.ExecuteTask(); err != nil {
			return fmt.Errorf("error during validation: %w", err)
		}
		return common.WriteSummaryTable(ctx.App.Writer, task.Summary)
	}

	freq, err := scheduler.ParseFrequency(ctx.String("every"))
	if err != nil {
		return err
	}
	task.Quiet = true

	job := scheduler.Job{
		Name:       "validate",
		Frequency:  freq,
		RunOnStart: true,
		Task: func(runCtx context.Context) error {
			runTask := task.CloneForSchedule(runCtx)
			if err := runTask.RunChecks(true); err != nil {
				if errors.Is(err, core.ErrNoTables) {
					logger.Info("%s", core.MsgNoTablesToValidate)
					return nil
				}
				return fmt.Errorf("checks failed: %w", err)
			}
			if err := runTask.ExecuteTask(); err != nil {
				return fmt.Errorf("error during validation: %w", err)
			}
			return nil
		},
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return scheduler.RunSingleJob(runCtx, job)
}

func ReportCLI(ctx *cli.Context) error {
	var v config.ValidationConfig
	if config.Cfg != nil {
		v = config.Cfg.Validation
	}
	logDir := v.EffectiveLogDir()
	if ctx.IsSet("log-dir") {
		logDir = ctx.String("log-dir")
	}
	reportDir := v.EffectiveReportDir()
	if ctx.IsSet("report-dir") {
		reportDir = ctx.String("report-dir")
	}

	if run := strings.TrimSpace(ctx.String("run")); run != "" {
		logDir = filepath.Join(logDir, run)
	} else {
		latest, err := core.LatestRunDir(logDir)
		if err != nil {
			return err
		}
		logDir = latest
	}

	summary, err := core.AggregateDir(logDir)
	if err != nil {
		return err
	}
	if summary.TotalTables == 0 {
		fmt.Fprintf(ctx.App.Writer, "No table summaries found in %s\n", logDir)
		return nil
	}

	path, err := common.WriteReport(summary, reportDir, strings.ToLower(ctx.String("output")))
	if err != nil {
		return err
	}
	common.LogRunSummary(summary, path)
	return common.WriteSummaryTable(ctx.App.Writer, summary)
}

func openStore(ctx *cli.Context) (*taskstore.Store, error) {
	path := ctx.String("taskstore")
	if path == "" && config.Cfg != nil {
		path = config.Cfg.Server.TaskStorePath
	}
	return taskstore.New(path)
}

func RunsShowCLI(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("runs show requires exactly one <run-id>")
	}
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx.Args().First())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(ctx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func RunsListCLI(ctx *cli.Context) error {
	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	recs, err := store.List(ctx.Int("limit"))
	if err != nil {
		return err
	}
	return writeRuns(ctx.App.Writer, recs)
}

func writeRuns(w io.Writer, recs []taskstore.Record) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tTYPE\tSTATUS\tSTARTED\tTABLES\tMATCHED\tDIFFS\tSKIPPED\tERRORS")
	for _, r := range recs {
		started := ""
		if !r.StartedAt.IsZero() {
			started = r.StartedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\n",
			r.RunID, r.RunType, r.Status, started,
			r.Counts.Total, r.Counts.Matched, r.Counts.Differences, r.Counts.Skipped, r.Counts.Errored)
	}
	return tw.Flush()
}

func StartCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return fmt.Errorf("configuration not loaded; run inside a directory with recon.yaml or set RECON_CONFIG")
	}

	component := strings.ToLower(strings.TrimSpace(ctx.String("component")))
	runScheduler := false
	runAPI := false
	switch component {
	case "", "all":
		runScheduler = true
		runAPI = true
	case "scheduler":
		runScheduler = true
	case "api":
		runAPI = true
	default:
		return fmt.Errorf("invalid component %q (expected scheduler, api, or all)", component)
	}

	jobs, err := scheduler.BuildJobsFromConfig(config.Cfg)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	type runner struct {
		name string
		run  func(context.Context) error
	}

	var runners []runner

	if runScheduler {
		if len(jobs) == 0 {
			logger.Info("scheduler: no enabled jobs found in configuration")
		} else {
			for _, job := range jobs {
				logger.Info("scheduler: registering job %s", job.Name)
			}
			runners = append(runners, runner{
				name: "scheduler",
				run: func(ctx context.Context) error {
					return scheduler.RunJobs(ctx, jobs)
				},
			})
		}
	}

	if runAPI {
		if ok, apiErr := canStartAPIServer(config.Cfg); ok {
			apiServer, err := server.New(config.Cfg)
			if err != nil {
				return fmt.Errorf("api server init failed: %w", err)
			}
			runners = append(runners, runner{
				name: "api-server",
				run:  apiServer.Run,
			})
		} else if component == "api" {
			return fmt.Errorf("api server requested but cannot start: %w", apiErr)
		} else {
			logger.Info("api server not started: %v", apiErr)
		}
	}

	if len(runners) == 0 {
		return nil
	}

	errCh := make(chan error, len(runners))
	for _, r := range runners {
		go func(r runner) {
			err := r.run(runCtx)
			if err != nil {
				err = fmt.Errorf("%s: %w", r.name, err)
			}
			errCh <- err
		}(r)
	}

	for i := 0; i < len(runners); i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			stop()
			return err
		}
	}

	return nil
}

func StartAPIServerCLI(ctx *cli.Context) error {
	if config.Cfg == nil {
		return fmt.Errorf("configuration not loaded; run inside a directory with recon.yaml or set RECON_CONFIG")
	}

	if ok, err := canStartAPIServer(config.Cfg); !ok {
		return err
	}

	apiServer, err := server.New(config.Cfg)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return apiServer.Run(runCtx)
}

func canStartAPIServer(cfg *config.Config) (bool, error) {
	if cfg == nil {
		return false, fmt.Errorf("configuration not loaded")
	}
	if cfg.Server.ListenPort == 0 {
		return false, fmt.Errorf("server.listen_port is not configured")
	}
	return true, nil
}
