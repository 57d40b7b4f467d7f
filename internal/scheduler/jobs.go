package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/recon/internal/core"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/logger"
)

type scheduleSpec struct {
	frequency time.Duration
	cron      string
}

// BuildJobsFromConfig turns the enabled schedule_config entries into
// validation jobs.
func BuildJobsFromConfig(cfg *config.Config) ([]Job, error) {
	if cfg == nil {
		return nil, fmt.Errorf("scheduler: configuration is not initialised")
	}

	jobDefs := make(map[string]config.JobDef, len(cfg.ScheduleJobs))
	for _, def := range cfg.ScheduleJobs {
		jobDefs[def.Name] = def
	}

	var jobs []Job
	for _, sched := range cfg.ScheduleConfig {
		if !sched.Enabled {
			continue
		}
		def, ok := jobDefs[sched.JobName]
		if !ok {
			return nil, fmt.Errorf("scheduler: job definition %q not found", sched.JobName)
		}
		spec, err := specFromConfig(sched)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		job, err := BuildValidationJob(def, spec.frequency, spec.cron)
		if err != nil {
			return nil, fmt.Errorf("scheduler: job %q: %w", def.Name, err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

func specFromConfig(def config.SchedDef) (scheduleSpec, error) {
	var spec scheduleSpec

	if strings.TrimSpace(def.CrontabSchedule) != "" {
		spec.cron = def.CrontabSchedule
	}
	if strings.TrimSpace(def.RunFrequency) != "" {
		freq, err := ParseFrequency(def.RunFrequency)
		if err != nil {
			return scheduleSpec{}, err
		}
		spec.frequency = freq
	}

	if spec.cron == "" && spec.frequency == 0 {
		return scheduleSpec{}, fmt.Errorf("either run_frequency or crontab_schedule must be set")
	}
	if spec.cron != "" && spec.frequency > 0 {
		return scheduleSpec{}, fmt.Errorf("cannot set both run_frequency and crontab_schedule")
	}

	return spec, nil
}

// BuildValidationJob builds a job whose every tick runs a fresh validation
// with the options in def.
func BuildValidationJob(def config.JobDef, frequency time.Duration, cron string) (Job, error) {
	base := core.NewValidationTask()
	if def.TablesFile != "" {
		base.TablesFile = def.TablesFile
	}
	if len(def.Tables) > 0 {
		base.Tables = strings.Join(def.Tables, ",")
	}
	if v := intArg(def.Args, "parallelism", 0); v > 0 {
		base.Parallelism = v
	}
	if v := intArg(def.Args, "sample_size", 0); v > 0 {
		base.SampleSize = v
	}
	if v := stringArg(def.Args, "scheduling_mode"); v != "" {
		base.Mode = v
	}
	if v := stringArg(def.Args, "job_timeout"); v != "" {
		base.JobTimeout = v
	}
	if v := stringArg(def.Args, "output"); v != "" {
		base.Output = v
	}
	if v := stringArg(def.Args, "handoff"); v != "" {
		base.Handoff = v
	}
	if v := stringArg(def.Args, "log_dir"); v != "" {
		base.LogDir = v
	}
	if v := stringArg(def.Args, "report_dir"); v != "" {
		base.ReportDir = v
	}
	base.SkipTables = stringArg(def.Args, "skip_tables")
	base.SkipFile = stringArg(def.Args, "skip_file")
	base.WriteDetails = boolArg(def.Args, "write_details", base.WriteDetails)
	base.Quiet = boolArg(def.Args, "quiet", true)
	base.SkipDBUpdate = boolArg(def.Args, "skip_db_update", base.SkipDBUpdate)
	if path := stringArg(def.Args, "taskstore_path"); path != "" {
		base.TaskStorePath = path
	}

	if err := base.Validate(); err != nil {
		return Job{}, err
	}

	name := def.Name
	if name == "" {
		name = "validate"
	}
	base.JobName = name

	return Job{
		Name:       name,
		Frequency:  frequency,
		Cron:       cron,
		RunOnStart: boolArg(def.Args, "run_on_start", false),
		Task: func(ctx context.Context) error {
			runTask := base.CloneForSchedule(ctx)
			if err := runTask.RunChecks(false); err != nil {
				if errors.Is(err, core.ErrNoTables) {
					logger.Info("scheduler: job %s: %s", name, core.MsgNoTablesToValidate)
					return nil
				}
				return err
			}
			return runTask.ExecuteTask()
		},
	}, nil
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case string:
			return v
		case []any:
			parts := make([]string, 0, len(v))
			for _, p := range v {
				parts = append(parts, fmt.Sprintf("%v", p))
			}
			return strings.Join(parts, ",")
		case fmt.Stringer:
			return v.String()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
	return ""
}

func boolArg(args map[string]any, key string, defaultVal bool) bool {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case bool:
			return v
		case string:
			parsed, err := strconv.ParseBool(v)
			if err == nil {
				return parsed
			}
		case float64:
			return v != 0
		case int:
			return v != 0
		case int64:
			return v != 0
		}
	}
	return defaultVal
}

func intArg(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	if val, ok := args[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		case string:
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return defaultVal
}
