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
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/internal/metrics"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"
)

type Mode string

const (
	// ModeCohort runs tables in fixed-size batches with a barrier between
	// batches.
	ModeCohort Mode = "cohort"
	// ModePool keeps Parallelism workers busy until the list is drained.
	ModePool Mode = "pool"
)

const (
	DefaultParallelism = 50
	DefaultSampleSize  = 1000
	DefaultJobTimeout  = 10 * time.Minute
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeCohort):
		return ModeCohort, nil
	case string(ModePool):
		return ModePool, nil
	default:
		return "", fmt.Errorf("invalid scheduling mode %q (want cohort or pool)", s)
	}
}

// RunConfig controls a single validation run.
type RunConfig struct {
	Parallelism  int
	SampleSize   int
	Mode         Mode
	JobTimeout   time.Duration // zero disables the per-table timeout
	WriteDetails bool
	Quiet        bool
	Progress     io.Writer
}

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Parallelism:  DefaultParallelism,
		SampleSize:   DefaultSampleSize,
		Mode:         ModeCohort,
		JobTimeout:   DefaultJobTimeout,
		WriteDetails: true,
	}
}

func (c RunConfig) withDefaults() RunConfig {
	if c.Parallelism <= 0 {
		c.Parallelism = DefaultParallelism
	}
	if c.SampleSize <= 0 {
		c.SampleSize = DefaultSampleSize
	}
	if c.Mode == "" {
		c.Mode = ModeCohort
	}
	if c.JobTimeout < 0 {
		c.JobTimeout = 0
	}
	if c.Progress == nil {
		c.Progress = os.Stderr
	}
	return c
}

// RunStats describes how a run was executed.
type RunStats struct {
	Summaries       []types.TableSummary
	Cohorts         []int
	PeakConcurrency int
	Elapsed         time.Duration
}

type Orchestrator struct {
	cfg       RunConfig
	resolver  *Resolver
	extractor *Extractor
	sink      ResultSink

	active int64
	peak   int64
}

func NewOrchestrator(cfg RunConfig, source, target dbexec.Executor, sink ResultSink) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		cfg:       cfg,
		resolver:  NewResolver(source),
		extractor: NewExtractor(source, target, cfg.SampleSize),
		sink:      sink,
	}
}

// Run validates every table. Primary keys are resolved once up front and a
// failure there aborts the run. After that every table ends with exactly one
// summary written to the sink, whatever happens to the job.
func (o *Orchestrator) Run(ctx context.Context, tables []types.TableSpec) (*RunStats, error) {
	start := time.Now()
	stats := &RunStats{}
	if len(tables) == 0 {
		return stats, ErrNoTables
	}

	logger.Info("Resolving primary keys for %d tables", len(tables))
	pkMap, err := o.resolver.Resolve(ctx, tables)
	if err != nil {
		return nil, err
	}

	atomic.StoreInt64(&o.active, 0)
	atomic.StoreInt64(&o.peak, 0)

	var p *mpb.Progress
	var bar *mpb.Bar
	if !o.cfg.Quiet {
		p = mpb.New(mpb.WithOutput(o.cfg.Progress))
		bar = p.AddBar(int64(len(tables)),
			mpb.BarRemoveOnComplete(),
			mpb.PrependDecorators(
				decor.Name("Validating tables:"),
				decor.CountersNoUnit(" %d / %d"),
			),
			mpb.AppendDecorators(
				decor.Elapsed(decor.ET_STYLE_GO),
				decor.Name(" | "),
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done"),
			),
		)
	}

	results := make([]types.TableSummary, len(tables))
	job := func(i int) {
		results[i] = o.runTable(ctx, tables[i], pkMap.Columns(tables[i]))
		if bar != nil {
			bar.Increment()
		}
	}

	switch o.cfg.Mode {
	case ModePool:
		o.runPool(len(tables), job)
	default:
		stats.Cohorts = o.runCohorts(len(tables), job)
	}

	if p != nil {
		p.Wait()
	}

	stats.Summaries = results
	stats.PeakConcurrency = int(atomic.LoadInt64(&o.peak))
	stats.Elapsed = time.Since(start)
	logger.Info("Validated %d tables in %s", len(tables), stats.Elapsed.Round(time.Millisecond))
	return stats, nil
}

// runCohorts starts min(parallelism, remaining) jobs at a time and waits
// for the whole cohort before starting the next one.
func (o *Orchestrator) runCohorts(n int, job func(i int)) []int {
	var cohorts []int
	for start := 0; start < n; start += o.cfg.Parallelism {
		end := min(start+o.cfg.Parallelism, n)
		logger.Info("Starting validation of tables %d to %d of %d", start+1, end, n)

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				job(i)
				return nil
			})
		}
		_ = g.Wait()

		cohorts = append(cohorts, end-start)
		logger.Info("Completed validation of %d of %d tables", end, n)
	}
	return cohorts
}

func (o *Orchestrator) runPool(n int, job func(i int)) {
	workers := min(o.cfg.Parallelism, n)
	jobs := make(chan int, n)
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)

	logger.Info("Validating %d tables with %d workers", n, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				job(i)
			}
		}()
	}
	wg.Wait()
}

type jobResult struct {
	summary types.TableSummary
	diffs   []types.ColumnDiff
}

// runTable runs one table job under the per-table timeout and writes its
// summary. It never panics and always returns the summary it wrote.
func (o *Orchestrator) runTable(parent context.Context, spec types.TableSpec, pkCols []string) types.TableSummary {
	o.enter()
	defer o.leave()
	start := time.Now()

	var ctx context.Context
	var cancel context.CancelFunc
	if o.cfg.JobTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, o.cfg.JobTimeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	defer cancel()

	var res jobResult
	if err := parent.Err(); err != nil {
		res.summary = terminal(spec, types.StatusErrored, fmt.Sprintf(msgCancelledError, cleanError(err)))
	} else {
		done := make(chan jobResult, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- jobResult{summary: terminal(spec, types.StatusErrored, fmt.Sprintf(msgAbortedError, cleanError(fmt.Errorf("%v", r))))}
				}
			}()
			done <- o.reconcile(ctx, spec, pkCols)
		}()

		select {
		case res = <-done:
		case <-ctx.Done():
			// the query goroutine finishes on its own; its result is dropped
			res = jobResult{summary: o.interrupted(parent, ctx, spec)}
		}
		if res.summary.Status == types.StatusErrored && errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			res = jobResult{summary: terminal(spec, types.StatusErrored, timeoutMessage(o.cfg.JobTimeout))}
		}
	}

	if err := o.sink.Summary(res.summary); err != nil {
		logger.Error("[%s] failed to write summary: %v", spec, err)
	}
	if len(res.diffs) > 0 && o.cfg.WriteDetails {
		if err := o.sink.Details(spec, res.diffs); err != nil {
			logger.Error("[%s] failed to write difference details: %v", spec, err)
		}
	}

	elapsed := time.Since(start)
	metrics.ObserveTable(res.summary, elapsed)
	logger.Debug("[%s] %s (%s)", spec, res.summary.Message, elapsed.Round(time.Millisecond))
	return res.summary
}

func (o *Orchestrator) interrupted(parent, ctx context.Context, spec types.TableSpec) types.TableSummary {
	if parent.Err() != nil {
		return terminal(spec, types.StatusErrored, fmt.Sprintf(msgCancelledError, cleanError(parent.Err())))
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return terminal(spec, types.StatusErrored, timeoutMessage(o.cfg.JobTimeout))
	}
	return terminal(spec, types.StatusErrored, fmt.Sprintf(msgCancelledError, cleanError(ctx.Err())))
}

// reconcile walks a table through sampling, target lookup and comparison.
// Every failure is turned into a terminal summary.
func (o *Orchestrator) reconcile(ctx context.Context, spec types.TableSpec, pkCols []string) jobResult {
	if len(pkCols) == 0 {
		return jobResult{summary: terminal(spec, types.StatusSkipped, noPrimaryKeysMessage(spec))}
	}

	source, err := o.extractor.Source(ctx, spec)
	if err != nil {
		return jobResult{summary: terminal(spec, types.StatusErrored, errorMessage(msgSourceReadError, err))}
	}
	if source.Empty() {
		return jobResult{summary: terminal(spec, types.StatusSkipped, noSourceDataMessage(spec))}
	}
	logger.Debug("[%s] sampled %d source rows", spec, source.Len())

	tuples, err := PrimaryKeyTuples(source, pkCols)
	if err != nil {
		return jobResult{summary: terminal(spec, types.StatusErrored, errorMessage(msgPrimaryKeyError, err))}
	}

	sql, err := o.extractor.TargetQuery(spec, pkCols, tuples)
	if err != nil {
		return jobResult{summary: terminal(spec, types.StatusErrored, errorMessage(msgTargetBuildError, err))}
	}

	target, err := o.extractor.Target(ctx, spec, sql)
	if err != nil {
		return jobResult{summary: terminal(spec, types.StatusErrored, errorMessage(msgTargetExecError, err))}
	}
	if target.Empty() {
		return jobResult{summary: terminal(spec, types.StatusSkipped, MsgNoTargetData)}
	}

	cmp, err := Compare(spec, source, target, pkCols)
	if err != nil {
		return jobResult{summary: terminal(spec, types.StatusErrored, errorMessage(msgCompareError, err))}
	}

	summary := types.TableSummary{
		Schema:                 spec.Schema,
		Table:                  spec.Table,
		RecordsValidated:       cmp.RowsCompared,
		RecordsWithDifferences: cmp.RowsWithDifferences,
		ColumnsWithDifferences: cmp.ColumnsWithDifferences,
		Message:                MsgNoDifferences,
		Status:                 types.StatusMatched,
	}
	if cmp.RowsWithDifferences > 0 {
		summary.Message = differencesMessage(cmp.RowsWithDifferences)
		summary.Status = types.StatusDifferences
	}
	logger.Info("%s: %d of %d records have differences", spec, cmp.RowsWithDifferences, cmp.RowsCompared)
	return jobResult{summary: summary, diffs: cmp.Diffs}
}

// terminal builds the summary of a job that ended before comparison. The
// status comes from the state that ended the job, never from the message.
func terminal(spec types.TableSpec, status types.TableStatus, message string) types.TableSummary {
	return types.TableSummary{
		Schema:  spec.Schema,
		Table:   spec.Table,
		Message: message,
		Status:  status,
	}
}

func (o *Orchestrator) enter() {
	n := atomic.AddInt64(&o.active, 1)
	for {
		p := atomic.LoadInt64(&o.peak)
		if n <= p || atomic.CompareAndSwapInt64(&o.peak, p, n) {
			return
		}
	}
}

func (o *Orchestrator) leave() {
	atomic.AddInt64(&o.active, -1)
}
