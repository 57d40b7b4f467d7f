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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const (
	fieldDelimiter = "~"
	SummarySuffix  = "_data_validation_summary.log"
	DetailSuffix   = "_data_validation.log"

	summaryFields = 6
	detailFields  = 7
)

// ResultSink receives the outcome of each table job. Implementations must be
// safe for concurrent use.
type ResultSink interface {
	Summary(s types.TableSummary) error
	Details(spec types.TableSpec, diffs []types.ColumnDiff) error
}

func SummaryFileName(spec types.TableSpec) string {
	return spec.Schema + "_" + spec.Table + SummarySuffix
}

func DetailFileName(spec types.TableSpec) string {
	return spec.Schema + "_" + spec.Table + DetailSuffix
}

// LogNameCollisions returns the groups of tables that would share log files
// because their schema and table names join to the same file name, such as
// A_B.C and A.B_C. Groups follow the order of tables.
func LogNameCollisions(tables []types.TableSpec) [][]types.TableSpec {
	byName := make(map[string][]types.TableSpec, len(tables))
	var order []string
	for _, spec := range tables {
		name := SummaryFileName(spec)
		if _, seen := byName[name]; !seen {
			order = append(order, name)
		}
		byName[name] = append(byName[name], spec)
	}
	var groups [][]types.TableSpec
	for _, name := range order {
		if len(byName[name]) > 1 {
			groups = append(groups, byName[name])
		}
	}
	return groups
}

// Line breaks inside a field are written as \n and \r so every record stays
// on one line; a literal backslash is doubled.
var fieldEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escapeField(s string) string {
	return fieldEscaper.Replace(s)
}

// unescapeField reverses escapeField. Unknown escapes are kept verbatim.
func unescapeField(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			b.WriteByte(s[i])
			continue
		}
		i++
	}
	return b.String()
}

func joinFields(fields ...string) string {
	for i, f := range fields {
		fields[i] = escapeField(f)
	}
	return strings.Join(fields, fieldDelimiter)
}

// SummaryLine renders schema~table~validated~withDifferences~columns~message.
func SummaryLine(s types.TableSummary) string {
	return joinFields(
		s.Schema,
		s.Table,
		strconv.Itoa(s.RecordsValidated),
		strconv.Itoa(s.RecordsWithDifferences),
		strings.Join(s.ColumnsWithDifferences, ","),
		s.Message,
	)
}

// DetailLine renders schema~table~primaryKey~column~source~target~message.
func DetailLine(d types.ColumnDiff) string {
	return joinFields(
		d.Schema,
		d.Table,
		d.PrimaryKey,
		d.Column,
		d.SourceValue,
		d.TargetValue,
		d.Message,
	)
}

// FileSink writes one summary log and, when there are differences, one
// detail log per table into Dir.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create log directory %s: %w", dir, err)
	}
	return &FileSink{Dir: dir}, nil
}

// Reset removes the logs of a previous run. Other files in Dir are kept.
func (f *FileSink) Reset() error {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read log directory: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, SummarySuffix) || strings.HasSuffix(name, DetailSuffix)) {
			continue
		}
		if err := os.Remove(filepath.Join(f.Dir, name)); err != nil {
			return fmt.Errorf("could not remove %s: %w", name, err)
		}
	}
	return nil
}

func (f *FileSink) Summary(s types.TableSummary) error {
	spec := s.Spec()
	flagDelimiter(spec, "summary", s.Message)
	return appendLines(filepath.Join(f.Dir, SummaryFileName(spec)), []string{SummaryLine(s)})
}

func (f *FileSink) Details(spec types.TableSpec, diffs []types.ColumnDiff) error {
	if len(diffs) == 0 {
		return nil
	}
	lines := make([]string, len(diffs))
	for i, d := range diffs {
		flagDelimiter(spec, d.Column, d.PrimaryKey, d.SourceValue, d.TargetValue, d.Message)
		lines[i] = DetailLine(d)
	}
	return appendLines(filepath.Join(f.Dir, DetailFileName(spec)), lines)
}

// flagDelimiter warns about values that will break the line layout. The
// aggregator reports such lines as malformed.
func flagDelimiter(spec types.TableSpec, field string, values ...string) {
	for _, v := range values {
		if strings.Contains(v, fieldDelimiter) {
			logger.Warn("[%s] %s value contains the %q delimiter, the log line will not parse: %s", spec, field, fieldDelimiter, v)
			return
		}
	}
}

func appendLines(path string, lines []string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}
	defer file.Close()
	for _, l := range lines {
		if _, err := file.WriteString(l + "\n"); err != nil {
			return fmt.Errorf("could not write %s: %w", path, err)
		}
	}
	return nil
}

// MemorySink keeps results in memory for a run that aggregates in-process.
type MemorySink struct {
	mu        sync.Mutex
	summaries []types.TableSummary
	diffs     []types.ColumnDiff
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Summary(s types.TableSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
	return nil
}

func (m *MemorySink) Details(_ types.TableSpec, diffs []types.ColumnDiff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffs = append(m.diffs, diffs...)
	return nil
}

// Summaries returns a copy sorted by schema and table.
func (m *MemorySink) Summaries() []types.TableSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.TableSummary, len(m.summaries))
	copy(out, m.summaries)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Spec().Key() < out[j].Spec().Key()
	})
	return out
}

func (m *MemorySink) Diffs() []types.ColumnDiff {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.ColumnDiff, len(m.diffs))
	copy(out, m.diffs)
	return out
}

// Aggregate builds the run summary from what has been collected so far.
func (m *MemorySink) Aggregate() *types.RunSummary {
	return Aggregate(m.Summaries(), m.Diffs())
}
