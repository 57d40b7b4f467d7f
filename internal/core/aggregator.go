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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

// ClassifyStatus buckets a summary message read back from a log. Error
// messages are recognised by their prefix before any "skip" text they may
// quote. Anything unrecognised counts as errored so that no table goes
// unaccounted for.
func ClassifyStatus(message string) types.TableStatus {
	lower := strings.ToLower(strings.TrimSpace(message))
	switch {
	case message == MsgNoDifferences:
		return types.StatusMatched
	case strings.HasPrefix(lower, "error"):
		return types.StatusErrored
	case strings.Contains(message, msgDifferencesSuffix):
		return types.StatusDifferences
	case strings.Contains(lower, "skip"):
		return types.StatusSkipped
	case strings.Contains(lower, "error"):
		return types.StatusErrored
	default:
		return types.StatusErrored
	}
}

// ParseSummaryLine parses a line written by SummaryLine.
func ParseSummaryLine(line string) (types.TableSummary, error) {
	fields := strings.Split(line, fieldDelimiter)
	if len(fields) != summaryFields {
		return types.TableSummary{}, fmt.Errorf("expected %d fields, found %d", summaryFields, len(fields))
	}
	validated, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return types.TableSummary{}, fmt.Errorf("records validated: %w", err)
	}
	withDiffs, err := strconv.Atoi(strings.TrimSpace(fields[3]))
	if err != nil {
		return types.TableSummary{}, fmt.Errorf("records with differences: %w", err)
	}
	var cols []string
	for _, c := range strings.Split(unescapeField(fields[4]), ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	msg := unescapeField(strings.TrimSpace(fields[5]))
	return types.TableSummary{
		Schema:                 unescapeField(strings.TrimSpace(fields[0])),
		Table:                  unescapeField(strings.TrimSpace(fields[1])),
		RecordsValidated:       validated,
		RecordsWithDifferences: withDiffs,
		ColumnsWithDifferences: cols,
		Message:                msg,
		Status:                 ClassifyStatus(msg),
	}, nil
}

// ParseDetailLine parses a line written by DetailLine.
func ParseDetailLine(line string) (types.ColumnDiff, error) {
	fields := strings.Split(line, fieldDelimiter)
	if len(fields) != detailFields {
		return types.ColumnDiff{}, fmt.Errorf("expected %d fields, found %d", detailFields, len(fields))
	}
	for i := range fields {
		// values keep their padding, it may be the difference
		if i != 4 && i != 5 {
			fields[i] = strings.TrimSpace(fields[i])
		}
		fields[i] = unescapeField(fields[i])
	}
	return types.ColumnDiff{
		Schema:      fields[0],
		Table:       fields[1],
		PrimaryKey:  fields[2],
		Column:      fields[3],
		SourceValue: fields[4],
		TargetValue: fields[5],
		Message:     fields[6],
	}, nil
}

// AggregateDir rebuilds the run summary from the logs in dir. Malformed
// lines are reported and skipped.
func AggregateDir(dir string) (*types.RunSummary, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read log directory %s: %w", dir, err)
	}

	var summaries []types.TableSummary
	var diffs []types.ColumnDiff
	var malformed []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		path := filepath.Join(dir, name)
		switch {
		case strings.HasSuffix(name, SummarySuffix):
			line, err := lastLine(path)
			if err != nil {
				return nil, err
			}
			if line == "" {
				malformed = append(malformed, reportMalformed(name, 0, "empty summary log"))
				continue
			}
			s, err := ParseSummaryLine(line)
			if err != nil {
				malformed = append(malformed, reportMalformed(name, 0, err.Error()))
				continue
			}
			summaries = append(summaries, s)
		case strings.HasSuffix(name, DetailSuffix):
			err := eachLine(path, func(n int, line string) {
				d, err := ParseDetailLine(line)
				if err != nil {
					malformed = append(malformed, reportMalformed(name, n, err.Error()))
					return
				}
				diffs = append(diffs, d)
			})
			if err != nil {
				return nil, err
			}
		}
	}

	return Aggregate(summaries, diffs, malformed...), nil
}

// LatestRunDir returns dir when it holds summary logs itself. Otherwise it
// returns the most recently modified run directory below dir that does, or
// dir when there is none.
func LatestRunDir(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("could not read log directory %s: %w", dir, err)
	}
	latest := dir
	var latestMod time.Time
	for _, e := range entries {
		if !e.IsDir() {
			if strings.HasSuffix(e.Name(), SummarySuffix) {
				return dir, nil
			}
			continue
		}
		sub := filepath.Join(dir, e.Name())
		logs, _ := filepath.Glob(filepath.Join(sub, "*"+SummarySuffix))
		if len(logs) == 0 {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latest, latestMod = sub, info.ModTime()
		}
	}
	return latest, nil
}

func reportMalformed(file string, line int, reason string) string {
	var entry string
	if line > 0 {
		entry = fmt.Sprintf("%s:%d: %s", file, line, reason)
	} else {
		entry = fmt.Sprintf("%s: %s", file, reason)
	}
	logger.Warn("Skipping malformed log line %s", entry)
	return entry
}

func lastLine(path string) (string, error) {
	var last string
	err := eachLine(path, func(_ int, line string) {
		last = line
	})
	return last, err
}

// eachLine calls fn for every non-empty line with its 1-based line number.
func eachLine(path string, fn func(n int, line string)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fn(n, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("could not read %s: %w", path, err)
	}
	return nil
}

// Aggregate counts every table into exactly one bucket and orders the
// column differences by schema, table and column.
func Aggregate(summaries []types.TableSummary, diffs []types.ColumnDiff, malformed ...string) *types.RunSummary {
	rs := &types.RunSummary{
		Tables:      make([]types.TableSummary, len(summaries)),
		Differences: make([]types.ColumnDiff, len(diffs)),
		Malformed:   malformed,
	}
	copy(rs.Tables, summaries)
	copy(rs.Differences, diffs)

	for i := range rs.Tables {
		if rs.Tables[i].Status == "" {
			rs.Tables[i].Status = ClassifyStatus(rs.Tables[i].Message)
		}
		switch rs.Tables[i].Status {
		case types.StatusMatched:
			rs.MatchedTables++
		case types.StatusDifferences:
			rs.TablesWithDifferences++
		case types.StatusSkipped:
			rs.SkippedTables++
		default:
			rs.ErroredTables++
		}
	}
	rs.TotalTables = len(rs.Tables)

	sort.SliceStable(rs.Tables, func(i, j int) bool {
		a, b := rs.Tables[i], rs.Tables[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Table < b.Table
	})
	sort.SliceStable(rs.Differences, func(i, j int) bool {
		a, b := rs.Differences[i], rs.Differences[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.Column < b.Column
	})
	return rs
}
