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

package common

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

const (
	CheckMark = "✔"
	CrossMark = "✘"
)

func Contains(slice []string, value string) bool {
	for _, v := range slice {
		if v == value {
			return true
		}
	}
	return false
}

func SafeCut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// LogRunSummary prints the end-of-run verdict.
func LogRunSummary(summary *types.RunSummary, reportPath string) {
	if summary.TablesWithDifferences == 0 && summary.ErroredTables == 0 {
		logger.Info("%s NO DATA DIFFERENCES FOUND in %d of %d tables (%d skipped)",
			CheckMark, summary.MatchedTables, summary.TotalTables, summary.SkippedTables)
	} else {
		logger.Warn("%s %d tables have data differences, %d errored, %d matched, %d skipped (of %d)",
			CrossMark, summary.TablesWithDifferences, summary.ErroredTables,
			summary.MatchedTables, summary.SkippedTables, summary.TotalTables)
	}
	for _, m := range summary.Malformed {
		logger.Warn("Unparsed log line: %s", m)
	}
	if reportPath != "" {
		logger.Info("Data validation report written to %s", reportPath)
	}
}

// WriteSummaryTable renders one line per table for console output.
func WriteSummaryTable(w io.Writer, summary *types.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEMA\tTABLE\tVALIDATED\tWITH DIFFERENCES\tCOLUMNS\tSTATUS")
	for _, t := range summary.Tables {
		mark := CrossMark
		if t.Status == types.StatusMatched {
			mark = CheckMark
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s %s\n",
			t.Schema, t.Table, t.RecordsValidated, t.RecordsWithDifferences,
			SafeCut(strings.Join(t.ColumnsWithDifferences, ","), 40), mark, t.Message)
	}
	return tw.Flush()
}
