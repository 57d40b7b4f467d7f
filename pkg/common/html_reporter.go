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
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pgedge/recon/pkg/types"
)

//go:embed templates/validation_report.html
var htmlReportTemplate string

//go:embed templates/validation_report.css
var htmlReportCSS string

type htmlSummaryItem struct {
	Label string
	Value string
	Class string
}

type htmlTableRow struct {
	Schema      string
	Table       string
	Validated   string
	WithDiffs   string
	Columns     string
	Message     string
	StatusClass string
}

type htmlDiffRow struct {
	Schema     string
	Table      string
	PrimaryKey string
	Column     string
	SourceHTML template.HTML
	TargetHTML template.HTML
	Message    string
}

type htmlReport struct {
	Title       string
	RunID       string
	Generated   string
	Duration    string
	Items       []htmlSummaryItem
	Tables      []htmlTableRow
	Differences []htmlDiffRow
	Malformed   []string
	RawJSON     template.JS
	CSS         template.CSS
}

// RenderHTMLReport renders the consolidated report as a standalone page.
func RenderHTMLReport(summary *types.RunSummary) ([]byte, error) {
	rawJSON, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run summary for HTML embedding: %w", err)
	}

	report := htmlReport{
		Title:     "Data Validation Report",
		RunID:     summary.RunID,
		Generated: formatTimestampHuman(summary.EndTime),
		Items: []htmlSummaryItem{
			{Label: "Total tables", Value: formatInt64WithCommas(int64(summary.TotalTables))},
			{Label: "No differences", Value: formatInt64WithCommas(int64(summary.MatchedTables)), Class: "matched"},
			{Label: "With differences", Value: formatInt64WithCommas(int64(summary.TablesWithDifferences)), Class: "differences"},
			{Label: "Skipped", Value: formatInt64WithCommas(int64(summary.SkippedTables)), Class: "skipped"},
			{Label: "Errored", Value: formatInt64WithCommas(int64(summary.ErroredTables)), Class: "errored"},
		},
		Malformed: summary.Malformed,
		RawJSON:   template.JS(rawJSON),
		CSS:       template.CSS(htmlReportCSS),
	}
	if !summary.StartTime.IsZero() && !summary.EndTime.IsZero() {
		report.Duration = formatDurationHuman(summary.EndTime.Sub(summary.StartTime))
	}

	for _, t := range summary.Tables {
		report.Tables = append(report.Tables, htmlTableRow{
			Schema:      t.Schema,
			Table:       t.Table,
			Validated:   formatInt64WithCommas(int64(t.RecordsValidated)),
			WithDiffs:   formatInt64WithCommas(int64(t.RecordsWithDifferences)),
			Columns:     strings.Join(t.ColumnsWithDifferences, ", "),
			Message:     t.Message,
			StatusClass: strings.ToLower(string(t.Status)),
		})
	}
	for _, d := range summary.Differences {
		src, tgt := highlightDifference(d.SourceValue, d.TargetValue)
		report.Differences = append(report.Differences, htmlDiffRow{
			Schema:     d.Schema,
			Table:      d.Table,
			PrimaryKey: d.PrimaryKey,
			Column:     d.Column,
			SourceHTML: src,
			TargetHTML: tgt,
			Message:    d.Message,
		})
	}

	tmpl, err := template.New("validationReport").Parse(htmlReportTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, report); err != nil {
		return nil, fmt.Errorf("failed to render HTML report: %w", err)
	}
	return buf.Bytes(), nil
}

func highlightDifference(a, b string) (template.HTML, template.HTML) {
	if a == b {
		esc := template.HTMLEscapeString(a)
		return template.HTML(esc), template.HTML(esc)
	}

	runesA := []rune(a)
	runesB := []rune(b)

	prefix := 0
	maxPrefix := min(len(runesA), len(runesB))
	for prefix < maxPrefix && runesA[prefix] == runesB[prefix] {
		prefix++
	}

	suffix := 0
	for suffix < len(runesA)-prefix && suffix < len(runesB)-prefix && runesA[len(runesA)-suffix-1] == runesB[len(runesB)-suffix-1] {
		suffix++
	}

	return renderHighlighted(runesA, prefix, suffix), renderHighlighted(runesB, prefix, suffix)
}

func renderHighlighted(value []rune, prefix, suffix int) template.HTML {
	if len(value)-prefix-suffix <= 0 {
		prefix, suffix = 0, 0
	}

	var builder strings.Builder
	if prefix > 0 {
		builder.WriteString(template.HTMLEscapeString(string(value[:prefix])))
	}
	middleLen := len(value) - prefix - suffix
	if middleLen > 0 {
		builder.WriteString(`<span class="diff-chunk">`)
		builder.WriteString(template.HTMLEscapeString(string(value[prefix : prefix+middleLen])))
		builder.WriteString(`</span>`)
	}
	if suffix > 0 {
		builder.WriteString(template.HTMLEscapeString(string(value[len(value)-suffix:])))
	}
	return template.HTML(builder.String())
}

// WriteReport writes the report in the requested format ("html" or "json")
// into dir and returns its path.
func WriteReport(summary *types.RunSummary, dir, format string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	stamp := summary.EndTime
	if stamp.IsZero() {
		stamp = time.Now()
	}
	base := filepath.Join(dir, "data_validation_report-"+stamp.Format("20060102150405"))

	var (
		data []byte
		err  error
		path string
	)
	switch strings.ToLower(format) {
	case "", "html":
		path = base + ".html"
		data, err = RenderHTMLReport(summary)
	case "json":
		path = base + ".json"
		data, err = json.MarshalIndent(summary, "", "  ")
	default:
		return "", fmt.Errorf("unsupported report format %q (want html or json)", format)
	}
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func formatInt64WithCommas(value int64) string {
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}

	s := strconv.FormatInt(value, 10)
	n := len(s)
	if n <= 3 {
		return sign + s
	}

	var builder strings.Builder
	builder.Grow(len(s) + len(s)/3)

	remainder := n % 3
	if remainder == 0 {
		remainder = 3
	}
	builder.WriteString(s[:remainder])
	for i := remainder; i < n; i += 3 {
		builder.WriteString(",")
		builder.WriteString(s[i : i+3])
	}

	return sign + builder.String()
}

func formatDurationHuman(dur time.Duration) string {
	if dur < time.Millisecond {
		return fmt.Sprintf("%dµs", dur/time.Microsecond)
	}
	if dur < time.Second {
		return fmt.Sprintf("%.2f ms", float64(dur)/float64(time.Millisecond))
	}
	if dur < time.Minute {
		return fmt.Sprintf("%.2f s", dur.Seconds())
	}
	minutes := int(dur.Minutes())
	seconds := int(dur.Seconds()) % 60
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	hours := minutes / 60
	minutes = minutes % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

func formatTimestampHuman(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.Format("02 Jan 2006 15:04:05 MST")
}
