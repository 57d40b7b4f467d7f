package types

import (
	"fmt"
	"strings"
	"time"
)

// TableSpec identifies a table to validate. Schema and Table are always
// upper case once loaded.
type TableSpec struct {
	Schema string `json:"schema"`
	Table  string `json:"table"`
}

func NewTableSpec(schema, table string) TableSpec {
	return TableSpec{
		Schema: strings.ToUpper(strings.TrimSpace(schema)),
		Table:  strings.ToUpper(strings.TrimSpace(table)),
	}
}

// Key is the SCHEMA.TABLE identity used for lookups and de-duplication.
func (t TableSpec) Key() string {
	return t.Schema + "." + t.Table
}

func (t TableSpec) String() string {
	return t.Key()
}

// PrimaryKeyMap maps TableSpec.Key() to the ordered primary key columns.
// It is built once per run and only read afterwards.
type PrimaryKeyMap map[string][]string

func (m PrimaryKeyMap) Columns(spec TableSpec) []string {
	if m == nil {
		return nil
	}
	return m[spec.Key()]
}

// Row is a single result row keyed by lower-cased column name.
type Row map[string]any

// RowSet is an ordered result set. Columns preserves the order reported by
// the database, lower-cased.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func (r *RowSet) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

func (r *RowSet) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

type Decision string

const (
	DecisionMatch   Decision = "MATCH"
	DecisionNoMatch Decision = "NO MATCH"
)

// ColumnDiff is one column-level mismatch for a row.
type ColumnDiff struct {
	Schema      string `json:"schema"`
	Table       string `json:"table"`
	PrimaryKey  string `json:"primary_key"`
	Column      string `json:"column"`
	SourceValue string `json:"source_value"`
	TargetValue string `json:"target_value"`
	Message     string `json:"message,omitempty"`
}

// ComparisonRecord is the outcome for one source row.
type ComparisonRecord struct {
	PrimaryKey string       `json:"primary_key"`
	Decision   Decision     `json:"decision"`
	Diffs      []ColumnDiff `json:"diffs,omitempty"`
}

// Comparison is the result of comparing one table's sample.
type Comparison struct {
	Records                []ComparisonRecord `json:"records"`
	Diffs                  []ColumnDiff       `json:"diffs"`
	RowsCompared           int                `json:"rows_compared"`
	RowsWithDifferences    int                `json:"rows_with_differences"`
	ColumnsWithDifferences []string           `json:"columns_with_differences"`
}

type TableStatus string

const (
	StatusMatched     TableStatus = "MATCHED"
	StatusDifferences TableStatus = "DIFFERENCES"
	StatusSkipped     TableStatus = "SKIPPED"
	StatusErrored     TableStatus = "ERRORED"
)

// TableSummary is the terminal outcome of one table job.
type TableSummary struct {
	Schema                 string      `json:"schema"`
	Table                  string      `json:"table"`
	RecordsValidated       int         `json:"records_validated"`
	RecordsWithDifferences int         `json:"records_with_differences"`
	ColumnsWithDifferences []string    `json:"columns_with_differences"`
	Message                string      `json:"message"`
	Status                 TableStatus `json:"status"`
}

func (s TableSummary) Spec() TableSpec {
	return TableSpec{Schema: s.Schema, Table: s.Table}
}

// RunSummary is the consolidated result handed to the report renderer.
type RunSummary struct {
	RunID                 string         `json:"run_id,omitempty"`
	TotalTables           int            `json:"total_tables"`
	SkippedTables         int            `json:"skipped_tables"`
	ErroredTables         int            `json:"errored_tables"`
	MatchedTables         int            `json:"matched_tables"`
	TablesWithDifferences int            `json:"tables_with_differences"`
	Tables                []TableSummary `json:"tables"`
	Differences           []ColumnDiff   `json:"differences"`
	Malformed             []string       `json:"malformed,omitempty"`
	StartTime             time.Time      `json:"start_time,omitzero"`
	EndTime               time.Time      `json:"end_time,omitzero"`
}

func (r *RunSummary) String() string {
	return fmt.Sprintf("total=%d matched=%d differences=%d skipped=%d errored=%d",
		r.TotalTables, r.MatchedTables, r.TablesWithDifferences, r.SkippedTables, r.ErroredTables)
}
