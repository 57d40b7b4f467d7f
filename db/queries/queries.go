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

package queries

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/pgedge/recon/pkg/types"
)

// Oracle allows $ and # in unquoted identifiers.
var validIdentifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_$#]*$`)

func SanitiseIdentifier(ident string) error {
	if !validIdentifierRegex.MatchString(ident) {
		return fmt.Errorf("invalid identifier: %s", ident)
	}
	return nil
}

func RenderSQL(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render SQL: %w", err)
	}
	return buf.String(), nil
}

func sanitiseTable(spec types.TableSpec) error {
	for _, ident := range []string{spec.Schema, spec.Table} {
		if err := SanitiseIdentifier(ident); err != nil {
			return fmt.Errorf("invalid identifier %q: %w", ident, err)
		}
	}
	return nil
}

// InlineTableView builds the UNION of constant SELECTs that yields one
// (owner, table_name) row per table.
func InlineTableView(d Dialect, tables []types.TableSpec) string {
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		parts = append(parts, fmt.Sprintf("SELECT %s AS owner, %s AS table_name%s",
			quote(t.Schema), quote(t.Table), d.AnchorFrom()))
	}
	return strings.Join(parts, "\n    UNION ")
}

// PrimaryKeyQuery returns the single catalog query that lists the primary key
// columns of every table in the batch, in key order.
func PrimaryKeyQuery(d Dialect, tables []types.TableSpec) (string, error) {
	if len(tables) == 0 {
		return "", fmt.Errorf("at least one table is required")
	}
	for _, t := range tables {
		if err := sanitiseTable(t); err != nil {
			return "", err
		}
	}

	var tmpl *template.Template
	switch d {
	case Oracle:
		tmpl = SQLTemplates.OraclePrimaryKeys
	case Postgres:
		tmpl = SQLTemplates.PostgresPrimaryKeys
	case SQLServer:
		tmpl = SQLTemplates.SQLServerPrimaryKeys
	case MySQL:
		tmpl = SQLTemplates.MySQLPrimaryKeys
	case SQLite:
		tmpl = SQLTemplates.SQLitePrimaryKeys
	default:
		return "", fmt.Errorf("primary key lookup is not supported for %s", d)
	}

	return RenderSQL(tmpl, map[string]any{
		"InlineView": InlineTableView(d, tables),
	})
}

// SampleQuery fetches at most limit rows from the table.
func SampleQuery(d Dialect, spec types.TableSpec, limit int) (string, error) {
	if limit <= 0 {
		return "", fmt.Errorf("sample size must be positive, got %d", limit)
	}
	if err := sanitiseTable(spec); err != nil {
		return "", err
	}

	data := map[string]any{
		"Schema": spec.Schema,
		"Table":  spec.Table,
		"Limit":  limit,
	}
	switch d {
	case Oracle:
		return RenderSQL(SQLTemplates.SampleRownum, data)
	case SQLServer:
		return RenderSQL(SQLTemplates.SampleTop, data)
	case Postgres, MySQL, SQLite:
		return RenderSQL(SQLTemplates.SampleLimit, data)
	default:
		return "", fmt.Errorf("sampling is not supported for %s", d)
	}
}

// TargetQuery selects every column of the table restricted to the rows whose
// key appears in tuples. Duplicate tuples collapse to one anchor row; an
// empty tuple set yields a query that returns no rows.
func TargetQuery(d Dialect, spec types.TableSpec, pkCols []string, tuples [][]any) (string, error) {
	if d == Unknown {
		return "", fmt.Errorf("target dialect is not set")
	}
	if len(pkCols) == 0 {
		return "", fmt.Errorf("primary key columns cannot be empty")
	}
	if err := sanitiseTable(spec); err != nil {
		return "", err
	}
	for _, c := range pkCols {
		if err := SanitiseIdentifier(c); err != nil {
			return "", fmt.Errorf("invalid key column %q: %w", c, err)
		}
	}

	data := map[string]any{
		"Schema": spec.Schema,
		"Table":  spec.Table,
	}
	if len(tuples) == 0 {
		return RenderSQL(SQLTemplates.TargetEmpty, data)
	}

	seen := make(map[string]struct{}, len(tuples))
	anchors := make([]string, 0, len(tuples))
	for i, tuple := range tuples {
		if len(tuple) != len(pkCols) {
			return "", fmt.Errorf("tuple %d has %d values, expected %d", i, len(tuple), len(pkCols))
		}
		cols := make([]string, len(pkCols))
		for j, v := range tuple {
			lit, err := d.FormatLiteral(v)
			if err != nil {
				return "", fmt.Errorf("key column %s: %w", pkCols[j], err)
			}
			cols[j] = fmt.Sprintf("%s AS %s", lit, pkCols[j])
		}
		anchor := "SELECT " + strings.Join(cols, ", ") + d.AnchorFrom()
		if _, dup := seen[anchor]; dup {
			continue
		}
		seen[anchor] = struct{}{}
		anchors = append(anchors, anchor)
	}

	preds := make([]string, len(pkCols))
	for i, c := range pkCols {
		preds[i] = fmt.Sprintf("a.%s = temp.%s", c, c)
	}
	data["Anchors"] = anchors
	data["JoinPredicate"] = strings.Join(preds, " AND ")

	return RenderSQL(SQLTemplates.TargetRows, data)
}
