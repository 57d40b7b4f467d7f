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
	"sort"
	"strings"

	"github.com/pgedge/recon/pkg/types"
)

// TargetPrefix namespaces target columns in a merged row.
const TargetPrefix = "tgt_"

const keySeparator = "||"

// mergedRow is one row of the source LEFT JOIN target result. Target columns
// carry TargetPrefix; an unmatched source row has no target columns at all.
type mergedRow map[string]any

// Compare left-joins target onto source by primary key and classifies every
// resulting row. A failure on a single value is recorded as a difference; an
// error is returned only when the join itself cannot be built.
func Compare(spec types.TableSpec, source, target *types.RowSet, pkCols []string) (result *types.Comparison, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic during comparison: %v", r)
		}
	}()

	if len(pkCols) == 0 {
		return nil, fmt.Errorf("no primary key columns for %s", spec)
	}
	keys := make([]string, len(pkCols))
	for i, c := range pkCols {
		keys[i] = strings.ToLower(c)
	}

	columns := sourceColumns(source)
	for _, k := range keys {
		if !containsString(columns, k) {
			return nil, fmt.Errorf("primary key column %s not found in source rows", strings.ToUpper(k))
		}
	}

	merged, err := leftJoin(source, target, keys)
	if err != nil {
		return nil, err
	}

	// diff output is ordered by the upper-cased column name
	ordered := make([]string, len(columns))
	copy(ordered, columns)
	sort.Slice(ordered, func(i, j int) bool {
		return strings.ToUpper(ordered[i]) < strings.ToUpper(ordered[j])
	})

	result = &types.Comparison{RowsCompared: len(merged)}
	diffColumns := make(map[string]struct{})

	for _, row := range merged {
		rec := compareRow(spec, row, ordered, keys)
		if rec.Decision == types.DecisionNoMatch {
			result.RowsWithDifferences++
			for _, d := range rec.Diffs {
				diffColumns[d.Column] = struct{}{}
			}
			result.Diffs = append(result.Diffs, rec.Diffs...)
		}
		result.Records = append(result.Records, rec)
	}

	for c := range diffColumns {
		result.ColumnsWithDifferences = append(result.ColumnsWithDifferences, c)
	}
	sort.Strings(result.ColumnsWithDifferences)
	return result, nil
}

func sourceColumns(rs *types.RowSet) []string {
	if rs == nil {
		return nil
	}
	if len(rs.Columns) > 0 {
		return rs.Columns
	}
	if len(rs.Rows) == 0 {
		return nil
	}
	cols := make([]string, 0, len(rs.Rows[0]))
	for c := range rs.Rows[0] {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

func leftJoin(source, target *types.RowSet, keys []string) ([]mergedRow, error) {
	index := make(map[string][]types.Row)
	if target != nil {
		for _, tr := range target.Rows {
			k, err := rowKey(tr, keys)
			if err != nil {
				return nil, fmt.Errorf("target key: %w", err)
			}
			index[k] = append(index[k], tr)
		}
	}

	var merged []mergedRow
	for _, sr := range source.Rows {
		k, err := rowKey(sr, keys)
		if err != nil {
			return nil, fmt.Errorf("source key: %w", err)
		}
		matches := index[k]
		if len(matches) == 0 {
			merged = append(merged, mergeRow(sr, nil))
			continue
		}
		for _, tr := range matches {
			merged = append(merged, mergeRow(sr, tr))
		}
	}
	return merged, nil
}

func mergeRow(source, target types.Row) mergedRow {
	m := make(mergedRow, len(source)+len(target))
	for c, v := range source {
		m[c] = v
	}
	for c, v := range target {
		m[TargetPrefix+c] = v
	}
	return m
}

// rowKey joins the canonical key values so that 7, int64(7) and "7" land on
// the same join key.
func rowKey(row types.Row, keys []string) (string, error) {
	parts := make([]string, len(keys))
	for i, k := range keys {
		v, ok := row[k]
		if !ok {
			return "", fmt.Errorf("key column %s missing from row", strings.ToUpper(k))
		}
		if v == nil {
			parts[i] = "\x00"
			continue
		}
		s, err := canonical(v)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, keySeparator), nil
}

func compareRow(spec types.TableSpec, row mergedRow, columns, keys []string) types.ComparisonRecord {
	rec := types.ComparisonRecord{
		PrimaryKey: primaryKeyDisplay(row, keys),
		Decision:   types.DecisionMatch,
	}
	for _, col := range columns {
		if d, differs := compareColumn(row[col], row[TargetPrefix+col]); differs {
			d.Schema = spec.Schema
			d.Table = spec.Table
			d.PrimaryKey = rec.PrimaryKey
			d.Column = strings.ToUpper(col)
			rec.Diffs = append(rec.Diffs, d)
		}
	}
	if len(rec.Diffs) > 0 {
		rec.Decision = types.DecisionNoMatch
	}
	return rec
}

// compareColumn applies the asymmetric-null rule. A panic or error raised
// while looking at either value is itself reported as a difference.
func compareColumn(source, target any) (diff types.ColumnDiff, differs bool) {
	defer func() {
		if r := recover(); r != nil {
			diff = types.ColumnDiff{
				SourceValue: safeDisplay(source),
				TargetValue: safeDisplay(target),
				Message:     fmt.Sprintf("%v", r),
			}
			differs = true
		}
	}()

	equal, err := ValuesEqual(source, target)
	if err != nil {
		return types.ColumnDiff{
			SourceValue: safeDisplay(source),
			TargetValue: safeDisplay(target),
			Message:     err.Error(),
		}, true
	}
	if equal {
		return types.ColumnDiff{}, false
	}
	return types.ColumnDiff{
		SourceValue: displayValue(source),
		TargetValue: displayValue(target),
	}, true
}

func safeDisplay(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = fmt.Sprintf("<%T>", v)
		}
	}()
	return displayValue(v)
}

func primaryKeyDisplay(row mergedRow, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s = %s", strings.ToUpper(k), safeDisplay(row[k]))
	}
	return strings.Join(parts, ", ")
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
