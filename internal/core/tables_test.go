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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pgedge/recon/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTables(t *testing.T) {
	input := `
# source tables
sales,orders
 Sales , Customers
hr.employees
SALES,ORDERS

`
	tables, err := ParseTables(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []types.TableSpec{
		{Schema: "HR", Table: "EMPLOYEES"},
		{Schema: "SALES", Table: "CUSTOMERS"},
		{Schema: "SALES", Table: "ORDERS"},
	}, tables)
}

func TestParseTablesErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing table", "sales\n"},
		{"too many parts", "a,b,c\n"},
		{"bad identifier", "sales,orders;drop\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTables(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestLoadTables(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tables.txt")
	require.NoError(t, os.WriteFile(path, []byte("a,b\n"), 0o644))
	tables, err := LoadTables(path)
	require.NoError(t, err)
	assert.Equal(t, []types.TableSpec{{Schema: "A", Table: "B"}}, tables)

	_, err = LoadTables(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o644))
	tables, err = LoadTables(empty)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestSkipList(t *testing.T) {
	skipFile := filepath.Join(t.TempDir(), "skip.txt")
	require.NoError(t, os.WriteFile(skipFile, []byte("hr.audit\n"), 0o644))

	skip, err := ParseSkipList("sales.orders", skipFile)
	require.NoError(t, err)
	require.Len(t, skip, 2)

	tables, err := ParseTableList("sales.orders,sales.customers,hr.audit,hr.emp")
	require.NoError(t, err)
	kept := FilterTables(tables, skip)
	assert.Equal(t, []types.TableSpec{
		{Schema: "HR", Table: "EMP"},
		{Schema: "SALES", Table: "CUSTOMERS"},
	}, kept)

	_, err = ParseSkipList("", filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	none, err := ParseTableList("  ")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestPrimaryKeyTuples(t *testing.T) {
	rs := rows([]string{"region", "id", "v"},
		[]any{"EU", int64(1), "a"},
		[]any{"US", int64(2), "b"},
	)
	tuples, err := PrimaryKeyTuples(rs, []string{"REGION", "ID"})
	require.NoError(t, err)
	assert.Equal(t, [][]any{{"EU", int64(1)}, {"US", int64(2)}}, tuples)

	_, err = PrimaryKeyTuples(rs, []string{"MISSING"})
	assert.Error(t, err)
	_, err = PrimaryKeyTuples(rs, nil)
	assert.Error(t, err)
}
