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

package dbexec

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/types"
	_ "github.com/sijms/go-ora/v2"
)

// SQLXExecutor serves every engine reached through database/sql.
type SQLXExecutor struct {
	dialect queries.Dialect
	driver  string
	dsn     string
}

func NewSQLXExecutor(d queries.Dialect, driver, dsn string) *SQLXExecutor {
	return &SQLXExecutor{dialect: d, driver: driver, dsn: dsn}
}

func (e *SQLXExecutor) Dialect() queries.Dialect {
	return e.dialect
}

func (e *SQLXExecutor) Query(ctx context.Context, query string, args ...any) (*types.RowSet, error) {
	db, err := sqlx.ConnectContext(ctx, e.driver, e.dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to read column types: %w", err)
	}
	cols := make([]string, len(colTypes))
	for i, ct := range colTypes {
		cols[i] = strings.ToLower(ct.Name())
	}

	result := &types.RowSet{Columns: cols}
	for rows.Next() {
		raw := make(map[string]any, len(cols))
		if err := rows.MapScan(raw); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(types.Row, len(cols))
		for i, ct := range colTypes {
			row[cols[i]] = normalizeValue(raw[ct.Name()], ct.DatabaseTypeName())
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	return result, nil
}
