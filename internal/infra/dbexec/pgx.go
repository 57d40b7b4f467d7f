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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/types"
)

type PgxExecutor struct {
	connString string
}

func NewPgxExecutor(connString string) *PgxExecutor {
	return &PgxExecutor{connString: connString}
}

func (e *PgxExecutor) Dialect() queries.Dialect {
	return queries.Postgres
}

func (e *PgxExecutor) Query(ctx context.Context, query string, args ...any) (*types.RowSet, error) {
	conn, err := pgx.Connect(ctx, e.connString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		conn.Close(closeCtx)
	}()

	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, describePgError(err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = strings.ToLower(f.Name)
	}

	result := &types.RowSet{Columns: cols}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read row values: %w", err)
		}
		row := make(types.Row, len(cols))
		for i, v := range vals {
			row[cols[i]] = normalizeValue(v, "")
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, describePgError(err)
	}
	return result, nil
}

func describePgError(err error) error {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	if pgconn.Timeout(err) {
		return fmt.Errorf("query timed out: %w", err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("query failed: %s (SQLSTATE %s)", pgErr.Message, pgErr.Code)
	}
	return fmt.Errorf("query failed: %w", err)
}
