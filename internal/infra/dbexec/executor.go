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

// Package dbexec runs tabular queries against the source and target
// databases. Every call opens its own connection and closes it before
// returning; nothing is pooled or shared between table jobs.
package dbexec

//go:generate mockgen -destination=mocks/mock_executor.go -package=mocks github.com/pgedge/recon/internal/infra/dbexec Executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/auth"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/types"
)

// ErrConnect marks failures to reach the database, as opposed to failures of
// the statement itself.
var ErrConnect = errors.New("database connection failed")

type Executor interface {
	// Query runs query and returns every row. A valid query with no matching
	// rows returns an empty RowSet and a nil error.
	Query(ctx context.Context, query string, args ...any) (*types.RowSet, error)
	Dialect() queries.Dialect
}

// New returns the executor that serves cfg.Engine.
func New(cfg config.DatabaseConfig) (Executor, error) {
	d, err := queries.ParseDialect(cfg.Engine)
	if err != nil {
		return nil, err
	}
	if d == queries.Postgres {
		return NewPgxExecutor(auth.PostgresConnString(cfg)), nil
	}
	driver, dsn, err := auth.DSN(cfg)
	if err != nil {
		return nil, fmt.Errorf("build %s dsn: %w", d, err)
	}
	return NewSQLXExecutor(d, driver, dsn), nil
}

// NewFromConfig builds the executor for one side and wraps it in a circuit
// breaker when breaker.enabled is set.
func NewFromConfig(side string, db config.DatabaseConfig, bc config.BreakerConfig) (Executor, error) {
	exec, err := New(db)
	if err != nil {
		return nil, fmt.Errorf("%s database: %w", side, err)
	}
	if !bc.Enabled {
		return exec, nil
	}
	timeout := 30 * time.Second
	if bc.OpenTimeout != "" {
		d, err := time.ParseDuration(bc.OpenTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid breaker.open_timeout %q: %w", bc.OpenTimeout, err)
		}
		timeout = d
	}
	return WithBreaker(exec, side, bc.ConsecutiveFails, timeout), nil
}
