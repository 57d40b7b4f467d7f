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
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

// ErrPrimaryKeyLookup marks a failed catalog lookup. It is fatal for a run.
var ErrPrimaryKeyLookup = errors.New("primary key lookup failed")

type Resolver struct {
	exec dbexec.Executor
}

func NewResolver(exec dbexec.Executor) *Resolver {
	return &Resolver{exec: exec}
}

// Resolve looks up the primary key columns of every table with a single
// catalog query against the source. Tables without a primary key are absent
// from the returned map.
func (r *Resolver) Resolve(ctx context.Context, tables []types.TableSpec) (types.PrimaryKeyMap, error) {
	pkMap := make(types.PrimaryKeyMap)
	if len(tables) == 0 {
		return pkMap, nil
	}

	sql, err := queries.PrimaryKeyQuery(r.exec.Dialect(), tables)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrimaryKeyLookup, err)
	}
	logger.Debug("Primary key query:\n%s", sql)

	rs, err := r.exec.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrimaryKeyLookup, err)
	}

	for i, row := range rs.Rows {
		owner, okOwner := row["owner"]
		table, okTable := row["table_name"]
		column, okColumn := row["column_name"]
		if !okOwner || !okTable || !okColumn || owner == nil || table == nil || column == nil {
			return nil, fmt.Errorf("%w: catalog row %d is missing owner, table_name or column_name", ErrPrimaryKeyLookup, i)
		}
		spec := types.NewTableSpec(displayValue(owner), displayValue(table))
		col := strings.ToUpper(strings.TrimSpace(displayValue(column)))
		pkMap[spec.Key()] = append(pkMap[spec.Key()], col)
	}

	logger.Debug("Resolved primary keys for %d of %d tables", len(pkMap), len(tables))
	return pkMap, nil
}
