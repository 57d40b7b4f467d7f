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
	"fmt"
	"strings"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/infra/dbexec"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
)

// Extractor pulls the bounded source sample and the matching target rows.
// It holds no connection state; each call goes through the executor.
type Extractor struct {
	source     dbexec.Executor
	target     dbexec.Executor
	sampleSize int
}

func NewExtractor(source, target dbexec.Executor, sampleSize int) *Extractor {
	return &Extractor{source: source, target: target, sampleSize: sampleSize}
}

func (e *Extractor) Source(ctx context.Context, spec types.TableSpec) (*types.RowSet, error) {
	sql, err := queries.SampleQuery(e.source.Dialect(), spec, e.sampleSize)
	if err != nil {
		return nil, err
	}
	logger.Debug("[%s] source query: %s", spec, sql)
	rs, err := e.source.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = &types.RowSet{}
	}
	return rs, nil
}

// TargetQuery builds the keyed lookup for the rows sampled from source.
func (e *Extractor) TargetQuery(spec types.TableSpec, pkCols []string, tuples [][]any) (string, error) {
	return queries.TargetQuery(e.target.Dialect(), spec, pkCols, tuples)
}

func (e *Extractor) Target(ctx context.Context, spec types.TableSpec, sql string) (*types.RowSet, error) {
	logger.Debug("[%s] target query: %s", spec, sql)
	rs, err := e.target.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	if rs == nil {
		rs = &types.RowSet{}
	}
	return rs, nil
}

// PrimaryKeyTuples returns the key values of every sampled row, in pkCols
// order.
func PrimaryKeyTuples(rows *types.RowSet, pkCols []string) ([][]any, error) {
	if len(pkCols) == 0 {
		return nil, fmt.Errorf("no primary key columns")
	}
	tuples := make([][]any, 0, rows.Len())
	for i, row := range rows.Rows {
		tuple := make([]any, len(pkCols))
		for j, c := range pkCols {
			v, ok := row[strings.ToLower(c)]
			if !ok {
				return nil, fmt.Errorf("column %s not found in source row %d", c, i)
			}
			tuple[j] = v
		}
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}
