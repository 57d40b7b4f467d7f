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
	"time"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/logger"
	"github.com/pgedge/recon/pkg/types"
	"github.com/sony/gobreaker"
)

// BreakerExecutor stops sending work to a database that keeps refusing
// connections. Only ErrConnect failures count towards tripping; statement
// errors pass through untouched.
type BreakerExecutor struct {
	next Executor
	cb   *gobreaker.CircuitBreaker
}

func WithBreaker(next Executor, name string, consecutiveFailures uint32, openTimeout time.Duration) *BreakerExecutor {
	if consecutiveFailures == 0 {
		consecutiveFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= consecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
	return &BreakerExecutor{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerExecutor) Dialect() queries.Dialect {
	return b.next.Dialect()
}

func (b *BreakerExecutor) Query(ctx context.Context, query string, args ...any) (*types.RowSet, error) {
	var stmtErr error
	res, err := b.cb.Execute(func() (interface{}, error) {
		rs, err := b.next.Query(ctx, query, args...)
		if err != nil && !errors.Is(err, ErrConnect) {
			stmtErr = err
			return nil, nil
		}
		return rs, err
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s database unavailable: %w", ErrConnect, b.cb.Name(), err)
		}
		return nil, err
	}
	if stmtErr != nil {
		return nil, stmtErr
	}
	rs, _ := res.(*types.RowSet)
	return rs, nil
}

func (b *BreakerExecutor) State() gobreaker.State {
	return b.cb.State()
}
