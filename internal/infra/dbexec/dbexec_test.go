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
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/internal/infra/dbexec/mocks"
	"github.com/pgedge/recon/pkg/config"
	"github.com/pgedge/recon/pkg/types"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stringer struct{ s string }

func (s stringer) String() string { return s.s }

func TestNormalizeValue(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := [16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}

	// wire order of 6F9619FF-8B86-D011-B42D-00C04FC964FF
	mssqlGUID := []byte{0xff, 0x19, 0x96, 0x6f, 0x86, 0x8b, 0x11, 0xd0, 0xb4, 0x2d, 0x00, 0xc0, 0x4f, 0xc9, 0x64, 0xff}

	var num pgtype.Numeric
	require.NoError(t, num.Scan("3000.50"))

	tests := []struct {
		name   string
		value  any
		dbType string
		want   any
	}{
		{"nil", nil, "", nil},
		{"bytes as text", []byte("abc"), "VARCHAR", "abc"},
		{"bytes as decimal", []byte("12.50"), "DECIMAL", json.Number("12.50")},
		{"oracle number string", "42", "NUMBER", json.Number("42")},
		{"non numeric in numeric column", "n/a", "NUMBER", "n/a"},
		{"nan stays text", "NaN", "NUMERIC", "NaN"},
		{"unsigned mysql type", []byte("7"), "UNSIGNED BIGINT", json.Number("7")},
		{"sized decimal", []byte("1.5"), "NUMERIC(10,2)", json.Number("1.5")},
		{"interval is not numeric", []byte("1 day"), "INTERVAL", "1 day"},
		{"int32 widened", int32(5), "", int64(5)},
		{"uint8 widened", uint8(5), "", uint64(5)},
		{"float32 widened", float32(1.5), "", float64(1.5)},
		{"bool kept", true, "", true},
		{"time kept", ts, "", ts},
		{"uuid bytes", raw, "", uuid.UUID(raw)},
		{"sql server uniqueidentifier", mssqlGUID, "UNIQUEIDENTIFIER", uuid.MustParse("6f9619ff-8b86-d011-b42d-00c04fc964ff")},
		{"short uniqueidentifier stays text", []byte("abc"), "UNIQUEIDENTIFIER", "abc"},
		{"pg numeric", num, "", json.Number("3000.50")},
		{"invalid pg numeric", pgtype.Numeric{}, "", nil},
		{"stringer", stringer{"x"}, "", "x"},
		{"json object", map[string]any{"a": float64(1)}, "", `{"a":1}`},
		{"array", []any{"a", "b"}, "", `["a","b"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeValue(tt.value, tt.dbType))
		})
	}
}

func TestBreakerTripsOnConnectFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockExecutor(ctrl)
	next.EXPECT().
		Query(gomock.Any(), "SELECT 1").
		Return(nil, fmt.Errorf("%w: connection refused", ErrConnect)).
		Times(3)

	b := WithBreaker(next, "target", 3, time.Minute)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := b.Query(ctx, "SELECT 1")
		require.ErrorIs(t, err, ErrConnect)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	// open breaker rejects without reaching the database
	_, err := b.Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrConnect)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerIgnoresStatementErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockExecutor(ctrl)
	stmtErr := errors.New("relation does not exist")
	next.EXPECT().Query(gomock.Any(), "SELECT * FROM MISSING").Return(nil, stmtErr).Times(5)
	next.EXPECT().Dialect().Return(queries.Postgres)

	b := WithBreaker(next, "target", 2, time.Minute)
	for i := 0; i < 5; i++ {
		_, err := b.Query(context.Background(), "SELECT * FROM MISSING")
		require.ErrorIs(t, err, stmtErr)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
	assert.Equal(t, queries.Postgres, b.Dialect())
}

func TestBreakerPassesRows(t *testing.T) {
	ctrl := gomock.NewController(t)
	next := mocks.NewMockExecutor(ctrl)
	want := &types.RowSet{Columns: []string{"id"}, Rows: []types.Row{{"id": int64(1)}}}
	next.EXPECT().Query(gomock.Any(), "SELECT id FROM T").Return(want, nil)

	got, err := WithBreaker(next, "source", 0, time.Second).Query(context.Background(), "SELECT id FROM T")
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestSQLXExecutorSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "source.db")
	exec := NewSQLXExecutor(queries.SQLite, "sqlite3", path)
	ctx := context.Background()

	for _, stmt := range []string{
		`CREATE TABLE orders (order_id INTEGER PRIMARY KEY, status TEXT, amount NUMERIC(10,2))`,
		`INSERT INTO orders VALUES (1, 'SHIPPED', 10.5), (2, NULL, 20)`,
	} {
		_, err := exec.Query(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	rs, err := exec.Query(ctx, `SELECT * FROM MAIN.ORDERS ORDER BY ORDER_ID`)
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "status", "amount"}, rs.Columns)
	require.Equal(t, 2, rs.Len())
	assert.Equal(t, int64(1), rs.Rows[0]["order_id"])
	assert.Equal(t, "SHIPPED", rs.Rows[0]["status"])
	assert.Nil(t, rs.Rows[1]["status"])
	assert.NotNil(t, rs.Rows[1]["amount"])

	empty, err := exec.Query(ctx, `SELECT * FROM orders WHERE 1 = 0`)
	require.NoError(t, err)
	assert.True(t, empty.Empty())

	_, err = exec.Query(ctx, `SELECT * FROM no_such_table`)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConnect))
}

func TestConnectFailuresAreClassified(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewSQLXExecutor(queries.MySQL, "mysql", "u:p@tcp(127.0.0.1:1)/db?timeout=2s").Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrConnect)

	_, err = NewPgxExecutor("host=127.0.0.1 port=1 user=u dbname=d sslmode=disable connect_timeout=2").Query(ctx, "SELECT 1")
	require.ErrorIs(t, err, ErrConnect)
}

func TestNewFromConfig(t *testing.T) {
	exec, err := NewFromConfig("source", config.DatabaseConfig{Engine: "postgres", Host: "h", Database: "d", User: "u"}, config.BreakerConfig{})
	require.NoError(t, err)
	assert.IsType(t, &PgxExecutor{}, exec)

	exec, err = NewFromConfig("target", config.DatabaseConfig{Engine: "sqlite", Database: "x.db"}, config.BreakerConfig{Enabled: true, OpenTimeout: "5s"})
	require.NoError(t, err)
	assert.IsType(t, &BreakerExecutor{}, exec)
	assert.Equal(t, queries.SQLite, exec.Dialect())

	_, err = NewFromConfig("target", config.DatabaseConfig{Engine: "sqlite", Database: "x.db"}, config.BreakerConfig{Enabled: true, OpenTimeout: "soon"})
	require.Error(t, err)

	_, err = NewFromConfig("source", config.DatabaseConfig{Engine: "informix"}, config.BreakerConfig{})
	require.Error(t, err)
}
