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
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Dialect is the closed set of SQL engines the synthesizer can target.
type Dialect int

const (
	Unknown Dialect = iota
	Oracle
	Postgres
	SQLServer
	MySQL
	SQLite
)

var dialectNames = map[Dialect]string{
	Oracle:    "oracle",
	Postgres:  "postgres",
	SQLServer: "sqlserver",
	MySQL:     "mysql",
	SQLite:    "sqlite",
}

func (d Dialect) String() string {
	if name, ok := dialectNames[d]; ok {
		return name
	}
	return "unknown"
}

// ParseDialect maps an engine tag (as found in config or SRC_DB_ENGINE) to a
// Dialect.
func ParseDialect(engine string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case "oracle", "ora":
		return Oracle, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	case "sqlserver", "mssql", "sql_server":
		return SQLServer, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return Unknown, fmt.Errorf("unsupported database engine %q", engine)
	}
}

// AnchorFrom is the FROM clause a constant SELECT needs in this dialect.
func (d Dialect) AnchorFrom() string {
	if d == Oracle {
		return " FROM DUAL"
	}
	return ""
}

const timestampLayout = "2006-01-02 15:04:05.999999"

// FormatLiteral renders v as a SQL literal for this dialect. Text is single
// quoted, everything else is emitted bare.
func (d Dialect) FormatLiteral(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return quote(val), nil
	case []byte:
		return quote(string(val)), nil
	case uuid.UUID:
		if d == Postgres {
			return quote(val.String()) + "::uuid", nil
		}
		return quote(val.String()), nil
	case json.Number:
		f, err := strconv.ParseFloat(val.String(), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("invalid numeric literal %q", val.String())
		}
		return val.String(), nil
	case bool:
		return d.boolLiteral(val), nil
	case int:
		return strconv.FormatInt(int64(val), 10), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint64:
		return strconv.FormatUint(val, 10), nil
	case float32:
		return formatFloat(float64(val))
	case float64:
		return formatFloat(val)
	case time.Time:
		return d.timeLiteral(val), nil
	default:
		return "", fmt.Errorf("cannot render %T as a SQL literal", v)
	}
}

func (d Dialect) boolLiteral(b bool) string {
	switch d {
	case Oracle, SQLServer:
		if b {
			return "1"
		}
		return "0"
	default:
		if b {
			return "TRUE"
		}
		return "FALSE"
	}
}

func (d Dialect) timeLiteral(t time.Time) string {
	s := t.Format(timestampLayout)
	switch d {
	case Oracle, Postgres:
		return "TIMESTAMP " + quote(s)
	default:
		return quote(s)
	}
}

func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("cannot render %v as a SQL literal", f)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
