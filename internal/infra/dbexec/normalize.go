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
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	mssql "github.com/microsoft/go-mssqldb"
)

var numericTypeNames = map[string]struct{}{
	"NUMBER": {}, "NUMERIC": {}, "DECIMAL": {}, "DEC": {},
	"MONEY": {}, "SMALLMONEY": {},
	"INT": {}, "INTEGER": {}, "BIGINT": {}, "SMALLINT": {}, "TINYINT": {}, "MEDIUMINT": {},
	"FLOAT": {}, "DOUBLE": {}, "REAL": {}, "BINARY_FLOAT": {}, "BINARY_DOUBLE": {},
}

func isNumericType(dbType string) bool {
	t := strings.ToUpper(strings.TrimSpace(dbType))
	t = strings.TrimPrefix(t, "UNSIGNED ")
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	_, ok := numericTypeNames[t]
	return ok
}

func isUniqueIdentifier(dbType string) bool {
	return strings.EqualFold(strings.TrimSpace(dbType), "UNIQUEIDENTIFIER")
}

// uniqueIdentifier decodes a SQL Server GUID. go-mssqldb hands it over as
// 16 bytes with the first three groups little-endian.
func uniqueIdentifier(raw []byte) (uuid.UUID, bool) {
	var g mssql.UniqueIdentifier
	if err := g.Scan(raw); err != nil {
		return uuid.UUID{}, false
	}
	return uuid.UUID(g), true
}

// normalizeValue reduces driver values to the small set of types the
// comparator and the query synthesizer understand: nil, string, int64,
// uint64, float64, bool, time.Time, json.Number and uuid.UUID. dbType is the
// driver-reported column type name when known.
func normalizeValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		if isUniqueIdentifier(dbType) {
			if id, ok := uniqueIdentifier(val); ok {
				return id
			}
		}
		if isNumericType(dbType) {
			if n, ok := asNumber(string(val)); ok {
				return n
			}
		}
		return string(val)
	case string:
		if isNumericType(dbType) {
			if n, ok := asNumber(val); ok {
				return n
			}
		}
		return val
	case int:
		return int64(val)
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int64:
		return val
	case uint:
		return uint64(val)
	case uint8:
		return uint64(val)
	case uint16:
		return uint64(val)
	case uint32:
		return uint64(val)
	case uint64:
		return val
	case float32:
		return float64(val)
	case float64, bool, time.Time, json.Number, uuid.UUID:
		return val
	case [16]byte:
		return uuid.UUID(val)
	case pgtype.Numeric:
		if !val.Valid {
			return nil
		}
		s := numericString(val)
		if n, ok := asNumber(s); ok {
			return n
		}
		return s
	case driver.Valuer:
		dv, err := val.Value()
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		if dv == nil {
			return nil
		}
		return normalizeValue(dv, dbType)
	case fmt.Stringer:
		return val.String()
	case map[string]any, []any:
		blob, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(blob)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// numericString renders a Postgres numeric keeping its scale, so 3000.50
// stays "3000.50" rather than the exponent form pgx emits.
func numericString(n pgtype.Numeric) string {
	switch {
	case n.NaN:
		return "NaN"
	case n.InfinityModifier == pgtype.Infinity:
		return "Infinity"
	case n.InfinityModifier == pgtype.NegativeInfinity:
		return "-Infinity"
	case n.Int == nil:
		return "0"
	}
	r := new(big.Rat).SetInt(n.Int)
	scale := 0
	if n.Exp != 0 {
		pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(absInt32(n.Exp))), nil)
		if n.Exp > 0 {
			r.Mul(r, new(big.Rat).SetInt(pow))
		} else {
			r.Quo(r, new(big.Rat).SetInt(pow))
			scale = int(-n.Exp)
		}
	}
	return r.FloatString(scale)
}

func absInt32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

var numberPattern = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

func asNumber(s string) (json.Number, bool) {
	s = strings.TrimSpace(s)
	if !numberPattern.MatchString(s) {
		return "", false
	}
	return json.Number(s), true
}
