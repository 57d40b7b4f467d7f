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
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	nullDisplay  = "NULL"
	displayTime  = "2006-01-02 15:04:05.999999999"
	maxFracDigit = 40
)

// ValuesEqual is the column equality rule used by the comparator.
//
// Two nulls are equal and a null never equals a non-null. Otherwise both
// values are reduced to a canonical string and compared:
//   - numbers of any type (ints, floats, json.Number) lose insignificant
//     zeros and exponents, so 3000, 3000.00 and 3e3 are equal;
//   - text and byte slices compare verbatim, and a number equals text
//     that reads the same ("5" == 5, but "5.0" != 5);
//   - times compare at nanosecond precision in UTC;
//   - booleans compare as true/false;
//   - anything else compares by its String() or JSON form.
func ValuesEqual(source, target any) (bool, error) {
	if source == nil || target == nil {
		return source == nil && target == nil, nil
	}
	s, err := canonical(source)
	if err != nil {
		return false, fmt.Errorf("source value: %w", err)
	}
	t, err := canonical(target)
	if err != nil {
		return false, fmt.Errorf("target value: %w", err)
	}
	return s == t, nil
}

func canonical(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", nil
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case bool:
		return strconv.FormatBool(val), nil
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
		return canonicalFloat(float64(val))
	case float64:
		return canonicalFloat(val)
	case json.Number:
		return canonicalDecimal(val.String())
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano), nil
	case uuid.UUID:
		return val.String(), nil
	case fmt.Stringer:
		return val.String(), nil
	case error:
		return val.Error(), nil
	default:
		blob, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("cannot compare value of type %T: %w", v, err)
		}
		return string(blob), nil
	}
}

func canonicalFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return canonicalDecimal(strconv.FormatFloat(f, 'f', -1, 64))
}

func canonicalDecimal(s string) (string, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return "", fmt.Errorf("invalid numeric value %q", s)
	}
	if r.IsInt() {
		return r.Num().String(), nil
	}
	out := strings.TrimRight(r.FloatString(maxFracDigit), "0")
	return strings.TrimSuffix(out, "."), nil
}

// displayValue renders a value for logs and reports.
func displayValue(v any) string {
	switch val := v.(type) {
	case nil:
		return nullDisplay
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(displayTime)
	case json.Number:
		return val.String()
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
