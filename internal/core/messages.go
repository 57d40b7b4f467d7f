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
	"fmt"
	"strings"
	"time"

	"github.com/pgedge/recon/pkg/types"
)

// Status messages are persisted in the summary logs and parsed back by the
// aggregator, so their wording is part of the log contract.
const (
	MsgNoDifferences      = "NO DATA DIFFERENCES FOUND"
	msgDifferencesSuffix  = "records have data differences"
	msgNoPrimaryKeys      = "%s does not have primary keys, skipping data validation!"
	msgNoSourceData       = "%s does not have data in source DB, skipping data validation!"
	MsgNoTargetData       = "No data found in target DB, skipping data validation!"
	msgSourceReadError    = "Error when reading data from Source table: %s"
	msgPrimaryKeyError    = "Error identifying primary key data from Source table. %s"
	msgTargetBuildError   = "Error when building the query for Target DB. %s"
	msgTargetExecError    = "Error when executing the query on Target DB. %s"
	msgCompareError       = "Error when comparing Source & Target Table. %s"
	msgTimeoutError       = "Error: data validation timed out after %s"
	msgAbortedError       = "Error: data validation aborted: %s"
	msgCancelledError     = "Error: data validation cancelled: %s"
	MsgNoTablesToValidate = "No tables to validate"
)

func differencesMessage(n int) string {
	return fmt.Sprintf("%d %s", n, msgDifferencesSuffix)
}

func noPrimaryKeysMessage(spec types.TableSpec) string {
	return fmt.Sprintf(msgNoPrimaryKeys, spec.Key())
}

func noSourceDataMessage(spec types.TableSpec) string {
	return fmt.Sprintf(msgNoSourceData, spec.Key())
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf(msgTimeoutError, d)
}

func errorMessage(format string, err error) string {
	return fmt.Sprintf(format, cleanError(err))
}

// cleanError flattens error text onto a single line and removes the log
// field delimiter.
func cleanError(err error) string {
	if err == nil {
		return ""
	}
	s := strings.Join(strings.Fields(err.Error()), " ")
	return strings.ReplaceAll(s, fieldDelimiter, "-")
}
