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
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/types"
)

// ErrNoTables means the table list parsed cleanly but named nothing to
// validate. Callers treat it as a clean exit.
var ErrNoTables = errors.New("no tables to validate")

// LoadTables reads a table list file of "schema,table" lines.
func LoadTables(path string) ([]types.TableSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open table list: %w", err)
	}
	defer f.Close()

	tables, err := ParseTables(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tables, nil
}

// ParseTables reads "schema,table" lines. Blank lines and lines starting
// with '#' are ignored. "schema.table" is accepted as well. The result is
// upper-cased, de-duplicated and sorted by schema then table.
func ParseTables(r io.Reader) ([]types.TableSpec, error) {
	var entries []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		entries = append(entries, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading table list: %w", err)
	}
	return parseEntries(entries)
}

// ParseTableList parses a comma separated list of schema.table names as
// given on the command line.
func ParseTableList(list string) ([]types.TableSpec, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	return parseEntries(strings.Split(list, ","))
}

func parseEntries(entries []string) ([]types.TableSpec, error) {
	seen := make(map[string]struct{})
	var tables []types.TableSpec
	for i, raw := range entries {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		spec, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if _, dup := seen[spec.Key()]; dup {
			continue
		}
		seen[spec.Key()] = struct{}{}
		tables = append(tables, spec)
	}
	sortTables(tables)
	return tables, nil
}

func parseEntry(line string) (types.TableSpec, error) {
	parts := strings.Split(line, ",")
	if len(parts) == 1 {
		parts = strings.Split(line, ".")
	}
	if len(parts) != 2 {
		return types.TableSpec{}, fmt.Errorf("expected schema,table but got %q", line)
	}
	spec := types.NewTableSpec(parts[0], parts[1])
	if err := queries.SanitiseIdentifier(spec.Schema); err != nil {
		return types.TableSpec{}, err
	}
	if err := queries.SanitiseIdentifier(spec.Table); err != nil {
		return types.TableSpec{}, err
	}
	return spec, nil
}

func sortTables(tables []types.TableSpec) {
	sort.Slice(tables, func(i, j int) bool {
		if tables[i].Schema != tables[j].Schema {
			return tables[i].Schema < tables[j].Schema
		}
		return tables[i].Table < tables[j].Table
	})
}

// ParseSkipList builds the skip list from a comma separated flag value and an
// optional file with one schema.table per line.
func ParseSkipList(skipTables, skipFile string) ([]types.TableSpec, error) {
	var entries []string
	if skipTables != "" {
		entries = append(entries, strings.Split(skipTables, ",")...)
	}
	if skipFile != "" {
		file, err := os.Open(skipFile)
		if err != nil {
			return nil, fmt.Errorf("could not open skip file: %w", err)
		}
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			entries = append(entries, scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("error reading skip file: %w", err)
		}
	}
	return parseEntries(entries)
}

// FilterTables drops every table named in skip.
func FilterTables(tables, skip []types.TableSpec) []types.TableSpec {
	if len(skip) == 0 {
		return tables
	}
	drop := make(map[string]struct{}, len(skip))
	for _, s := range skip {
		drop[s.Key()] = struct{}{}
	}
	out := make([]types.TableSpec, 0, len(tables))
	for _, t := range tables {
		if _, ok := drop[t.Key()]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}
