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

package auth

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/pgedge/recon/db/queries"
	"github.com/pgedge/recon/pkg/config"
	go_ora "github.com/sijms/go-ora/v2"
)

// Driver names as registered with database/sql.
const (
	DriverOracle    = "oracle"
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverSQLite    = "sqlite3"
)

var defaultPorts = map[queries.Dialect]int{
	queries.Oracle:    1521,
	queries.Postgres:  5432,
	queries.SQLServer: 1433,
	queries.MySQL:     3306,
}

func port(d queries.Dialect, cfg config.DatabaseConfig) int {
	if cfg.Port > 0 {
		return cfg.Port
	}
	return defaultPorts[d]
}

// PostgresConnString builds a libpq keyword/value string for pgx.
func PostgresConnString(cfg config.DatabaseConfig) string {
	var parts []string
	if host := strings.TrimSpace(cfg.Host); host != "" {
		parts = append(parts, "host="+host)
	}
	parts = append(parts, fmt.Sprintf("port=%d", port(queries.Postgres, cfg)))
	if cfg.User != "" {
		parts = append(parts, "user="+quoteConnValue(cfg.User))
	}
	if cfg.Password != "" {
		parts = append(parts, "password="+quoteConnValue(cfg.Password))
	}
	if cfg.Database != "" {
		parts = append(parts, "dbname="+quoteConnValue(cfg.Database))
	}

	opts := cfg.Options
	if _, ok := opts["sslmode"]; !ok {
		parts = append(parts, "sslmode=disable")
	}
	for _, k := range sortedKeys(opts) {
		parts = append(parts, k+"="+quoteConnValue(opts[k]))
	}
	return strings.Join(parts, " ")
}

// DSN returns the database/sql driver name and data source name for the
// engines that go through sqlx.
func DSN(cfg config.DatabaseConfig) (string, string, error) {
	d, err := queries.ParseDialect(cfg.Engine)
	if err != nil {
		return "", "", err
	}

	switch d {
	case queries.Oracle:
		return DriverOracle, go_ora.BuildUrl(cfg.Host, port(d, cfg), cfg.Database, cfg.User, cfg.Password, cfg.Options), nil
	case queries.SQLServer:
		q := url.Values{}
		q.Set("database", cfg.Database)
		for _, k := range sortedKeys(cfg.Options) {
			q.Set(k, cfg.Options[k])
		}
		u := &url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port(d, cfg))),
			RawQuery: q.Encode(),
		}
		return DriverSQLServer, u.String(), nil
	case queries.MySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port(d, cfg)))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		if len(cfg.Options) > 0 {
			mc.Params = make(map[string]string, len(cfg.Options))
			for k, v := range cfg.Options {
				mc.Params[k] = v
			}
		}
		return DriverMySQL, mc.FormatDSN(), nil
	case queries.SQLite:
		dsn := cfg.Database
		if len(cfg.Options) > 0 {
			q := url.Values{}
			for _, k := range sortedKeys(cfg.Options) {
				q.Set(k, cfg.Options[k])
			}
			dsn = "file:" + cfg.Database + "?" + q.Encode()
		}
		return DriverSQLite, dsn, nil
	default:
		return "", "", fmt.Errorf("%s is not served by database/sql", d)
	}
}

func quoteConnValue(v string) string {
	if v == "" || strings.ContainsAny(v, ` '\`) {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
		return "'" + v + "'"
	}
	return v
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
