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

import "text/template"

type Templates struct {
	OraclePrimaryKeys    *template.Template
	PostgresPrimaryKeys  *template.Template
	SQLServerPrimaryKeys *template.Template
	MySQLPrimaryKeys     *template.Template
	SQLitePrimaryKeys    *template.Template

	SampleLimit  *template.Template
	SampleTop    *template.Template
	SampleRownum *template.Template

	TargetRows  *template.Template
	TargetEmpty *template.Template
}

var SQLTemplates = Templates{
	OraclePrimaryKeys: template.Must(template.New("oraclePrimaryKeys").Parse(`
WITH temp AS (
    {{.InlineView}}
)
SELECT
     UPPER(cols.owner)       AS owner
   , UPPER(cols.table_name)  AS table_name
   , UPPER(cols.column_name) AS column_name
FROM
     all_constraints cons
   , all_cons_columns cols
   , temp
WHERE
    UPPER(cons.owner) = UPPER(temp.owner)
AND UPPER(cons.table_name) = UPPER(temp.table_name)
AND cols.owner = cons.owner
AND cols.table_name = cons.table_name
AND cons.constraint_type = 'P'
AND cons.constraint_name = cols.constraint_name
AND cons.status = 'ENABLED'
ORDER BY
    1, 2, cols.position`)),

	PostgresPrimaryKeys: template.Must(template.New("postgresPrimaryKeys").Parse(`
WITH temp AS (
    {{.InlineView}}
)
SELECT
    UPPER(kcu.table_schema) AS owner
  , UPPER(kcu.table_name)   AS table_name
  , UPPER(kcu.column_name)  AS column_name
FROM
    information_schema.table_constraints tc
    JOIN information_schema.key_column_usage kcu
      ON tc.constraint_name = kcu.constraint_name
     AND tc.table_schema = kcu.table_schema
     AND tc.table_name = kcu.table_name
    JOIN temp
      ON UPPER(tc.table_schema) = UPPER(temp.owner)
     AND UPPER(tc.table_name) = UPPER(temp.table_name)
WHERE
    tc.constraint_type = 'PRIMARY KEY'
ORDER BY
    1, 2, kcu.ordinal_position`)),

	SQLServerPrimaryKeys: template.Must(template.New("sqlserverPrimaryKeys").Parse(`
WITH temp AS (
    {{.InlineView}}
)
SELECT
    UPPER(k.TABLE_SCHEMA) AS owner
  , UPPER(k.TABLE_NAME)   AS table_name
  , UPPER(k.COLUMN_NAME)  AS column_name
FROM
    INFORMATION_SCHEMA.TABLE_CONSTRAINTS t
  , INFORMATION_SCHEMA.KEY_COLUMN_USAGE k
  , temp
WHERE
    t.CONSTRAINT_TYPE = 'PRIMARY KEY'
AND UPPER(t.TABLE_SCHEMA) = UPPER(temp.owner)
AND UPPER(t.TABLE_NAME) = UPPER(temp.table_name)
AND k.TABLE_SCHEMA = t.TABLE_SCHEMA
AND k.TABLE_NAME = t.TABLE_NAME
AND k.CONSTRAINT_NAME = t.CONSTRAINT_NAME
ORDER BY
    1, 2, k.ORDINAL_POSITION`)),

	MySQLPrimaryKeys: template.Must(template.New("mysqlPrimaryKeys").Parse(`
WITH temp AS (
    {{.InlineView}}
)
SELECT
    UPPER(k.table_schema) AS owner
  , UPPER(k.table_name)   AS table_name
  , UPPER(k.column_name)  AS column_name
FROM
    information_schema.table_constraints t
  , information_schema.key_column_usage k
  , temp
WHERE
    t.constraint_type = 'PRIMARY KEY'
AND UPPER(t.table_schema) = UPPER(temp.owner)
AND UPPER(t.table_name) = UPPER(temp.table_name)
AND k.table_schema = t.table_schema
AND k.table_name = t.table_name
AND k.constraint_name = t.constraint_name
ORDER BY
    1, 2, k.ordinal_position`)),

	SQLitePrimaryKeys: template.Must(template.New("sqlitePrimaryKeys").Parse(`
WITH temp AS (
    {{.InlineView}}
)
SELECT
    temp.owner       AS owner
  , temp.table_name  AS table_name
  , UPPER(p.name)    AS column_name
FROM
    temp
  , pragma_table_info(temp.table_name, temp.owner) p
WHERE
    p.pk > 0
ORDER BY
    1, 2, p.pk`)),

	SampleLimit: template.Must(template.New("sampleLimit").Parse(
		`SELECT * FROM {{.Schema}}.{{.Table}} LIMIT {{.Limit}}`)),
	SampleTop: template.Must(template.New("sampleTop").Parse(
		`SELECT TOP ({{.Limit}}) * FROM {{.Schema}}.{{.Table}}`)),
	SampleRownum: template.Must(template.New("sampleRownum").Parse(
		`SELECT * FROM {{.Schema}}.{{.Table}} WHERE ROWNUM <= {{.Limit}}`)),

	TargetRows: template.Must(template.New("targetRows").Parse(`WITH temp AS (
{{range $i, $a := .Anchors}}{{if $i}}
UNION {{end}}{{$a}}{{end}}
)
SELECT a.* FROM {{.Schema}}.{{.Table}} a, temp WHERE {{.JoinPredicate}}`)),
	TargetEmpty: template.Must(template.New("targetEmpty").Parse(
		`SELECT a.* FROM {{.Schema}}.{{.Table}} a WHERE 1 = 0`)),
}
