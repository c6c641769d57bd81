package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rickchristie/fenrir/internal/schema"
)

// Every per-table query resolves the table through the session's current
// schema, the same one unqualified names in user statements resolve to.
const pgTableRef = `(pg_catalog.quote_ident(current_schema()) || '.' || pg_catalog.quote_ident($1))::regclass`

const pgTablesSQL = `
SELECT c.relname
FROM pg_catalog.pg_class c
JOIN pg_catalog.pg_namespace n ON n.oid = c.relnamespace
WHERE c.relkind IN ('r', 'p')
  AND n.nspname = current_schema()
  AND NOT c.relispartition
ORDER BY c.relname;
`

const pgColumnsSQL = `
SELECT a.attname AS name,
       pg_catalog.format_type(a.atttypid, a.atttypmod) AS type,
       NOT a.attnotnull AS nullable,
       pg_catalog.pg_get_expr(d.adbin, d.adrelid) AS default_val
FROM pg_catalog.pg_attribute a
LEFT JOIN pg_catalog.pg_attrdef d ON (a.attrelid = d.adrelid AND a.attnum = d.adnum)
WHERE a.attrelid = ` + pgTableRef + `
  AND a.attnum > 0
  AND NOT a.attisdropped
ORDER BY a.attnum;
`

const pgPrimaryKeySQL = `
SELECT a.attname
FROM pg_catalog.pg_index i
JOIN LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, n) ON true
JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
WHERE i.indrelid = ` + pgTableRef + `
  AND i.indisprimary
ORDER BY k.n;
`

const pgForeignKeysSQL = `
SELECT
    (
        SELECT json_agg(a.attname ORDER BY k.n)
        FROM unnest(con.conkey) WITH ORDINALITY AS k(attnum, n)
        JOIN pg_catalog.pg_attribute a ON a.attrelid = con.conrelid AND a.attnum = k.attnum
    )::text AS columns,
    fc.relname AS referred_table,
    (
        SELECT json_agg(a.attname ORDER BY k.n)
        FROM unnest(con.confkey) WITH ORDINALITY AS k(attnum, n)
        JOIN pg_catalog.pg_attribute a ON a.attrelid = con.confrelid AND a.attnum = k.attnum
    )::text AS referred_columns
FROM pg_catalog.pg_constraint con
JOIN pg_catalog.pg_class fc ON fc.oid = con.confrelid
WHERE con.contype = 'f'
  AND con.conrelid = ` + pgTableRef + `
ORDER BY con.conname;
`

const pgIndexesSQL = `
SELECT
    ic.relname AS name,
    (
        SELECT json_agg(a.attname ORDER BY k.n)
        FROM unnest(i.indkey) WITH ORDINALITY AS k(attnum, n)
        JOIN pg_catalog.pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
    )::text AS columns,
    i.indisunique AS is_unique
FROM pg_catalog.pg_index i
JOIN pg_catalog.pg_class ic ON ic.oid = i.indexrelid
WHERE i.indrelid = ` + pgTableRef + `
  AND NOT i.indisprimary
ORDER BY ic.relname;
`

// Postgres is the PostgreSQL dialect, backed by a pgx pool.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`) }

// Open builds a pgxpool from dsn and exposes it through database/sql.
// Statements run with QueryExecModeExec, so the extended protocol rejects
// multi-statement input.
func (Postgres) Open(ctx context.Context, dsn string, opts Options) (*sql.DB, func(), error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	poolConfig.MinConns = int32(opts.MinConns)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	if opts.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = opts.HealthCheckPeriod
	}

	if opts.Timezone != "" {
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			escaped := strings.ReplaceAll(opts.Timezone, "'", "''")
			if _, err := conn.Exec(ctx, fmt.Sprintf("SET timezone = '%s'", escaped)); err != nil {
				return fmt.Errorf("failed to SET timezone: %w", err)
			}
			return nil
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	applyPoolOptions(db, Options{MaxConns: opts.MaxConns})
	return db, func() {
		db.Close()
		pool.Close()
	}, nil
}

func (Postgres) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, pgTablesSQL)
	if err != nil {
		return nil, fmt.Errorf("postgres tables: %w", err)
	}
	return scanNames(rows)
}

func (Postgres) Columns(ctx context.Context, q Querier, table string) ([]schema.Column, error) {
	rows, err := q.QueryContext(ctx, pgColumnsSQL, table)
	if err != nil {
		return nil, fmt.Errorf("postgres columns: %w", err)
	}
	defer rows.Close()

	columns := []schema.Column{}
	for rows.Next() {
		var (
			col        schema.Column
			defaultVal sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &col.Nullable, &defaultVal); err != nil {
			return nil, fmt.Errorf("postgres columns scan: %w", err)
		}
		col.Default = nullableString(defaultVal)
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

func (Postgres) PrimaryKey(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, pgPrimaryKeySQL, table)
	if err != nil {
		return nil, fmt.Errorf("postgres primary key: %w", err)
	}
	return scanNames(rows)
}

func (Postgres) ForeignKeys(ctx context.Context, q Querier, table string) ([]schema.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, pgForeignKeysSQL, table)
	if err != nil {
		return nil, fmt.Errorf("postgres foreign keys: %w", err)
	}
	defer rows.Close()

	fks := []schema.ForeignKey{}
	for rows.Next() {
		var (
			fk                  schema.ForeignKey
			columns, refColumns sql.NullString
		)
		if err := rows.Scan(&columns, &fk.RefTable, &refColumns); err != nil {
			return nil, fmt.Errorf("postgres foreign keys scan: %w", err)
		}
		if fk.Columns, err = decodeNameList(columns); err != nil {
			return nil, err
		}
		if fk.RefColumns, err = decodeNameList(refColumns); err != nil {
			return nil, err
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

func (Postgres) Indexes(ctx context.Context, q Querier, table string) ([]schema.Index, error) {
	rows, err := q.QueryContext(ctx, pgIndexesSQL, table)
	if err != nil {
		return nil, fmt.Errorf("postgres indexes: %w", err)
	}
	defer rows.Close()

	indexes := []schema.Index{}
	for rows.Next() {
		var (
			idx     schema.Index
			columns sql.NullString
		)
		if err := rows.Scan(&idx.Name, &columns, &idx.Unique); err != nil {
			return nil, fmt.Errorf("postgres indexes scan: %w", err)
		}
		if idx.Columns, err = decodeNameList(columns); err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}
