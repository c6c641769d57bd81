package dialect

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rickchristie/fenrir/internal/schema"

	_ "modernc.org/sqlite"
)

// SQLite is the SQLite dialect, backed by the pure-Go modernc driver.
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`) }

func (SQLite) Open(ctx context.Context, dsn string, opts Options) (*sql.DB, func(), error) {
	dsn = normalizeSQLiteDSN(dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlite open: %w", err)
	}
	applyPoolOptions(db, opts)
	// Every connection to :memory: is a separate database.
	if strings.HasPrefix(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	return db, func() { db.Close() }, nil
}

// normalizeSQLiteDSN strips URI prefixes and turns on foreign keys and a
// busy timeout for every pooled connection.
func normalizeSQLiteDSN(dsn string) string {
	if strings.HasPrefix(dsn, "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	} else if strings.HasPrefix(dsn, "file:") {
		dsn = strings.TrimPrefix(dsn, "file:")
	}

	var pragmas []string
	if !strings.Contains(dsn, "foreign_keys") {
		pragmas = append(pragmas, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		pragmas = append(pragmas, "_pragma=busy_timeout(5000)")
	}
	if len(pragmas) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(pragmas, "&")
}

// Tables returns names in catalog (creation) order.
func (SQLite) Tables(ctx context.Context, q Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'")
	if err != nil {
		return nil, fmt.Errorf("sqlite tables: %w", err)
	}
	return scanNames(rows)
}

type sqliteColumn struct {
	column schema.Column
	pk     int
}

func (d SQLite) tableInfo(ctx context.Context, q Querier, table string) ([]sqliteColumn, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlite table_info: %w", err)
	}
	defer rows.Close()

	var columns []sqliteColumn
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("sqlite table_info scan: %w", err)
		}
		columns = append(columns, sqliteColumn{
			column: schema.Column{
				Name:     name,
				Type:     colType,
				Nullable: notNull == 0,
				Default:  nullableString(dfltValue),
			},
			pk: pk,
		})
	}
	return columns, rows.Err()
}

func (d SQLite) Columns(ctx context.Context, q Querier, table string) ([]schema.Column, error) {
	info, err := d.tableInfo(ctx, q, table)
	if err != nil {
		return nil, err
	}
	columns := make([]schema.Column, 0, len(info))
	for _, c := range info {
		columns = append(columns, c.column)
	}
	return columns, nil
}

// PrimaryKey orders key columns by their position in the key, which
// table_info reports as a 1-based pk value.
func (d SQLite) PrimaryKey(ctx context.Context, q Querier, table string) ([]string, error) {
	info, err := d.tableInfo(ctx, q, table)
	if err != nil {
		return nil, err
	}
	maxPos := 0
	for _, c := range info {
		if c.pk > maxPos {
			maxPos = c.pk
		}
	}
	pk := make([]string, maxPos)
	for _, c := range info {
		if c.pk > 0 {
			pk[c.pk-1] = c.column.Name
		}
	}
	return pk, nil
}

func (d SQLite) ForeignKeys(ctx context.Context, q Querier, table string) ([]schema.ForeignKey, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA foreign_key_list(%s)", d.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlite foreign_key_list: %w", err)
	}
	defer rows.Close()

	// A composite key spans several rows sharing one id.
	type fkEntry struct {
		refTable   string
		columns    []string
		refColumns []sql.NullString
	}
	fkMap := make(map[int]*fkEntry)
	var fkOrder []int

	for rows.Next() {
		var (
			id       int
			seq      int
			refTable string
			from     string
			to       sql.NullString
			onUpdate string
			onDelete string
			match    string
		)
		if err := rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, fmt.Errorf("sqlite foreign_key_list scan: %w", err)
		}
		entry, ok := fkMap[id]
		if !ok {
			entry = &fkEntry{refTable: refTable}
			fkMap[id] = entry
			fkOrder = append(fkOrder, id)
		}
		entry.columns = append(entry.columns, from)
		entry.refColumns = append(entry.refColumns, to)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	fks := make([]schema.ForeignKey, 0, len(fkOrder))
	for _, id := range fkOrder {
		entry := fkMap[id]
		refColumns, err := d.resolveRefColumns(ctx, q, entry.refTable, entry.refColumns)
		if err != nil {
			return nil, err
		}
		fks = append(fks, schema.ForeignKey{
			Columns:    entry.columns,
			RefTable:   entry.refTable,
			RefColumns: refColumns,
		})
	}
	return fks, nil
}

// resolveRefColumns fills in the referenced columns of "REFERENCES t"
// clauses that name no column, which SQLite resolves to t's primary key.
func (d SQLite) resolveRefColumns(ctx context.Context, q Querier, refTable string, cols []sql.NullString) ([]string, error) {
	var pk []string
	out := make([]string, len(cols))
	for i, c := range cols {
		if c.Valid {
			out[i] = c.String
			continue
		}
		if pk == nil {
			var err error
			if pk, err = d.PrimaryKey(ctx, q, refTable); err != nil {
				return nil, err
			}
		}
		if i < len(pk) {
			out[i] = pk[i]
		}
	}
	return out, nil
}

// Indexes reports explicitly created indexes. Indexes SQLite creates for
// PRIMARY KEY and UNIQUE constraints are skipped.
func (d SQLite) Indexes(ctx context.Context, q Querier, table string) ([]schema.Index, error) {
	listRows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.QuoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("sqlite index_list: %w", err)
	}
	defer listRows.Close()

	type indexEntry struct {
		name   string
		unique bool
	}
	var entries []indexEntry
	for listRows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := listRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, fmt.Errorf("sqlite index_list scan: %w", err)
		}
		if origin == "pk" || strings.HasPrefix(name, "sqlite_autoindex_") {
			continue
		}
		entries = append(entries, indexEntry{name: name, unique: unique == 1})
	}
	if err := listRows.Err(); err != nil {
		return nil, err
	}
	listRows.Close()

	indexes := make([]schema.Index, 0, len(entries))
	for _, entry := range entries {
		infoRows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", d.QuoteIdent(entry.name)))
		if err != nil {
			return nil, fmt.Errorf("sqlite index_info: %w", err)
		}

		cols := []string{}
		for infoRows.Next() {
			var (
				seqno int
				cid   int
				name  sql.NullString
			)
			if err := infoRows.Scan(&seqno, &cid, &name); err != nil {
				infoRows.Close()
				return nil, fmt.Errorf("sqlite index_info scan: %w", err)
			}
			// Expression index parts have no column name.
			if name.Valid {
				cols = append(cols, name.String)
			}
		}
		infoRows.Close()
		if err := infoRows.Err(); err != nil {
			return nil, err
		}

		indexes = append(indexes, schema.Index{
			Name:    entry.name,
			Columns: cols,
			Unique:  entry.unique,
		})
	}
	return indexes, nil
}
