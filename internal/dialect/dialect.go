package dialect

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rickchristie/fenrir/internal/schema"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx. Introspection runs
// on whatever the caller already holds so it shares the caller's transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Options is the dialect's own connection pool config type.
type Options struct {
	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	Timezone          string
}

// Dialect hides the catalog queries and connection setup of one backend.
type Dialect interface {
	Name() string

	// Open returns a *sql.DB for dsn and a function that releases every
	// resource Open created. The returned DB is not pinged.
	Open(ctx context.Context, dsn string, opts Options) (*sql.DB, func(), error)

	// Tables returns the user table names of the default schema. The order
	// is whatever the catalog yields (collation-dependent for MySQL, creation
	// order for SQLite); callers needing byte order sort.
	Tables(ctx context.Context, q Querier) ([]string, error)
	Columns(ctx context.Context, q Querier, table string) ([]schema.Column, error)
	PrimaryKey(ctx context.Context, q Querier, table string) ([]string, error)
	ForeignKeys(ctx context.Context, q Querier, table string) ([]schema.ForeignKey, error)
	Indexes(ctx context.Context, q Querier, table string) ([]schema.Index, error)

	QuoteIdent(name string) string
}

var registry = map[string]Dialect{
	"postgres": Postgres{},
	"mysql":    MySQL{},
	"sqlite":   SQLite{},
}

// Lookup returns the dialect registered under name. "postgresql" and
// "sqlite3" are accepted as aliases.
func Lookup(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgresql", "pgx":
		name = "postgres"
	case "sqlite3":
		name = "sqlite"
	}
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown database driver %q (available: %s)", name, strings.Join(Names(), ", "))
	}
	return d, nil
}

// Names returns the registered dialect names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect guesses the dialect name from a DSN. Returns "" when nothing matches.
func Detect(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.HasPrefix(lower, "mysql://"):
		return "mysql"
	case strings.HasPrefix(lower, "sqlite://") || strings.HasPrefix(lower, "file:"):
		return "sqlite"
	case lower == ":memory:":
		return "sqlite"
	case strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") || strings.HasSuffix(lower, ".sqlite3"):
		return "sqlite"
	case strings.Contains(lower, "@tcp("):
		return "mysql"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres"
	}
	return ""
}

// quoteWith wraps name in q, doubling any embedded q.
func quoteWith(name, q string) string {
	return q + strings.ReplaceAll(name, q, q+q) + q
}

// decodeNameList decodes a JSON array of identifiers produced by json_agg.
// NULL decodes to an empty list.
func decodeNameList(raw sql.NullString) ([]string, error) {
	names := []string{}
	if !raw.Valid || raw.String == "" {
		return names, nil
	}
	if err := json.Unmarshal([]byte(raw.String), &names); err != nil {
		return nil, fmt.Errorf("decode name list %q: %w", raw.String, err)
	}
	return names, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// scanNames collects a single-column result set of strings.
func scanNames(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func applyPoolOptions(db *sql.DB, opts Options) {
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	if opts.MinConns > 0 {
		db.SetMaxIdleConns(opts.MinConns)
	}
	if opts.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(opts.MaxConnLifetime)
	}
	if opts.MaxConnIdleTime > 0 {
		db.SetConnMaxIdleTime(opts.MaxConnIdleTime)
	}
}
