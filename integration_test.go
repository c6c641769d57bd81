//go:build integration

package fenrir_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rickchristie/fenrir"
	"github.com/rickchristie/govner/pgflock/client"
)

// These tests need a pgflock locker serving PostgreSQL test databases:
//
//	go test -tags integration ./...
const (
	pgflockLockerPort = 9776
	pgflockPassword   = "pgflock"
)

func acquireTestDB(t *testing.T) string {
	t.Helper()
	connStr, err := client.Lock(pgflockLockerPort, t.Name(), pgflockPassword)
	if err != nil {
		t.Fatalf("Failed to acquire test database: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Unlock(pgflockLockerPort, pgflockPassword, connStr)
	})
	return connStr
}

func newPostgresInstance(t *testing.T, config fenrir.Config) *fenrir.Fenrir {
	t.Helper()
	connStr := acquireTestDB(t)
	config.Database.Driver = "postgres"
	ctx := context.Background()
	f, err := fenrir.New(ctx, connStr, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Fenrir: %v", err)
	}
	t.Cleanup(func() { f.Close(ctx) })
	if err := f.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	setupTable(t, f, "CREATE TABLE authors (id serial PRIMARY KEY, name text NOT NULL, born date)")
	setupTable(t, f, `CREATE TABLE books (
		id serial PRIMARY KEY,
		author_id int NOT NULL REFERENCES authors(id),
		title text NOT NULL,
		price numeric(8,2),
		meta jsonb,
		UNIQUE (author_id, title)
	)`)
	setupTable(t, f, "CREATE INDEX books_title_idx ON books (lower(title), author_id)")
	setupTable(t, f, "INSERT INTO authors (name, born) VALUES ('Tolkien', '1892-01-03'), ('Le Guin', '1929-10-21')")
	setupTable(t, f, `INSERT INTO books (author_id, title, price, meta) VALUES
		(1, 'The Hobbit', 9.50, '{"pages": 310}'),
		(2, 'Earthsea', 8.25, NULL)`)
	return f
}

func TestPostgres_QueryTypes(t *testing.T) {
	t.Parallel()
	f := newPostgresInstance(t, defaultConfig())

	out := mustQuery(t, f, "SELECT a.name, a.born, b.price, b.meta FROM authors a JOIN books b ON b.author_id = a.id WHERE a.id = 1")
	row := out.Rows[0]
	if row[0] != "Tolkien" {
		t.Fatalf("name: got %v", row[0])
	}
	if born, ok := row[1].(string); !ok || !strings.HasPrefix(born, "1892-01-03T") {
		t.Fatalf("born: expected RFC3339 string, got %T %v", row[1], row[1])
	}
	if row[2] != "9.50" {
		t.Fatalf("price: expected exact numeric text, got %T %v", row[2], row[2])
	}
	meta, ok := row[3].(map[string]any)
	if !ok || meta["pages"] == nil {
		t.Fatalf("meta: expected decoded object, got %T %v", row[3], row[3])
	}
}

func TestPostgres_DataModifyingCTERejectedByReadOnlyTx(t *testing.T) {
	t.Parallel()
	f := newPostgresInstance(t, defaultConfig())

	_, err := f.Query(context.Background(), fenrir.QueryInput{
		SQL: "WITH ins AS (INSERT INTO authors (name) VALUES ('Sneaky') RETURNING id) SELECT id FROM ins",
	})
	var execErr *fenrir.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %v", err)
	}
	if !strings.Contains(execErr.Message, "read-only transaction") {
		t.Fatalf("expected read-only transaction error, got %q", execErr.Message)
	}

	out := mustQuery(t, f, "SELECT COUNT(*) FROM authors WHERE name = 'Sneaky'")
	if out.Rows[0][0] != int64(0) {
		t.Fatal("expected nothing inserted")
	}
}

func TestPostgres_ExecuteAndListTables(t *testing.T) {
	t.Parallel()
	f := newPostgresInstance(t, defaultConfig())

	res, err := f.Execute(context.Background(), fenrir.ExecuteInput{SQL: "UPDATE books SET price = price * 2"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.AffectedRows != 2 {
		t.Fatalf("expected 2 affected rows, got %d", res.AffectedRows)
	}

	tables, err := f.ListTables(context.Background())
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	if len(tables.Tables) != 2 || tables.Tables[0].Name != "authors" || tables.Tables[1].RowCount != 2 {
		t.Fatalf("unexpected tables %+v", tables.Tables)
	}
}

func TestPostgres_DescribeSchema(t *testing.T) {
	t.Parallel()
	f := newPostgresInstance(t, defaultConfig())

	out, err := f.DescribeSchema(context.Background())
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	books := out.Tables["books"]
	if len(books.Columns) != 5 {
		t.Fatalf("expected 5 columns, got %+v", books.Columns)
	}
	if books.Columns[0].Default == nil || !strings.HasPrefix(*books.Columns[0].Default, "nextval(") {
		t.Fatalf("expected serial default, got %v", books.Columns[0].Default)
	}
	if books.Columns[3].Type != "numeric(8,2)" {
		t.Fatalf("expected numeric(8,2), got %q", books.Columns[3].Type)
	}
	if len(books.PrimaryKey) != 1 || books.PrimaryKey[0] != "id" {
		t.Fatalf("unexpected primary key %v", books.PrimaryKey)
	}
	if len(books.ForeignKeys) != 1 || books.ForeignKeys[0].ReferredTable != "authors" {
		t.Fatalf("unexpected foreign keys %+v", books.ForeignKeys)
	}

	var uniqueFound, exprFound bool
	for _, idx := range books.Indexes {
		if idx.Unique && len(idx.Columns) == 2 {
			uniqueFound = true
		}
		if idx.Name == "books_title_idx" {
			exprFound = true
		}
	}
	if !uniqueFound || !exprFound {
		t.Fatalf("unexpected indexes %+v", books.Indexes)
	}
}

func TestPostgres_StatementTimeout(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Query.TimeoutRules = []fenrir.TimeoutRule{{Pattern: "pg_sleep", TimeoutSeconds: 1}}
	f := newPostgresInstance(t, config)

	_, err := f.Query(context.Background(), fenrir.QueryInput{SQL: "SELECT pg_sleep(5)"})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var execErr *fenrir.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T %v", err, err)
	}
}
