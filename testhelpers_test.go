package fenrir_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rickchristie/fenrir"
	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).Level(zerolog.Disabled)
}

func defaultConfig() fenrir.Config {
	return fenrir.Config{
		Database: fenrir.DatabaseConfig{Driver: "sqlite"},
		Pool:     fenrir.PoolConfig{MaxConns: 5},
		Query: fenrir.QueryConfig{
			DefaultTimeoutSeconds: 30,
		},
	}
}

// newTestInstance opens a fresh SQLite database file in a temp dir.
func newTestInstance(t *testing.T, config fenrir.Config) (*fenrir.Fenrir, string) {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "fenrir.db")
	ctx := context.Background()
	f, err := fenrir.New(ctx, dsn, config, testLogger())
	if err != nil {
		t.Fatalf("Failed to create Fenrir: %v", err)
	}
	t.Cleanup(func() { f.Close(ctx) })
	return f, dsn
}

// newLibraryInstance returns an instance seeded with the authors/books fixture.
func newLibraryInstance(t *testing.T, config fenrir.Config) *fenrir.Fenrir {
	t.Helper()
	f, _ := newTestInstance(t, config)
	setupTable(t, f, `CREATE TABLE authors (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT
	)`)
	setupTable(t, f, `CREATE TABLE books (
		id INTEGER PRIMARY KEY,
		author_id INTEGER NOT NULL REFERENCES authors(id),
		title TEXT NOT NULL,
		price REAL
	)`)
	setupTable(t, f, "CREATE INDEX books_author_idx ON books (author_id)")
	setupTable(t, f, "INSERT INTO authors (id, name, email) VALUES (1, 'Tolkien', 'jrr@example.com'), (2, 'Le Guin', NULL)")
	setupTable(t, f, "INSERT INTO books (author_id, title, price) VALUES (1, 'The Hobbit', 9.5), (1, 'The Silmarillion', 12), (2, 'Earthsea', 8.25)")
	return f
}

func setupTable(t *testing.T, f *fenrir.Fenrir, sql string) {
	t.Helper()
	if _, err := f.Execute(context.Background(), fenrir.ExecuteInput{SQL: sql}); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
}

func mustQuery(t *testing.T, f *fenrir.Fenrir, sql string) *fenrir.QueryOutput {
	t.Helper()
	out, err := f.Query(context.Background(), fenrir.QueryInput{SQL: sql})
	if err != nil {
		t.Fatalf("query %q failed: %v", sql, err)
	}
	return out
}

// expectPanic calls fn and asserts that it panics with a message containing substr.
func expectPanic(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic containing %q, but no panic occurred", substr)
		}
		msg := ""
		switch v := r.(type) {
		case string:
			msg = v
		case error:
			msg = v.Error()
		default:
			t.Fatalf("expected panic string/error containing %q, got %T: %v", substr, r, r)
		}
		if !strings.Contains(msg, substr) {
			t.Fatalf("expected panic containing %q, got %q", substr, msg)
		}
	}()
	fn()
}
