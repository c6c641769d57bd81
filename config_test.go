package fenrir_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/rickchristie/fenrir"
)

func openRawSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "raw.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_EmptyDSNPanics(t *testing.T) {
	t.Parallel()
	expectPanic(t, "dsn must be non-empty", func() {
		fenrir.New(context.Background(), "", defaultConfig(), testLogger())
	})
}

func TestNew_UndetectableDriverPanics(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Database.Driver = ""
	expectPanic(t, "cannot be detected", func() {
		fenrir.New(context.Background(), "not-a-database", config, testLogger())
	})
}

func TestNew_UnknownDriverPanics(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Database.Driver = "oracle"
	expectPanic(t, "unknown database driver", func() {
		fenrir.New(context.Background(), "app.db", config, testLogger())
	})
}

func TestNew_DetectsDriverFromDSN(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Database.Driver = ""
	ctx := context.Background()
	f, err := fenrir.New(ctx, filepath.Join(t.TempDir(), "detect.sqlite"), config, testLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer f.Close(ctx)
	if f.Dialect() != "sqlite" {
		t.Fatalf("expected sqlite dialect, got %q", f.Dialect())
	}
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *fenrir.Config)
		panic  string
	}{
		{"zero max conns", func(c *fenrir.Config) { c.Pool.MaxConns = 0 }, "pool.max_conns must be > 0"},
		{"negative min conns", func(c *fenrir.Config) { c.Pool.MinConns = -1 }, "pool.min_conns must be >= 0"},
		{"negative row limit", func(c *fenrir.Config) { c.Query.RowLimit = -5 }, "query.row_limit must be > 0"},
		{"negative max sql length", func(c *fenrir.Config) { c.Query.MaxSQLLength = -1 }, "query.max_sql_length must be > 0"},
		{"negative default timeout", func(c *fenrir.Config) { c.Query.DefaultTimeoutSeconds = -1 }, "query.default_timeout_seconds must be >= 0"},
		{"zero rule timeout", func(c *fenrir.Config) {
			c.Query.TimeoutRules = []fenrir.TimeoutRule{{Pattern: "(?i)count", TimeoutSeconds: 0}}
		}, `pattern "(?i)count" has timeout_seconds <= 0`},
		{"invalid timeout regex", func(c *fenrir.Config) {
			c.Query.TimeoutRules = []fenrir.TimeoutRule{{Pattern: "[bad", TimeoutSeconds: 5}}
		}, "[bad"},
		{"invalid sanitization regex", func(c *fenrir.Config) {
			c.Sanitization = []fenrir.SanitizationRule{{Pattern: "(unclosed", Replacement: "x"}}
		}, "(unclosed"},
		{"invalid error prompt regex", func(c *fenrir.Config) {
			c.ErrorPrompts = []fenrir.ErrorPromptRule{{Pattern: "*", Message: "m"}}
		}, "errprompt: invalid regex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			config := defaultConfig()
			tt.mutate(&config)
			db := openRawSQLite(t)
			expectPanic(t, tt.panic, func() {
				fenrir.NewWithDB(db, "sqlite", config, testLogger())
			})
		})
	}
}

func TestNew_InvalidPoolDurationPanics(t *testing.T) {
	t.Parallel()
	config := defaultConfig()
	config.Pool.MaxConnLifetime = "forever"
	expectPanic(t, "invalid pool.max_conn_lifetime", func() {
		fenrir.New(context.Background(), filepath.Join(t.TempDir(), "x.db"), config, testLogger())
	})
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()
	db := openRawSQLite(t)
	f := fenrir.NewWithDB(db, "sqlite3", fenrir.Config{Pool: fenrir.PoolConfig{MaxConns: 1}}, testLogger())
	if f.RowLimit() != fenrir.DefaultRowLimit {
		t.Fatalf("expected default row limit %d, got %d", fenrir.DefaultRowLimit, f.RowLimit())
	}
	if f.Dialect() != "sqlite" {
		t.Fatalf("expected sqlite, got %q", f.Dialect())
	}
}

func TestNewWithDB_NilPanics(t *testing.T) {
	t.Parallel()
	expectPanic(t, "db must be non-nil", func() {
		fenrir.NewWithDB(nil, "sqlite", defaultConfig(), testLogger())
	})
}

func TestNewWithDB_CloseLeavesDBOpen(t *testing.T) {
	t.Parallel()
	db := openRawSQLite(t)
	f := fenrir.NewWithDB(db, "sqlite", defaultConfig(), testLogger())
	f.Close(context.Background())
	if err := db.Ping(); err != nil {
		t.Fatalf("expected caller-owned db to stay open, got %v", err)
	}
}

func TestServerConfig_JSONShape(t *testing.T) {
	t.Parallel()
	raw := `{
		"database": {"driver": "postgres", "dsn": "postgres://localhost/app"},
		"pool": {"max_conns": 7, "max_conn_lifetime": "1h"},
		"query": {"row_limit": 50, "timeout_rules": [{"pattern": "pg_sleep", "timeout_seconds": 2}]},
		"error_prompts": [{"pattern": "syntax", "message": "check syntax"}],
		"sanitization": [{"pattern": "\\d{16}", "replacement": "****", "description": "cards"}],
		"timezone": "UTC",
		"connection": {"host": "db", "port": 5433, "dbname": "app", "sslmode": "disable"},
		"server": {"port": 8080, "app_name": "Library", "skip_paths": ["/health"], "mcp_enabled": true},
		"auth": {"env_var": "LIB_KEY"},
		"logging": {"level": "debug", "format": "text", "output": "stdout"}
	}`
	var sc fenrir.ServerConfig
	if err := json.Unmarshal([]byte(raw), &sc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if sc.Database.Driver != "postgres" || sc.Pool.MaxConns != 7 || sc.Query.RowLimit != 50 {
		t.Fatalf("embedded Config not decoded: %+v", sc.Config)
	}
	if len(sc.Query.TimeoutRules) != 1 || sc.Query.TimeoutRules[0].TimeoutSeconds != 2 {
		t.Fatalf("timeout rules not decoded: %+v", sc.Query.TimeoutRules)
	}
	if sc.Sanitization[0].Description != "cards" || sc.ErrorPrompts[0].Message != "check syntax" {
		t.Fatal("rules not decoded")
	}
	if sc.Connection.Port != 5433 || sc.Server.AppName != "Library" || !sc.Server.MCPEnabled {
		t.Fatalf("server fields not decoded: %+v %+v", sc.Connection, sc.Server)
	}
	if sc.Auth.EnvVar != "LIB_KEY" || sc.Logging.Format != "text" || sc.Timezone != "UTC" {
		t.Fatal("auth/logging/timezone not decoded")
	}
}
