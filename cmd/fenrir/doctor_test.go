package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rickchristie/fenrir"
)

// Tests that need the secret check to pass set a per-test env var, so they
// cannot run in parallel.

func TestDoctorValidConfig(t *testing.T) {
	t.Setenv("FENRIR_DOCTOR_TEST_SECRET", "s3cret")
	cfg := validServerConfig()
	cfg.Auth.EnvVar = "FENRIR_DOCTOR_TEST_SECRET"
	cfg.Server.MCPEnabled = true
	path := writeConfigFile(t, t.TempDir(), cfg)

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if strings.Contains(output, "✗") {
		t.Fatalf("expected all checks to pass, but found failures in output:\n%s", output)
	}
	for _, want := range []string{
		"Config file readable",
		"Config file parses",
		"database.driver is valid (postgres)",
		"connection.dbname is set (testdb)",
		"server.port is > 0 (8080)",
		"All regex patterns compile",
		"API secret configured ($FENRIR_DOCTOR_TEST_SECRET)",
	} {
		if !strings.Contains(output, "✓ "+want) {
			t.Fatalf("expected passing check %q in output:\n%s", want, output)
		}
	}

	for _, want := range []string{
		`curl -H "Authorization: Bearer $FENRIR_DOCTOR_TEST_SECRET" http://localhost:8080/fenrir/`,
		"claude mcp add --transport http fenrir http://localhost:8080/mcp",
		"Copilot CLI",
		"Gemini CLI",
		"OpenCode",
		"Cursor",
		"Windsurf",
		`"fenrir": {`,
		`"serverUrl": "http://localhost:8080/mcp"`,
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestDoctorAPIKeyHeaderInSnippets(t *testing.T) {
	t.Setenv("FENRIR_DOCTOR_TEST_SECRET", "s3cret")
	cfg := validServerConfig()
	cfg.Auth.EnvVar = "FENRIR_DOCTOR_TEST_SECRET"
	cfg.Server.MCPEnabled = true
	cfg.Server.APIKeyHeader = "X-API-Key"
	path := writeConfigFile(t, t.TempDir(), cfg)

	var buf bytes.Buffer
	doctor(&buf, false, path)
	output := buf.String()

	if !strings.Contains(output, `--header "X-API-Key: $FENRIR_DOCTOR_TEST_SECRET"`) {
		t.Fatalf("expected header flag in claude snippet:\n%s", output)
	}
	if !strings.Contains(output, `"X-API-Key": "$FENRIR_DOCTOR_TEST_SECRET"`) {
		t.Fatalf("expected headers in JSON snippets:\n%s", output)
	}
}

func TestDoctorMCPDisabledSkipsAgentSnippets(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Server.Debug = true
	path := writeConfigFile(t, t.TempDir(), cfg)

	var buf bytes.Buffer
	doctor(&buf, false, path)
	output := buf.String()

	if !strings.Contains(output, "✓ API secret not required") {
		t.Fatalf("expected debug mode to skip the secret check:\n%s", output)
	}
	if !strings.Contains(output, "curl http://localhost:8080/fenrir/") {
		t.Fatalf("expected unauthenticated curl in debug mode:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("expected no agent snippets when MCP is disabled:\n%s", output)
	}
}

func TestDoctorMissingSecret(t *testing.T) {
	t.Parallel()
	cfg := validServerConfig()
	cfg.Auth.EnvVar = "FENRIR_DOCTOR_TEST_NEVER_SET"
	path := writeConfigFile(t, t.TempDir(), cfg)

	var buf bytes.Buffer
	doctor(&buf, false, path)
	output := buf.String()

	if !strings.Contains(output, "✗ API secret configured ($FENRIR_DOCTOR_TEST_NEVER_SET)") {
		t.Fatalf("expected failing secret check:\n%s", output)
	}
	if !strings.Contains(output, "Fix the issues above") {
		t.Fatalf("expected fix message:\n%s", output)
	}
}

func TestDoctorMissingConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nonexistent.yaml")

	var buf bytes.Buffer
	if err := doctor(&buf, false, path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := buf.String()

	if !strings.Contains(output, "✗ Config file readable") {
		t.Fatalf("expected failure mark for missing config file:\n%s", output)
	}
	if !strings.Contains(output, "Fix the issues above and run 'fenrir doctor' again.") {
		t.Fatalf("expected fix message in output:\n%s", output)
	}
	if strings.Contains(output, "Agent Connection Snippets") {
		t.Fatalf("should not print agent snippets when config is invalid:\n%s", output)
	}
}

func TestDoctorInvalidConfigFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server: [unclosed\n"), 0644)

	var buf bytes.Buffer
	doctor(&buf, false, path)
	if !strings.Contains(buf.String(), "✗ Config file parses") {
		t.Fatalf("expected parse failure:\n%s", buf.String())
	}
}

func TestDoctorValidationFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(cfg *fenrir.ServerConfig)
		want   string
	}{
		{
			name:   "unknown driver",
			mutate: func(cfg *fenrir.ServerConfig) { cfg.Database.Driver = "oracle" },
			want:   `✗ database.driver is valid: unknown database driver "oracle"`,
		},
		{
			name: "undetectable driver",
			mutate: func(cfg *fenrir.ServerConfig) {
				cfg.Database.Driver = ""
				cfg.Database.DSN = "somewhere"
			},
			want: "✗ database.driver is valid: cannot detect it from database.dsn",
		},
		{
			name:   "no dsn or dbname",
			mutate: func(cfg *fenrir.ServerConfig) { cfg.Connection.DBName = "" },
			want:   "✗ database.dsn or connection.dbname is set",
		},
		{
			name:   "health check path",
			mutate: func(cfg *fenrir.ServerConfig) { cfg.Server.HealthCheckEnabled = true },
			want:   "✗ health_check_path is set",
		},
		{
			name:   "pool duration",
			mutate: func(cfg *fenrir.ServerConfig) { cfg.Pool.MaxConnLifetime = "forever" },
			want:   "✗ pool.max_conn_lifetime is a Go duration",
		},
		{
			name: "error prompt regex",
			mutate: func(cfg *fenrir.ServerConfig) {
				cfg.ErrorPrompts = []fenrir.ErrorPromptRule{{Pattern: "[invalid", Message: "x"}}
			},
			want: "✗ error_prompts[0] regex compiles",
		},
		{
			name: "sanitization regex",
			mutate: func(cfg *fenrir.ServerConfig) {
				cfg.Sanitization = []fenrir.SanitizationRule{{Pattern: "(unclosed", Replacement: "x"}}
			},
			want: "✗ sanitization[0] regex compiles",
		},
		{
			name: "timeout rule",
			mutate: func(cfg *fenrir.ServerConfig) {
				cfg.Query.TimeoutRules = []fenrir.TimeoutRule{{Pattern: "pg_sleep", TimeoutSeconds: 0}}
			},
			want: "✗ query.timeout_rules[0].timeout_seconds is > 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validServerConfig()
			cfg.Server.Debug = true
			tt.mutate(&cfg)
			path := writeConfigFile(t, t.TempDir(), cfg)

			var buf bytes.Buffer
			doctor(&buf, false, path)
			output := buf.String()
			if !strings.Contains(output, tt.want) {
				t.Fatalf("expected %q in output:\n%s", tt.want, output)
			}
			if !strings.Contains(output, "Fix the issues above") {
				t.Fatalf("expected fix message:\n%s", output)
			}
		})
	}
}

func TestPrintCheckColor(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	printCheck(&buf, true, true, "passed")
	printCheck(&buf, true, false, "failed")
	output := buf.String()

	if !strings.Contains(output, "\033[32m✓\033[0m passed") {
		t.Fatalf("expected green check mark, got %q", output)
	}
	if !strings.Contains(output, "\033[31m✗\033[0m failed") {
		t.Fatalf("expected red cross mark, got %q", output)
	}
}
