package configure

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rickchristie/fenrir"
)

// Run runs the interactive configuration wizard.
// Reads existing config (if any), prompts for each field,
// writes updated config to the given path as YAML.
func Run(configPath string) error {
	return run(configPath, os.Stdin, os.Stderr)
}

func run(configPath string, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	cfg, isNew := loadExisting(configPath)
	if isNew {
		applyDefaults(cfg)
	}

	p := &prompter{
		scanner: scanner,
		output:  output,
		isNew:   isNew,
	}

	fmt.Fprintf(output, "fenrir configuration wizard\n")
	fmt.Fprintf(output, "Config file: %s\n\n", configPath)

	// Database
	fmt.Fprintf(output, "=== Database ===\n")
	cfg.Database.Driver = p.promptEnum("database.driver", cfg.Database.Driver, drivers)
	cfg.Database.DSN = p.promptStringWithHint("database.dsn", cfg.Database.DSN, "empty = build from connection.* and prompt for credentials")

	// Connection
	fmt.Fprintf(output, "\n=== Connection ===\n")
	cfg.Connection.Host = p.promptString("connection.host", cfg.Connection.Host)
	cfg.Connection.Port = p.promptInt("connection.port", cfg.Connection.Port, "must be > 0", 1)
	cfg.Connection.DBName = p.promptStringWithHint("connection.dbname", cfg.Connection.DBName, "required when database.dsn is empty")
	cfg.Connection.SSLMode = p.promptEnum("connection.sslmode", cfg.Connection.SSLMode, sslModes)

	// Server
	fmt.Fprintf(output, "\n=== Server ===\n")
	cfg.Server.Port = p.promptInt("server.port", cfg.Server.Port, "must be > 0", 1)
	cfg.Server.AppName = p.promptString("server.app_name", cfg.Server.AppName)
	cfg.Server.DocRoot = p.promptStringWithHint("server.doc_root", cfg.Server.DocRoot, "directory searched for FENRIR.md")
	cfg.Server.APIKeyHeader = p.promptStringWithHint("server.api_key_header", cfg.Server.APIKeyHeader, "e.g. X-API-Key, empty = basic auth only")
	cfg.Server.SkipPaths = p.promptList("server.skip_paths", cfg.Server.SkipPaths)
	cfg.Server.MCPEnabled = p.promptBool("server.mcp_enabled", cfg.Server.MCPEnabled)
	cfg.Server.HealthCheckEnabled = p.promptBool("server.health_check_enabled", cfg.Server.HealthCheckEnabled)
	cfg.Server.HealthCheckPath = p.promptStringWithHint("server.health_check_path", cfg.Server.HealthCheckPath, "e.g. /healthz, required when health_check_enabled is true")

	// Auth
	fmt.Fprintf(output, "\n=== Auth ===\n")
	cfg.Auth.EnvVar = p.promptStringWithHint("auth.env_var", cfg.Auth.EnvVar, "environment variable holding the shared secret")
	cfg.Auth.KeyringService = p.promptStringWithHint("auth.keyring_service", cfg.Auth.KeyringService, "empty = use auth.env_var")
	cfg.Auth.KeyringUser = p.promptString("auth.keyring_user", cfg.Auth.KeyringUser)

	// Logging
	fmt.Fprintf(output, "\n=== Logging ===\n")
	cfg.Logging.Level = p.promptEnum("logging.level", cfg.Logging.Level, logLevels)
	cfg.Logging.Format = p.promptEnum("logging.format", cfg.Logging.Format, logFormats)
	cfg.Logging.Output = p.promptStringWithHint("logging.output", cfg.Logging.Output, "stdout, stderr, or file path")

	// Pool
	fmt.Fprintf(output, "\n=== Pool ===\n")
	cfg.Pool.MaxConns = p.promptInt("pool.max_conns", cfg.Pool.MaxConns, "must be > 0", 1)
	cfg.Pool.MinConns = p.promptInt("pool.min_conns", cfg.Pool.MinConns, "must be >= 0", 0)
	cfg.Pool.MaxConnLifetime = p.promptDuration("pool.max_conn_lifetime", cfg.Pool.MaxConnLifetime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.MaxConnIdleTime = p.promptDuration("pool.max_conn_idle_time", cfg.Pool.MaxConnIdleTime, "Go duration: e.g. 1h, 30m, 1h30m")
	cfg.Pool.HealthCheckPeriod = p.promptDuration("pool.health_check_period", cfg.Pool.HealthCheckPeriod, "Go duration: e.g. 1m, 30s, 1m30s")

	// Query
	fmt.Fprintf(output, "\n=== Query ===\n")
	cfg.Query.RowLimit = p.promptInt("query.row_limit", cfg.Query.RowLimit, "rows, must be > 0", 1)
	cfg.Query.MaxSQLLength = p.promptInt("query.max_sql_length", cfg.Query.MaxSQLLength, "bytes, must be > 0", 1)
	cfg.Query.DefaultTimeoutSeconds = p.promptInt("query.default_timeout_seconds", cfg.Query.DefaultTimeoutSeconds, "seconds, 0 = no timeout", 0)

	// General
	fmt.Fprintf(output, "\n=== General ===\n")
	cfg.Timezone = p.promptTimezone(cfg.Timezone)

	// Array fields
	fmt.Fprintf(output, "\n=== Timeout Rules ===\n")
	cfg.Query.TimeoutRules = editList(p, cfg.Query.TimeoutRules, timeoutRuleEditor)

	fmt.Fprintf(output, "\n=== Error Prompts ===\n")
	cfg.ErrorPrompts = editList(p, cfg.ErrorPrompts, errorPromptEditor)

	fmt.Fprintf(output, "\n=== Sanitization Rules ===\n")
	cfg.Sanitization = editList(p, cfg.Sanitization, sanitizationEditor)

	if err := writeConfig(configPath, cfg); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Fprintf(output, "\nConfiguration saved to %s\n", configPath)
	return nil
}

// loadExisting reads configPath. JSON files parse too, YAML being a superset.
func loadExisting(configPath string) (*fenrir.ServerConfig, bool) {
	cfg := &fenrir.ServerConfig{}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, true
	}
	// Ignore unmarshal errors: start with whatever was parseable.
	_ = yaml.Unmarshal(data, cfg)
	return cfg, false
}

// applyDefaults sets sensible default values for a new configuration.
func applyDefaults(cfg *fenrir.ServerConfig) {
	cfg.Database.Driver = "postgres"
	cfg.Connection.Host = "localhost"
	cfg.Connection.Port = 5432
	cfg.Connection.SSLMode = "prefer"
	cfg.Server.Port = 8080
	cfg.Server.AppName = fenrir.DefaultAppName
	cfg.Server.DocRoot = "."
	cfg.Auth.EnvVar = "FENRIR_API_KEY"
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "stderr"
	cfg.Pool.MaxConns = 5
	cfg.Pool.MaxConnLifetime = "1h"
	cfg.Pool.MaxConnIdleTime = "30m"
	cfg.Pool.HealthCheckPeriod = "1m"
	cfg.Query.RowLimit = fenrir.DefaultRowLimit
	cfg.Query.MaxSQLLength = fenrir.DefaultMaxSQLLength
	cfg.Query.DefaultTimeoutSeconds = 30
}

var (
	drivers    = []string{"postgres", "mysql", "sqlite"}
	sslModes   = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"json", "text"}
)

func writeConfig(configPath string, cfg *fenrir.ServerConfig) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold a DSN with credentials.
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", configPath, err)
	}

	return nil
}

// prompter handles reading user input and displaying prompts.
type prompter struct {
	scanner *bufio.Scanner
	output  io.Writer
	isNew   bool
	// eof is set once input is exhausted; re-prompting can no longer help.
	eof bool
}

func (p *prompter) readLine() string {
	if p.scanner.Scan() {
		return strings.TrimSpace(p.scanner.Text())
	}
	p.eof = true
	return ""
}

func (p *prompter) valueLabel() string {
	if p.isNew {
		return "default"
	}
	return "current"
}

// ask prints one field prompt and returns the trimmed reply. shown is the
// current value, already rendered.
func (p *prompter) ask(field, hint, shown string) string {
	if hint != "" {
		field += " [" + hint + "]"
	}
	fmt.Fprintf(p.output, "%s (%s: %s): ", field, p.valueLabel(), shown)
	return p.readLine()
}

// askUntil re-prompts until parse accepts the reply. An empty reply keeps
// current. invalid is a format with one %q verb for the rejected input.
func askUntil[T any](p *prompter, field, hint, shown string, current T, invalid string, parse func(string) (T, bool)) T {
	for {
		input := p.ask(field, hint, shown)
		if input == "" {
			return current
		}
		if v, ok := parse(input); ok {
			return v
		}
		fmt.Fprintf(p.output, "  "+invalid+"\n", input)
	}
}

func (p *prompter) promptString(field string, current string) string {
	return p.promptStringWithHint(field, current, "")
}

func (p *prompter) promptStringWithHint(field string, current string, hint string) string {
	if input := p.ask(field, hint, strconv.Quote(current)); input != "" {
		return input
	}
	return current
}

// promptList reads a comma-separated list. A single "-" clears it.
func (p *prompter) promptList(field string, current []string) []string {
	input := p.ask(field, "comma-separated, - to clear", strconv.Quote(strings.Join(current, ",")))
	switch input {
	case "":
		return current
	case "-":
		return nil
	}
	var items []string
	for _, item := range strings.Split(input, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// promptInt reads an integer >= least. An empty reply keeps current unless
// current is itself below least and input remains.
func (p *prompter) promptInt(field string, current int, hint string, least int) int {
	rule := fmt.Sprintf(">= %d", least)
	if least == 1 {
		rule = "> 0"
	}
	for {
		input := p.ask(field, hint, strconv.Itoa(current))
		if input == "" {
			if current >= least || p.eof {
				return current
			}
			fmt.Fprintf(p.output, "  Value must be %s, try again.\n", rule)
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val < least {
			fmt.Fprintf(p.output, "  Value must be %s, try again.\n", rule)
			continue
		}
		return val
	}
}

func (p *prompter) promptBool(field string, current bool) bool {
	return askUntil(p, field, "", strconv.FormatBool(current), current,
		"Invalid value %q, use true/false/yes/no, try again.",
		func(s string) (bool, bool) {
			switch strings.ToLower(s) {
			case "true", "t", "yes", "y", "1":
				return true, true
			case "false", "f", "no", "n", "0":
				return false, true
			}
			return false, false
		})
}

func (p *prompter) promptDuration(field string, current string, hint string) string {
	return askUntil(p, field, hint, strconv.Quote(current), current,
		"Invalid Go duration %q, try again.",
		func(s string) (string, bool) {
			_, err := time.ParseDuration(s)
			return s, err == nil
		})
}

func (p *prompter) promptTimezone(current string) string {
	return askUntil(p, "timezone", "e.g. UTC, America/New_York, empty = server default", strconv.Quote(current), current,
		"Invalid timezone %q, please enter a valid IANA timezone.",
		func(s string) (string, bool) {
			_, err := time.LoadLocation(s)
			return s, err == nil
		})
}

func (p *prompter) promptEnum(field string, current string, allowed []string) string {
	options := strings.Join(allowed, ", ")
	return askUntil(p, field, "", strconv.Quote(current)+", options: "+options, current,
		"Invalid value %q, must be one of: "+strings.ReplaceAll(options, "%", "%%"),
		func(s string) (string, bool) {
			return s, slices.Contains(allowed, s)
		})
}

// listEditor describes one array field for editList.
type listEditor[T any] struct {
	label   string
	format  func(T) string
	newItem func(p *prompter) T
}

var (
	timeoutRuleEditor = listEditor[fenrir.TimeoutRule]{
		label: "timeout rule",
		format: func(r fenrir.TimeoutRule) string {
			return fmt.Sprintf("pattern=%q timeout_seconds=%d", r.Pattern, r.TimeoutSeconds)
		},
		newItem: func(p *prompter) fenrir.TimeoutRule {
			pattern := p.promptNewRegexField("pattern")
			timeout := p.promptNewPositiveIntField("timeout_seconds")
			return fenrir.TimeoutRule{Pattern: pattern, TimeoutSeconds: timeout}
		},
	}

	errorPromptEditor = listEditor[fenrir.ErrorPromptRule]{
		label: "error prompt",
		format: func(r fenrir.ErrorPromptRule) string {
			return fmt.Sprintf("pattern=%q message=%q", r.Pattern, r.Message)
		},
		newItem: func(p *prompter) fenrir.ErrorPromptRule {
			pattern := p.promptNewRegexField("pattern")
			message := p.promptNewField("message")
			return fenrir.ErrorPromptRule{Pattern: pattern, Message: message}
		},
	}

	sanitizationEditor = listEditor[fenrir.SanitizationRule]{
		label: "sanitization rule",
		format: func(r fenrir.SanitizationRule) string {
			return fmt.Sprintf("pattern=%q replacement=%q description=%q", r.Pattern, r.Replacement, r.Description)
		},
		newItem: func(p *prompter) fenrir.SanitizationRule {
			pattern := p.promptNewRegexField("pattern")
			replacement := p.promptNewField("replacement")
			description := p.promptNewField("description")
			return fenrir.SanitizationRule{Pattern: pattern, Replacement: replacement, Description: description}
		},
	}
)

// editList runs the add/remove/continue loop over items.
func editList[T any](p *prompter, items []T, e listEditor[T]) []T {
	for {
		if len(items) == 0 {
			fmt.Fprintf(p.output, "  (no entries)\n")
		}
		for i, item := range items {
			fmt.Fprintf(p.output, "  [%d] %s\n", i, e.format(item))
		}
		fmt.Fprintf(p.output, "[a]dd, [r]emove, [c]ontinue? ")
		switch strings.ToLower(p.readLine()) {
		case "a":
			items = append(items, e.newItem(p))
		case "r":
			items = removeByIndex(p, e.label, items)
		case "c", "":
			return items
		default:
			fmt.Fprintf(p.output, "  Unknown choice, try again.\n")
		}
	}
}

func (p *prompter) promptNewField(name string) string {
	fmt.Fprintf(p.output, "  %s: ", name)
	return p.readLine()
}

func (p *prompter) promptNewRegexField(name string) string {
	for {
		fmt.Fprintf(p.output, "  %s (regex): ", name)
		input := p.readLine()
		if input == "" {
			return ""
		}
		if _, err := regexp.Compile(input); err != nil {
			fmt.Fprintf(p.output, "  Invalid regex %q: %v, try again.\n", input, err)
			continue
		}
		return input
	}
}

func (p *prompter) promptNewPositiveIntField(name string) int {
	for {
		fmt.Fprintf(p.output, "  %s (must be > 0): ", name)
		input := p.readLine()
		if input == "" {
			if p.eof {
				return 0
			}
			fmt.Fprintf(p.output, "  Value is required and must be > 0, try again.\n")
			continue
		}
		val, err := strconv.Atoi(input)
		if err != nil {
			fmt.Fprintf(p.output, "  Invalid integer %q, try again.\n", input)
			continue
		}
		if val <= 0 {
			fmt.Fprintf(p.output, "  Value must be > 0, try again.\n")
			continue
		}
		return val
	}
}

// removeByIndex removes one element, chosen by the user, from items.
func removeByIndex[T any](p *prompter, label string, items []T) []T {
	if len(items) == 0 {
		fmt.Fprintf(p.output, "  No %s entries to remove.\n", label)
		return items
	}
	fmt.Fprintf(p.output, "  Index to remove: ")
	input := p.readLine()
	idx, err := strconv.Atoi(input)
	if err != nil || idx < 0 || idx >= len(items) {
		fmt.Fprintf(p.output, "  Invalid index.\n")
		return items
	}
	return append(items[:idx], items[idx+1:]...)
}
