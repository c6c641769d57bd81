package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickchristie/fenrir"
	"github.com/rickchristie/fenrir/internal/dialect"
)

func newDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate the configuration and print agent connection snippets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return doctor(os.Stderr, isTTY(os.Stderr.Fd()), resolveConfigPath(configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func doctor(w io.Writer, useColor bool, configPath string) error {
	printBanner(w, useColor)
	fmt.Fprintf(w, "fenrir %s\n\n", version)

	config, ok := doctorValidateConfig(w, useColor, configPath)
	if !ok {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Fix the issues above and run 'fenrir doctor' again.")
		return nil
	}

	fmt.Fprintln(w)
	printAgentSnippets(w, useColor, config)
	return nil
}

// doctorValidateConfig loads and validates the config file, printing check results.
// Returns the parsed config and true if all checks passed.
func doctorValidateConfig(w io.Writer, useColor bool, configPath string) (*fenrir.ServerConfig, bool) {
	allPassed := true
	check := func(pass bool, msg string) {
		printCheck(w, useColor, pass, msg)
		if !pass {
			allPassed = false
		}
	}

	if _, err := os.Stat(configPath); err != nil {
		check(false, fmt.Sprintf("Config file readable (%s)", configPath))
		return nil, false
	}
	check(true, fmt.Sprintf("Config file readable (%s)", configPath))

	config, err := loadServerConfig(configPath)
	if err != nil {
		check(false, fmt.Sprintf("Config file parses: %v", err))
		return nil, false
	}
	check(true, "Config file parses")

	// Driver, explicit or detected from the DSN
	driver := config.Database.Driver
	if driver == "" {
		driver = dialect.Detect(config.Database.DSN)
	}
	if driver == "" && config.Database.DSN == "" {
		driver = "postgres"
	}
	if _, err := dialect.Lookup(driver); err != nil {
		if driver == "" {
			err = errors.New("cannot detect it from database.dsn")
		}
		check(false, fmt.Sprintf("database.driver is valid: %v", err))
	} else {
		check(true, fmt.Sprintf("database.driver is valid (%s)", driver))
	}

	switch {
	case config.Database.DSN != "":
		check(true, "database.dsn is set")
	case os.Getenv("FENRIR_DATABASE_DSN") != "":
		check(true, "FENRIR_DATABASE_DSN is set")
	case config.Connection.DBName != "":
		check(true, fmt.Sprintf("connection.dbname is set (%s)", config.Connection.DBName))
	default:
		check(false, "database.dsn or connection.dbname is set")
	}

	if config.Server.Port <= 0 {
		check(false, "server.port is > 0")
	} else {
		check(true, fmt.Sprintf("server.port is > 0 (%d)", config.Server.Port))
	}

	if config.Server.HealthCheckEnabled {
		if config.Server.HealthCheckPath == "" {
			check(false, "health_check_path is set (required when health_check_enabled)")
		} else {
			check(true, fmt.Sprintf("health_check_path is set (%s)", config.Server.HealthCheckPath))
		}
	}

	if config.Pool.MaxConns <= 0 {
		check(false, "pool.max_conns is > 0")
	}
	for name, value := range map[string]string{
		"max_conn_lifetime":   config.Pool.MaxConnLifetime,
		"max_conn_idle_time":  config.Pool.MaxConnIdleTime,
		"health_check_period": config.Pool.HealthCheckPeriod,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			check(false, fmt.Sprintf("pool.%s is a Go duration: %v", name, err))
		}
	}

	regexOK := true
	checkRegex := func(field string, i int, pattern string) {
		if _, err := regexp.Compile(pattern); err != nil {
			check(false, fmt.Sprintf("%s[%d] regex compiles: %v", field, i, err))
			regexOK = false
		}
	}
	for i, rule := range config.ErrorPrompts {
		checkRegex("error_prompts", i, rule.Pattern)
	}
	for i, rule := range config.Sanitization {
		checkRegex("sanitization", i, rule.Pattern)
	}
	for i, rule := range config.Query.TimeoutRules {
		checkRegex("query.timeout_rules", i, rule.Pattern)
		if rule.TimeoutSeconds <= 0 {
			check(false, fmt.Sprintf("query.timeout_rules[%d].timeout_seconds is > 0", i))
		}
	}
	if regexOK {
		check(true, "All regex patterns compile")
	}

	switch {
	case config.Server.Debug:
		check(true, "API secret not required (server.debug is on, authentication disabled)")
	default:
		if _, ok := secretSource(config.Auth).Secret(); ok {
			check(true, fmt.Sprintf("API secret configured (%s)", describeSecretSource(config.Auth)))
		} else {
			check(false, fmt.Sprintf("API secret configured (%s)", describeSecretSource(config.Auth)))
		}
	}

	return config, allPassed
}

func describeSecretSource(cfg fenrir.AuthConfig) string {
	if cfg.KeyringService != "" {
		return fmt.Sprintf("keyring %s/%s", cfg.KeyringService, cfg.KeyringUser)
	}
	name := cfg.EnvVar
	if name == "" {
		name = "FENRIR_API_KEY"
	}
	return "$" + name
}

// printCheck prints a colored ✓ or ✗ check line.
func printCheck(w io.Writer, useColor bool, pass bool, msg string) {
	mark, color := "✓", "\033[32m"
	if !pass {
		mark, color = "✗", "\033[31m"
	}
	if useColor {
		fmt.Fprintf(w, "  %s%s\033[0m %s\n", color, mark, msg)
	} else {
		fmt.Fprintf(w, "  %s %s\n", mark, msg)
	}
}

// agentSnippet is one MCP client's config file layout.
type agentSnippet struct {
	title   string
	rootKey string
	entry   func(url string, headers map[string]string) map[string]any
}

var agentSnippets = []agentSnippet{
	{"Copilot CLI (~/.copilot/mcp-config.json)", "mcpServers", func(url string, h map[string]string) map[string]any {
		return withHeaders(map[string]any{"type": "http", "url": url}, h)
	}},
	{"Gemini CLI (~/.gemini/settings.json)", "mcpServers", func(url string, h map[string]string) map[string]any {
		return withHeaders(map[string]any{"httpUrl": url}, h)
	}},
	{"OpenCode (opencode.json)", "mcp", func(url string, h map[string]string) map[string]any {
		return withHeaders(map[string]any{"type": "remote", "url": url}, h)
	}},
	{"Cursor (.cursor/mcp.json)", "mcpServers", func(url string, h map[string]string) map[string]any {
		return withHeaders(map[string]any{"url": url}, h)
	}},
	{"Windsurf (~/.codeium/windsurf/mcp_config.json)", "mcpServers", func(url string, h map[string]string) map[string]any {
		return withHeaders(map[string]any{"serverUrl": url}, h)
	}},
}

func withHeaders(entry map[string]any, headers map[string]string) map[string]any {
	if len(headers) > 0 {
		entry["headers"] = headers
	}
	return entry
}

// printAgentSnippets prints how to reach the HTTP API and, when enabled, MCP
// client config snippets for various AI agents.
func printAgentSnippets(w io.Writer, useColor bool, config *fenrir.ServerConfig) {
	base := fmt.Sprintf("http://localhost:%d", config.Server.Port)
	secretRef := describeSecretSource(config.Auth)
	if config.Auth.KeyringService != "" {
		secretRef = "<secret>"
	}

	heading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "\033[1;36m%s\033[0m\n", title)
		} else {
			fmt.Fprintln(w, title)
		}
	}
	subheading := func(title string) {
		if useColor {
			fmt.Fprintf(w, "  \033[1m%s\033[0m\n", title)
		} else {
			fmt.Fprintf(w, "  %s\n", title)
		}
	}

	heading("HTTP API")
	fmt.Fprintln(w)
	auth := fmt.Sprintf(` -H "Authorization: Bearer %s"`, secretRef)
	if config.Server.Debug {
		auth = ""
	}
	fmt.Fprintf(w, "    curl%s %s/fenrir/\n", auth, base)
	fmt.Fprintf(w, "    curl%s -d '{\"sql\":\"SELECT 1\"}' %s/fenrir/query\n\n", auth, base)

	if !config.Server.MCPEnabled {
		fmt.Fprintln(w, "  MCP is disabled; set server.mcp_enabled to print agent snippets.")
		return
	}

	url := base + "/mcp"
	headers := map[string]string{}
	if !config.Server.Debug && config.Server.APIKeyHeader != "" {
		headers[config.Server.APIKeyHeader] = secretRef
	}

	heading("Agent Connection Snippets")
	fmt.Fprintln(w)
	if !config.Server.Debug && config.Server.APIKeyHeader == "" {
		fmt.Fprintln(w, "  /mcp requires basic auth or server.api_key_header; set the header to embed it below.")
		fmt.Fprintln(w)
	}

	subheading("Claude Code")
	fmt.Fprintf(w, "  Run this command to add the server:\n\n")
	cmd := "claude mcp add --transport http fenrir " + url
	for name, value := range headers {
		cmd += fmt.Sprintf(" --header %q", name+": "+value)
	}
	fmt.Fprintf(w, "    %s\n\n", cmd)

	for _, s := range agentSnippets {
		subheading(s.title)
		snippet := map[string]any{
			s.rootKey: map[string]any{"fenrir": s.entry(url, headers)},
		}
		var buf strings.Builder
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("  ", "  ")
		enc.Encode(snippet)
		fmt.Fprintf(w, "  %s\n\n", strings.TrimSpace(buf.String()))
	}
}
