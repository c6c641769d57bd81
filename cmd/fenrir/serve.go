package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/rickchristie/fenrir"
)

const defaultConfigPath = ".fenrir/config.yaml"

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server (and the MCP endpoint when enabled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, resolveConfigPath(configPath))
		},
	}
	addConfigFlag(cmd, &configPath)
	return cmd
}

func addConfigFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "config", "c", "", "Path to configuration file (default $FENRIR_CONFIG_PATH or "+defaultConfigPath+")")
}

// resolveConfigPath prefers the flag, then FENRIR_CONFIG_PATH.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("FENRIR_CONFIG_PATH"); p != "" {
		return p
	}
	return defaultConfigPath
}

func runServe(ctx context.Context, configPath string) error {
	// 1. Load ServerConfig
	serverConfig, err := loadServerConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if serverConfig.Server.Port <= 0 {
		panic("fenrir: server.port must be > 0")
	}

	// 2. Setup logger
	logger := setupLogger(serverConfig.Logging)

	// 3. Resolve the DSN
	dsn, err := resolveDSN(serverConfig)
	if err != nil {
		return err
	}

	// 4. Open the database
	f, err := fenrir.New(ctx, dsn, serverConfig.Config, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer f.Close(context.Background())

	logger.Info().Msg("testing database connection")
	if err := f.Ping(ctx); err != nil {
		logger.Error().Err(err).Msg("database connection test failed")
		return fmt.Errorf("database connection test failed: %w", err)
	}
	logger.Info().Str("driver", f.Dialect()).Msg("database connection test successful")

	secret := secretSource(serverConfig.Auth)
	warnAuthConfig(logger, serverConfig, secret)

	// 5. Serve until the context is cancelled
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", serverConfig.Server.Port),
		Handler:           newHandler(f, serverConfig, secret, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()
	logger.Info().
		Int("port", serverConfig.Server.Port).
		Bool("mcp", serverConfig.Server.MCPEnabled).
		Msg("starting fenrir server")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newHandler assembles the full route table and wraps it in the app-wide
// access gate.
func newHandler(f *fenrir.Fenrir, cfg *fenrir.ServerConfig, secret fenrir.SecretSource, logger zerolog.Logger) http.Handler {
	opts := fenrir.HTTPOptions{
		AppName:      cfg.Server.AppName,
		Docs:         fenrir.FileDoc(cfg.Server.DocRoot),
		Secret:       secret,
		Debug:        cfg.Server.Debug,
		APIKeyHeader: cfg.Server.APIKeyHeader,
		SkipPaths:    slices.Clone(cfg.Server.SkipPaths),
		Logger:       logger,
	}

	mux := http.NewServeMux()
	fenrir.RegisterHTTPRoutes(mux, f, opts)

	// Health check endpoint (process liveness only, not DB connectivity)
	if cfg.Server.HealthCheckEnabled {
		if cfg.Server.HealthCheckPath == "" {
			panic("fenrir: health_check_path must be set when health_check_enabled is true")
		}
		mux.HandleFunc(cfg.Server.HealthCheckPath, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})
		opts.SkipPaths = append(opts.SkipPaths, cfg.Server.HealthCheckPath)
	}

	if cfg.Server.MCPEnabled {
		mux.Handle("/mcp", newMCPHandler(f, logger))
	}

	return fenrir.SecureHandler(mux, opts)
}

// newMCPHandler serves the MCP tools over stateless streamable HTTP.
func newMCPHandler(f *fenrir.Fenrir, logger zerolog.Logger) http.Handler {
	hooks := &server.Hooks{}
	hooks.AddAfterInitialize(func(ctx context.Context, id any, req *mcp.InitializeRequest, result *mcp.InitializeResult) {
		logger.Info().
			Str("client_name", req.Params.ClientInfo.Name).
			Str("client_version", req.Params.ClientInfo.Version).
			Msg("AI agent connected (MCP initialize)")
	})

	mcpServer := server.NewMCPServer("fenrir", version,
		server.WithToolCapabilities(true),
		server.WithHooks(hooks),
	)
	fenrir.RegisterMCPTools(mcpServer, f)

	return server.NewStreamableHTTPServer(mcpServer,
		server.WithEndpointPath("/mcp"),
		server.WithStateLess(true),
	)
}

// loadServerConfig reads YAML or JSON (by extension, YAML when there is
// none). FENRIR_* environment variables override keys, with "." replaced
// by "_": FENRIR_QUERY_ROW_LIMIT overrides query.row_limit.
func loadServerConfig(configPath string) (*fenrir.ServerConfig, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	if filepath.Ext(configPath) == "" {
		v.SetConfigType("yaml")
	}
	v.SetEnvPrefix("FENRIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setConfigDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	var config fenrir.ServerConfig
	err := v.Unmarshal(&config, viper.DecoderConfigOption(func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		// ServerConfig embeds Config; its keys live at the top level.
		dc.Squash = true
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// setConfigDefaults registers every key an environment variable may
// override. viper only consults the environment for keys it knows about.
func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("connection.host", "")
	v.SetDefault("connection.port", 0)
	v.SetDefault("connection.dbname", "")
	v.SetDefault("connection.sslmode", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.app_name", fenrir.DefaultAppName)
	v.SetDefault("server.doc_root", ".")
	v.SetDefault("server.api_key_header", "")
	v.SetDefault("server.mcp_enabled", false)
	v.SetDefault("server.health_check_enabled", false)
	v.SetDefault("server.health_check_path", "")
	v.SetDefault("auth.env_var", "FENRIR_API_KEY")
	v.SetDefault("auth.keyring_service", "")
	v.SetDefault("auth.keyring_user", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("pool.max_conns", 5)
	v.SetDefault("pool.min_conns", 0)
	v.SetDefault("query.row_limit", fenrir.DefaultRowLimit)
	v.SetDefault("query.max_sql_length", fenrir.DefaultMaxSQLLength)
	v.SetDefault("query.default_timeout_seconds", 0)
	v.SetDefault("timezone", "")
}

// resolveDSN returns database.dsn (or FENRIR_DATABASE_DSN). Without one, a
// PostgreSQL connection string is built from connection.* and credentials
// prompted on the terminal.
func resolveDSN(cfg *fenrir.ServerConfig) (string, error) {
	if cfg.Database.DSN != "" {
		return cfg.Database.DSN, nil
	}
	switch strings.ToLower(cfg.Database.Driver) {
	case "", "postgres", "postgresql", "pgx":
	default:
		return "", fmt.Errorf("database.dsn is required for driver %q", cfg.Database.Driver)
	}
	if cfg.Connection.DBName == "" {
		return "", errors.New("either database.dsn or connection.dbname must be set")
	}
	cfg.Database.Driver = "postgres"

	username := promptInput("Username: ")
	password := promptPassword("Password: ")
	return buildConnString(cfg.Connection, username, password), nil
}

func buildConnString(conn fenrir.ConnectionConfig, username, password string) string {
	parts := []string{}
	if conn.Host != "" {
		parts = append(parts, fmt.Sprintf("host=%s", conn.Host))
	}
	if conn.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", conn.Port))
	}
	if conn.DBName != "" {
		parts = append(parts, fmt.Sprintf("dbname=%s", conn.DBName))
	}
	if username != "" {
		parts = append(parts, fmt.Sprintf("user=%s", username))
	}
	if password != "" {
		parts = append(parts, fmt.Sprintf("password=%s", quoteConnValue(password)))
	}
	if conn.SSLMode != "" {
		parts = append(parts, fmt.Sprintf("sslmode=%s", conn.SSLMode))
	}
	return strings.Join(parts, " ")
}

// quoteConnValue quotes a keyword/value connection string value when it
// holds spaces, quotes or backslashes.
func quoteConnValue(s string) string {
	if s != "" && !strings.ContainsAny(s, ` '\`) {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// warnAuthConfig logs what unauthenticated-by-configuration requests will see.
func warnAuthConfig(logger zerolog.Logger, cfg *fenrir.ServerConfig, secret fenrir.SecretSource) {
	if cfg.Server.Debug {
		logger.Warn().Msg("debug mode: authentication is disabled")
		return
	}
	if _, ok := secret.Secret(); !ok {
		logger.Warn().
			Str("secret_source", describeSecretSource(cfg.Auth)).
			Msg("no API secret configured: /fenrir/ requests will get 401, other guarded paths (including /mcp) will get 503")
	}
}

// secretSource picks the OS keyring when a service is configured, else the
// environment variable named by auth.env_var.
func secretSource(cfg fenrir.AuthConfig) fenrir.SecretSource {
	if cfg.KeyringService != "" {
		return fenrir.KeyringSecret(cfg.KeyringService, cfg.KeyringUser)
	}
	return fenrir.EnvSecret(cfg.EnvVar)
}

func setupLogger(config fenrir.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	var output io.Writer = os.Stderr
	if config.Output == "stdout" {
		output = os.Stdout
	} else if config.Output != "" && config.Output != "stderr" {
		f, err := os.OpenFile(config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err == nil {
			output = f
		}
	}

	if config.Format == "text" {
		output = zerolog.ConsoleWriter{Out: output}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

func promptInput(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	var input string
	fmt.Scanln(&input)
	return input
}

func promptPassword(prompt string) string {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password input
	if err != nil {
		return ""
	}
	return string(password)
}
