package fenrir

// DefaultRowLimit is the row cap applied to Query when Config.Query.RowLimit is zero.
const DefaultRowLimit = 1000

// DefaultMaxSQLLength is applied when Config.Query.MaxSQLLength is zero.
const DefaultMaxSQLLength = 100000

// Config is the base configuration used by library mode via New().
type Config struct {
	Database     DatabaseConfig     `json:"database" yaml:"database"`
	Pool         PoolConfig         `json:"pool" yaml:"pool"`
	Query        QueryConfig        `json:"query" yaml:"query"`
	ErrorPrompts []ErrorPromptRule  `json:"error_prompts" yaml:"error_prompts"`
	Sanitization []SanitizationRule `json:"sanitization" yaml:"sanitization"`
	Timezone     string             `json:"timezone" yaml:"timezone"`
}

// ServerConfig embeds Config and adds server-only fields for CLI mode.
type ServerConfig struct {
	Config     `yaml:",inline"`
	Connection ConnectionConfig `json:"connection" yaml:"connection"`
	Server     ServerSettings   `json:"server" yaml:"server"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// DatabaseConfig selects the backend. Driver is one of "postgres", "mysql"
// or "sqlite"; when empty it is detected from the DSN.
type DatabaseConfig struct {
	Driver string `json:"driver" yaml:"driver"`
	// DSN is only read by the CLI. Library callers pass the DSN to New.
	DSN string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
}

// ConnectionConfig holds PostgreSQL connection parameters used by CLI mode
// when no DSN is configured. Credentials are prompted for.
type ConnectionConfig struct {
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	DBName  string `json:"dbname" yaml:"dbname"`
	SSLMode string `json:"sslmode" yaml:"sslmode"`
}

// PoolConfig holds connection pool settings. Durations use time.ParseDuration syntax.
type PoolConfig struct {
	MaxConns          int    `json:"max_conns" yaml:"max_conns"`
	MinConns          int    `json:"min_conns" yaml:"min_conns"`
	MaxConnLifetime   string `json:"max_conn_lifetime" yaml:"max_conn_lifetime"`
	MaxConnIdleTime   string `json:"max_conn_idle_time" yaml:"max_conn_idle_time"`
	HealthCheckPeriod string `json:"health_check_period" yaml:"health_check_period"`
}

// ServerSettings holds HTTP server settings for CLI mode.
type ServerSettings struct {
	Port               int      `json:"port" yaml:"port"`
	Debug              bool     `json:"debug" yaml:"debug"`
	AppName            string   `json:"app_name" yaml:"app_name"`
	DocRoot            string   `json:"doc_root" yaml:"doc_root"`
	APIKeyHeader       string   `json:"api_key_header" yaml:"api_key_header"`
	SkipPaths          []string `json:"skip_paths" yaml:"skip_paths"`
	MCPEnabled         bool     `json:"mcp_enabled" yaml:"mcp_enabled"`
	HealthCheckEnabled bool     `json:"health_check_enabled" yaml:"health_check_enabled"`
	HealthCheckPath    string   `json:"health_check_path" yaml:"health_check_path"`
}

// AuthConfig selects where the shared secret comes from. When
// KeyringService is set the OS keyring is used, otherwise the environment
// variable EnvVar (default FENRIR_API_KEY).
type AuthConfig struct {
	EnvVar         string `json:"env_var" yaml:"env_var"`
	KeyringService string `json:"keyring_service" yaml:"keyring_service"`
	KeyringUser    string `json:"keyring_user" yaml:"keyring_user"`
}

// LoggingConfig holds logging settings for CLI mode.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
	Output string `json:"output" yaml:"output"` // stderr, stdout, or file path
}

// QueryConfig holds statement execution settings.
type QueryConfig struct {
	// RowLimit caps the rows returned by Query. Zero means DefaultRowLimit.
	RowLimit int `json:"row_limit" yaml:"row_limit"`
	// MaxSQLLength rejects longer statements before they reach the database.
	MaxSQLLength int `json:"max_sql_length" yaml:"max_sql_length"`
	// DefaultTimeoutSeconds bounds each statement. Zero leaves timeouts to
	// the driver and server.
	DefaultTimeoutSeconds int           `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	TimeoutRules          []TimeoutRule `json:"timeout_rules" yaml:"timeout_rules"`
}

// TimeoutRule maps a SQL pattern to a specific timeout duration.
type TimeoutRule struct {
	Pattern        string `json:"pattern" yaml:"pattern"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// ErrorPromptRule maps an error message pattern to a guidance message.
type ErrorPromptRule struct {
	Pattern string `json:"pattern" yaml:"pattern"`
	Message string `json:"message" yaml:"message"`
}

// SanitizationRule defines a regex-based masking rule for string cells.
type SanitizationRule struct {
	Pattern     string `json:"pattern" yaml:"pattern"`
	Replacement string `json:"replacement" yaml:"replacement"`
	Description string `json:"description" yaml:"description"`
}
