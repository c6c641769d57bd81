package fenrir

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/rickchristie/fenrir/internal/dialect"
	"github.com/rickchristie/fenrir/internal/errprompt"
	"github.com/rickchristie/fenrir/internal/sanitize"
	"github.com/rickchristie/fenrir/internal/timeout"
)

// Fenrir is the core engine behind the HTTP and MCP surfaces: schema
// introspection plus guarded statement execution.
// All exported methods are safe for concurrent use from multiple goroutines.
type Fenrir struct {
	config     Config
	db         *sql.DB
	closeDB    func()
	dialect    dialect.Dialect
	semaphore  chan struct{}
	sanitizer  *sanitize.Sanitizer
	errPrompts *errprompt.Matcher
	timeoutMgr *timeout.Manager
	logger     zerolog.Logger
}

// New creates a new Fenrir instance connected to dsn. The backend is
// Config.Database.Driver, or detected from dsn when that is empty.
// Panics on invalid config. Returns error only for runtime failures (e.g., pool creation).
func New(ctx context.Context, dsn string, config Config, logger zerolog.Logger) (*Fenrir, error) {
	if dsn == "" {
		panic("fenrir: dsn must be non-empty")
	}
	d := resolveDialect(config.Database.Driver, dsn)
	config = validateConfig(config)

	opts := dialect.Options{
		MaxConns:          config.Pool.MaxConns,
		MinConns:          config.Pool.MinConns,
		MaxConnLifetime:   parsePoolDuration("max_conn_lifetime", config.Pool.MaxConnLifetime),
		MaxConnIdleTime:   parsePoolDuration("max_conn_idle_time", config.Pool.MaxConnIdleTime),
		HealthCheckPeriod: parsePoolDuration("health_check_period", config.Pool.HealthCheckPeriod),
		Timezone:          config.Timezone,
	}

	db, closeDB, err := d.Open(ctx, dsn, opts)
	if err != nil {
		return nil, err
	}

	f := newFenrir(db, d, config, logger)
	f.closeDB = closeDB
	return f, nil
}

// NewWithDB creates a Fenrir on top of a *sql.DB the caller already owns.
// driver names the backend ("postgres", "mysql", "sqlite"). Close does not
// close db. Pool settings in config other than MaxConns are ignored.
// Panics on invalid config.
func NewWithDB(db *sql.DB, driver string, config Config, logger zerolog.Logger) *Fenrir {
	if db == nil {
		panic("fenrir: db must be non-nil")
	}
	d, err := dialect.Lookup(driver)
	if err != nil {
		panic(fmt.Sprintf("fenrir: %v", err))
	}
	return newFenrir(db, d, validateConfig(config), logger)
}

func newFenrir(db *sql.DB, d dialect.Dialect, config Config, logger zerolog.Logger) *Fenrir {
	san, err := sanitize.NewSanitizer(mapSanitizationRules(config.Sanitization))
	if err != nil {
		panic(fmt.Sprintf("fenrir: %v", err))
	}
	matcher, err := errprompt.NewMatcher(mapErrorPromptRules(config.ErrorPrompts))
	if err != nil {
		panic(fmt.Sprintf("fenrir: %v", err))
	}
	timeoutRules := make([]timeout.Rule, len(config.Query.TimeoutRules))
	for i, r := range config.Query.TimeoutRules {
		timeoutRules[i] = timeout.Rule{
			Pattern: r.Pattern,
			Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
		}
	}
	tmgr, err := timeout.NewManager(timeout.Config{
		DefaultTimeout: time.Duration(config.Query.DefaultTimeoutSeconds) * time.Second,
		Rules:          timeoutRules,
	})
	if err != nil {
		panic(fmt.Sprintf("fenrir: %v", err))
	}

	return &Fenrir{
		config:     config,
		db:         db,
		dialect:    d,
		semaphore:  make(chan struct{}, config.Pool.MaxConns),
		sanitizer:  san,
		errPrompts: matcher,
		timeoutMgr: tmgr,
		logger:     logger.With().Str("dialect", d.Name()).Logger(),
	}
}

// resolveDialect panics when no backend can be determined: the driver is
// part of the configuration.
func resolveDialect(driver, dsn string) dialect.Dialect {
	if driver == "" {
		driver = dialect.Detect(dsn)
		if driver == "" {
			panic("fenrir: database.driver is not set and cannot be detected from the dsn")
		}
	}
	d, err := dialect.Lookup(driver)
	if err != nil {
		panic(fmt.Sprintf("fenrir: %v", err))
	}
	return d
}

// validateConfig panics on invalid values and returns config with defaults
// applied for zero values.
func validateConfig(config Config) Config {
	if config.Pool.MaxConns <= 0 {
		panic("fenrir: pool.max_conns must be > 0")
	}
	if config.Pool.MinConns < 0 {
		panic("fenrir: pool.min_conns must be >= 0")
	}
	if config.Query.RowLimit == 0 {
		config.Query.RowLimit = DefaultRowLimit
	}
	if config.Query.RowLimit < 0 {
		panic("fenrir: query.row_limit must be > 0")
	}
	if config.Query.MaxSQLLength == 0 {
		config.Query.MaxSQLLength = DefaultMaxSQLLength
	}
	if config.Query.MaxSQLLength < 0 {
		panic("fenrir: query.max_sql_length must be > 0")
	}
	if config.Query.DefaultTimeoutSeconds < 0 {
		panic("fenrir: query.default_timeout_seconds must be >= 0")
	}
	for _, rule := range config.Query.TimeoutRules {
		if rule.TimeoutSeconds <= 0 {
			panic(fmt.Sprintf("fenrir: timeout_rule with pattern %q has timeout_seconds <= 0", rule.Pattern))
		}
	}
	return config
}

func parsePoolDuration(name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("fenrir: invalid pool.%s %q: %v", name, value, err))
	}
	return d
}

// Close releases the database pool opened by New. It is a no-op for
// instances created with NewWithDB. Accepts context for API
// forward-compatibility; neither database/sql nor pgxpool close with one.
func (f *Fenrir) Close(ctx context.Context) {
	if f.closeDB != nil {
		f.closeDB()
	}
}

// Ping verifies a connection to the database can be established.
func (f *Fenrir) Ping(ctx context.Context) error {
	if err := f.db.PingContext(ctx); err != nil {
		return &ConnectionError{Err: err}
	}
	return nil
}

// Dialect returns the backend name: "postgres", "mysql" or "sqlite".
func (f *Fenrir) Dialect() string {
	return f.dialect.Name()
}

// RowLimit returns the effective row cap of Query.
func (f *Fenrir) RowLimit() int {
	return f.config.Query.RowLimit
}

// acquireSlot blocks until a connection slot is free. The slot count equals
// pool.max_conns, so callers queue here rather than inside the pool.
func (f *Fenrir) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case f.semaphore <- struct{}{}:
		return func() { <-f.semaphore }, nil
	case <-ctx.Done():
		return nil, &ConnectionError{Err: fmt.Errorf("all %d connection slots are in use, context cancelled while waiting: %w", cap(f.semaphore), ctx.Err())}
	}
}

// beginReadOnly starts a read-only transaction on conn. Backends that refuse
// read-only mode get a plain transaction; the caller's unconditional
// rollback still discards any writes.
func (f *Fenrir) beginReadOnly(ctx context.Context, conn *sql.Conn) (*sql.Tx, error) {
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err == nil {
		return tx, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Debug().Err(err).Msg("read-only transaction refused, falling back to plain transaction")
	return conn.BeginTx(ctx, nil)
}

// withReadTx runs fn inside a read-only transaction on a dedicated
// connection. The transaction is always rolled back.
func (f *Fenrir) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	release, err := f.acquireSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	conn, err := f.db.Conn(ctx)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer conn.Close()

	tx, err := f.beginReadOnly(ctx, conn)
	if err != nil {
		return &ConnectionError{Err: err}
	}
	defer tx.Rollback()

	return fn(tx)
}

// executionError wraps a backend failure, keeping its message verbatim and
// attaching any matching error prompt hints.
func (f *Fenrir) executionError(err error) *ExecutionError {
	msg := err.Error()
	return &ExecutionError{
		Message: msg,
		Hints:   f.errPrompts.Hints(msg),
		Err:     err,
	}
}

// handleError logs a failed operation and returns err unchanged.
func (f *Fenrir) handleError(op, sql string, start time.Time, err error) error {
	logEvent := f.logger.Error()
	if IsValidation(err) {
		logEvent = f.logger.Warn()
	}
	logEvent = logEvent.Err(err).
		Str("op", op).
		Dur("duration", time.Since(start))
	if sql != "" {
		logEvent = logEvent.Str("sql", truncateForLog(sql, 200))
	}
	var execErr *ExecutionError
	if errors.As(err, &execErr) && len(execErr.Hints) > 0 {
		logEvent = logEvent.Strs("error_prompts", f.errPrompts.MatchedPatterns(execErr.Message))
	}
	logEvent.Msg(op + " failed")
	return err
}

// checkStatement validates sql and returns its classification.
func (f *Fenrir) checkStatement(sql string) (Classification, error) {
	class, err := Classify(sql)
	if err != nil {
		return class, err
	}
	if len(sql) > f.config.Query.MaxSQLLength {
		return class, fmt.Errorf("%w: %d bytes exceeds maximum of %d bytes", ErrStatementTooLong, len(sql), f.config.Query.MaxSQLLength)
	}
	return class, nil
}

// mapSanitizationRules converts fenrir SanitizationRules to internal sanitize.Rules.
func mapSanitizationRules(rules []SanitizationRule) []sanitize.Rule {
	result := make([]sanitize.Rule, len(rules))
	for i, r := range rules {
		result[i] = sanitize.Rule{
			Pattern:     r.Pattern,
			Replacement: r.Replacement,
		}
	}
	return result
}

// mapErrorPromptRules converts fenrir ErrorPromptRules to internal errprompt.Rules.
func mapErrorPromptRules(rules []ErrorPromptRule) []errprompt.Rule {
	result := make([]errprompt.Rule, len(rules))
	for i, r := range rules {
		result[i] = errprompt.Rule{
			Pattern: r.Pattern,
			Message: r.Message,
		}
	}
	return result
}

// truncateForLog truncates a string for log output to avoid oversized log entries.
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	truncateAt := maxLen
	for truncateAt > 0 && !utf8.RuneStart(s[truncateAt]) {
		truncateAt--
	}
	return s[:truncateAt] + "...[truncated]"
}
