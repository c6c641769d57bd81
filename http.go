package fenrir

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rickchristie/fenrir/internal/auth"
	"github.com/rickchristie/fenrir/internal/displaydoc"
)

// DefaultAppName is reported by GET /fenrir/ when neither the display
// document nor HTTPOptions name the application.
const DefaultAppName = "fenrir"

// SecretSource yields the shared secret guarding the HTTP surface. ok is
// false when no secret is configured.
type SecretSource = auth.SecretSource

// DocSource yields the optional display document. ok is false when there is none.
type DocSource interface {
	Load() (doc string, ok bool)
}

// EnvSecret reads the secret from the environment variable name on every
// request. An empty name means FENRIR_API_KEY.
func EnvSecret(name string) SecretSource { return auth.EnvSource{Name: name} }

// StaticSecret is a fixed secret. An empty string means not configured.
func StaticSecret(secret string) SecretSource { return auth.StaticSource(secret) }

// KeyringSecret reads the secret from the OS keyring entry service/user.
func KeyringSecret(service, user string) SecretSource {
	return &auth.KeyringSource{Service: service, User: user}
}

// FileDoc looks for FENRIR.md in root, its parent and its grandparent.
func FileDoc(root string) DocSource { return displaydoc.Loader{Root: root} }

// HTTPOptions configures RegisterHTTPRoutes and SecureHandler.
type HTTPOptions struct {
	// AppName is the fallback for the "app" field when the display document
	// has no heading. Defaults to DefaultAppName.
	AppName string
	Docs    DocSource
	Secret  SecretSource
	// Debug disables every credential check.
	Debug bool
	// APIKeyHeader names an alternate header accepted by SecureHandler.
	APIKeyHeader string
	// SkipPaths are extra path prefixes SecureHandler does not guard.
	SkipPaths []string
	// Logger receives one access log line per request. The zero value
	// disables access logging.
	Logger zerolog.Logger
}

func (o HTTPOptions) gate() *auth.Gate {
	return &auth.Gate{
		Source:    o.Secret,
		Debug:     o.Debug,
		Header:    o.APIKeyHeader,
		SkipPaths: o.SkipPaths,
	}
}

// RegisterHTTPRoutes mounts the /fenrir/ endpoints on mux. Every endpoint
// requires "Authorization: Bearer <secret>" unless opts.Debug is set.
//
//	GET  /fenrir/         app name, display document and table list
//	GET  /fenrir/schema   full schema description
//	POST /fenrir/query    {"sql": "..."} read-only statement
//	POST /fenrir/execute  {"sql": "..."} mutating statement
func RegisterHTTPRoutes(mux *http.ServeMux, f *Fenrir, opts HTTPOptions) {
	h := &httpHandler{f: f, opts: opts}
	gate := opts.gate()
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, accessLog(opts.Logger, gate.RequireBearer(fn)))
	}
	route("GET /fenrir/{$}", h.index)
	route("GET /fenrir/schema", h.schema)
	route("POST /fenrir/query", h.query)
	route("POST /fenrir/execute", h.execute)
}

// SecureHandler guards every path of next except "/", "/fenrir/...",
// "/static/..." and opts.SkipPaths. Callers authenticate with the
// opts.APIKeyHeader header or a basic-auth password equal to the secret;
// any username is accepted. A missing secret yields 503, a wrong or missing
// credential 401 with a basic-auth challenge.
func SecureHandler(next http.Handler, opts HTTPOptions) http.Handler {
	return opts.gate().SecureHandler(next)
}

type httpHandler struct {
	f    *Fenrir
	opts HTTPOptions
}

type errorResponse struct {
	Error string   `json:"error"`
	Hints []string `json:"hints,omitempty"`
}

func (h *httpHandler) index(w http.ResponseWriter, r *http.Request) {
	tables, err := h.f.ListTables(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	appName := h.opts.AppName
	if appName == "" {
		appName = DefaultAppName
	}
	out := IndexOutput{App: appName, Tables: tables.Tables}
	if h.opts.Docs != nil {
		if doc, ok := h.opts.Docs.Load(); ok {
			out.FenrirMD = &doc
			out.App = displaydoc.AppName(doc, appName)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *httpHandler) schema(w http.ResponseWriter, r *http.Request) {
	out, err := h.f.DescribeSchema(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *httpHandler) query(w http.ResponseWriter, r *http.Request) {
	sql, ok := h.readSQL(w, r)
	if !ok {
		return
	}
	out, err := h.f.Query(r.Context(), QueryInput{SQL: sql})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *httpHandler) execute(w http.ResponseWriter, r *http.Request) {
	sql, ok := h.readSQL(w, r)
	if !ok {
		return
	}
	out, err := h.f.Execute(r.Context(), ExecuteInput{SQL: sql})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// readSQL extracts the trimmed "sql" string from a JSON body. A body that is
// not a JSON object, or whose "sql" is absent, empty or not a string, is
// answered with 400.
func (h *httpHandler) readSQL(w http.ResponseWriter, r *http.Request) (string, bool) {
	// JSON escaping can grow a statement up to six-fold.
	limit := int64(h.f.config.Query.MaxSQLLength)*6 + 4096
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: ErrStatementTooLong.Error()})
			return "", false
		}
		writeError(w, ErrInvalidStatement)
		return "", false
	}
	sql, _ := body["sql"].(string)
	sql = strings.TrimSpace(sql)
	if sql == "" {
		writeError(w, ErrInvalidStatement)
		return "", false
	}
	return sql, true
}

// writeError maps an engine error to its HTTP status.
func writeError(w http.ResponseWriter, err error) {
	var (
		execErr *ExecutionError
		connErr *ConnectionError
	)
	switch {
	case IsValidation(err):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &execErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: execErr.Message, Hints: execErr.Hints})
	case errors.As(err, &connErr):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: connErr.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// accessLog tags each request with an X-Request-Id (kept if the client sent
// one) and logs method, path, status and duration.
func accessLog(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}
