// Package fenrir exposes a relational database to programmatic agents
// through a narrow, authenticated HTTP surface: list tables, describe the
// schema, run read-only queries and run mutating statements.
//
// The core is statement classification plus guarded execution. [Classify]
// looks only at the leading keyword: SELECT, or WITH followed by whitespace,
// is read-only and everything else is mutating. It is deliberately not a
// parser. The second layer is the database itself: [Fenrir.Query] runs inside
// a read-only transaction that is rolled back on every path, so a statement
// that slips past the classifier (for example a data-modifying CTE) still
// cannot persist anything. [Fenrir.Execute] runs in an ordinary transaction
// and commits on success.
//
// PostgreSQL (pgx), MySQL and SQLite backends are supported through
// database/sql.
//
// # Library Usage
//
//	f, err := fenrir.New(ctx, dsn, fenrir.Config{
//		Pool:  fenrir.PoolConfig{MaxConns: 10},
//		Query: fenrir.QueryConfig{RowLimit: 1000},
//	}, logger)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer f.Close(ctx)
//
//	// Use directly
//	out, err := f.Query(ctx, fenrir.QueryInput{SQL: "SELECT name FROM authors"})
//
//	// Or mount the HTTP endpoints
//	mux := http.NewServeMux()
//	fenrir.RegisterHTTPRoutes(mux, f, fenrir.HTTPOptions{
//		Secret: fenrir.EnvSecret("FENRIR_API_KEY"),
//		Docs:   fenrir.FileDoc("."),
//	})
//	http.ListenAndServe(":8080", fenrir.SecureHandler(mux, fenrir.HTTPOptions{
//		Secret:    fenrir.EnvSecret("FENRIR_API_KEY"),
//		SkipPaths: []string{"/health"},
//	}))
//
//	// Or register as MCP tools
//	fenrir.RegisterMCPTools(mcpServer, f)
//
// # Errors
//
// Validation failures ([ErrInvalidStatement], [ErrRejectedStatement],
// [ErrStatementTooLong]) never reach the database and map to 400.
// [*ExecutionError] carries the backend's message verbatim and maps to 422;
// that message may reveal schema detail to the caller. [*ConnectionError]
// maps to 503. Nothing is retried.
package fenrir
