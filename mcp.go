package fenrir

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools registers list_tables, describe_schema, query and execute
// as MCP tools on the given MCP server. They mirror the /fenrir/ endpoints.
func RegisterMCPTools(mcpServer *server.MCPServer, f *Fenrir) {
	// ListTables tool
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List every table in the database with its current row count, sorted by name."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(listTablesTool, f.loggedToolHandler("list_tables", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := f.ListTables(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output, "list tables")
	}))

	// DescribeSchema tool
	describeSchemaTool := mcp.NewTool("describe_schema",
		mcp.WithDescription("Describe every table: columns with types, nullability and defaults, primary key, foreign keys and indexes."),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(describeSchemaTool, f.loggedToolHandler("describe_schema", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		output, err := f.DescribeSchema(ctx)
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output, "describe schema")
	}))

	// Query tool
	queryTool := mcp.NewTool("query",
		mcp.WithDescription("Run a read-only SQL statement (SELECT, or WITH ... SELECT). Returns columns and rows as JSON, "+
			"capped at the configured row limit; truncated is true when more rows exist. Changes are always rolled back."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The SELECT statement to run"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	mcpServer.AddTool(queryTool, f.loggedToolHandler("query", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output, err := f.Query(ctx, QueryInput{SQL: strings.TrimSpace(sql)})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output, "query")
	}))

	// Execute tool
	executeTool := mcp.NewTool("execute",
		mcp.WithDescription("Run a single mutating SQL statement (INSERT, UPDATE, DELETE, DDL) and commit it. Returns affected_rows."),
		mcp.WithString("sql",
			mcp.Required(),
			mcp.Description("The statement to run"),
		),
		mcp.WithDestructiveHintAnnotation(true),
	)

	mcpServer.AddTool(executeTool, f.loggedToolHandler("execute", func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sql, err := req.RequireString("sql")
		if err != nil {
			return mcp.NewToolResultError("sql parameter is required"), nil
		}
		output, err := f.Execute(ctx, ExecuteInput{SQL: strings.TrimSpace(sql)})
		if err != nil {
			return toolError(err), nil
		}
		return toolJSON(output, "execute")
	}))
}

// toolError renders err for an agent. Error prompt hints are appended after
// a blank line, below the unmodified backend message.
func toolError(err error) *mcp.CallToolResult {
	msg := err.Error()
	var execErr *ExecutionError
	if errors.As(err, &execErr) && len(execErr.Hints) > 0 {
		msg = execErr.Message + "\n\n" + strings.Join(execErr.Hints, "\n")
	}
	return mcp.NewToolResultError(msg)
}

func toolJSON(v any, what string) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError("failed to marshal " + what + " result"), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// loggedToolHandler wraps a tool handler to log request and response lengths.
func (f *Fenrir) loggedToolHandler(tool string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		reqLen := requestLength(req)
		result, err := handler(ctx, req)
		respLen := resultLength(result)
		f.logger.Info().
			Str("tool", tool).
			Int("request_bytes", reqLen).
			Int("response_bytes", respLen).
			Bool("is_error", result != nil && result.IsError).
			Msg("tool call")
		return result, err
	}
}

// requestLength returns the JSON-encoded byte length of the request arguments.
func requestLength(req mcp.CallToolRequest) int {
	args := req.GetArguments()
	if len(args) == 0 {
		return 0
	}
	b, err := json.Marshal(args)
	if err != nil {
		return 0
	}
	return len(b)
}

// resultLength returns the total byte length of text content in a CallToolResult.
func resultLength(result *mcp.CallToolResult) int {
	if result == nil {
		return 0
	}
	total := 0
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			total += len(tc.Text)
		}
	}
	return total
}
