package fenrir

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Query runs a read-only statement and returns at most RowLimit rows.
//
// The statement must classify as ReadOnly, else ErrRejectedStatement. It runs
// inside a read-only transaction (or a plain one when the backend refuses
// read-only mode) on a dedicated connection, and that transaction is rolled
// back on every path, success included. It is never committed.
//
// Database failures are returned as *ExecutionError with the backend message
// verbatim; failure to obtain a connection is a *ConnectionError.
func (f *Fenrir) Query(ctx context.Context, input QueryInput) (*QueryOutput, error) {
	startTime := time.Now()
	stmt := input.SQL

	class, err := f.checkStatement(stmt)
	if err != nil {
		return nil, f.handleError("query", stmt, startTime, err)
	}
	if class != ReadOnly {
		return nil, f.handleError("query", stmt, startTime, rejectedError("only SELECT (or WITH ... SELECT) allowed"))
	}

	var (
		output      *QueryOutput
		timeoutRule string
	)
	err = f.withReadTx(ctx, func(tx *sql.Tx) error {
		queryCtx, cancel, rule := f.timeoutMgr.WithTimeout(ctx, stmt)
		defer cancel()
		timeoutRule = rule

		rows, err := tx.QueryContext(queryCtx, stmt)
		if err != nil {
			return f.executionError(err)
		}
		output, err = collectRows(rows, f.config.Query.RowLimit)
		if err != nil {
			return f.executionError(err)
		}
		return nil
	})
	if err != nil {
		return nil, f.handleError("query", stmt, startTime, err)
	}

	sanitized := f.sanitizer.HasRules()
	output.Rows = f.sanitizer.SanitizeRows(output.Rows)

	logEvent := f.logger.Info().
		Str("sql", truncateForLog(stmt, 200)).
		Dur("duration", time.Since(startTime)).
		Int("row_count", output.RowCount).
		Bool("truncated", output.Truncated)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	if sanitized {
		logEvent = logEvent.Bool("sanitized", true)
	}
	logEvent.Msg("query executed")

	return output, nil
}

// collectRows reads up to limit rows, then probes for one more to decide
// whether the result was truncated. The probe row is discarded.
func collectRows(rows *sql.Rows, limit int) (*QueryOutput, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if columns == nil {
		columns = []string{}
	}
	typeNames := make([]string, len(columns))
	if colTypes, err := rows.ColumnTypes(); err == nil {
		for i, ct := range colTypes {
			typeNames[i] = strings.ToUpper(ct.DatabaseTypeName())
		}
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	resultRows := make([][]any, 0)
	for len(resultRows) < limit && rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]any, len(columns))
		for i, v := range values {
			row[i] = convertValue(v, typeNames[i])
		}
		resultRows = append(resultRows, row)
	}

	truncated := false
	if len(resultRows) == limit {
		truncated = rows.Next()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &QueryOutput{
		Columns:   columns,
		Rows:      resultRows,
		RowCount:  len(resultRows),
		Truncated: truncated,
		RowLimit:  limit,
	}, nil
}

// convertValue converts a driver-returned value to a JSON-friendly Go type.
// dbType is the upper-cased database type name of the column, used where the
// driver hands back raw bytes.
func convertValue(v any, dbType string) any {
	switch val := v.(type) {
	case nil:
		return nil
	case time.Time:
		return val.Format(time.RFC3339Nano)
	case float32:
		return convertFloat(float64(val))
	case float64:
		return convertFloat(val)
	case string:
		if isJSONType(dbType) {
			if decoded, ok := decodeJSON([]byte(val)); ok {
				return decoded
			}
		}
		return val
	case []byte:
		return convertBytes(val, dbType)
	default:
		return val
	}
}

func convertFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return f
}

// convertBytes handles drivers that return text-protocol values as bytes.
// Numbers are parsed, JSON is decoded, other valid UTF-8 becomes a string and
// anything else is base64 encoded.
func convertBytes(b []byte, dbType string) any {
	base := strings.TrimPrefix(dbType, "UNSIGNED ")
	switch base {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if base != dbType {
			if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
				return n
			}
		} else if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE", "REAL":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return convertFloat(f)
		}
	}
	if isJSONType(dbType) {
		if decoded, ok := decodeJSON(b); ok {
			return decoded
		}
	}
	if utf8.Valid(b) {
		return string(b)
	}
	return base64.StdEncoding.EncodeToString(b)
}

func isJSONType(dbType string) bool {
	return dbType == "JSON" || dbType == "JSONB"
}

// decodeJSON decodes b keeping numbers exact as json.Number.
func decodeJSON(b []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return out, true
}
