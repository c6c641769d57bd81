package fenrir

import (
	"context"
	"time"
)

// Execute runs a mutating statement in its own transaction and commits it.
//
// The statement must classify as Mutating, else ErrRejectedStatement. Any
// failure, commit included, leaves the transaction rolled back and is
// returned as *ExecutionError with the backend message verbatim.
func (f *Fenrir) Execute(ctx context.Context, input ExecuteInput) (*ExecuteOutput, error) {
	startTime := time.Now()
	sql := input.SQL

	class, err := f.checkStatement(sql)
	if err != nil {
		return nil, f.handleError("execute", sql, startTime, err)
	}
	if class != Mutating {
		return nil, f.handleError("execute", sql, startTime, rejectedError("SELECT (or WITH ... SELECT) not allowed; use query"))
	}

	release, err := f.acquireSlot(ctx)
	if err != nil {
		return nil, f.handleError("execute", sql, startTime, err)
	}
	defer release()

	queryCtx, cancel, timeoutRule := f.timeoutMgr.WithTimeout(ctx, sql)
	defer cancel()

	conn, err := f.db.Conn(queryCtx)
	if err != nil {
		return nil, f.handleError("execute", sql, startTime, &ConnectionError{Err: err})
	}
	defer conn.Close()

	tx, err := conn.BeginTx(queryCtx, nil)
	if err != nil {
		return nil, f.handleError("execute", sql, startTime, &ConnectionError{Err: err})
	}
	defer tx.Rollback() // no-op after a successful Commit

	result, err := tx.ExecContext(queryCtx, sql)
	if err != nil {
		return nil, f.handleError("execute", sql, startTime, f.executionError(err))
	}

	// Drivers that cannot report a count (or report a negative one) yield 0.
	var affected int64
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		affected = n
	}

	if err := tx.Commit(); err != nil {
		return nil, f.handleError("execute", sql, startTime, f.executionError(err))
	}

	logEvent := f.logger.Info().
		Str("sql", truncateForLog(sql, 200)).
		Dur("duration", time.Since(startTime)).
		Int64("affected_rows", affected)
	if timeoutRule != "" {
		logEvent = logEvent.Str("timeout_rule", timeoutRule)
	}
	logEvent.Msg("statement executed")

	return &ExecuteOutput{AffectedRows: affected}, nil
}
