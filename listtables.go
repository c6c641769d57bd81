package fenrir

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// ListTables returns every user table of the default schema with its current
// row count, sorted by name. Counts are taken one table at a time inside a
// single rolled-back transaction; they can be stale as soon as they return.
// Does NOT go through sanitization or error prompts.
func (f *Fenrir) ListTables(ctx context.Context) (*ListTablesOutput, error) {
	startTime := time.Now()

	var tables []TableSummary
	err := f.withReadTx(ctx, func(tx *sql.Tx) error {
		queryCtx, cancel, _ := f.timeoutMgr.WithTimeout(ctx, "")
		defer cancel()

		names, err := f.dialect.Tables(queryCtx, tx)
		if err != nil {
			return fmt.Errorf("ListTables: %w", err)
		}
		sort.Strings(names)

		tables = make([]TableSummary, 0, len(names))
		for _, name := range names {
			var count int64
			countSQL := "SELECT COUNT(*) FROM " + f.dialect.QuoteIdent(name)
			if err := tx.QueryRowContext(queryCtx, countSQL).Scan(&count); err != nil {
				return fmt.Errorf("ListTables: count %s: %w", name, err)
			}
			tables = append(tables, TableSummary{Name: name, RowCount: count})
		}
		return nil
	})
	if err != nil {
		return nil, f.handleError("list_tables", "", startTime, err)
	}

	f.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("ListTables executed")

	return &ListTablesOutput{Tables: tables}, nil
}
