package fenrir

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/rickchristie/fenrir/internal/schema"
)

// DescribeSchema returns the columns, primary key, foreign keys and indexes
// of every user table. Tables are enumerated in name order; columns, foreign
// keys and indexes keep the order the backend reports them in.
// Does NOT go through sanitization or error prompts.
func (f *Fenrir) DescribeSchema(ctx context.Context) (*DescribeSchemaOutput, error) {
	startTime := time.Now()

	tables := make(map[string]TableSchema)
	err := f.withReadTx(ctx, func(tx *sql.Tx) error {
		queryCtx, cancel, _ := f.timeoutMgr.WithTimeout(ctx, "")
		defer cancel()

		names, err := f.dialect.Tables(queryCtx, tx)
		if err != nil {
			return fmt.Errorf("DescribeSchema: %w", err)
		}
		sort.Strings(names)

		for _, name := range names {
			t, err := f.describeTable(queryCtx, tx, name)
			if err != nil {
				return fmt.Errorf("DescribeSchema: table %s: %w", name, err)
			}
			tables[name] = t
		}
		return nil
	})
	if err != nil {
		return nil, f.handleError("describe_schema", "", startTime, err)
	}

	f.logger.Info().
		Dur("duration", time.Since(startTime)).
		Int("table_count", len(tables)).
		Msg("DescribeSchema executed")

	return &DescribeSchemaOutput{Tables: tables}, nil
}

func (f *Fenrir) describeTable(ctx context.Context, tx *sql.Tx, name string) (TableSchema, error) {
	cols, err := f.dialect.Columns(ctx, tx, name)
	if err != nil {
		return TableSchema{}, err
	}
	pk, err := f.dialect.PrimaryKey(ctx, tx, name)
	if err != nil {
		return TableSchema{}, err
	}
	fks, err := f.dialect.ForeignKeys(ctx, tx, name)
	if err != nil {
		return TableSchema{}, err
	}
	idxs, err := f.dialect.Indexes(ctx, tx, name)
	if err != nil {
		return TableSchema{}, err
	}

	t := TableSchema{
		Columns:     make([]ColumnInfo, 0, len(cols)),
		PrimaryKey:  nonNil(pk),
		ForeignKeys: make([]ForeignKeyInfo, 0, len(fks)),
		Indexes:     make([]IndexInfo, 0, len(idxs)),
	}
	for _, c := range cols {
		t.Columns = append(t.Columns, ColumnInfo(c))
	}
	for _, fk := range fks {
		t.ForeignKeys = append(t.ForeignKeys, mapForeignKey(fk))
	}
	for _, idx := range idxs {
		t.Indexes = append(t.Indexes, IndexInfo{
			Name:    idx.Name,
			Columns: nonNil(idx.Columns),
			Unique:  idx.Unique,
		})
	}
	return t, nil
}

func mapForeignKey(fk schema.ForeignKey) ForeignKeyInfo {
	return ForeignKeyInfo{
		Columns:         nonNil(fk.Columns),
		ReferredTable:   fk.RefTable,
		ReferredColumns: nonNil(fk.RefColumns),
	}
}

// nonNil keeps empty lists serialised as [] rather than null.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
