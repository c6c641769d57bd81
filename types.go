package fenrir

// QueryInput is the input for Query.
type QueryInput struct {
	SQL string `json:"sql"`
}

// QueryOutput is the result of a read-only statement. len(Rows) == RowCount
// and RowCount <= RowLimit. Truncated is true only when at least one more row
// existed past the limit.
type QueryOutput struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
	RowLimit  int      `json:"row_limit"`
}

// ExecuteInput is the input for Execute.
type ExecuteInput struct {
	SQL string `json:"sql"`
}

// ExecuteOutput is the result of a mutating statement. AffectedRows is 0 when
// the driver does not report a count.
type ExecuteOutput struct {
	AffectedRows int64 `json:"affected_rows"`
}

// TableSummary is one entry of ListTables.
type TableSummary struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// ListTablesOutput is the output of ListTables, sorted by table name.
type ListTablesOutput struct {
	Tables []TableSummary `json:"tables"`
}

// ColumnInfo describes a single column. Type and Default are the backend's
// own display strings. Default is nil when the column has none.
type ColumnInfo struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default"`
}

// ForeignKeyInfo describes a single foreign key. Columns and ReferredColumns
// have equal length and pair up by position.
type ForeignKeyInfo struct {
	Columns         []string `json:"columns"`
	ReferredTable   string   `json:"referred_table"`
	ReferredColumns []string `json:"referred_columns"`
}

// IndexInfo describes a single index.
type IndexInfo struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableSchema is the structure of one table.
type TableSchema struct {
	Columns     []ColumnInfo     `json:"columns"`
	PrimaryKey  []string         `json:"primary_key"`
	ForeignKeys []ForeignKeyInfo `json:"foreign_keys"`
	Indexes     []IndexInfo      `json:"indexes"`
}

// DescribeSchemaOutput maps table name to its structure.
type DescribeSchemaOutput struct {
	Tables map[string]TableSchema `json:"tables"`
}

// IndexOutput is the body of GET /fenrir/. FenrirMD is null when no display
// document exists.
type IndexOutput struct {
	App      string         `json:"app"`
	FenrirMD *string        `json:"fenrir_md"`
	Tables   []TableSummary `json:"tables"`
}
