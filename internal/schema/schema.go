// Package schema holds the catalog types every dialect reports.
package schema

// Column represents a table column as reported by the catalog.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Default  *string // nil when the column has no default
}

// Index represents a secondary index. Primary key indexes are not reported.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey represents a foreign key constraint. Columns and RefColumns
// always have the same length.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string
}
