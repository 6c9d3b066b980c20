// Package schema declares the table shape consumed by the pivot loader:
// table name, primary-key column, value columns, and the optional
// timestamp and soft-delete markers. Descriptors are pure metadata and
// carry no runtime state.
package schema

import (
	"fmt"
	"regexp"
)

// validIdentifierRe validates SQL identifiers (alphanumeric and underscores).
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidColumn reports whether the string is a usable SQL identifier.
func ValidColumn(s string) bool {
	return s != "" && len(s) <= 64 && validIdentifierRe.MatchString(s)
}

// A Column describes a single value column of a table.
type Column struct {
	// Name is the column name.
	Name string
	// Type is the DDL type used by Create, e.g. "TEXT" or "INTEGER".
	// It is ignored by the loader itself.
	Type string
}

// A ForeignKey declares that a column references another table's column.
// Used by Create to emit the constraint; the loader never follows it.
type ForeignKey struct {
	Column    string
	RefTable  string
	RefColumn string
}

// A Table describes the shape of a single table.
//
// ID is the table's own primary-key column. The loader reads record
// identity only through this column, qualified with the table name and
// aliased, so a key from another joined table can never be mistaken
// for it.
type Table struct {
	// Name is the table name.
	Name string
	// ID is the primary-key column. Defaults to "id" when empty.
	ID string
	// Columns are the value columns, excluding ID and the markers below.
	Columns []Column
	// CreatedAt / UpdatedAt name the timestamp columns, when present.
	// UpdatedAt is bumped automatically on save.
	CreatedAt string
	UpdatedAt string
	// DeletedAt names the soft-delete marker column, when present.
	// Rows with a non-NULL marker are excluded from loads.
	DeletedAt string
	// ForeignKeys and Uniques are declared constraints, consumed by Create.
	ForeignKeys []ForeignKey
	Uniques     [][]string
}

// IDColumn returns the primary-key column name, defaulting to "id".
func (t Table) IDColumn() string {
	if t.ID == "" {
		return "id"
	}
	return t.ID
}

// C returns the column name qualified with the table name.
func (t Table) C(column string) string {
	return t.Name + "." + column
}

// HasColumn reports whether the table declares the given value column.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// SelectColumns returns every column the loader projects for this table:
// the primary key first, then value columns, then declared timestamp and
// soft-delete markers.
func (t Table) SelectColumns() []string {
	cols := make([]string, 0, len(t.Columns)+4)
	cols = append(cols, t.IDColumn())
	for _, c := range t.Columns {
		cols = append(cols, c.Name)
	}
	for _, marker := range []string{t.CreatedAt, t.UpdatedAt, t.DeletedAt} {
		if marker != "" {
			cols = append(cols, marker)
		}
	}
	return cols
}

// Validate checks the descriptor for empty or malformed identifiers and
// duplicate columns. It is called once at loader construction.
func (t Table) Validate() error {
	if !ValidColumn(t.Name) {
		return fmt.Errorf("schema: invalid table name %q", t.Name)
	}
	seen := make(map[string]struct{}, len(t.Columns)+4)
	for _, col := range t.SelectColumns() {
		if !ValidColumn(col) {
			return fmt.Errorf("schema: table %q: invalid column name %q", t.Name, col)
		}
		if _, ok := seen[col]; ok {
			return fmt.Errorf("schema: table %q: duplicate column %q", t.Name, col)
		}
		seen[col] = struct{}{}
	}
	for _, fk := range t.ForeignKeys {
		if _, ok := seen[fk.Column]; !ok {
			return fmt.Errorf("schema: table %q: foreign key on undeclared column %q", t.Name, fk.Column)
		}
		if !ValidColumn(fk.RefTable) || !ValidColumn(fk.RefColumn) {
			return fmt.Errorf("schema: table %q: invalid foreign key reference %q.%q", t.Name, fk.RefTable, fk.RefColumn)
		}
	}
	for _, u := range t.Uniques {
		for _, col := range u {
			if _, ok := seen[col]; !ok {
				return fmt.Errorf("schema: table %q: unique constraint on undeclared column %q", t.Name, col)
			}
		}
	}
	return nil
}
