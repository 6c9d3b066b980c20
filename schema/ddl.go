package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/syssam/pivot/dialect"
)

// Create emits CREATE TABLE statements for the given tables and executes
// them on the driver. It exists for tests and fixtures; production schema
// management belongs to a migration tool.
//
// Column types default to INTEGER for the primary key and foreign keys,
// TIMESTAMP for declared markers, and the column's own Type otherwise.
func Create(ctx context.Context, drv dialect.Driver, tables ...Table) error {
	for _, t := range tables {
		if err := t.Validate(); err != nil {
			return err
		}
		stmt, err := createStatement(t)
		if err != nil {
			return err
		}
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("schema: create table %q: %w", t.Name, err)
		}
	}
	return nil
}

// Drop removes the given tables, ignoring tables that do not exist.
// Tables are dropped in reverse declaration order so that referencing
// tables go before their referents.
func Drop(ctx context.Context, drv dialect.Driver, tables ...Table) error {
	for i := len(tables) - 1; i >= 0; i-- {
		t := tables[i]
		if !ValidColumn(t.Name) {
			return fmt.Errorf("schema: invalid table name %q", t.Name)
		}
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", t.Name)
		if err := drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			return fmt.Errorf("schema: drop table %q: %w", t.Name, err)
		}
	}
	return nil
}

func createStatement(t Table) (string, error) {
	var defs []string
	defs = append(defs, fmt.Sprintf("%s INTEGER PRIMARY KEY", t.IDColumn()))
	fks := make(map[string]struct{}, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		fks[fk.Column] = struct{}{}
	}
	for _, c := range t.Columns {
		typ := c.Type
		if typ == "" {
			if _, ok := fks[c.Name]; ok {
				typ = "INTEGER"
			} else {
				typ = "TEXT"
			}
		}
		defs = append(defs, fmt.Sprintf("%s %s", c.Name, typ))
	}
	for _, marker := range []string{t.CreatedAt, t.UpdatedAt, t.DeletedAt} {
		if marker != "" {
			defs = append(defs, fmt.Sprintf("%s TIMESTAMP NULL", marker))
		}
	}
	for _, u := range t.Uniques {
		defs = append(defs, fmt.Sprintf("UNIQUE (%s)", strings.Join(u, ", ")))
	}
	for _, fk := range t.ForeignKeys {
		defs = append(defs, fmt.Sprintf(
			"FOREIGN KEY (%s) REFERENCES %s (%s)",
			fk.Column, fk.RefTable, fk.RefColumn,
		))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", t.Name, strings.Join(defs, ", ")), nil
}
